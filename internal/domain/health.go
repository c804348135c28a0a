package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// PipelineMetrics is returned by GET /v1/metrics/pipeline.
type PipelineMetrics struct {
	Runs                 int64   `json:"runs"`
	FetchErrors          int64   `json:"fetchErrors"`
	DuplicatesDropped    int64   `json:"duplicatesDropped"`
	UnsupportedCurrency  int64   `json:"unsupportedCurrency"`
	StaleResultsRejected int64   `json:"staleResultsRejected"`
	CacheHitRate         float64 `json:"cacheHitRate"`
	Period               string  `json:"period"`
}

// SuccessResponse wraps a successful single-entity response.
type SuccessResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}
