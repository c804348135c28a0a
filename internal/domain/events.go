package domain

import "time"

// Event types published on the write path. Read-side consumers drop their
// cached snapshots and dashboards re-fetch when they receive one.
const (
	EventPaymentPaid      = "payment.paid"
	EventIncomeCreated    = "income.created"
	EventSnapshotReady    = "snapshot.refreshed"
	EventManualInvalidate = "cache.invalidated"
)

// Event is an invalidation message from the write path to the read path.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Resource   string         `json:"resource,omitempty"`
	ResourceID string         `json:"resourceId,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Data       map[string]any `json:"data,omitempty"`
}
