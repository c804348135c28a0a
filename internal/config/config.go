package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string

	// Direct Postgres access. When set it replaces the PostgREST backend.
	DatabaseURL string

	// Auth: Supabase access tokens are HS256-signed with the project JWT secret.
	// Empty disables authentication on /v1.
	JWTSecret string

	CORSAllowedOrigins []string

	// Cash-flow engine
	ReportingCurrency   string
	USDRate             float64
	AverageWindowMonths int
	BalanceOrder        string // descending | chronological
	DedupStrategy       string // heuristic | linked

	// Background refresh, cron expression. Empty disables.
	RefreshSchedule string

	// CSV export archive (GCS). Empty bucket disables.
	ExportBucket          string
	ExportPrefix          string
	ExportCredentialsFile string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		JWTSecret: getEnv("SUPABASE_JWT_SECRET", ""),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		ReportingCurrency:   strings.ToUpper(getEnv("REPORTING_CURRENCY", "COP")),
		USDRate:             getEnvFloat("USD_RATE", 4000),
		AverageWindowMonths: getEnvInt("AVERAGE_WINDOW_MONTHS", 6),
		BalanceOrder:        getEnv("BALANCE_ORDER", "descending"),
		DedupStrategy:       getEnv("DEDUP_STRATEGY", "heuristic"),

		RefreshSchedule: getEnvRaw("REFRESH_SCHEDULE", "@every 5m"),

		ExportBucket:          getEnv("EXPORT_BUCKET", ""),
		ExportPrefix:          getEnv("EXPORT_PREFIX", "exports"),
		ExportCredentialsFile: getEnv("EXPORT_CREDENTIALS_FILE", ""),
	}
}

// UsePostgres reports whether the direct Postgres backend is configured.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// UseSupabase reports whether the PostgREST backend is configured.
func (c *Config) UseSupabase() bool {
	return !c.UsePostgres() && c.SupabaseURL != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvRaw distinguishes an unset variable from one set to "".
func getEnvRaw(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
