package config

// EventOutboxEnabled turns on the engine event outbox and its Pub/Sub dispatcher.
//
// Set via env:
// - ENABLE_EVENT_OUTBOX=true
func EventOutboxEnabled() bool {
	return boolFromEnv("ENABLE_EVENT_OUTBOX", false)
}

// SkipMigrations disables AutoMigrate on server startup (run migrations as a separate job).
//
// Set via env:
// - SKIP_MIGRATIONS=true
func SkipMigrations() bool {
	return boolFromEnv("SKIP_MIGRATIONS", false)
}

// MetricsEndpointEnabled exposes /metrics on the tool server (default true).
func MetricsEndpointEnabled() bool {
	return boolFromEnv("ENABLE_METRICS_ENDPOINT", true)
}
