package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated on the context through a call chain.
const (
	FieldRequestID   = "request_id"
	FieldComponent   = "component"
	FieldWorkspaceID = "workspace_id"
	FieldRunID       = "run_id"
	FieldJobID       = "job_id"
	FieldArtifactID  = "artifact_id"
	FieldProvider    = "provider"
)

// Metric fields, attached per entry for aggregation.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSize       = "size"
	FieldStatus     = "status"
	FieldAttempts   = "attempts"
)
