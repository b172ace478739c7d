package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, enabling zero-touch logging where business
// context (job_id, mode, etc.) is automatically included in all log statements.
type LogFields struct {
	JobID       *int64  // Research job ID
	CandidateID *int64  // Candidate ID produced by a job
	Mode        *string // Research mode (e.g., "news_pulse", "deep_dive")
	Provider    *string // LLM provider backing the job ("openai", "anthropic")
	EventKind   *string // Audit event kind (e.g., "job_queued", "budget_throttled")
	Component   string  // Component name (OTel semantic convention style, e.g., "scout.engine.scheduler")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

// mergeFields merges two LogFields, preferring non-nil/non-empty values from 'new'.
func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.JobID != nil {
		result.JobID = new.JobID
	}
	if new.CandidateID != nil {
		result.CandidateID = new.CandidateID
	}
	if new.Mode != nil {
		result.Mode = new.Mode
	}
	if new.Provider != nil {
		result.Provider = new.Provider
	}
	if new.EventKind != nil {
		result.EventKind = new.EventKind
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{JobID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like theses or error messages.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
