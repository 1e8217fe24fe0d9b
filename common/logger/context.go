package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a
// context. Fields flow through context enrichment so sync code never has to
// repeat project_id / run_id on every log statement.
type LogFields struct {
	ProjectID  *int64  // project whose sync is being orchestrated
	RunID      *int64  // engine run id of the current workflow execution
	WorkflowID *string // workflow id (stable per project, suffixed for manual runs)
	ScheduleID *string // engine schedule id
	Entity     *string // sync entity currently being processed (issue/comment/worklog)
	MessageID  *string // Redis stream message ID
	Component  string  // component name, e.g. "syncd.engine.executor"
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
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

func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.ProjectID != nil {
		result.ProjectID = next.ProjectID
	}
	if next.RunID != nil {
		result.RunID = next.RunID
	}
	if next.WorkflowID != nil {
		result.WorkflowID = next.WorkflowID
	}
	if next.ScheduleID != nil {
		result.ScheduleID = next.ScheduleID
	}
	if next.Entity != nil {
		result.Entity = next.Entity
	}
	if next.MessageID != nil {
		result.MessageID = next.MessageID
	}
	if next.Component != "" {
		result.Component = next.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{ProjectID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like JQL queries or error messages.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
