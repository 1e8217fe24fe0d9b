package model

import (
	"encoding/json"
	"time"
)

type SyncLogLevel string

const (
	SyncLogLevelInfo  SyncLogLevel = "INFO"
	SyncLogLevelWarn  SyncLogLevel = "WARN"
	SyncLogLevelError SyncLogLevel = "ERROR"
)

// SyncLog is one entry in the append-only audit trail of sync lifecycle events.
// Entries are never mutated or deleted by the orchestration core.
type SyncLog struct {
	ID        int64           `json:"id"`
	ProjectID int64           `json:"project_id"`
	Level     SyncLogLevel    `json:"level"`
	Message   string          `json:"message"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
