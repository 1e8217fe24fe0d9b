package model

import "time"

// SyncEntity is one of the remote entity kinds mirrored per project.
type SyncEntity string

const (
	SyncEntityIssue   SyncEntity = "issue"
	SyncEntityComment SyncEntity = "comment"
	SyncEntityWorklog SyncEntity = "worklog"
)

// AllSyncEntities lists every entity a project gets a SyncState row for.
var AllSyncEntities = []SyncEntity{SyncEntityIssue, SyncEntityComment, SyncEntityWorklog}

type SyncStateStatus string

const (
	SyncStateStatusIdle    SyncStateStatus = "IDLE"
	SyncStateStatusSynced  SyncStateStatus = "SYNCED"
	SyncStateStatusFailed  SyncStateStatus = "FAILED"
	SyncStateStatusSyncing SyncStateStatus = "SYNCING"
)

// SyncState tracks the last successful sync watermark for one (project, entity)
// pair. The workflow reads it to derive the incremental "since" bound and
// advances it on finalize.
type SyncState struct {
	ID           int64           `json:"id"`
	ProjectID    int64           `json:"project_id"`
	Entity       SyncEntity      `json:"entity"`
	Status       SyncStateStatus `json:"status"`
	LastSyncedAt *time.Time      `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
