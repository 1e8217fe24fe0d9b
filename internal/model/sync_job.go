package model

import "time"

// SyncJobStatus is the single source of truth consumers see for a project's sync.
type SyncJobStatus string

const (
	SyncJobStatusActive SyncJobStatus = "ACTIVE"
	SyncJobStatusPaused SyncJobStatus = "PAUSED"
	SyncJobStatusError  SyncJobStatus = "ERROR"
)

// SyncJob tracks one project's recurring sync: the engine identifiers, the
// current cron cadence, and the backoff escalation state. WorkflowID and
// ScheduleID are derived deterministically from the project id and never change
// after creation. Jobs are paused, never deleted.
type SyncJob struct {
	ID                  int64         `json:"id"`
	ProjectID           int64         `json:"project_id"`
	WorkflowID          string        `json:"workflow_id"`
	ScheduleID          string        `json:"schedule_id"`
	CronExpr            string        `json:"cron_expr"`
	Status              SyncJobStatus `json:"status"`
	LastRunAt           *time.Time    `json:"last_run_at,omitempty"`
	NextRunAt           *time.Time    `json:"next_run_at,omitempty"`
	BackoffLevel        int           `json:"backoff_level"`
	BackoffOriginalCron *string       `json:"backoff_original_cron,omitempty"`
	BackoffNotifiedAt   *time.Time    `json:"backoff_notified_at,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}
