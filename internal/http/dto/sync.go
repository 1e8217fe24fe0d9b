package dto

import (
	"time"

	"trackmirror.app/syncd/internal/model"
)

type RescheduleRequest struct {
	Cron string `json:"cron" binding:"required"`
}

type TriggerSyncRequest struct {
	Full       bool     `json:"full"`
	AccountIDs []string `json:"account_ids"`
}

type TriggerSyncResponse struct {
	RunID int64 `json:"run_id,string"`
}

type SyncJobResponse struct {
	ProjectID    int64      `json:"project_id"`
	WorkflowID   string     `json:"workflow_id"`
	ScheduleID   string     `json:"schedule_id"`
	Cron         string     `json:"cron"`
	Status       string     `json:"status"`
	BackoffLevel int        `json:"backoff_level"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	NextRunAt    *time.Time `json:"next_run_at,omitempty"`
}

type SyncStateResponse struct {
	Entity       string     `json:"entity"`
	Status       string     `json:"status"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

type SyncLogResponse struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Detail    any       `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type SyncStatusResponse struct {
	Job        SyncJobResponse     `json:"job"`
	States     []SyncStateResponse `json:"states"`
	RecentLogs []SyncLogResponse   `json:"recent_logs"`
	IssueCount int64               `json:"issue_count"`
}

func NewSyncJobResponse(job *model.SyncJob) SyncJobResponse {
	return SyncJobResponse{
		ProjectID:    job.ProjectID,
		WorkflowID:   job.WorkflowID,
		ScheduleID:   job.ScheduleID,
		Cron:         job.CronExpr,
		Status:       string(job.Status),
		BackoffLevel: job.BackoffLevel,
		LastRunAt:    job.LastRunAt,
		NextRunAt:    job.NextRunAt,
	}
}
