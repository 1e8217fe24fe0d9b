package model

import "time"

// Issue is a mirrored remote issue. Rows are upserted by (project, remote id),
// so replaying a page after a crash is a no-op.
type Issue struct {
	ID                int64     `json:"id"`
	ProjectID         int64     `json:"project_id"`
	RemoteID          string    `json:"remote_id"`
	Key               string    `json:"key"`
	Summary           string    `json:"summary"`
	Status            string    `json:"status"`
	AssigneeAccountID *string   `json:"assignee_account_id,omitempty"`
	RemoteUpdatedAt   time.Time `json:"remote_updated_at"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Comment is a mirrored issue comment.
type Comment struct {
	ID              int64     `json:"id"`
	ProjectID       int64     `json:"project_id"`
	RemoteID        string    `json:"remote_id"`
	IssueRemoteID   string    `json:"issue_remote_id"`
	AuthorAccountID string    `json:"author_account_id"`
	Body            string    `json:"body"`
	RemoteUpdatedAt time.Time `json:"remote_updated_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Worklog is a mirrored issue worklog entry.
type Worklog struct {
	ID               int64     `json:"id"`
	ProjectID        int64     `json:"project_id"`
	RemoteID         string    `json:"remote_id"`
	IssueRemoteID    string    `json:"issue_remote_id"`
	AuthorAccountID  string    `json:"author_account_id"`
	TimeSpentSeconds int64     `json:"time_spent_seconds"`
	StartedAt        time.Time `json:"started_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
