// Package syncer holds the durable sync workflow and its activities: the
// control loop that mirrors a project's remote issues, comments, and worklogs
// into the local store one page at a time.
package syncer

import "time"

// WorkflowType is the registration key for the sync workflow.
const WorkflowType = "jira-sync"

// Args is the workflow payload. Scheduled runs carry only the project id;
// manual triggers may force a full resync or narrow the account set.
type Args struct {
	ProjectID  int64    `json:"project_id"`
	FullResync bool     `json:"full_resync,omitempty"`
	AccountIDs []string `json:"account_ids,omitempty"`
}

// SyncConfig is the prepare activity's result: everything the pagination loop
// needs to run without touching the project row again.
type SyncConfig struct {
	ProjectID  int64      `json:"project_id"`
	ProjectKey string     `json:"project_key"`
	BaseURL    string     `json:"base_url"`
	Token      string     `json:"-"`
	AccountIDs []string   `json:"account_ids"`
	Since      *time.Time `json:"since,omitempty"`
	PageSize   int        `json:"page_size"`
}

// Cursor is the pagination state threaded through the loop. It lives only for
// one workflow execution and is rebuilt on each iteration from the prior
// page's result.
type Cursor struct {
	NextPageToken *string    `json:"next_page_token,omitempty"`
	Since         *time.Time `json:"since,omitempty"`
	LastUpdatedAt *time.Time `json:"last_updated_at,omitempty"`
}

// PageResult is one page-fetch activity's outcome.
type PageResult struct {
	HasMore       bool       `json:"has_more"`
	NextPageToken *string    `json:"next_page_token,omitempty"`
	LastUpdatedAt *time.Time `json:"last_updated_at,omitempty"`
	IssueCount    int        `json:"issue_count"`
}
