package model

import "time"

// Project is the orchestration core's read model of a tracked project: enough
// to build a remote search and to know which accounts are in scope. The full
// project aggregate (membership, billing, settings) lives outside this service.
type Project struct {
	ID                int64     `json:"id"`
	Key               string    `json:"key"`
	Name              string    `json:"name"`
	BaseURL           string    `json:"base_url"`
	APIToken          string    `json:"-"` // never expose tokens in API
	TrackedAccountIDs []string  `json:"tracked_account_ids"`
	Enabled           bool      `json:"enabled"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
