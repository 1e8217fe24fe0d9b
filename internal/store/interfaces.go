package store

import (
	"context"
	"errors"
	"time"

	"trackmirror.app/syncd/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ProjectStore defines the contract for project read access. Projects are
// owned by the surrounding platform; the orchestration core only reads them.
type ProjectStore interface {
	GetByID(ctx context.Context, id int64) (*model.Project, error)
	GetByKey(ctx context.Context, key string) (*model.Project, error)
}

// SyncJobStore defines the contract for sync job data access
type SyncJobStore interface {
	GetByProject(ctx context.Context, projectID int64) (*model.SyncJob, error)
	// CreateIfAbsent inserts the job unless the project already has one.
	// Returns the persisted row and whether this call created it.
	CreateIfAbsent(ctx context.Context, job *model.SyncJob) (*model.SyncJob, bool, error)
	Update(ctx context.Context, job *model.SyncJob) error
	SetNextRunAt(ctx context.Context, projectID int64, at *time.Time) error
	SetLastRunAt(ctx context.Context, projectID int64, at time.Time) error
}

// SyncStateStore defines the contract for per-entity sync state data access
type SyncStateStore interface {
	// Ensure creates the (project, entity) row if missing; no-op on conflict.
	Ensure(ctx context.Context, projectID int64, entity model.SyncEntity) error
	GetByProjectAndEntity(ctx context.Context, projectID int64, entity model.SyncEntity) (*model.SyncState, error)
	ListByProject(ctx context.Context, projectID int64) ([]model.SyncState, error)
	Advance(ctx context.Context, projectID int64, entity model.SyncEntity, syncedAt time.Time, status model.SyncStateStatus) error
}

// SyncLogStore defines the contract for the append-only sync audit trail
type SyncLogStore interface {
	Append(ctx context.Context, entry *model.SyncLog) error
	ListRecent(ctx context.Context, projectID int64, limit int32) ([]model.SyncLog, error)
}

// MirrorStore defines the contract for mirrored remote entities. All writes
// are upserts keyed by (project, remote id) so page replays are idempotent.
type MirrorStore interface {
	UpsertIssue(ctx context.Context, issue *model.Issue) error
	UpsertComment(ctx context.Context, comment *model.Comment) error
	UpsertWorklog(ctx context.Context, worklog *model.Worklog) error
	CountIssues(ctx context.Context, projectID int64) (int64, error)
}
