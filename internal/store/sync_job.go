package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"trackmirror.app/syncd/core/db"
	"trackmirror.app/syncd/internal/model"
)

type syncJobStore struct {
	q db.Querier
}

func newSyncJobStore(q db.Querier) SyncJobStore {
	return &syncJobStore{q: q}
}

const syncJobColumns = `id, project_id, workflow_id, schedule_id, cron_expr, status,
	last_run_at, next_run_at, backoff_level, backoff_original_cron, backoff_notified_at,
	created_at, updated_at`

func (s *syncJobStore) GetByProject(ctx context.Context, projectID int64) (*model.SyncJob, error) {
	row := s.q.QueryRow(ctx, `SELECT `+syncJobColumns+` FROM sync_jobs WHERE project_id = $1`, projectID)
	return scanSyncJob(row)
}

func (s *syncJobStore) CreateIfAbsent(ctx context.Context, job *model.SyncJob) (*model.SyncJob, bool, error) {
	// Insert races are resolved by the unique project_id constraint; the loser
	// reads back the winner's row.
	tag, err := s.q.Exec(ctx, `
		INSERT INTO sync_jobs (id, project_id, workflow_id, schedule_id, cron_expr, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (project_id) DO NOTHING`,
		job.ID, job.ProjectID, job.WorkflowID, job.ScheduleID, job.CronExpr, job.Status,
	)
	if err != nil {
		return nil, false, err
	}

	persisted, err := s.GetByProject(ctx, job.ProjectID)
	if err != nil {
		return nil, false, err
	}
	return persisted, tag.RowsAffected() > 0, nil
}

func (s *syncJobStore) Update(ctx context.Context, job *model.SyncJob) error {
	_, err := s.q.Exec(ctx, `
		UPDATE sync_jobs
		SET cron_expr = $2,
		    status = $3,
		    last_run_at = $4,
		    next_run_at = $5,
		    backoff_level = $6,
		    backoff_original_cron = $7,
		    backoff_notified_at = $8,
		    updated_at = now()
		WHERE project_id = $1`,
		job.ProjectID, job.CronExpr, job.Status, job.LastRunAt, job.NextRunAt,
		job.BackoffLevel, job.BackoffOriginalCron, job.BackoffNotifiedAt,
	)
	return err
}

func (s *syncJobStore) SetNextRunAt(ctx context.Context, projectID int64, at *time.Time) error {
	_, err := s.q.Exec(ctx, `
		UPDATE sync_jobs SET next_run_at = $2, updated_at = now() WHERE project_id = $1`,
		projectID, at,
	)
	return err
}

func (s *syncJobStore) SetLastRunAt(ctx context.Context, projectID int64, at time.Time) error {
	_, err := s.q.Exec(ctx, `
		UPDATE sync_jobs SET last_run_at = $2, updated_at = now() WHERE project_id = $1`,
		projectID, at,
	)
	return err
}

func scanSyncJob(row pgx.Row) (*model.SyncJob, error) {
	var j model.SyncJob
	err := row.Scan(
		&j.ID,
		&j.ProjectID,
		&j.WorkflowID,
		&j.ScheduleID,
		&j.CronExpr,
		&j.Status,
		&j.LastRunAt,
		&j.NextRunAt,
		&j.BackoffLevel,
		&j.BackoffOriginalCron,
		&j.BackoffNotifiedAt,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &j, nil
}
