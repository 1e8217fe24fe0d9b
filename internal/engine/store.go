package engine

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"trackmirror.app/syncd/core/db"
)

const pgUniqueViolation = "23505"

// scheduleStore persists engine schedules. This state belongs to the engine;
// the orchestration core only ever holds schedule ids.
type scheduleStore struct {
	q db.Querier
}

const scheduleColumns = `schedule_id, workflow_type, workflow_id, task_queue, cron_expr,
	paused, note, args, next_fire_at, created_at, updated_at`

func (s *scheduleStore) Create(ctx context.Context, sched *Schedule) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO engine_schedules (schedule_id, workflow_type, workflow_id, task_queue, cron_expr, paused, note, args, next_fire_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sched.ScheduleID, sched.WorkflowType, sched.WorkflowID, sched.TaskQueue,
		sched.CronExpr, sched.Paused, sched.Note, sched.Args, sched.NextFireAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrScheduleExists
		}
		return err
	}
	return nil
}

func (s *scheduleStore) Get(ctx context.Context, scheduleID string) (*Schedule, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+scheduleColumns+` FROM engine_schedules WHERE schedule_id = $1`,
		scheduleID,
	)
	return scanSchedule(row)
}

func (s *scheduleStore) Update(ctx context.Context, sched *Schedule) error {
	_, err := s.q.Exec(ctx, `
		UPDATE engine_schedules
		SET cron_expr = $2,
		    paused = $3,
		    note = $4,
		    args = $5,
		    next_fire_at = $6,
		    updated_at = now()
		WHERE schedule_id = $1`,
		sched.ScheduleID, sched.CronExpr, sched.Paused, sched.Note, sched.Args, sched.NextFireAt,
	)
	return err
}

// ListDue returns unpaused schedules whose next fire time has passed.
func (s *scheduleStore) ListDue(ctx context.Context, now time.Time, limit int) ([]Schedule, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM engine_schedules
		WHERE NOT paused AND next_fire_at IS NOT NULL AND next_fire_at <= $1
		ORDER BY next_fire_at
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *sched)
	}
	return schedules, rows.Err()
}

// ClaimFire advances next_fire_at from its previous value, but only if no
// other scheduler got there first. Returns true when this caller owns the
// fire. Single-row compare-and-set, no locks.
func (s *scheduleStore) ClaimFire(ctx context.Context, scheduleID string, prevFire, nextFire time.Time) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE engine_schedules
		SET next_fire_at = $3, updated_at = now()
		WHERE schedule_id = $1 AND next_fire_at = $2`,
		scheduleID, prevFire, nextFire,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var sched Schedule
	err := row.Scan(
		&sched.ScheduleID,
		&sched.WorkflowType,
		&sched.WorkflowID,
		&sched.TaskQueue,
		&sched.CronExpr,
		&sched.Paused,
		&sched.Note,
		&sched.Args,
		&sched.NextFireAt,
		&sched.CreatedAt,
		&sched.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}
	return &sched, nil
}

// runStore persists workflow executions.
type runStore struct {
	q db.Querier
}

const runColumns = `id, workflow_id, workflow_type, task_queue, args, status, error,
	started_at, finished_at, created_at, updated_at`

// Create inserts a QUEUED run. The partial unique index on active workflow ids
// turns a duplicate start into ErrWorkflowAlreadyRunning.
func (s *runStore) Create(ctx context.Context, run *Run) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO engine_runs (id, workflow_id, workflow_type, task_queue, args, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.WorkflowID, run.WorkflowType, run.TaskQueue, run.Args, run.Status,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrWorkflowAlreadyRunning
		}
		return err
	}
	return nil
}

func (s *runStore) Get(ctx context.Context, id int64) (*Run, error) {
	row := s.q.QueryRow(ctx, `SELECT `+runColumns+` FROM engine_runs WHERE id = $1`, id)

	var run Run
	err := row.Scan(
		&run.ID,
		&run.WorkflowID,
		&run.WorkflowType,
		&run.TaskQueue,
		&run.Args,
		&run.Status,
		&run.Error,
		&run.StartedAt,
		&run.FinishedAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.New("run not found")
		}
		return nil, err
	}
	return &run, nil
}

// MarkRunning is idempotent so a reclaimed run can be re-entered after a crash.
func (s *runStore) MarkRunning(ctx context.Context, id int64) error {
	_, err := s.q.Exec(ctx, `
		UPDATE engine_runs
		SET status = $2, started_at = COALESCE(started_at, now()), updated_at = now()
		WHERE id = $1`,
		id, RunStatusRunning,
	)
	return err
}

func (s *runStore) MarkCompleted(ctx context.Context, id int64) error {
	_, err := s.q.Exec(ctx, `
		UPDATE engine_runs
		SET status = $2, finished_at = now(), updated_at = now()
		WHERE id = $1`,
		id, RunStatusCompleted,
	)
	return err
}

func (s *runStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := s.q.Exec(ctx, `
		UPDATE engine_runs
		SET status = $2, error = $3, finished_at = now(), updated_at = now()
		WHERE id = $1`,
		id, RunStatusFailed, errMsg,
	)
	return err
}
