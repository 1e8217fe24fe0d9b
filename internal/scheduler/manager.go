// Package scheduler owns the mapping from a project to its engine-side
// schedule and drives every lifecycle operation against it.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"trackmirror.app/syncd/common/id"
	"trackmirror.app/syncd/common/logger"
	"trackmirror.app/syncd/core/config"
	"trackmirror.app/syncd/internal/engine"
	"trackmirror.app/syncd/internal/model"
	"trackmirror.app/syncd/internal/store"
	"trackmirror.app/syncd/internal/syncer"
)

// ErrJobNotFound is returned when an operation assumes a sync job that was
// never initialized.
var ErrJobNotFound = errors.New("sync job not found")

// WorkflowIDForProject derives the stable workflow id for a project's
// recurring sync. The derivation is the concurrency control: the engine keeps
// at most one active execution per workflow id, so scheduled runs for the same
// project never overlap.
func WorkflowIDForProject(projectID int64) string {
	return fmt.Sprintf("jira-sync-%d", projectID)
}

// ScheduleIDForProject derives the stable schedule id for a project.
func ScheduleIDForProject(projectID int64) string {
	return fmt.Sprintf("jira-sync-schedule-%d", projectID)
}

// TriggerOptions configures a manual sync run.
type TriggerOptions struct {
	Full       bool
	AccountIDs []string
}

// Manager drives schedule lifecycle operations. Engine failures propagate to
// the caller; the only error ever swallowed is "schedule already exists" on
// creation, which just means another initializer won the race.
type Manager struct {
	jobs   store.SyncJobStore
	states store.SyncStateStore
	logs   store.SyncLogStore
	client engine.Client
	cfg    config.SyncConfig
	now    func() time.Time
}

func NewManager(jobs store.SyncJobStore, states store.SyncStateStore, logs store.SyncLogStore, client engine.Client, cfg config.SyncConfig) *Manager {
	return &Manager{
		jobs:   jobs,
		states: states,
		logs:   logs,
		client: client,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Initialize ensures the project has a sync job, per-entity sync states, and a
// recurring schedule in the engine. Safe to call any number of times.
func (m *Manager) Initialize(ctx context.Context, projectID int64) (*model.SyncJob, error) {
	ctx = m.logCtx(ctx, projectID)

	job := &model.SyncJob{
		ID:         id.New(),
		ProjectID:  projectID,
		WorkflowID: WorkflowIDForProject(projectID),
		ScheduleID: ScheduleIDForProject(projectID),
		CronExpr:   m.cfg.DefaultCron,
		Status:     model.SyncJobStatusActive,
	}

	persisted, created, err := m.jobs.CreateIfAbsent(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("ensuring sync job: %w", err)
	}

	for _, entity := range model.AllSyncEntities {
		if err := m.states.Ensure(ctx, projectID, entity); err != nil {
			return nil, fmt.Errorf("ensuring %s sync state: %w", entity, err)
		}
	}

	args, err := json.Marshal(syncer.Args{ProjectID: projectID})
	if err != nil {
		return nil, fmt.Errorf("marshaling workflow args: %w", err)
	}

	err = m.client.ScheduleCreate(ctx, engine.ScheduleSpec{
		ScheduleID:   persisted.ScheduleID,
		WorkflowType: syncer.WorkflowType,
		WorkflowID:   persisted.WorkflowID,
		CronExpr:     persisted.CronExpr,
		Args:         args,
	})
	if err != nil && !errors.Is(err, engine.ErrScheduleExists) {
		return nil, fmt.Errorf("creating schedule: %w", err)
	}

	if err := m.RefreshNextRunTime(ctx, projectID); err != nil {
		return nil, err
	}

	if created {
		slog.InfoContext(ctx, "sync job initialized", "cron", persisted.CronExpr)
	}
	return persisted, nil
}

// Pause suspends the recurring schedule. The job must already exist.
func (m *Manager) Pause(ctx context.Context, projectID int64) error {
	ctx = m.logCtx(ctx, projectID)

	job, err := m.getJob(ctx, projectID)
	if err != nil {
		return err
	}

	if err := m.client.SchedulePause(ctx, job.ScheduleID, "paused by operator"); err != nil {
		return fmt.Errorf("pausing schedule: %w", err)
	}

	job.Status = model.SyncJobStatusPaused
	if err := m.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("persisting paused status: %w", err)
	}

	slog.InfoContext(ctx, "sync paused")
	return nil
}

// Resume reactivates the schedule, initializing the job first if it never
// existed.
func (m *Manager) Resume(ctx context.Context, projectID int64) error {
	ctx = m.logCtx(ctx, projectID)

	job, err := m.getOrInitJob(ctx, projectID)
	if err != nil {
		return err
	}

	if err := m.client.ScheduleUnpause(ctx, job.ScheduleID, "resumed by operator"); err != nil {
		return fmt.Errorf("unpausing schedule: %w", err)
	}

	job.Status = model.SyncJobStatusActive
	if err := m.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("persisting active status: %w", err)
	}

	if err := m.RefreshNextRunTime(ctx, projectID); err != nil {
		return err
	}

	slog.InfoContext(ctx, "sync resumed")
	return nil
}

// Reschedule changes the schedule's cron cadence via read-modify-write against
// the engine's current description, then persists the new cron locally.
func (m *Manager) Reschedule(ctx context.Context, projectID int64, cronExpr string) error {
	ctx = m.logCtx(ctx, projectID)

	if _, err := engine.ParseCron(cronExpr); err != nil {
		return err
	}

	job, err := m.getOrInitJob(ctx, projectID)
	if err != nil {
		return err
	}

	err = m.client.ScheduleUpdate(ctx, job.ScheduleID, func(sched *engine.Schedule) error {
		sched.CronExpr = cronExpr
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating schedule cron: %w", err)
	}

	job.CronExpr = cronExpr
	if err := m.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("persisting new cron: %w", err)
	}

	if err := m.RefreshNextRunTime(ctx, projectID); err != nil {
		return err
	}

	slog.InfoContext(ctx, "sync rescheduled", "cron", cronExpr)
	return nil
}

// TriggerManual starts a one-off sync execution outside the recurring
// schedule. The workflow id gets a timestamp suffix so the run does not
// collide with the schedule's own executions; a manual run may therefore
// overlap a scheduled one, which the idempotent mirror writes make safe.
func (m *Manager) TriggerManual(ctx context.Context, projectID int64, opts TriggerOptions) (int64, error) {
	ctx = m.logCtx(ctx, projectID)

	job, err := m.getOrInitJob(ctx, projectID)
	if err != nil {
		return 0, err
	}

	args, err := json.Marshal(syncer.Args{
		ProjectID:  projectID,
		FullResync: opts.Full,
		AccountIDs: opts.AccountIDs,
	})
	if err != nil {
		return 0, fmt.Errorf("marshaling workflow args: %w", err)
	}

	workflowID := fmt.Sprintf("%s-%d", job.WorkflowID, m.now().UnixMilli())
	runID, err := m.client.StartWorkflow(ctx, syncer.WorkflowType, engine.StartOptions{
		WorkflowID: workflowID,
		Args:       args,
	})
	if err != nil {
		return 0, fmt.Errorf("starting workflow: %w", err)
	}

	m.appendLog(ctx, projectID, "manual sync triggered", map[string]any{
		"workflow_id": workflowID,
		"full_resync": opts.Full,
		"account_ids": opts.AccountIDs,
	})

	slog.InfoContext(ctx, "manual sync triggered", "workflow_id", workflowID, "run_id", runID)
	return runID, nil
}

// RefreshNextRunTime reads the engine's computed upcoming activation times and
// caches the earliest strictly-future one on the job. No upcoming times (a
// paused schedule) caches null.
func (m *Manager) RefreshNextRunTime(ctx context.Context, projectID int64) error {
	job, err := m.getJob(ctx, projectID)
	if err != nil {
		return err
	}

	desc, err := m.client.ScheduleDescribe(ctx, job.ScheduleID)
	if err != nil {
		return fmt.Errorf("describing schedule: %w", err)
	}

	now := m.now()
	var next *time.Time
	for _, at := range desc.NextActionTimes {
		if !at.After(now) {
			continue
		}
		if next == nil || at.Before(*next) {
			next = logger.Ptr(at)
		}
	}

	if err := m.jobs.SetNextRunAt(ctx, projectID, next); err != nil {
		return fmt.Errorf("caching next run time: %w", err)
	}
	return nil
}

func (m *Manager) getJob(ctx context.Context, projectID int64) (*model.SyncJob, error) {
	job, err := m.jobs.GetByProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("loading sync job: %w", err)
	}
	return job, nil
}

func (m *Manager) getOrInitJob(ctx context.Context, projectID int64) (*model.SyncJob, error) {
	job, err := m.jobs.GetByProject(ctx, projectID)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("loading sync job: %w", err)
	}
	return m.Initialize(ctx, projectID)
}

func (m *Manager) appendLog(ctx context.Context, projectID int64, message string, detail map[string]any) {
	payload, err := json.Marshal(detail)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal sync log detail", "error", err)
		payload = nil
	}
	entry := &model.SyncLog{
		ID:        id.New(),
		ProjectID: projectID,
		Level:     model.SyncLogLevelInfo,
		Message:   message,
		Detail:    payload,
	}
	if err := m.logs.Append(ctx, entry); err != nil {
		slog.ErrorContext(ctx, "failed to append sync log", "error", err)
	}
}

func (m *Manager) logCtx(ctx context.Context, projectID int64) context.Context {
	return logger.WithLogFields(ctx, logger.LogFields{
		Component: "syncd.scheduler",
		ProjectID: logger.Ptr(projectID),
	})
}
