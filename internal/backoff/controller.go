package backoff

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
	"trackmirror.app/syncd/internal/model"
	"trackmirror.app/syncd/internal/notify"
	"trackmirror.app/syncd/internal/store"
)

// Rescheduler changes the engine-side cron cadence for a project. Implemented
// by the schedule manager; declared here to keep the dependency one-way.
type Rescheduler interface {
	Reschedule(ctx context.Context, projectID int64, cronExpr string) error
}

// FailureEvent is one terminal sync failure reported to the controller.
type FailureEvent struct {
	ProjectID      int64
	Classification model.Classification
	Message        string
	Detail         map[string]any
}

// Controller observes terminal sync outcomes. Failures walk the cron ladder
// one step at a time; the next success restores the original cadence in a
// single step. Alerts fire only when the level actually increases, never on a
// repeated failure at the same plateau.
type Controller struct {
	jobs      store.SyncJobStore
	logs      store.SyncLogStore
	scheduler Rescheduler
	notifier  notify.Notifier
	cfg       config.NotifyConfig
	now       func() time.Time
}

func NewController(jobs store.SyncJobStore, logs store.SyncLogStore, scheduler Rescheduler, notifier notify.Notifier, cfg config.NotifyConfig) *Controller {
	return &Controller{
		jobs:      jobs,
		logs:      logs,
		scheduler: scheduler,
		notifier:  notifier,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (c *Controller) RecordFailure(ctx context.Context, ev FailureEvent) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "syncd.backoff",
		ProjectID: logger.Ptr(ev.ProjectID),
	})

	job, err := c.jobs.GetByProject(ctx, ev.ProjectID)
	if err != nil {
		// A failure for a project we never set up is an operational smell,
		// not a reason to create a job retroactively.
		if errors.Is(err, store.ErrNotFound) {
			slog.ErrorContext(ctx, "sync failure for project without a sync job", "code", ev.Classification.Code)
			return nil
		}
		return fmt.Errorf("loading sync job: %w", err)
	}

	// The original cadence is captured once, at the first escalation, and
	// carried until the streak ends.
	originalCron := job.CronExpr
	if job.BackoffOriginalCron != nil {
		originalCron = *job.BackoffOriginalCron
	}

	ladder := Ladder(originalCron)
	prevLevel := job.BackoffLevel
	level := prevLevel + 1
	if level > len(ladder)-1 {
		level = len(ladder) - 1
	}
	newCron := ladder[level]
	escalated := level > prevLevel

	job.Status = model.SyncJobStatusError
	job.BackoffLevel = level
	job.BackoffOriginalCron = &originalCron
	previousCron := job.CronExpr
	job.CronExpr = newCron
	if escalated {
		job.BackoffNotifiedAt = logger.Ptr(c.now())
	}

	if err := c.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("persisting backoff state: %w", err)
	}

	if newCron != previousCron {
		if err := c.scheduler.Reschedule(ctx, ev.ProjectID, newCron); err != nil {
			return fmt.Errorf("rescheduling to backoff cadence: %w", err)
		}
	}

	detail := map[string]any{
		"code":      ev.Classification.Code,
		"retryable": ev.Classification.Retryable,
		"cron":      newCron,
		"level":     level,
	}
	for k, v := range ev.Detail {
		detail[k] = v
	}
	c.appendLog(ctx, ev.ProjectID, model.SyncLogLevelError,
		fmt.Sprintf("sync failed: %s", ev.Message), detail)

	if escalated {
		c.sendEscalationAlert(ctx, ev, newCron, level)
	}

	slog.WarnContext(ctx, "sync cadence degraded",
		"code", ev.Classification.Code,
		"level", level,
		"cron", newCron,
		"escalated", escalated)
	return nil
}

func (c *Controller) RecordSuccess(ctx context.Context, projectID int64) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "syncd.backoff",
		ProjectID: logger.Ptr(projectID),
	})

	job, err := c.jobs.GetByProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("loading sync job: %w", err)
	}

	if job.BackoffLevel == 0 {
		return nil
	}

	restoredCron := job.CronExpr
	if job.BackoffOriginalCron != nil {
		restoredCron = *job.BackoffOriginalCron
	}
	needsReschedule := restoredCron != job.CronExpr

	job.CronExpr = restoredCron
	job.Status = model.SyncJobStatusActive
	job.BackoffLevel = 0
	job.BackoffOriginalCron = nil
	job.BackoffNotifiedAt = nil

	if err := c.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("persisting restored cadence: %w", err)
	}

	if needsReschedule {
		if err := c.scheduler.Reschedule(ctx, projectID, restoredCron); err != nil {
			return fmt.Errorf("rescheduling to original cadence: %w", err)
		}
	}

	c.appendLog(ctx, projectID, model.SyncLogLevelInfo,
		"sync recovered, cadence restored", map[string]any{"cron": restoredCron})

	slog.InfoContext(ctx, "sync cadence restored", "cron", restoredCron)
	return nil
}

func (c *Controller) appendLog(ctx context.Context, projectID int64, level model.SyncLogLevel, message string, detail map[string]any) {
	payload, err := json.Marshal(detail)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal sync log detail", "error", err)
		payload = nil
	}

	entry := &model.SyncLog{
		ID:        id.New(),
		ProjectID: projectID,
		Level:     level,
		Message:   message,
		Detail:    payload,
	}
	if err := c.logs.Append(ctx, entry); err != nil {
		slog.ErrorContext(ctx, "failed to append sync log", "error", err)
	}
}

func (c *Controller) sendEscalationAlert(ctx context.Context, ev FailureEvent, cron string, level int) {
	subject := fmt.Sprintf("Sync backoff escalated for project %d", ev.ProjectID)
	text := fmt.Sprintf(
		"Project %d sync is failing (%s: %s).\n"+
			"Cadence degraded to level %d, schedule %q.\n"+
			"The original cadence is restored automatically after the next clean run.",
		ev.ProjectID, ev.Classification.Code, ev.Classification.Message, level, cron,
	)

	msg := notify.Message{
		Channel: notify.Channel(c.cfg.AlertChannel),
		To:      c.cfg.AlertRecipients,
		Subject: subject,
		Text:    text,
	}
	if err := c.notifier.Send(ctx, msg); err != nil {
		// Fire and forget. A lost alert never fails the failure handling.
		slog.ErrorContext(ctx, "failed to send backoff alert", "error", err)
	}
}
