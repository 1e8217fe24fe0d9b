package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"trackmirror.app/syncd/common/logger"
	"trackmirror.app/syncd/core/db"
)

const dueBatchSize = 50

// Scheduler fires due schedules. Several scheduler instances can run at once;
// the compare-and-set on next_fire_at guarantees each fire is claimed by
// exactly one of them.
type Scheduler struct {
	schedules *scheduleStore
	client    Client
	tick      time.Duration
	now       func() time.Time

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewScheduler(database *db.DB, client Client, tick time.Duration) *Scheduler {
	return &Scheduler{
		schedules: &scheduleStore{q: database.Pool()},
		client:    client,
		tick:      tick,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "syncd.engine.scheduler",
	})

	defer close(s.stoppedCh)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	slog.InfoContext(ctx, "scheduler started", "tick", s.tick)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			slog.InfoContext(ctx, "scheduler stopping")
			return
		case <-ticker.C:
			if err := s.fireDue(ctx); err != nil {
				slog.ErrorContext(ctx, "schedule fire cycle error", "error", err)
			}
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.stoppedCh
}

func (s *Scheduler) fireDue(ctx context.Context) error {
	due, err := s.schedules.ListDue(ctx, s.now(), dueBatchSize)
	if err != nil {
		return err
	}

	for _, sched := range due {
		if err := s.fireOne(ctx, sched); err != nil {
			slog.ErrorContext(ctx, "failed to fire schedule",
				"error", err,
				"schedule_id", sched.ScheduleID)
		}
	}

	return nil
}

func (s *Scheduler) fireOne(ctx context.Context, sched Schedule) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ScheduleID: logger.Ptr(sched.ScheduleID),
		WorkflowID: logger.Ptr(sched.WorkflowID),
	})

	cronSched, err := ParseCron(sched.CronExpr)
	if err != nil {
		return err
	}

	next := cronSched.Next(s.now())
	claimed, err := s.schedules.ClaimFire(ctx, sched.ScheduleID, *sched.NextFireAt, next)
	if err != nil {
		return err
	}
	if !claimed {
		// Another scheduler instance, or a concurrent reschedule, got here first.
		slog.DebugContext(ctx, "schedule fire already claimed")
		return nil
	}

	_, err = s.client.StartWorkflow(ctx, sched.WorkflowType, StartOptions{
		TaskQueue:  sched.TaskQueue,
		WorkflowID: sched.WorkflowID,
		Args:       sched.Args,
	})
	if err != nil {
		// The previous run is still going. Skipping this activation keeps at
		// most one execution in flight per workflow id.
		if errors.Is(err, ErrWorkflowAlreadyRunning) {
			slog.WarnContext(ctx, "skipping schedule fire, workflow still running")
			return nil
		}
		return err
	}

	slog.InfoContext(ctx, "schedule fired", "next_fire_at", next)
	return nil
}
