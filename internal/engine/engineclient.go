package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/trace"

	"trackmirror.app/syncd/common/id"
	"trackmirror.app/syncd/common/logger"
	"trackmirror.app/syncd/core/db"
)

// upcomingFireCount is how many future activation times ScheduleDescribe reports.
const upcomingFireCount = 5

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron validates a five-field cron expression and returns its schedule.
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing cron %q: %w", expr, err)
	}
	return sched, nil
}

// PostgresClient is the durable workflow engine behind the Client interface.
// Schedules and runs live in Postgres; dispatch rides a Redis stream so any
// executor in the group can pick a run up.
type PostgresClient struct {
	schedules  *scheduleStore
	runs       *runStore
	dispatcher *dispatcher
	taskQueue  string
	now        func() time.Time
}

func NewPostgresClient(database *db.DB, redisClient *redis.Client, stream, taskQueue string) *PostgresClient {
	return &PostgresClient{
		schedules:  &scheduleStore{q: database.Pool()},
		runs:       &runStore{q: database.Pool()},
		dispatcher: &dispatcher{client: redisClient, stream: stream},
		taskQueue:  taskQueue,
		now:        time.Now,
	}
}

func (c *PostgresClient) ScheduleCreate(ctx context.Context, spec ScheduleSpec) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component:  "syncd.engine.client",
		ScheduleID: logger.Ptr(spec.ScheduleID),
	})

	cronSched, err := ParseCron(spec.CronExpr)
	if err != nil {
		return err
	}

	next := cronSched.Next(c.now())
	sched := &Schedule{
		ScheduleID:   spec.ScheduleID,
		WorkflowType: spec.WorkflowType,
		WorkflowID:   spec.WorkflowID,
		TaskQueue:    spec.TaskQueue,
		CronExpr:     spec.CronExpr,
		Args:         spec.Args,
		NextFireAt:   &next,
	}
	if sched.TaskQueue == "" {
		sched.TaskQueue = c.taskQueue
	}

	if err := c.schedules.Create(ctx, sched); err != nil {
		return err
	}

	slog.InfoContext(ctx, "schedule created", "cron", spec.CronExpr, "next_fire_at", next)
	return nil
}

func (c *PostgresClient) SchedulePause(ctx context.Context, scheduleID, note string) error {
	return c.ScheduleUpdate(ctx, scheduleID, func(sched *Schedule) error {
		sched.Paused = true
		sched.Note = note
		return nil
	})
}

func (c *PostgresClient) ScheduleUnpause(ctx context.Context, scheduleID, note string) error {
	return c.ScheduleUpdate(ctx, scheduleID, func(sched *Schedule) error {
		sched.Paused = false
		sched.Note = note
		return nil
	})
}

func (c *PostgresClient) ScheduleUpdate(ctx context.Context, scheduleID string, mutate func(*Schedule) error) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component:  "syncd.engine.client",
		ScheduleID: logger.Ptr(scheduleID),
	})

	sched, err := c.schedules.Get(ctx, scheduleID)
	if err != nil {
		return err
	}

	prevCron := sched.CronExpr
	prevPaused := sched.Paused

	if err := mutate(sched); err != nil {
		return fmt.Errorf("mutating schedule: %w", err)
	}

	cronSched, err := ParseCron(sched.CronExpr)
	if err != nil {
		return err
	}

	// Recompute the fire time whenever the cadence changed or the schedule
	// came back from pause, so it doesn't fire off stale timing.
	if sched.CronExpr != prevCron || (prevPaused && !sched.Paused) || sched.NextFireAt == nil {
		next := cronSched.Next(c.now())
		sched.NextFireAt = &next
	}

	if err := c.schedules.Update(ctx, sched); err != nil {
		return fmt.Errorf("updating schedule: %w", err)
	}

	slog.InfoContext(ctx, "schedule updated", "cron", sched.CronExpr, "paused", sched.Paused, "note", sched.Note)
	return nil
}

func (c *PostgresClient) ScheduleDescribe(ctx context.Context, scheduleID string) (*ScheduleDescription, error) {
	sched, err := c.schedules.Get(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	desc := &ScheduleDescription{Schedule: *sched}
	if sched.Paused {
		return desc, nil
	}

	cronSched, err := ParseCron(sched.CronExpr)
	if err != nil {
		return nil, err
	}

	at := c.now()
	if sched.NextFireAt != nil && sched.NextFireAt.After(at) {
		at = sched.NextFireAt.Add(-time.Second)
	}
	for range upcomingFireCount {
		at = cronSched.Next(at)
		desc.NextActionTimes = append(desc.NextActionTimes, at)
	}
	return desc, nil
}

func (c *PostgresClient) StartWorkflow(ctx context.Context, workflowType string, opts StartOptions) (int64, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component:  "syncd.engine.client",
		WorkflowID: logger.Ptr(opts.WorkflowID),
	})

	// Producer side of the dispatch trace. The span's trace id rides on the
	// run message and the executor links its consumer span back to it.
	span := logger.StartSpan(ctx, "engine.start_workflow", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	ctx = span.Context()

	taskQueue := opts.TaskQueue
	if taskQueue == "" {
		taskQueue = c.taskQueue
	}

	run := &Run{
		ID:           id.New(),
		WorkflowID:   opts.WorkflowID,
		WorkflowType: workflowType,
		TaskQueue:    taskQueue,
		Args:         opts.Args,
		Status:       RunStatusQueued,
	}

	if err := c.runs.Create(ctx, run); err != nil {
		return 0, err
	}

	msg := RunMessage{
		RunID:        run.ID,
		WorkflowType: workflowType,
		TaskQueue:    taskQueue,
		Attempt:      1,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		msg.TraceID = sc.TraceID().String()
	}

	if err := c.dispatcher.Dispatch(ctx, msg); err != nil {
		span.RecordError(err)
		// The run row stays QUEUED; the reclaimer cannot see it because it was
		// never on the stream, so fail it here rather than leave it stranded.
		if markErr := c.runs.MarkFailed(ctx, run.ID, fmt.Sprintf("dispatch: %v", err)); markErr != nil {
			slog.ErrorContext(ctx, "failed to mark undispatched run", "error", markErr, "run_id", run.ID)
		}
		return 0, fmt.Errorf("dispatching workflow: %w", err)
	}

	return run.ID, nil
}
