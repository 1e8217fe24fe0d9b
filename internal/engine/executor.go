package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"trackmirror.app/syncd/common/logger"
	"trackmirror.app/syncd/core/db"
)

// Executor consumes dispatched runs from the task stream and drives the
// registered workflow functions. Many executors can share a consumer group;
// each run is delivered to exactly one of them.
type Executor struct {
	consumer *runConsumer
	runs     *runStore
	registry *Registry
	cfg      ConsumerConfig

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewExecutor(database *db.DB, redisClient *redis.Client, registry *Registry, cfg ConsumerConfig) (*Executor, error) {
	consumer, err := newRunConsumer(redisClient, cfg)
	if err != nil {
		return nil, err
	}

	return &Executor{
		consumer:  consumer,
		runs:      &runStore{q: database.Pool()},
		registry:  registry,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}, nil
}

func (e *Executor) Run(ctx context.Context) error {
	defer close(e.stoppedCh)

	slog.InfoContext(ctx, "executor started", "stream", e.cfg.Stream, "consumer", e.cfg.Consumer)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stopCh:
			slog.InfoContext(ctx, "executor stopping")
			return nil
		default:
			if err := e.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				time.Sleep(time.Second)
			}
		}
	}
}

func (e *Executor) Stop() {
	close(e.stopCh)
	<-e.stoppedCh
}

func (e *Executor) processOneBatch(ctx context.Context) error {
	messages, err := e.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		if err := e.executeSafe(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "run execution failed",
				"error", err,
				"message_id", msg.ID,
				"run_id", msg.RunID)
			e.handleFailedMessage(ctx, msg, err)
		}
	}

	return nil
}

func (e *Executor) executeSafe(ctx context.Context, msg RunMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in run execution",
				"panic", r,
				"message_id", msg.ID,
				"run_id", msg.RunID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.Execute(ctx, msg)
}

// Execute drives one dispatched run to a terminal state. Exported so it can be
// reused by the reclaimer.
func (e *Executor) Execute(ctx context.Context, msg RunMessage) error {
	sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "engine.execute_run", trace.WithSpanKind(trace.SpanKindConsumer))
	defer sc.End()
	ctx = sc.Context()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "syncd.engine.executor",
		RunID:     logger.Ptr(msg.RunID),
		MessageID: logger.Ptr(msg.ID),
	})

	run, err := e.runs.Get(ctx, msg.RunID)
	if err != nil {
		return fmt.Errorf("loading run: %w", err)
	}

	// A redelivered message for a finished run is a duplicate, not work.
	if run.Status == RunStatusCompleted || run.Status == RunStatusFailed {
		slog.InfoContext(ctx, "run already terminal, acknowledging duplicate", "status", run.Status)
		return e.consumer.Ack(ctx, msg)
	}

	workflowFn, err := e.registry.Lookup(run.WorkflowType)
	if err != nil {
		// No registration for this type means no amount of redelivery helps.
		if markErr := e.runs.MarkFailed(ctx, run.ID, err.Error()); markErr != nil {
			return fmt.Errorf("marking run failed: %w", markErr)
		}
		return e.consumer.Ack(ctx, msg)
	}

	if err := e.runs.MarkRunning(ctx, run.ID); err != nil {
		return fmt.Errorf("marking run running: %w", err)
	}

	slog.InfoContext(ctx, "executing run",
		"workflow_id", run.WorkflowID,
		"workflow_type", run.WorkflowType,
		"attempt", msg.Attempt)

	start := time.Now()
	wfErr := workflowFn(ctx, run.Args)

	// The workflow outcome is terminal either way. Retries happen inside the
	// workflow at the activity level, not by redelivering the whole run.
	if wfErr != nil {
		sc.RecordError(wfErr)
		slog.ErrorContext(ctx, "run failed",
			"error", wfErr,
			"workflow_id", run.WorkflowID,
			"duration_ms", time.Since(start).Milliseconds())
		if err := e.runs.MarkFailed(ctx, run.ID, wfErr.Error()); err != nil {
			return fmt.Errorf("marking run failed: %w", err)
		}
	} else {
		slog.InfoContext(ctx, "run completed",
			"workflow_id", run.WorkflowID,
			"duration_ms", time.Since(start).Milliseconds())
		if err := e.runs.MarkCompleted(ctx, run.ID); err != nil {
			return fmt.Errorf("marking run completed: %w", err)
		}
	}

	if err := e.consumer.Ack(ctx, msg); err != nil {
		// Log but don't fail, the reclaimer will see a terminal run and ack.
		slog.WarnContext(ctx, "failed to ACK run message", "error", err)
	}

	return nil
}

func (e *Executor) handleFailedMessage(ctx context.Context, msg RunMessage, err error) {
	if msg.Attempt >= e.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "max delivery attempts reached, sending run to DLQ",
			"message_id", msg.ID,
			"run_id", msg.RunID,
			"attempts", msg.Attempt)
		if dlqErr := e.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send run to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed run message",
		"message_id", msg.ID,
		"run_id", msg.RunID,
		"attempt", msg.Attempt)
	if requeueErr := e.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue run message", "error", requeueErr)
	}
}
