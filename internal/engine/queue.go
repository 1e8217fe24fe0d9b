package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"trackmirror.app/syncd/common/logger"
)

// RunMessage is the wire form of a dispatched workflow run on the task stream.
type RunMessage struct {
	ID           string
	RunID        int64
	WorkflowType string
	TaskQueue    string
	Attempt      int
	TraceID      string
	Raw          redis.XMessage
}

type dispatcher struct {
	client *redis.Client
	stream string
}

func (d *dispatcher) Dispatch(ctx context.Context, msg RunMessage) error {
	attempt := msg.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	values := runMessageValues(msg, attempt)

	if err := d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: d.stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("dispatching run: %w", err)
	}

	slog.InfoContext(ctx, "run dispatched", "run_id", msg.RunID, "workflow_type", msg.WorkflowType, "task_queue", msg.TaskQueue, "attempt", attempt)
	return nil
}

type ConsumerConfig struct {
	Stream       string        // Redis stream name
	Group        string        // Redis consumer group name
	Consumer     string        // Redis consumer name
	DLQStream    string        // Dead letter stream for runs we give up on
	BatchSize    int64         // Messages to read per batch
	Block        time.Duration // How long to block waiting for new messages
	MaxAttempts  int           // Delivery attempts before moving a run to the DLQ
	RequeueDelay time.Duration // Delay before retrying a failed dispatch
}

type runConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
}

func newRunConsumer(client *redis.Client, cfg ConsumerConfig) (*runConsumer, error) {
	consumer := &runConsumer{
		client: client,
		cfg:    cfg,
	}

	if err := consumer.ensureGroup(context.Background()); err != nil { //nolint:contextcheck
		return nil, err
	}

	return consumer, nil
}

func (c *runConsumer) ensureGroup(ctx context.Context) error {
	// Consumer groups are just readers, messages live in the stream itself.
	// Starting from "0" instead of "$" means we don't lose runs that were
	// dispatched while no executor was up.
	if err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err(); err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

func (c *runConsumer) Read(ctx context.Context) ([]RunMessage, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "syncd.engine.consumer",
	})

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		// > = new messages not yet delivered to anyone. Unacked messages are
		// handled by the reclaimer on a separate goroutine.
		Streams: []string{c.cfg.Stream, ">"},
		Count:   c.cfg.BatchSize,
		Block:   c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []RunMessage{}, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var messages []RunMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			parsed, parseErr := parseRunMessage(msg)
			if parseErr != nil {
				slog.ErrorContext(ctx, "failed to parse run message",
					"error", parseErr,
					"raw_message_id", msg.ID,
					"stream", c.cfg.Stream)
				_ = c.Ack(ctx, RunMessage{ID: msg.ID, Raw: msg})
				continue
			}
			messages = append(messages, parsed)
		}
	}

	if len(messages) > 0 {
		slog.DebugContext(ctx, "read run messages from stream",
			"count", len(messages),
			"stream", c.cfg.Stream,
			"consumer", c.cfg.Consumer)
	}

	return messages, nil
}

func (c *runConsumer) Ack(ctx context.Context, msg RunMessage) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}

	slog.DebugContext(ctx, "run message acknowledged", "stream", c.cfg.Stream)
	return nil
}

func (c *runConsumer) Requeue(ctx context.Context, msg RunMessage, errMsg string) error {
	nextAttempt := msg.Attempt + 1

	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed run for requeue: %w", err)
	}

	values := runMessageValues(msg, nextAttempt)
	if errMsg != "" {
		values["last_error"] = errMsg
	}

	if c.cfg.RequeueDelay > 0 {
		time.Sleep(c.cfg.RequeueDelay)
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd requeue: %w", err)
	}

	slog.InfoContext(ctx, "run requeued for retry",
		"run_id", msg.RunID,
		"next_attempt", nextAttempt,
		"reason", errMsg)
	return nil
}

func (c *runConsumer) SendDLQ(ctx context.Context, msg RunMessage, errMsg string) error {
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed run for dlq: %w", err)
	}

	values := runMessageValues(msg, msg.Attempt)
	values["error"] = errMsg

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DLQStream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd dlq (stream=%s): %w", c.cfg.DLQStream, err)
	}

	slog.ErrorContext(ctx, "run sent to DLQ",
		"run_id", msg.RunID,
		"final_error", errMsg,
		"dlq_stream", c.cfg.DLQStream)
	return nil
}

func parseRunMessage(msg redis.XMessage) (RunMessage, error) {
	runID, err := parseInt64(msg.Values, "run_id")
	if err != nil {
		return RunMessage{}, err
	}

	workflowType, err := parseString(msg.Values, "workflow_type")
	if err != nil {
		return RunMessage{}, err
	}

	taskQueue, err := parseOptionalString(msg.Values, "task_queue")
	if err != nil {
		return RunMessage{}, err
	}
	traceID, err := parseOptionalString(msg.Values, "trace_id")
	if err != nil {
		return RunMessage{}, err
	}

	attempt, err := parseOptionalInt(msg.Values, "attempt")
	if err != nil {
		return RunMessage{}, err
	}
	if attempt == 0 {
		attempt = 1
	}

	return RunMessage{
		ID:           msg.ID,
		RunID:        runID,
		WorkflowType: workflowType,
		TaskQueue:    taskQueue,
		Attempt:      attempt,
		TraceID:      traceID,
		Raw:          msg,
	}, nil
}

func parseInt64(values map[string]any, key string) (int64, error) {
	raw, ok := values[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	str := fmt.Sprint(raw)
	num, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	str := fmt.Sprint(raw)
	num, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", nil
	}
	return fmt.Sprint(raw), nil
}

func runMessageValues(msg RunMessage, attempt int) map[string]any {
	values := map[string]any{
		"run_id":        msg.RunID,
		"workflow_type": msg.WorkflowType,
		"attempt":       attempt,
	}

	if msg.TaskQueue != "" {
		values["task_queue"] = msg.TaskQueue
	}
	if msg.TraceID != "" {
		values["trace_id"] = msg.TraceID
	}

	return values
}
