package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"trackmirror.app/syncd/common/logger"
)

// ActivityOptions carries the per-activity timeout and retry policy. Workflows
// never implement retry logic themselves; they declare a policy here and let
// the engine absorb transient faults.
type ActivityOptions struct {
	StartToCloseTimeout time.Duration
	MaximumAttempts     uint
	InitialInterval     time.Duration
}

// retryableError lets domain errors opt out of retries without the engine
// importing domain packages.
type retryableError interface {
	error
	Retryable() bool
}

// ExecuteActivity runs one retryable unit of work under the given policy.
// Each attempt gets its own start-to-close timeout; attempts are spaced by
// exponential backoff up to the attempt ceiling. Errors that report
// Retryable() == false stop the retry loop immediately.
func ExecuteActivity[T any](ctx context.Context, opts ActivityOptions, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "syncd.engine.activity"})

	attempt := 0
	operation := func() (T, error) {
		attempt++
		attemptCtx := ctx
		if opts.StartToCloseTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, opts.StartToCloseTimeout)
			defer cancel()
		}

		out, err := fn(attemptCtx)
		if err == nil {
			return out, nil
		}

		var re retryableError
		if errors.As(err, &re) && !re.Retryable() {
			slog.WarnContext(ctx, "activity failed with non-retryable error",
				"activity", name,
				"attempt", attempt,
				"error", err)
			return out, backoff.Permanent(err)
		}

		slog.WarnContext(ctx, "activity attempt failed",
			"activity", name,
			"attempt", attempt,
			"error", err)
		return out, err
	}

	b := backoff.NewExponentialBackOff()
	if opts.InitialInterval > 0 {
		b.InitialInterval = opts.InitialInterval
	}

	maxTries := opts.MaximumAttempts
	if maxTries == 0 {
		maxTries = 1
	}

	out, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(maxTries),
	)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("activity %s: %w", name, err)
	}
	return out, nil
}
