package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"trackmirror.app/syncd/common/logger"
	"trackmirror.app/syncd/internal/engine"
)

var (
	prepareOpts = engine.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		MaximumAttempts:     3,
		InitialInterval:     time.Second,
	}
	fetchPageOpts = engine.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		MaximumAttempts:     5,
		InitialInterval:     2 * time.Second,
	}
	finalizeOpts = engine.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		MaximumAttempts:     3,
		InitialInterval:     time.Second,
	}
)

// ActivitySet is the side-effecting surface the workflow drives. Satisfied by
// *Activities.
type ActivitySet interface {
	Prepare(ctx context.Context, args Args) (*SyncConfig, error)
	FetchPage(ctx context.Context, cfg *SyncConfig, cursor Cursor) (*PageResult, error)
	Finalize(ctx context.Context, projectID int64, lastUpdatedAt *time.Time, message string) error
	MarkFailed(ctx context.Context, projectID int64, syncErr error) error
}

// Workflow is the durable sync control loop. It owns no retry logic of its
// own; every side effect goes through an activity with a declared timeout and
// attempt ceiling, and the loop itself is sequential so each page's cursor
// depends on the page before it.
type Workflow struct {
	acts ActivitySet
}

func NewWorkflow(acts ActivitySet) *Workflow {
	return &Workflow{acts: acts}
}

// Run implements engine.WorkflowFunc.
func (w *Workflow) Run(ctx context.Context, rawArgs json.RawMessage) error {
	var args Args
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return fmt.Errorf("decoding sync args: %w", err)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "syncd.syncer.workflow",
		ProjectID: logger.Ptr(args.ProjectID),
	})

	cfg, err := engine.ExecuteActivity(ctx, prepareOpts, "prepare", func(ctx context.Context) (*SyncConfig, error) {
		return w.acts.Prepare(ctx, args)
	})
	if err != nil {
		return w.fail(ctx, args.ProjectID, err)
	}

	// No tracked accounts means there is nothing to search for. Finish clean
	// without ever touching the remote API.
	if len(cfg.AccountIDs) == 0 {
		slog.InfoContext(ctx, "no tracked accounts, nothing to sync")
		return w.finalize(ctx, args.ProjectID, cfg.Since, nil, "nothing to sync: no tracked accounts")
	}

	cursor := Cursor{Since: cfg.Since}
	hasMore := true
	pages := 0

	for hasMore {
		page, err := engine.ExecuteActivity(ctx, fetchPageOpts, "fetch_page", func(ctx context.Context) (*PageResult, error) {
			return w.acts.FetchPage(ctx, cfg, cursor)
		})
		if err != nil {
			return w.fail(ctx, args.ProjectID, err)
		}

		pages++
		hasMore = page.HasMore
		cursor = Cursor{
			NextPageToken: page.NextPageToken,
			Since:         cfg.Since,
			LastUpdatedAt: cursor.LastUpdatedAt,
		}
		if page.LastUpdatedAt != nil {
			cursor.LastUpdatedAt = page.LastUpdatedAt
		}
	}

	slog.InfoContext(ctx, "pagination complete", "pages", pages)
	return w.finalize(ctx, args.ProjectID, cfg.Since, cursor.LastUpdatedAt, "sync completed")
}

func (w *Workflow) finalize(ctx context.Context, projectID int64, since, lastUpdatedAt *time.Time, message string) error {
	watermark := lastUpdatedAt
	if watermark == nil {
		watermark = since
	}

	_, err := engine.ExecuteActivity(ctx, finalizeOpts, "finalize", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.acts.Finalize(ctx, projectID, watermark, message)
	})
	if err != nil {
		return w.fail(ctx, projectID, err)
	}
	return nil
}

// fail reports the failure through the mark-failed activity, then re-raises
// the original error so the engine records the execution itself as failed.
// Both sides must see it: the application's sync log and backoff state, and
// the engine's run history.
func (w *Workflow) fail(ctx context.Context, projectID int64, syncErr error) error {
	_, markErr := engine.ExecuteActivity(ctx, finalizeOpts, "mark_failed", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.acts.MarkFailed(ctx, projectID, syncErr)
	})
	if markErr != nil {
		slog.ErrorContext(ctx, "failed to record sync failure", "error", markErr)
	}
	return syncErr
}
