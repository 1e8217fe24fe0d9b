package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"trackmirror.app/syncd/common/id"
	"trackmirror.app/syncd/common/logger"
	"trackmirror.app/syncd/core/config"
	"trackmirror.app/syncd/internal/backoff"
	"trackmirror.app/syncd/internal/jira"
	"trackmirror.app/syncd/internal/model"
	"trackmirror.app/syncd/internal/store"
)

// Activities are the retryable, side-effecting units the workflow drives.
// Every write is an upsert keyed by remote id, so the engine replaying an
// activity after a crash never duplicates mirrored rows.
type Activities struct {
	stores     *store.Stores
	remote     *jira.Client
	controller *backoff.Controller
	cfg        config.SyncConfig
	now        func() time.Time
}

func NewActivities(stores *store.Stores, remote *jira.Client, controller *backoff.Controller, cfg config.SyncConfig) *Activities {
	return &Activities{
		stores:     stores,
		remote:     remote,
		controller: controller,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Prepare resolves the project's sync configuration: tracked accounts, the
// incremental watermark, and remote credentials. A full resync drops the
// watermark so the search covers all history.
func (a *Activities) Prepare(ctx context.Context, args Args) (*SyncConfig, error) {
	project, err := a.stores.Projects().GetByID(ctx, args.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}

	accountIDs := args.AccountIDs
	if len(accountIDs) == 0 {
		accountIDs = project.TrackedAccountIDs
	}

	cfg := &SyncConfig{
		ProjectID:  project.ID,
		ProjectKey: project.Key,
		BaseURL:    project.BaseURL,
		Token:      project.APIToken,
		AccountIDs: accountIDs,
		PageSize:   a.cfg.PageSize,
	}

	if !args.FullResync {
		state, err := a.stores.SyncStates().GetByProjectAndEntity(ctx, args.ProjectID, model.SyncEntityIssue)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("loading sync state: %w", err)
		}
		if state != nil {
			cfg.Since = state.LastSyncedAt
		}
	}

	if err := a.stores.SyncJobs().SetLastRunAt(ctx, args.ProjectID, a.now()); err != nil {
		return nil, fmt.Errorf("recording run start: %w", err)
	}

	for _, entity := range model.AllSyncEntities {
		if err := a.markState(ctx, args.ProjectID, entity, model.SyncStateStatusSyncing, nil); err != nil {
			return nil, err
		}
	}

	slog.InfoContext(ctx, "sync prepared",
		"project_key", project.Key,
		"tracked_accounts", len(accountIDs),
		"full_resync", args.FullResync,
		"since", cfg.Since)
	return cfg, nil
}

// FetchPage retrieves one page of issues from the remote tracker and mirrors
// them together with their tracked-account comments and worklogs.
func (a *Activities) FetchPage(ctx context.Context, cfg *SyncConfig, cursor Cursor) (*PageResult, error) {
	pageToken := ""
	if cursor.NextPageToken != nil {
		pageToken = *cursor.NextPageToken
	}

	jql := buildJQL(cfg.ProjectKey, cursor.Since, cfg.AccountIDs)
	slog.DebugContext(ctx, "fetching page", "jql", logger.Truncate(jql, 200))

	page, err := a.remote.Search(ctx, jira.SearchParams{
		BaseURL:    cfg.BaseURL,
		Token:      cfg.Token,
		JQL:        jql,
		PageToken:  pageToken,
		MaxResults: cfg.PageSize,
	})
	if err != nil {
		return nil, err
	}

	tracked := make(map[string]struct{}, len(cfg.AccountIDs))
	for _, acct := range cfg.AccountIDs {
		tracked[acct] = struct{}{}
	}

	result := &PageResult{
		HasMore:       page.NextPageToken != nil,
		NextPageToken: page.NextPageToken,
		LastUpdatedAt: cursor.LastUpdatedAt,
		IssueCount:    len(page.Issues),
	}

	for _, remote := range page.Issues {
		if err := a.mirrorIssue(ctx, cfg.ProjectID, remote, tracked); err != nil {
			return nil, err
		}
		updated := remote.Fields.Updated.Time
		if result.LastUpdatedAt == nil || updated.After(*result.LastUpdatedAt) {
			result.LastUpdatedAt = &updated
		}
	}

	slog.InfoContext(ctx, "page mirrored",
		"issues", result.IssueCount,
		"has_more", result.HasMore)
	return result, nil
}

func (a *Activities) mirrorIssue(ctx context.Context, projectID int64, remote jira.RemoteIssue, tracked map[string]struct{}) error {
	issue := &model.Issue{
		ProjectID:       projectID,
		RemoteID:        remote.ID,
		Key:             remote.Key,
		Summary:         remote.Fields.Summary,
		Status:          remote.Fields.Status.Name,
		RemoteUpdatedAt: remote.Fields.Updated.Time,
	}
	if remote.Fields.Assignee != nil {
		issue.AssigneeAccountID = &remote.Fields.Assignee.AccountID
	}
	if err := a.stores.Mirror().UpsertIssue(ctx, issue); err != nil {
		return fmt.Errorf("upserting issue %s: %w", remote.Key, err)
	}

	for _, c := range remote.Fields.Comment.Comments {
		if c.Author == nil {
			continue
		}
		if _, ok := tracked[c.Author.AccountID]; !ok {
			continue
		}
		comment := &model.Comment{
			ProjectID:       projectID,
			RemoteID:        c.ID,
			IssueRemoteID:   remote.ID,
			AuthorAccountID: c.Author.AccountID,
			Body:            c.Body,
			RemoteUpdatedAt: c.Updated.Time,
		}
		if err := a.stores.Mirror().UpsertComment(ctx, comment); err != nil {
			return fmt.Errorf("upserting comment %s: %w", c.ID, err)
		}
	}

	for _, w := range remote.Fields.Worklog.Worklogs {
		if w.Author == nil {
			continue
		}
		if _, ok := tracked[w.Author.AccountID]; !ok {
			continue
		}
		worklog := &model.Worklog{
			ProjectID:        projectID,
			RemoteID:         w.ID,
			IssueRemoteID:    remote.ID,
			AuthorAccountID:  w.Author.AccountID,
			TimeSpentSeconds: w.TimeSpentSeconds,
			StartedAt:        w.Started.Time,
		}
		if err := a.stores.Mirror().UpsertWorklog(ctx, worklog); err != nil {
			return fmt.Errorf("upserting worklog %s: %w", w.ID, err)
		}
	}

	return nil
}

// Finalize advances every entity's watermark and reports the clean run to the
// backoff controller, restoring the original cadence if it was degraded.
func (a *Activities) Finalize(ctx context.Context, projectID int64, lastUpdatedAt *time.Time, message string) error {
	watermark := a.now()
	if lastUpdatedAt != nil {
		watermark = *lastUpdatedAt
	}

	for _, entity := range model.AllSyncEntities {
		if err := a.stores.SyncStates().Advance(ctx, projectID, entity, watermark, model.SyncStateStatusSynced); err != nil {
			return fmt.Errorf("advancing %s state: %w", entity, err)
		}
	}

	a.appendLog(ctx, projectID, model.SyncLogLevelInfo, message, map[string]any{
		"synced_until": watermark,
	})

	if err := a.controller.RecordSuccess(ctx, projectID); err != nil {
		return fmt.Errorf("recording success: %w", err)
	}

	slog.InfoContext(ctx, "sync finalized", "synced_until", watermark)
	return nil
}

// MarkFailed records a terminal failure: entity states flip to FAILED and the
// backoff controller degrades the cadence.
func (a *Activities) MarkFailed(ctx context.Context, projectID int64, syncErr error) error {
	for _, entity := range model.AllSyncEntities {
		if err := a.markState(ctx, projectID, entity, model.SyncStateStatusFailed, nil); err != nil {
			slog.ErrorContext(ctx, "failed to mark entity state failed", "error", err, "entity", entity)
		}
	}

	classification := classify(syncErr)
	return a.controller.RecordFailure(ctx, backoff.FailureEvent{
		ProjectID:      projectID,
		Classification: classification,
		Message:        syncErr.Error(),
	})
}

func (a *Activities) markState(ctx context.Context, projectID int64, entity model.SyncEntity, status model.SyncStateStatus, syncedAt *time.Time) error {
	state, err := a.stores.SyncStates().GetByProjectAndEntity(ctx, projectID, entity)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("loading %s state: %w", entity, err)
	}

	at := state.UpdatedAt
	if state.LastSyncedAt != nil {
		at = *state.LastSyncedAt
	}
	if syncedAt != nil {
		at = *syncedAt
	}
	if err := a.stores.SyncStates().Advance(ctx, projectID, entity, at, status); err != nil {
		return fmt.Errorf("updating %s state: %w", entity, err)
	}
	return nil
}

func (a *Activities) appendLog(ctx context.Context, projectID int64, level model.SyncLogLevel, message string, detail map[string]any) {
	entry := &model.SyncLog{
		ID:        id.New(),
		ProjectID: projectID,
		Level:     level,
		Message:   message,
		Detail:    marshalDetail(ctx, detail),
	}
	if err := a.stores.SyncLogs().Append(ctx, entry); err != nil {
		slog.ErrorContext(ctx, "failed to append sync log", "error", err)
	}
}

// classify reads the remote classification off the error chain, falling back
// to a non-retryable internal verdict for anything that isn't a remote fault.
func classify(err error) model.Classification {
	var remoteErr *jira.RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr.Classification
	}
	return model.Classification{
		Code:      "INTERNAL",
		Message:   err.Error(),
		Retryable: false,
		Severity:  model.SeverityError,
	}
}

// buildJQL assembles the incremental search query. Times are rendered in
// Jira's minute-precision JQL format, UTC.
func buildJQL(projectKey string, since *time.Time, accountIDs []string) string {
	clauses := []string{fmt.Sprintf("project = %q", projectKey)}

	if since != nil {
		clauses = append(clauses, fmt.Sprintf("updated >= %q", since.UTC().Format("2006-01-02 15:04")))
	}
	if len(accountIDs) > 0 {
		quoted := make([]string, len(accountIDs))
		for i, acct := range accountIDs {
			quoted[i] = fmt.Sprintf("%q", acct)
		}
		clauses = append(clauses, fmt.Sprintf("assignee in (%s)", strings.Join(quoted, ", ")))
	}

	return strings.Join(clauses, " AND ") + " ORDER BY updated ASC"
}

func marshalDetail(ctx context.Context, detail map[string]any) json.RawMessage {
	payload, err := json.Marshal(detail)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal sync log detail", "error", err)
		return nil
	}
	return payload
}
