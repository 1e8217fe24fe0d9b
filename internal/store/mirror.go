package store

import (
	"context"

	"trackmirror.app/syncd/common/id"
	"trackmirror.app/syncd/core/db"
	"trackmirror.app/syncd/internal/model"
)

type mirrorStore struct {
	q db.Querier
}

func newMirrorStore(q db.Querier) MirrorStore {
	return &mirrorStore{q: q}
}

func (s *mirrorStore) UpsertIssue(ctx context.Context, issue *model.Issue) error {
	if issue.ID == 0 {
		issue.ID = id.New()
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO issues (id, project_id, remote_id, issue_key, summary, status, assignee_account_id, remote_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (project_id, remote_id) DO UPDATE
		SET issue_key = EXCLUDED.issue_key,
		    summary = EXCLUDED.summary,
		    status = EXCLUDED.status,
		    assignee_account_id = EXCLUDED.assignee_account_id,
		    remote_updated_at = EXCLUDED.remote_updated_at,
		    updated_at = now()`,
		issue.ID, issue.ProjectID, issue.RemoteID, issue.Key, issue.Summary,
		issue.Status, issue.AssigneeAccountID, issue.RemoteUpdatedAt,
	)
	return err
}

func (s *mirrorStore) UpsertComment(ctx context.Context, comment *model.Comment) error {
	if comment.ID == 0 {
		comment.ID = id.New()
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO comments (id, project_id, remote_id, issue_remote_id, author_account_id, body, remote_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_id, remote_id) DO UPDATE
		SET author_account_id = EXCLUDED.author_account_id,
		    body = EXCLUDED.body,
		    remote_updated_at = EXCLUDED.remote_updated_at,
		    updated_at = now()`,
		comment.ID, comment.ProjectID, comment.RemoteID, comment.IssueRemoteID,
		comment.AuthorAccountID, comment.Body, comment.RemoteUpdatedAt,
	)
	return err
}

func (s *mirrorStore) UpsertWorklog(ctx context.Context, worklog *model.Worklog) error {
	if worklog.ID == 0 {
		worklog.ID = id.New()
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO worklogs (id, project_id, remote_id, issue_remote_id, author_account_id, time_spent_seconds, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_id, remote_id) DO UPDATE
		SET author_account_id = EXCLUDED.author_account_id,
		    time_spent_seconds = EXCLUDED.time_spent_seconds,
		    started_at = EXCLUDED.started_at,
		    updated_at = now()`,
		worklog.ID, worklog.ProjectID, worklog.RemoteID, worklog.IssueRemoteID,
		worklog.AuthorAccountID, worklog.TimeSpentSeconds, worklog.StartedAt,
	)
	return err
}

func (s *mirrorStore) CountIssues(ctx context.Context, projectID int64) (int64, error) {
	var count int64
	err := s.q.QueryRow(ctx, `SELECT count(*) FROM issues WHERE project_id = $1`, projectID).Scan(&count)
	return count, err
}
