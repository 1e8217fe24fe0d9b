package store

import (
	"context"

	"trackmirror.app/syncd/common/id"
	"trackmirror.app/syncd/core/db"
	"trackmirror.app/syncd/internal/model"
)

type syncLogStore struct {
	q db.Querier
}

func newSyncLogStore(q db.Querier) SyncLogStore {
	return &syncLogStore{q: q}
}

func (s *syncLogStore) Append(ctx context.Context, entry *model.SyncLog) error {
	if entry.ID == 0 {
		entry.ID = id.New()
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO sync_logs (id, project_id, level, message, detail)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.ProjectID, entry.Level, entry.Message, entry.Detail,
	)
	return err
}

func (s *syncLogStore) ListRecent(ctx context.Context, projectID int64, limit int32) ([]model.SyncLog, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, project_id, level, message, detail, created_at
		FROM sync_logs
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		projectID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.SyncLog
	for rows.Next() {
		var e model.SyncLog
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Level, &e.Message, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
