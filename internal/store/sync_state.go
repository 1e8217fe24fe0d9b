package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"trackmirror.app/syncd/common/id"
	"trackmirror.app/syncd/core/db"
	"trackmirror.app/syncd/internal/model"
)

type syncStateStore struct {
	q db.Querier
}

func newSyncStateStore(q db.Querier) SyncStateStore {
	return &syncStateStore{q: q}
}

const syncStateColumns = `id, project_id, entity, status, last_synced_at, created_at, updated_at`

func (s *syncStateStore) Ensure(ctx context.Context, projectID int64, entity model.SyncEntity) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO sync_states (id, project_id, entity)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, entity) DO NOTHING`,
		id.New(), projectID, entity,
	)
	return err
}

func (s *syncStateStore) GetByProjectAndEntity(ctx context.Context, projectID int64, entity model.SyncEntity) (*model.SyncState, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+syncStateColumns+` FROM sync_states WHERE project_id = $1 AND entity = $2`,
		projectID, entity,
	)
	return scanSyncState(row)
}

func (s *syncStateStore) ListByProject(ctx context.Context, projectID int64) ([]model.SyncState, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+syncStateColumns+` FROM sync_states WHERE project_id = $1 ORDER BY entity`,
		projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []model.SyncState
	for rows.Next() {
		st, err := scanSyncState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, *st)
	}
	return states, rows.Err()
}

func (s *syncStateStore) Advance(ctx context.Context, projectID int64, entity model.SyncEntity, syncedAt time.Time, status model.SyncStateStatus) error {
	_, err := s.q.Exec(ctx, `
		UPDATE sync_states
		SET last_synced_at = $3, status = $4, updated_at = now()
		WHERE project_id = $1 AND entity = $2`,
		projectID, entity, syncedAt, status,
	)
	return err
}

func scanSyncState(row pgx.Row) (*model.SyncState, error) {
	var st model.SyncState
	err := row.Scan(
		&st.ID,
		&st.ProjectID,
		&st.Entity,
		&st.Status,
		&st.LastSyncedAt,
		&st.CreatedAt,
		&st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}
