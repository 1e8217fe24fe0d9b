package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"trackmirror.app/syncd/core/db"
	"trackmirror.app/syncd/internal/model"
)

type projectStore struct {
	q db.Querier
}

func newProjectStore(q db.Querier) ProjectStore {
	return &projectStore{q: q}
}

const projectColumns = `id, key, name, base_url, api_token, tracked_account_ids, enabled, created_at, updated_at`

func (s *projectStore) GetByID(ctx context.Context, id int64) (*model.Project, error) {
	row := s.q.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	return scanProject(row)
}

func (s *projectStore) GetByKey(ctx context.Context, key string) (*model.Project, error) {
	row := s.q.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE key = $1`, key)
	return scanProject(row)
}

func scanProject(row pgx.Row) (*model.Project, error) {
	var p model.Project
	err := row.Scan(
		&p.ID,
		&p.Key,
		&p.Name,
		&p.BaseURL,
		&p.APIToken,
		&p.TrackedAccountIDs,
		&p.Enabled,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}
