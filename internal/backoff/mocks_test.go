package backoff_test

import (
	"context"
	"time"

	"trackmirror.app/syncd/internal/model"
	"trackmirror.app/syncd/internal/notify"
)

type mockSyncJobStore struct {
	getByProjectFn   func(ctx context.Context, projectID int64) (*model.SyncJob, error)
	createIfAbsentFn func(ctx context.Context, job *model.SyncJob) (*model.SyncJob, bool, error)
	updateFn         func(ctx context.Context, job *model.SyncJob) error
	setNextRunAtFn   func(ctx context.Context, projectID int64, at *time.Time) error
	setLastRunAtFn   func(ctx context.Context, projectID int64, at time.Time) error
}

func (m *mockSyncJobStore) GetByProject(ctx context.Context, projectID int64) (*model.SyncJob, error) {
	if m.getByProjectFn != nil {
		return m.getByProjectFn(ctx, projectID)
	}
	return nil, nil
}

func (m *mockSyncJobStore) CreateIfAbsent(ctx context.Context, job *model.SyncJob) (*model.SyncJob, bool, error) {
	if m.createIfAbsentFn != nil {
		return m.createIfAbsentFn(ctx, job)
	}
	return job, true, nil
}

func (m *mockSyncJobStore) Update(ctx context.Context, job *model.SyncJob) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, job)
	}
	return nil
}

func (m *mockSyncJobStore) SetNextRunAt(ctx context.Context, projectID int64, at *time.Time) error {
	if m.setNextRunAtFn != nil {
		return m.setNextRunAtFn(ctx, projectID, at)
	}
	return nil
}

func (m *mockSyncJobStore) SetLastRunAt(ctx context.Context, projectID int64, at time.Time) error {
	if m.setLastRunAtFn != nil {
		return m.setLastRunAtFn(ctx, projectID, at)
	}
	return nil
}

type mockSyncLogStore struct {
	appendFn     func(ctx context.Context, entry *model.SyncLog) error
	listRecentFn func(ctx context.Context, projectID int64, limit int32) ([]model.SyncLog, error)
}

func (m *mockSyncLogStore) Append(ctx context.Context, entry *model.SyncLog) error {
	if m.appendFn != nil {
		return m.appendFn(ctx, entry)
	}
	return nil
}

func (m *mockSyncLogStore) ListRecent(ctx context.Context, projectID int64, limit int32) ([]model.SyncLog, error) {
	if m.listRecentFn != nil {
		return m.listRecentFn(ctx, projectID, limit)
	}
	return nil, nil
}

type mockRescheduler struct {
	rescheduleFn func(ctx context.Context, projectID int64, cronExpr string) error
}

func (m *mockRescheduler) Reschedule(ctx context.Context, projectID int64, cronExpr string) error {
	if m.rescheduleFn != nil {
		return m.rescheduleFn(ctx, projectID, cronExpr)
	}
	return nil
}

type mockNotifier struct {
	sendFn func(ctx context.Context, msg notify.Message) error
}

func (m *mockNotifier) Send(ctx context.Context, msg notify.Message) error {
	if m.sendFn != nil {
		return m.sendFn(ctx, msg)
	}
	return nil
}
