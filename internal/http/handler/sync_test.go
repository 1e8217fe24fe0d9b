package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"trackmirror.app/syncd/internal/engine"
	"trackmirror.app/syncd/internal/http/handler"
	"trackmirror.app/syncd/internal/http/router"
	"trackmirror.app/syncd/internal/model"
	"trackmirror.app/syncd/internal/scheduler"
	"trackmirror.app/syncd/internal/store"
)

var _ = Describe("SyncHandler", func() {
	var (
		ginRouter *gin.Engine
		manager *mockSyncManager
		jobs    *mockSyncJobStore
		states  *mockSyncStateStore
		logs    *mockSyncLogStore
		mirror  *mockMirrorStore
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		ginRouter = gin.New()
		manager = &mockSyncManager{}
		jobs = &mockSyncJobStore{}
		states = &mockSyncStateStore{}
		logs = &mockSyncLogStore{}
		mirror = &mockMirrorStore{}
		h := handler.NewSyncHandler(manager, jobs, states, logs, mirror)
		router.SyncRouter(ginRouter.Group("/projects/:project_id/sync"), h)
	})

	doRequest := func(method, path string, body []byte) *httptest.ResponseRecorder {
		var reader *bytes.Buffer
		if body != nil {
			reader = bytes.NewBuffer(body)
		} else {
			reader = bytes.NewBuffer(nil)
		}
		req := httptest.NewRequest(method, path, reader)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		w := httptest.NewRecorder()
		ginRouter.ServeHTTP(w, req)
		return w
	}

	Describe("Initialize", func() {
		It("returns the created job", func() {
			manager.initializeFn = func(_ context.Context, projectID int64) (*model.SyncJob, error) {
				return &model.SyncJob{
					ProjectID:  projectID,
					WorkflowID: "jira-sync-42",
					ScheduleID: "jira-sync-schedule-42",
					CronExpr:   "*/10 * * * *",
					Status:     model.SyncJobStatusActive,
				}, nil
			}

			w := doRequest(http.MethodPost, "/projects/42/sync/initialize", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["workflow_id"]).To(Equal("jira-sync-42"))
			Expect(resp["cron"]).To(Equal("*/10 * * * *"))
			Expect(resp["status"]).To(Equal("ACTIVE"))
		})

		It("rejects a non-numeric project id", func() {
			w := doRequest(http.MethodPost, "/projects/abc/sync/initialize", nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("Pause", func() {
		It("pauses the job", func() {
			var paused int64
			manager.pauseFn = func(_ context.Context, projectID int64) error {
				paused = projectID
				return nil
			}

			w := doRequest(http.MethodPost, "/projects/42/sync/pause", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(paused).To(Equal(int64(42)))
		})

		It("returns 404 when no job exists", func() {
			manager.pauseFn = func(context.Context, int64) error {
				return scheduler.ErrJobNotFound
			}

			w := doRequest(http.MethodPost, "/projects/42/sync/pause", nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("Reschedule", func() {
		It("passes the cron expression through", func() {
			var gotCron string
			manager.rescheduleFn = func(_ context.Context, _ int64, cronExpr string) error {
				gotCron = cronExpr
				return nil
			}

			body, _ := json.Marshal(map[string]string{"cron": "0 */2 * * *"})
			w := doRequest(http.MethodPost, "/projects/42/sync/reschedule", body)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(gotCron).To(Equal("0 */2 * * *"))
		})

		It("rejects a body without cron", func() {
			w := doRequest(http.MethodPost, "/projects/42/sync/reschedule", []byte(`{}`))
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("Trigger", func() {
		It("accepts an empty body as an incremental trigger", func() {
			var gotOpts scheduler.TriggerOptions
			manager.triggerManualFn = func(_ context.Context, _ int64, opts scheduler.TriggerOptions) (int64, error) {
				gotOpts = opts
				return 777, nil
			}

			w := doRequest(http.MethodPost, "/projects/42/sync/trigger", nil)

			Expect(w.Code).To(Equal(http.StatusAccepted))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["run_id"]).To(Equal("777"))
			Expect(gotOpts.Full).To(BeFalse())
			Expect(gotOpts.AccountIDs).To(BeEmpty())
		})

		It("forwards full resync and account filters", func() {
			var gotOpts scheduler.TriggerOptions
			manager.triggerManualFn = func(_ context.Context, _ int64, opts scheduler.TriggerOptions) (int64, error) {
				gotOpts = opts
				return 778, nil
			}

			body, _ := json.Marshal(map[string]any{
				"full":        true,
				"account_ids": []string{"acc-1", "acc-2"},
			})
			w := doRequest(http.MethodPost, "/projects/42/sync/trigger", body)

			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(gotOpts.Full).To(BeTrue())
			Expect(gotOpts.AccountIDs).To(Equal([]string{"acc-1", "acc-2"}))
		})

		It("returns 409 when a sync is already running", func() {
			manager.triggerManualFn = func(context.Context, int64, scheduler.TriggerOptions) (int64, error) {
				return 0, engine.ErrWorkflowAlreadyRunning
			}

			w := doRequest(http.MethodPost, "/projects/42/sync/trigger", nil)
			Expect(w.Code).To(Equal(http.StatusConflict))
		})
	})

	Describe("Status", func() {
		It("aggregates job, entity states, logs and issue count", func() {
			syncedAt := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
			jobs.getByProjectFn = func(_ context.Context, projectID int64) (*model.SyncJob, error) {
				return &model.SyncJob{ProjectID: projectID, WorkflowID: "jira-sync-42", CronExpr: "*/10 * * * *", Status: model.SyncJobStatusActive}, nil
			}
			states.listByProjectFn = func(context.Context, int64) ([]model.SyncState, error) {
				return []model.SyncState{
					{Entity: model.SyncEntityIssue, Status: model.SyncStateStatusSynced, LastSyncedAt: &syncedAt},
					{Entity: model.SyncEntityComment, Status: model.SyncStateStatusSynced, LastSyncedAt: &syncedAt},
				}, nil
			}
			logs.listRecentFn = func(_ context.Context, _ int64, limit int32) ([]model.SyncLog, error) {
				Expect(limit).To(Equal(int32(20)))
				return []model.SyncLog{
					{Level: model.SyncLogLevelInfo, Message: "sync completed", Detail: json.RawMessage(`{"synced_until":"2026-08-30T10:00:00Z"}`)},
				}, nil
			}
			mirror.countIssuesFn = func(context.Context, int64) (int64, error) {
				return 128, nil
			}

			w := doRequest(http.MethodGet, "/projects/42/sync/status", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["issue_count"]).To(Equal(float64(128)))
			Expect(resp["states"]).To(HaveLen(2))
			recent := resp["recent_logs"].([]any)
			Expect(recent).To(HaveLen(1))
			entry := recent[0].(map[string]any)
			Expect(entry["message"]).To(Equal("sync completed"))
			detail := entry["detail"].(map[string]any)
			Expect(detail["synced_until"]).To(Equal("2026-08-30T10:00:00Z"))
		})

		It("returns 404 when the project was never initialized", func() {
			jobs.getByProjectFn = func(context.Context, int64) (*model.SyncJob, error) {
				return nil, store.ErrNotFound
			}

			w := doRequest(http.MethodGet, "/projects/42/sync/status", nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("returns 500 when the mirror count fails", func() {
			jobs.getByProjectFn = func(_ context.Context, projectID int64) (*model.SyncJob, error) {
				return &model.SyncJob{ProjectID: projectID}, nil
			}
			mirror.countIssuesFn = func(context.Context, int64) (int64, error) {
				return 0, errors.New("connection reset")
			}

			w := doRequest(http.MethodGet, "/projects/42/sync/status", nil)
			Expect(w.Code).To(Equal(http.StatusInternalServerError))
		})
	})
})
