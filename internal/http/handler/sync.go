package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"trackmirror.app/syncd/internal/engine"
	"trackmirror.app/syncd/internal/http/dto"
	"trackmirror.app/syncd/internal/model"
	"trackmirror.app/syncd/internal/scheduler"
	"trackmirror.app/syncd/internal/store"
)

const recentLogLimit = 20

// SyncManager drives sync lifecycle operations against the workflow engine.
type SyncManager interface {
	Initialize(ctx context.Context, projectID int64) (*model.SyncJob, error)
	Pause(ctx context.Context, projectID int64) error
	Resume(ctx context.Context, projectID int64) error
	Reschedule(ctx context.Context, projectID int64, cronExpr string) error
	TriggerManual(ctx context.Context, projectID int64, opts scheduler.TriggerOptions) (int64, error)
}

type SyncHandler struct {
	manager SyncManager
	jobs    store.SyncJobStore
	states  store.SyncStateStore
	logs    store.SyncLogStore
	mirror  store.MirrorStore
}

func NewSyncHandler(manager SyncManager, jobs store.SyncJobStore, states store.SyncStateStore, logs store.SyncLogStore, mirror store.MirrorStore) *SyncHandler {
	return &SyncHandler{
		manager: manager,
		jobs:    jobs,
		states:  states,
		logs:    logs,
		mirror:  mirror,
	}
}

func (h *SyncHandler) Initialize(c *gin.Context) {
	ctx := c.Request.Context()

	projectID, ok := projectIDParam(c)
	if !ok {
		return
	}

	job, err := h.manager.Initialize(ctx, projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.NewSyncJobResponse(job))
}

func (h *SyncHandler) Pause(c *gin.Context) {
	ctx := c.Request.Context()

	projectID, ok := projectIDParam(c)
	if !ok {
		return
	}

	if err := h.manager.Pause(ctx, projectID); err != nil {
		respondManagerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (h *SyncHandler) Resume(c *gin.Context) {
	ctx := c.Request.Context()

	projectID, ok := projectIDParam(c)
	if !ok {
		return
	}

	if err := h.manager.Resume(ctx, projectID); err != nil {
		respondManagerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

func (h *SyncHandler) Reschedule(c *gin.Context) {
	ctx := c.Request.Context()

	projectID, ok := projectIDParam(c)
	if !ok {
		return
	}

	var req dto.RescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.manager.Reschedule(ctx, projectID, req.Cron); err != nil {
		respondManagerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "rescheduled", "cron": req.Cron})
}

func (h *SyncHandler) Trigger(c *gin.Context) {
	ctx := c.Request.Context()

	projectID, ok := projectIDParam(c)
	if !ok {
		return
	}

	// An empty body means a plain incremental trigger.
	var req dto.TriggerSyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	runID, err := h.manager.TriggerManual(ctx, projectID, scheduler.TriggerOptions{
		Full:       req.Full,
		AccountIDs: req.AccountIDs,
	})
	if err != nil {
		if errors.Is(err, engine.ErrWorkflowAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "sync already running"})
			return
		}
		respondManagerError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.TriggerSyncResponse{RunID: runID})
}

func (h *SyncHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()

	projectID, ok := projectIDParam(c)
	if !ok {
		return
	}

	job, err := h.jobs.GetByProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "sync job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	states, err := h.states.ListByProject(ctx, projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	logs, err := h.logs.ListRecent(ctx, projectID, recentLogLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	issueCount, err := h.mirror.CountIssues(ctx, projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.SyncStatusResponse{
		Job:        dto.NewSyncJobResponse(job),
		States:     make([]dto.SyncStateResponse, 0, len(states)),
		RecentLogs: make([]dto.SyncLogResponse, 0, len(logs)),
		IssueCount: issueCount,
	}
	for _, state := range states {
		resp.States = append(resp.States, dto.SyncStateResponse{
			Entity:       string(state.Entity),
			Status:       string(state.Status),
			LastSyncedAt: state.LastSyncedAt,
		})
	}
	for _, entry := range logs {
		resp.RecentLogs = append(resp.RecentLogs, dto.SyncLogResponse{
			Level:     string(entry.Level),
			Message:   entry.Message,
			Detail:    decodeDetail(entry.Detail),
			CreatedAt: entry.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, resp)
}

func projectIDParam(c *gin.Context) (int64, bool) {
	projectID, err := strconv.ParseInt(c.Param("project_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return 0, false
	}
	return projectID, true
}

func respondManagerError(c *gin.Context, err error) {
	if errors.Is(err, scheduler.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "sync job not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func decodeDetail(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var detail any
	if err := json.Unmarshal(raw, &detail); err != nil {
		return string(raw)
	}
	return detail
}
