package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrScheduleExists is returned by ScheduleCreate when the schedule id is
	// already registered. Callers treating creation as idempotent swallow it.
	ErrScheduleExists = errors.New("schedule already exists")

	// ErrScheduleNotFound is returned when a schedule id is unknown.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrWorkflowAlreadyRunning is returned by StartWorkflow when an execution
	// with the same workflow id is still active. The scheduler relies on this
	// to never overlap recurring runs of the same project.
	ErrWorkflowAlreadyRunning = errors.New("workflow already running")
)

// ScheduleSpec describes a recurring trigger to register.
type ScheduleSpec struct {
	ScheduleID   string
	WorkflowType string
	WorkflowID   string
	TaskQueue    string
	CronExpr     string
	Args         json.RawMessage
}

// Schedule is the engine's view of a registered recurring trigger.
type Schedule struct {
	ScheduleID   string
	WorkflowType string
	WorkflowID   string
	TaskQueue    string
	CronExpr     string
	Paused       bool
	Note         string
	Args         json.RawMessage
	NextFireAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ScheduleDescription is the result of describing a schedule: the schedule
// itself plus its computed upcoming activation times. Paused schedules have no
// upcoming times.
type ScheduleDescription struct {
	Schedule        Schedule
	NextActionTimes []time.Time
}

// StartOptions configures a single workflow execution.
type StartOptions struct {
	TaskQueue  string
	WorkflowID string
	Args       json.RawMessage
}

// Client is the narrow contract the orchestration core holds against the
// durable workflow engine. Any durable-execution or job-queue system can stand
// behind it as long as it preserves at-most-one-active-execution-per-workflow-id
// and per-activity retry semantics.
type Client interface {
	ScheduleCreate(ctx context.Context, spec ScheduleSpec) error
	SchedulePause(ctx context.Context, scheduleID, note string) error
	ScheduleUnpause(ctx context.Context, scheduleID, note string) error
	// ScheduleUpdate applies a read-modify-write mutation against the current
	// schedule description.
	ScheduleUpdate(ctx context.Context, scheduleID string, mutate func(*Schedule) error) error
	ScheduleDescribe(ctx context.Context, scheduleID string) (*ScheduleDescription, error)
	// StartWorkflow registers a new execution and dispatches it to the task
	// queue. Returns the run id.
	StartWorkflow(ctx context.Context, workflowType string, opts StartOptions) (int64, error)
}

// RunStatus is the lifecycle state of one workflow execution.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "QUEUED"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// Run is one durable workflow execution.
type Run struct {
	ID           int64
	WorkflowID   string
	WorkflowType string
	TaskQueue    string
	Args         json.RawMessage
	Status       RunStatus
	Error        *string
	StartedAt    *time.Time
	FinishedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
