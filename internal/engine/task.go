package engine

import (
	"context"
	"encoding/json"
	"time"
)

// TaskStatus represents the current status of a workflow task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting to be processed.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates the task is currently being processed.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed permanently.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusRetrying indicates the task failed and is being retried.
	TaskStatusRetrying TaskStatus = "retrying"
)

// Task is one durable execution of a workflow: a trigger (event or cron
// tick) bound to a workflow name, with delivery bookkeeping. The task ID is
// stable across retries, so step checkpoints recorded under it let a
// redelivered task resume instead of repeating completed steps.
type Task struct {
	// ID is the workflow instance identifier.
	ID string `json:"id"`

	// Workflow is the registered workflow name this task executes.
	Workflow string `json:"workflow"`

	// EventName is the triggering event name, empty for cron ticks.
	EventName string `json:"event_name,omitempty"`

	// Payload is the triggering event payload, nil for cron ticks.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Status is the current status of the task.
	Status TaskStatus `json:"status"`

	// Result is the handler's returned value, recorded on completion.
	Result json.RawMessage `json:"result,omitempty"`

	// Error contains error details if the task failed.
	Error string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// RetryCount is the number of times this task has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`
}

// TaskStore tracks task execution state so operators can inspect failed
// workflow instances.
type TaskStore interface {
	// SaveTask saves or updates a task's state.
	SaveTask(ctx context.Context, task *Task) error

	// GetTask retrieves a task by ID.
	GetTask(ctx context.Context, id string) (*Task, error)

	// ListTasks retrieves tasks with optional filtering.
	ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error)
}

// TaskFilter defines filtering criteria for listing tasks.
type TaskFilter struct {
	// Workflow filters tasks by workflow name.
	Workflow string

	// Status filters tasks by status.
	Status TaskStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
