package workqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Task is the interface that all work queue tasks must implement.
type Task interface {
	// ID returns a unique identifier for this task.
	ID() string

	// Name returns a human-readable name for logs and status endpoints.
	Name() string

	// RequiresAI returns true if this task calls the AI provider. AI tasks
	// are subject to the queue's AI concurrency strategy.
	RequiresAI() bool

	// Execute runs the task. The enqueuer allows the task to schedule
	// follow-up tasks.
	Execute(ctx context.Context, enqueuer TaskEnqueuer) error
}

// TaskEnqueuer allows tasks to enqueue follow-up tasks.
type TaskEnqueuer interface {
	Enqueue(task Task)
}

// TaskState holds the runtime state of a task.
type TaskState struct {
	Task        Task
	Status      TaskStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       error

	retryCount int
	mu         sync.RWMutex
}

// NewTaskState creates a new TaskState wrapping a task.
func NewTaskState(task Task) *TaskState {
	return &TaskState{
		Task:   task,
		Status: TaskStatusPending,
	}
}

// GetStatus returns the current status (thread-safe).
func (ts *TaskState) GetStatus() TaskStatus {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.Status
}

// SetStatus updates the status and timestamps (thread-safe).
func (ts *TaskState) SetStatus(status TaskStatus) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.Status = status
	now := time.Now()

	switch status {
	case TaskStatusRunning:
		ts.StartedAt = &now
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		ts.CompletedAt = &now
	}
}

// SetError sets the error (thread-safe).
func (ts *TaskState) SetError(err error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.Error = err
}

// GetError returns the error (thread-safe).
func (ts *TaskState) GetError() error {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.Error
}

// IncrementRetryCount bumps and returns the retry counter (thread-safe).
func (ts *TaskState) IncrementRetryCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.retryCount++
	return ts.retryCount
}

// GetRetryCount returns the retry counter (thread-safe).
func (ts *TaskState) GetRetryCount() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.retryCount
}

// Snapshot returns an immutable copy of the task state.
func (ts *TaskState) Snapshot() TaskSnapshot {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	var errMsg string
	if ts.Error != nil {
		errMsg = ts.Error.Error()
	}

	return TaskSnapshot{
		ID:          ts.Task.ID(),
		Name:        ts.Task.Name(),
		RequiresAI:  ts.Task.RequiresAI(),
		Status:      ts.Status,
		StartedAt:   ts.StartedAt,
		CompletedAt: ts.CompletedAt,
		Error:       errMsg,
	}
}

// TaskSnapshot is an immutable view of task state for serialization.
type TaskSnapshot struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	RequiresAI  bool       `json:"requires_ai"`
	Status      TaskStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// BaseTask provides common task functionality.
// Embed this in concrete task implementations.
type BaseTask struct {
	id         string
	name       string
	requiresAI bool
}

// NewBaseTask creates a new base task.
func NewBaseTask(name string, requiresAI bool) BaseTask {
	return BaseTask{
		id:         uuid.New().String(),
		name:       name,
		requiresAI: requiresAI,
	}
}

// ID returns the task ID.
func (t BaseTask) ID() string {
	return t.id
}

// Name returns the task name.
func (t BaseTask) Name() string {
	return t.name
}

// RequiresAI returns whether this task needs AI provider access.
func (t BaseTask) RequiresAI() bool {
	return t.requiresAI
}
