package workqueue

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/extractly-ai/extractly-engine/pkg/llm"
)

// RetryConfig configures retry behavior for failed tasks.
type RetryConfig struct {
	MaxRetries     int           // Maximum number of retry attempts (0 = no retries)
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration (cap)
	BackoffFactor  float64       // Multiplier for exponential backoff
}

// DefaultRetryConfig returns sensible defaults for retry behavior.
// Backoff schedule: 2s, 4s, 8s, then 15s (capped) for remaining retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     15 * time.Second,
		BackoffFactor:  2.0,
	}
}

// Queue manages task execution with configurable concurrency control.
// The concurrency strategy determines how tasks are allowed to run:
// - SerializedStrategy: one AI task at a time, one data task at a time (default)
// - ThrottledAIStrategy: up to N concurrent AI tasks
type Queue struct {
	mu        sync.Mutex
	tasks     []*TaskState
	cancelled bool

	strategy ConcurrencyStrategy

	// Retry configuration for transient errors
	retryConfig RetryConfig

	// done is closed when all tasks complete
	done chan struct{}
	// wg tracks running goroutines
	wg sync.WaitGroup

	// Cancellation context for running tasks
	ctx    context.Context
	cancel context.CancelFunc

	logger *zap.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithStrategy sets the concurrency strategy.
func WithStrategy(strategy ConcurrencyStrategy) QueueOption {
	return func(q *Queue) {
		if strategy != nil {
			q.strategy = strategy
		}
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(config RetryConfig) QueueOption {
	return func(q *Queue) {
		q.retryConfig = config
	}
}

// New creates a new work queue with the given options.
func New(logger *zap.Logger, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		tasks:       make([]*TaskState, 0),
		strategy:    NewSerializedStrategy(),
		retryConfig: DefaultRetryConfig(),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.Named("workqueue"),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Enqueue adds a task to the queue and attempts to start eligible tasks.
func (q *Queue) Enqueue(task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled {
		q.logger.Warn("queue cancelled, ignoring enqueue",
			zap.String("task_id", task.ID()),
			zap.String("task_name", task.Name()))
		return
	}

	// Reset done channel if it was closed from a previous batch
	q.resetDoneLocked()

	state := NewTaskState(task)
	q.tasks = append(q.tasks, state)

	q.logger.Info("task enqueued",
		zap.String("task_id", task.ID()),
		zap.String("task_name", task.Name()),
		zap.Bool("requires_ai", task.RequiresAI()))

	q.tryStartTasksLocked()
}

// tryStartTasksLocked checks constraints and starts eligible tasks.
// Must be called with lock held.
func (q *Queue) tryStartTasksLocked() {
	if q.cancelled {
		return
	}

	for _, ts := range q.tasks {
		if ts.GetStatus() != TaskStatusPending {
			continue
		}

		isAITask := ts.Task.RequiresAI()

		if isAITask && !q.strategy.CanStartAI() {
			continue
		}
		if !isAITask && !q.strategy.CanStartData() {
			continue
		}

		if isAITask {
			q.strategy.OnStartAI()
		} else {
			q.strategy.OnStartData()
		}
		ts.SetStatus(TaskStatusRunning)

		q.logger.Info("starting task",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))

		q.wg.Add(1)
		go q.runTask(ts)
	}
}

// runTask executes a task with retry logic for transient errors.
func (q *Queue) runTask(ts *TaskState) {
	defer q.wg.Done()

	var lastErr error

	for attempt := 0; attempt <= q.retryConfig.MaxRetries; attempt++ {
		// Wait before retry (skip on first attempt)
		if attempt > 0 {
			backoff := q.calculateBackoff(attempt)
			q.logger.Info("retrying task after backoff",
				zap.String("task_id", ts.Task.ID()),
				zap.String("task_name", ts.Task.Name()),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", q.retryConfig.MaxRetries),
				zap.Duration("backoff", backoff))

			select {
			case <-q.ctx.Done():
				q.completeTaskFailure(ts, q.ctx.Err())
				return
			case <-time.After(backoff):
			}
		}

		err := ts.Task.Execute(q.ctx, q)

		if err == nil {
			q.completeTaskSuccess(ts)
			return
		}

		lastErr = err

		if errors.Is(err, context.Canceled) {
			break
		}

		// Only transient provider errors are worth retrying; a parse error
		// or schema mismatch will fail the same way every time.
		if !llm.IsRetryable(err) {
			q.logger.Warn("non-retryable error, failing task immediately",
				zap.String("task_id", ts.Task.ID()),
				zap.String("task_name", ts.Task.Name()),
				zap.Error(err))
			break
		}

		retryCount := ts.IncrementRetryCount()

		if attempt >= q.retryConfig.MaxRetries {
			q.logger.Error("task failed after max retries",
				zap.String("task_id", ts.Task.ID()),
				zap.String("task_name", ts.Task.Name()),
				zap.Int("retry_count", retryCount),
				zap.Error(err))
			break
		}

		q.logger.Warn("retryable error encountered",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", q.retryConfig.MaxRetries),
			zap.Error(err))
	}

	q.completeTaskFailure(ts, lastErr)
}

// calculateBackoff computes the backoff duration for a retry attempt.
// Uses exponential backoff with jitter.
func (q *Queue) calculateBackoff(attempt int) time.Duration {
	backoff := float64(q.retryConfig.InitialBackoff) *
		math.Pow(q.retryConfig.BackoffFactor, float64(attempt-1))

	if backoff > float64(q.retryConfig.MaxBackoff) {
		backoff = float64(q.retryConfig.MaxBackoff)
	}

	// Add jitter (±10%) to prevent thundering herd
	jitter := backoff * 0.1 * (rand.Float64()*2 - 1)

	return time.Duration(backoff + jitter)
}

// completeTaskSuccess marks a task as successfully completed.
func (q *Queue) completeTaskSuccess(ts *TaskState) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ts.Task.RequiresAI() {
		q.strategy.OnCompleteAI()
	} else {
		q.strategy.OnCompleteData()
	}

	ts.SetStatus(TaskStatusCompleted)
	q.logger.Info("task completed",
		zap.String("task_id", ts.Task.ID()),
		zap.String("task_name", ts.Task.Name()),
		zap.Int("retry_count", ts.GetRetryCount()))

	if q.allTasksDoneLocked() {
		q.closeDoneLocked()
		return
	}

	q.tryStartTasksLocked()
}

// completeTaskFailure marks a task as failed or cancelled.
func (q *Queue) completeTaskFailure(ts *TaskState, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ts.Task.RequiresAI() {
		q.strategy.OnCompleteAI()
	} else {
		q.strategy.OnCompleteData()
	}

	if errors.Is(err, context.Canceled) {
		ts.SetStatus(TaskStatusCancelled)
		q.logger.Info("task cancelled",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))
	} else {
		ts.SetStatus(TaskStatusFailed)
		ts.SetError(err)
		q.logger.Error("task failed",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Int("retry_count", ts.GetRetryCount()),
			zap.Error(err))
	}

	if q.allTasksDoneLocked() {
		q.closeDoneLocked()
		return
	}

	q.tryStartTasksLocked()
}

// allTasksDoneLocked returns true if all tasks are in a terminal state.
// Must be called with lock held.
func (q *Queue) allTasksDoneLocked() bool {
	for _, ts := range q.tasks {
		status := ts.GetStatus()
		if status == TaskStatusPending || status == TaskStatusRunning {
			return false
		}
	}
	return true
}

// closeDoneLocked safely closes the done channel.
// Must be called with lock held.
func (q *Queue) closeDoneLocked() {
	select {
	case <-q.done:
		// Already closed
	default:
		close(q.done)
	}
}

// resetDoneLocked recreates the done channel if it was closed, allowing the
// queue to be reused for multiple batches of work.
// Must be called with lock held.
func (q *Queue) resetDoneLocked() {
	select {
	case <-q.done:
		q.done = make(chan struct{})
	default:
	}
}

// GetTasks returns a snapshot of all tasks.
func (q *Queue) GetTasks() []TaskSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshots := make([]TaskSnapshot, len(q.tasks))
	for i, ts := range q.tasks {
		snapshots[i] = ts.Snapshot()
	}
	return snapshots
}

// Wait blocks until all tasks complete or the context is cancelled.
// Returns nil if all tasks completed successfully or queue is empty.
// Returns the first task error if any task failed.
// Returns ctx.Err() if the context was cancelled.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	if len(q.tasks) == 0 {
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		q.mu.Lock()
		defer q.mu.Unlock()
		for _, ts := range q.tasks {
			if ts.GetStatus() == TaskStatusFailed {
				return ts.GetError()
			}
		}
		return nil
	case <-ctx.Done():
		q.Cancel()
		return ctx.Err()
	}
}

// Cancel marks the queue as cancelled, signals running tasks to stop,
// and stops accepting new tasks.
func (q *Queue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled {
		return
	}

	q.cancelled = true
	q.logger.Info("queue cancelled, signaling running tasks to stop")

	q.cancel()

	for _, ts := range q.tasks {
		if ts.GetStatus() == TaskStatusPending {
			ts.SetStatus(TaskStatusCancelled)
		}
	}

	if q.allTasksDoneLocked() {
		q.closeDoneLocked()
	}
}

// IsComplete returns true if all tasks have completed (success or failure).
func (q *Queue) IsComplete() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.allTasksDoneLocked()
}

// HasFailures returns true if any task failed.
func (q *Queue) HasFailures() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, ts := range q.tasks {
		if ts.GetStatus() == TaskStatusFailed {
			return true
		}
	}
	return false
}

// Progress returns a progress summary.
func (q *Queue) Progress() Progress {
	q.mu.Lock()
	defer q.mu.Unlock()

	p := Progress{Total: len(q.tasks)}
	for _, ts := range q.tasks {
		switch ts.GetStatus() {
		case TaskStatusPending:
			p.Pending++
		case TaskStatusRunning:
			p.Running++
		case TaskStatusCompleted:
			p.Completed++
		case TaskStatusFailed:
			p.Failed++
		case TaskStatusCancelled:
			p.Cancelled++
		}
	}
	return p
}

// Progress holds queue progress statistics.
type Progress struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Percentage returns the completion percentage (0-100).
func (p Progress) Percentage() int {
	if p.Total == 0 {
		return 100
	}
	done := p.Completed + p.Failed + p.Cancelled
	return (done * 100) / p.Total
}
