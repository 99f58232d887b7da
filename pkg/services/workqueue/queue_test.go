package workqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/extractly-ai/extractly-engine/pkg/llm"
)

// testTask is a configurable task for queue tests.
type testTask struct {
	BaseTask
	execute func(ctx context.Context, enqueuer TaskEnqueuer) error
}

func newTestTask(name string, requiresAI bool, execute func(ctx context.Context, enqueuer TaskEnqueuer) error) *testTask {
	return &testTask{
		BaseTask: NewBaseTask(name, requiresAI),
		execute:  execute,
	}
}

func (t *testTask) Execute(ctx context.Context, enqueuer TaskEnqueuer) error {
	return t.execute(ctx, enqueuer)
}

func noRetries() RetryConfig {
	return RetryConfig{MaxRetries: 0}
}

func TestQueue_RunsTaskToCompletion(t *testing.T) {
	q := New(zap.NewNop(), WithRetryConfig(noRetries()))

	var ran atomic.Bool
	q.Enqueue(newTestTask("extract", false, func(ctx context.Context, _ TaskEnqueuer) error {
		ran.Store(true)
		return nil
	}))

	require.NoError(t, q.Wait(context.Background()))
	assert.True(t, ran.Load())
	assert.True(t, q.IsComplete())
	assert.False(t, q.HasFailures())
}

func TestQueue_FailedTaskSurfacesError(t *testing.T) {
	q := New(zap.NewNop(), WithRetryConfig(noRetries()))

	wantErr := errors.New("extraction blew up")
	q.Enqueue(newTestTask("extract", false, func(ctx context.Context, _ TaskEnqueuer) error {
		return wantErr
	}))

	err := q.Wait(context.Background())
	assert.ErrorIs(t, err, wantErr)
	assert.True(t, q.HasFailures())
}

func TestQueue_SerializesAITasks(t *testing.T) {
	q := New(zap.NewNop(), WithRetryConfig(noRetries()))

	var mu sync.Mutex
	var running, maxRunning int

	for i := 0; i < 4; i++ {
		q.Enqueue(newTestTask(fmt.Sprintf("ai-%d", i), true, func(ctx context.Context, _ TaskEnqueuer) error {
			mu.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
			return nil
		}))
	}

	require.NoError(t, q.Wait(context.Background()))
	assert.Equal(t, 1, maxRunning, "serialized strategy must run one AI task at a time")
}

func TestQueue_ThrottledAIStrategy(t *testing.T) {
	q := New(zap.NewNop(),
		WithStrategy(NewThrottledAIStrategy(2)),
		WithRetryConfig(noRetries()))

	var mu sync.Mutex
	var running, maxRunning int

	for i := 0; i < 6; i++ {
		q.Enqueue(newTestTask(fmt.Sprintf("ai-%d", i), true, func(ctx context.Context, _ TaskEnqueuer) error {
			mu.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
			return nil
		}))
	}

	require.NoError(t, q.Wait(context.Background()))
	assert.LessOrEqual(t, maxRunning, 2)
	assert.GreaterOrEqual(t, maxRunning, 1)
}

func TestQueue_RetriesRetryableErrors(t *testing.T) {
	q := New(zap.NewNop(), WithRetryConfig(RetryConfig{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}))

	var attempts atomic.Int32
	q.Enqueue(newTestTask("flaky-ai", true, func(ctx context.Context, _ TaskEnqueuer) error {
		if attempts.Add(1) < 3 {
			return llm.NewError(llm.ErrorTypeRateLimit, "rate limited", true, nil)
		}
		return nil
	}))

	require.NoError(t, q.Wait(context.Background()))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestQueue_DoesNotRetryNonRetryable(t *testing.T) {
	q := New(zap.NewNop(), WithRetryConfig(RetryConfig{
		MaxRetries:     5,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}))

	var attempts atomic.Int32
	q.Enqueue(newTestTask("auth-fail", true, func(ctx context.Context, _ TaskEnqueuer) error {
		attempts.Add(1)
		return llm.NewError(llm.ErrorTypeAuth, "invalid api key", false, nil)
	}))

	err := q.Wait(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load(), "auth errors must fail immediately")
}

func TestQueue_TaskEnqueuesFollowUp(t *testing.T) {
	q := New(zap.NewNop(), WithRetryConfig(noRetries()))

	var followUpRan atomic.Bool
	q.Enqueue(newTestTask("first", false, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		enqueuer.Enqueue(newTestTask("follow-up", false, func(ctx context.Context, _ TaskEnqueuer) error {
			followUpRan.Store(true)
			return nil
		}))
		return nil
	}))

	require.NoError(t, q.Wait(context.Background()))
	assert.True(t, followUpRan.Load())
}

func TestQueue_Cancel(t *testing.T) {
	q := New(zap.NewNop(), WithRetryConfig(noRetries()))

	started := make(chan struct{})
	q.Enqueue(newTestTask("long", false, func(ctx context.Context, _ TaskEnqueuer) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))

	<-started
	q.Cancel()

	err := q.Wait(context.Background())
	assert.NoError(t, err, "cancelled tasks are not failures")

	snapshots := q.GetTasks()
	require.Len(t, snapshots, 1)
	assert.Equal(t, TaskStatusCancelled, snapshots[0].Status)
}

func TestQueue_Progress(t *testing.T) {
	q := New(zap.NewNop(), WithRetryConfig(noRetries()))

	q.Enqueue(newTestTask("ok", false, func(ctx context.Context, _ TaskEnqueuer) error {
		return nil
	}))
	q.Enqueue(newTestTask("bad", false, func(ctx context.Context, _ TaskEnqueuer) error {
		return errors.New("boom")
	}))

	_ = q.Wait(context.Background())

	p := q.Progress()
	assert.Equal(t, 2, p.Total)
	assert.Equal(t, 1, p.Completed)
	assert.Equal(t, 1, p.Failed)
	assert.Equal(t, 100, p.Percentage())
}

func TestProgress_PercentageEmptyQueue(t *testing.T) {
	assert.Equal(t, 100, Progress{}.Percentage())
}
