package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(cfg Config) *Queue {
	return New(cfg, zerolog.Nop())
}

func TestEnqueueNeverBlocks(t *testing.T) {
	q := newTestQueue(Config{})
	defer q.Close()

	for i := 0; i < 100; i++ {
		id := q.Enqueue(TaskMemoryWrite, i, PriorityMemoryWrite)
		assert.NotEmpty(t, id)
	}
	assert.Equal(t, 100, q.Len())
}

func TestDrainPopsHighestPriorityFirst(t *testing.T) {
	q := newTestQueue(Config{})
	defer q.Close()

	var mu sync.Mutex
	var order []int
	q.RegisterHandler(TaskMemoryWrite, func(_ context.Context, task *Task) error {
		mu.Lock()
		order = append(order, task.Priority)
		mu.Unlock()
		return nil
	})

	q.Enqueue(TaskMemoryWrite, nil, 1)
	q.Enqueue(TaskMemoryWrite, nil, 5)
	q.Enqueue(TaskMemoryWrite, nil, 3)

	// One task per tick, highest priority first.
	q.Tick(context.Background())
	q.Tick(context.Background())
	q.Tick(context.Background())

	require.Equal(t, []int{5, 3, 1}, order)
	assert.Equal(t, 0, q.Len())
}

func TestDrainSurvivesHandlerErrors(t *testing.T) {
	q := newTestQueue(Config{})
	defer q.Close()

	calls := 0
	q.RegisterHandler(TaskEmbeddingGeneration, func(_ context.Context, _ *Task) error {
		calls++
		return errors.New("boom")
	})

	q.Enqueue(TaskEmbeddingGeneration, nil, PriorityEmbeddingGeneration)
	q.Enqueue(TaskEmbeddingGeneration, nil, PriorityEmbeddingGeneration)

	q.Tick(context.Background())
	q.Tick(context.Background())

	// Failed tasks are dropped, not retried.
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, q.Len())
}

func TestDrainDropsUnhandledTaskTypes(t *testing.T) {
	q := newTestQueue(Config{})
	defer q.Close()

	q.Enqueue(TaskSimilarityPrecompute, nil, PrioritySimilarityPrecompute)
	q.Tick(context.Background())

	assert.Equal(t, 0, q.Len())
}

func TestCircuitBreakerShedsStaleLowPriority(t *testing.T) {
	q := newTestQueue(Config{
		HighWater:    20,
		HardCap:      10,
		ShedPriority: 2,
		ShedAge:      time.Minute,
	})
	defer q.Close()

	for i := 0; i < 25; i++ {
		q.Enqueue(TaskSimilarityPrecompute, nil, 1)
	}

	// Age every task past the shed threshold.
	q.mu.Lock()
	for _, task := range q.tasks {
		task.EnqueuedAt = time.Now().Add(-2 * time.Minute)
	}
	q.mu.Unlock()

	q.applyCircuitBreaker()
	assert.Equal(t, 0, q.Len(), "stale low-priority tasks are all shed")
}

func TestCircuitBreakerCapsToHighestPriority(t *testing.T) {
	q := newTestQueue(Config{
		HighWater:    20,
		HardCap:      10,
		ShedPriority: 2,
		ShedAge:      time.Minute,
	})
	defer q.Close()

	// Recent high-priority tasks are never shed, only capped.
	for i := 0; i < 25; i++ {
		q.Enqueue(TaskMemoryWrite, i, PriorityMemoryWrite)
	}

	q.applyCircuitBreaker()
	assert.Equal(t, 10, q.Len())
}

func TestCircuitBreakerKeepsRecentLowPriority(t *testing.T) {
	q := newTestQueue(Config{
		HighWater:    20,
		HardCap:      10,
		ShedPriority: 2,
		ShedAge:      time.Minute,
	})
	defer q.Close()

	for i := 0; i < 15; i++ {
		q.Enqueue(TaskMemoryWrite, i, PriorityMemoryWrite)
	}
	for i := 0; i < 10; i++ {
		q.Enqueue(TaskSimilarityPrecompute, i, 1)
	}

	q.applyCircuitBreaker()

	// Nothing is stale, so the pass only caps. The survivors are the
	// highest-priority tasks.
	require.Equal(t, 10, q.Len())
	q.mu.Lock()
	for _, task := range q.tasks {
		assert.Equal(t, PriorityMemoryWrite, task.Priority)
	}
	q.mu.Unlock()
}

func TestCircuitBreakerIdleBelowHighWater(t *testing.T) {
	q := newTestQueue(Config{HighWater: 20, HardCap: 10})
	defer q.Close()

	for i := 0; i < 5; i++ {
		q.Enqueue(TaskMemoryWrite, i, PriorityMemoryWrite)
	}

	q.applyCircuitBreaker()
	assert.Equal(t, 5, q.Len())
}

func TestReentrancyGuardSkipsOverlappingTicks(t *testing.T) {
	q := newTestQueue(Config{})
	defer q.Close()

	block := make(chan struct{})
	var calls int
	var mu sync.Mutex
	q.RegisterHandler(TaskMemoryWrite, func(_ context.Context, _ *Task) error {
		mu.Lock()
		calls++
		mu.Unlock()
		<-block
		return nil
	})

	q.Enqueue(TaskMemoryWrite, nil, PriorityMemoryWrite)
	q.Enqueue(TaskMemoryWrite, nil, PriorityMemoryWrite)

	done := make(chan struct{})
	go func() {
		q.Tick(context.Background())
		close(done)
	}()

	// Wait until the first drain is in flight, then tick again.
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, time.Second, time.Millisecond)

	q.Tick(context.Background())

	mu.Lock()
	assert.Equal(t, 1, calls, "overlapping tick must be skipped")
	mu.Unlock()
	assert.Equal(t, 1, q.Len(), "second task stays queued")

	close(block)
	<-done
}

func TestStartAndClose(t *testing.T) {
	q := newTestQueue(Config{DrainInterval: 10 * time.Millisecond})

	handled := make(chan struct{})
	var once sync.Once
	q.RegisterHandler(TaskMemoryWrite, func(_ context.Context, _ *Task) error {
		once.Do(func() { close(handled) })
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)
	q.Enqueue(TaskMemoryWrite, nil, PriorityMemoryWrite)

	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("drain loop never executed the task")
	}

	q.Close()
	q.Close()
}

func TestCloseWithoutStart(t *testing.T) {
	q := newTestQueue(Config{})

	finished := make(chan struct{})
	go func() {
		q.Close()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Close must not block when Start was never called")
	}
}
