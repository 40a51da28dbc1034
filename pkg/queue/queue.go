package queue

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Default tuning values for the drain loop and circuit breaker.
const (
	// DefaultDrainInterval is the time between drain ticks.
	DefaultDrainInterval = 5 * time.Second

	// DefaultHighWater is the queue length above which the circuit
	// breaker starts shedding work.
	DefaultHighWater = 20

	// DefaultHardCap is the maximum number of tasks kept after a
	// circuit-breaker pass.
	DefaultHardCap = 10

	// DefaultShedPriority is the highest priority considered low-value
	// by the circuit breaker.
	DefaultShedPriority = 2

	// DefaultShedAge is the minimum age of a low-priority task before
	// the circuit breaker may discard it.
	DefaultShedAge = 60 * time.Second
)

// taskHeap implements heap.Interface over tasks, highest priority first.
// Ties are broken arbitrarily; FIFO among equal priorities is not guaranteed.
type taskHeap []*Task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].Priority > h[j].Priority }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x interface{}) { *h = append(*h, x.(*Task)) }

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil // avoid memory leak
	*h = old[0 : n-1]
	return task
}

// Config contains tuning parameters for the queue. Zero values use defaults.
type Config struct {
	// DrainInterval is the time between drain ticks.
	DrainInterval time.Duration

	// HighWater is the queue length that trips the circuit breaker.
	HighWater int

	// HardCap is the maximum number of tasks surviving a breaker pass.
	HardCap int

	// ShedPriority is the highest priority the breaker may discard.
	ShedPriority int

	// ShedAge is the minimum age of a task before the breaker may
	// discard it.
	ShedAge time.Duration
}

// Queue is a bounded, in-memory, priority-ordered task queue drained on a
// fixed tick.
//
// Enqueue is non-blocking and always succeeds immediately from the caller's
// perspective. Each drain tick pops the single highest-priority task and
// executes it by type; execution errors are logged and the task is dropped
// (at-most-once semantics). A re-entrancy guard skips a tick if the previous
// drain is still in progress.
//
// Before each tick the circuit breaker bounds queue growth: once the queue
// exceeds the high-water mark, tasks that are both low-priority and stale
// are discarded and the remainder is capped to the highest-priority tasks.
// High-priority and recent tasks are never silently dropped.
type Queue struct {
	cfg Config

	tasks taskHeap
	mu    sync.Mutex

	handlers   map[TaskType]Handler
	handlersMu sync.RWMutex

	// draining is the re-entrancy guard for the drain loop.
	draining atomic.Bool

	started atomic.Bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	logger zerolog.Logger
}

// New creates a new background task queue.
//
// Parameters:
//   - cfg: Tuning parameters (zero values use defaults)
//   - logger: Structured logger. Use zerolog.Nop() to disable logging.
//
// The drain loop is not started automatically; call Start.
func New(cfg Config, logger zerolog.Logger) *Queue {
	if cfg.DrainInterval == 0 {
		cfg.DrainInterval = DefaultDrainInterval
	}
	if cfg.HighWater == 0 {
		cfg.HighWater = DefaultHighWater
	}
	if cfg.HardCap == 0 {
		cfg.HardCap = DefaultHardCap
	}
	if cfg.ShedPriority == 0 {
		cfg.ShedPriority = DefaultShedPriority
	}
	if cfg.ShedAge == 0 {
		cfg.ShedAge = DefaultShedAge
	}

	q := &Queue{
		cfg:      cfg,
		tasks:    make(taskHeap, 0),
		handlers: make(map[TaskType]Handler),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.With().Str("component", "task_queue").Logger(),
	}
	heap.Init(&q.tasks)
	return q
}

// RegisterHandler sets the handler executed for a task type.
func (q *Queue) RegisterHandler(taskType TaskType, handler Handler) {
	q.handlersMu.Lock()
	q.handlers[taskType] = handler
	q.handlersMu.Unlock()
}

// Enqueue adds a task to the queue. It never blocks and never fails;
// backpressure is applied later by the circuit breaker.
//
// Returns the generated task ID.
func (q *Queue) Enqueue(taskType TaskType, payload interface{}, priority int) string {
	task := newTask(taskType, payload, priority)

	q.mu.Lock()
	heap.Push(&q.tasks, task)
	q.mu.Unlock()

	q.logger.Debug().
		Str("task_id", task.ID).
		Str("type", string(taskType)).
		Int("priority", priority).
		Msg("task enqueued")

	return task.ID
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Len()
}

// Start runs the drain loop until ctx is cancelled or Close is called.
func (q *Queue) Start(ctx context.Context) {
	if !q.started.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer close(q.done)

		ticker := time.NewTicker(q.cfg.DrainInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				q.Tick(ctx)
			case <-ctx.Done():
				return
			case <-q.stop:
				return
			}
		}
	}()
}

// Tick runs a single circuit-breaker pass followed by one drain step.
// Exposed so callers (and tests) can drive the queue without the timer.
func (q *Queue) Tick(ctx context.Context) {
	q.applyCircuitBreaker()
	q.drain(ctx)
}

// drain pops and executes the single highest-priority task, if any.
// A new tick is skipped while a previous drain is still running.
func (q *Queue) drain(ctx context.Context) {
	if !q.draining.CompareAndSwap(false, true) {
		q.logger.Debug().Msg("drain already in progress, skipping tick")
		return
	}
	defer q.draining.Store(false)

	q.mu.Lock()
	if q.tasks.Len() == 0 {
		q.mu.Unlock()
		return
	}
	task := heap.Pop(&q.tasks).(*Task)
	q.mu.Unlock()

	q.handlersMu.RLock()
	handler, ok := q.handlers[task.Type]
	q.handlersMu.RUnlock()

	if !ok {
		q.logger.Warn().
			Str("task_id", task.ID).
			Str("type", string(task.Type)).
			Msg("no handler registered for task type, dropping")
		return
	}

	if err := handler(ctx, task); err != nil {
		// Failures are dropped, not retried. At-most-once execution.
		q.logger.Error().
			Err(err).
			Str("task_id", task.ID).
			Str("type", string(task.Type)).
			Msg("background task failed")
	}
}

// applyCircuitBreaker sheds stale low-priority work and hard-caps the queue
// once it exceeds the high-water mark.
func (q *Queue) applyCircuitBreaker() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.tasks.Len() <= q.cfg.HighWater {
		return
	}

	before := q.tasks.Len()
	now := time.Now()

	// Discard tasks that are both low-priority and stale.
	kept := make(taskHeap, 0, q.tasks.Len())
	for _, task := range q.tasks {
		if task.Priority <= q.cfg.ShedPriority && now.Sub(task.EnqueuedAt) > q.cfg.ShedAge {
			continue
		}
		kept = append(kept, task)
	}

	// Hard-cap the remainder to the highest-priority tasks.
	if len(kept) > q.cfg.HardCap {
		heap.Init(&kept)
		capped := make(taskHeap, 0, q.cfg.HardCap)
		for i := 0; i < q.cfg.HardCap; i++ {
			capped = append(capped, heap.Pop(&kept).(*Task))
		}
		kept = capped
	}

	heap.Init(&kept)
	q.tasks = kept

	q.logger.Warn().
		Int("before", before).
		Int("after", q.tasks.Len()).
		Msg("queue overflow: circuit breaker shed tasks")
}

// Close stops the drain loop and waits for an in-flight drain to finish.
// Pending tasks are discarded. Safe to call more than once.
func (q *Queue) Close() {
	q.stopOnce.Do(func() { close(q.stop) })
	if q.started.Load() {
		<-q.done
	}
}
