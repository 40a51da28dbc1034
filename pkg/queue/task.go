// Package queue provides the bounded, priority-ordered background task queue
// that keeps memory writes, embedding generation and similarity pre-computation
// off the synchronous request path.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TaskType identifies the kind of work a background task performs.
type TaskType string

const (
	// TaskMemoryWrite persists a deduplicated memory candidate.
	TaskMemoryWrite TaskType = "memory_write"

	// TaskEmbeddingGeneration computes and stores a missing embedding.
	TaskEmbeddingGeneration TaskType = "embedding_generation"

	// TaskSimilarityPrecompute warms the similarity score cache for a pair
	// of texts.
	TaskSimilarityPrecompute TaskType = "similarity_precompute"
)

// Default priorities per task type. The circuit breaker sheds stale tasks
// at priority 2 and below, so writes are never shed.
const (
	PriorityMemoryWrite          = 5
	PriorityEmbeddingGeneration  = 2
	PrioritySimilarityPrecompute = 1
)

// Task is an ephemeral unit of queued work.
//
// Tasks are created by a producer, dequeued by the drain cycle and discarded
// after execution. Failures are logged, not retried.
type Task struct {
	// ID is the unique task identifier.
	ID string

	// Type determines which handler executes the task.
	Type TaskType

	// Payload carries task-specific data, consumed by the handler.
	Payload interface{}

	// Priority orders draining; higher drains sooner.
	Priority int

	// EnqueuedAt is when the task entered the queue. Used by the circuit
	// breaker to identify stale work.
	EnqueuedAt time.Time
}

// Handler executes a dequeued task.
type Handler func(ctx context.Context, task *Task) error

// newTask creates a task with a fresh ID and the current timestamp.
func newTask(taskType TaskType, payload interface{}, priority int) *Task {
	return &Task{
		ID:         uuid.NewString(),
		Type:       taskType,
		Payload:    payload,
		Priority:   priority,
		EnqueuedAt: time.Now(),
	}
}
