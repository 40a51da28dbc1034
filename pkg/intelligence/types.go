// Package intelligence provides the decision-making core of the memory
// engine: semantic hashing, similarity scoring, deduplication decisions,
// contextual retrieval, and prompt assembly.
package intelligence

import "github.com/coachkit/memcore-go/pkg/storage"

// Action is the outcome of a deduplication decision.
type Action string

const (
	// ActionCreate stores the candidate as a new memory.
	ActionCreate Action = "create"

	// ActionUpdate revises an existing memory in place.
	ActionUpdate Action = "update"

	// ActionMerge folds the candidate into an existing memory.
	// Merge is implemented as update-in-place with an update_count bump.
	ActionMerge Action = "merge"

	// ActionSkip discards the candidate as a duplicate.
	ActionSkip Action = "skip"
)

// DeduplicationResult is the ephemeral decision produced for one candidate
// fact. It is consumed immediately by the write path and never persisted.
type DeduplicationResult struct {
	// Action is what the write path should do with the candidate.
	Action Action

	// TargetMemoryID is the existing memory to update or merge into.
	// Zero for create and skip decisions.
	TargetMemoryID int64

	// Confidence is how certain the engine is about the decision (0.0-1.0).
	Confidence float64

	// Reasoning is a short human-readable explanation of the decision.
	Reasoning string
}

// Retrieval reasons attached to ranked results.
const (
	// ReasonDirectMemoryQuery marks results returned because the user
	// explicitly asked what is remembered about them.
	ReasonDirectMemoryQuery = "direct_memory_query"

	// ReasonSemanticSimilarity marks results selected by embedding
	// similarity against the conversation context.
	ReasonSemanticSimilarity = "semantic_similarity"

	// ReasonHighImportance marks results guaranteed inclusion by their
	// importance score regardless of similarity.
	ReasonHighImportance = "high_importance"
)

// RetrievedMemory is one ranked retrieval result.
type RetrievedMemory struct {
	// Entry is the underlying memory.
	Entry *storage.MemoryEntry

	// Relevance is the combined ranking score (similarity x importance,
	// or importance alone).
	Relevance float64

	// Reason explains why the entry was selected.
	Reason string
}
