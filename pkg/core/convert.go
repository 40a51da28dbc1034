package core

import (
	"github.com/coachkit/memcore-go/pkg/intelligence"
	"github.com/coachkit/memcore-go/pkg/storage"
)

// fromStorageEntry converts a storage.MemoryEntry to core.Memory.
//
// This function is used internally to convert between package types
// to avoid circular dependencies.
func fromStorageEntry(e *storage.MemoryEntry) *Memory {
	return &Memory{
		ID:              e.ID,
		OwnerID:         e.OwnerID,
		Content:         e.Content,
		Category:        Category(e.Category),
		ImportanceScore: e.ImportanceScore,
		Keywords:        e.Keywords,
		Labels:          e.Labels,
		Embedding:       e.Embedding,
		SemanticHash:    e.SemanticHash,
		AccessCount:     e.AccessCount,
		LastAccessedAt:  e.LastAccessedAt,
		UpdateCount:     e.UpdateCount,
		IsActive:        e.IsActive,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

// fromRankedMemories converts intelligence retrieval results to the public
// result type.
func fromRankedMemories(ranked []intelligence.RetrievedMemory) []RetrievedMemory {
	result := make([]RetrievedMemory, len(ranked))
	for i, rm := range ranked {
		result[i] = RetrievedMemory{
			Memory:    fromStorageEntry(rm.Entry),
			Relevance: rm.Relevance,
			Reason:    rm.Reason,
		}
	}
	return result
}
