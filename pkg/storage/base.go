// Package storage provides interfaces and types for memory persistence backends.
//
// It defines the Store interface that all backends must satisfy, along with
// the durable MemoryEntry type. The engine only ever touches memories through
// this interface; it never assumes anything about the underlying schema
// beyond the operations listed here.
package storage

import (
	"context"
	"time"
)

// MemoryEntry is the durable unit of remembered knowledge.
//
// This type is defined in the storage package to avoid circular dependencies
// with the core package. It mirrors the core.Memory structure.
type MemoryEntry struct {
	// ID is the unique identifier of the memory. Immutable after insert.
	ID int64

	// OwnerID identifies the user who owns this memory.
	OwnerID string

	// Content is the normalized textual statement.
	Content string

	// Category is the memory category (preference, food-diet, goal, ...).
	Category string

	// ImportanceScore is a value in [0,1] driving retention priority and
	// guaranteed inclusion during retrieval.
	ImportanceScore float64

	// Keywords is an unordered set of keyword strings for coarse filtering.
	Keywords []string

	// Labels is an unordered set of label strings for coarse filtering.
	Labels []string

	// Embedding is the vector embedding for similarity search.
	// Nil until computed by a background task.
	Embedding []float64

	// SemanticHash is the fixed-length fingerprint of the normalized content.
	SemanticHash string

	// AccessCount is the number of times this memory was returned by retrieval.
	AccessCount int

	// LastAccessedAt is when the memory was last returned by retrieval
	// (nil if never accessed).
	LastAccessedAt *time.Time

	// UpdateCount is the number of times content was revised in place.
	// Starts at 1 on insert.
	UpdateCount int

	// IsActive is the soft-delete flag. Memories are never hard-deleted
	// by the engine.
	IsActive bool

	// CreatedAt is when the memory was created.
	CreatedAt time.Time

	// UpdatedAt is when the memory was last updated.
	UpdatedAt time.Time
}

// Store defines the interface for memory persistence backends.
//
// All backends (SQLite, PostgreSQL, MySQL) must implement this interface.
// Every method is scoped to a single owner; the engine never performs
// multi-row transactions across unrelated owners.
type Store interface {
	// Insert inserts a memory and returns its ID.
	Insert(ctx context.Context, entry *MemoryEntry) (int64, error)

	// UpdateContent replaces a memory's content, importance, labels and
	// keywords in place, incrementing its update count.
	UpdateContent(ctx context.Context, id int64, content string, importance float64, labels, keywords []string) error

	// UpdateEmbedding attaches a computed embedding to an existing memory.
	// Used by background embedding_generation tasks.
	UpdateEmbedding(ctx context.Context, id int64, embedding []float64) error

	// FindBySemanticHash returns the active memory with the given
	// (owner, semantic hash) pair, or nil if none exists.
	FindBySemanticHash(ctx context.Context, ownerID, hash string) (*MemoryEntry, error)

	// FindActiveSince returns the owner's active memories created at or
	// after the given time, newest first.
	FindActiveSince(ctx context.Context, ownerID string, since time.Time) ([]*MemoryEntry, error)

	// FindAllActive returns all of the owner's active memories, newest first.
	FindAllActive(ctx context.Context, ownerID string) ([]*MemoryEntry, error)

	// SoftDelete marks a memory inactive. Returns false if the memory
	// does not exist or was already inactive.
	SoftDelete(ctx context.Context, id int64) (bool, error)

	// TouchAccess increments access counts and stamps last-accessed time
	// for the given memories. Called asynchronously after retrieval.
	TouchAccess(ctx context.Context, ids []int64) error

	// Close closes the store and releases resources.
	Close() error
}
