package intelligence

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachkit/memcore-go/pkg/cache"
	"github.com/coachkit/memcore-go/pkg/queue"
	"github.com/coachkit/memcore-go/pkg/storage"
)

func newDedupEngine(store *mockStore, emb *stubEmbedder) (*DedupEngine, *Similarity) {
	sim := NewSimilarity(cache.NewTTLCache("sim", 0, zerolog.Nop()), nil, zerolog.Nop())
	resolved := cache.NewTTLCache("resolved", 0, zerolog.Nop())
	return NewDedupEngine(store, sim, emb, resolved, 0, zerolog.Nop()), sim
}

func recentEntry(id int64, ownerID, content, hash string, embedding []float64) *storage.MemoryEntry {
	return &storage.MemoryEntry{
		ID:           id,
		OwnerID:      ownerID,
		Content:      content,
		SemanticHash: hash,
		Embedding:    embedding,
		IsActive:     true,
		CreatedAt:    time.Now().Add(-time.Hour),
	}
}

func TestDecideCreateWhenNoRecentMemories(t *testing.T) {
	emb := &stubEmbedder{fn: func(string) ([]float64, error) {
		return []float64{1, 0, 0}, nil
	}}
	engine, _ := newDedupEngine(newMockStore(), emb)

	result := engine.Decide(context.Background(), "user_001", "allergic to peanuts", "hash_a")

	assert.Equal(t, ActionCreate, result.Action)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestDecideSkipOnExactHashMatch(t *testing.T) {
	store := newMockStore(recentEntry(7, "user_001", "allergic to peanuts", "hash_a", nil))
	emb := &stubEmbedder{fn: func(string) ([]float64, error) {
		return []float64{1, 0, 0}, nil
	}}
	engine, _ := newDedupEngine(store, emb)

	result := engine.Decide(context.Background(), "user_001", "allergic to peanuts", "hash_a")

	assert.Equal(t, ActionSkip, result.Action)
	assert.Equal(t, int64(7), result.TargetMemoryID)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestDecideSkipOnRecentlyResolvedPair(t *testing.T) {
	emb := &stubEmbedder{fn: func(string) ([]float64, error) {
		return []float64{1, 0, 0}, nil
	}}
	engine, _ := newDedupEngine(newMockStore(), emb)

	first := engine.Decide(context.Background(), "user_001", "allergic to peanuts", "hash_a")
	require.Equal(t, ActionCreate, first.Action)

	// The write may not have landed yet; the resolved-pair cache still
	// prevents a duplicate create.
	second := engine.Decide(context.Background(), "user_001", "allergic to peanuts", "hash_a")
	assert.Equal(t, ActionSkip, second.Action)
	assert.Equal(t, 1.0, second.Confidence)
}

func TestDecideMergeOnHighSimilarity(t *testing.T) {
	store := newMockStore(recentEntry(3, "user_001", "I'm allergic to peanuts", "hash_a", []float64{1, 0, 0}))
	emb := &stubEmbedder{fn: func(string) ([]float64, error) {
		return []float64{1, 0, 0}, nil
	}}
	engine, _ := newDedupEngine(store, emb)

	result := engine.Decide(context.Background(), "user_001", "I am allergic to peanuts", "hash_b")

	assert.Equal(t, ActionMerge, result.Action)
	assert.Equal(t, int64(3), result.TargetMemoryID)
	assert.Greater(t, result.Confidence, 0.6)
}

func TestDecideUpdateOnMediumSimilarity(t *testing.T) {
	stored := []float64{1, 0, 0}
	// Cosine against [1,0,0] is exactly 0.5.
	candidate := []float64{0.5, math.Sqrt(3) / 2, 0}
	store := newMockStore(recentEntry(4, "user_001", "runs every morning", "hash_a", stored))
	emb := &stubEmbedder{fn: func(string) ([]float64, error) {
		return candidate, nil
	}}
	engine, sim := newDedupEngine(store, emb)
	sim.Precompute(&PrecomputePayload{Key: pairKey(candidate, stored), A: candidate, B: stored})

	result := engine.Decide(context.Background(), "user_001", "cycles on weekends", "hash_b")

	assert.Equal(t, ActionUpdate, result.Action)
	assert.Equal(t, int64(4), result.TargetMemoryID)
	assert.InDelta(t, 0.5, result.Confidence, 1e-9)
}

func TestDecideCreateOnLowSimilarity(t *testing.T) {
	store := newMockStore(recentEntry(5, "user_001", "likes jazz music", "hash_a", []float64{1, 0, 0}))
	emb := &stubEmbedder{fn: func(string) ([]float64, error) {
		return []float64{0, 1, 0}, nil
	}}
	engine, _ := newDedupEngine(store, emb)

	result := engine.Decide(context.Background(), "user_001", "allergic to peanuts", "hash_b")

	assert.Equal(t, ActionCreate, result.Action)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestDecideSchedulesPrecomputeThenUsesWarmedScore(t *testing.T) {
	vec := []float64{1, 0, 0}
	store := newMockStore(recentEntry(8, "user_001", "enjoys weekend hikes", "hash_a", vec))
	emb := &stubEmbedder{fn: func(string) ([]float64, error) {
		return vec, nil
	}}
	tasks := queue.New(queue.Config{}, zerolog.Nop())
	defer tasks.Close()
	sim := NewSimilarity(cache.NewTTLCache("sim", 0, zerolog.Nop()), tasks, zerolog.Nop())
	resolved := cache.NewTTLCache("resolved", 0, zerolog.Nop())
	engine := NewDedupEngine(store, sim, emb, resolved, 0, zerolog.Nop())

	// First sight of the vector pair has no cached cosine: the lexical
	// fallback decides for this tick and a precompute task is scheduled.
	first := engine.Decide(context.Background(), "user_001", "loves mountain biking", "hash_b")
	assert.Equal(t, ActionCreate, first.Action)
	assert.Equal(t, 1, tasks.Len())

	sim.Precompute(&PrecomputePayload{Key: pairKey(vec, vec), A: vec, B: vec})

	second := engine.Decide(context.Background(), "user_001", "prefers gravel cycling", "hash_c")
	assert.Equal(t, ActionMerge, second.Action)
	assert.Equal(t, int64(8), second.TargetMemoryID)
	assert.InDelta(t, 1.0, second.Confidence, 1e-9)
	assert.Equal(t, 1, tasks.Len())
}

func TestDecideFailsOpenOnStoreError(t *testing.T) {
	store := newMockStore()
	store.hashErr = errors.New("connection reset")
	emb := &stubEmbedder{fn: func(string) ([]float64, error) {
		return []float64{1, 0, 0}, nil
	}}
	engine, _ := newDedupEngine(store, emb)

	result := engine.Decide(context.Background(), "user_001", "allergic to peanuts", "hash_a")

	assert.Equal(t, ActionCreate, result.Action)
	assert.Equal(t, 0.8, result.Confidence)
	assert.Equal(t, "defaulted due to error", result.Reasoning)
}

func TestDecideFailsOpenOnEmbedderError(t *testing.T) {
	store := newMockStore(recentEntry(6, "user_001", "likes jazz music", "hash_a", []float64{1, 0, 0}))
	emb := &stubEmbedder{fn: func(string) ([]float64, error) {
		return nil, errors.New("provider timeout")
	}}
	engine, _ := newDedupEngine(store, emb)

	result := engine.Decide(context.Background(), "user_001", "allergic to peanuts", "hash_b")

	assert.Equal(t, ActionCreate, result.Action)
	assert.Equal(t, 0.8, result.Confidence)
	assert.Equal(t, "defaulted due to error", result.Reasoning)
}
