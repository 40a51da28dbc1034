package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachkit/memcore-go/pkg/intelligence"
	"github.com/coachkit/memcore-go/pkg/llm"
	"github.com/coachkit/memcore-go/pkg/storage"
)

// memStore is an in-memory storage.Store for engine tests.
type memStore struct {
	mu       sync.Mutex
	entries  map[int64]*storage.MemoryEntry
	allCalls int
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[int64]*storage.MemoryEntry)}
}

func (s *memStore) Insert(_ context.Context, entry *storage.MemoryEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *entry
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = clone.CreatedAt
	clone.UpdateCount = 1
	clone.IsActive = true
	s.entries[clone.ID] = &clone
	return clone.ID, nil
}

func (s *memStore) UpdateContent(_ context.Context, id int64, content string, importance float64, labels, keywords []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return errors.New("not found")
	}
	e.Content = content
	e.ImportanceScore = importance
	e.Labels = labels
	e.Keywords = keywords
	e.UpdateCount++
	e.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) UpdateEmbedding(_ context.Context, id int64, embedding []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.Embedding = embedding
	}
	return nil
}

func (s *memStore) FindBySemanticHash(_ context.Context, ownerID, hash string) (*storage.MemoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.OwnerID == ownerID && e.SemanticHash == hash && e.IsActive {
			return e, nil
		}
	}
	return nil, nil
}

func (s *memStore) FindActiveSince(_ context.Context, ownerID string, since time.Time) ([]*storage.MemoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*storage.MemoryEntry
	for _, e := range s.entries {
		if e.OwnerID == ownerID && e.IsActive && !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) FindAllActive(_ context.Context, ownerID string) ([]*storage.MemoryEntry, error) {
	s.mu.Lock()
	s.allCalls++
	s.mu.Unlock()
	return s.FindActiveSince(context.Background(), ownerID, time.Time{})
}

func (s *memStore) SoftDelete(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || !e.IsActive {
		return false, nil
	}
	e.IsActive = false
	return true, nil
}

func (s *memStore) TouchAccess(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			e.AccessCount++
			e.LastAccessedAt = &now
		}
	}
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *memStore) findAllCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allCalls
}

func (s *memStore) seed(e *storage.MemoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.IsActive = true
	s.entries[e.ID] = e
}

// fakeEmbedder is a deterministic embedder for engine tests.
type fakeEmbedder struct {
	mu   sync.Mutex
	fail bool
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("provider unavailable")
	}
	vec := make([]float64, 3)
	for i, r := range text {
		vec[i%3] += float64(r)
	}
	return vec, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		vec, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }

func (f *fakeEmbedder) Close() error { return nil }

func newTestEngine(t *testing.T) (*Engine, *memStore, *fakeEmbedder) {
	t.Helper()

	store := newMemStore()
	emb := &fakeEmbedder{}

	cfg := &Config{
		Engine: EngineConfig{
			DrainInterval:         10 * time.Millisecond,
			DebounceDelay:         20 * time.Millisecond,
			ExplicitDebounceDelay: 5 * time.Millisecond,
		},
	}

	engine, err := NewEngine(cfg, WithStore(store), WithEmbedder(emb))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	return engine, store, emb
}

func TestProcessCandidateCreatesMemory(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	result, err := engine.ProcessCandidate(context.Background(), "user_001", "Allergic to peanuts")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, intelligence.ActionCreate, result.Action)
	assert.Equal(t, 1.0, result.Confidence)

	assert.Eventually(t, func() bool { return store.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	entries, err := store.FindAllActive(context.Background(), "user_001")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Allergic to peanuts", entries[0].Content)
	assert.Equal(t, string(CategoryOther), entries[0].Category)
	assert.Equal(t, 0.5, entries[0].ImportanceScore)
	assert.NotEmpty(t, entries[0].SemanticHash)
	assert.NotNil(t, entries[0].Embedding, "embedding is computed at write time when the provider is up")
	assert.NotZero(t, entries[0].ID)
}

func TestProcessCandidateDuplicateSkips(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	first, err := engine.ProcessCandidate(context.Background(), "user_001", "Training for a marathon in October")
	require.NoError(t, err)
	assert.Equal(t, intelligence.ActionCreate, first.Action)

	// The second identical candidate is resolved from the recently-resolved
	// pair cache even before the first write lands.
	second, err := engine.ProcessCandidate(context.Background(), "user_001", "Training for a marathon in October")
	require.NoError(t, err)
	assert.Equal(t, intelligence.ActionSkip, second.Action)

	assert.Eventually(t, func() bool { return store.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, store.count(), "duplicate submissions must not create a second memory")
}

func TestProcessCandidateRejectsInvalidInput(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	_, err := engine.ProcessCandidate(context.Background(), "", "valid content")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = engine.ProcessCandidate(context.Background(), "user_001", "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = engine.ProcessCandidate(context.Background(), "user_001", "n/a")
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Zero(t, store.count())
}

func TestProcessCandidateUsesAnalysis(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	analysis := &llm.MemoryAnalysis{
		ShouldRemember: true,
		Category:       "food-diet",
		Importance:     0.95,
		ExtractedInfo:  "Allergic to peanuts",
		Labels:         []string{"allergy"},
		Keywords:       []string{"peanuts"},
	}

	result, err := engine.ProcessCandidate(context.Background(), "user_001",
		"by the way, I'm allergic to peanuts", WithAnalysis(analysis))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Eventually(t, func() bool { return store.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	entries, _ := store.FindAllActive(context.Background(), "user_001")
	require.Len(t, entries, 1)
	assert.Equal(t, "Allergic to peanuts", entries[0].Content)
	assert.Equal(t, "food-diet", entries[0].Category)
	assert.Equal(t, 0.95, entries[0].ImportanceScore)
	assert.Equal(t, []string{"allergy"}, entries[0].Labels)
}

func TestProcessCandidateNotMemoryWorthy(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	result, err := engine.ProcessCandidate(context.Background(), "user_001",
		"thanks, talk to you tomorrow!", WithAnalysis(&llm.MemoryAnalysis{ShouldRemember: false}))
	require.NoError(t, err)
	assert.Nil(t, result)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, store.count())
}

func TestProcessCandidateFailsOpenOnProviderOutage(t *testing.T) {
	engine, store, emb := newTestEngine(t)

	// An existing recent memory forces the dedup comparison path, which
	// needs the candidate embedding.
	store.seed(&storage.MemoryEntry{
		ID:           1,
		OwnerID:      "user_001",
		Content:      "Prefers morning workouts",
		SemanticHash: "aaaa000011112222",
		CreatedAt:    time.Now().Add(-time.Hour),
	})

	emb.mu.Lock()
	emb.fail = true
	emb.mu.Unlock()

	result, err := engine.ProcessCandidate(context.Background(), "user_001", "Wants to drink more water daily")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, intelligence.ActionCreate, result.Action)
	assert.Equal(t, 0.8, result.Confidence)
	assert.Equal(t, "defaulted due to error", result.Reasoning)

	// The write still lands, with the embedding deferred.
	assert.Eventually(t, func() bool { return store.count() == 2 }, 2*time.Second, 10*time.Millisecond)

	entries, _ := store.FindAllActive(context.Background(), "user_001")
	for _, e := range entries {
		if e.ID != 1 {
			assert.Nil(t, e.Embedding)
		}
	}
}

func TestRetrieveDirectQuery(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	store.seed(&storage.MemoryEntry{
		ID:              10,
		OwnerID:         "user_001",
		Content:         "Allergic to peanuts",
		Category:        "food-diet",
		ImportanceScore: 0.95,
		SemanticHash:    "bbbb000011112222",
		CreatedAt:       time.Now().Add(-time.Hour),
	})

	results := engine.Retrieve(context.Background(), "user_001", "", "what do you know about me?")
	require.Len(t, results, 1)
	assert.Equal(t, int64(10), results[0].Memory.ID)
	assert.Equal(t, CategoryFoodDiet, results[0].Memory.Category)
	assert.Equal(t, intelligence.ReasonDirectMemoryQuery, results[0].Reason)
	assert.Equal(t, 0.95, results[0].Relevance)
}

func TestBuildContextUsesPromptCache(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	store.seed(&storage.MemoryEntry{
		ID:              11,
		OwnerID:         "user_001",
		Content:         "Wants to lose 5kg by summer",
		Category:        "goal",
		ImportanceScore: 0.85,
		SemanticHash:    "cccc000011112222",
		CreatedAt:       time.Now().Add(-time.Hour),
	})

	prompt := engine.BuildContext(context.Background(), "user_001", "", "what are my goals?")
	assert.Contains(t, prompt, "Wants to lose 5kg by summer")
	assert.Contains(t, prompt, "[Important]")

	calls := store.findAllCalls()
	cached := engine.BuildContext(context.Background(), "user_001", "", "what are my goals?")
	assert.Equal(t, prompt, cached)
	assert.Equal(t, calls, store.findAllCalls(), "repeated identical query must be served from the prompt cache")
}

func TestBuildContextWithoutMemories(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	prompt := engine.BuildContext(context.Background(), "user_999", "", "hello")
	assert.Equal(t, intelligence.DefaultPersona, prompt)
}

func TestMetrics(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	m := engine.Metrics()
	assert.Zero(t, m.QueueLength)
	assert.Zero(t, m.PendingInvalidations)

	_, err := engine.ProcessCandidate(context.Background(), "user_001", "Practices guitar on weekends")
	require.NoError(t, err)

	// The write eventually drains and arms an invalidation timer.
	assert.Eventually(t, func() bool {
		return engine.Metrics().QueueLength == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCloseIsIdempotent(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	require.NoError(t, engine.Close())
	require.NoError(t, engine.Close())

	_, err := engine.ProcessCandidate(context.Background(), "user_001", "valid content")
	assert.ErrorIs(t, err, ErrEngineClosed)

	assert.Nil(t, engine.Retrieve(context.Background(), "user_001", "", "query"))
	assert.Equal(t, intelligence.DefaultPersona, engine.BuildContext(context.Background(), "user_001", "", "query"))
}

func TestNewEngineNilConfig(t *testing.T) {
	_, err := NewEngine(nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
