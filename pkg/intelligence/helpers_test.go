package intelligence

import (
	"context"
	"sync"
	"time"

	"github.com/coachkit/memcore-go/pkg/storage"
)

// mockStore is an in-memory storage.Store with per-method error injection.
type mockStore struct {
	mu      sync.Mutex
	entries map[int64]*storage.MemoryEntry
	touched [][]int64

	hashErr  error
	sinceErr error
	allErr   error
}

func newMockStore(entries ...*storage.MemoryEntry) *mockStore {
	s := &mockStore{entries: make(map[int64]*storage.MemoryEntry)}
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	return s
}

func (s *mockStore) Insert(_ context.Context, entry *storage.MemoryEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.IsActive = true
	entry.CreatedAt = time.Now()
	s.entries[entry.ID] = entry
	return entry.ID, nil
}

func (s *mockStore) UpdateContent(_ context.Context, id int64, content string, importance float64, labels, keywords []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.Content = content
		e.ImportanceScore = importance
		e.Labels = labels
		e.Keywords = keywords
		e.UpdateCount++
	}
	return nil
}

func (s *mockStore) UpdateEmbedding(_ context.Context, id int64, embedding []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.Embedding = embedding
	}
	return nil
}

func (s *mockStore) FindBySemanticHash(_ context.Context, ownerID, hash string) (*storage.MemoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hashErr != nil {
		return nil, s.hashErr
	}
	for _, e := range s.entries {
		if e.IsActive && e.OwnerID == ownerID && e.SemanticHash == hash {
			return e, nil
		}
	}
	return nil, nil
}

func (s *mockStore) FindActiveSince(_ context.Context, ownerID string, since time.Time) ([]*storage.MemoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sinceErr != nil {
		return nil, s.sinceErr
	}
	var out []*storage.MemoryEntry
	for _, e := range s.entries {
		if e.IsActive && e.OwnerID == ownerID && e.CreatedAt.After(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *mockStore) FindAllActive(_ context.Context, ownerID string) ([]*storage.MemoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allErr != nil {
		return nil, s.allErr
	}
	var out []*storage.MemoryEntry
	for _, e := range s.entries {
		if e.IsActive && e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *mockStore) SoftDelete(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok && e.IsActive {
		e.IsActive = false
		return true, nil
	}
	return false, nil
}

func (s *mockStore) TouchAccess(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, ids)
	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			e.AccessCount++
		}
	}
	return nil
}

func (s *mockStore) Close() error { return nil }

func (s *mockStore) touchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.touched)
}

// stubEmbedder is an embedder.Provider driven by a function.
type stubEmbedder struct {
	mu    sync.Mutex
	calls int
	fn    func(text string) ([]float64, error)
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(text)
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		vec, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int { return 3 }

func (s *stubEmbedder) Close() error { return nil }

func (s *stubEmbedder) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
