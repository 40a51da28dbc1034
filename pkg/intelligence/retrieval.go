package intelligence

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/coachkit/memcore-go/pkg/cache"
	"github.com/coachkit/memcore-go/pkg/embedder"
	"github.com/coachkit/memcore-go/pkg/storage"
)

// Retrieval tuning constants.
const (
	// retrievalLimit caps the ranked result list.
	retrievalLimit = 8

	// semanticThreshold is the minimum similarity for a semantic match.
	semanticThreshold = 0.5

	// importanceFloor guarantees inclusion of memories at or above this
	// importance regardless of similarity.
	importanceFloor = 0.7

	// touchTimeout bounds the asynchronous access-telemetry write.
	touchTimeout = 10 * time.Second
)

// directQueryMarkers are lexical patterns that identify a message as a
// direct request to recall stored facts.
var directQueryMarkers = []string{"memor", "about me"}

// Retriever ranks an owner's active memories against the current
// conversational context, blending similarity and importance.
//
// High-importance memories are always included so critical facts are never
// starved by a purely similarity-driven ranking.
type Retriever struct {
	store    storage.Store
	embedder embedder.Provider
	sim      *Similarity
	results  *cache.TTLCache
	logger   zerolog.Logger
}

// NewRetriever creates a contextual retrieval engine.
//
// Parameters:
//   - store: Persistent memory store
//   - provider: Embedding provider (typically the caching wrapper)
//   - sim: Similarity engine
//   - results: TTL cache for ranked result lists
//   - logger: Structured logger
func NewRetriever(store storage.Store, provider embedder.Provider, sim *Similarity, results *cache.TTLCache, logger zerolog.Logger) *Retriever {
	return &Retriever{
		store:    store,
		embedder: provider,
		sim:      sim,
		results:  results,
		logger:   logger.With().Str("component", "retrieval").Logger(),
	}
}

// Retrieve returns the ranked memories relevant to the current message in
// its conversational context.
//
// Results come from the retrieval cache when fresh. A direct recall request
// ("what do you remember about me") returns all active memories ranked by
// importance. Otherwise the engine matches semantically against the context,
// guarantees inclusion of high-importance memories, ranks by relevance,
// truncates and caches the outcome. Access telemetry is recorded
// asynchronously for every returned list and never blocks the caller.
//
// Retrieve degrades to an empty list on store failure; it never returns an
// error to the caller.
func (r *Retriever) Retrieve(ctx context.Context, ownerID, convContext, message string) []RetrievedMemory {
	query := strings.TrimSpace(convContext + " " + message)
	key := cache.Key(ownerID, embedder.Normalize(query))

	if v, ok := r.results.Get(key); ok {
		if ranked, ok := v.([]RetrievedMemory); ok {
			r.touchAsync(ranked)
			return ranked
		}
	}

	memories, err := r.store.FindAllActive(ctx, ownerID)
	if err != nil {
		r.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("memory lookup failed, returning no context")
		return nil
	}
	if len(memories) == 0 {
		return nil
	}

	var ranked []RetrievedMemory
	if isDirectMemoryQuery(message) {
		// A direct recall request returns every active memory, untruncated.
		ranked = r.rankByImportance(memories)
	} else {
		ranked = r.rankByContext(ctx, query, memories)
		if len(ranked) > retrievalLimit {
			ranked = ranked[:retrievalLimit]
		}
	}

	r.results.Set(key, ranked)
	r.touchAsync(ranked)

	return ranked
}

// rankByImportance scores every memory by importance alone. Used when the
// user directly asks what is remembered about them.
func (r *Retriever) rankByImportance(memories []*storage.MemoryEntry) []RetrievedMemory {
	ranked := make([]RetrievedMemory, 0, len(memories))
	for _, mem := range memories {
		ranked = append(ranked, RetrievedMemory{
			Entry:     mem,
			Relevance: mem.ImportanceScore,
			Reason:    ReasonDirectMemoryQuery,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Relevance > ranked[j].Relevance
	})
	return ranked
}

// rankByContext blends semantic similarity with the high-importance floor.
func (r *Retriever) rankByContext(ctx context.Context, query string, memories []*storage.MemoryEntry) []RetrievedMemory {
	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Debug().Err(err).Msg("query embedding unavailable, matching lexically")
		queryVec = nil
	}

	var ranked []RetrievedMemory
	selected := make(map[int64]bool)

	for _, mem := range memories {
		if len(mem.Embedding) == 0 && queryVec != nil {
			continue
		}
		score := r.sim.Score(query, mem.Content, queryVec, mem.Embedding)
		if score > semanticThreshold {
			ranked = append(ranked, RetrievedMemory{
				Entry:     mem,
				Relevance: score * mem.ImportanceScore,
				Reason:    ReasonSemanticSimilarity,
			})
			selected[mem.ID] = true
		}
	}

	var floor []RetrievedMemory
	for _, mem := range memories {
		if selected[mem.ID] || mem.ImportanceScore < importanceFloor {
			continue
		}
		floor = append(floor, RetrievedMemory{
			Entry:     mem,
			Relevance: mem.ImportanceScore,
			Reason:    ReasonHighImportance,
		})
	}
	sort.SliceStable(floor, func(i, j int) bool {
		return floor[i].Entry.CreatedAt.After(floor[j].Entry.CreatedAt)
	})

	ranked = append(ranked, floor...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Relevance > ranked[j].Relevance
	})

	return ranked
}

// touchAsync records access telemetry for the returned entries off the
// response path.
func (r *Retriever) touchAsync(ranked []RetrievedMemory) {
	if len(ranked) == 0 {
		return
	}

	ids := make([]int64, len(ranked))
	for i, rm := range ranked {
		ids[i] = rm.Entry.ID
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()

		if err := r.store.TouchAccess(ctx, ids); err != nil {
			r.logger.Warn().Err(err).Msg("access telemetry update failed")
		}
	}()
}

// isDirectMemoryQuery reports whether the message directly asks to recall
// stored facts.
func isDirectMemoryQuery(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range directQueryMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
