package intelligence

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/coachkit/memcore-go/pkg/cache"
	"github.com/coachkit/memcore-go/pkg/embedder"
	"github.com/coachkit/memcore-go/pkg/storage"
)

// Deduplication thresholds and defaults.
const (
	// DefaultRecentWindow is the trailing window of memories a candidate
	// is compared against.
	DefaultRecentWindow = 72 * time.Hour

	// mergeThreshold is the similarity above which a candidate merges
	// into the best match.
	mergeThreshold = 0.6

	// updateThreshold is the similarity above which a candidate updates
	// the best match in place.
	updateThreshold = 0.4
)

// DedupEngine decides whether a candidate fact is novel, a duplicate, an
// update, or a merge of existing knowledge.
//
// Decisions fail open: on any unexpected failure the engine returns a create
// decision at reduced confidence rather than dropping user-stated
// information.
//
// Example usage:
//
//	engine := NewDedupEngine(store, sim, provider, resolvedCache, 0, logger)
//	result := engine.Decide(ctx, "user_001", "I'm allergic to peanuts", hash)
//	// result.Action is one of create, update, merge, skip
type DedupEngine struct {
	store    storage.Store
	sim      *Similarity
	embedder embedder.Provider

	// resolved caches (ownerID, semanticHash) pairs that already have a
	// decision, so bursts of identical candidates short-circuit before
	// the async write lands.
	resolved *cache.TTLCache

	window time.Duration
	logger zerolog.Logger
}

// NewDedupEngine creates a deduplication decision engine.
//
// Parameters:
//   - store: Persistent memory store
//   - sim: Similarity engine
//   - provider: Embedding provider (typically the caching wrapper)
//   - resolved: TTL cache of recently resolved (owner, hash) pairs
//   - window: Trailing comparison window. If 0, defaults to DefaultRecentWindow.
//   - logger: Structured logger
func NewDedupEngine(store storage.Store, sim *Similarity, provider embedder.Provider, resolved *cache.TTLCache, window time.Duration, logger zerolog.Logger) *DedupEngine {
	if window == 0 {
		window = DefaultRecentWindow
	}
	return &DedupEngine{
		store:    store,
		sim:      sim,
		embedder: provider,
		resolved: resolved,
		window:   window,
		logger:   logger.With().Str("component", "dedup").Logger(),
	}
}

// Decide produces a deduplication decision for one candidate fact.
//
// The algorithm, first match wins:
//  1. The (ownerID, semanticHash) pair was resolved recently: skip.
//  2. An active memory with the same hash exists in the store: skip,
//     and cache the mapping.
//  3. The owner has no active memories in the trailing window: create.
//  4. Similarity search over the window: best match above the merge
//     threshold merges, above the update threshold updates in place,
//     otherwise create.
//
// Any unexpected failure yields a create decision at confidence 0.8. Decide
// never returns an error.
func (e *DedupEngine) Decide(ctx context.Context, ownerID, text, semanticHash string) *DeduplicationResult {
	result, err := e.decide(ctx, ownerID, text, semanticHash)
	if err != nil {
		e.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("deduplication failed, defaulting to create")
		return &DeduplicationResult{
			Action:     ActionCreate,
			Confidence: 0.8,
			Reasoning:  "defaulted due to error",
		}
	}

	e.resolved.Set(cache.Key(ownerID, semanticHash), result.Action)

	e.logger.Debug().
		Str("owner_id", ownerID).
		Str("action", string(result.Action)).
		Float64("confidence", result.Confidence).
		Str("reasoning", result.Reasoning).
		Msg("deduplication decision")

	return result
}

func (e *DedupEngine) decide(ctx context.Context, ownerID, text, semanticHash string) (*DeduplicationResult, error) {
	if _, ok := e.resolved.Get(cache.Key(ownerID, semanticHash)); ok {
		return &DeduplicationResult{
			Action:     ActionSkip,
			Confidence: 1.0,
			Reasoning:  "identical candidate resolved recently",
		}, nil
	}

	existing, err := e.store.FindBySemanticHash(ctx, ownerID, semanticHash)
	if err != nil {
		return nil, fmt.Errorf("semantic hash lookup failed: %w", err)
	}
	if existing != nil {
		return &DeduplicationResult{
			Action:         ActionSkip,
			TargetMemoryID: existing.ID,
			Confidence:     1.0,
			Reasoning:      "exact semantic hash match in store",
		}, nil
	}

	since := time.Now().Add(-e.window)
	recent, err := e.store.FindActiveSince(ctx, ownerID, since)
	if err != nil {
		return nil, fmt.Errorf("recent memory lookup failed: %w", err)
	}
	if len(recent) == 0 {
		return &DeduplicationResult{
			Action:     ActionCreate,
			Confidence: 1.0,
			Reasoning:  "no recent memories to compare against",
		}, nil
	}

	candidateVec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("candidate embedding failed: %w", err)
	}

	var best *storage.MemoryEntry
	var bestScore float64
	for _, mem := range recent {
		score := e.sim.Score(text, mem.Content, candidateVec, mem.Embedding)
		if best == nil || score > bestScore {
			best = mem
			bestScore = score
		}
	}

	switch {
	case bestScore > mergeThreshold:
		return &DeduplicationResult{
			Action:         ActionMerge,
			TargetMemoryID: best.ID,
			Confidence:     bestScore,
			Reasoning:      fmt.Sprintf("highly similar to memory %d (%.2f)", best.ID, bestScore),
		}, nil
	case bestScore > updateThreshold:
		return &DeduplicationResult{
			Action:         ActionUpdate,
			TargetMemoryID: best.ID,
			Confidence:     bestScore,
			Reasoning:      fmt.Sprintf("related to memory %d (%.2f), updating in place", best.ID, bestScore),
		}, nil
	default:
		return &DeduplicationResult{
			Action:     ActionCreate,
			Confidence: 1.0,
			Reasoning:  "no sufficiently similar memory in window",
		}, nil
	}
}
