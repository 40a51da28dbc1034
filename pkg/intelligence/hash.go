package intelligence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coachkit/memcore-go/pkg/embedder"
)

// HashGenerator produces fixed-length semantic fingerprints of candidate
// text, used to short-circuit exact and near-exact duplicates.
//
// The primary path embeds the normalized text and hashes a fixed prefix of
// the vector, so near-identical phrasings that embed closely map to the same
// fingerprint. When the embedding provider fails, the normalized raw text is
// hashed instead. Generate never returns an error.
type HashGenerator struct {
	embedder embedder.Provider

	mu     sync.RWMutex
	hashes map[string]string

	logger zerolog.Logger
}

// NewHashGenerator creates a semantic hash generator.
//
// Parameters:
//   - provider: Embedding provider (typically the caching wrapper)
//   - logger: Structured logger
func NewHashGenerator(provider embedder.Provider, logger zerolog.Logger) *HashGenerator {
	return &HashGenerator{
		embedder: provider,
		hashes:   make(map[string]string),
		logger:   logger.With().Str("component", "semantic_hash").Logger(),
	}
}

// Generate returns the semantic hash for text.
//
// Repeated identical inputs are served from an in-process cache and never
// re-invoke the embedding provider. On total failure a hash of the raw
// normalized text is still produced so the pipeline never stalls.
func (g *HashGenerator) Generate(ctx context.Context, text string) string {
	normalized := embedder.Normalize(text)

	g.mu.RLock()
	if h, ok := g.hashes[normalized]; ok {
		g.mu.RUnlock()
		return h
	}
	g.mu.RUnlock()

	h := g.compute(ctx, normalized)

	g.mu.Lock()
	g.hashes[normalized] = h
	g.mu.Unlock()

	return h
}

// compute derives the hash, preferring the embedding path.
func (g *HashGenerator) compute(ctx context.Context, normalized string) string {
	vec, err := g.embedder.Embed(ctx, normalized)
	if err == nil && len(vec) > 0 {
		return vectorFingerprint(vec)
	}

	if err != nil {
		g.logger.Debug().Err(err).Msg("embedding unavailable, hashing raw text")
	}

	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}
