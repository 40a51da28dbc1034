package embedder

import (
	"context"
	"strings"
	"time"

	"github.com/coachkit/memcore-go/pkg/cache"
)

// DefaultCallTimeout bounds every outbound call to the underlying provider.
// A call that exceeds it is treated as failed; the caller falls back.
const DefaultCallTimeout = 45 * time.Second

// CachedProvider wraps a Provider with a TTL cache so repeated lookups for
// identical normalized text never re-invoke the provider within the cache
// window, and with a timeout so no call can hang indefinitely.
//
// Embedding vectors are owner-independent, so cache keys are the normalized
// text alone.
type CachedProvider struct {
	provider Provider
	cache    *cache.TTLCache
	timeout  time.Duration
}

// NewCachedProvider wraps the given provider.
//
// Parameters:
//   - provider: The underlying embedding provider
//   - embeddingCache: TTL cache for text-to-vector results
//   - timeout: Per-call timeout. If 0, defaults to DefaultCallTimeout.
func NewCachedProvider(provider Provider, embeddingCache *cache.TTLCache, timeout time.Duration) *CachedProvider {
	if timeout == 0 {
		timeout = DefaultCallTimeout
	}
	return &CachedProvider{
		provider: provider,
		cache:    embeddingCache,
		timeout:  timeout,
	}
}

// Embed returns the embedding for text, serving repeated identical inputs
// from the cache.
func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	key := Normalize(text)

	if cached, ok := p.cache.Get(key); ok {
		if vec, ok := cached.([]float64); ok {
			return vec, nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	vec, err := p.provider.Embed(callCtx, text)
	if err != nil {
		return nil, err
	}

	p.cache.Set(key, vec)
	return vec, nil
}

// EmbedBatch embeds multiple texts, serving cached entries and batching only
// the misses to the underlying provider.
func (p *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	results := make([][]float64, len(texts))
	var missIndexes []int
	var missTexts []string

	for i, text := range texts {
		if cached, ok := p.cache.Get(Normalize(text)); ok {
			if vec, ok := cached.([]float64); ok {
				results[i] = vec
				continue
			}
		}
		missIndexes = append(missIndexes, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	vecs, err := p.provider.EmbedBatch(callCtx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, i := range missIndexes {
		results[i] = vecs[j]
		p.cache.Set(Normalize(texts[i]), vecs[j])
	}

	return results, nil
}

// Dimensions returns the dimension of the underlying provider's vectors.
func (p *CachedProvider) Dimensions() int {
	return p.provider.Dimensions()
}

// Close closes the underlying provider.
func (p *CachedProvider) Close() error {
	return p.provider.Close()
}

// Normalize lowercases and trims text for use as a cache key.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
