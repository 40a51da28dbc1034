package intelligence

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/coachkit/memcore-go/pkg/cache"
	"github.com/coachkit/memcore-go/pkg/queue"
)

const (
	// vectorConfidenceThreshold is the cosine score below which the engine
	// distrusts the vector signal and falls back to lexical similarity.
	vectorConfidenceThreshold = 0.3

	// lexicalCandidateFloor is the minimum blended lexical score for a
	// pair to count as a candidate at all.
	lexicalCandidateFloor = 0.2

	// vectorKeyPrefix is how many leading vector components feed the
	// pair-cache key.
	vectorKeyPrefix = 8
)

// Similarity scores pairs of memories by vector cosine similarity with a
// lexical fallback, and maintains a cache of pairwise scores warmed by
// background precompute tasks.
//
// Example usage:
//
//	sim := NewSimilarity(scoreCache, taskQueue, logger)
//	score := sim.Score(textA, textB, vecA, vecB)
type Similarity struct {
	scores *cache.TTLCache
	tasks  *queue.Queue
	logger zerolog.Logger
}

// PrecomputePayload carries one vector pair for a similarity_precompute task.
type PrecomputePayload struct {
	Key string
	A   []float64
	B   []float64
}

// NewSimilarity creates a similarity engine.
//
// Parameters:
//   - scores: TTL cache for pairwise similarity scores
//   - tasks: Background queue for precompute work (may be nil; cache misses
//     are then simply reported as unknown)
//   - logger: Structured logger
func NewSimilarity(scores *cache.TTLCache, tasks *queue.Queue, logger zerolog.Logger) *Similarity {
	return &Similarity{
		scores: scores,
		tasks:  tasks,
		logger: logger.With().Str("component", "similarity").Logger(),
	}
}

// Score returns the similarity of two texts.
//
// When both embedding vectors are present, the cached cosine score for the
// pair is preferred; a cache miss schedules a background precompute and the
// lexical fallback answers for this tick. A cached cosine below the
// confidence threshold also falls back to lexical matching. Lexical scores
// at or below the candidate floor are reported as 0.
func (s *Similarity) Score(textA, textB string, vecA, vecB []float64) float64 {
	if len(vecA) > 0 && len(vecB) > 0 {
		if cos, ok := s.CachedScore(vecA, vecB); ok {
			if cos >= vectorConfidenceThreshold {
				return cos
			}
			s.logger.Debug().Float64("cosine", cos).Msg("low vector confidence, using lexical fallback")
		}
	}

	lex := Lexical(textA, textB)
	if lex <= lexicalCandidateFloor {
		return 0
	}
	return lex
}

// CachedScore returns the cached similarity for a vector pair.
//
// On a miss it enqueues a similarity_precompute task to warm the cache and
// reports the score as unknown (ok=false) rather than blocking the caller.
func (s *Similarity) CachedScore(vecA, vecB []float64) (float64, bool) {
	key := pairKey(vecA, vecB)

	if v, ok := s.scores.Get(key); ok {
		if score, ok := v.(float64); ok {
			return score, true
		}
	}

	if s.tasks != nil {
		s.tasks.Enqueue(queue.TaskSimilarityPrecompute, &PrecomputePayload{
			Key: key,
			A:   vecA,
			B:   vecB,
		}, queue.PrioritySimilarityPrecompute)
	}

	return 0, false
}

// Precompute computes and caches the score for one vector pair. It is the
// handler body for similarity_precompute tasks.
func (s *Similarity) Precompute(p *PrecomputePayload) {
	s.scores.Set(p.Key, Cosine(p.A, p.B))
}

// Cosine calculates the cosine similarity between two vectors.
//
// Cosine similarity measures the cosine of the angle between two vectors,
// ranging from -1 (opposite) to 1 (identical). Values close to 1 indicate
// high similarity.
//
// Returns 0.0 if the vectors have different dimensions or zero norm.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Lexical calculates the blended lexical similarity of two texts:
// 0.6 x Jaccard + 0.4 x overlap ratio over their word sets.
//
// Words are lowercased, stripped of punctuation, and must be longer than two
// characters to count.
func Lexical(a, b string) float64 {
	wordsA := wordSet(a)
	wordsB := wordSet(b)

	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	intersection := 0
	for w := range wordsA {
		if _, ok := wordsB[w]; ok {
			intersection++
		}
	}

	union := len(wordsA) + len(wordsB) - intersection
	jaccard := float64(intersection) / float64(union)

	maxLen := len(wordsA)
	if len(wordsB) > maxLen {
		maxLen = len(wordsB)
	}
	overlap := float64(intersection) / float64(maxLen)

	return 0.6*jaccard + 0.4*overlap
}

// wordSet tokenizes text into a set of normalized words longer than two
// characters.
func wordSet(text string) map[string]struct{} {
	var sb strings.Builder
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == ' ' || r > 127 {
			sb.WriteRune(r)
		} else {
			sb.WriteRune(' ')
		}
	}

	set := make(map[string]struct{})
	for _, w := range strings.Fields(sb.String()) {
		if len([]rune(w)) > 2 {
			set[w] = struct{}{}
		}
	}
	return set
}

// pairKey derives a symmetric cache key from the truncated prefixes of two
// vectors.
func pairKey(a, b []float64) string {
	ha := vectorFingerprint(a)
	hb := vectorFingerprint(b)

	parts := []string{ha, hb}
	sort.Strings(parts)
	return parts[0] + ":" + parts[1]
}

// vectorFingerprint hashes the leading components of a vector.
func vectorFingerprint(v []float64) string {
	n := vectorKeyPrefix
	if len(v) < n {
		n = len(v)
	}

	var sb strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "%.6f,", v[i])
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])[:16]
}
