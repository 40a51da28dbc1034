package intelligence

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestGenerateCachesByNormalizedInput(t *testing.T) {
	emb := &stubEmbedder{fn: func(string) ([]float64, error) {
		return []float64{0.1, 0.2, 0.3}, nil
	}}
	gen := NewHashGenerator(emb, zerolog.Nop())

	h1 := gen.Generate(context.Background(), "  Hello World  ")
	h2 := gen.Generate(context.Background(), "hello world")

	assert.Equal(t, h1, h2, "normalization collapses casing and whitespace")
	assert.Len(t, h1, 16)
	assert.Equal(t, 1, emb.callCount(), "repeated inputs never re-invoke the provider")
}

func TestGenerateDistinguishesTexts(t *testing.T) {
	emb := &stubEmbedder{fn: func(text string) ([]float64, error) {
		vec := make([]float64, 3)
		for i, r := range []rune(text) {
			vec[i%3] += float64(r)
		}
		return vec, nil
	}}
	gen := NewHashGenerator(emb, zerolog.Nop())

	h1 := gen.Generate(context.Background(), "allergic to peanuts")
	h2 := gen.Generate(context.Background(), "prefers morning workouts")

	assert.NotEqual(t, h1, h2)
}

func TestGenerateFallsBackOnProviderError(t *testing.T) {
	emb := &stubEmbedder{fn: func(string) ([]float64, error) {
		return nil, errors.New("provider down")
	}}
	gen := NewHashGenerator(emb, zerolog.Nop())

	h := gen.Generate(context.Background(), "allergic to peanuts")

	// A hash is still produced so the pipeline never stalls.
	assert.Len(t, h, 16)

	// And it is deterministic.
	gen2 := NewHashGenerator(emb, zerolog.Nop())
	assert.Equal(t, h, gen2.Generate(context.Background(), "Allergic to peanuts"))
}
