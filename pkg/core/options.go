package core

import (
	"github.com/rs/zerolog"

	"github.com/coachkit/memcore-go/pkg/embedder"
	"github.com/coachkit/memcore-go/pkg/llm"
	"github.com/coachkit/memcore-go/pkg/storage"
)

// Option configures an Engine at construction time.
type Option func(*engineOptions)

type engineOptions struct {
	logger   *zerolog.Logger
	store    storage.Store
	embedder embedder.Provider
	llm      llm.Provider
}

// WithLogger sets the structured logger. The engine defaults to a Nop
// logger, appropriate for library use.
//
// Example:
//
//	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
//	engine, err := core.NewEngine(config, core.WithLogger(logger))
func WithLogger(logger zerolog.Logger) Option {
	return func(o *engineOptions) {
		o.logger = &logger
	}
}

// WithStore injects a pre-built store, bypassing the config's store
// provider. Useful for tests and custom backends.
func WithStore(store storage.Store) Option {
	return func(o *engineOptions) {
		o.store = store
	}
}

// WithEmbedder injects a pre-built embedding provider, bypassing the
// config's embedder provider.
func WithEmbedder(provider embedder.Provider) Option {
	return func(o *engineOptions) {
		o.embedder = provider
	}
}

// WithLLM injects a pre-built LLM provider used for memory analysis.
func WithLLM(provider llm.Provider) Option {
	return func(o *engineOptions) {
		o.llm = provider
	}
}

// ProcessOption configures a single ProcessCandidate call.
type ProcessOption func(*processOptions)

type processOptions struct {
	analysis *llm.MemoryAnalysis
	explicit bool
}

// WithAnalysis supplies a pre-computed memory analysis, skipping the
// engine's own LLM call. The analysis decides category, importance, labels
// and keywords for the candidate.
func WithAnalysis(analysis *llm.MemoryAnalysis) ProcessOption {
	return func(o *processOptions) {
		o.analysis = analysis
	}
}

// WithExplicit marks the candidate as an explicit, user-confirmed action.
// Explicit writes invalidate caches with the shorter debounce delay.
func WithExplicit() ProcessOption {
	return func(o *processOptions) {
		o.explicit = true
	}
}
