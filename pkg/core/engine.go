package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"

	"github.com/coachkit/memcore-go/pkg/cache"
	"github.com/coachkit/memcore-go/pkg/embedder"
	openaiEmbedder "github.com/coachkit/memcore-go/pkg/embedder/openai"
	"github.com/coachkit/memcore-go/pkg/intelligence"
	"github.com/coachkit/memcore-go/pkg/llm"
	openaiLLM "github.com/coachkit/memcore-go/pkg/llm/openai"
	"github.com/coachkit/memcore-go/pkg/queue"
	"github.com/coachkit/memcore-go/pkg/storage"
	mysqlStore "github.com/coachkit/memcore-go/pkg/storage/mysql"
	postgresStore "github.com/coachkit/memcore-go/pkg/storage/postgres"
	sqliteStore "github.com/coachkit/memcore-go/pkg/storage/sqlite"
)

// Engine is the semantic memory engine instance.
//
// It owns the caches, the background task queue, the debounced invalidator
// and the intelligence components, and exposes the in-process contracts the
// conversation pipeline calls: ProcessCandidate, Retrieve, BuildContext.
//
// All state is held on the instance; construct one per process and share it.
//
// Example:
//
//	config, _ := core.LoadConfigFromEnv()
//	engine, err := core.NewEngine(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	result, _ := engine.ProcessCandidate(ctx, "user_001", "I'm allergic to peanuts")
//	context := engine.BuildContext(ctx, "user_001", recentTurns, "what's for dinner?")
type Engine struct {
	cfg    *Config
	logger zerolog.Logger

	store    storage.Store
	provider embedder.Provider
	llm      llm.Provider
	analyzer *llm.Analyzer

	embeddingCache *cache.TTLCache
	promptCache    *cache.TTLCache
	retrievalCache *cache.TTLCache
	scoreCache     *cache.TTLCache
	resolvedCache  *cache.TTLCache

	tasks       *queue.Queue
	invalidator *cache.Invalidator

	hash      *intelligence.HashGenerator
	sim       *intelligence.Similarity
	dedup     *intelligence.DedupEngine
	retriever *intelligence.Retriever
	assembler *intelligence.PromptAssembler
	validator *intelligence.Validator

	node            *snowflake.Node
	providerTimeout time.Duration

	cancel context.CancelFunc
	closed atomic.Bool
}

// writeTask is the payload of a memory_write background task.
type writeTask struct {
	OwnerID      string
	Content      string
	Category     Category
	Importance   float64
	Labels       []string
	Keywords     []string
	SemanticHash string
	Decision     *intelligence.DeduplicationResult
	Explicit     bool
}

// embedTask is the payload of an embedding_generation background task.
type embedTask struct {
	MemoryID int64
	Content  string
}

// NewEngine creates and starts a memory engine.
//
// The engine builds its store and providers from the config unless they are
// injected via options, wires the cache tiers, starts the cache sweepers
// and the background drain loop.
//
// Parameters:
//   - cfg: Engine configuration (required)
//   - opts: Optional overrides (logger, store, providers)
//
// Returns the running engine, or an error if construction fails.
func NewEngine(cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, NewEngineError("NewEngine", ErrInvalidConfig)
	}

	var options engineOptions
	for _, opt := range opts {
		opt(&options)
	}

	logger := zerolog.Nop()
	if options.logger != nil {
		logger = *options.logger
	}
	logger = logger.With().Str("component", "engine").Logger()

	if options.store == nil || options.embedder == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	node, err := snowflake.NewNode(cfg.Engine.SnowflakeNode)
	if err != nil {
		return nil, NewEngineError("NewEngine", err)
	}

	e := &Engine{
		cfg:             cfg,
		logger:          logger,
		node:            node,
		providerTimeout: cfg.Engine.ProviderTimeout,
	}
	if e.providerTimeout == 0 {
		e.providerTimeout = embedder.DefaultCallTimeout
	}

	ttl := cfg.Engine.CacheTTL
	if ttl == 0 {
		ttl = cache.DefaultTTL
	}
	sweep := cfg.Engine.SweepInterval
	if sweep == 0 {
		sweep = cache.DefaultSweepInterval
	}

	e.embeddingCache = cache.NewTTLCache("embedding", ttl, logger)
	e.promptCache = cache.NewTTLCache("prompt", ttl, logger)
	e.retrievalCache = cache.NewTTLCache("retrieval", ttl, logger)
	e.scoreCache = cache.NewTTLCache("similarity", ttl, logger)
	e.resolvedCache = cache.NewTTLCache("resolved", ttl, logger)
	for _, c := range e.caches() {
		c.StartSweeper(sweep)
	}

	if err := e.initStore(options.store); err != nil {
		e.stopCaches()
		return nil, err
	}
	if err := e.initProviders(&options); err != nil {
		e.stopCaches()
		_ = e.store.Close()
		return nil, err
	}

	e.tasks = queue.New(queue.Config{
		DrainInterval: cfg.Engine.DrainInterval,
	}, logger)

	e.invalidator = cache.NewInvalidator(
		e.retrievalCache,
		cfg.Engine.DebounceDelay,
		cfg.Engine.ExplicitDebounceDelay,
		logger,
	)

	e.sim = intelligence.NewSimilarity(e.scoreCache, e.tasks, logger)
	e.hash = intelligence.NewHashGenerator(e.provider, logger)
	e.dedup = intelligence.NewDedupEngine(e.store, e.sim, e.provider, e.resolvedCache, cfg.Engine.RecentWindow, logger)
	e.retriever = intelligence.NewRetriever(e.store, e.provider, e.sim, e.retrievalCache, logger)
	e.assembler = intelligence.NewPromptAssembler(cfg.Engine.Persona)
	e.validator = intelligence.NewValidator(logger)

	e.tasks.RegisterHandler(queue.TaskMemoryWrite, e.handleMemoryWrite)
	e.tasks.RegisterHandler(queue.TaskEmbeddingGeneration, e.handleEmbeddingGeneration)
	e.tasks.RegisterHandler(queue.TaskSimilarityPrecompute, e.handleSimilarityPrecompute)

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.tasks.Start(ctx)

	return e, nil
}

// caches returns every cache tier the engine owns.
func (e *Engine) caches() []*cache.TTLCache {
	return []*cache.TTLCache{
		e.embeddingCache,
		e.promptCache,
		e.retrievalCache,
		e.scoreCache,
		e.resolvedCache,
	}
}

func (e *Engine) stopCaches() {
	for _, c := range e.caches() {
		c.Close()
	}
}

// initStore builds the persistent store from config unless injected.
func (e *Engine) initStore(injected storage.Store) error {
	if injected != nil {
		e.store = injected
		return nil
	}

	cfg := e.cfg.Store.Config
	var err error

	switch e.cfg.Store.Provider {
	case "sqlite":
		e.store, err = sqliteStore.NewClient(&sqliteStore.Config{
			DBPath:    configString(cfg, "db_path", "./memcore.db"),
			TableName: configString(cfg, "table_name", "memories"),
		})
	case "postgres":
		e.store, err = postgresStore.NewClient(&postgresStore.Config{
			Host:      configString(cfg, "host", "localhost"),
			Port:      configInt(cfg, "port", 5432),
			User:      configString(cfg, "user", "postgres"),
			Password:  configString(cfg, "password", ""),
			DBName:    configString(cfg, "db_name", "memcore"),
			TableName: configString(cfg, "table_name", "memories"),
			SSLMode:   configString(cfg, "ssl_mode", "disable"),
		})
	case "mysql":
		e.store, err = mysqlStore.NewClient(&mysqlStore.Config{
			Host:      configString(cfg, "host", "127.0.0.1"),
			Port:      configInt(cfg, "port", 3306),
			User:      configString(cfg, "user", "root"),
			Password:  configString(cfg, "password", ""),
			DBName:    configString(cfg, "db_name", "memcore"),
			TableName: configString(cfg, "table_name", "memories"),
		})
	default:
		return NewEngineError("NewEngine", fmt.Errorf("%w: unknown store provider %q", ErrInvalidConfig, e.cfg.Store.Provider))
	}

	if err != nil {
		return NewEngineError("NewEngine", err)
	}
	return nil
}

// initProviders builds the embedding and LLM providers from config unless
// injected, and wraps the embedder with the caching layer.
func (e *Engine) initProviders(options *engineOptions) error {
	raw := options.embedder
	if raw == nil {
		switch e.cfg.Embedder.Provider {
		case "openai":
			client, err := openaiEmbedder.NewClient(&openaiEmbedder.Config{
				APIKey:     e.cfg.Embedder.APIKey,
				Model:      e.cfg.Embedder.Model,
				BaseURL:    e.cfg.Embedder.BaseURL,
				Dimensions: e.cfg.Embedder.Dimensions,
			})
			if err != nil {
				return NewEngineError("NewEngine", err)
			}
			raw = client
		default:
			return NewEngineError("NewEngine", fmt.Errorf("%w: unknown embedder provider %q", ErrInvalidConfig, e.cfg.Embedder.Provider))
		}
	}
	e.provider = embedder.NewCachedProvider(raw, e.embeddingCache, e.providerTimeout)

	if options.llm != nil {
		e.llm = options.llm
	} else if e.cfg.LLM.APIKey != "" {
		client, err := openaiLLM.NewClient(&openaiLLM.Config{
			APIKey:  e.cfg.LLM.APIKey,
			Model:   e.cfg.LLM.Model,
			BaseURL: e.cfg.LLM.BaseURL,
		})
		if err != nil {
			return NewEngineError("NewEngine", err)
		}
		e.llm = client
	}

	if e.llm != nil {
		e.analyzer = llm.NewAnalyzer(e.llm)
	}
	return nil
}

// ProcessCandidate runs one candidate fact through the memory pipeline:
// validation, optional LLM analysis, semantic hashing, deduplication, and
// finally an asynchronous write.
//
// The decision is returned immediately; the write itself happens on the
// background queue. A nil result with a nil error means the candidate was
// analyzed as not memory-worthy.
//
// Parameters:
//   - ctx: Context for cancellation
//   - ownerID: The user the candidate belongs to
//   - text: The candidate text
//   - opts: Optional per-call settings (pre-computed analysis, explicit flag)
//
// Returns the deduplication decision, or an error if the candidate fails
// validation.
func (e *Engine) ProcessCandidate(ctx context.Context, ownerID, text string, opts ...ProcessOption) (*intelligence.DeduplicationResult, error) {
	if e.closed.Load() {
		return nil, NewEngineError("ProcessCandidate", ErrEngineClosed)
	}
	if ownerID == "" {
		return nil, NewEngineError("ProcessCandidate", fmt.Errorf("%w: owner id is required", ErrInvalidInput))
	}
	if err := e.validator.Validate(text); err != nil {
		return nil, NewEngineError("ProcessCandidate", fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}

	var options processOptions
	for _, opt := range opts {
		opt(&options)
	}

	analysis := options.analysis
	if analysis == nil && e.analyzer != nil {
		analysis = e.analyze(ctx, text)
	}

	content := text
	category := CategoryOther
	importance := 0.5
	var labels, keywords []string

	if analysis != nil {
		if !analysis.ShouldRemember {
			e.logger.Debug().Str("owner_id", ownerID).Msg("candidate not memory-worthy")
			return nil, nil
		}
		if analysis.ExtractedInfo != "" {
			content = analysis.ExtractedInfo
		}
		if c := Category(analysis.Category); c.Valid() {
			category = c
		}
		importance = analysis.Importance
		labels = analysis.Labels
		keywords = analysis.Keywords

		if unknown := UnknownLabels(category, labels); len(unknown) > 0 {
			e.logger.Debug().
				Str("category", string(category)).
				Strs("labels", unknown).
				Msg("labels outside category allow-list")
		}
	}

	semanticHash := e.hash.Generate(ctx, content)
	result := e.dedup.Decide(ctx, ownerID, content, semanticHash)

	if result.Action != intelligence.ActionSkip {
		e.tasks.Enqueue(queue.TaskMemoryWrite, &writeTask{
			OwnerID:      ownerID,
			Content:      content,
			Category:     category,
			Importance:   importance,
			Labels:       labels,
			Keywords:     keywords,
			SemanticHash: semanticHash,
			Decision:     result,
			Explicit:     options.explicit,
		}, queue.PriorityMemoryWrite)
	}

	return result, nil
}

// analyze runs the LLM analysis with the provider timeout. Any failure is
// treated as "no analysis available"; the candidate is then stored with
// default classification rather than dropped.
func (e *Engine) analyze(ctx context.Context, text string) *llm.MemoryAnalysis {
	callCtx, cancel := context.WithTimeout(ctx, e.providerTimeout)
	defer cancel()

	analysis, err := e.analyzer.Analyze(callCtx, text)
	if err != nil {
		e.logger.Warn().Err(err).Msg("memory analysis failed, using defaults")
		return nil
	}
	return analysis
}

// Retrieve returns the ranked memories relevant to the current message.
//
// It degrades to an empty list on any internal failure; memory is an
// enhancement, never a blocking dependency.
func (e *Engine) Retrieve(ctx context.Context, ownerID, convContext, message string) []RetrievedMemory {
	if e.closed.Load() {
		return nil
	}
	return fromRankedMemories(e.retriever.Retrieve(ctx, ownerID, convContext, message))
}

// BuildContext retrieves the relevant memories and renders them into the
// textual context block for the conversation pipeline. Assembled blocks are
// cached per (owner, normalized query).
func (e *Engine) BuildContext(ctx context.Context, ownerID, convContext, message string) string {
	if e.closed.Load() {
		return e.assembler.Assemble(nil)
	}

	query := embedder.Normalize(convContext + " " + message)
	key := cache.Key(ownerID, query)

	if v, ok := e.promptCache.Get(key); ok {
		if prompt, ok := v.(string); ok {
			return prompt
		}
	}

	ranked := e.retriever.Retrieve(ctx, ownerID, convContext, message)
	prompt := e.assembler.Assemble(ranked)
	e.promptCache.Set(key, prompt)

	return prompt
}

// Metrics returns an administrative snapshot of the engine's internal
// state: queue length, live cache sizes, and armed invalidation timers.
func (e *Engine) Metrics() Metrics {
	return Metrics{
		QueueLength:          e.tasks.Len(),
		EmbeddingCacheSize:   e.embeddingCache.Len(),
		PromptCacheSize:      e.promptCache.Len(),
		RetrievalCacheSize:   e.retrievalCache.Len(),
		PendingInvalidations: e.invalidator.PendingCount(),
	}
}

// Close shuts the engine down: stops the drain loop, cancels pending
// invalidation timers, stops the cache sweepers and closes the store and
// providers. Safe to call more than once.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	e.cancel()
	e.tasks.Close()
	e.invalidator.Close()
	e.stopCaches()

	var firstErr error
	if err := e.provider.Close(); err != nil {
		firstErr = err
	}
	if e.llm != nil {
		if err := e.llm.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := e.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	return NewEngineError("Close", firstErr)
}

// handleMemoryWrite executes a memory_write task. On success it triggers
// the debounced invalidator for the task's owner.
func (e *Engine) handleMemoryWrite(ctx context.Context, task *queue.Task) error {
	wt, ok := task.Payload.(*writeTask)
	if !ok {
		return fmt.Errorf("memory_write: unexpected payload %T", task.Payload)
	}

	var err error
	switch wt.Decision.Action {
	case intelligence.ActionCreate:
		err = e.createMemory(ctx, wt)
	case intelligence.ActionUpdate, intelligence.ActionMerge:
		err = e.reviseMemory(ctx, wt)
	default:
		return nil
	}
	if err != nil {
		return err
	}

	e.invalidator.Trigger(wt.OwnerID, wt.Explicit)
	return nil
}

// createMemory inserts a new memory entry. When the embedding is not yet
// available the entry is stored without one and an embedding_generation
// task is queued.
func (e *Engine) createMemory(ctx context.Context, wt *writeTask) error {
	vec, err := e.provider.Embed(ctx, wt.Content)
	if err != nil {
		e.logger.Debug().Err(err).Msg("embedding unavailable at write time, deferring")
		vec = nil
	}

	entry := &storage.MemoryEntry{
		ID:              e.node.Generate().Int64(),
		OwnerID:         wt.OwnerID,
		Content:         wt.Content,
		Category:        string(wt.Category),
		ImportanceScore: wt.Importance,
		Keywords:        wt.Keywords,
		Labels:          wt.Labels,
		Embedding:       vec,
		SemanticHash:    wt.SemanticHash,
	}

	id, err := e.store.Insert(ctx, entry)
	if err != nil {
		return fmt.Errorf("memory_write: %w", err)
	}

	if vec == nil {
		e.tasks.Enqueue(queue.TaskEmbeddingGeneration, &embedTask{
			MemoryID: id,
			Content:  wt.Content,
		}, queue.PriorityEmbeddingGeneration)
	}

	e.logger.Info().Str("owner_id", wt.OwnerID).Int64("memory_id", id).Msg("memory created")
	return nil
}

// reviseMemory updates the decision's target memory in place and refreshes
// its embedding in the background.
func (e *Engine) reviseMemory(ctx context.Context, wt *writeTask) error {
	id := wt.Decision.TargetMemoryID
	if err := e.store.UpdateContent(ctx, id, wt.Content, wt.Importance, wt.Labels, wt.Keywords); err != nil {
		return fmt.Errorf("memory_write: %w", err)
	}

	e.tasks.Enqueue(queue.TaskEmbeddingGeneration, &embedTask{
		MemoryID: id,
		Content:  wt.Content,
	}, queue.PriorityEmbeddingGeneration)

	e.logger.Info().
		Str("owner_id", wt.OwnerID).
		Int64("memory_id", id).
		Str("action", string(wt.Decision.Action)).
		Msg("memory revised")
	return nil
}

// handleEmbeddingGeneration executes an embedding_generation task.
func (e *Engine) handleEmbeddingGeneration(ctx context.Context, task *queue.Task) error {
	et, ok := task.Payload.(*embedTask)
	if !ok {
		return fmt.Errorf("embedding_generation: unexpected payload %T", task.Payload)
	}

	vec, err := e.provider.Embed(ctx, et.Content)
	if err != nil {
		return fmt.Errorf("embedding_generation: %w", err)
	}

	if err := e.store.UpdateEmbedding(ctx, et.MemoryID, vec); err != nil {
		return fmt.Errorf("embedding_generation: %w", err)
	}
	return nil
}

// handleSimilarityPrecompute executes a similarity_precompute task.
func (e *Engine) handleSimilarityPrecompute(_ context.Context, task *queue.Task) error {
	p, ok := task.Payload.(*intelligence.PrecomputePayload)
	if !ok {
		return fmt.Errorf("similarity_precompute: unexpected payload %T", task.Payload)
	}

	e.sim.Precompute(p)
	return nil
}

// configString reads a string value from a provider config map.
func configString(cfg map[string]interface{}, key, fallback string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// configInt reads an integer value from a provider config map. JSON decodes
// numbers as float64, so both forms are accepted.
func configInt(cfg map[string]interface{}, key string, fallback int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}
