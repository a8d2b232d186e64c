// Package extraction orchestrates structured entity extraction from
// legal documents: a router picks a processing strategy per document,
// an orchestrator runs extraction waves over chunks through a bounded
// pool, a context resolver assigns each span a contextual role, and a
// merger reconciles duplicates into the final entity set.
package extraction

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/brianjwalters/entity-extraction-service-sub000/chunker"
	"github.com/brianjwalters/entity-extraction-service-sub000/docload"
	"github.com/brianjwalters/entity-extraction-service-sub000/extractor"
	"github.com/brianjwalters/entity-extraction-service-sub000/llm"
	"github.com/brianjwalters/entity-extraction-service-sub000/merge"
	"github.com/brianjwalters/entity-extraction-service-sub000/nlp"
	"github.com/brianjwalters/entity-extraction-service-sub000/resolver"
	"github.com/brianjwalters/entity-extraction-service-sub000/router"
	"github.com/brianjwalters/entity-extraction-service-sub000/rules"
	"github.com/brianjwalters/entity-extraction-service-sub000/store"
	"github.com/brianjwalters/entity-extraction-service-sub000/wave"
)

// Run statuses reported on a Result.
const (
	StatusComplete = "complete"
	StatusDegraded = "degraded"
)

// Request is one extraction request.
type Request struct {
	DocumentText string         `json:"document_text"`
	DocumentID   string         `json:"document_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`

	// ForceStrategy bypasses routing; must be a known strategy.
	ForceStrategy string `json:"force_strategy,omitempty"`

	// GraphRAGMode requests relationship extraction unconditionally.
	GraphRAGMode bool `json:"graphrag_mode,omitempty"`

	// ExtractRelationships requests relationships when the document is
	// large enough to justify them.
	ExtractRelationships bool `json:"extract_relationships,omitempty"`
}

// RoutingInfo describes the routing decision on a Result.
type RoutingInfo struct {
	Strategy          string   `json:"strategy"`
	WavesExecuted     []string `json:"waves_executed"`
	Relationships     bool     `json:"relationships"`
	RequiresChunking  bool     `json:"requires_chunking"`
	EstimatedDuration string   `json:"estimated_duration"`
}

// ProcessingStats reports what actually happened during a run, in
// enough detail to tell complete, degraded and failed runs apart.
type ProcessingStats struct {
	Chunks           int                `json:"chunks"`
	ForcedCuts       int                `json:"forced_cuts"`
	UnitsTotal       int                `json:"units_total"`
	UnitsCompleted   int                `json:"units_completed"`
	UnitFailures     []wave.UnitFailure `json:"unit_failures,omitempty"`
	WaveStats        []wave.Stats       `json:"wave_stats"`
	EntitiesRaw      int                `json:"entities_raw"`
	EntitiesMerged   int                `json:"entities_merged"`
	ContextFallbacks int                `json:"context_fallbacks"`
	BackendFallback  bool               `json:"backend_fallback,omitempty"`
	DurationMS       int64              `json:"duration_ms"`
}

// Result is the outcome of one extraction run.
type Result struct {
	DocumentID      string             `json:"document_id"`
	RunID           string             `json:"run_id"`
	Status          string             `json:"status"`
	Entities        []extractor.Entity `json:"entities"`
	RoutingDecision RoutingInfo        `json:"routing_decision"`
	ProcessingStats ProcessingStats    `json:"processing_stats"`
}

// Engine is the main entry point for the extraction service.
type Engine interface {
	// Extract runs the full pipeline over one document.
	Extract(ctx context.Context, req Request) (*Result, error)

	// ExtractFile loads a document file and runs Extract on its text.
	ExtractFile(ctx context.Context, path string, req Request) (*Result, error)

	// Store returns the underlying store, or nil when persistence is
	// not configured.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// Option injects collaborators into New, mainly for tests.
type Option func(*engine)

// WithBackend replaces the configured extraction backend.
func WithBackend(b extractor.SpanExtractor) Option {
	return func(e *engine) { e.backend = b }
}

// WithEmbedder replaces the configured embedding client.
func WithEmbedder(emb resolver.Embedder) Option {
	return func(e *engine) { e.embedder = emb }
}

// WithParser replaces the dependency-parser client.
func WithParser(p nlp.Parser) Option {
	return func(e *engine) { e.parser = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *engine) { e.logger = l }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg      Config
	logger   *slog.Logger
	catalog  *rules.Catalog
	backend  extractor.SpanExtractor
	failover *extractor.Failover
	embedder resolver.Embedder
	parser   nlp.Parser
	router   *router.Router
	chunkr   *chunker.Chunker
	resolver *resolver.Resolver
	merger   *merge.Merger
	loaders  *docload.Registry
	store    *store.Store
}

// New creates an extraction engine from the given configuration.
func New(cfg Config, opts ...Option) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &engine{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}

	// Rule catalog: built-in legal rules plus an optional pack.
	catalog := rules.Default()
	if cfg.Rules.PackPath != "" {
		pack, err := rules.LoadPack(cfg.Rules.PackPath)
		if err != nil {
			return nil, fmt.Errorf("loading rule pack: %w", err)
		}
		catalog = catalog.Merge(pack)
	}
	e.catalog = catalog

	if e.backend == nil {
		if err := e.buildBackend(); err != nil {
			return nil, err
		}
	}

	if e.embedder == nil && e.cfg.LLM.EmbedModel != "" {
		embedLLM, err := llm.NewProvider(llm.Config{
			Provider: cfg.LLM.Provider,
			Model:    cfg.LLM.EmbedModel,
			BaseURL:  cfg.LLM.BaseURL,
			APIKey:   cfg.LLM.APIKey,
		})
		if err != nil {
			e.logger.Warn("embedding provider unavailable, semantic signal disabled", "error", err)
		} else {
			e.embedder = embedLLM
		}
	}

	if e.parser == nil && cfg.NLP.ParserURL != "" {
		e.parser = nlp.NewClient(cfg.NLP.ParserURL, time.Duration(cfg.NLP.TimeoutMS)*time.Millisecond)
	}

	if cfg.Store.DBPath != "" {
		s, err := store.New(cfg.Store.DBPath, cfg.LLM.EmbeddingDim)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		e.store = s
	}

	refs := e.loadContextRefs(context.Background())

	e.router = router.New(router.Config{
		SmallThreshold:  cfg.Router.SmallThreshold,
		LargeThreshold:  cfg.Router.LargeThreshold,
		ChunkingCeiling: cfg.Router.ChunkingCeiling,
	})
	if len(cfg.Waves) > 0 {
		e.router.WithPlans(cfg.Waves, nil, nil)
	}

	e.chunkr = chunker.New(chunker.Config{
		MaxChunkSize: cfg.Chunker.MaxChunkSize,
		OverlapSize:  cfg.Chunker.OverlapSize,
	})

	resolverOpts := []resolver.Option{
		resolver.WithRules(catalog),
		resolver.WithLogger(e.logger),
	}
	if e.embedder != nil {
		resolverOpts = append(resolverOpts, resolver.WithEmbedder(e.embedder), resolver.WithReferences(refs))
	}
	if e.parser != nil {
		resolverOpts = append(resolverOpts, resolver.WithParser(e.parser))
	}
	e.resolver = resolver.New(resolver.Config{
		Weights:             cfg.Resolver.Weights,
		ConfidenceThreshold: cfg.Resolver.ConfidenceThreshold,
		SignalTimeout:       time.Duration(cfg.Resolver.SignalTimeoutMS) * time.Millisecond,
		ContextRadius:       cfg.Resolver.ContextRadius,
	}, resolverOpts...)

	e.merger = merge.New(merge.Config{
		SimilarityThreshold: cfg.Merger.SimilarityThreshold,
		CrossTypeDedup:      cfg.Merger.CrossTypeDedup,
	})

	e.loaders = docload.NewRegistry()

	return e, nil
}

// buildBackend assembles the configured primary backend, wrapped in a
// failover to the secondary when one is configured.
func (e *engine) buildBackend() error {
	newOne := func(kind string) (extractor.SpanExtractor, error) {
		switch kind {
		case "rules":
			return extractor.NewRuleBased(e.catalog), nil
		case "model":
			provider, err := llm.NewProvider(llm.Config{
				Provider: e.cfg.LLM.Provider,
				Model:    e.cfg.LLM.Model,
				BaseURL:  e.cfg.LLM.BaseURL,
				APIKey:   e.cfg.LLM.APIKey,
			})
			if err != nil {
				return nil, fmt.Errorf("creating model backend: %w", err)
			}
			return extractor.NewModel(provider, extractor.WithHintRules(e.catalog)), nil
		default:
			return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, kind)
		}
	}

	primary, err := newOne(e.cfg.Backend.Primary)
	if err != nil {
		return err
	}

	if e.cfg.Backend.Secondary == "" || e.cfg.Backend.Secondary == e.cfg.Backend.Primary {
		e.backend = primary
		return nil
	}

	secondary, err := newOne(e.cfg.Backend.Secondary)
	if err != nil {
		return err
	}
	e.failover = extractor.NewFailover(primary, secondary, extractor.FailoverConfig{
		LatencyThreshold: time.Duration(e.cfg.Backend.FallbackLatencyMS) * time.Millisecond,
		ErrorRate:        e.cfg.Backend.FallbackErrorRate,
		MinSamples:       e.cfg.Backend.FallbackMinSamples,
	})
	e.backend = e.failover
	return nil
}

// loadContextRefs returns the per-tag reference vectors for the
// semantic signal, embedding and caching them on first use. Failures
// disable the signal but never the engine.
func (e *engine) loadContextRefs(ctx context.Context) map[string][]float32 {
	if e.embedder == nil {
		return nil
	}
	model := e.cfg.LLM.EmbedModel

	if e.store != nil {
		cached, err := e.store.AllContextRefs(ctx, model)
		if err == nil && len(cached) == len(resolver.Tags()) {
			return cached
		}
	}

	refs := make(map[string][]float32)
	for tag, texts := range resolver.ReferenceTexts() {
		vecs, err := e.embedder.Embed(ctx, texts)
		if err != nil || len(vecs) == 0 {
			e.logger.Warn("embedding context references failed, semantic signal disabled",
				"tag", tag, "error", err)
			return nil
		}
		refs[tag] = meanVector(vecs)
		if e.store != nil {
			if err := e.store.UpsertContextRef(ctx, tag, model, refs[tag]); err != nil {
				e.logger.Warn("caching context reference failed", "tag", tag, "error", err)
			}
		}
	}
	return refs
}

// meanVector averages a batch of embeddings into one reference vector.
func meanVector(vecs [][]float32) []float32 {
	if len(vecs) == 1 {
		return vecs[0]
	}
	out := make([]float32, len(vecs[0]))
	for _, v := range vecs {
		for i := range out {
			out[i] += v[i]
		}
	}
	for i := range out {
		out[i] /= float32(len(vecs))
	}
	return out
}

// Extract runs the full pipeline: validate, route, chunk, orchestrate,
// resolve, merge, persist.
func (e *engine) Extract(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if strings.TrimSpace(req.DocumentText) == "" {
		return nil, ErrEmptyDocument
	}
	if len(req.DocumentText) > e.cfg.MaxDocumentChars {
		return nil, fmt.Errorf("%w: %d chars, limit %d",
			ErrDocumentTooLarge, len(req.DocumentText), e.cfg.MaxDocumentChars)
	}

	docID := req.DocumentID
	if docID == "" {
		docID = newID()
	}
	runID := newID()

	decision, err := e.router.Route(req.DocumentText, router.Options{
		ForceStrategy:        req.ForceStrategy,
		GraphRAGMode:         req.GraphRAGMode,
		ExtractRelationships: req.ExtractRelationships,
	})
	if err != nil {
		if errors.Is(err, router.ErrUnknownStrategy) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, req.ForceStrategy)
		}
		return nil, err
	}

	chunks, forcedCuts := e.chunkDocument(req.DocumentText, decision)

	specs := e.applyBudgets(decision.Waves)
	orch := wave.NewOrchestrator(e.backend,
		wave.WithConcurrency(e.cfg.Concurrency),
		wave.WithRetryPolicy(extractor.RetryPolicy{
			MaxAttempts:    e.cfg.Retry.MaxAttempts,
			InitialBackoff: time.Duration(e.cfg.Retry.InitialBackoffMS) * time.Millisecond,
			MaxBackoff:     time.Duration(e.cfg.Retry.MaxBackoffMS) * time.Millisecond,
		}),
		wave.WithLogger(e.logger),
	)

	waveResult, err := orch.Execute(ctx, req.DocumentText, chunks, specs)
	if err != nil {
		if errors.Is(err, wave.ErrAllUnitsFailed) {
			cause := ""
			if len(waveResult.Failures) > 0 {
				cause = waveResult.Failures[0].Error
			}
			return nil, fmt.Errorf("%w: %s", ErrExtractionFailed, cause)
		}
		return nil, err
	}

	resolved := e.resolver.ResolveAll(ctx, req.DocumentText, waveResult.Entities)
	fallbacks := 0
	for _, rc := range resolved {
		if rc.Fallback {
			fallbacks++
		}
	}

	merged := e.merger.Merge(waveResult.Entities)

	result := &Result{
		DocumentID: docID,
		RunID:      runID,
		Entities:   merged,
		RoutingDecision: RoutingInfo{
			Strategy:          decision.Strategy,
			WavesExecuted:     wave.Names(decision.Waves),
			Relationships:     decision.Relationships,
			RequiresChunking:  decision.RequiresChunking,
			EstimatedDuration: decision.EstimatedDuration.String(),
		},
		ProcessingStats: ProcessingStats{
			Chunks:           len(chunks),
			ForcedCuts:       forcedCuts,
			UnitsTotal:       waveResult.UnitsTotal,
			UnitsCompleted:   waveResult.UnitsCompleted,
			UnitFailures:     waveResult.Failures,
			WaveStats:        waveResult.WaveStats,
			EntitiesRaw:      len(waveResult.Entities),
			EntitiesMerged:   len(merged),
			ContextFallbacks: fallbacks,
			BackendFallback:  e.failover != nil && e.failover.Engaged(),
			DurationMS:       time.Since(start).Milliseconds(),
		},
	}

	// Degraded runs are still successful runs; the stats say why.
	// Any partial failure or quality flag counts: failed units, forced
	// chunk cuts, backend fallback, or context resolution falling back
	// to the static tables.
	result.Status = StatusComplete
	if len(waveResult.Failures) > 0 || forcedCuts > 0 || fallbacks > 0 ||
		result.ProcessingStats.BackendFallback {
		result.Status = StatusDegraded
	}

	e.persist(ctx, req, result)

	e.logger.Info("extraction run finished",
		"document_id", docID,
		"run_id", runID,
		"strategy", decision.Strategy,
		"status", result.Status,
		"entities", len(merged),
		"duration_ms", result.ProcessingStats.DurationMS,
	)
	return result, nil
}

// ExtractFile loads a file through the format registry and extracts
// from its text.
func (e *engine) ExtractFile(ctx context.Context, path string, req Request) (*Result, error) {
	text, err := e.loaders.LoadFile(ctx, path)
	if err != nil {
		if errors.Is(err, docload.ErrUnknownFormat) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
		}
		return nil, err
	}
	req.DocumentText = text
	if req.DocumentID == "" {
		req.DocumentID = filepath.Base(path)
	}
	if req.Metadata == nil {
		req.Metadata = map[string]any{}
	}
	req.Metadata["source"] = path
	return e.Extract(ctx, req)
}

func (e *engine) Store() *store.Store { return e.store }

func (e *engine) Close() error {
	if e.store != nil {
		return e.store.Close()
	}
	return nil
}

// chunkDocument splits when the decision requires it, and otherwise
// wraps the whole document in a single zero-offset chunk.
func (e *engine) chunkDocument(document string, decision router.Decision) ([]chunker.Chunk, int) {
	if !decision.RequiresChunking {
		return []chunker.Chunk{{
			Index:     0,
			EndOffset: len(document),
			Text:      document,
		}}, 0
	}
	chunks := e.chunkr.Split(document)
	forced := 0
	for _, ch := range chunks {
		if ch.ForcedCut {
			forced++
		}
	}
	return chunks, forced
}

// applyBudgets fills in the default per-unit timeout on waves that do
// not carry their own.
func (e *engine) applyBudgets(specs []wave.Spec) []wave.Spec {
	out := make([]wave.Spec, len(specs))
	copy(out, specs)
	for i := range out {
		if out[i].Timeout == 0 {
			out[i].Timeout = e.cfg.backendTimeout()
		}
	}
	return out
}

// persist stores the run when a store is configured. Persistence
// failures are logged, never surfaced: the response is already built.
func (e *engine) persist(ctx context.Context, req Request, result *Result) {
	if e.store == nil {
		return
	}

	var metadata string
	if len(req.Metadata) > 0 {
		if b, err := json.Marshal(req.Metadata); err == nil {
			metadata = string(b)
		}
	}
	source, _ := req.Metadata["source"].(string)

	if _, err := e.store.UpsertDocument(ctx, store.Document{
		DocumentID:  result.DocumentID,
		Source:      source,
		ContentHash: store.HashContent(req.DocumentText),
		CharCount:   len(req.DocumentText),
		Metadata:    metadata,
	}); err != nil {
		e.logger.Warn("persisting document failed", "document_id", result.DocumentID, "error", err)
		return
	}

	waves, _ := json.Marshal(result.RoutingDecision.WavesExecuted)
	stats, _ := json.Marshal(result.ProcessingStats)
	if err := e.store.InsertRun(ctx, store.Run{
		ID:         result.RunID,
		DocumentID: result.DocumentID,
		Strategy:   result.RoutingDecision.Strategy,
		Waves:      string(waves),
		Stats:      string(stats),
		Status:     result.Status,
		DurationMS: result.ProcessingStats.DurationMS,
	}); err != nil {
		e.logger.Warn("persisting run failed", "run_id", result.RunID, "error", err)
		return
	}

	if err := e.store.InsertRunEntities(ctx, result.RunID, result.Entities); err != nil {
		e.logger.Warn("persisting entities failed", "run_id", result.RunID, "error", err)
	}
}

// newID returns a ULID for run and document identifiers.
func newID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
