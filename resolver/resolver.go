// Package resolver assigns a contextual role to each extracted entity
// by fusing four independent signals in a weighted vote: pattern
// indicators near the span, embedding similarity against per-tag
// reference vectors, the span's syntactic role in its sentence, and the
// enclosing document section. Any signal may be unavailable; the
// remaining weights re-normalize and resolution always produces an
// assignment, falling back to a static per-entity-type table when the
// vote is inconclusive.
package resolver

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/brianjwalters/entity-extraction-service-sub000/chunker"
	"github.com/brianjwalters/entity-extraction-service-sub000/extractor"
	"github.com/brianjwalters/entity-extraction-service-sub000/nlp"
	"github.com/brianjwalters/entity-extraction-service-sub000/rules"
)

// Signal names, as they appear in ResolvedContext.Signals.
const (
	SignalPattern    = "pattern"
	SignalSemantic   = "semantic"
	SignalDependency = "dependency"
	SignalSection    = "section"
)

// fallbackConfidence is reported when resolution falls back to the
// static table.
const fallbackConfidence = 0.5

// Weights are the per-signal vote weights. They are re-normalized over
// the signals that actually produced scores, so they need not sum to 1.
type Weights struct {
	Pattern    float64 `json:"pattern" yaml:"pattern"`
	Semantic   float64 `json:"semantic" yaml:"semantic"`
	Dependency float64 `json:"dependency" yaml:"dependency"`
	Section    float64 `json:"section" yaml:"section"`
}

// Config controls resolution.
type Config struct {
	Weights             Weights       `json:"weights" yaml:"weights"`
	ConfidenceThreshold float64       `json:"confidence_threshold" yaml:"confidence_threshold"`
	SignalTimeout       time.Duration `json:"signal_timeout" yaml:"signal_timeout"`
	ContextRadius       int           `json:"context_radius" yaml:"context_radius"`
}

// DefaultConfig returns the stock resolution parameters.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Pattern:    0.30,
			Semantic:   0.35,
			Dependency: 0.20,
			Section:    0.15,
		},
		ConfidenceThreshold: 0.6,
		SignalTimeout:       2 * time.Second,
		ContextRadius:       240,
	}
}

// Embedder is the capability the semantic signal needs. llm.Provider
// satisfies it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ResolvedContext is the outcome of resolving one entity. Signals holds
// the per-signal normalized scores by tag, for explainability.
type ResolvedContext struct {
	PrimaryContext string                        `json:"primary_context"`
	Confidence     float64                       `json:"confidence"`
	Fallback       bool                          `json:"fallback,omitempty"`
	Signals        map[string]map[string]float64 `json:"signals,omitempty"`
}

// Resolver fuses the four context signals.
type Resolver struct {
	cfg      Config
	rules    rules.Provider
	embedder Embedder
	refs     map[string][]float32 // context tag -> reference vector
	parser   nlp.Parser
	logger   *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRules supplies the rule catalog backing the pattern signal.
func WithRules(p rules.Provider) Option {
	return func(r *Resolver) { r.rules = p }
}

// WithEmbedder supplies the embedding client for the semantic signal.
func WithEmbedder(e Embedder) Option {
	return func(r *Resolver) { r.embedder = e }
}

// WithReferences supplies the per-tag reference vectors the semantic
// signal compares against. Without them the signal is unavailable even
// when an embedder is configured.
func WithReferences(refs map[string][]float32) Option {
	return func(r *Resolver) { r.refs = refs }
}

// WithParser supplies the dependency-parse sidecar client.
func WithParser(p nlp.Parser) Option {
	return func(r *Resolver) { r.parser = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New returns a Resolver. Signals whose collaborator is not configured
// are simply unavailable; at minimum the section signal always runs.
func New(cfg Config, opts ...Option) *Resolver {
	if cfg.SignalTimeout <= 0 {
		cfg.SignalTimeout = DefaultConfig().SignalTimeout
	}
	if cfg.ContextRadius <= 0 {
		cfg.ContextRadius = DefaultConfig().ContextRadius
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfig().ConfidenceThreshold
	}
	zero := Weights{}
	if cfg.Weights == zero {
		cfg.Weights = DefaultConfig().Weights
	}
	r := &Resolver{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveAll resolves every entity and attaches the outcome to its
// metadata under primary_context, context_confidence and, when the
// static table was used, context_fallback. Section boundaries are
// detected once per document.
func (r *Resolver) ResolveAll(ctx context.Context, document string, entities []extractor.Entity) []ResolvedContext {
	sections := chunker.DetectSections(document)
	out := make([]ResolvedContext, len(entities))
	for i := range entities {
		rc := r.Resolve(ctx, document, entities[i], sections)
		out[i] = rc
		entities[i].SetMeta("primary_context", rc.PrimaryContext)
		entities[i].SetMeta("context_confidence", rc.Confidence)
		if rc.Fallback {
			entities[i].SetMeta("context_fallback", true)
		}
	}
	return out
}

// signalResult is one signal's raw tag scores, or its absence.
type signalResult struct {
	name   string
	weight float64
	scores map[string]float64
	err    error
}

// Resolve runs the four signals concurrently, each under its own
// sub-timeout, and combines their votes. It never returns an error: a
// failed or empty signal drops out of the vote, and an inconclusive
// vote falls back to the static table.
func (r *Resolver) Resolve(ctx context.Context, document string, e extractor.Entity, sections []chunker.Section) ResolvedContext {
	type signalFn func(ctx context.Context) (map[string]float64, error)

	signals := []struct {
		name   string
		weight float64
		fn     signalFn
	}{
		{SignalPattern, r.cfg.Weights.Pattern, func(ctx context.Context) (map[string]float64, error) {
			return r.patternSignal(document, e), nil
		}},
		{SignalSemantic, r.cfg.Weights.Semantic, func(ctx context.Context) (map[string]float64, error) {
			return r.semanticSignal(ctx, document, e)
		}},
		{SignalDependency, r.cfg.Weights.Dependency, func(ctx context.Context) (map[string]float64, error) {
			return r.dependencySignal(ctx, document, e)
		}},
		{SignalSection, r.cfg.Weights.Section, func(ctx context.Context) (map[string]float64, error) {
			return r.sectionSignal(e, sections), nil
		}},
	}

	results := make([]signalResult, len(signals))
	var wg sync.WaitGroup
	for i, sig := range signals {
		wg.Add(1)
		go func(i int, name string, weight float64, fn signalFn) {
			defer wg.Done()
			sctx, cancel := context.WithTimeout(ctx, r.cfg.SignalTimeout)
			defer cancel()
			scores, err := fn(sctx)
			results[i] = signalResult{name: name, weight: weight, scores: scores, err: err}
		}(i, sig.name, sig.weight, sig.fn)
	}
	wg.Wait()

	return r.combine(e, results)
}

// combine normalizes each contributing signal to [0,1], re-normalizes
// the weights over contributing signals, sums votes by tag, and applies
// the confidence threshold.
func (r *Resolver) combine(e extractor.Entity, results []signalResult) ResolvedContext {
	rc := ResolvedContext{Signals: make(map[string]map[string]float64)}

	var contributing []signalResult
	var weightSum float64
	for _, res := range results {
		if res.err != nil {
			r.logger.Debug("resolver: signal unavailable",
				"signal", res.name, "entity_type", e.EntityType, "error", res.err)
			continue
		}
		if len(res.scores) == 0 || res.weight <= 0 {
			continue
		}
		res.scores = normalize(res.scores)
		if len(res.scores) == 0 {
			continue
		}
		rc.Signals[res.name] = res.scores
		contributing = append(contributing, res)
		weightSum += res.weight
	}

	if len(contributing) == 0 || weightSum == 0 {
		rc.PrimaryContext = FallbackFor(e.EntityType)
		rc.Confidence = fallbackConfidence
		rc.Fallback = true
		return rc
	}

	combined := make(map[string]float64)
	for _, res := range contributing {
		w := res.weight / weightSum
		for tag, score := range res.scores {
			combined[tag] += w * score
		}
	}

	tag, score := topTag(combined, contributing)
	if score < r.cfg.ConfidenceThreshold {
		rc.PrimaryContext = FallbackFor(e.EntityType)
		rc.Confidence = fallbackConfidence
		rc.Fallback = true
		return rc
	}

	rc.PrimaryContext = tag
	rc.Confidence = score
	return rc
}

// normalize scales scores so the best tag reads 1.0.
func normalize(scores map[string]float64) map[string]float64 {
	var max float64
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	if max <= 0 {
		return nil
	}
	out := make(map[string]float64, len(scores))
	for tag, s := range scores {
		if s > 0 {
			out[tag] = s / max
		}
	}
	return out
}

// topTag picks the winning tag. Ties break toward the tag favored by
// the highest-weighted signal that produced scores; remaining ties
// break lexicographically for determinism.
func topTag(combined map[string]float64, contributing []signalResult) (string, float64) {
	var best float64
	for _, s := range combined {
		if s > best {
			best = s
		}
	}

	var tied []string
	for tag, s := range combined {
		if best-s < 1e-9 {
			tied = append(tied, tag)
		}
	}
	sort.Strings(tied)
	if len(tied) == 1 {
		return tied[0], best
	}

	// Favorite tag of the heaviest contributing signal.
	sort.SliceStable(contributing, func(i, j int) bool {
		return contributing[i].weight > contributing[j].weight
	})
	for _, res := range contributing {
		fav, ok := favorite(res.scores)
		if !ok {
			continue
		}
		for _, tag := range tied {
			if tag == fav {
				return tag, best
			}
		}
	}
	return tied[0], best
}

// favorite returns the signal's own top tag, ties broken
// lexicographically.
func favorite(scores map[string]float64) (string, bool) {
	var (
		bestTag   string
		bestScore = math.Inf(-1)
	)
	for tag, s := range scores {
		if s > bestScore || (s == bestScore && tag < bestTag) {
			bestTag, bestScore = tag, s
		}
	}
	return bestTag, bestTag != ""
}
