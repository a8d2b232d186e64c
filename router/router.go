// Package router classifies an incoming document into a processing
// strategy: which extraction waves to run, whether relationships are
// extracted, and whether the document must be chunked first.
//
// Routing is a pure function of document length and request flags. The
// router never touches the network or storage, so the same document and
// options always produce the same decision.
package router

import (
	"errors"
	"fmt"
	"time"

	"github.com/brianjwalters/entity-extraction-service-sub000/wave"
)

// Processing strategies.
const (
	StrategySinglePass       = "single_pass"
	StrategyMultiWave        = "multi_wave"
	StrategyChunkedMultiWave = "chunked_multi_wave"
)

// ErrUnknownStrategy is returned when a caller forces a strategy the
// router does not recognize. An unknown override is a validation error,
// never a silent fallback.
var ErrUnknownStrategy = errors.New("router: unknown strategy")

// Config carries the routing thresholds. The chunking ceiling is
// independent from the large-document threshold: a multi-wave document
// below the large threshold can still require chunking, and vice versa.
type Config struct {
	SmallThreshold  int `json:"small_threshold" yaml:"small_threshold"`
	LargeThreshold  int `json:"large_threshold" yaml:"large_threshold"`
	ChunkingCeiling int `json:"chunking_ceiling" yaml:"chunking_ceiling"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		SmallThreshold:  5000,
		LargeThreshold:  20000,
		ChunkingCeiling: 15000,
	}
}

// Options are the per-request routing inputs.
type Options struct {
	// ForceStrategy bypasses size-based selection. Must be a known
	// strategy name; anything else is rejected.
	ForceStrategy string

	// GraphRAGMode requests relationship extraction unconditionally and
	// always selects the richest wave plan regardless of size.
	GraphRAGMode bool

	// ExtractRelationships requests relationships conditionally: they
	// are enabled only when the document is large enough to justify the
	// extra waves.
	ExtractRelationships bool
}

// Decision is the routing outcome for one document.
type Decision struct {
	Strategy          string        `json:"strategy"`
	Waves             []wave.Spec   `json:"waves"`
	Relationships     bool          `json:"relationships"`
	RequiresChunking  bool          `json:"requires_chunking"`
	DocumentChars     int           `json:"document_chars"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
}

// Router selects a strategy from document size and request flags.
type Router struct {
	cfg Config

	fullPlan       []wave.Spec // multi-wave incl. relationship wave
	threeStagePlan []wave.Spec // lighter plan, no relationships
	singlePassPlan []wave.Spec
}

// New returns a Router with the default wave plans.
func New(cfg Config) *Router {
	if cfg.SmallThreshold <= 0 {
		cfg.SmallThreshold = DefaultConfig().SmallThreshold
	}
	if cfg.LargeThreshold <= 0 {
		cfg.LargeThreshold = DefaultConfig().LargeThreshold
	}
	if cfg.ChunkingCeiling <= 0 {
		cfg.ChunkingCeiling = DefaultConfig().ChunkingCeiling
	}
	return &Router{
		cfg:            cfg,
		fullPlan:       wave.DefaultPlan(),
		threeStagePlan: wave.ThreeStagePlan(),
		singlePassPlan: wave.SinglePassPlan(),
	}
}

// WithPlans overrides the built-in wave plans, e.g. with waves loaded
// from configuration. A nil plan keeps the built-in one.
func (r *Router) WithPlans(full, threeStage, singlePass []wave.Spec) *Router {
	if full != nil {
		r.fullPlan = full
	}
	if threeStage != nil {
		r.threeStagePlan = threeStage
	}
	if singlePass != nil {
		r.singlePassPlan = singlePass
	}
	return r
}

// Route classifies the document. Priority order, first match wins:
// explicit override, graphrag flag, conditional relationships on a
// sufficiently large document, large document, small-medium band,
// single pass.
func (r *Router) Route(document string, opts Options) (Decision, error) {
	size := len(document)

	if opts.ForceStrategy != "" {
		return r.forced(size, opts)
	}

	if opts.GraphRAGMode {
		return r.decide(size, StrategyMultiWave, r.fullPlan, true), nil
	}

	if opts.ExtractRelationships && size > r.cfg.SmallThreshold {
		return r.decide(size, StrategyMultiWave, r.fullPlan, true), nil
	}

	if size > r.cfg.LargeThreshold {
		return r.decide(size, StrategyMultiWave, withoutPrior(r.fullPlan), false), nil
	}

	if size > r.cfg.SmallThreshold {
		return r.decide(size, StrategyMultiWave, r.threeStagePlan, false), nil
	}

	return r.decide(size, StrategySinglePass, r.singlePassPlan, false), nil
}

// forced handles an explicit strategy override.
func (r *Router) forced(size int, opts Options) (Decision, error) {
	relationships := opts.GraphRAGMode || opts.ExtractRelationships

	switch opts.ForceStrategy {
	case StrategySinglePass:
		return r.decide(size, StrategySinglePass, r.singlePassPlan, false), nil
	case StrategyMultiWave:
		plan := r.fullPlan
		if !relationships {
			plan = withoutPrior(r.fullPlan)
		}
		return r.decide(size, StrategyMultiWave, plan, relationships), nil
	case StrategyChunkedMultiWave:
		plan := r.fullPlan
		if !relationships {
			plan = withoutPrior(r.fullPlan)
		}
		d := r.decide(size, StrategyChunkedMultiWave, plan, relationships)
		d.RequiresChunking = true
		d.Strategy = StrategyChunkedMultiWave
		return d, nil
	default:
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, opts.ForceStrategy)
	}
}

// decide assembles a Decision, applying the chunking ceiling. A
// multi-wave run over a document above the ceiling is reported as
// chunked_multi_wave.
func (r *Router) decide(size int, strategy string, plan []wave.Spec, relationships bool) Decision {
	d := Decision{
		Strategy:      strategy,
		Waves:         plan,
		Relationships: relationships,
		DocumentChars: size,
	}
	if size > r.cfg.ChunkingCeiling {
		d.RequiresChunking = true
		if d.Strategy == StrategyMultiWave {
			d.Strategy = StrategyChunkedMultiWave
		}
	}
	d.EstimatedDuration = estimateDuration(size, len(plan))
	return d
}

// withoutPrior strips relationship waves from a plan.
func withoutPrior(plan []wave.Spec) []wave.Spec {
	out := make([]wave.Spec, 0, len(plan))
	for _, s := range plan {
		if !s.RequiresPrior {
			out = append(out, s)
		}
	}
	return out
}

// estimateDuration is a coarse cost estimate for observability only:
// roughly one second of backend time per wave per 8,000 characters.
func estimateDuration(size, waves int) time.Duration {
	units := size/8000 + 1
	return time.Duration(units*waves) * time.Second
}
