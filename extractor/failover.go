package extractor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// FailoverConfig sets the health thresholds that flip extraction from
// the primary to the secondary backend.
type FailoverConfig struct {
	LatencyThreshold time.Duration // smoothed primary latency above this engages the fallback
	ErrorRate        float64       // primary failure fraction above this engages the fallback
	MinSamples       int           // primary calls observed before the flag may flip
}

// Failover routes extraction to a primary backend until its health
// degrades, then to the secondary for the rest of the process lifetime.
// The backend choice is made once per unit, never mid-call, and the
// switch flag has a single writer guarded by the mutex while readers
// take the read lock.
type Failover struct {
	primary   SpanExtractor
	secondary SpanExtractor
	cfg       FailoverConfig

	mu       sync.RWMutex
	engaged  bool
	ewma     time.Duration
	calls    int
	failures int
}

// NewFailover wraps primary with a health-triggered fallback to
// secondary. Zero config fields get defaults.
func NewFailover(primary, secondary SpanExtractor, cfg FailoverConfig) *Failover {
	if cfg.LatencyThreshold == 0 {
		cfg.LatencyThreshold = 15 * time.Second
	}
	if cfg.ErrorRate == 0 {
		cfg.ErrorRate = 0.5
	}
	if cfg.MinSamples == 0 {
		cfg.MinSamples = 3
	}
	return &Failover{primary: primary, secondary: secondary, cfg: cfg}
}

func (f *Failover) Name() string { return "failover" }

// Engaged reports whether extraction has switched to the secondary.
func (f *Failover) Engaged() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.engaged
}

func (f *Failover) pick() SpanExtractor {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.engaged {
		return f.secondary
	}
	return f.primary
}

// ExtractSpans delegates to the currently healthy backend and feeds the
// primary's latency and outcome into the health state.
func (f *Failover) ExtractSpans(ctx context.Context, text string, entityTypes []string, budget Budget) ([]Entity, error) {
	backend := f.pick()
	start := time.Now()
	entities, err := backend.ExtractSpans(ctx, text, entityTypes, budget)
	if backend == f.primary {
		f.record(time.Since(start), err)
	}
	return entities, err
}

// ExtractRelations forwards the relationship capability when the chosen
// backend has it, and degrades to a plain relationship-typed span pass
// otherwise.
func (f *Failover) ExtractRelations(ctx context.Context, text string, prior []Entity, budget Budget) ([]Entity, error) {
	backend := f.pick()
	start := time.Now()
	var entities []Entity
	var err error
	if rel, ok := backend.(RelationshipExtractor); ok {
		entities, err = rel.ExtractRelations(ctx, text, prior, budget)
	} else {
		entities, err = backend.ExtractSpans(ctx, text, []string{TypeRelationship}, budget)
	}
	if backend == f.primary {
		f.record(time.Since(start), err)
	}
	return entities, err
}

// record updates the primary's health under the write lock and flips
// the switch at most once.
func (f *Failover) record(latency time.Duration, err error) {
	if errors.Is(err, context.Canceled) {
		// Caller went away; says nothing about backend health.
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if err != nil {
		f.failures++
	}
	if f.ewma == 0 {
		f.ewma = latency
	} else {
		f.ewma = (latency + 4*f.ewma) / 5
	}

	if f.engaged || f.secondary == nil || f.calls < f.cfg.MinSamples {
		return
	}
	rate := float64(f.failures) / float64(f.calls)
	if f.ewma > f.cfg.LatencyThreshold || rate > f.cfg.ErrorRate {
		f.engaged = true
		slog.Warn("extractor: primary backend degraded, switching to secondary",
			"primary", f.primary.Name(),
			"secondary", f.secondary.Name(),
			"latency_ewma", f.ewma,
			"error_rate", rate,
		)
	}
}
