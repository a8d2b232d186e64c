package wave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brianjwalters/entity-extraction-service-sub000/chunker"
	"github.com/brianjwalters/entity-extraction-service-sub000/extractor"
)

// ErrAllUnitsFailed is returned when every chunk×wave unit failed and
// no entities were collected.
var ErrAllUnitsFailed = errors.New("wave: all extraction units failed")

// defaultConcurrency caps concurrent chunk×wave units when the caller
// does not configure a limit.
const defaultConcurrency = 4

// UnitFailure records one failed chunk×wave unit. Failures never abort
// the run; they surface in processing stats.
type UnitFailure struct {
	Chunk int    `json:"chunk"`
	Wave  string `json:"wave"`
	Error string `json:"error"`
}

// Stats counts one wave's candidates before and after its confidence
// floor, summed across chunks.
type Stats struct {
	Wave       string `json:"wave"`
	Candidates int    `json:"candidates"`
	Accepted   int    `json:"accepted"`
}

// Result is the outcome of one orchestrated run. Entities carry
// document-global offsets.
type Result struct {
	Entities       []extractor.Entity
	WaveStats      []Stats
	Failures       []UnitFailure
	UnitsTotal     int
	UnitsCompleted int
}

// Orchestrator executes wave plans against document chunks through a
// bounded worker pool.
type Orchestrator struct {
	backend     extractor.SpanExtractor
	retry       extractor.RetryPolicy
	concurrency int
	logger      *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency caps the number of concurrently executing units.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithRetryPolicy overrides the per-unit retry policy.
func WithRetryPolicy(p extractor.RetryPolicy) Option {
	return func(o *Orchestrator) { o.retry = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator returns an Orchestrator over the given backend.
func NewOrchestrator(backend extractor.SpanExtractor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:     backend,
		retry:       extractor.DefaultRetryPolicy(),
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run tracks the shared state of one Execute call.
type run struct {
	mu        sync.Mutex
	entities  []extractor.Entity
	stats     map[string]*Stats
	failures  []UnitFailure
	completed int
}

// Execute runs every wave of the plan against every chunk. Chunks run
// concurrently; waves without a prior-entity dependency run
// concurrently within a chunk, dependent waves run after them. One
// chunk×wave unit is the boundary of timeout, retry and failure: a
// failed unit is recorded and skipped, never propagated.
//
// On cancellation Execute returns whatever entities were collected so
// far; ErrAllUnitsFailed is returned only when no unit completed.
func (o *Orchestrator) Execute(ctx context.Context, document string, chunks []chunker.Chunk, specs []Spec) (*Result, error) {
	if o.backend == nil {
		return nil, fmt.Errorf("wave: no extraction backend configured")
	}
	if len(chunks) == 0 || len(specs) == 0 {
		return &Result{}, nil
	}

	var independent, dependent []Spec
	for _, s := range specs {
		if s.RequiresPrior {
			dependent = append(dependent, s)
		} else {
			independent = append(independent, s)
		}
	}

	st := &run{stats: make(map[string]*Stats, len(specs))}
	for _, s := range specs {
		st.stats[s.Name] = &Stats{Wave: s.Name}
	}

	start := time.Now()
	sem := make(chan struct{}, o.concurrency)
	var wg sync.WaitGroup

	for _, ch := range chunks {
		wg.Add(1)
		go func(ch chunker.Chunk) {
			defer wg.Done()
			o.processChunk(ctx, sem, st, document, ch, independent, dependent)
		}(ch)
	}
	wg.Wait()

	result := &Result{
		Entities:       st.entities,
		Failures:       st.failures,
		UnitsTotal:     len(chunks) * len(specs),
		UnitsCompleted: st.completed,
	}
	for _, s := range specs {
		result.WaveStats = append(result.WaveStats, *st.stats[s.Name])
	}

	o.logger.Info("wave: run complete",
		"chunks", len(chunks),
		"waves", len(specs),
		"units_completed", result.UnitsCompleted,
		"units_failed", len(result.Failures),
		"entities", len(result.Entities),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	if result.UnitsCompleted == 0 {
		return result, ErrAllUnitsFailed
	}
	return result, nil
}

// processChunk runs the plan for one chunk: independent waves fan out
// through the pool, then dependent waves run with the chunk's collected
// entities as prior context.
func (o *Orchestrator) processChunk(ctx context.Context, sem chan struct{}, st *run, document string, ch chunker.Chunk, independent, dependent []Spec) {
	var (
		priorMu sync.Mutex
		prior   []extractor.Entity // chunk-local spans, for relationship conditioning
	)

	var wg sync.WaitGroup
	for _, spec := range independent {
		wg.Add(1)
		go func(spec Spec) {
			defer wg.Done()
			accepted := o.runUnit(ctx, sem, st, document, ch, spec, nil)
			priorMu.Lock()
			prior = append(prior, accepted...)
			priorMu.Unlock()
		}(spec)
	}
	wg.Wait()

	for _, spec := range dependent {
		o.runUnit(ctx, sem, st, document, ch, spec, prior)
	}
}

// runUnit executes one chunk×wave unit: acquire a pool slot, invoke the
// backend under the retry policy and the wave budget, apply the
// confidence floor, and remap offsets to document coordinates. It
// returns the accepted entities in chunk-local coordinates.
func (o *Orchestrator) runUnit(ctx context.Context, sem chan struct{}, st *run, document string, ch chunker.Chunk, spec Spec, prior []extractor.Entity) []extractor.Entity {
	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		st.fail(ch.Index, spec.Name, ctx.Err())
		return nil
	}

	budget := extractor.Budget{MaxTokens: spec.MaxTokens, Timeout: spec.Timeout}
	op := fmt.Sprintf("chunk %d wave %s", ch.Index, spec.Name)

	var candidates []extractor.Entity
	err := o.retry.Do(ctx, op, func(ctx context.Context) error {
		unitCtx := ctx
		if spec.Timeout > 0 {
			var cancel context.CancelFunc
			unitCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
			defer cancel()
		}

		var callErr error
		if spec.RequiresPrior {
			if rel, ok := o.backend.(extractor.RelationshipExtractor); ok {
				candidates, callErr = rel.ExtractRelations(unitCtx, ch.Text, prior, budget)
			} else {
				candidates, callErr = o.backend.ExtractSpans(unitCtx, ch.Text, spec.EntityTypes, budget)
			}
		} else {
			candidates, callErr = o.backend.ExtractSpans(unitCtx, ch.Text, spec.EntityTypes, budget)
		}
		return callErr
	})
	if err != nil {
		o.logger.Warn("wave: unit failed",
			"chunk", ch.Index,
			"wave", spec.Name,
			"error", err,
		)
		st.fail(ch.Index, spec.Name, err)
		return nil
	}

	// Floor, validate, and remap. Remapping happens here, immediately on
	// receipt; nothing downstream ever sees chunk-local offsets.
	accepted := make([]extractor.Entity, 0, len(candidates))
	remapped := make([]extractor.Entity, 0, len(candidates))
	for _, e := range candidates {
		if e.Confidence < spec.MinConfidence {
			continue
		}
		if e.Validate() != nil || e.EndPos > len(ch.Text) {
			continue
		}

		g := e
		g.StartPos += ch.StartOffset
		g.EndPos += ch.StartOffset
		g.SetMeta("wave", spec.Name)
		if document[g.StartPos:g.EndPos] != g.Text {
			// Backend returned text that does not match its own span.
			// Rejected entities must not reach dependent waves as prior
			// context, so this check gates acceptance too.
			continue
		}
		accepted = append(accepted, e)
		remapped = append(remapped, g)
	}

	st.complete(spec.Name, len(candidates), len(accepted), remapped)
	return accepted
}

func (st *run) fail(chunk int, wave string, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.failures = append(st.failures, UnitFailure{Chunk: chunk, Wave: wave, Error: err.Error()})
}

func (st *run) complete(wave string, candidates, accepted int, entities []extractor.Entity) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.stats[wave]
	s.Candidates += candidates
	s.Accepted += accepted
	st.entities = append(st.entities, entities...)
	st.completed++
}
