package resolver

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/brianjwalters/entity-extraction-service-sub000/chunker"
	"github.com/brianjwalters/entity-extraction-service-sub000/extractor"
	"github.com/brianjwalters/entity-extraction-service-sub000/nlp"
	"github.com/brianjwalters/entity-extraction-service-sub000/rules"
)

const scoreTolerance = 1e-6

func approx(got, want float64) bool { return math.Abs(got-want) < scoreTolerance }

// ---------------------------------------------------------------------------
// Vote arithmetic
// ---------------------------------------------------------------------------

func TestCombineWeightedVote(t *testing.T) {
	r := New(DefaultConfig())
	e := extractor.Entity{EntityType: extractor.TypeMoney}

	results := []signalResult{
		{name: SignalPattern, weight: 0.30, scores: map[string]float64{ContextFinancial: 2.0, ContextOperative: 1.0}},
		{name: SignalSemantic, weight: 0.35, scores: map[string]float64{ContextFinancial: 0.8}},
		{name: SignalDependency, weight: 0.20, scores: map[string]float64{ContextOperative: 1.0}},
		{name: SignalSection, weight: 0.15, scores: map[string]float64{ContextFinancial: 1.0}},
	}

	rc := r.combine(e, results)

	// All four signals contribute; weights sum to 1 and financial wins
	// with 0.30*1.0 + 0.35*1.0 + 0.15*1.0 = 0.80.
	if rc.PrimaryContext != ContextFinancial {
		t.Fatalf("PrimaryContext = %q, want %q", rc.PrimaryContext, ContextFinancial)
	}
	if !approx(rc.Confidence, 0.80) {
		t.Errorf("Confidence = %v, want 0.80", rc.Confidence)
	}
	if rc.Fallback {
		t.Error("vote was conclusive; fallback must not be set")
	}
	// Pattern scores normalize against their own max (2.0).
	if !approx(rc.Signals[SignalPattern][ContextOperative], 0.5) {
		t.Errorf("normalized pattern score = %v, want 0.5", rc.Signals[SignalPattern][ContextOperative])
	}
}

func TestCombineReNormalizesMissingSignals(t *testing.T) {
	r := New(DefaultConfig())
	e := extractor.Entity{EntityType: extractor.TypeParty}

	// Semantic and dependency signals are absent; pattern and section
	// weights re-normalize to 0.30/0.45 and 0.15/0.45.
	results := []signalResult{
		{name: SignalPattern, weight: 0.30, scores: map[string]float64{ContextPartyIdentification: 1.0}},
		{name: SignalSemantic, weight: 0.35, err: errors.New("embedder down")},
		{name: SignalDependency, weight: 0.20},
		{name: SignalSection, weight: 0.15, scores: map[string]float64{ContextRecital: 1.0}},
	}

	rc := r.combine(e, results)

	if rc.PrimaryContext != ContextPartyIdentification {
		t.Fatalf("PrimaryContext = %q, want %q", rc.PrimaryContext, ContextPartyIdentification)
	}
	if !approx(rc.Confidence, 0.30/0.45) {
		t.Errorf("Confidence = %v, want %v", rc.Confidence, 0.30/0.45)
	}
	if _, ok := rc.Signals[SignalSemantic]; ok {
		t.Error("errored signal must not appear in Signals")
	}
}

func TestCombineThresholdFallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfidenceThreshold = 0.9
	r := New(cfg)
	e := extractor.Entity{EntityType: extractor.TypeCitation}

	// Two disagreeing signals: neither tag can reach 0.9.
	results := []signalResult{
		{name: SignalPattern, weight: 0.30, scores: map[string]float64{ContextOperative: 1.0}},
		{name: SignalSemantic, weight: 0.35, scores: map[string]float64{ContextRecital: 1.0}},
	}

	rc := r.combine(e, results)

	if !rc.Fallback {
		t.Fatal("inconclusive vote must fall back")
	}
	if rc.PrimaryContext != ContextCitation {
		t.Errorf("fallback context = %q, want %q (static table for citation)", rc.PrimaryContext, ContextCitation)
	}
	if rc.Confidence != fallbackConfidence {
		t.Errorf("fallback confidence = %v, want %v", rc.Confidence, fallbackConfidence)
	}
	if len(rc.Signals) != 2 {
		t.Error("per-signal scores must survive the fallback for explainability")
	}
}

func TestCombineNoSignalsFallsBack(t *testing.T) {
	r := New(DefaultConfig())
	rc := r.combine(extractor.Entity{EntityType: "something_new"}, nil)
	if !rc.Fallback || rc.PrimaryContext != ContextOperative {
		t.Errorf("rc = %+v, want operative_clause fallback for unknown type", rc)
	}
}

func TestCombineTieBreaksTowardHeaviestSignal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfidenceThreshold = 0.4
	r := New(cfg)
	e := extractor.Entity{EntityType: extractor.TypeParty}

	// Equal weights, disagreeing favorites: exact tie at 0.5 each. The
	// first of the equally weighted contributing signals wins the
	// tie-break.
	results := []signalResult{
		{name: SignalSemantic, weight: 0.30, scores: map[string]float64{ContextRecital: 1.0}},
		{name: SignalPattern, weight: 0.30, scores: map[string]float64{ContextPartyIdentification: 1.0}},
	}

	rc := r.combine(e, results)
	if rc.PrimaryContext != ContextRecital {
		t.Errorf("PrimaryContext = %q, want %q (tie-break toward first contributing signal)", rc.PrimaryContext, ContextRecital)
	}
}

// ---------------------------------------------------------------------------
// Full resolution with fake collaborators
// ---------------------------------------------------------------------------

const sampleDoc = `ARTICLE I - DEFINITIONS

"Confidential Information" means any non-public information disclosed by either party under this Agreement.

ARTICLE II - PAYMENT TERMS

Buyer shall pay Seller the sum of $2,500,000 within thirty days.
`

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

type fakeParser struct {
	dep string
	err error
}

func (f fakeParser) Parse(ctx context.Context, sentence string) (*nlp.Tree, error) {
	if f.err != nil {
		return nil, f.err
	}
	// One token spanning the whole sentence, with the configured role.
	return &nlp.Tree{Tokens: []nlp.Token{
		{Text: sentence, Dep: f.dep, Head: 0, Start: 0, End: len(sentence)},
	}}, nil
}

func mustCatalog(t *testing.T, rs []rules.Rule) *rules.Catalog {
	t.Helper()
	c, err := rules.NewCatalog(rs)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func findEntity(t *testing.T, doc, text, entityType string) extractor.Entity {
	t.Helper()
	start := strings.Index(doc, text)
	if start < 0 {
		t.Fatalf("%q not in document", text)
	}
	return extractor.Entity{
		EntityType: entityType,
		Text:       text,
		StartPos:   start,
		EndPos:     start + len(text),
		Confidence: 0.9,
	}
}

func TestResolveAgreementAcrossSignals(t *testing.T) {
	catalog := mustCatalog(t, []rules.Rule{{
		ID:         "defined-term-means",
		EntityType: extractor.TypeDefinedTerm,
		Pattern:    `"[A-Z][^"]+"`,
		ContextTag: ContextDefinition,
		Indicators: []string{"means", "shall have the meaning"},
		Confidence: 0.9,
	}})
	refs := map[string][]float32{
		ContextDefinition: {1, 0},
		ContextFinancial:  {0, 1},
	}

	r := New(DefaultConfig(),
		WithRules(catalog),
		WithEmbedder(fakeEmbedder{vec: []float32{1, 0}}),
		WithReferences(refs),
		WithParser(fakeParser{dep: "attr"}),
	)

	e := findEntity(t, sampleDoc, `"Confidential Information"`, extractor.TypeDefinedTerm)
	rc := r.Resolve(context.Background(), sampleDoc, e, chunker.DetectSections(sampleDoc))

	if rc.PrimaryContext != ContextDefinition {
		t.Fatalf("PrimaryContext = %q, want %q (signals: %v)", rc.PrimaryContext, ContextDefinition, rc.Signals)
	}
	if rc.Fallback {
		t.Error("agreeing signals must not fall back")
	}
	if rc.Confidence < 0.6 {
		t.Errorf("Confidence = %v, want >= threshold", rc.Confidence)
	}
	for _, sig := range []string{SignalPattern, SignalSemantic, SignalDependency, SignalSection} {
		if _, ok := rc.Signals[sig]; !ok {
			t.Errorf("signal %s produced no scores", sig)
		}
	}
}

func TestResolveDegradesWhenCollaboratorsFail(t *testing.T) {
	r := New(DefaultConfig(),
		WithEmbedder(fakeEmbedder{err: errors.New("service unavailable")}),
		WithReferences(map[string][]float32{ContextDefinition: {1, 0}}),
		WithParser(fakeParser{err: errors.New("sidecar down")}),
	)

	e := findEntity(t, sampleDoc, "$2,500,000", extractor.TypeMoney)
	rc := r.Resolve(context.Background(), sampleDoc, e, chunker.DetectSections(sampleDoc))

	if rc.PrimaryContext == "" {
		t.Fatal("every entity must receive a context assignment")
	}
	// Only the section signal can contribute: PAYMENT TERMS heading,
	// agreeing with the type's usual context.
	if rc.PrimaryContext != ContextFinancial {
		t.Errorf("PrimaryContext = %q, want %q", rc.PrimaryContext, ContextFinancial)
	}
}

func TestResolveBareResolverAlwaysAssigns(t *testing.T) {
	r := New(DefaultConfig())
	e := extractor.Entity{EntityType: extractor.TypeDate, Text: "x", StartPos: 0, EndPos: 1}
	rc := r.Resolve(context.Background(), "x", e, nil)
	if rc.PrimaryContext != ContextOperative || !rc.Fallback {
		t.Errorf("rc = %+v, want operative_clause fallback", rc)
	}
}

func TestResolveAllAttachesMetadata(t *testing.T) {
	r := New(DefaultConfig())
	entities := []extractor.Entity{
		{EntityType: extractor.TypeParty, Text: "ARTICLE", StartPos: 0, EndPos: 7},
	}
	out := r.ResolveAll(context.Background(), sampleDoc, entities)

	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	if entities[0].Metadata["primary_context"] != out[0].PrimaryContext {
		t.Error("primary_context metadata not attached")
	}
	if _, ok := entities[0].Metadata["context_confidence"]; !ok {
		t.Error("context_confidence metadata not attached")
	}
	if out[0].Fallback {
		if v, ok := entities[0].Metadata["context_fallback"]; !ok || v != true {
			t.Error("context_fallback metadata not attached")
		}
	}
}

// ---------------------------------------------------------------------------
// Windows and tables
// ---------------------------------------------------------------------------

func TestWindowLevels(t *testing.T) {
	doc := sampleDoc
	e := findEntity(t, doc, "$2,500,000", extractor.TypeMoney)
	sections := chunker.DetectSections(doc)

	tests := []struct {
		level    Level
		contains string
		excludes string
	}{
		{LevelToken, "$2,500,000", ""},
		{LevelSentence, "Buyer shall pay Seller", "Confidential"},
		{LevelParagraph, "within thirty days", "Confidential"},
		{LevelSection, "PAYMENT TERMS", "DEFINITIONS"},
		{LevelDocument, "ARTICLE I", ""},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			w := Window(doc, e.StartPos, e.EndPos, tt.level, sections, 40)
			if w.Text != doc[w.Start:w.End] {
				t.Fatal("window text disagrees with its offsets")
			}
			if !strings.Contains(w.Text, tt.contains) {
				t.Errorf("%s window %q missing %q", tt.level, w.Text, tt.contains)
			}
			if tt.excludes != "" && strings.Contains(w.Text, tt.excludes) {
				t.Errorf("%s window leaked %q", tt.level, tt.excludes)
			}
		})
	}
}

func TestWindowTokenClamps(t *testing.T) {
	doc := "short"
	w := Window(doc, 0, 5, LevelToken, nil, 1000)
	if w.Start != 0 || w.End != len(doc) {
		t.Errorf("window = [%d,%d), want clamped to document", w.Start, w.End)
	}
}

func TestFallbackFor(t *testing.T) {
	tests := []struct {
		entityType string
		want       string
	}{
		{extractor.TypeParty, ContextPartyIdentification},
		{extractor.TypeStatute, ContextCitation},
		{extractor.TypeMoney, ContextFinancial},
		{extractor.TypeCaseNumber, ContextProcedural},
		{"never_heard_of_it", ContextOperative},
	}
	for _, tt := range tests {
		if got := FallbackFor(tt.entityType); got != tt.want {
			t.Errorf("FallbackFor(%s) = %q, want %q", tt.entityType, got, tt.want)
		}
	}
}

func TestReferenceTextsCoverAllTags(t *testing.T) {
	refs := ReferenceTexts()
	for _, tag := range Tags() {
		if len(refs[tag]) == 0 {
			t.Errorf("no reference texts for %s", tag)
		}
	}
}

func TestCosine(t *testing.T) {
	if got := cosine([]float32{1, 0}, []float32{1, 0}); !approx(got, 1) {
		t.Errorf("parallel = %v, want 1", got)
	}
	if got := cosine([]float32{1, 0}, []float32{0, 1}); !approx(got, 0) {
		t.Errorf("orthogonal = %v, want 0", got)
	}
	if got := cosine([]float32{1}, []float32{1, 2}); got != 0 {
		t.Errorf("mismatched lengths = %v, want 0", got)
	}
}
