package resolver

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/brianjwalters/entity-extraction-service-sub000/chunker"
	"github.com/brianjwalters/entity-extraction-service-sub000/extractor"
)

// patternSignal votes from the rule catalog: each rule for the entity's
// type contributes its context tag, scored by how many of the rule's
// indicator phrases appear near the span.
func (r *Resolver) patternSignal(document string, e extractor.Entity) map[string]float64 {
	if r.rules == nil {
		return nil
	}
	win := Window(document, e.StartPos, e.EndPos, LevelToken, nil, r.cfg.ContextRadius)
	nearby := strings.ToLower(win.Text)

	scores := make(map[string]float64)
	for _, rule := range r.rules.PatternsFor(e.EntityType) {
		if rule.ContextTag == "" {
			continue
		}
		matched := 0
		for _, ind := range rule.Indicators {
			if strings.Contains(nearby, strings.ToLower(ind)) {
				matched++
			}
		}
		if matched > 0 {
			scores[rule.ContextTag] += float64(matched) * rule.Confidence
		}
	}
	return scores
}

// semanticSignal embeds the entity's sentence and scores it against the
// per-tag reference vectors by cosine similarity.
func (r *Resolver) semanticSignal(ctx context.Context, document string, e extractor.Entity) (map[string]float64, error) {
	if r.embedder == nil || len(r.refs) == 0 {
		return nil, nil
	}
	win := Window(document, e.StartPos, e.EndPos, LevelSentence, nil, r.cfg.ContextRadius)
	if strings.TrimSpace(win.Text) == "" {
		return nil, nil
	}

	vecs, err := r.embedder.Embed(ctx, []string{win.Text})
	if err != nil {
		return nil, fmt.Errorf("embedding entity sentence: %w", err)
	}
	if len(vecs) == 0 {
		return nil, nil
	}

	scores := make(map[string]float64)
	for tag, ref := range r.refs {
		if sim := cosine(vecs[0], ref); sim > 0 {
			scores[tag] = sim
		}
	}
	return scores, nil
}

// depTags maps a dependency relation to the context it suggests. The
// span's syntactic role is a weak but cheap clue: appositives usually
// introduce parties, subjects and objects sit in operative language,
// and prepositional objects of citation verbs point at authority.
var depTags = map[string]string{
	"appos":     ContextPartyIdentification,
	"nsubj":     ContextOperative,
	"nsubjpass": ContextOperative,
	"agent":     ContextOperative,
	"dobj":      ContextOperative,
	"obj":       ContextOperative,
	"attr":      ContextDefinition,
	"acl":       ContextDefinition,
}

// dependencySignal parses the entity's sentence and votes from the
// span's syntactic role.
func (r *Resolver) dependencySignal(ctx context.Context, document string, e extractor.Entity) (map[string]float64, error) {
	if r.parser == nil {
		return nil, nil
	}
	win := Window(document, e.StartPos, e.EndPos, LevelSentence, nil, r.cfg.ContextRadius)
	if strings.TrimSpace(win.Text) == "" {
		return nil, nil
	}

	tree, err := r.parser.Parse(ctx, win.Text)
	if err != nil {
		return nil, fmt.Errorf("parsing entity sentence: %w", err)
	}

	tok := tree.TokenAt(e.StartPos - win.Start)
	if tok == nil {
		return nil, nil
	}

	scores := make(map[string]float64)
	if tag, ok := depTags[tok.Dep]; ok {
		scores[tag] = 1.0
	}
	// Objects of "pursuant to" / "under" style heads read as citations.
	if tok.Dep == "pobj" || tok.Dep == "obl" {
		switch e.EntityType {
		case extractor.TypeCitation, extractor.TypeStatute, extractor.TypeRegulation:
			scores[ContextCitation] = 1.0
		default:
			scores[ContextOperative] = 0.6
		}
	}
	return scores, nil
}

// sectionSignal votes from the nearest enclosing section heading,
// mapped through the heading-keyword table. An entity outside any
// recognizable section produces no vote.
func (r *Resolver) sectionSignal(e extractor.Entity, sections []chunker.Section) map[string]float64 {
	sec, ok := chunker.SectionAt(sections, e.StartPos)
	if !ok {
		return nil
	}
	tag, ok := sectionTagFor(sec.Heading)
	if !ok {
		return nil
	}
	scores := map[string]float64{tag: 1.0}
	// A heading agreeing with the type's usual context is a stronger
	// vote than the heading alone.
	if tag == FallbackFor(e.EntityType) {
		scores[tag] = 1.5
	}
	return scores
}

// cosine returns the cosine similarity of two vectors, 0 for mismatched
// or zero-length input.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
