// Package extractor defines the Entity record exchanged across the
// pipeline and the backend capability interfaces that produce entities
// from text. Two backends ship with the service: a rule-based matcher
// over the rules catalog and a model-based extractor that prompts an
// LLM provider. A failover wrapper switches between them on backend
// health.
package extractor

import (
	"context"
	"fmt"
	"time"
)

// Entity type constants for the default legal vocabulary. Wave
// configurations may reference any subset; the pipeline treats types
// as opaque tags.
const (
	TypeParty        = "party"
	TypeAttorney     = "attorney"
	TypeJudge        = "judge"
	TypeCourt        = "court"
	TypeJurisdiction = "jurisdiction"
	TypeCitation     = "citation"
	TypeStatute      = "statute"
	TypeRegulation   = "regulation"
	TypeCaseNumber   = "case_number"
	TypeDefinedTerm  = "defined_term"
	TypeDate         = "date"
	TypeMoney        = "monetary_amount"
	TypePercentage   = "percentage"
	TypeDuration     = "duration"
	TypeRelationship = "relationship"
)

// Entity is the unit exchanged at every pipeline interface. The JSON
// field names are part of the public wire contract; see wire.go for
// boundary validation.
//
// StartPos and EndPos are byte offsets into the original document
// (never into a chunk) with the invariant StartPos < EndPos and
// document[StartPos:EndPos] == Text.
type Entity struct {
	EntityType       string         `json:"entity_type"`
	Text             string         `json:"text"`
	StartPos         int            `json:"start_pos"`
	EndPos           int            `json:"end_pos"`
	Confidence       float64        `json:"confidence"`
	ExtractionMethod string         `json:"extraction_method"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Validate checks the record-level invariants.
func (e Entity) Validate() error {
	if e.EntityType == "" {
		return fmt.Errorf("entity_type is required")
	}
	if e.Text == "" {
		return fmt.Errorf("text is required")
	}
	if e.StartPos < 0 || e.StartPos >= e.EndPos {
		return fmt.Errorf("invalid span [%d, %d)", e.StartPos, e.EndPos)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0, 1]", e.Confidence)
	}
	return nil
}

// Overlaps reports whether the two entities' spans intersect.
func (e Entity) Overlaps(o Entity) bool {
	return e.StartPos < o.EndPos && o.StartPos < e.EndPos
}

// SetMeta assigns a metadata key, allocating the map on first use.
func (e *Entity) SetMeta(key string, value any) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
}

// Budget bounds one backend invocation.
type Budget struct {
	MaxTokens int           // response token ceiling for model backends
	Timeout   time.Duration // per-call deadline; zero means the caller's context governs
}

// SpanExtractor is the capability interface every extraction backend
// implements. Offsets in returned entities are relative to the text
// argument; the orchestrator remaps them to document coordinates.
type SpanExtractor interface {
	Name() string
	ExtractSpans(ctx context.Context, text string, entityTypes []string, budget Budget) ([]Entity, error)
}

// RelationshipExtractor is an optional capability for backends that can
// condition relationship extraction on previously found entities.
// Orchestrators discover it by type assertion; backends without it
// serve relationship waves through plain ExtractSpans.
type RelationshipExtractor interface {
	ExtractRelations(ctx context.Context, text string, prior []Entity, budget Budget) ([]Entity, error)
}
