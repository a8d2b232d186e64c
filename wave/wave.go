// Package wave runs the extraction passes. Each wave targets a bounded
// set of entity types under a token/time budget; the orchestrator
// executes chunk×wave units through a bounded worker pool, remapping
// chunk-local offsets to document coordinates as results arrive.
package wave

import (
	"time"

	"github.com/brianjwalters/entity-extraction-service-sub000/extractor"
)

// Spec defines one extraction wave.
type Spec struct {
	Name          string        `json:"name" yaml:"name"`
	EntityTypes   []string      `json:"entity_types" yaml:"entity_types"`
	MaxTokens     int           `json:"max_tokens" yaml:"max_tokens"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	MinConfidence float64       `json:"min_confidence" yaml:"min_confidence"`

	// RequiresPrior marks a wave that conditions on earlier waves'
	// entities (relationship extraction). Such waves run after all
	// independent waves complete for the same chunk.
	RequiresPrior bool `json:"requires_prior" yaml:"requires_prior"`
}

// DefaultPlan is the standard four-wave legal extraction sequence:
// parties, then references, then quantities, then relationships
// conditioned on everything found before.
func DefaultPlan() []Spec {
	return []Spec{
		{
			Name:          "parties",
			EntityTypes:   []string{extractor.TypeParty, extractor.TypeAttorney, extractor.TypeJudge, extractor.TypeCourt, extractor.TypeJurisdiction},
			MaxTokens:     2000,
			Timeout:       90 * time.Second,
			MinConfidence: 0.5,
		},
		{
			Name:          "references",
			EntityTypes:   []string{extractor.TypeCitation, extractor.TypeStatute, extractor.TypeRegulation, extractor.TypeCaseNumber, extractor.TypeDefinedTerm},
			MaxTokens:     2000,
			Timeout:       90 * time.Second,
			MinConfidence: 0.5,
		},
		{
			Name:          "quantities",
			EntityTypes:   []string{extractor.TypeDate, extractor.TypeMoney, extractor.TypePercentage, extractor.TypeDuration},
			MaxTokens:     2000,
			Timeout:       90 * time.Second,
			MinConfidence: 0.5,
		},
		{
			Name:          "relationships",
			EntityTypes:   []string{extractor.TypeRelationship},
			MaxTokens:     2000,
			Timeout:       90 * time.Second,
			MinConfidence: 0.4,
			RequiresPrior: true,
		},
	}
}

// ThreeStagePlan is DefaultPlan without the relationship wave, used for
// mid-sized documents where relationship extraction was not requested.
func ThreeStagePlan() []Spec {
	plan := DefaultPlan()
	return plan[:3]
}

// SinglePassPlan synthesizes one wave over the union of all
// non-relationship entity types.
func SinglePassPlan() []Spec {
	var types []string
	seen := make(map[string]bool)
	for _, spec := range ThreeStagePlan() {
		for _, t := range spec.EntityTypes {
			if !seen[t] {
				seen[t] = true
				types = append(types, t)
			}
		}
	}
	return []Spec{{
		Name:          "full",
		EntityTypes:   types,
		MaxTokens:     4000,
		Timeout:       120 * time.Second,
		MinConfidence: 0.5,
	}}
}

// Names returns the wave names in plan order.
func Names(specs []Spec) []string {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	return names
}
