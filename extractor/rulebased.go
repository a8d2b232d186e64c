package extractor

import (
	"context"
	"time"

	"github.com/brianjwalters/entity-extraction-service-sub000/rules"
)

// RuleBased extracts entities by running the rule catalog's compiled
// patterns over the text. It needs no network and serves as the
// failover target when the model backend degrades.
type RuleBased struct {
	catalog rules.Provider
}

// NewRuleBased returns a backend over the given catalog.
func NewRuleBased(catalog rules.Provider) *RuleBased {
	return &RuleBased{catalog: catalog}
}

func (r *RuleBased) Name() string { return "rules" }

// ExtractSpans matches every rule registered for the requested types.
// Overlapping hits from different rules are left for the merger to
// reconcile. Offsets are relative to text.
func (r *RuleBased) ExtractSpans(ctx context.Context, text string, entityTypes []string, _ Budget) ([]Entity, error) {
	now := time.Now().UTC()
	var out []Entity
	for _, typ := range entityTypes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, rule := range r.catalog.PatternsFor(typ) {
			for _, loc := range rule.Regexp().FindAllStringIndex(text, -1) {
				e := Entity{
					EntityType:       typ,
					Text:             text[loc[0]:loc[1]],
					StartPos:         loc[0],
					EndPos:           loc[1],
					Confidence:       rule.Confidence,
					ExtractionMethod: "rules",
					CreatedAt:        now,
				}
				e.SetMeta("pattern_id", rule.ID)
				out = append(out, e)
			}
		}
	}
	return out, nil
}
