// Package rules holds the extraction rule catalog: compiled regex
// patterns per entity type, each with context indicators used by the
// pattern-based context signal. A built-in legal catalog ships with the
// service; YAML rule packs can extend it at startup.
package rules

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// Rule is one extraction pattern for one entity type.
type Rule struct {
	ID         string   `json:"id" yaml:"id"`
	EntityType string   `json:"entity_type" yaml:"entity_type"`
	Pattern    string   `json:"pattern" yaml:"pattern"`
	ContextTag string   `json:"context_tag" yaml:"context_tag"`
	Indicators []string `json:"indicators,omitempty" yaml:"indicators,omitempty"`
	Confidence float64  `json:"confidence" yaml:"confidence"`

	re *regexp.Regexp
}

// Regexp returns the compiled pattern.
func (r Rule) Regexp() *regexp.Regexp { return r.re }

// Provider supplies the rules applicable to one entity type.
type Provider interface {
	PatternsFor(entityType string) []Rule
}

// Catalog is an immutable, compiled set of rules indexed by entity type.
type Catalog struct {
	byType map[string][]Rule
}

// NewCatalog compiles the given rules into a catalog. It fails on the
// first rule with a missing field or an invalid pattern.
func NewCatalog(rs []Rule) (*Catalog, error) {
	byType := make(map[string][]Rule)
	for i, r := range rs {
		if r.ID == "" || r.EntityType == "" || r.Pattern == "" {
			return nil, fmt.Errorf("rule %d: id, entity_type and pattern are required", i)
		}
		if r.Confidence <= 0 || r.Confidence > 1 {
			return nil, fmt.Errorf("rule %s: confidence %v outside (0, 1]", r.ID, r.Confidence)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: compiling pattern: %w", r.ID, err)
		}
		r.re = re
		byType[r.EntityType] = append(byType[r.EntityType], r)
	}
	return &Catalog{byType: byType}, nil
}

// PatternsFor returns the rules registered for entityType.
// The returned slice must not be modified.
func (c *Catalog) PatternsFor(entityType string) []Rule {
	return c.byType[entityType]
}

// Types returns the sorted entity types the catalog covers.
func (c *Catalog) Types() []string {
	types := make([]string, 0, len(c.byType))
	for t := range c.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Len returns the total number of rules.
func (c *Catalog) Len() int {
	n := 0
	for _, rs := range c.byType {
		n += len(rs)
	}
	return n
}

// Merge returns a new catalog containing this catalog's rules plus the
// overlay's. Overlay rules with an ID already present replace the
// original rule, so packs can tune built-in confidences.
func (c *Catalog) Merge(overlay *Catalog) *Catalog {
	replaced := make(map[string]Rule)
	for _, rs := range overlay.byType {
		for _, r := range rs {
			replaced[r.ID] = r
		}
	}

	byType := make(map[string][]Rule)
	for _, rs := range c.byType {
		for _, r := range rs {
			if over, ok := replaced[r.ID]; ok {
				byType[over.EntityType] = append(byType[over.EntityType], over)
				delete(replaced, r.ID)
				continue
			}
			byType[r.EntityType] = append(byType[r.EntityType], r)
		}
	}
	for _, rs := range overlay.byType {
		for _, r := range rs {
			if _, pending := replaced[r.ID]; pending {
				byType[r.EntityType] = append(byType[r.EntityType], r)
				delete(replaced, r.ID)
			}
		}
	}
	return &Catalog{byType: byType}
}

// pack is the on-disk YAML shape of a rule pack.
type pack struct {
	Rules []Rule `yaml:"rules"`
}

// LoadPack reads a YAML rule pack from path and compiles it.
func LoadPack(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule pack: %w", err)
	}
	var p pack
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing rule pack %s: %w", path, err)
	}
	if len(p.Rules) == 0 {
		return nil, fmt.Errorf("rule pack %s contains no rules", path)
	}
	cat, err := NewCatalog(p.Rules)
	if err != nil {
		return nil, fmt.Errorf("rule pack %s: %w", path, err)
	}
	return cat, nil
}
