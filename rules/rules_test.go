package rules

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCatalogCompiles(t *testing.T) {
	cat := Default()
	if cat.Len() == 0 {
		t.Fatal("default catalog is empty")
	}
	for _, typ := range cat.Types() {
		for _, r := range cat.PatternsFor(typ) {
			if r.Regexp() == nil {
				t.Errorf("rule %s: nil compiled regexp", r.ID)
			}
			if r.ContextTag == "" {
				t.Errorf("rule %s: missing context tag", r.ID)
			}
		}
	}
}

func TestDefaultCatalogMatches(t *testing.T) {
	cases := []struct {
		entityType string
		text       string
	}{
		{"statute", "liable under 42 U.S.C. § 1983 for damages"},
		{"citation", "See Smith v. Jones, 530 U.S. 191."},
		{"citation", "cited at 123 F.3d 456"},
		{"regulation", "as required by 29 C.F.R. § 1910.120"},
		{"monetary_amount", "shall pay $1,250,000.00 upon closing"},
		{"percentage", "interest at 7.5% per annum"},
		{"date", "dated January 15, 2021"},
		{"duration", "within 30 days of receipt"},
		{"defined_term", `"Confidential Information" means all nonpublic data`},
		{"party", "between Acme Holdings, Inc. and the Buyer"},
		{"judge", "before Judge Amy Berman"},
		{"case_number", "Case No. 1:20-cv-03010"},
	}

	for _, tc := range cases {
		matched := false
		for _, r := range Default().PatternsFor(tc.entityType) {
			if r.Regexp().MatchString(tc.text) {
				matched = true
				break
			}
		}
		if !matched {
			t.Errorf("no %s rule matched %q", tc.entityType, tc.text)
		}
	}
}

func TestNewCatalogValidation(t *testing.T) {
	cases := []struct {
		name string
		rule Rule
	}{
		{"missing id", Rule{EntityType: "date", Pattern: `\d+`, Confidence: 0.5}},
		{"missing pattern", Rule{ID: "x", EntityType: "date", Confidence: 0.5}},
		{"bad regex", Rule{ID: "x", EntityType: "date", Pattern: `([`, Confidence: 0.5}},
		{"confidence out of range", Rule{ID: "x", EntityType: "date", Pattern: `\d+`, Confidence: 1.5}},
		{"zero confidence", Rule{ID: "x", EntityType: "date", Pattern: `\d+`, Confidence: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewCatalog([]Rule{tc.rule}); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoadPack(t *testing.T) {
	yamlPack := `
rules:
  - id: internal-matter-number
    entity_type: case_number
    pattern: 'MATTER-\d{6}'
    context_tag: procedural_history
    indicators: [matter, file]
    confidence: 0.95
  - id: date-iso
    entity_type: date
    pattern: '\d{4}-\d{2}-\d{2}'
    context_tag: operative_clause
    confidence: 0.99
`
	path := filepath.Join(t.TempDir(), "pack.yaml")
	if err := os.WriteFile(path, []byte(yamlPack), 0o644); err != nil {
		t.Fatal(err)
	}

	pack, err := LoadPack(path)
	if err != nil {
		t.Fatalf("LoadPack: %v", err)
	}
	if pack.Len() != 2 {
		t.Fatalf("pack.Len() = %d, want 2", pack.Len())
	}

	merged := Default().Merge(pack)

	// New rule appended.
	found := false
	for _, r := range merged.PatternsFor("case_number") {
		if r.ID == "internal-matter-number" {
			found = true
		}
	}
	if !found {
		t.Error("pack rule not present after merge")
	}

	// Existing rule replaced, not duplicated.
	isoCount := 0
	for _, r := range merged.PatternsFor("date") {
		if r.ID == "date-iso" {
			isoCount++
			if r.Confidence != 0.99 {
				t.Errorf("date-iso confidence = %v, want pack override 0.99", r.Confidence)
			}
		}
	}
	if isoCount != 1 {
		t.Errorf("date-iso appears %d times after merge, want 1", isoCount)
	}
}

func TestLoadPackErrors(t *testing.T) {
	if _, err := LoadPack(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(empty, []byte("rules: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPack(empty); err == nil {
		t.Error("expected error for empty pack")
	}
}
