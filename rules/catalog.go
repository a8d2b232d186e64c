package rules

import "sync"

// builtinRules is the default legal-document catalog. Confidences
// reflect how rarely each pattern fires on unrelated text.
var builtinRules = []Rule{
	// --- parties and roles ---
	{
		ID:         "party-role",
		EntityType: "party",
		Pattern:    `\b(?:Plaintiff|Defendant|Appellant|Appellee|Petitioner|Respondent|Buyer|Seller|Lessor|Lessee|Licensor|Licensee|Borrower|Lender|Landlord|Tenant|Guarantor)s?\b`,
		ContextTag: "party_identification",
		Indicators: []string{"between", "by and between", "hereinafter", "referred to as"},
		Confidence: 0.70,
	},
	{
		ID:         "party-company",
		EntityType: "party",
		Pattern:    `\b[A-Z][A-Za-z0-9&.'\- ]{1,40}?,? (?:Inc\.|LLC|L\.L\.C\.|Ltd\.|Corp\.|Corporation|Company|Co\.|LLP|L\.P\.|PLC|GmbH|N\.A\.)`,
		ContextTag: "party_identification",
		Indicators: []string{"between", "organized under", "principal place of business"},
		Confidence: 0.80,
	},
	{
		ID:         "attorney-esq",
		EntityType: "attorney",
		Pattern:    `\b[A-Z][a-z]+(?: [A-Z]\.)? [A-Z][a-z]+, Esq\.`,
		ContextTag: "party_identification",
		Indicators: []string{"counsel", "represented by", "on behalf of"},
		Confidence: 0.85,
	},
	{
		ID:         "judge-title",
		EntityType: "judge",
		Pattern:    `\b(?:Judge|Justice|Hon\.|Honorable|Magistrate Judge) [A-Z][a-z]+(?: [A-Z][a-z]+)?`,
		ContextTag: "procedural_history",
		Indicators: []string{"before", "presiding", "opinion by"},
		Confidence: 0.85,
	},
	{
		ID:         "court-name",
		EntityType: "court",
		Pattern:    `\b(?:United States )?(?:Supreme Court|Court of Appeals|District Court|Bankruptcy Court|Circuit Court|Superior Court|Court of Chancery)\b`,
		ContextTag: "procedural_history",
		Indicators: []string{"filed in", "before the", "appeal from"},
		Confidence: 0.80,
	},
	{
		ID:         "jurisdiction-state",
		EntityType: "jurisdiction",
		Pattern:    `\b(?:State of [A-Z][a-z]+|Commonwealth of [A-Z][a-z]+|District of Columbia|United States of America)\b`,
		ContextTag: "operative_clause",
		Indicators: []string{"governed by", "laws of", "jurisdiction of"},
		Confidence: 0.80,
	},

	// --- citations and references ---
	{
		ID:         "citation-case",
		EntityType: "citation",
		Pattern:    `\b[A-Z][A-Za-z.&'\-]+ v\. [A-Z][A-Za-z.&'\-]+`,
		ContextTag: "citation_context",
		Indicators: []string{"see", "citing", "cf.", "accord"},
		Confidence: 0.85,
	},
	{
		ID:         "citation-reporter",
		EntityType: "citation",
		Pattern:    `\b\d+ (?:U\.S\.|S\. ?Ct\.|F\.(?: ?2d| ?3d| ?4th)?|F\. ?Supp\.(?: ?2d| ?3d)?) \d+`,
		ContextTag: "citation_context",
		Indicators: []string{"see", "at", "quoting"},
		Confidence: 0.90,
	},
	{
		ID:         "statute-usc",
		EntityType: "statute",
		Pattern:    `\b\d+ U\.S\.C\. §+ ?\d+[a-z0-9.\-]*`,
		ContextTag: "citation_context",
		Indicators: []string{"pursuant to", "under", "violation of"},
		Confidence: 0.95,
	},
	{
		ID:         "statute-section",
		EntityType: "statute",
		Pattern:    `§+ ?\d+(?:\.\d+)*(?:\([a-z0-9]+\))*`,
		ContextTag: "citation_context",
		Indicators: []string{"pursuant to", "section", "subsection"},
		Confidence: 0.70,
	},
	{
		ID:         "regulation-cfr",
		EntityType: "regulation",
		Pattern:    `\b\d+ C\.F\.R\. §* ?\d+(?:\.\d+)*`,
		ContextTag: "citation_context",
		Indicators: []string{"regulation", "promulgated", "pursuant to"},
		Confidence: 0.95,
	},
	{
		ID:         "case-number-docket",
		EntityType: "case_number",
		Pattern:    `\b(?:Case )?No\. ?\d+[:\-]\d+-?(?:cv|cr|md|bk)?-?\d*(?:-[A-Z]{2,4})?\b`,
		ContextTag: "procedural_history",
		Indicators: []string{"docket", "case", "civil action"},
		Confidence: 0.85,
	},
	{
		ID:         "case-number-short",
		EntityType: "case_number",
		Pattern:    `\b\d{1,2}:\d{2}-(?:cv|cr|md|bk)-\d{3,6}\b`,
		ContextTag: "procedural_history",
		Indicators: []string{"docket", "case"},
		Confidence: 0.90,
	},

	// --- defined terms ---
	{
		ID:         "defined-term-means",
		EntityType: "defined_term",
		Pattern:    `"[A-Z][^"]{1,60}" (?:means|shall mean)`,
		ContextTag: "definition",
		Indicators: []string{"definitions", "as used herein"},
		Confidence: 0.90,
	},
	{
		ID:         "defined-term-parenthetical",
		EntityType: "defined_term",
		Pattern:    `\(the "[A-Z][^"]{1,60}"\)`,
		ContextTag: "definition",
		Indicators: []string{"hereinafter", "collectively"},
		Confidence: 0.85,
	},

	// --- quantities ---
	{
		ID:         "date-written",
		EntityType: "date",
		Pattern:    `\b(?:January|February|March|April|May|June|July|August|September|October|November|December) \d{1,2}, \d{4}\b`,
		ContextTag: "operative_clause",
		Indicators: []string{"dated", "effective", "as of", "on or before"},
		Confidence: 0.90,
	},
	{
		ID:         "date-iso",
		EntityType: "date",
		Pattern:    `\b\d{4}-\d{2}-\d{2}\b`,
		ContextTag: "operative_clause",
		Indicators: []string{"dated", "effective"},
		Confidence: 0.85,
	},
	{
		ID:         "date-slash",
		EntityType: "date",
		Pattern:    `\b\d{1,2}/\d{1,2}/\d{2,4}\b`,
		ContextTag: "operative_clause",
		Indicators: []string{"dated", "filed"},
		Confidence: 0.75,
	},
	{
		ID:         "money-dollar",
		EntityType: "monetary_amount",
		Pattern:    `\$ ?\d{1,3}(?:,\d{3})*(?:\.\d{1,2})?(?: (?:million|billion|thousand))?`,
		ContextTag: "financial_provision",
		Indicators: []string{"pay", "payment", "fee", "price", "consideration", "damages"},
		Confidence: 0.90,
	},
	{
		ID:         "money-words",
		EntityType: "monetary_amount",
		Pattern:    `\b\d+(?:,\d{3})*(?:\.\d+)? (?:dollars|USD)\b`,
		ContextTag: "financial_provision",
		Indicators: []string{"sum of", "amount of"},
		Confidence: 0.85,
	},
	{
		ID:         "percentage",
		EntityType: "percentage",
		Pattern:    `\b\d{1,3}(?:\.\d+)? ?(?:%|percent\b)`,
		ContextTag: "financial_provision",
		Indicators: []string{"rate", "interest", "per annum"},
		Confidence: 0.90,
	},
	{
		ID:         "duration",
		EntityType: "duration",
		Pattern:    `\b\d+ (?:business |calendar )?(?:day|week|month|year)s?\b`,
		ContextTag: "operative_clause",
		Indicators: []string{"within", "term of", "period of", "no later than"},
		Confidence: 0.75,
	},
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the built-in legal catalog. The catalog is compiled
// on first use and shared; it is safe for concurrent readers.
func Default() *Catalog {
	defaultOnce.Do(func() {
		cat, err := NewCatalog(builtinRules)
		if err != nil {
			panic("rules: builtin catalog invalid: " + err.Error())
		}
		defaultCatalog = cat
	})
	return defaultCatalog
}
