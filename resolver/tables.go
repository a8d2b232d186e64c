package resolver

import (
	"strings"

	"github.com/brianjwalters/entity-extraction-service-sub000/extractor"
)

// Context tags assignable to an entity.
const (
	ContextPartyIdentification = "party_identification"
	ContextCitation            = "citation_context"
	ContextDefinition          = "definition"
	ContextFinancial           = "financial_provision"
	ContextOperative           = "operative_clause"
	ContextProcedural          = "procedural_history"
	ContextRecital             = "recital"
	ContextSignature           = "signature_block"
)

// fallbackContext maps an entity type to its most common context. Used
// when the combined signal score stays below the confidence threshold;
// every entity gets a context assignment one way or the other.
var fallbackContext = map[string]string{
	extractor.TypeParty:        ContextPartyIdentification,
	extractor.TypeAttorney:     ContextPartyIdentification,
	extractor.TypeJudge:        ContextPartyIdentification,
	extractor.TypeCourt:        ContextPartyIdentification,
	extractor.TypeJurisdiction: ContextCitation,
	extractor.TypeCitation:     ContextCitation,
	extractor.TypeStatute:      ContextCitation,
	extractor.TypeRegulation:   ContextCitation,
	extractor.TypeCaseNumber:   ContextProcedural,
	extractor.TypeDefinedTerm:  ContextDefinition,
	extractor.TypeDate:         ContextOperative,
	extractor.TypeMoney:        ContextFinancial,
	extractor.TypePercentage:   ContextFinancial,
	extractor.TypeDuration:     ContextOperative,
	extractor.TypeRelationship: ContextOperative,
}

// FallbackFor returns the static fallback context for an entity type.
// Unknown types resolve to operative_clause.
func FallbackFor(entityType string) string {
	if tag, ok := fallbackContext[entityType]; ok {
		return tag
	}
	return ContextOperative
}

// sectionKeywords maps lowercase heading substrings to context tags,
// checked in order so the more specific phrases win.
var sectionKeywords = []struct {
	keyword string
	tag     string
}{
	{"procedural history", ContextProcedural},
	{"in witness whereof", ContextSignature},
	{"whereas", ContextRecital},
	{"recital", ContextRecital},
	{"background", ContextRecital},
	{"definition", ContextDefinition},
	{"interpretation", ContextDefinition},
	{"payment", ContextFinancial},
	{"compensation", ContextFinancial},
	{"fees", ContextFinancial},
	{"purchase price", ContextFinancial},
	{"consideration", ContextFinancial},
	{"signature", ContextSignature},
	{"execution", ContextSignature},
	{"proceedings", ContextProcedural},
	{"appeal", ContextProcedural},
	{"parties", ContextPartyIdentification},
	{"governing law", ContextCitation},
	{"authorities", ContextCitation},
	{"citations", ContextCitation},
}

// sectionTagFor maps a section heading to a context tag.
func sectionTagFor(heading string) (string, bool) {
	h := strings.ToLower(heading)
	for _, sk := range sectionKeywords {
		if strings.Contains(h, sk.keyword) {
			return sk.tag, true
		}
	}
	return "", false
}

// referenceTexts seed the semantic signal: short representative
// passages per context tag, embedded once at startup and cached. The
// semantic signal scores an entity's sentence against each tag's
// reference vector.
var referenceTexts = map[string][]string{
	ContextPartyIdentification: {
		"This Agreement is entered into by and between Acme Corporation, a Delaware corporation, and Beta Holdings LLC.",
		"Plaintiff John Smith, represented by counsel, brings this action against Defendant Omega Industries Inc.",
	},
	ContextCitation: {
		"See Smith v. Jones, 574 U.S. 528 (2015); 42 U.S.C. § 1983.",
		"This matter is governed by the laws of the State of New York pursuant to Section 5-1401 of the General Obligations Law.",
	},
	ContextDefinition: {
		"\"Confidential Information\" means any non-public information disclosed by either party.",
		"As used herein, the term \"Effective Date\" shall have the meaning set forth in Section 1.1.",
	},
	ContextFinancial: {
		"Buyer shall pay Seller the purchase price of $2,500,000 in immediately available funds.",
		"Interest shall accrue at a rate of 5.5% per annum on the outstanding principal balance.",
	},
	ContextOperative: {
		"The Company shall deliver the goods no later than thirty days after the Effective Date.",
		"Licensee agrees not to sublicense the Software without prior written consent.",
	},
	ContextProcedural: {
		"The district court granted summary judgment on March 3, 2019, and plaintiff timely appealed.",
		"This case comes before the court on defendant's motion to dismiss under Rule 12(b)(6).",
	},
	ContextRecital: {
		"WHEREAS, the parties desire to set forth the terms of their business relationship.",
		"WHEREAS, Seller owns certain assets that Buyer wishes to acquire.",
	},
	ContextSignature: {
		"IN WITNESS WHEREOF, the parties have executed this Agreement as of the date first written above.",
		"By: /s/ Jane Doe, Chief Executive Officer.",
	},
}

// ReferenceTexts returns the reference passages for every context tag.
// The engine embeds these at startup to build the semantic signal's
// reference vectors.
func ReferenceTexts() map[string][]string {
	out := make(map[string][]string, len(referenceTexts))
	for tag, texts := range referenceTexts {
		out[tag] = append([]string(nil), texts...)
	}
	return out
}

// Tags returns every known context tag.
func Tags() []string {
	return []string{
		ContextPartyIdentification,
		ContextCitation,
		ContextDefinition,
		ContextFinancial,
		ContextOperative,
		ContextProcedural,
		ContextRecital,
		ContextSignature,
	}
}
