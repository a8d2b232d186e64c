package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/brianjwalters/entity-extraction-service-sub000/llm"
	"github.com/brianjwalters/entity-extraction-service-sub000/rules"
)

// entitySpanPrompt asks the model for verbatim spans so that offsets
// can be recovered by string search. Kept atomic: one task per call.
const entitySpanPrompt = `You are an entity extraction engine for legal documents.
Given the following text, extract every entity of the requested types.

REQUESTED ENTITY TYPES (use exactly these values):
%s

Return a JSON object with exactly one key:
  "entities" : array of {"entity_type": string, "text": string, "confidence": number}

Rules:
- "text" must be copied VERBATIM from the input, character for character.
- "confidence" is a float between 0.0 and 1.0.
- Only include entities of the requested types.
- Only include entities clearly supported by the text.
- If there are none, return an empty array.
- Do NOT include any text outside the JSON object.

EXAMPLES:

Input: "This Agreement, dated March 1, 2021, is between Acme Holdings, Inc. and Beta LLC."
Output:
{"entities": [{"entity_type": "date", "text": "March 1, 2021", "confidence": 0.95}, {"entity_type": "party", "text": "Acme Holdings, Inc.", "confidence": 0.9}, {"entity_type": "party", "text": "Beta LLC", "confidence": 0.9}]}

Input: "Plaintiff seeks damages of $2,500,000 under 42 U.S.C. § 1983."
Output:
{"entities": [{"entity_type": "party", "text": "Plaintiff", "confidence": 0.8}, {"entity_type": "monetary_amount", "text": "$2,500,000", "confidence": 0.95}, {"entity_type": "statute", "text": "42 U.S.C. § 1983", "confidence": 0.95}]}

%s
TEXT:
%s`

// relationSpanPrompt extracts relationships conditioned on the entities
// already found in the same chunk. The evidence field anchors the
// relationship to a verbatim span.
const relationSpanPrompt = `You are a relationship extraction engine for legal documents.
Given the text and a list of known entities, extract relationships between them.

KNOWN ENTITIES:
%s

Return a JSON object with exactly one key:
  "relationships" : array of {"source": string, "target": string, "relation_type": string, "evidence": string, "confidence": number}

Rules:
- Source and target must be entity texts from the KNOWN ENTITIES list.
- "relation_type" is a short snake_case verb phrase (e.g. "represented_by", "party_to", "cites", "pays").
- "evidence" must be a VERBATIM substring of the input text that states the relationship.
- "confidence" is a float between 0.0 and 1.0.
- Only include relationships clearly supported by the text.
- If there are none, return an empty array.
- Do NOT include any text outside the JSON object.

TEXT:
%s`

var codeBlockRe = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

// Model is the LLM-backed SpanExtractor. An optional rule catalog
// supplies detected-identifier hints to the prompt, which measurably
// improves recall on small models.
type Model struct {
	provider llm.Provider
	hints    rules.Provider
}

// ModelOption configures a Model backend.
type ModelOption func(*Model)

// WithHintRules enables prompt hints from the given catalog.
func WithHintRules(p rules.Provider) ModelOption {
	return func(m *Model) { m.hints = p }
}

// NewModel returns a backend that prompts provider for entity spans.
func NewModel(provider llm.Provider, opts ...ModelOption) *Model {
	m := &Model{provider: provider}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Model) Name() string { return "model" }

type modelEntity struct {
	EntityType string  `json:"entity_type"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type modelEntityResult struct {
	Entities []modelEntity `json:"entities"`
}

type modelRelation struct {
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	RelationType string  `json:"relation_type"`
	Evidence     string  `json:"evidence"`
	Confidence   float64 `json:"confidence"`
}

type modelRelationResult struct {
	Relationships []modelRelation `json:"relationships"`
}

// ExtractSpans prompts the model and converts its verbatim-text answers
// into located entities. Items whose text cannot be found in the input
// are dropped rather than guessed.
func (m *Model) ExtractSpans(ctx context.Context, text string, entityTypes []string, budget Budget) ([]Entity, error) {
	if budget.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget.Timeout)
		defer cancel()
	}

	var hintsSection string
	if m.hints != nil {
		if hints := m.hintMatches(text, entityTypes); len(hints) > 0 {
			hintsSection = fmt.Sprintf(
				"HINTS: The following spans were detected by pattern matching. Verify and include the valid ones:\n%s\n",
				strings.Join(hints, ", "),
			)
		}
	}

	prompt := fmt.Sprintf(entitySpanPrompt, formatTypeList(entityTypes), hintsSection, text)
	resp, err := m.provider.Chat(ctx, llm.ChatRequest{
		Messages:       []llm.Message{{Role: "user", Content: prompt}},
		Temperature:    0.0,
		MaxTokens:      budget.MaxTokens,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("entity extraction chat: %w", err)
	}

	jsonStr, err := extractJSON(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parsing entity extraction result: %w", err)
	}
	var result modelEntityResult
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return nil, fmt.Errorf("unmarshalling entity extraction result: %w", err)
	}

	requested := make(map[string]bool, len(entityTypes))
	for _, t := range entityTypes {
		requested[t] = true
	}

	now := time.Now().UTC()
	var out []Entity
	for _, item := range result.Entities {
		if item.Text == "" || !requested[item.EntityType] {
			continue
		}
		for _, loc := range locateAll(text, item.Text) {
			out = append(out, Entity{
				EntityType:       item.EntityType,
				Text:             text[loc[0]:loc[1]],
				StartPos:         loc[0],
				EndPos:           loc[1],
				Confidence:       clampConfidence(item.Confidence),
				ExtractionMethod: "model",
				CreatedAt:        now,
			})
		}
	}
	return out, nil
}

// ExtractRelations implements the RelationshipExtractor capability.
// Each relationship is anchored to its evidence span; items whose
// evidence cannot be located fall back to the source entity's span.
func (m *Model) ExtractRelations(ctx context.Context, text string, prior []Entity, budget Budget) ([]Entity, error) {
	if len(prior) == 0 {
		return nil, nil
	}
	if budget.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget.Timeout)
		defer cancel()
	}

	prompt := fmt.Sprintf(relationSpanPrompt, formatKnownEntities(prior), text)
	resp, err := m.provider.Chat(ctx, llm.ChatRequest{
		Messages:       []llm.Message{{Role: "user", Content: prompt}},
		Temperature:    0.0,
		MaxTokens:      budget.MaxTokens,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("relationship extraction chat: %w", err)
	}

	jsonStr, err := extractJSON(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parsing relationship extraction result: %w", err)
	}
	var result modelRelationResult
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return nil, fmt.Errorf("unmarshalling relationship extraction result: %w", err)
	}

	now := time.Now().UTC()
	var out []Entity
	for _, rel := range result.Relationships {
		if rel.Source == "" || rel.Target == "" {
			continue
		}
		anchor := rel.Evidence
		if anchor == "" || !strings.Contains(text, anchor) {
			anchor = rel.Source
		}
		locs := locateAll(text, anchor)
		if len(locs) == 0 {
			continue
		}
		loc := locs[0]
		e := Entity{
			EntityType:       TypeRelationship,
			Text:             text[loc[0]:loc[1]],
			StartPos:         loc[0],
			EndPos:           loc[1],
			Confidence:       clampConfidence(rel.Confidence),
			ExtractionMethod: "model",
			CreatedAt:        now,
		}
		e.SetMeta("source", rel.Source)
		e.SetMeta("target", rel.Target)
		e.SetMeta("relation_type", rel.RelationType)
		out = append(out, e)
	}
	return out, nil
}

// hintMatches runs the catalog rules for the requested types and
// returns the distinct matched spans, capped to keep prompts bounded.
func (m *Model) hintMatches(text string, entityTypes []string) []string {
	const maxHints = 24
	seen := make(map[string]bool)
	var hints []string
	for _, typ := range entityTypes {
		for _, rule := range m.hints.PatternsFor(typ) {
			for _, match := range rule.Regexp().FindAllString(text, -1) {
				if seen[match] {
					continue
				}
				seen[match] = true
				hints = append(hints, match)
				if len(hints) >= maxHints {
					return hints
				}
			}
		}
	}
	return hints
}

// extractJSON finds a JSON object in the LLM response text, stripping
// markdown code fences first.
func extractJSON(raw string) (string, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "{") {
		return raw, nil
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1], nil
	}
	return "", fmt.Errorf("no JSON object found in response")
}

// locateAll returns the non-overlapping occurrences of needle in text
// as [start, end) pairs. When no exact occurrence exists it falls back
// to a case-insensitive search, but only when lowercasing preserves
// byte offsets.
func locateAll(text, needle string) [][2]int {
	if needle == "" {
		return nil
	}
	var locs [][2]int
	for from := 0; ; {
		idx := strings.Index(text[from:], needle)
		if idx < 0 {
			break
		}
		start := from + idx
		locs = append(locs, [2]int{start, start + len(needle)})
		from = start + len(needle)
	}
	if len(locs) > 0 {
		return locs
	}

	lowerText := strings.ToLower(text)
	lowerNeedle := strings.ToLower(needle)
	if len(lowerText) != len(text) || len(lowerNeedle) != len(needle) {
		return nil
	}
	for from := 0; ; {
		idx := strings.Index(lowerText[from:], lowerNeedle)
		if idx < 0 {
			break
		}
		start := from + idx
		locs = append(locs, [2]int{start, start + len(needle)})
		from = start + len(needle)
	}
	return locs
}

func formatTypeList(entityTypes []string) string {
	var b strings.Builder
	for _, t := range entityTypes {
		b.WriteString("- ")
		b.WriteString(t)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatKnownEntities(prior []Entity) string {
	seen := make(map[string]bool)
	var b strings.Builder
	for _, e := range prior {
		if e.EntityType == TypeRelationship || seen[e.Text] {
			continue
		}
		seen[e.Text] = true
		fmt.Fprintf(&b, "- %q (%s)\n", e.Text, e.EntityType)
	}
	return strings.TrimRight(b.String(), "\n")
}

func clampConfidence(c float64) float64 {
	if c <= 0 {
		return 0.5
	}
	if c > 1 {
		return 1
	}
	return c
}
