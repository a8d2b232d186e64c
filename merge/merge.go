// Package merge reconciles candidate entities collected across waves
// and chunks into one consistent final list. Duplicates are clustered
// by span overlap and fuzzy text similarity, then resolved by keeping
// the highest-confidence instance. The result is independent of the
// input order.
package merge

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/brianjwalters/entity-extraction-service-sub000/extractor"
)

// Config controls duplicate detection.
type Config struct {
	// SimilarityThreshold is the minimum normalized-text similarity for
	// two non-overlapping same-type entities to count as duplicates.
	SimilarityThreshold float64

	// CrossTypeDedup additionally collapses byte-identical spans that
	// differ only in entity type, keeping the higher-confidence type.
	// Off by default: it can silently drop legitimate multi-typed spans.
	CrossTypeDedup bool
}

// Merger deduplicates entity candidates.
type Merger struct {
	cfg Config
}

// New returns a Merger. A zero similarity threshold gets the default.
func New(cfg Config) *Merger {
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = 0.85
	}
	return &Merger{cfg: cfg}
}

// Merge reduces the candidate multiset to the final entity list. The
// input slice is not modified. Merge is idempotent and order-independent:
// any permutation of the same candidates produces the same output.
func (m *Merger) Merge(candidates []extractor.Entity) []extractor.Entity {
	if len(candidates) == 0 {
		return nil
	}

	// Canonical order first so clustering and resolution never depend
	// on arrival order.
	sorted := make([]extractor.Entity, len(candidates))
	copy(sorted, candidates)
	sortCanonical(sorted)

	merged := m.clusterAndResolve(sorted, func(a, b extractor.Entity) bool {
		return a.EntityType == b.EntityType && m.duplicates(a, b)
	})

	if m.cfg.CrossTypeDedup {
		merged = m.clusterAndResolve(merged, func(a, b extractor.Entity) bool {
			return a.StartPos == b.StartPos && a.EndPos == b.EndPos
		})
	}

	sortCanonical(merged)
	return merged
}

// clusterAndResolve unions candidates under the given duplicate
// predicate and keeps one representative per cluster.
func (m *Merger) clusterAndResolve(entities []extractor.Entity, dup func(a, b extractor.Entity) bool) []extractor.Entity {
	n := len(entities)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			if ra > rb {
				ra, rb = rb, ra
			}
			parent[rb] = ra
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if dup(entities[i], entities[j]) {
				union(i, j)
			}
		}
	}

	clusters := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := find(i)
		clusters[root] = append(clusters[root], i)
	}

	roots := make([]int, 0, len(clusters))
	for root := range clusters {
		roots = append(roots, root)
	}
	sort.Ints(roots)

	out := make([]extractor.Entity, 0, len(roots))
	for _, root := range roots {
		out = append(out, resolveCluster(entities, clusters[root]))
	}
	return out
}

// resolveCluster picks the highest-confidence member and folds in
// non-colliding metadata from the discarded members.
func resolveCluster(entities []extractor.Entity, members []int) extractor.Entity {
	best := members[0]
	for _, i := range members[1:] {
		if betterThan(entities[i], entities[best]) {
			best = i
		}
	}

	winner := entities[best]
	if len(members) == 1 {
		return winner
	}

	// Copy-on-write: never mutate the caller's metadata map.
	var meta map[string]any
	for _, i := range members {
		if i == best {
			continue
		}
		for key, value := range entities[i].Metadata {
			if _, taken := winner.Metadata[key]; taken {
				continue
			}
			if meta == nil {
				meta = make(map[string]any, len(winner.Metadata)+1)
				for k, v := range winner.Metadata {
					meta[k] = v
				}
			}
			if _, taken := meta[key]; !taken {
				meta[key] = value
			}
		}
	}
	if meta != nil {
		winner.Metadata = meta
	}
	return winner
}

// betterThan orders cluster members: higher confidence wins, then the
// longer span, then canonical position order so resolution stays
// deterministic.
func betterThan(a, b extractor.Entity) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if la, lb := a.EndPos-a.StartPos, b.EndPos-b.StartPos; la != lb {
		return la > lb
	}
	if a.StartPos != b.StartPos {
		return a.StartPos < b.StartPos
	}
	return a.ExtractionMethod < b.ExtractionMethod
}

// duplicates reports whether two same-type entities refer to the same
// occurrence: overlapping spans, or near-identical normalized text.
func (m *Merger) duplicates(a, b extractor.Entity) bool {
	if a.Overlaps(b) {
		return true
	}
	return Similarity(a.Text, b.Text) >= m.cfg.SimilarityThreshold
}

// Similarity returns the normalized-text similarity of two strings in
// [0, 1], computed as 1 - levenshtein/maxlen over NFC-normalized,
// lowercased, whitespace-collapsed text.
func Similarity(a, b string) float64 {
	na, nb := normalizeText(a), normalizeText(b)
	if na == nb {
		return 1
	}
	if na == "" || nb == "" {
		return 0
	}
	maxLen := len(na)
	if len(nb) > maxLen {
		maxLen = len(nb)
	}
	return 1 - float64(levenshtein(na, nb))/float64(maxLen)
}

func normalizeText(s string) string {
	s = norm.NFC.String(s)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

// levenshtein computes the edit distance between two strings using the
// two-row dynamic programming form.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// sortCanonical orders entities by position, then type, then
// descending confidence, then method.
func sortCanonical(entities []extractor.Entity) {
	sort.Slice(entities, func(i, j int) bool {
		a, b := entities[i], entities[j]
		if a.StartPos != b.StartPos {
			return a.StartPos < b.StartPos
		}
		if a.EndPos != b.EndPos {
			return a.EndPos < b.EndPos
		}
		if a.EntityType != b.EntityType {
			return a.EntityType < b.EntityType
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.ExtractionMethod < b.ExtractionMethod
	})
}
