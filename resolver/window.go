package resolver

import (
	"github.com/brianjwalters/entity-extraction-service-sub000/chunker"
)

// Level selects how much document surrounds an entity in a
// ContextWindow.
type Level int

const (
	LevelToken Level = iota
	LevelSentence
	LevelParagraph
	LevelSection
	LevelDocument
)

// String returns the level name used in logs and signal score maps.
func (l Level) String() string {
	switch l {
	case LevelToken:
		return "token"
	case LevelSentence:
		return "sentence"
	case LevelParagraph:
		return "paragraph"
	case LevelSection:
		return "section"
	case LevelDocument:
		return "document"
	}
	return "unknown"
}

// ContextWindow is a view of the document around one entity. Start and
// End are absolute offsets; Text == document[Start:End].
type ContextWindow struct {
	Level Level
	Start int
	End   int
	Text  string
}

// Window slices the document around the span [start, end) at the given
// level. radius bounds the token-level window on each side; sections
// supplies the section boundaries for LevelSection (an entity outside
// any detected section widens to the whole document).
func Window(document string, start, end int, level Level, sections []chunker.Section, radius int) ContextWindow {
	lo, hi := 0, len(document)

	switch level {
	case LevelToken:
		lo, hi = start-radius, end+radius
	case LevelSentence:
		lo, hi = chunker.SentenceAt(document, start)
	case LevelParagraph:
		lo, hi = chunker.ParagraphAt(document, start)
	case LevelSection:
		if sec, ok := chunker.SectionAt(sections, start); ok {
			lo, hi = sec.Start, sec.End
		}
	case LevelDocument:
		// whole document
	}

	if lo < 0 {
		lo = 0
	}
	if hi > len(document) {
		hi = len(document)
	}
	if lo > hi {
		lo, hi = 0, len(document)
	}

	return ContextWindow{Level: level, Start: lo, End: hi, Text: document[lo:hi]}
}
