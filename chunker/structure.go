package chunker

import (
	"regexp"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Heading pattern detection
// ---------------------------------------------------------------------------

// headingPatterns are compiled regular expressions for common heading
// styles found in legal and contractual documents.
var headingPatterns = []*regexp.Regexp{
	// Numbered: "1.", "1.2", "1.2.3", optionally followed by a title
	regexp.MustCompile(`^\s*(\d+\.)+(\d+)?\s+\S`),
	// Uppercase line (e.g. "DEFINITIONS", "GOVERNING LAW")
	regexp.MustCompile(`^[A-Z][A-Z\s]{4,}$`),
	// Markdown-style: "# Heading", "## Sub-heading"
	regexp.MustCompile(`^#{1,6}\s+\S`),
	// Appendix / Annex: "Appendix A", "Schedule 1", "Exhibit B"
	regexp.MustCompile(`(?i)^(appendix|annex|schedule|exhibit)\s+[A-Z0-9]`),
	// Article: "Article 1", "Article II"
	regexp.MustCompile(`(?i)^article\s+[IVXLCDM\d]+`),
}

// clausePattern matches hierarchical numbered clauses such as
// "1.1", "1.1.1", "12.3.4", etc. at the start of a line.
var clausePattern = regexp.MustCompile(`^(\d+(?:\.\d+)+)\s`)

// IsHeading reports whether a line of text looks like a heading.
func IsHeading(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	for _, re := range headingPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Section numbering
// ---------------------------------------------------------------------------

// numberingPattern matches hierarchical numbering such as "1.", "1.2",
// "1.2.3", etc.
var numberingPattern = regexp.MustCompile(`^(\d+(?:\.\d+)*)\.?\s`)

// DetectNumbering extracts the hierarchical number prefix from a line.
// It returns the matched number string (e.g. "1.2.3") and true, or
// an empty string and false if none was found.
func DetectNumbering(line string) (string, bool) {
	line = strings.TrimSpace(line)
	m := numberingPattern.FindStringSubmatch(line)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

// NumberingLevel returns the depth implied by a hierarchical number
// string.  "1" is level 1, "1.2" is level 2, "1.2.3" is level 3, etc.
func NumberingLevel(numbering string) int {
	if numbering == "" {
		return 0
	}
	return strings.Count(numbering, ".") + 1
}

// ---------------------------------------------------------------------------
// Section detection with absolute offsets
// ---------------------------------------------------------------------------

// Section is a heading-delimited region of the document. Start is the
// byte offset of the heading line; End is the offset where the next
// section begins (or the document ends). A document with no headings
// yields a single untitled section spanning the whole text.
type Section struct {
	Heading   string
	Numbering string
	Level     int
	Start     int
	End       int
}

// DetectSections scans document line by line and returns the ordered
// heading-delimited sections, each with absolute byte offsets.
func DetectSections(document string) []Section {
	var sections []Section
	offset := 0
	for _, line := range strings.Split(document, "\n") {
		trimmed := strings.TrimSpace(line)
		if IsHeading(trimmed) || clausePattern.MatchString(trimmed) {
			num, _ := DetectNumbering(trimmed)
			sections = append(sections, Section{
				Heading:   trimmed,
				Numbering: num,
				Level:     NumberingLevel(num),
				Start:     offset,
			})
		}
		offset += len(line) + 1 // +1 for the newline
	}

	if len(sections) == 0 {
		return []Section{{Start: 0, End: len(document)}}
	}
	for i := range sections {
		if i+1 < len(sections) {
			sections[i].End = sections[i+1].Start
		} else {
			sections[i].End = len(document)
		}
	}
	// Preamble before the first heading belongs to an untitled section.
	if sections[0].Start > 0 {
		sections = append([]Section{{Start: 0, End: sections[0].Start}}, sections...)
	}
	return sections
}

// SectionAt returns the section containing the given byte offset.
// The boolean is false when sections is empty.
func SectionAt(sections []Section, offset int) (Section, bool) {
	if len(sections) == 0 {
		return Section{}, false
	}
	i := sort.Search(len(sections), func(i int) bool {
		return sections[i].End > offset
	})
	if i >= len(sections) {
		return sections[len(sections)-1], true
	}
	return sections[i], true
}

// ---------------------------------------------------------------------------
// Sentence and paragraph boundaries
// ---------------------------------------------------------------------------

// SentenceAt returns the byte range [start, end) of the sentence
// containing offset. Sentences end at ./?/! followed by whitespace, or
// at paragraph breaks.
func SentenceAt(document string, offset int) (int, int) {
	if len(document) == 0 {
		return 0, 0
	}
	if offset >= len(document) {
		offset = len(document) - 1
	}
	if offset < 0 {
		offset = 0
	}

	start := 0
	for i := offset - 1; i > 0; i-- {
		if isSentenceTerminator(document[i]) && isSpaceByte(document[i+1]) {
			start = i + 1
			break
		}
		if document[i] == '\n' && i > 0 && document[i-1] == '\n' {
			start = i + 1
			break
		}
	}
	for start < len(document) && isSpaceByte(document[start]) {
		start++
	}

	end := len(document)
	for i := offset; i < len(document); i++ {
		if isSentenceTerminator(document[i]) && (i+1 >= len(document) || isSpaceByte(document[i+1])) {
			end = i + 1
			break
		}
		if document[i] == '\n' && i+1 < len(document) && document[i+1] == '\n' {
			end = i
			break
		}
	}
	if end < start {
		end = start
	}
	return start, end
}

// ParagraphAt returns the byte range [start, end) of the blank-line
// delimited paragraph containing offset.
func ParagraphAt(document string, offset int) (int, int) {
	if len(document) == 0 {
		return 0, 0
	}
	if offset >= len(document) {
		offset = len(document) - 1
	}
	if offset < 0 {
		offset = 0
	}

	start := 0
	if idx := strings.LastIndex(document[:offset], "\n\n"); idx >= 0 {
		start = idx + 2
	}
	for start < len(document) && document[start] == '\n' {
		start++
	}

	end := len(document)
	if idx := strings.Index(document[offset:], "\n\n"); idx >= 0 {
		end = offset + idx
	}
	if end < start {
		end = start
	}
	return start, end
}

func isSentenceTerminator(b byte) bool {
	return b == '.' || b == '?' || b == '!'
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
