package chunker

import (
	"strings"
	"unicode/utf8"
)

// Config controls the chunking behaviour. Sizes are in bytes of the
// original document.
type Config struct {
	MaxChunkSize int // Maximum bytes per chunk.
	OverlapSize  int // Bytes of overlap between consecutive chunks.
}

// Chunker splits raw document text into overlapping, boundary-respecting
// chunks that carry absolute offsets into the original document.
type Chunker struct {
	cfg Config
}

// Chunk is a contiguous slice of the source document.
// StartOffset and EndOffset are byte offsets into the original document,
// never into a previous chunk.
type Chunk struct {
	Index               int
	StartOffset         int
	EndOffset           int
	OverlapWithPrevious int
	Text                string
	ForcedCut           bool // true when no sentence or paragraph boundary was found and the chunk was cut at the size cap
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with sensible defaults.
func New(cfg Config) *Chunker {
	if cfg.MaxChunkSize == 0 {
		cfg.MaxChunkSize = 8000
	}
	if cfg.OverlapSize == 0 {
		cfg.OverlapSize = 200
	}
	if cfg.OverlapSize >= cfg.MaxChunkSize/2 {
		cfg.OverlapSize = cfg.MaxChunkSize / 4
	}
	return &Chunker{cfg: cfg}
}

// Split breaks document into chunks of at most MaxChunkSize bytes each.
// Chunk ends back off to the nearest preceding paragraph or sentence
// boundary; when none exists within the backoff window the chunk is
// force-cut at the cap (aligned to a rune boundary) and flagged.
// Consecutive chunks overlap by OverlapSize bytes so that entities
// straddling a cut are fully visible in at least one chunk.
//
// A document shorter than MaxChunkSize yields exactly one chunk with
// zero overlap. The union of returned chunk ranges always covers
// [0, len(document)) with no gaps.
func (c *Chunker) Split(document string) []Chunk {
	if document == "" {
		return nil
	}
	if len(document) <= c.cfg.MaxChunkSize {
		return []Chunk{{
			Index:       0,
			StartOffset: 0,
			EndOffset:   len(document),
			Text:        document,
		}}
	}

	var chunks []Chunk
	start := 0
	for start < len(document) {
		end := start + c.cfg.MaxChunkSize
		forced := false

		if end >= len(document) {
			end = len(document)
		} else {
			floor := end - backoffWindow(c.cfg.MaxChunkSize)
			if floor < start {
				floor = start
			}
			if cut := lastParagraphBreak(document, floor, end); cut > start {
				end = cut
			} else if cut := lastSentenceEnd(document, floor, end); cut > start {
				end = cut
			} else if cut := lastWhitespace(document, floor, end); cut > start {
				end = cut
				forced = true
			} else {
				end = alignRuneBefore(document, end)
				if end <= start {
					// Cap smaller than the rune at start; take the whole
					// rune so the loop always advances.
					_, size := utf8.DecodeRuneInString(document[start:])
					end = start + size
				}
				forced = true
			}
		}

		overlap := 0
		if n := len(chunks); n > 0 {
			overlap = chunks[n-1].EndOffset - start
		}
		chunks = append(chunks, Chunk{
			Index:               len(chunks),
			StartOffset:         start,
			EndOffset:           end,
			OverlapWithPrevious: overlap,
			Text:                document[start:end],
			ForcedCut:           forced,
		})

		if end == len(document) {
			break
		}
		next := alignRuneAfter(document, end-c.cfg.OverlapSize)
		if next <= start {
			// Degenerate configuration; advance without overlap rather
			// than looping forever.
			next = end
		}
		start = next
	}
	return chunks
}

// backoffWindow is how far back from the size cap Split searches for a
// natural boundary before giving up and force-cutting.
func backoffWindow(maxChunkSize int) int {
	w := maxChunkSize / 4
	if w < 64 {
		w = 64
	}
	return w
}

// lastParagraphBreak returns the cut position just after the last
// blank-line separator in document[floor:limit], or -1 if none exists.
func lastParagraphBreak(document string, floor, limit int) int {
	idx := strings.LastIndex(document[floor:limit], "\n\n")
	if idx < 0 {
		return -1
	}
	cut := floor + idx
	// Consume the full newline run so the next chunk starts at text.
	for cut < limit && (document[cut] == '\n' || document[cut] == '\r') {
		cut++
	}
	return cut
}

// lastSentenceEnd returns the position just after the last sentence
// terminator (./?/! followed by whitespace) in document[floor:limit],
// or -1 if none exists.
func lastSentenceEnd(document string, floor, limit int) int {
	for i := limit - 2; i >= floor; i-- {
		ch := document[i]
		if ch != '.' && ch != '?' && ch != '!' {
			continue
		}
		next := document[i+1]
		if next == ' ' || next == '\n' || next == '\t' || next == '\r' {
			return i + 1
		}
	}
	return -1
}

// lastWhitespace returns the position just after the last whitespace
// byte in document[floor:limit], or -1 if none exists. Used as the
// final fallback so a forced cut still never lands mid-token.
func lastWhitespace(document string, floor, limit int) int {
	for i := limit - 1; i >= floor; i-- {
		switch document[i] {
		case ' ', '\n', '\t', '\r':
			return i + 1
		}
	}
	return -1
}

// alignRuneBefore moves pos left until it sits on a rune boundary.
func alignRuneBefore(document string, pos int) int {
	for pos > 0 && !utf8.RuneStart(document[pos]) {
		pos--
	}
	return pos
}

// alignRuneAfter moves pos right until it sits on a rune boundary.
func alignRuneAfter(document string, pos int) int {
	if pos < 0 {
		return 0
	}
	for pos < len(document) && !utf8.RuneStart(document[pos]) {
		pos++
	}
	return pos
}
