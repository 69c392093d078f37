// Package chunker splits raw transcript text into bounded, overlapping,
// speaker-aware segments. Splitting is priority-ordered: speaker turns
// first (losing attribution destroys downstream analysis value), then
// paragraphs, then sentences, then forced slicing for giant run-ons.
package chunker

import (
	"regexp"
	"strings"
)

const (
	DefaultChunkSize    = 2000
	DefaultChunkOverlap = 200

	sectionSep = "\n\n"
)

var (
	// A labeled speaker turn: "Agent:", "Maria Lopez:", "REP 2:" at line start.
	speakerRe = regexp.MustCompile(`(?m)^[A-Za-z][A-Za-z0-9 .'\-]{0,40}:\s`)

	paragraphRe = regexp.MustCompile(`\n[ \t]*\n+`)

	// End-of-sentence punctuation followed by whitespace.
	sentenceRe = regexp.MustCompile(`[.!?]+[\s]+`)
)

type Chunker struct {
	chunkSize int
	overlap   int
}

// New returns a Chunker with the given limits. Zero or negative values
// fall back to the defaults; the overlap is clamped below the chunk size.
func New(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap <= 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 10
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}
}

// Chunk splits text into ordered chunks of at most the configured chunk
// size, adjacent chunks sharing roughly the configured overlap. Empty or
// whitespace-only input yields no chunks.
func (c *Chunker) Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	// Each stage only touches sections still above the working limit;
	// sections that already fit are passed through untouched.
	workingMax := c.chunkSize * 3 / 2
	sections := []string{text}
	sections = splitOversized(sections, workingMax, splitSpeakerTurns)
	sections = splitOversized(sections, workingMax, splitParagraphs)
	sections = splitOversized(sections, workingMax, splitSentences)

	return c.merge(sections)
}

// merge accumulates sections into chunks, seeding each new chunk with
// the trailing overlap of the one just flushed so context survives the
// boundary. Oversized atomic sections are force-sliced into overlapping
// windows.
func (c *Chunker) merge(sections []string) []string {
	var chunks []string
	var buf string
	for _, sec := range sections {
		switch {
		case buf == "":
			buf = sec
		case len(buf)+len(sectionSep)+len(sec) <= c.chunkSize:
			buf += sectionSep + sec
		default:
			chunks = append(chunks, buf)
			if len(buf) > c.overlap {
				buf = buf[len(buf)-c.overlap:] + sectionSep + sec
			} else {
				// A flushed chunk shorter than the overlap would be
				// duplicated wholesale; start fresh instead.
				buf = sec
			}
		}

		for len(buf) > c.chunkSize {
			chunks = append(chunks, buf[:c.chunkSize])
			buf = buf[c.chunkSize-c.overlap:]
		}
	}
	if strings.TrimSpace(buf) != "" {
		chunks = append(chunks, buf)
	}
	return chunks
}

func splitOversized(sections []string, workingMax int, split func(string) []string) []string {
	out := make([]string, 0, len(sections))
	for _, s := range sections {
		if len(s) <= workingMax {
			out = append(out, s)
			continue
		}
		parts := split(s)
		if len(parts) <= 1 {
			// Pattern found no boundary; forced slicing handles it later.
			out = append(out, s)
			continue
		}
		out = append(out, parts...)
	}
	return out
}

// splitSpeakerTurns cuts before each labeled turn, keeping the label
// with the utterance that follows it.
func splitSpeakerTurns(s string) []string {
	locs := speakerRe.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return []string{s}
	}
	bounds := []int{0}
	for _, loc := range locs {
		if loc[0] > 0 {
			bounds = append(bounds, loc[0])
		}
	}
	bounds = append(bounds, len(s))

	var parts []string
	for i := 0; i+1 < len(bounds); i++ {
		if p := strings.TrimSpace(s[bounds[i]:bounds[i+1]]); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func splitParagraphs(s string) []string {
	var parts []string
	for _, p := range paragraphRe.Split(s, -1) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// splitSentences cuts after end-of-sentence punctuation, keeping the
// punctuation with the sentence it closes.
func splitSentences(s string) []string {
	locs := sentenceRe.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return []string{s}
	}
	var parts []string
	start := 0
	for _, loc := range locs {
		if p := strings.TrimSpace(s[start:loc[1]]); p != "" {
			parts = append(parts, p)
		}
		start = loc[1]
	}
	if start < len(s) {
		if p := strings.TrimSpace(s[start:]); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
