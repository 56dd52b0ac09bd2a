package indexer

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

const chunkerVersion = "lines-v1"

// Chunker splits text into overlapping windows made of whole lines.
type Chunker struct {
	MaxChars int     // soft bound on window size; a single longer line becomes its own window
	Overlap  float64 // fraction of MaxChars carried over into the next window, 0 <= Overlap < 1
}

// DefaultChunker returns the chunker used when nothing is configured.
func DefaultChunker() Chunker {
	return Chunker{MaxChars: 2000, Overlap: 0.2}
}

// Span is one window of a file, before embedding.
type Span struct {
	StartLine int // 1-based, inclusive
	EndLine   int // 1-based, inclusive
	Text      string
}

// Version identifies the chunking parameters; it is part of every chunk id.
func (c Chunker) Version() string {
	return fmt.Sprintf("%s/%d/%.2f", chunkerVersion, c.MaxChars, c.Overlap)
}

// Split windows text. Windows never split a line, start lines strictly increase,
// and whitespace-only windows are dropped.
func (c Chunker) Split(text string) []Span {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) == 1 && strings.TrimSpace(lines[0]) == "" {
		return nil
	}

	maxChars := c.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultChunker().MaxChars
	}
	overlapChars := int(float64(maxChars) * c.Overlap)

	var spans []Span
	start := 0
	for start < len(lines) {
		// Grow the window while it fits; always take at least one line.
		end := start
		size := len(lines[start]) + 1
		for end+1 < len(lines) && size+len(lines[end+1])+1 <= maxChars {
			end++
			size += len(lines[end]) + 1
		}

		body := strings.Join(lines[start:end+1], "\n")
		if strings.TrimSpace(body) != "" {
			spans = append(spans, Span{StartLine: start + 1, EndLine: end + 1, Text: body})
		}
		if end+1 >= len(lines) {
			break
		}

		// Step back over trailing lines that fit in the overlap budget.
		next := end + 1
		carried := 0
		for next-1 > start && carried+len(lines[next-1])+1 <= overlapChars {
			next--
			carried += len(lines[next]) + 1
		}
		start = next
	}
	return spans
}

// chunkID is stable across rebuilds with identical inputs and index version.
func chunkID(path string, startLine, endLine int, indexVersion string) string {
	key := fmt.Sprintf("%s:%d:%d:%s", path, startLine, endLine, indexVersion)
	return fmt.Sprintf("%x", sha256.Sum256([]byte(key)))
}
