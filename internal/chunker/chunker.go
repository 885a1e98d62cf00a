package chunker

import (
	"errors"
	"strings"
)

// ErrInvalidConfig is returned when the overlap is not smaller than the
// chunk size or the size is not positive.
var ErrInvalidConfig = errors.New("chunker: overlap must satisfy 0 <= overlap < size")

// Chunker splits transcript text into overlapping windows of at most Size
// runes. Windows are rune-based so multibyte transcripts split cleanly.
type Chunker struct {
	size    int
	overlap int
}

// New validates (size, overlap) once; splitting itself cannot fail.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, ErrInvalidConfig
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split covers text left to right: every window after the first starts
// overlap runes before the previous window's end, the last window may be
// shorter than size, and whitespace-only windows are dropped. The output is
// a pure function of (text, size, overlap), which is what makes re-ingestion
// idempotent.
func (c *Chunker) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := c.size - c.overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		segment := string(runes[start:end])
		if strings.TrimSpace(segment) != "" {
			chunks = append(chunks, segment)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
