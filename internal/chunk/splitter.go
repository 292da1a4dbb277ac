// Package chunk splits normalized document text into overlapping
// fixed-size pieces suitable for embedding.
package chunk

import (
	"fmt"
	"strings"
)

// Splitter cuts text into chunks of at most Size runes, where each
// chunk after the first repeats exactly Overlap runes from the end of
// the previous one. Cut points prefer paragraph breaks, then line
// breaks, then spaces, falling back to a hard cut so no chunk ever
// exceeds Size.
type Splitter struct {
	Size    int
	Overlap int
}

// NewSplitter validates the chunk geometry and returns a Splitter.
func NewSplitter(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, size), got overlap=%d size=%d", overlap, size)
	}
	return &Splitter{Size: size, Overlap: overlap}, nil
}

// Split cuts text into chunks. It operates on runes so multi-byte
// characters are never torn apart, and it is deterministic: the same
// input always yields the same chunks. Whitespace-only chunks are
// dropped; empty or whitespace-only input yields nil.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= s.Size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + s.Size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = s.cutPoint(runes, start, end)
		}
		piece := string(runes[start:end])
		if strings.TrimSpace(piece) != "" {
			chunks = append(chunks, piece)
		}
		if end == len(runes) {
			break
		}
		start = end - s.Overlap
	}
	return chunks
}

// cutPoint picks the cut index in (start+Overlap, limit], scanning
// backward for the end of a paragraph break, then a line break, then a
// space. The lower bound keeps every cut strictly past the overlap
// region so the scan always advances.
func (s *Splitter) cutPoint(runes []rune, start, limit int) int {
	lower := start + s.Overlap
	for i := limit; i > lower; i-- {
		if runes[i-1] == '\n' && i-2 >= start && runes[i-2] == '\n' {
			return i
		}
	}
	for i := limit; i > lower; i-- {
		if runes[i-1] == '\n' {
			return i
		}
	}
	for i := limit; i > lower; i-- {
		if runes[i-1] == ' ' {
			return i
		}
	}
	return limit
}
