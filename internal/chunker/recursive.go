// Package chunker splits document text into overlapping passages, trying
// coarse separators (paragraphs) before fine ones (words, characters).
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"docqa/internal/domain"
)

const (
	DefaultChunkSize = 500
	DefaultOverlap   = 30
)

// DefaultSeparators is the separator priority list: paragraph break, line
// break, sentence end, space, then the hard character boundary.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// RecursiveChunker splits text by the first separator in its priority list
// that occurs in the text, recursing into pieces that are still too long.
// Lengths are measured in characters (runes).
type RecursiveChunker struct {
	chunkSize  int
	overlap    int
	separators []string
}

// Option configures a RecursiveChunker.
type Option func(*RecursiveChunker)

// WithSeparators replaces the separator priority list. The list should end
// with "" so that oversized words can still be cut.
func WithSeparators(seps []string) Option {
	return func(c *RecursiveChunker) {
		if len(seps) > 0 {
			c.separators = append([]string(nil), seps...)
		}
	}
}

// New validates the parameters and returns a chunker.
func New(chunkSize, overlap int, opts ...Option) (*RecursiveChunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrInvalidConfiguration, chunkSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: overlap must not be negative, got %d", domain.ErrInvalidConfiguration, overlap)
	}
	if overlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap %d must be smaller than chunk size %d", domain.ErrInvalidConfiguration, overlap, chunkSize)
	}
	c := &RecursiveChunker{
		chunkSize:  chunkSize,
		overlap:    overlap,
		separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Chunk splits text with the given parameters and the default separators.
func Chunk(text string, chunkSize, overlap int) ([]domain.Passage, error) {
	c, err := New(chunkSize, overlap)
	if err != nil {
		return nil, err
	}
	return c.Chunk(text)
}

// ChunkSize returns the configured maximum passage length.
func (c *RecursiveChunker) ChunkSize() int { return c.chunkSize }

// Overlap returns the configured overlap.
func (c *RecursiveChunker) Overlap() int { return c.overlap }

// Chunk implements domain.Chunker. Empty text yields no passages.
func (c *RecursiveChunker) Chunk(text string) ([]domain.Passage, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	texts := c.split(text, c.separators)
	passages := make([]domain.Passage, len(texts))
	for i, t := range texts {
		passages[i] = domain.Passage{
			Text:       t,
			Position:   i,
			TotalCount: len(texts),
			CharLength: utf8.RuneCountInString(t),
		}
	}
	return passages, nil
}

func (c *RecursiveChunker) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, s := range separators {
		if s == "" {
			sep = s
			break
		}
		if strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	var out, good []string
	for _, piece := range splitKeepingSeparator(text, sep) {
		if utf8.RuneCountInString(piece) < c.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, c.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			if doc := strings.TrimSpace(piece); doc != "" {
				out = append(out, doc)
			}
		} else {
			out = append(out, c.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, c.merge(good)...)
	}
	return out
}

// merge packs consecutive pieces into chunks of at most chunkSize
// characters. When a chunk is emitted, its trailing pieces totalling at
// most overlap characters are carried into the next one.
func (c *RecursiveChunker) merge(pieces []string) []string {
	var (
		out     []string
		current []string
		lengths []int
		total   int
	)
	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if total+n > c.chunkSize && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				out = append(out, doc)
			}
			for total > c.overlap || (total > 0 && total+n > c.chunkSize) {
				total -= lengths[0]
				current = current[1:]
				lengths = lengths[1:]
			}
		}
		current = append(current, p)
		lengths = append(lengths, n)
		total += n
	}
	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		out = append(out, doc)
	}
	return out
}

// splitKeepingSeparator splits text on sep and keeps each separator at the
// start of the piece that follows it. An empty sep splits into characters.
func splitKeepingSeparator(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	if parts[0] != "" {
		out = append(out, parts[0])
	}
	for _, p := range parts[1:] {
		out = append(out, sep+p)
	}
	return out
}
