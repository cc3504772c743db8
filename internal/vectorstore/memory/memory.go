// Package memory implements an exact, in-memory cosine index.
package memory

import (
	"context"
	"log/slog"

	"docqa/internal/domain"
	"docqa/internal/vectorstore"
)

// Builder creates Index values.
type Builder struct {
	logger *slog.Logger
}

var _ domain.IndexBuilder = (*Builder)(nil)

// NewBuilder returns a Builder that logs to logger, or slog.Default when
// logger is nil.
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{logger: logger}
}

// Build validates eps and returns an immutable flat index over them.
func (b *Builder) Build(ctx context.Context, eps []domain.EmbeddedPassage) (domain.Index, error) {
	ix, err := NewIndex(eps)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.logger.Debug("built memory index", "passages", ix.Len(), "dim", ix.Dimension())
	return ix, nil
}

// Index is a brute-force cosine index. Vectors are normalized on insertion
// so a query costs one dot product per passage. The zero value is an
// unbuilt index.
type Index struct {
	dim      int
	vectors  [][]float32
	passages []domain.Passage
}

var _ domain.Index = (*Index)(nil)

// NewIndex builds an index over eps.
func NewIndex(eps []domain.EmbeddedPassage) (*Index, error) {
	dim, err := vectorstore.Validate(eps)
	if err != nil {
		return nil, err
	}
	ix := &Index{
		dim:      dim,
		vectors:  make([][]float32, len(eps)),
		passages: make([]domain.Passage, len(eps)),
	}
	for i, ep := range eps {
		ix.vectors[i] = vectorstore.Normalize(ep.Vector)
		ix.passages[i] = ep.Passage
	}
	return ix, nil
}

// Dimension returns the build-time vector dimension.
func (ix *Index) Dimension() int { return ix.dim }

// Len returns the number of indexed passages.
func (ix *Index) Len() int { return len(ix.passages) }

// Query returns the k passages most similar to vec.
func (ix *Index) Query(ctx context.Context, vec []float32, k int) ([]domain.RetrievalResult, error) {
	if ix == nil || ix.dim == 0 {
		return nil, domain.ErrIndexNotBuilt
	}
	if err := vectorstore.CheckK(k); err != nil {
		return nil, err
	}
	if err := vectorstore.CheckQuery(vec, ix.dim); err != nil {
		return nil, err
	}
	if k == 0 {
		return []domain.RetrievalResult{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := vectorstore.Normalize(vec)
	results := make([]domain.RetrievalResult, len(ix.passages))
	for i, p := range ix.passages {
		results[i] = domain.RetrievalResult{
			Text:       p.Text,
			Score:      dot(ix.vectors[i], q),
			Position:   p.Position,
			CharLength: p.CharLength,
		}
	}
	vectorstore.SortResults(results)
	return results[:min(k, len(results))], nil
}

// Close is a no-op; the index is reclaimed by the garbage collector.
func (ix *Index) Close() error { return nil }

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
