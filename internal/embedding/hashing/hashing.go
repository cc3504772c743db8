// Package hashing implements an offline embedding model based on the
// hashing trick. Every token and adjacent token pair is hashed into a
// fixed number of buckets, so the model needs no vocabulary and is safe to
// share across documents.
package hashing

import (
	"context"
	"math"

	"github.com/cespare/xxhash/v2"

	"docqa/internal/embedding"
	"docqa/internal/textutil"
)

// DefaultDimension is used when New is given a non-positive dimension.
const DefaultDimension = 384

const bigramWeight = 0.5

// Model is a deterministic bag-of-words embedder.
type Model struct {
	dim int
}

var _ embedding.Model = (*Model)(nil)

// New returns a model producing vectors of length dim.
func New(dim int) *Model {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Model{dim: dim}
}

// Name returns the identifier of this model.
func (m *Model) Name() string { return "hashing" }

// Dimension returns the vector length.
func (m *Model) Dimension() int { return m.dim }

// Embed hashes each text independently. Role is ignored: passages and
// queries share one space.
func (m *Model) Embed(ctx context.Context, texts []string, _ embedding.Role) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = m.vector(text)
	}
	return out, nil
}

func (m *Model) vector(text string) []float32 {
	acc := make([]float64, m.dim)
	tokens := textutil.Tokens(text)
	if len(tokens) == 0 {
		// A query made only of stopwords still deserves a direction.
		tokens = textutil.Words(text)
	}
	for i, tok := range tokens {
		m.add(acc, tok, 1)
		if i > 0 {
			m.add(acc, tokens[i-1]+" "+tok, bigramWeight)
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	out := make([]float32, m.dim)
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range acc {
		out[i] = float32(v / norm)
	}
	return out
}

// add spreads w into one bucket; the top hash bit picks the sign so that
// collisions cancel out on average.
func (m *Model) add(acc []float64, feature string, w float64) {
	h := xxhash.Sum64String(feature)
	idx := int(h % uint64(m.dim))
	if h>>63 == 1 {
		w = -w
	}
	acc[idx] += w
}
