// Package vectorstore holds the checks and ordering rules shared by the
// index backends.
package vectorstore

import (
	"fmt"
	"math"
	"sort"

	"docqa/internal/domain"
)

// Validate checks a build input and returns its common dimension. Zero
// passages fail with ErrEmptyIndex; inconsistent or empty vectors fail
// with ErrDimensionMismatch.
func Validate(eps []domain.EmbeddedPassage) (int, error) {
	if len(eps) == 0 {
		return 0, fmt.Errorf("%w: no passages to index", domain.ErrEmptyIndex)
	}
	dim := len(eps[0].Vector)
	if dim == 0 {
		return 0, fmt.Errorf("%w: passage 0 has an empty vector", domain.ErrDimensionMismatch)
	}
	for i, ep := range eps {
		if len(ep.Vector) != dim {
			return 0, fmt.Errorf("%w: passage %d has dim %d, passage 0 has %d", domain.ErrDimensionMismatch, i, len(ep.Vector), dim)
		}
		if ep.Dim != 0 && ep.Dim != len(ep.Vector) {
			return 0, fmt.Errorf("%w: passage %d declares dim %d but carries %d values", domain.ErrDimensionMismatch, i, ep.Dim, len(ep.Vector))
		}
	}
	return dim, nil
}

// CheckQuery rejects query vectors that cannot be scored against an index
// of dimension dim. A wrong length or a non-finite component is
// ErrInvalidQueryVector; an all-zero vector is ErrEmptyInput.
func CheckQuery(vec []float32, dim int) error {
	if len(vec) != dim {
		return fmt.Errorf("%w: query has dim %d, index has %d", domain.ErrInvalidQueryVector, len(vec), dim)
	}
	var norm float64
	for _, x := range vec {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: query contains a non-finite value", domain.ErrInvalidQueryVector)
		}
		norm += f * f
	}
	// A query made only of punctuation embeds to zero in local models.
	if norm == 0 {
		return fmt.Errorf("%w: query has no searchable terms", domain.ErrEmptyInput)
	}
	return nil
}

// CheckK validates a requested result count.
func CheckK(k int) error {
	if k < 0 {
		return fmt.Errorf("%w: k must be >= 0, got %d", domain.ErrInvalidConfiguration, k)
	}
	return nil
}

// SortResults orders results by descending score, breaking ties by
// ascending position.
func SortResults(rs []domain.RetrievalResult) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Score != rs[j].Score {
			return rs[i].Score > rs[j].Score
		}
		return rs[i].Position < rs[j].Position
	})
}

// Normalize returns a unit-length copy of v. A zero vector is copied as is.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		copy(out, v)
		return out
	}
	inv := 1 / math.Sqrt(norm)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
