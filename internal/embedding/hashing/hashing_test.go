package hashing

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/embedding"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestNew_DefaultDimension(t *testing.T) {
	assert.Equal(t, DefaultDimension, New(0).Dimension())
	assert.Equal(t, 64, New(64).Dimension())
	assert.Equal(t, "hashing", New(8).Name())
}

func TestEmbed_DeterministicAndNormalized(t *testing.T) {
	m := New(128)
	texts := []string{"The quick brown fox", "jumps over the lazy dog"}

	a, err := m.Embed(context.Background(), texts, embedding.RoleDocument)
	require.NoError(t, err)
	b, err := m.Embed(context.Background(), texts, embedding.RoleQuery)
	require.NoError(t, err)

	assert.Equal(t, a, b, "role must not change the vector")
	for _, v := range a {
		require.Len(t, v, 128)
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, norm, 1e-5)
	}
}

func TestEmbed_SimilarTextsScoreHigher(t *testing.T) {
	m := New(DefaultDimension)
	vecs, err := m.Embed(context.Background(), []string{
		"Go channels let goroutines communicate safely",
		"goroutines communicate through channels in Go",
		"Bananas are rich in potassium",
	}, embedding.RoleDocument)
	require.NoError(t, err)

	related := cosine(vecs[0], vecs[1])
	unrelated := cosine(vecs[0], vecs[2])
	assert.Greater(t, related, unrelated)
}

func TestEmbed_StopwordOnlyText(t *testing.T) {
	m := New(32)
	vecs, err := m.Embed(context.Background(), []string{"what is it"}, embedding.RoleQuery)
	require.NoError(t, err)

	var nonZero bool
	for _, x := range vecs[0] {
		if x != 0 {
			nonZero = true
		}
	}
	assert.True(t, nonZero)
}

func TestEmbed_NoWords(t *testing.T) {
	m := New(16)
	vecs, err := m.Embed(context.Background(), []string{"!!! ..."}, embedding.RoleDocument)
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 16), vecs[0])
}

func TestEmbed_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(16).Embed(ctx, []string{"hello"}, embedding.RoleDocument)
	require.ErrorIs(t, err, context.Canceled)
}
