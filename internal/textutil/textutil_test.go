package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"go", "great", "concurrent", "services"}, Tokens("Go is great for concurrent services."))
	assert.Equal(t, []string{"don't", "panic"}, Tokens("Don't panic"))
	assert.Empty(t, Tokens("the and of"))
	assert.Equal(t, []string{"привет", "мир"}, Tokens("Привет, и мир!"))
}

func TestSentences(t *testing.T) {
	got := Sentences("First one. Second one!  Third without stop")
	assert.Equal(t, []string{"First one.", "Second one!", "Third without stop"}, got)
	assert.Empty(t, Sentences("   "))
}

func TestOverlap(t *testing.T) {
	set := TokenSet("concurrent services in Go")
	assert.Equal(t, 2, Overlap(set, "Go runs services, services everywhere"))
	assert.Equal(t, 0, Overlap(set, "nothing related here"))
}
