package chunker

import (
	"fmt"
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

func words(prefix string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%s%04d", prefix, i)
	}
	return strings.Join(parts, " ")
}

// paragraph builds sentence-terminated text of exactly n characters.
func paragraph(prefix string, n int) string {
	var b strings.Builder
	i := 0
	for b.Len() < n {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s%04d.", prefix, i)
		i++
	}
	return b.String()[:n]
}

// sharedAffix returns the length of the longest suffix of a that is a prefix of b.
func sharedAffix(a, b string) int {
	best := 0
	for n := 1; n <= len(a) && n <= len(b); n++ {
		if strings.HasSuffix(a, b[:n]) {
			best = n
		}
	}
	return best
}

func TestNew_Validation(t *testing.T) {
	cases := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 0},
		{"negative size", -5, 0},
		{"negative overlap", 100, -1},
		{"overlap equals size", 100, 100},
		{"overlap exceeds size", 100, 150},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.size, tc.overlap)
			require.ErrorIs(t, err, domain.ErrInvalidConfiguration)

			_, err = Chunk("some text", tc.size, tc.overlap)
			require.ErrorIs(t, err, domain.ErrInvalidConfiguration)
		})
	}

	c, err := New(DefaultChunkSize, DefaultOverlap)
	require.NoError(t, err)
	assert.Equal(t, 500, c.ChunkSize())
	assert.Equal(t, 30, c.Overlap())
}

func TestChunk_EmptyInput(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\n\t"} {
		passages, err := Chunk(text, 500, 30)
		require.NoError(t, err)
		assert.Empty(t, passages)
	}
}

func TestChunk_ShortText(t *testing.T) {
	passages, err := Chunk("Hello, world.", 500, 30)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, domain.Passage{Text: "Hello, world.", Position: 0, TotalCount: 1, CharLength: 13}, passages[0])
}

func TestChunk_PositionsAndMetadata(t *testing.T) {
	passages, err := Chunk(words("w", 400), 120, 20)
	require.NoError(t, err)
	require.Greater(t, len(passages), 10)

	for i, p := range passages {
		assert.Equal(t, i, p.Position)
		assert.Equal(t, len(passages), p.TotalCount)
		assert.Equal(t, utf8.RuneCountInString(p.Text), p.CharLength)
	}
}

func TestChunk_SizeBound(t *testing.T) {
	text := paragraph("a", 900) + "\n\n" + words("b", 150) + "\n" + paragraph("c", 1300)
	for _, size := range []int{50, 120, 500, 800} {
		passages, err := Chunk(text, size, size/10)
		require.NoError(t, err)
		for _, p := range passages {
			assert.LessOrEqual(t, p.CharLength, size, "size=%d passage=%q", size, p.Text)
		}
	}
}

func TestChunk_Coverage(t *testing.T) {
	text := paragraph("x", 700) + "\n\n" + words("y", 120) + "\n" + paragraph("z", 260)
	passages, err := Chunk(text, 200, 30)
	require.NoError(t, err)

	covered := make([]bool, len(text))
	from := 0
	for _, p := range passages {
		idx := strings.Index(text[from:], p.Text)
		require.GreaterOrEqual(t, idx, 0, "passage %d is not a substring at or after the previous one", p.Position)
		start := from + idx
		for i := start; i < start+len(p.Text); i++ {
			covered[i] = true
		}
		from = start
	}
	for i, r := range text {
		if !unicode.IsSpace(r) {
			require.True(t, covered[i], "byte %d (%q) not covered", i, r)
		}
	}
}

func TestChunk_Overlap(t *testing.T) {
	passages, err := Chunk(words("w", 300), 100, 30)
	require.NoError(t, err)
	require.Greater(t, len(passages), 2)

	for i := 1; i < len(passages); i++ {
		shared := sharedAffix(passages[i-1].Text, passages[i].Text)
		assert.LessOrEqual(t, shared, 30)
		assert.Positive(t, shared, "word-level passages should carry a leading overlap")
	}
}

func TestChunk_Deterministic(t *testing.T) {
	text := paragraph("d", 2000) + "\n\n" + words("e", 200)
	first, err := Chunk(text, 300, 25)
	require.NoError(t, err)
	second, err := Chunk(text, 300, 25)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestChunk_ParagraphBoundary(t *testing.T) {
	p1 := paragraph("p", 450)
	p2 := paragraph("q", 400)

	passages, err := Chunk(p1+"\n\n"+p2, 500, 30)
	require.NoError(t, err)
	require.Len(t, passages, 2)
	assert.Equal(t, p1, passages[0].Text)
	assert.Equal(t, p2, passages[1].Text)
}

func TestChunk_LongFirstParagraph(t *testing.T) {
	p1 := paragraph("p", 600)
	p2 := paragraph("q", 400)

	passages, err := Chunk(p1+"\n\n"+p2, 500, 30)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(passages), 2)

	assert.LessOrEqual(t, passages[0].CharLength, 500)
	assert.True(t, strings.HasPrefix(p1, passages[0].Text))

	last := passages[len(passages)-1]
	assert.Equal(t, p2, last.Text, "second paragraph starts its own passage")
	for i := 1; i < len(passages); i++ {
		assert.LessOrEqual(t, sharedAffix(passages[i-1].Text, passages[i].Text), 30)
	}
}

func TestChunk_HardCharacterBoundary(t *testing.T) {
	long := strings.Repeat("abcdefghij", 120)
	passages, err := Chunk(long, 500, 30)
	require.NoError(t, err)
	require.Len(t, passages, 3)

	assert.Equal(t, long[:500], passages[0].Text)
	assert.Equal(t, long[470:970], passages[1].Text)
	assert.Equal(t, long[940:], passages[2].Text)
}

func TestChunk_CountsRunesNotBytes(t *testing.T) {
	long := strings.Repeat("ж", 600)
	passages, err := Chunk(long, 500, 0)
	require.NoError(t, err)
	require.Len(t, passages, 2)
	assert.Equal(t, 500, passages[0].CharLength)
	assert.Equal(t, 1000, len(passages[0].Text))
	assert.Equal(t, 100, passages[1].CharLength)
}

func TestChunk_CustomSeparatorsKeepAtomicUnit(t *testing.T) {
	c, err := New(10, 0, WithSeparators([]string{" "}))
	require.NoError(t, err)

	passages, err := c.Chunk("tiny supercalifragilistic end")
	require.NoError(t, err)
	require.Len(t, passages, 3)
	assert.Equal(t, "tiny", passages[0].Text)
	assert.Equal(t, "supercalifragilistic", passages[1].Text)
	assert.Equal(t, "end", passages[2].Text)
}
