package ingest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"docqa/internal/domain"
)

// minimalPDF builds a one-page PDF whose text layer is text.
func minimalPDF(text string) []byte {
	content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"collapses spaces and tabs", "a  \t b", "a b"},
		{"keeps punctuation", "Hi, there: 50% done; ok? yes! well-known.", "Hi, there: 50% done; ok? yes! well-known."},
		{"drops symbols", "price $5 (approx) #tag @me", "price 5 approx tag me"},
		{"drops control characters", "a\x00b\x07c", "abc"},
		{"keeps line breaks", "line one\nline two", "line one\nline two"},
		{"reduces blank lines to a paragraph break", "para one\n\n\n\n  para two", "para one\n\npara two"},
		{"normalizes CRLF", "one\r\ntwo\r\n\r\nthree", "one\ntwo\n\nthree"},
		{"trims lines and ends", "  \n  hello  \n  ", "hello"},
		{"keeps non-latin letters", "Привет, мир «ёлка»", "Привет, мир ёлка"},
		{"treats no-break space as a space", "a\u00a0b", "a b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestFromText(t *testing.T) {
	e := New(16, nil)

	out, err := e.FromText("  hello   world ")
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)

	_, err = e.FromText(strings.Repeat("x", 17))
	require.ErrorIs(t, err, domain.ErrInputTooLarge)
}

func TestFromFile_UTF8(t *testing.T) {
	e := New(0, nil)
	assert.Equal(t, int64(DefaultMaxBytes), e.MaxBytes())

	out, err := e.FromFile("notes.TXT", []byte("\xef\xbb\xbfFirst.\n\n\nSecond."))
	require.NoError(t, err)
	assert.Equal(t, "First.\n\nSecond.", out)

	out, err = e.FromFile("readme.md", []byte("# Title\n\nBody *text*"))
	require.NoError(t, err)
	assert.Equal(t, "Title\n\nBody text", out)
}

func TestFromFile_LegacyEncodings(t *testing.T) {
	e := New(0, nil)

	cp1251, err := charmap.Windows1251.NewEncoder().String("Привет, мир")
	require.NoError(t, err)
	out, err := e.FromFile("ru.txt", []byte(cp1251))
	require.NoError(t, err)
	assert.Equal(t, "Привет, мир", out)

	// 0x98 is undefined in cp1251, so KOI8-R is used.
	koi, err := charmap.KOI8R.NewEncoder().String("Мир")
	require.NoError(t, err)
	raw, enc := decodeText(append([]byte(koi), 0x98))
	assert.Equal(t, "koi8-r", enc)
	assert.True(t, strings.HasPrefix(raw, "Мир"))
}

func TestFromFile_PDF(t *testing.T) {
	e := New(0, nil)

	out, err := e.FromFile("doc.pdf", minimalPDF("Hello PDF world"))
	require.NoError(t, err)
	assert.Equal(t, "Hello PDF world", out)

	_, err = e.FromFile("broken.pdf", []byte("not a pdf"))
	require.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestFromFile_Rejections(t *testing.T) {
	e := New(8, nil)

	_, err := e.FromFile("image.png", []byte("x"))
	require.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	_, err = e.FromFile("big.txt", bytes.Repeat([]byte("x"), 9))
	require.ErrorIs(t, err, domain.ErrInputTooLarge)
}

func TestFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("Some   text.\n\n\nMore."), 0o600))

	out, err := New(0, nil).FromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "Some text.\n\nMore.", out)

	_, err = New(4, nil).FromPath(path)
	require.ErrorIs(t, err, domain.ErrInputTooLarge)

	_, err = New(0, nil).FromPath(filepath.Join(dir, "missing.txt"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
