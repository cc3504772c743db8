// Package ingest turns uploaded files and pasted text into the cleaned
// document text the retriever indexes.
package ingest

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/charmap"

	"docqa/internal/domain"
)

// DefaultMaxBytes bounds a single upload.
const DefaultMaxBytes = 10 << 20

// SupportedExtensions lists the file types FromFile accepts.
var SupportedExtensions = []string{".txt", ".md", ".pdf"}

// fallbacks are tried in order when a text file is not valid UTF-8.
var fallbacks = []struct {
	name string
	cm   *charmap.Charmap
}{
	{"cp1251", charmap.Windows1251},
	{"koi8-r", charmap.KOI8R},
	{"iso-8859-1", charmap.ISO8859_1},
}

var (
	disallowedRe = regexp.MustCompile(`[^\p{L}\p{M}\p{N}\p{Zs}_\s\v.,;:!?%\-]`)
	hspaceRe     = regexp.MustCompile(`[\t\f\v\p{Zs}]+`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// Extractor extracts text from supported inputs.
type Extractor struct {
	maxBytes int64
	logger   *slog.Logger
}

// New returns an Extractor rejecting inputs larger than maxBytes.
func New(maxBytes int64, logger *slog.Logger) *Extractor {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{maxBytes: maxBytes, logger: logger}
}

// MaxBytes returns the upload limit.
func (e *Extractor) MaxBytes() int64 { return e.maxBytes }

// FromText cleans pasted text.
func (e *Extractor) FromText(s string) (string, error) {
	if int64(len(s)) > e.maxBytes {
		return "", fmt.Errorf("%w: %d bytes, limit is %d", domain.ErrInputTooLarge, len(s), e.maxBytes)
	}
	out := Clean(s)
	e.logger.Debug("cleaned pasted text", "in", len(s), "out", len(out))
	return out, nil
}

// FromFile extracts and cleans the text of an uploaded file. The file type
// is taken from the extension of name.
func (e *Extractor) FromFile(name string, data []byte) (string, error) {
	if int64(len(data)) > e.maxBytes {
		return "", fmt.Errorf("%w: %s is %d bytes, limit is %d", domain.ErrInputTooLarge, name, len(data), e.maxBytes)
	}

	var (
		raw string
		err error
	)
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".txt", ".md":
		var enc string
		raw, enc = decodeText(data)
		e.logger.Debug("decoded text file", "file", name, "encoding", enc)
	case ".pdf":
		raw, err = pdfText(data)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %w", domain.ErrUnsupportedFormat, name, err)
		}
		if strings.TrimSpace(raw) == "" {
			e.logger.Warn("pdf has no text layer", "file", name)
		}
	default:
		return "", fmt.Errorf("%w: %q (supported: %s)", domain.ErrUnsupportedFormat, ext, strings.Join(SupportedExtensions, ", "))
	}

	out := Clean(raw)
	e.logger.Info("extracted file", "file", name, "chars", utf8.RuneCountInString(out))
	return out, nil
}

// FromPath reads a local file and extracts it like FromFile.
func (e *Extractor) FromPath(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() > e.maxBytes {
		return "", fmt.Errorf("%w: %s is %d bytes, limit is %d", domain.ErrInputTooLarge, path, info.Size(), e.maxBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return e.FromFile(filepath.Base(path), data)
}

// Clean keeps letters, digits, whitespace and basic punctuation, collapses
// runs of spaces and tabs, and reduces blank-line runs to a single
// paragraph break.
func Clean(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = disallowedRe.ReplaceAllString(s, "")
	s = hspaceRe.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// decodeText returns data as UTF-8 and the name of the encoding used.
func decodeText(data []byte) (string, string) {
	if utf8.Valid(data) {
		return string(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))), "utf-8"
	}
	for _, fb := range fallbacks {
		out, err := fb.cm.NewDecoder().Bytes(data)
		if err != nil || bytes.ContainsRune(out, utf8.RuneError) {
			continue
		}
		return string(out), fb.name
	}
	// Unreachable: ISO-8859-1 maps every byte.
	return string(data), "unknown"
}

// pdfText returns the text layer of a PDF, one page per line group.
func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	fonts := make(map[string]*pdf.Font)
	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := p.Font(name)
				fonts[name] = &f
			}
		}
		text, err := p.GetPlainText(fonts)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n"), nil
}
