// Package answer turns a question and a retrieved context into a reply.
// Every generator answers NotFoundAnswer when the context is blank, without
// calling any model.
package answer

import (
	"context"
	"sort"
	"strings"

	"docqa/internal/domain"
	"docqa/internal/textutil"
)

// NotFoundAnswer is returned when the document does not contain an answer.
const NotFoundAnswer = "The answer to this question was not found in the provided document."

// DefaultMaxSentences bounds the extractive answer.
const DefaultMaxSentences = 3

// NotFound reports whether an answer cannot be derived from context.
func NotFound(context string) bool {
	return strings.TrimSpace(context) == ""
}

// Extractive answers with the context sentences that share the most
// words with the question, in context order.
type Extractive struct {
	maxSentences int
}

var _ domain.Answerer = (*Extractive)(nil)

// NewExtractive returns an extractive generator picking at most
// maxSentences sentences.
func NewExtractive(maxSentences int) *Extractive {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}
	return &Extractive{maxSentences: maxSentences}
}

// Answer implements domain.Answerer.
func (e *Extractive) Answer(ctx context.Context, question, passages string) (string, error) {
	if NotFound(passages) {
		return NotFoundAnswer, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var score func(string) int
	if qset := textutil.TokenSet(question); len(qset) > 0 {
		score = func(s string) int { return textutil.Overlap(qset, s) }
	} else {
		// A question made only of stopwords is matched on raw words.
		words := wordSet(question)
		score = func(s string) int { return countIn(words, s) }
	}

	type scored struct {
		idx   int
		score int
	}
	sentences := textutil.Sentences(passages)
	seen := make(map[string]struct{}, len(sentences))
	var hits []scored
	for i, s := range sentences {
		// Overlapping passages repeat sentences.
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		if n := score(s); n > 0 {
			hits = append(hits, scored{i, n})
		}
	}
	if len(hits) == 0 {
		return NotFoundAnswer, nil
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	hits = hits[:min(e.maxSentences, len(hits))]
	sort.Slice(hits, func(i, j int) bool { return hits[i].idx < hits[j].idx })

	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = sentences[h.idx]
	}
	return strings.Join(out, " "), nil
}

func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range textutil.Words(text) {
		set[w] = struct{}{}
	}
	return set
}

// countIn counts the distinct words of text present in set.
func countIn(set map[string]struct{}, text string) int {
	n := 0
	for w := range wordSet(text) {
		if _, ok := set[w]; ok {
			n++
		}
	}
	return n
}
