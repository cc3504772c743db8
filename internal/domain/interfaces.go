package domain

import "context"

// Document is the cleaned text of one uploaded or pasted source.
type Document struct {
	ID      string
	Name    string
	Content string
}

// Passage is one chunk of a document with its position metadata.
type Passage struct {
	Text       string
	Position   int
	TotalCount int
	CharLength int
}

// EmbeddedPassage pairs a passage with the vector produced for it.
type EmbeddedPassage struct {
	Passage Passage
	Vector  []float32
	Dim     int
}

// RetrievalResult is a ranked passage returned by an index query.
// Score is a cosine similarity, higher is more similar.
type RetrievalResult struct {
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	Position   int     `json:"position"`
	CharLength int     `json:"char_length"`
}

// Chunker splits document text into ordered, overlapping passages.
type Chunker interface {
	Chunk(text string) ([]Passage, error)
}

// Embedder is the gateway to an embedding model. Passage and query vectors
// live in the same metric space.
type Embedder interface {
	EmbedPassages(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// IndexBuilder constructs an immutable index over a full passage set.
type IndexBuilder interface {
	Build(ctx context.Context, passages []EmbeddedPassage) (Index, error)
}

// Index answers k-nearest-neighbour queries by cosine similarity.
type Index interface {
	Query(ctx context.Context, vector []float32, k int) ([]RetrievalResult, error)
	Dimension() int
	Len() int
	Close() error
}

// Answerer turns a question and a retrieved context into prose.
type Answerer interface {
	Answer(ctx context.Context, question, context string) (string, error)
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}
