// Package retriever binds one document to one vector index and answers
// similarity searches against it.
//
// A Session moves from Empty to Indexed on a successful BuildIndex and to
// Queried on the first Search. Builds are serialized and publish the index
// only once it is complete, so a failed or cancelled build leaves the
// session as it was. Searches never block each other.
package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"docqa/internal/domain"
	"docqa/internal/observability"
)

const (
	DefaultK         = 5
	DefaultSeparator = "\n\n"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateEmpty State = iota
	StateIndexed
	StateQueried
)

func (s State) String() string {
	switch s {
	case StateIndexed:
		return "indexed"
	case StateQueried:
		return "queried"
	default:
		return "empty"
	}
}

// built is the published result of a successful BuildIndex.
type built struct {
	index    domain.Index
	passages int
}

// Session is the search session of a single document.
type Session struct {
	id        string
	chunker   domain.Chunker
	embedder  domain.Embedder
	builder   domain.IndexBuilder
	separator string
	logger    *slog.Logger

	buildMu sync.Mutex
	current atomic.Pointer[built]
	queried atomic.Bool
}

// Option configures a Session.
type Option func(*Session)

// WithID labels the session in logs and traces.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithSeparator sets the string placed between passages by BuildContext.
func WithSeparator(sep string) Option {
	return func(s *Session) { s.separator = sep }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSession creates an empty session. The embedder is expected to be
// shared between sessions.
func NewSession(chunker domain.Chunker, embedder domain.Embedder, builder domain.IndexBuilder, opts ...Option) (*Session, error) {
	if chunker == nil || embedder == nil || builder == nil {
		return nil, fmt.Errorf("%w: session needs a chunker, an embedder and an index builder", domain.ErrInvalidConfiguration)
	}
	s := &Session{
		chunker:   chunker,
		embedder:  embedder,
		builder:   builder,
		separator: DefaultSeparator,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session", s.id)
	return s, nil
}

// ID returns the session label.
func (s *Session) ID() string { return s.id }

// State reports the current lifecycle state.
func (s *Session) State() State {
	if s.current.Load() == nil {
		return StateEmpty
	}
	if s.queried.Load() {
		return StateQueried
	}
	return StateIndexed
}

// Len returns the number of indexed passages, or 0 when Empty.
func (s *Session) Len() int {
	if b := s.current.Load(); b != nil {
		return b.passages
	}
	return 0
}

// BuildIndex chunks, embeds and indexes doc. On success the new index
// replaces any previous one; on failure the session is left untouched.
// Errors are *domain.PhaseError with PhaseBuild.
func (s *Session) BuildIndex(ctx context.Context, doc string) error {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()
	return s.build(ctx, doc)
}

// EnsureIndex builds the index unless one is already published.
func (s *Session) EnsureIndex(ctx context.Context, doc string) error {
	if s.current.Load() != nil {
		return nil
	}
	s.buildMu.Lock()
	defer s.buildMu.Unlock()
	if s.current.Load() != nil {
		return nil
	}
	return s.build(ctx, doc)
}

func (s *Session) build(ctx context.Context, doc string) (err error) {
	ctx, span := observability.StartBuildSpan(ctx, s.id, len(doc))
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	passages, err := s.chunker.Chunk(doc)
	if err != nil {
		return s.fail(domain.PhaseBuild, err)
	}
	if len(passages) == 0 {
		return s.fail(domain.PhaseBuild, fmt.Errorf("%w: document has no text to index", domain.ErrEmptyIndex))
	}

	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}
	vecs, err := s.embedder.EmbedPassages(ctx, texts)
	if err != nil {
		return s.fail(domain.PhaseBuild, err)
	}
	if len(vecs) != len(passages) {
		return s.fail(domain.PhaseBuild, fmt.Errorf("%w: got %d vectors for %d passages", domain.ErrEmbeddingUnavailable, len(vecs), len(passages)))
	}

	eps := make([]domain.EmbeddedPassage, len(passages))
	for i, p := range passages {
		eps[i] = domain.EmbeddedPassage{Passage: p, Vector: vecs[i], Dim: len(vecs[i])}
	}
	idx, err := s.builder.Build(ctx, eps)
	if err != nil {
		return s.fail(domain.PhaseBuild, err)
	}
	if err := ctx.Err(); err != nil {
		s.closeIndex(idx)
		return s.fail(domain.PhaseBuild, err)
	}

	old := s.current.Swap(&built{index: idx, passages: len(passages)})
	s.queried.Store(false)
	if old != nil {
		s.closeIndex(old.index)
	}
	observability.RecordBuildResult(span, len(passages), idx.Dimension())
	s.logger.Info("index built", "passages", len(passages), "dim", idx.Dimension())
	return nil
}

// Search embeds query and returns up to k passages by descending
// similarity. A blank query fails with ErrEmptyInput before the embedder
// is called; k == 0 returns an empty result. Errors are *domain.PhaseError
// with PhaseQuery.
func (s *Session) Search(ctx context.Context, query string, k int) (results []domain.RetrievalResult, err error) {
	ctx, span := observability.StartSearchSpan(ctx, s.id, k)
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	if strings.TrimSpace(query) == "" {
		return nil, s.fail(domain.PhaseQuery, fmt.Errorf("%w: query is blank", domain.ErrEmptyInput))
	}
	b := s.current.Load()
	if b == nil {
		return nil, s.fail(domain.PhaseQuery, domain.ErrIndexNotBuilt)
	}
	if k < 0 {
		return nil, s.fail(domain.PhaseQuery, fmt.Errorf("%w: k must be >= 0, got %d", domain.ErrInvalidConfiguration, k))
	}
	if k == 0 {
		s.queried.Store(true)
		return []domain.RetrievalResult{}, nil
	}

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, s.fail(domain.PhaseQuery, err)
	}
	results, err = b.index.Query(ctx, vec, k)
	if err != nil {
		return nil, s.fail(domain.PhaseQuery, err)
	}
	s.queried.Store(true)

	var top float64
	if len(results) > 0 {
		top = results[0].Score
	}
	observability.RecordSearchResult(span, len(results), top)
	s.logger.Debug("search", "k", k, "returned", len(results), "top_score", top)
	return results, nil
}

// BuildContext joins the result texts in ranked order with the session
// separator.
func (s *Session) BuildContext(results []domain.RetrievalResult) string {
	return BuildContext(results, s.separator)
}

// Close releases the index. The session is Empty afterwards.
func (s *Session) Close() error {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()
	old := s.current.Swap(nil)
	s.queried.Store(false)
	if old == nil {
		return nil
	}
	return old.index.Close()
}

func (s *Session) closeIndex(idx domain.Index) {
	if err := idx.Close(); err != nil {
		s.logger.Warn("closing index failed", "error", err)
	}
}

func (s *Session) fail(phase domain.Phase, err error) error {
	if domain.IsVersionSkew(err) {
		s.logger.Error("embedding model and index disagree on dimensionality", "phase", phase, "error", err)
	}
	return &domain.PhaseError{Phase: phase, Err: err}
}

// BuildContext joins the texts of results, in the order given, with sep.
// No results yield an empty string.
func BuildContext(results []domain.RetrievalResult, sep string) string {
	if len(results) == 0 {
		return ""
	}
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text
	}
	return strings.Join(texts, sep)
}
