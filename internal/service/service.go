// Package service keeps the uploaded documents and their search sessions
// and answers questions about them.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"docqa/internal/domain"
	"docqa/internal/retriever"
)

const (
	DefaultMaxSessions      = 100
	DefaultPreviewWords     = 150
	DefaultSummarySentences = 5
)

// Options tunes the session store.
type Options struct {
	K                int
	Separator        string
	MaxSessions      int
	PreviewWords     int
	SummarySentences int
}

func (o *Options) applyDefaults() {
	if o.K <= 0 {
		o.K = retriever.DefaultK
	}
	if o.Separator == "" {
		o.Separator = retriever.DefaultSeparator
	}
	if o.MaxSessions <= 0 {
		o.MaxSessions = DefaultMaxSessions
	}
	if o.PreviewWords <= 0 {
		o.PreviewWords = DefaultPreviewWords
	}
	if o.SummarySentences <= 0 {
		o.SummarySentences = DefaultSummarySentences
	}
}

// Answer is the reply to a question together with the passages it was
// generated from.
type Answer struct {
	Text     string                   `json:"answer"`
	Context  string                   `json:"-"`
	Passages []domain.RetrievalResult `json:"passages"`
}

type entry struct {
	doc     domain.Document
	session *retriever.Session
	removed bool
}

// Service is the document and session store.
type Service struct {
	chunker    domain.Chunker
	embedder   domain.Embedder
	builder    domain.IndexBuilder
	answerer   domain.Answerer
	summarizer domain.Summarizer
	opts       Options
	logger     *slog.Logger

	mu    sync.Mutex
	docs  map[string]*entry
	order []string
}

// New wires a Service. Every collaborator is required.
func New(chunker domain.Chunker, embedder domain.Embedder, builder domain.IndexBuilder, answerer domain.Answerer, summarizer domain.Summarizer, opts Options, logger *slog.Logger) (*Service, error) {
	if chunker == nil || embedder == nil || builder == nil || answerer == nil || summarizer == nil {
		return nil, fmt.Errorf("%w: service requires chunker, embedder, index builder, answerer and summarizer", domain.ErrInvalidConfiguration)
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()
	return &Service{
		chunker:    chunker,
		embedder:   embedder,
		builder:    builder,
		answerer:   answerer,
		summarizer: summarizer,
		opts:       opts,
		logger:     logger.With("component", "service"),
		docs:       make(map[string]*entry),
	}, nil
}

// K is the number of passages Ask retrieves.
func (s *Service) K() int { return s.opts.K }

// Len reports how many documents are held.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

// Upload stores text under a new id. The index is built on the first
// question. When the store is full the oldest document is evicted.
func (s *Service) Upload(ctx context.Context, name, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: document text is empty", domain.ErrEmptyInput)
	}
	id := uuid.NewString()

	s.mu.Lock()
	var evicted []*entry
	for len(s.order) >= s.opts.MaxSessions {
		oldest := s.order[0]
		s.order = s.order[1:]
		if e, ok := s.docs[oldest]; ok {
			e.removed = true
			evicted = append(evicted, e)
			delete(s.docs, oldest)
		}
	}
	s.docs[id] = &entry{doc: domain.Document{ID: id, Name: name, Content: text}}
	s.order = append(s.order, id)
	s.mu.Unlock()

	for _, e := range evicted {
		s.logger.Info("evicted document", "id", e.doc.ID, "name", e.doc.Name)
		s.release(e)
	}
	s.logger.Info("uploaded document", "id", id, "name", name, "chars", len([]rune(text)))
	return id, nil
}

// Document returns the stored document.
func (s *Service) Document(id string) (domain.Document, error) {
	e, err := s.lookup(id)
	if err != nil {
		return domain.Document{}, err
	}
	return e.doc, nil
}

// Preview returns the first words of the document, suffixed with "..."
// when it was truncated.
func (s *Service) Preview(id string) (string, error) {
	e, err := s.lookup(id)
	if err != nil {
		return "", err
	}
	words := strings.Fields(e.doc.Content)
	if len(words) <= s.opts.PreviewWords {
		return strings.Join(words, " "), nil
	}
	return strings.Join(words[:s.opts.PreviewWords], " ") + "...", nil
}

// Summary returns a short extractive summary of the document.
func (s *Service) Summary(id string) (string, error) {
	e, err := s.lookup(id)
	if err != nil {
		return "", err
	}
	return s.summarizer.Summarize(e.doc.Content, s.opts.SummarySentences)
}

// Search retrieves up to k passages of the document for query.
func (s *Service) Search(ctx context.Context, id, query string, k int) ([]domain.RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is blank", domain.ErrEmptyInput)
	}
	e, sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	if err := sess.EnsureIndex(ctx, e.doc.Content); err != nil {
		return nil, err
	}
	s.mu.Lock()
	removed := e.removed
	s.mu.Unlock()
	if removed {
		// Evicted while building: nobody else will close this index.
		if err := sess.Close(); err != nil {
			s.logger.Warn("close session", "id", id, "err", err)
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	return sess.Search(ctx, query, k)
}

// Ask retrieves the configured number of passages for question and asks
// the answerer to respond from them.
func (s *Service) Ask(ctx context.Context, id, question string) (Answer, error) {
	return s.AskK(ctx, id, question, s.opts.K)
}

// AskK is Ask with an explicit passage count.
func (s *Service) AskK(ctx context.Context, id, question string, k int) (Answer, error) {
	results, err := s.Search(ctx, id, question, k)
	if err != nil {
		return Answer{}, err
	}
	passages := retriever.BuildContext(results, s.opts.Separator)
	text, err := s.answerer.Answer(ctx, question, passages)
	if err != nil {
		return Answer{}, fmt.Errorf("answer: %w", err)
	}
	s.logger.Debug("answered", "id", id, "passages", len(results))
	return Answer{Text: text, Context: passages, Passages: results}, nil
}

// Delete drops the document and closes its index.
func (s *Service) Delete(id string) error {
	s.mu.Lock()
	e, ok := s.docs[id]
	if ok {
		e.removed = true
		delete(s.docs, id)
		s.removeOrder(id)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	return s.release(e)
}

// Close releases every session.
func (s *Service) Close() error {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.docs))
	for _, e := range s.docs {
		e.removed = true
		entries = append(entries, e)
	}
	s.docs = make(map[string]*entry)
	s.order = nil
	s.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := s.release(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) lookup(id string) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	return e, nil
}

// session returns the document's search session, creating it on first use.
func (s *Service) session(id string) (*entry, *retriever.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.docs[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	if e.session == nil {
		sess, err := retriever.NewSession(s.chunker, s.embedder, s.builder,
			retriever.WithID(id),
			retriever.WithSeparator(s.opts.Separator),
			retriever.WithLogger(s.logger),
		)
		if err != nil {
			return nil, nil, err
		}
		e.session = sess
	}
	return e, e.session, nil
}

func (s *Service) release(e *entry) error {
	s.mu.Lock()
	sess := e.session
	s.mu.Unlock()
	if sess == nil {
		return nil
	}
	if err := sess.Close(); err != nil {
		s.logger.Warn("close session", "id", e.doc.ID, "err", err)
		return err
	}
	return nil
}

func (s *Service) removeOrder(id string) {
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
