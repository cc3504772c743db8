// Package server exposes the document store over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"docqa/internal/domain"
	"docqa/internal/service"
)

// multipartOverhead is the room left above the document limit for form
// boundaries and headers.
const multipartOverhead = 1 << 20

// Store is the subset of the document store the HTTP layer needs.
type Store interface {
	Upload(ctx context.Context, name, text string) (string, error)
	Preview(id string) (string, error)
	AskK(ctx context.Context, id, question string, k int) (service.Answer, error)
	K() int
}

// Extractor turns uploads into clean document text.
type Extractor interface {
	FromText(s string) (string, error)
	FromFile(name string, data []byte) (string, error)
	MaxBytes() int64
}

// Config holds HTTP server configuration.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the docqa HTTP server.
type Server struct {
	store     Store
	extractor Extractor
	logger    *slog.Logger
	server    *http.Server
}

// New creates the server and its routes.
func New(cfg Config, store Store, extractor Extractor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	// Answers may wait on a remote model.
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 2 * time.Minute
	}
	s := &Server{store: store, extractor: extractor, logger: logger.With("component", "http")}
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed handler wrapped with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /text/{id}", s.handleText)
	mux.HandleFunc("POST /ask", s.handleAsk)
	return s.loggingMiddleware(mux)
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting http server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping http server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

type uploadResponse struct {
	TextID string `json:"text_id"`
}

// handleUpload accepts a multipart form with a "file" part or a "text"
// field. The text field wins when both are present.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.extractor.MaxBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(limit); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		s.respondError(w, bodyError(err))
		return
	}

	var (
		name = "pasted text"
		text string
		err  error
	)
	if raw := r.FormValue("text"); strings.TrimSpace(raw) != "" {
		text, err = s.extractor.FromText(raw)
	} else {
		name, text, err = s.readFile(r)
	}
	if err != nil {
		s.respondError(w, err)
		return
	}

	id, err := s.store.Upload(r.Context(), name, text)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, uploadResponse{TextID: id})
}

func (s *Server) readFile(r *http.Request) (string, string, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return "", "", fmt.Errorf("%w: no text or file provided", domain.ErrEmptyInput)
		}
		return "", "", bodyError(err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return "", "", bodyError(err)
	}
	text, err := s.extractor.FromFile(header.Filename, data)
	return header.Filename, text, err
}

type textResponse struct {
	Text string `json:"text"`
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	preview, err := s.store.Preview(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, textResponse{Text: preview})
}

type askRequest struct {
	TextID   string `json:"text_id"`
	Question string `json:"question"`
	K        *int   `json:"k,omitempty"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.respondError(w, fmt.Errorf("%w: malformed request body: %v", errBadRequest, err))
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.TextID == "" || req.Question == "" {
		s.respondError(w, fmt.Errorf("%w: text_id and question are required", domain.ErrEmptyInput))
		return
	}
	k := s.store.K()
	if req.K != nil {
		k = *req.K
	}
	ans, err := s.store.AskK(r.Context(), req.TextID, req.Question, k)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if ans.Passages == nil {
		ans.Passages = []domain.RetrievalResult{}
	}
	respondJSON(w, http.StatusOK, ans)
}

var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr), errors.Is(err, domain.ErrInputTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEmptyInput),
		errors.Is(err, domain.ErrUnsupportedFormat),
		errors.Is(err, domain.ErrInvalidConfiguration),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrEmbeddingUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
		msg = http.StatusText(status)
	}
	respondJSON(w, status, errorResponse{Error: msg})
}

// bodyError keeps a size-limit error recognisable and marks anything
// else as a malformed request.
func bodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return err
	}
	return fmt.Errorf("%w: %v", errBadRequest, err)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "err", err)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}
