// Package embedding adapts an embedding model to the domain.Embedder
// contract. The Gateway validates inputs, splits batches, pins the vector
// dimension and reports model failures as domain.ErrEmbeddingUnavailable.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"docqa/internal/domain"
)

// Role tells the model whether it is embedding a passage or a query.
type Role int

const (
	RoleDocument Role = iota
	RoleQuery
)

func (r Role) String() string {
	if r == RoleQuery {
		return "query"
	}
	return "document"
}

// Model is an embedding backend. Embed returns one vector per input text,
// in input order.
type Model interface {
	Name() string
	Embed(ctx context.Context, texts []string, role Role) ([][]float32, error)
}

const (
	DefaultBatchSize = 32
	DefaultWorkers   = 4
)

// Gateway is a long-lived, shareable adapter around a Model.
type Gateway struct {
	model     Model
	batchSize int
	workers   int
	limiter   *rate.Limiter
	logger    *slog.Logger
	dim       atomic.Int64
}

var _ domain.Embedder = (*Gateway)(nil)

// Option configures a Gateway.
type Option func(*Gateway)

// WithBatchSize sets how many texts are sent to the model per call.
func WithBatchSize(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.batchSize = n
		}
	}
}

// WithWorkers sets how many batches may be in flight at once.
func WithWorkers(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.workers = n
		}
	}
}

// WithRateLimit caps model calls per second. Zero disables the limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(g *Gateway) {
		if perSecond <= 0 {
			g.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGateway wraps model.
func NewGateway(model Model, opts ...Option) *Gateway {
	g := &Gateway{
		model:     model,
		batchSize: DefaultBatchSize,
		workers:   DefaultWorkers,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ModelName returns the name of the wrapped model.
func (g *Gateway) ModelName() string { return g.model.Name() }

// Dimension returns the vector size seen so far, or 0 before the first call.
func (g *Gateway) Dimension() int { return int(g.dim.Load()) }

// EmbedPassages embeds texts as documents, preserving order and length.
func (g *Gateway) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no passages to embed", domain.ErrEmptyInput)
	}

	out := make([][]float32, len(texts))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for start := 0; start < len(texts); start += g.batchSize {
		end := min(start+g.batchSize, len(texts))
		eg.Go(func() error {
			vecs, err := g.call(ctx, texts[start:end], RoleDocument)
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	g.logger.Debug("embedded passages", "model", g.model.Name(), "count", len(texts), "dim", g.Dimension())
	return out, nil
}

// EmbedQuery embeds a single query text.
func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: query is blank", domain.ErrEmptyInput)
	}
	vecs, err := g.call(ctx, []string{text}, RoleQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (g *Gateway) call(ctx context.Context, texts []string, role Role) ([][]float32, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
		}
	}
	vecs, err := g.model.Embed(ctx, texts, role)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrEmbeddingUnavailable, g.model.Name(), err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: %s returned %d vectors for %d inputs", domain.ErrEmbeddingUnavailable, g.model.Name(), len(vecs), len(texts))
	}
	for _, v := range vecs {
		if err := g.pin(len(v)); err != nil {
			return nil, err
		}
	}
	return vecs, nil
}

// pin records the first dimension seen and rejects any other.
func (g *Gateway) pin(n int) error {
	if n == 0 {
		return fmt.Errorf("%w: %s returned an empty vector", domain.ErrDimensionMismatch, g.model.Name())
	}
	if g.dim.CompareAndSwap(0, int64(n)) {
		return nil
	}
	if want := g.dim.Load(); want != int64(n) {
		return fmt.Errorf("%w: %s returned dim %d, gateway is pinned to %d", domain.ErrDimensionMismatch, g.model.Name(), n, want)
	}
	return nil
}
