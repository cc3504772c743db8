package embedding

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig configures WithRetry.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a model error that retrying cannot fix, such as a
// rejected API key.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// WithRetry wraps m so that transient failures are retried with
// exponential backoff. The Gateway itself never retries.
func WithRetry(m Model, cfg RetryConfig) Model {
	if cfg.MaxRetries <= 0 {
		return m
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	return &retryModel{inner: m, cfg: cfg}
}

type retryModel struct {
	inner Model
	cfg   RetryConfig
}

func (r *retryModel) Name() string { return r.inner.Name() }

func (r *retryModel) Embed(ctx context.Context, texts []string, role Role) ([][]float32, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval

	return backoff.Retry(ctx, func() ([][]float32, error) {
		vecs, err := r.inner.Embed(ctx, texts, role)
		if err == nil {
			return vecs, nil
		}
		if IsPermanent(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(r.cfg.MaxRetries+1)))
}
