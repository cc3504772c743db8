package domain

import "errors"

var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrEmptyInput           = errors.New("empty input")
	ErrEmptyIndex           = errors.New("empty index")
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	ErrDimensionMismatch    = errors.New("dimension mismatch")
	ErrInvalidQueryVector   = errors.New("invalid query vector")
	ErrIndexNotBuilt        = errors.New("index not built")

	ErrDocumentNotFound  = errors.New("document not found")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrInputTooLarge     = errors.New("input too large")
)

// Phase names the retriever step that failed.
type Phase string

const (
	PhaseBuild Phase = "build"
	PhaseQuery Phase = "query"
)

// PhaseError annotates a retriever failure with the phase it occurred in.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string { return string(e.Phase) + ": " + e.Err.Error() }

func (e *PhaseError) Unwrap() error { return e.Err }

// IsVersionSkew reports whether err indicates that the embedding model and
// the index disagree on vector dimensionality.
func IsVersionSkew(err error) bool {
	return errors.Is(err, ErrDimensionMismatch) || errors.Is(err, ErrInvalidQueryVector)
}
