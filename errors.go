package sparsecount

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTopK is returned when a request asks for a non-positive
	// number of top terms.
	ErrInvalidTopK = errors.New("topK must be positive")

	// ErrNilHits is returned when a request carries no hit bitmap.
	ErrNilHits = errors.New("hits bitmap must not be nil")

	// ErrNilOrdinals is returned when a request carries no ordinal reader.
	ErrNilOrdinals = errors.New("ordinal reader must not be nil")
)

// ErrFieldNotRegistered indicates a facet request for a field whose maxima
// were never registered with the engine.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrFieldNotRegistered struct {
	Field string
	cause error
}

func (e *ErrFieldNotRegistered) Error() string {
	return fmt.Sprintf("field not registered: %q", e.Field)
}

func (e *ErrFieldNotRegistered) Unwrap() error { return e.cause }
