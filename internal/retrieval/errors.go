package retrieval

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch is returned when a vector does not fit its index.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrIndexNotFound is returned when an index has not been created.
	ErrIndexNotFound = errors.New("index not found")
)

// IndexUnavailableError reports a vector index backend that could not be
// reached or refused an operation.
type IndexUnavailableError struct {
	Index string
	Op    string
	Err   error
}

func (e *IndexUnavailableError) Error() string {
	return fmt.Sprintf("vector index %s: %s: %v", e.Index, e.Op, e.Err)
}

func (e *IndexUnavailableError) Unwrap() error { return e.Err }

func unavailable(index, op string, err error) error {
	return &IndexUnavailableError{Index: index, Op: op, Err: err}
}

// EmbeddingError reports a failed embedding call. Chunk is the position of
// the chunk being embedded, or -1 for a query.
type EmbeddingError struct {
	Chunk int
	Err   error
}

func (e *EmbeddingError) Error() string {
	if e.Chunk < 0 {
		return fmt.Sprintf("embedding query: %v", e.Err)
	}
	return fmt.Sprintf("embedding chunk %d: %v", e.Chunk, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }
