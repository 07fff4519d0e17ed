package conversation

import "fmt"

// GenerationError reports a failed language model call. Retryable is set
// for timeouts, rate limits and server errors.
type GenerationError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation (%s): %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
