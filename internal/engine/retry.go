package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

const initialBackoff = 500 * time.Millisecond

// retryEngine retries Chat and Embed on rate limits and server errors with
// exponential backoff.
type retryEngine struct {
	next       Engine
	maxRetries int
	backoff    time.Duration
}

// WithRetry wraps e so that temporary provider failures are retried up to
// maxRetries times. maxRetries <= 0 returns e unchanged.
func WithRetry(e Engine, maxRetries int) Engine {
	if maxRetries <= 0 {
		return e
	}
	return &retryEngine{next: e, maxRetries: maxRetries, backoff: initialBackoff}
}

func (r *retryEngine) Unwrap() Engine { return r.next }

func (r *retryEngine) Chat(ctx context.Context, model string, messages []Message, opts GenerateOptions) (string, error) {
	var out string
	err := r.do(ctx, "chat", func() error {
		var err error
		out, err = r.next.Chat(ctx, model, messages, opts)
		return err
	})
	return out, err
}

func (r *retryEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	var out []float32
	err := r.do(ctx, "embed", func() error {
		var err error
		out, err = r.next.Embed(ctx, model, text)
		return err
	})
	return out, err
}

// EmbedMany retries the whole batch. It fails if the wrapped engine cannot
// batch; check with AsBatchEmbedder first.
func (r *retryEngine) EmbedMany(ctx context.Context, model string, texts []string) ([][]float32, error) {
	b, ok := r.next.(BatchEmbedder)
	if !ok {
		return nil, ErrEmbeddingUnsupported
	}
	var out [][]float32
	err := r.do(ctx, "embed", func() error {
		var err error
		out, err = b.EmbedMany(ctx, model, texts)
		return err
	})
	return out, err
}

func (r *retryEngine) IsRunning(ctx context.Context) bool {
	return r.next.IsRunning(ctx)
}

func (r *retryEngine) do(ctx context.Context, op string, call func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		if !IsTemporary(err) {
			return err
		}

		lastErr = err
		if attempt < r.maxRetries {
			backoff := time.Duration(float64(r.backoff) * math.Pow(2, float64(attempt)))
			slog.Debug("retrying model call", "op", op, "attempt", attempt+1, "backoff", backoff, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("%s failed after %d retries: %w", op, r.maxRetries, lastErr)
}

// IsTemporary reports whether err is a provider failure worth retrying.
func IsTemporary(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Temporary()
}
