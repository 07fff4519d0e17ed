package retrieval

import (
	"context"

	"github.com/kalambet/askpdf/internal/engine"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const defaultEmbedConcurrency = 4

// Embedder wraps an Engine to generate text embeddings.
type Embedder struct {
	engine      engine.Engine
	model       string
	concurrency int
	limiter     *rate.Limiter
}

// NewEmbedder creates an Embedder using the given Engine and model name.
func NewEmbedder(e engine.Engine, model string) *Embedder {
	return &Embedder{engine: e, model: model, concurrency: defaultEmbedConcurrency}
}

// WithLimits bounds batch concurrency and, when perSecond is positive,
// paces embedding calls to at most perSecond with no burst.
func (e *Embedder) WithLimits(concurrency int, perSecond float64) *Embedder {
	if concurrency > 0 {
		e.concurrency = concurrency
	}
	if perSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	} else {
		e.limiter = nil
	}
	return e
}

// Model returns the embedding model name.
func (e *Embedder) Model() string { return e.model }

func (e *Embedder) embed(ctx context.Context, text string) ([]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return e.engine.Embed(ctx, e.model, text)
}

func (e *Embedder) embedMany(ctx context.Context, b engine.BatchEmbedder, texts []string) ([][]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, &EmbeddingError{Chunk: 0, Err: err}
		}
	}
	vecs, err := b.EmbedMany(ctx, e.model, texts)
	if err != nil {
		return nil, &EmbeddingError{Chunk: 0, Err: err}
	}
	return vecs, nil
}

// Embed returns the embedding vector for a single query text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.embed(ctx, text)
	if err != nil {
		return nil, &EmbeddingError{Chunk: -1, Err: err}
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for texts in input order. Engines
// that batch get one call per batch; otherwise texts are embedded
// concurrently and the first failure cancels the rest. Failures are
// *EmbeddingError values naming the chunk position, which for a batched
// call is the first text of the batch.
// Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if b, ok := engine.AsBatchEmbedder(e.engine); ok {
		return e.embedMany(ctx, b, texts)
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.embed(gCtx, text)
			if err != nil {
				return &EmbeddingError{Chunk: i, Err: err}
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
