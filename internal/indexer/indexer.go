// Package indexer embeds chunk sequences and writes them to a named vector
// index.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/askpdf/internal/retrieval"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("github.com/kalambet/askpdf/internal/indexer")

const defaultBatchSize = 8

// ChunkEmbedder generates embeddings for a window of chunks, in order.
type ChunkEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Handle identifies an index ready for retrieval.
type Handle struct {
	Index     retrieval.VectorIndex
	Name      string
	Dimension int
	Upserted  int
}

// Options configures an Indexer.
type Options struct {
	Spec      retrieval.IndexSpec
	BatchSize int

	// ResetOnIngest drops and recreates the index before each batch so
	// records left over from a larger earlier batch do not survive.
	ResetOnIngest bool
}

// Indexer turns chunk sequences into vector records.
type Indexer struct {
	index    retrieval.VectorIndex
	embedder ChunkEmbedder
	opts     Options
	logger   *slog.Logger
}

func New(index retrieval.VectorIndex, embedder ChunkEmbedder, opts Options) *Indexer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Spec.Metric == "" {
		opts.Spec.Metric = retrieval.MetricCosine
	}
	return &Indexer{
		index:    index,
		embedder: embedder,
		opts:     opts,
		logger:   slog.Default(),
	}
}

// Spec returns the declared index.
func (ix *Indexer) Spec() retrieval.IndexSpec { return ix.opts.Spec }

// Ensure creates the index if it is absent. Calling it again is a no-op.
func (ix *Indexer) Ensure(ctx context.Context) error {
	created, err := ix.index.Ensure(ctx, ix.opts.Spec)
	if err != nil {
		return fmt.Errorf("ensuring index %s: %w", ix.opts.Spec.Name, err)
	}
	if created {
		ix.logger.Info("created vector index",
			"name", ix.opts.Spec.Name, "dimension", ix.opts.Spec.Dimension, "metric", ix.opts.Spec.Metric)
	}
	return nil
}

// Handle returns a handle to the index without writing anything.
func (ix *Indexer) Handle() Handle {
	return Handle{Index: ix.index, Name: ix.opts.Spec.Name, Dimension: ix.opts.Spec.Dimension}
}

// RecordID is the id of the chunk at position i of a batch. A later batch
// reuses the same ids and overwrites earlier records.
func RecordID(i int) string {
	return fmt.Sprintf("id_%d", i)
}

// Index embeds chunks and upserts them as id_0..id_n-1 with the chunk text
// and source as metadata. Chunks are processed in windows of BatchSize:
// embedding within a window is concurrent, each window is one upsert, and
// windows run in order.
//
// Index is not atomic. The first failure aborts the batch and windows that
// were already upserted stay in the index. With ResetOnIngest the previous
// contents are dropped before embedding starts, so a failed batch also
// loses them.
// progress, if non-nil, is called after every window.
func (ix *Indexer) Index(ctx context.Context, chunks []string, source string, progress func(done, total int)) (Handle, error) {
	ctx, span := tracer.Start(ctx, "indexer.Index")
	defer span.End()
	span.SetAttributes(
		attribute.String("index.name", ix.opts.Spec.Name),
		attribute.Int("chunks", len(chunks)),
	)

	if ix.opts.ResetOnIngest {
		if err := ix.index.Drop(ctx, ix.opts.Spec.Name); err != nil {
			span.RecordError(err)
			return Handle{}, fmt.Errorf("resetting index %s: %w", ix.opts.Spec.Name, err)
		}
	}
	if err := ix.Ensure(ctx); err != nil {
		span.RecordError(err)
		return Handle{}, err
	}

	h := ix.Handle()
	total := len(chunks)
	for start := 0; start < total; start += ix.opts.BatchSize {
		end := min(start+ix.opts.BatchSize, total)

		vecs, err := ix.embedder.EmbedBatch(ctx, chunks[start:end])
		if err != nil {
			span.RecordError(err)
			return h, fmt.Errorf("indexing chunks %d-%d: %w", start, end-1, offsetChunk(err, start))
		}

		now := time.Now().UTC()
		records := make([]retrieval.Record, len(vecs))
		for i, v := range vecs {
			records[i] = retrieval.Record{
				ID:        RecordID(start + i),
				Text:      chunks[start+i],
				Source:    source,
				Embedding: v,
				CreatedAt: now,
			}
		}
		if err := ix.index.Upsert(ctx, ix.opts.Spec.Name, records); err != nil {
			span.RecordError(err)
			return h, fmt.Errorf("indexing chunks %d-%d: %w", start, end-1, err)
		}
		h.Upserted = end
		if progress != nil {
			progress(end, total)
		}
	}

	ix.logger.Debug("indexed batch", "index", h.Name, "source", source, "records", h.Upserted)
	return h, nil
}

// offsetChunk rewrites an EmbeddingError's window-relative position into a
// batch position.
func offsetChunk(err error, offset int) error {
	var ee *retrieval.EmbeddingError
	if errors.As(err, &ee) && ee.Chunk >= 0 {
		return &retrieval.EmbeddingError{Chunk: ee.Chunk + offset, Err: ee.Err}
	}
	return err
}
