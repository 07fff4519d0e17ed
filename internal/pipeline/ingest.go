// Package pipeline runs an upload batch through extraction, chunking and
// indexing.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/askpdf/internal/chunker"
	"github.com/kalambet/askpdf/internal/extract"
	"github.com/kalambet/askpdf/internal/indexer"
	"github.com/kalambet/askpdf/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("github.com/kalambet/askpdf/internal/pipeline")

// DocumentLog records ingested documents.
type DocumentLog interface {
	SaveDocument(d storage.Document) error
}

// Stage names passed to progress callbacks.
const (
	StageExtract = "extract"
	StageChunk   = "chunk"
	StageIndex   = "index"
)

// Progress receives stage updates. done and total are chunk counts for the
// index stage and zero otherwise.
type Progress func(stage string, done, total int)

// Result describes an ingested batch.
type Result struct {
	Handle     indexer.Handle
	BatchID    string
	Documents  []storage.Document
	Characters int
	Chunks     int
}

// Ingestor runs Extractor, Chunker and Indexer in sequence.
type Ingestor struct {
	extractor *extract.Extractor
	chunking  chunker.Config
	indexer   *indexer.Indexer
	log       DocumentLog
	logger    *slog.Logger
}

// NewIngestor wires the pipeline stages. log may be nil to skip the
// document log.
func NewIngestor(ex *extract.Extractor, chunking chunker.Config, ix *indexer.Indexer, log DocumentLog) *Ingestor {
	return &Ingestor{
		extractor: ex,
		chunking:  chunking,
		indexer:   ix,
		log:       log,
		logger:    slog.Default(),
	}
}

// Indexer returns the indexer the pipeline writes to.
func (in *Ingestor) Indexer() *indexer.Indexer { return in.indexer }

// Ingest extracts, chunks and indexes docs as one batch. Errors from each
// stage are returned wrapped, keeping their types for errors.As.
func (in *Ingestor) Ingest(ctx context.Context, docs []extract.Document, progress Progress) (Result, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Ingest")
	defer span.End()
	span.SetAttributes(attribute.Int("documents", len(docs)))

	if progress == nil {
		progress = func(string, int, int) {}
	}
	if err := in.chunking.Validate(); err != nil {
		return Result{}, err
	}

	res := Result{BatchID: uuid.New().String()}

	progress(StageExtract, 0, 0)
	batch, err := in.extractor.ExtractBatch(ctx, docs)
	if err != nil {
		span.RecordError(err)
		return res, fmt.Errorf("extracting documents: %w", err)
	}
	text := batch.Text()
	res.Characters = len([]rune(text))

	progress(StageChunk, 0, 0)
	chunks, err := chunker.Split(text, in.chunking)
	if err != nil {
		span.RecordError(err)
		return res, fmt.Errorf("chunking text: %w", err)
	}
	res.Chunks = len(chunks)
	span.SetAttributes(attribute.Int("chunks", len(chunks)))

	progress(StageIndex, 0, len(chunks))
	h, err := in.indexer.Index(ctx, chunks, res.BatchID, func(done, total int) {
		progress(StageIndex, done, total)
	})
	res.Handle = h
	if err != nil {
		span.RecordError(err)
		return res, err
	}

	now := time.Now().UTC()
	for _, d := range batch {
		doc := storage.Document{
			ID:         uuid.New().String(),
			Name:       d.Name,
			Pages:      d.Pages,
			Characters: len([]rune(d.Text)),
			Chunks:     len(chunks),
			IndexName:  h.Name,
			BatchID:    res.BatchID,
			CreatedAt:  now,
		}
		res.Documents = append(res.Documents, doc)
		if in.log == nil {
			continue
		}
		if err := in.log.SaveDocument(doc); err != nil {
			in.logger.Warn("failed to record document", "name", d.Name, "error", err)
		}
	}

	in.logger.Info("ingested batch",
		"batch", res.BatchID, "documents", len(docs), "characters", res.Characters, "chunks", res.Chunks)
	return res, nil
}
