// Package extract pulls plain text out of PDF documents.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/kalambet/askpdf/internal/extract")

// Document is an uploaded file awaiting extraction.
type Document struct {
	Name string
	Data []byte
}

// PageText is the text of a single document page.
type PageText struct {
	Number int
	Text   string
}

// Extractor turns a batch of PDF documents into one string.
type Extractor struct {
	limit  int
	logger *slog.Logger
}

// New creates an Extractor that parses up to limit documents at once.
// If limit is <= 0, it defaults to 4.
func New(limit int) *Extractor {
	if limit <= 0 {
		limit = 4
	}
	return &Extractor{limit: limit, logger: slog.Default()}
}

// DocumentText is the extracted text of one document.
type DocumentText struct {
	Name  string
	Pages int
	Text  string
}

// Batch is the per-document result of extracting an upload batch.
type Batch []DocumentText

// Text concatenates the documents in input order with no separator.
func (b Batch) Text() string {
	var sb strings.Builder
	for _, d := range b {
		sb.WriteString(d.Text)
	}
	return sb.String()
}

// Extract returns the text of every page of every document, in input order
// then page order, concatenated with no separator. An empty batch yields "".
// Any unreadable document or page fails the whole batch.
func (e *Extractor) Extract(ctx context.Context, docs []Document) (string, error) {
	b, err := e.ExtractBatch(ctx, docs)
	if err != nil {
		return "", err
	}
	return b.Text(), nil
}

// ExtractBatch is Extract keeping the documents apart.
func (e *Extractor) ExtractBatch(ctx context.Context, docs []Document) (Batch, error) {
	ctx, span := tracer.Start(ctx, "extract.Extract")
	defer span.End()
	span.SetAttributes(attribute.Int("documents", len(docs)))

	if len(docs) == 0 {
		return Batch{}, nil
	}

	out := make(Batch, len(docs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.limit)

	for i, doc := range docs {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			pages, err := ExtractPages(doc)
			if err != nil {
				return err
			}
			var sb strings.Builder
			for _, p := range pages {
				sb.WriteString(p.Text)
			}
			out[i] = DocumentText{Name: doc.Name, Pages: len(pages), Text: sb.String()}
			e.logger.Debug("extracted document", "name", doc.Name, "pages", len(pages), "chars", sb.Len())
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return out, nil
}

// ExtractPages returns the text of each page of doc in page order.
func ExtractPages(doc Document) ([]PageText, error) {
	r, err := openReader(doc)
	if err != nil {
		return nil, err
	}

	n := r.NumPage()
	pages := make([]PageText, 0, n)
	for i := 1; i <= n; i++ {
		text, err := pageText(r, i)
		if err != nil {
			return nil, &ExtractionError{Document: doc.Name, Page: i, Err: err}
		}
		pages = append(pages, PageText{Number: i, Text: text})
	}
	return pages, nil
}

func openReader(doc Document) (r *pdf.Reader, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if rec := recover(); rec != nil {
			r = nil
			err = &ExtractionError{Document: doc.Name, Err: fmt.Errorf("parser panic: %v", rec)}
		}
	}()

	if len(doc.Data) == 0 {
		return nil, &ExtractionError{Document: doc.Name, Err: errEmptyDocument}
	}
	r, err = pdf.NewReader(bytes.NewReader(doc.Data), int64(len(doc.Data)))
	if err != nil {
		return nil, &ExtractionError{Document: doc.Name, Err: err}
	}
	return r, nil
}

func pageText(r *pdf.Reader, num int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("parser panic: %v", rec)
		}
	}()

	p := r.Page(num)
	if p.V.IsNull() {
		return "", errMissingPage
	}
	return p.GetPlainText(nil)
}
