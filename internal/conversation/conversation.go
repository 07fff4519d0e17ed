// Package conversation answers questions against an indexed batch of
// documents while keeping the running conversation.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/askpdf/internal/composer"
	"github.com/kalambet/askpdf/internal/engine"
	"github.com/kalambet/askpdf/internal/indexer"
	"github.com/kalambet/askpdf/internal/retrieval"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/kalambet/askpdf/internal/conversation")

// ErrNotInitialized is returned by Ask before any document batch has been
// indexed for the conversation.
var ErrNotInitialized = errors.New("conversation not initialized: upload documents first")

const defaultTimeout = 60 * time.Second

// Retriever finds the chunks most relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]retrieval.ContextChunk, error)
}

// Options configures answer generation.
type Options struct {
	Model    string
	Generate engine.GenerateOptions
	TopK     int
	Timeout  time.Duration

	// CondenseQuestion rewrites follow-up questions into standalone ones
	// before retrieval.
	CondenseQuestion bool
}

// Answer is the result of one successful Ask.
type Answer struct {
	Text               string
	History            []Message
	Sources            []retrieval.ContextChunk
	StandaloneQuestion string
}

// Engine is a retrieval-augmented conversation. It is Idle until
// Initialize binds it to an index and Active afterwards.
//
// Engine is not safe for concurrent use; session.Session serialises access.
type Engine struct {
	llm      engine.Engine
	embedder *retrieval.Embedder
	composer *composer.Composer
	opts     Options
	logger   *slog.Logger

	retriever Retriever
	handle    indexer.Handle
	history   []Message
}

func New(llm engine.Engine, embedder *retrieval.Embedder, comp *composer.Composer, opts Options) *Engine {
	if opts.TopK < 1 {
		opts.TopK = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Generate == (engine.GenerateOptions{}) {
		opts.Generate = engine.DefaultGenerateOptions()
	}
	if comp == nil {
		comp = composer.New(0)
	}
	return &Engine{
		llm:      llm,
		embedder: embedder,
		composer: comp,
		opts:     opts,
		logger:   slog.Default(),
	}
}

// Initialize binds the conversation to an indexed batch and starts a fresh
// history. It may be called in either state.
func (e *Engine) Initialize(h indexer.Handle) {
	e.handle = h
	e.retriever = retrieval.NewRetriever(e.embedder, h.Index, h.Name)
	e.history = nil
}

// Active reports whether Initialize has been called since the last Reset.
func (e *Engine) Active() bool { return e.retriever != nil }

// Handle returns the index the conversation is bound to.
func (e *Engine) Handle() indexer.Handle { return e.handle }

// History returns a copy of the conversation so far.
func (e *Engine) History() []Message {
	return append([]Message(nil), e.history...)
}

// Reset returns the conversation to Idle and discards the history.
func (e *Engine) Reset() {
	e.retriever = nil
	e.handle = indexer.Handle{}
	e.history = nil
}

// Ask answers question from the indexed documents and the conversation so
// far. On success the question and the answer are appended to the history.
// On any failure the history is left unchanged.
func (e *Engine) Ask(ctx context.Context, question string) (Answer, error) {
	if !e.Active() {
		return Answer{}, ErrNotInitialized
	}

	ctx, span := tracer.Start(ctx, "conversation.Ask")
	defer span.End()
	span.SetAttributes(
		attribute.String("index.name", e.handle.Name),
		attribute.Int("history.len", len(e.history)),
	)

	prior := toEngineMessages(e.history)

	standalone := question
	if e.opts.CondenseQuestion && len(prior) > 0 {
		condensed, err := e.generate(ctx, "condense", e.composer.Condense(prior, question))
		if err != nil {
			span.RecordError(err)
			return Answer{}, err
		}
		if c := strings.TrimSpace(condensed); c != "" {
			standalone = c
		}
		e.logger.Debug("condensed follow-up question", "question", question, "standalone", standalone)
	}

	chunks, err := e.retriever.Retrieve(ctx, standalone, e.opts.TopK)
	if err != nil {
		span.RecordError(err)
		return Answer{}, fmt.Errorf("retrieving context: %w", err)
	}
	span.SetAttributes(attribute.Int("retrieved", len(chunks)))

	text, err := e.generate(ctx, "generate", e.composer.Compose(prior, question, chunks))
	if err != nil {
		span.RecordError(err)
		return Answer{}, err
	}

	e.history = append(e.history,
		Message{Speaker: User, Text: question},
		Message{Speaker: Assistant, Text: text},
	)

	return Answer{
		Text:               text,
		History:            e.History(),
		Sources:            chunks,
		StandaloneQuestion: standalone,
	}, nil
}

// generate calls the language model under the configured timeout.
func (e *Engine) generate(ctx context.Context, op string, msgs []engine.Message) (string, error) {
	ctx, span := tracer.Start(ctx, "conversation."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("model", e.opts.Model),
			attribute.Int("messages", len(msgs)),
		),
	)
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	text, err := e.llm.Chat(callCtx, e.opts.Model, msgs, e.opts.Generate)
	if err != nil {
		retryable := errors.Is(err, context.DeadlineExceeded) || engine.IsTemporary(err)
		span.SetStatus(codes.Error, err.Error())
		return "", &GenerationError{Op: op, Retryable: retryable, Err: err}
	}
	return text, nil
}

func toEngineMessages(history []Message) []engine.Message {
	out := make([]engine.Message, len(history))
	for i, m := range history {
		out[i] = engine.Message{Role: m.Speaker.Role(), Content: m.Text}
	}
	return out
}
