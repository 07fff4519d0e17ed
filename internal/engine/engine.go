package engine

import (
	"context"
	"errors"
	"io"
)

// Engine abstracts a model backend (Ollama, any OpenAI-compatible server,
// Anthropic or Gemini). The conversation engine and the embedder use this
// interface instead of depending on a concrete client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	Chat(ctx context.Context, model string, messages []Message, opts GenerateOptions) (string, error)

	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool
}

// ModelManager is implemented by engines that host models locally and can
// download missing ones.
type ModelManager interface {
	// ListModels returns the names of all locally available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

// ErrEmbeddingUnsupported is returned by engines that cannot embed text.
var ErrEmbeddingUnsupported = errors.New("provider does not support embeddings")

// unwrapper is implemented by engine decorators such as the retry wrapper.
type unwrapper interface {
	Unwrap() Engine
}

// Base returns the engine under all decorators.
func Base(e Engine) Engine {
	for {
		u, ok := e.(unwrapper)
		if !ok {
			return e
		}
		e = u.Unwrap()
	}
}

// AsModelManager returns the ModelManager behind e, looking through
// decorators.
func AsModelManager(e Engine) (ModelManager, bool) {
	for e != nil {
		if m, ok := e.(ModelManager); ok {
			return m, true
		}
		u, ok := e.(unwrapper)
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return nil, false
}

// BatchEmbedder embeds several texts in one provider call. Results are in
// input order.
type BatchEmbedder interface {
	EmbedMany(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// AsBatchEmbedder returns e as a BatchEmbedder when e and every engine it
// decorates support batching.
func AsBatchEmbedder(e Engine) (BatchEmbedder, bool) {
	for cur := e; cur != nil; {
		if _, ok := cur.(BatchEmbedder); !ok {
			return nil, false
		}
		u, ok := cur.(unwrapper)
		if !ok {
			return e.(BatchEmbedder), true
		}
		cur = u.Unwrap()
	}
	return nil, false
}

// Close releases the client behind e if it holds one.
func Close(e Engine) error {
	for e != nil {
		if c, ok := e.(io.Closer); ok {
			return c.Close()
		}
		u, ok := e.(unwrapper)
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return nil
}
