package engine

import (
	"context"
	"errors"

	"github.com/kalambet/askpdf/internal/ollama"
)

// OllamaEngine serves chat and embeddings from an Ollama server and can
// pull missing models.
type OllamaEngine struct {
	client *ollama.Client
}

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{client: ollama.New(baseURL)}
}

func (e *OllamaEngine) Chat(ctx context.Context, model string, messages []Message, opts GenerateOptions) (string, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}
	msgs := make([]ollama.Message, len(messages))
	for i, m := range messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}

	out, err := e.client.Chat(ctx, model, msgs, &ollama.Options{
		Temperature: opts.Temperature,
		NumPredict:  opts.MaxTokens,
	})
	return out, wrapOllama(err)
}

func (e *OllamaEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	vec, err := e.client.Embed(ctx, model, text)
	return vec, wrapOllama(err)
}

func (e *OllamaEngine) EmbedMany(ctx context.Context, model string, texts []string) ([][]float32, error) {
	vecs, err := e.client.EmbedMany(ctx, model, texts)
	return vecs, wrapOllama(err)
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) ListModels(ctx context.Context) ([]string, error) {
	return e.client.ListModels(ctx)
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{
				Status:    p.Status,
				Total:     p.Total,
				Completed: p.Completed,
			})
		}
	}
	return e.client.PullModel(ctx, name, cb)
}

func wrapOllama(err error) error {
	var se *ollama.StatusError
	if errors.As(err, &se) {
		return &StatusError{Provider: "ollama", Code: se.Code, Err: err}
	}
	return err
}
