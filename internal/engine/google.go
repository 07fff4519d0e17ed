package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	genaiopt "google.golang.org/api/option"
)

// GoogleEngine uses Gemini models for generation and embeddings.
type GoogleEngine struct {
	client *genai.Client
}

// NewGoogleEngine creates a GoogleEngine. Extra options such as
// genaiopt.WithEndpoint are passed to the client. Call Close when done.
func NewGoogleEngine(ctx context.Context, apiKey string, opts ...genaiopt.ClientOption) (*GoogleEngine, error) {
	client, err := genai.NewClient(ctx, append([]genaiopt.ClientOption{genaiopt.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GoogleEngine{client: client}, nil
}

func (e *GoogleEngine) Chat(ctx context.Context, model string, messages []Message, opts GenerateOptions) (string, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}
	if len(messages) == 0 {
		return "", errors.New("no messages to send")
	}

	gm := e.client.GenerativeModel(model)
	gm.SetTemperature(float32(opts.Temperature))
	if opts.MaxTokens > 0 {
		gm.SetMaxOutputTokens(int32(opts.MaxTokens))
	}

	var system []string
	var history []*genai.Content
	for _, m := range messages[:len(messages)-1] {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}
	if len(system) > 0 {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))}}
	}

	cs := gm.StartChat()
	cs.History = history
	rsp, err := cs.SendMessage(ctx, genai.Text(messages[len(messages)-1].Content))
	if err != nil {
		return "", wrapGoogle(err)
	}

	if len(rsp.Candidates) == 0 || rsp.Candidates[0].Content == nil || len(rsp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("no response from Google")
	}

	var b strings.Builder
	for _, part := range rsp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String(), nil
}

func (e *GoogleEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	rsp, err := e.client.EmbeddingModel(model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, wrapGoogle(err)
	}
	if rsp == nil || rsp.Embedding == nil || len(rsp.Embedding.Values) == 0 {
		return nil, errors.New("no embedding from Google")
	}
	return rsp.Embedding.Values, nil
}

// IsRunning reports whether the client was constructed. Gemini has no cheap
// liveness probe that does not spend quota.
func (e *GoogleEngine) IsRunning(_ context.Context) bool {
	return e.client != nil
}

// Close releases the underlying client.
func (e *GoogleEngine) Close() error {
	return e.client.Close()
}

func wrapGoogle(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &StatusError{Provider: "google", Code: gerr.Code, Err: err}
	}
	return err
}
