package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicEngine generates answers with Claude models. It has no
// embedding endpoint.
type AnthropicEngine struct {
	client *anthropic.Client
}

// NewAnthropicEngine creates an AnthropicEngine. baseURL may be empty.
func NewAnthropicEngine(apiKey, baseURL string) *AnthropicEngine {
	opts := []anthropicopt.RequestOption{
		anthropicopt.WithAPIKey(apiKey),
		// Retries are handled by WithRetry.
		anthropicopt.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, anthropicopt.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicEngine{client: &client}
}

func (e *AnthropicEngine) Chat(ctx context.Context, model string, messages []Message, opts GenerateOptions) (string, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	req := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(opts.Temperature),
	}

	// System prompts travel separately from the turn list.
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			req.System = append(req.System, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			req.Messages = append(req.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			req.Messages = append(req.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	rsp, err := e.client.Messages.New(ctx, req)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &StatusError{Provider: "anthropic", Code: apiErr.StatusCode, Err: err}
		}
		return "", err
	}

	var b strings.Builder
	for _, content := range rsp.Content {
		if text, ok := content.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}

	result := b.String()
	if len(result) == 0 {
		return "", errors.New("no response from Anthropic")
	}
	return result, nil
}

func (e *AnthropicEngine) Embed(_ context.Context, _ string, _ string) ([]float32, error) {
	return nil, ErrEmbeddingUnsupported
}

// IsRunning reports whether the models endpoint answers.
func (e *AnthropicEngine) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.client.Models.List(ctx, anthropic.ModelListParams{})
	return err == nil
}
