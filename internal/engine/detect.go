package engine

import (
	"context"
	"fmt"
)

const defaultOllamaURL = "http://localhost:11434"

// ProviderConfig selects and configures one model backend.
type ProviderConfig struct {
	Provider   string
	BaseURL    string
	APIKey     string
	MaxRetries int
}

// Detect builds the Engine for cfg.Provider, wrapped with retries.
func Detect(ctx context.Context, cfg ProviderConfig) (Engine, error) {
	var e Engine
	switch cfg.Provider {
	case "", "ollama":
		url := cfg.BaseURL
		if url == "" {
			url = defaultOllamaURL
		}
		e = NewOllamaEngine(url)
	case "openai":
		e = NewOpenAIEngine(cfg.APIKey, cfg.BaseURL)
	case "anthropic":
		e = NewAnthropicEngine(cfg.APIKey, cfg.BaseURL)
	case "google":
		g, err := NewGoogleEngine(ctx, cfg.APIKey)
		if err != nil {
			return nil, err
		}
		e = g
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
	return WithRetry(e, cfg.MaxRetries), nil
}
