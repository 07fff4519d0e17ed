package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Storage    StorageConfig
	Index      IndexConfig
	Embedding  EmbeddingConfig
	Generation GenerationConfig
	Chunking   ChunkingConfig
	Retrieval  RetrievalConfig
	Secrets    SecretsConfig
}

type ServerConfig struct {
	Port     int
	MaxConns int
	Token    string
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir            string
	RecordInteractions bool
}

// IndexConfig describes the vector index. Cloud and Region are passed
// through to backends that support placement and ignored elsewhere.
type IndexConfig struct {
	Backend       string
	Name          string
	Dimension     int
	Metric        string
	Cloud         string
	Region        string
	URL           string
	APIKey        string
	ResetOnIngest bool
}

type EmbeddingConfig struct {
	Provider   string
	Model      string
	BaseURL    string
	BatchSize  int
	RateLimit  float64
	MaxRetries int
}

type GenerationConfig struct {
	Provider    string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Task        string
	Timeout     string
	MaxRetries  int
}

type ChunkingConfig struct {
	Separator string
	Size      int
	Overlap   int
}

type RetrievalConfig struct {
	TopK             int
	CondenseQuestion bool
	MaxContextTokens int
}

type SecretsConfig struct {
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GoogleAPIKey    string
}

const defaultGenerationTimeout = 60 * time.Second

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     4100,
			MaxConns: 64,
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			DataDir:            defaultDataDir(),
			RecordInteractions: true,
		},
		Index: IndexConfig{
			Backend:   "sqlite",
			Name:      "chatbot-1",
			Dimension: 768,
			Metric:    "cosine",
			Cloud:     "gcp",
			Region:    "us-central1",
		},
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			BatchSize:  8,
			MaxRetries: 2,
		},
		Generation: GenerationConfig{
			Provider:    "ollama",
			Model:       "phi3.5",
			Temperature: 0.5,
			MaxTokens:   512,
			Task:        "text-generation",
			Timeout:     "60s",
			MaxRetries:  2,
		},
		Chunking: ChunkingConfig{
			Separator: "\n",
			Size:      1000,
			Overlap:   200,
		},
		Retrieval: RetrievalConfig{
			TopK:             4,
			CondenseQuestion: true,
			MaxContextTokens: 3000,
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.askpdf.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/askpdf/config.json
// and secrets fall back to $XDG_DATA_HOME/askpdf/secrets.json.
//
// Environment variables (ASKPDF_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(openBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b Backend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, kc)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports configuration that cannot work: broken chunking
// parameters, unknown backends or providers, and missing credentials.
func (c Config) Validate() error {
	if c.Chunking.Size <= 0 {
		return fmt.Errorf("invalid config: chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("invalid config: chunking.overlap must be in [0, %d), got %d", c.Chunking.Size, c.Chunking.Overlap)
	}
	if c.Index.Dimension <= 0 {
		return fmt.Errorf("invalid config: index.dimension must be positive, got %d", c.Index.Dimension)
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("invalid config: retrieval.top_k must be at least 1, got %d", c.Retrieval.TopK)
	}

	if c.Embedding.MaxRetries < 0 || c.Generation.MaxRetries < 0 {
		return fmt.Errorf("invalid config: max_retries must not be negative")
	}

	switch c.Index.Metric {
	case "cosine", "dot", "euclidean":
	default:
		return fmt.Errorf("invalid config: unknown index.metric %q", c.Index.Metric)
	}

	switch c.Index.Backend {
	case "sqlite":
	case "qdrant", "pgvector":
		if c.Index.URL == "" {
			return fmt.Errorf("missing required config: index.url for %s backend. Set it via ASKPDF_INDEX_URL", c.Index.Backend)
		}
	default:
		return fmt.Errorf("invalid config: unknown index.backend %q", c.Index.Backend)
	}

	if err := c.checkProvider("embedding", c.Embedding.Provider, c.Embedding.BaseURL, "ollama", "openai", "google"); err != nil {
		return err
	}
	return c.checkProvider("generation", c.Generation.Provider, c.Generation.BaseURL, "ollama", "openai", "anthropic", "google")
}

func (c Config) checkProvider(section, provider, baseURL string, allowed ...string) error {
	known := false
	for _, a := range allowed {
		if provider == a {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("invalid config: unknown %s.provider %q (want one of %s)", section, provider, strings.Join(allowed, ", "))
	}

	var key, env string
	switch provider {
	case "openai":
		// OpenAI-compatible local servers do not need a key.
		if baseURL != "" {
			return nil
		}
		key, env = c.Secrets.OpenAIAPIKey, "ASKPDF_OPENAI_API_KEY"
	case "anthropic":
		key, env = c.Secrets.AnthropicAPIKey, "ASKPDF_ANTHROPIC_API_KEY"
	case "google":
		key, env = c.Secrets.GoogleAPIKey, "ASKPDF_GOOGLE_API_KEY"
	default:
		return nil
	}
	if key == "" {
		return fmt.Errorf("missing required config: %s API key for %s.provider. Set it via environment variable %s%s",
			provider, section, env, apiKeyHint())
	}
	return nil
}

// APIKey returns the credential for a model provider.
func (c Config) APIKey(provider string) string {
	switch provider {
	case "openai":
		return c.Secrets.OpenAIAPIKey
	case "anthropic":
		return c.Secrets.AnthropicAPIKey
	case "google":
		return c.Secrets.GoogleAPIKey
	}
	return ""
}

// TimeoutDuration parses Timeout, falling back to 60s on malformed values.
func (g GenerationConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(g.Timeout)
	if err != nil || d <= 0 {
		slog.Warn("invalid generation timeout, using default", "value", g.Timeout, "default", defaultGenerationTimeout)
		return defaultGenerationTimeout
	}
	return d
}

// keychainReader reads secrets from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
