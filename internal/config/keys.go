package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

// secretService is the keychain service name every secret is stored under.
const secretService = "askpdf"

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

// account is the keychain account name for a secret key.
func (s keySpec) account() string {
	return strings.ReplaceAll(s.key, ".", "_")
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "ASKPDF_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "ASKPDF_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "server.token", typ: kString, env: "ASKPDF_SERVER_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "log.level", typ: kString, env: "ASKPDF_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.data_dir", typ: kString, env: "ASKPDF_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.record_interactions", typ: kBool, env: "ASKPDF_STORAGE_RECORD_INTERACTIONS",
		apply:   func(cfg *Config, v any) { cfg.Storage.RecordInteractions = v.(bool) },
		extract: func(cfg Config) any { return cfg.Storage.RecordInteractions },
	},
	{
		key: "index.backend", typ: kString, env: "ASKPDF_INDEX_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Index.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.Backend },
	},
	{
		key: "index.name", typ: kString, env: "ASKPDF_INDEX_NAME",
		apply:   func(cfg *Config, v any) { cfg.Index.Name = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.Name },
	},
	{
		key: "index.dimension", typ: kInt, env: "ASKPDF_INDEX_DIMENSION",
		apply:   func(cfg *Config, v any) { cfg.Index.Dimension = v.(int) },
		extract: func(cfg Config) any { return cfg.Index.Dimension },
	},
	{
		key: "index.metric", typ: kString, env: "ASKPDF_INDEX_METRIC",
		apply:   func(cfg *Config, v any) { cfg.Index.Metric = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.Metric },
	},
	{
		key: "index.cloud", typ: kString, env: "ASKPDF_INDEX_CLOUD",
		apply:   func(cfg *Config, v any) { cfg.Index.Cloud = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.Cloud },
	},
	{
		key: "index.region", typ: kString, env: "ASKPDF_INDEX_REGION",
		apply:   func(cfg *Config, v any) { cfg.Index.Region = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.Region },
	},
	{
		key: "index.url", typ: kString, env: "ASKPDF_INDEX_URL",
		apply:   func(cfg *Config, v any) { cfg.Index.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.URL },
	},
	{
		key: "index.api_key", typ: kString, env: "ASKPDF_INDEX_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Index.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.APIKey },
	},
	{
		key: "index.reset_on_ingest", typ: kBool, env: "ASKPDF_INDEX_RESET_ON_INGEST",
		apply:   func(cfg *Config, v any) { cfg.Index.ResetOnIngest = v.(bool) },
		extract: func(cfg Config) any { return cfg.Index.ResetOnIngest },
	},
	{
		key: "embedding.provider", typ: kString, env: "ASKPDF_EMBEDDING_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Provider },
	},
	{
		key: "embedding.model", typ: kString, env: "ASKPDF_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Model },
	},
	{
		key: "embedding.base_url", typ: kString, env: "ASKPDF_EMBEDDING_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.BaseURL },
	},
	{
		key: "embedding.batch_size", typ: kInt, env: "ASKPDF_EMBEDDING_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Embedding.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.BatchSize },
	},
	{
		key: "embedding.rate_limit", typ: kFloat, env: "ASKPDF_EMBEDDING_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Embedding.RateLimit = v.(float64) },
		extract: func(cfg Config) any { return cfg.Embedding.RateLimit },
	},
	{
		key: "embedding.max_retries", typ: kInt, env: "ASKPDF_EMBEDDING_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Embedding.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.MaxRetries },
	},
	{
		key: "generation.provider", typ: kString, env: "ASKPDF_GENERATION_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Generation.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Provider },
	},
	{
		key: "generation.model", typ: kString, env: "ASKPDF_GENERATION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Generation.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Model },
	},
	{
		key: "generation.base_url", typ: kString, env: "ASKPDF_GENERATION_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Generation.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.BaseURL },
	},
	{
		key: "generation.temperature", typ: kFloat, env: "ASKPDF_GENERATION_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Generation.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Generation.Temperature },
	},
	{
		key: "generation.max_tokens", typ: kInt, env: "ASKPDF_GENERATION_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Generation.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.MaxTokens },
	},
	{
		key: "generation.task", typ: kString, env: "ASKPDF_GENERATION_TASK",
		apply:   func(cfg *Config, v any) { cfg.Generation.Task = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Task },
	},
	{
		key: "generation.timeout", typ: kString, env: "ASKPDF_GENERATION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Generation.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Timeout },
	},
	{
		key: "generation.max_retries", typ: kInt, env: "ASKPDF_GENERATION_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Generation.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.MaxRetries },
	},
	{
		key: "chunking.separator", typ: kString, env: "ASKPDF_CHUNKING_SEPARATOR",
		apply:   func(cfg *Config, v any) { cfg.Chunking.Separator = unescape(v.(string)) },
		extract: func(cfg Config) any { return strconv.Quote(cfg.Chunking.Separator) },
	},
	{
		key: "chunking.size", typ: kInt, env: "ASKPDF_CHUNKING_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Chunking.Size = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.Size },
	},
	{
		key: "chunking.overlap", typ: kInt, env: "ASKPDF_CHUNKING_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Chunking.Overlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.Overlap },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "ASKPDF_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.condense_question", typ: kBool, env: "ASKPDF_RETRIEVAL_CONDENSE_QUESTION",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.CondenseQuestion = v.(bool) },
		extract: func(cfg Config) any { return cfg.Retrieval.CondenseQuestion },
	},
	{
		key: "retrieval.max_context_tokens", typ: kInt, env: "ASKPDF_RETRIEVAL_MAX_CONTEXT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.MaxContextTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.MaxContextTokens },
	},
	{
		key: "openai.api_key", typ: kString, env: "ASKPDF_OPENAI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Secrets.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Secrets.OpenAIAPIKey },
	},
	{
		key: "anthropic.api_key", typ: kString, env: "ASKPDF_ANTHROPIC_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Secrets.AnthropicAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Secrets.AnthropicAPIKey },
	},
	{
		key: "google.api_key", typ: kString, env: "ASKPDF_GOOGLE_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Secrets.GoogleAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Secrets.GoogleAPIKey },
	},
}

// unescape turns a configured separator such as `\n` into the real
// character. Values that are not valid Go escapes are used verbatim.
func unescape(s string) string {
	if u, err := strconv.Unquote(`"` + s + `"`); err == nil {
		return u
	}
	return s
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

// applySecrets fills secrets the environment left empty from the keychain.
func applySecrets(cfg *Config, kc keychain) {
	if kc == nil {
		return
	}
	for _, s := range specs {
		if !s.secret {
			continue
		}
		if v, _ := s.extract(*cfg).(string); v != "" {
			continue
		}
		v, err := kc.Get(secretService, s.account())
		if err != nil || v == "" {
			continue
		}
		s.apply(cfg, v)
	}
}
