package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kalambet/askpdf/internal/chunker"
	"github.com/kalambet/askpdf/internal/composer"
	"github.com/kalambet/askpdf/internal/config"
	"github.com/kalambet/askpdf/internal/conversation"
	"github.com/kalambet/askpdf/internal/engine"
	"github.com/kalambet/askpdf/internal/extract"
	"github.com/kalambet/askpdf/internal/indexer"
	"github.com/kalambet/askpdf/internal/pipeline"
	"github.com/kalambet/askpdf/internal/retrieval"
	"github.com/kalambet/askpdf/internal/session"
	"github.com/kalambet/askpdf/internal/storage"
)

// cliSession is the conversation used by the chat and ingest commands.
const cliSession = "cli"

// app holds the components shared by serve, chat and ingest.
type app struct {
	cfg      config.Config
	store    *storage.Store
	sessions *session.Manager
	closers  []func() error
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func detectEngine(ctx context.Context, cfg config.Config, provider, baseURL string, maxRetries int) (engine.Engine, error) {
	return engine.Detect(ctx, engine.ProviderConfig{
		Provider:   provider,
		BaseURL:    baseURL,
		APIKey:     cfg.APIKey(provider),
		MaxRetries: maxRetries,
	})
}

// buildApp wires configuration into a session manager. Model readiness
// output goes to w.
func buildApp(ctx context.Context, cfg config.Config, w io.Writer) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	genOpts := engine.GenerateOptions{
		Temperature: cfg.Generation.Temperature,
		MaxTokens:   cfg.Generation.MaxTokens,
		Task:        cfg.Generation.Task,
	}
	if err := genOpts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid generation config: %w", err)
	}
	metric, err := retrieval.ParseMetric(cfg.Index.Metric)
	if err != nil {
		return nil, err
	}

	llm, err := detectEngine(ctx, cfg, cfg.Generation.Provider, cfg.Generation.BaseURL, cfg.Generation.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("detecting generation provider: %w", err)
	}
	a.closers = append(a.closers, func() error { return engine.Close(llm) })

	// Same provider: share the client, keep the embedding retry budget.
	embedEngine := engine.WithRetry(engine.Base(llm), cfg.Embedding.MaxRetries)
	if cfg.Embedding.Provider != cfg.Generation.Provider || cfg.Embedding.BaseURL != cfg.Generation.BaseURL {
		embedEngine, err = detectEngine(ctx, cfg, cfg.Embedding.Provider, cfg.Embedding.BaseURL, cfg.Embedding.MaxRetries)
		if err != nil {
			return nil, fmt.Errorf("detecting embedding provider: %w", err)
		}
		a.closers = append(a.closers, func() error { return engine.Close(embedEngine) })
		if err := engine.EnsureReady(ctx, llm, w, cfg.Generation.Model); err != nil {
			return nil, err
		}
		if err := engine.EnsureReady(ctx, embedEngine, w, cfg.Embedding.Model); err != nil {
			return nil, err
		}
	} else if err := engine.EnsureReady(ctx, llm, w, cfg.Generation.Model, cfg.Embedding.Model); err != nil {
		return nil, err
	}

	a.store, err = storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	index, closeIndex, err := retrieval.Open(ctx, retrieval.Options{
		Backend: cfg.Index.Backend,
		URL:     cfg.Index.URL,
		APIKey:  cfg.Index.APIKey,
		DB:      a.store.DB(),
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s index: %w", cfg.Index.Backend, err)
	}
	a.closers = append(a.closers, closeIndex)

	embedder := retrieval.NewEmbedder(embedEngine, cfg.Embedding.Model).
		WithLimits(cfg.Embedding.BatchSize, cfg.Embedding.RateLimit)
	ix := indexer.New(index, embedder, indexer.Options{
		Spec: retrieval.IndexSpec{
			Name:      cfg.Index.Name,
			Dimension: cfg.Index.Dimension,
			Metric:    metric,
			Cloud:     cfg.Index.Cloud,
			Region:    cfg.Index.Region,
		},
		BatchSize:     cfg.Embedding.BatchSize,
		ResetOnIngest: cfg.Index.ResetOnIngest,
	})
	ingestor := pipeline.NewIngestor(extract.New(0), chunker.Config{
		Separator: cfg.Chunking.Separator,
		Size:      cfg.Chunking.Size,
		Overlap:   cfg.Chunking.Overlap,
	}, ix, a.store)

	comp := composer.New(cfg.Retrieval.MaxContextTokens)
	convOpts := conversation.Options{
		Model:            cfg.Generation.Model,
		Generate:         genOpts,
		TopK:             cfg.Retrieval.TopK,
		Timeout:          cfg.Generation.TimeoutDuration(),
		CondenseQuestion: cfg.Retrieval.CondenseQuestion,
	}

	var interactions session.InteractionLog
	if cfg.Storage.RecordInteractions {
		interactions = a.store
	}
	a.sessions = session.NewManager(session.Options{
		Ingestor: ingestor,
		Embedder: embedder,
		NewConversation: func() *conversation.Engine {
			return conversation.New(llm, embedder, comp, convOpts)
		},
		Log:   interactions,
		Model: cfg.Generation.Model,
	})

	slog.Debug("askpdf wired",
		"index_backend", cfg.Index.Backend,
		"index", cfg.Index.Name,
		"generation", cfg.Generation.Provider+"/"+cfg.Generation.Model,
		"embedding", cfg.Embedding.Provider+"/"+cfg.Embedding.Model,
	)
	ok = true
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closing resource", "error", err)
		}
	}
	a.closers = nil
}

// readDocuments loads PDF files from disk for ingestion.
func readDocuments(paths []string) ([]extract.Document, error) {
	docs := make([]extract.Document, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		docs = append(docs, extract.Document{Name: filepath.Base(p), Data: data})
	}
	return docs, nil
}
