package api

import (
	"context"
	"sync"
	"testing"

	"github.com/kalambet/askpdf/internal/chunker"
	"github.com/kalambet/askpdf/internal/composer"
	"github.com/kalambet/askpdf/internal/conversation"
	"github.com/kalambet/askpdf/internal/engine"
	"github.com/kalambet/askpdf/internal/extract"
	"github.com/kalambet/askpdf/internal/extract/extracttest"
	"github.com/kalambet/askpdf/internal/indexer"
	"github.com/kalambet/askpdf/internal/pipeline"
	"github.com/kalambet/askpdf/internal/retrieval"
	"github.com/kalambet/askpdf/internal/session"
	"github.com/kalambet/askpdf/internal/storage"
)

type mockEngine struct {
	mu       sync.Mutex
	answer   string
	chatErr  error
	embedErr error
}

func (m *mockEngine) Chat(_ context.Context, _ string, _ []engine.Message, _ engine.GenerateOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.answer, m.chatErr
}

func (m *mockEngine) Embed(_ context.Context, _ string, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	return []float32{1, float32(len(text) % 5)}, nil
}

func (m *mockEngine) IsRunning(context.Context) bool { return true }

func newTestSessions(t *testing.T, llm *mockEngine) (*session.Manager, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	emb := retrieval.NewEmbedder(llm, "embed")
	ix := indexer.New(retrieval.NewSQLiteIndex(store.DB()), emb, indexer.Options{
		Spec: retrieval.IndexSpec{Name: "chatbot-1", Dimension: 2},
	})
	in := pipeline.NewIngestor(extract.New(0), chunker.Config{Separator: "\n", Size: 40, Overlap: 8}, ix, store)
	m := session.NewManager(session.Options{
		Ingestor: in,
		Embedder: emb,
		NewConversation: func() *conversation.Engine {
			return conversation.New(llm, emb, composer.New(0), conversation.Options{Model: "chat", TopK: 2})
		},
		Log:   store,
		Model: "chat",
	})
	return m, store
}

func samplePDF() []byte {
	return extracttest.PDF("The lease starts in March.", "Rent is due monthly.")
}
