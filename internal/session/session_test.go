package session

import (
	"context"
	"errors"
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
	"github.com/kalambet/askpdf/internal/storage"
)

type fakeEngine struct {
	mu      sync.Mutex
	answer  string
	failErr error
}

func (f *fakeEngine) Chat(_ context.Context, _ string, _ []engine.Message, _ engine.GenerateOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return "", f.failErr
	}
	return f.answer, nil
}

func (f *fakeEngine) Embed(_ context.Context, _ string, text string) ([]float32, error) {
	return []float32{1, float32(len(text) % 7)}, nil
}

func (f *fakeEngine) IsRunning(context.Context) bool { return true }

func newTestManager(t *testing.T, llm *fakeEngine) (*Manager, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	emb := retrieval.NewEmbedder(llm, "embed")
	ix := indexer.New(retrieval.NewSQLiteIndex(store.DB()), emb, indexer.Options{
		Spec: retrieval.IndexSpec{Name: "chatbot-1", Dimension: 2},
	})
	in := pipeline.NewIngestor(extract.New(0), chunker.Config{Separator: "\n", Size: 40, Overlap: 8}, ix, store)
	m := NewManager(Options{
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

func samplePDF() []extract.Document {
	return []extract.Document{{Name: "report.pdf", Data: extracttest.PDF("The report was written in 2021.", "It covers revenue.")}}
}

func TestSession_UploadThenAsk(t *testing.T) {
	llm := &fakeEngine{answer: "In 2021."}
	m, store := newTestManager(t, llm)
	s := m.Create()
	ctx := context.Background()

	if _, err := s.Ask(ctx, "When?"); !errors.Is(err, conversation.ErrNotInitialized) {
		t.Fatalf("Ask before upload: %v", err)
	}

	res, err := s.Upload(ctx, samplePDF(), nil)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Chunks == 0 {
		t.Fatal("no chunks indexed")
	}
	if !s.Active() {
		t.Fatal("session should be active after upload")
	}

	ans, err := s.Ask(ctx, "When was it written?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Text != "In 2021." || len(s.History()) != 2 {
		t.Errorf("answer = %q, history = %v", ans.Text, s.History())
	}

	logged, err := store.ListInteractions(s.ID, 10)
	if err != nil {
		t.Fatalf("ListInteractions: %v", err)
	}
	if len(logged) != 1 || logged[0].Question != "When was it written?" || logged[0].Model != "chat" {
		t.Errorf("logged = %+v", logged)
	}
	if len(logged[0].ChunkIDs) == 0 {
		t.Error("interaction should record the chunks used")
	}
}

func TestSession_FailedAskNotRecorded(t *testing.T) {
	llm := &fakeEngine{failErr: errors.New("down")}
	m, store := newTestManager(t, llm)
	s := m.Create()
	ctx := context.Background()
	if _, err := s.Upload(ctx, samplePDF(), nil); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if _, err := s.Ask(ctx, "q"); err == nil {
		t.Fatal("expected error")
	}
	if len(s.History()) != 0 {
		t.Error("history changed after failed ask")
	}
	if logged, _ := store.ListInteractions(s.ID, 10); len(logged) != 0 {
		t.Errorf("logged %d interactions after failure", len(logged))
	}
}

func TestSession_FailedUploadKeepsConversation(t *testing.T) {
	llm := &fakeEngine{answer: "ok"}
	m, _ := newTestManager(t, llm)
	s := m.Create()
	ctx := context.Background()
	if _, err := s.Upload(ctx, samplePDF(), nil); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := s.Ask(ctx, "q"); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	_, err := s.Upload(ctx, []extract.Document{{Name: "bad.pdf", Data: []byte("junk")}}, nil)
	var ee *extract.ExtractionError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if len(s.History()) != 2 {
		t.Error("failed upload should not reset the conversation")
	}
}

func TestSession_Resume(t *testing.T) {
	llm := &fakeEngine{answer: "ok"}
	m, _ := newTestManager(t, llm)
	ctx := context.Background()

	if err := m.Create().Resume(ctx); !errors.Is(err, ErrEmptyIndex) {
		t.Fatalf("Resume on empty index: %v", err)
	}
	if _, err := m.Create().Upload(ctx, samplePDF(), nil); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	s := m.Create()
	if err := s.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if _, err := s.Ask(ctx, "q"); err != nil {
		t.Errorf("Ask after Resume: %v", err)
	}
}

func TestManager_Lifecycle(t *testing.T) {
	m, _ := newTestManager(t, &fakeEngine{})

	s := m.Create()
	got, err := m.Get(s.ID)
	if err != nil || got != s {
		t.Fatalf("Get: %v", err)
	}
	if m.GetOrCreate("default") != m.GetOrCreate("default") {
		t.Error("GetOrCreate should return the same session")
	}
	if m.Len() != 2 {
		t.Errorf("Len = %d, want 2", m.Len())
	}
	if err := m.Delete(s.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete: %v", err)
	}
	if err := m.Delete(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete: %v", err)
	}
}

func TestManager_ConcurrentAsks(t *testing.T) {
	m, _ := newTestManager(t, &fakeEngine{answer: "ok"})
	s := m.Create()
	ctx := context.Background()
	if _, err := s.Upload(ctx, samplePDF(), nil); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Ask(ctx, "q"); err != nil {
				t.Errorf("Ask: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := len(s.History()); got != 16 {
		t.Errorf("history length = %d, want 16", got)
	}
}

func TestManager_Recall(t *testing.T) {
	m, _ := newTestManager(t, &fakeEngine{})
	ctx := context.Background()
	if _, err := m.Create().Upload(ctx, samplePDF(), nil); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	chunks, err := m.Recall(ctx, "revenue", 1)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(chunks) != 1 {
		t.Errorf("got %d chunks, want 1", len(chunks))
	}
}
