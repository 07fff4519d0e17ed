package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/askpdf/internal/chunker"
	"github.com/kalambet/askpdf/internal/composer"
	"github.com/kalambet/askpdf/internal/engine"
	"github.com/kalambet/askpdf/internal/indexer"
	"github.com/kalambet/askpdf/internal/retrieval"
	"github.com/kalambet/askpdf/internal/storage"
)

// fakeLLM implements engine.Engine. Embeddings count letters so that texts
// sharing letters are similar.
type fakeLLM struct {
	chatFn func(ctx context.Context, msgs []engine.Message, opts engine.GenerateOptions) (string, error)
	calls  [][]engine.Message
}

func (f *fakeLLM) Chat(ctx context.Context, _ string, msgs []engine.Message, opts engine.GenerateOptions) (string, error) {
	f.calls = append(f.calls, msgs)
	return f.chatFn(ctx, msgs, opts)
}

func (f *fakeLLM) Embed(_ context.Context, _ string, text string) ([]float32, error) {
	v := make([]float32, 5)
	for _, r := range text {
		if r >= 'A' && r <= 'E' {
			v[r-'A']++
		}
	}
	v[4] += 0.01
	return v, nil
}

func (f *fakeLLM) IsRunning(context.Context) bool { return true }

func answerWith(text string) func(context.Context, []engine.Message, engine.GenerateOptions) (string, error) {
	return func(context.Context, []engine.Message, engine.GenerateOptions) (string, error) {
		return text, nil
	}
}

// indexText chunks text with size 5, overlap 3 and indexes it in memory.
func indexText(t *testing.T, llm engine.Engine, text string) (indexer.Handle, *retrieval.Embedder) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	chunks, err := chunker.Split(text, chunker.Config{Separator: "\n", Size: 5, Overlap: 3})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	emb := retrieval.NewEmbedder(llm, "embed")
	ix := indexer.New(retrieval.NewSQLiteIndex(store.DB()), emb, indexer.Options{
		Spec: retrieval.IndexSpec{Name: "chatbot-1", Dimension: 5, Metric: retrieval.MetricCosine},
	})
	h, err := ix.Index(context.Background(), chunks, "batch", nil)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	return h, emb
}

func TestAsk_EndToEnd(t *testing.T) {
	llm := &fakeLLM{chatFn: answerWith("The letters are A to E.")}
	h, emb := indexText(t, llm, "A\nB\nC\nD\nE")
	if h.Upserted != 3 {
		t.Fatalf("Upserted = %d, want 3 chunks", h.Upserted)
	}

	conv := New(llm, emb, composer.New(0), Options{Model: "m", TopK: 2, CondenseQuestion: true})
	conv.Initialize(h)

	ans, err := conv.Ask(context.Background(), "What comes after D?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(ans.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(ans.History))
	}
	if ans.History[0].Speaker != User || ans.History[0].Text != "What comes after D?" {
		t.Errorf("history[0] = %+v, want the question", ans.History[0])
	}
	if ans.History[1].Speaker != Assistant || ans.History[1].Text != "The letters are A to E." {
		t.Errorf("history[1] = %+v, want the answer", ans.History[1])
	}
	if len(ans.Sources) != 2 {
		t.Errorf("sources = %d, want top_k 2", len(ans.Sources))
	}
	if ans.StandaloneQuestion != "What comes after D?" {
		t.Errorf("first question should not be condensed, got %q", ans.StandaloneQuestion)
	}
	if len(llm.calls) != 1 {
		t.Errorf("LLM calls = %d, want 1 (no condense on empty history)", len(llm.calls))
	}
}

func TestAsk_PromptCarriesContextAndQuestion(t *testing.T) {
	llm := &fakeLLM{chatFn: answerWith("ok")}
	h, emb := indexText(t, llm, "A\nB\nC\nD\nE")
	conv := New(llm, emb, nil, Options{TopK: 1})
	conv.Initialize(h)

	if _, err := conv.Ask(context.Background(), "E?"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	msgs := llm.calls[0]
	if msgs[0].Role != engine.RoleSystem || !strings.Contains(msgs[0].Content, "C\nD\nE") {
		t.Errorf("system message should carry the best chunk:\n%s", msgs[0].Content)
	}
	if last := msgs[len(msgs)-1]; last.Role != engine.RoleUser || last.Content != "E?" {
		t.Errorf("last message = %+v", last)
	}
}

func TestAsk_WhileIdle(t *testing.T) {
	llm := &fakeLLM{chatFn: func(context.Context, []engine.Message, engine.GenerateOptions) (string, error) {
		t.Fatal("LLM must not be called while idle")
		return "", nil
	}}
	conv := New(llm, retrieval.NewEmbedder(llm, "embed"), nil, Options{})

	_, err := conv.Ask(context.Background(), "anything?")
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if len(conv.History()) != 0 {
		t.Error("history mutated while idle")
	}
}

func TestAsk_FailedGenerationKeepsHistory(t *testing.T) {
	llm := &fakeLLM{chatFn: answerWith("first answer")}
	h, emb := indexText(t, llm, "A\nB\nC\nD\nE")
	conv := New(llm, emb, nil, Options{TopK: 1})
	conv.Initialize(h)

	if _, err := conv.Ask(context.Background(), "first?"); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	llm.chatFn = func(context.Context, []engine.Message, engine.GenerateOptions) (string, error) {
		return "", &engine.StatusError{Provider: "fake", Code: 500, Err: errors.New("overloaded")}
	}
	_, err := conv.Ask(context.Background(), "second?")
	var ge *GenerationError
	if !errors.As(err, &ge) {
		t.Fatalf("expected *GenerationError, got %v", err)
	}
	if !ge.Retryable {
		t.Error("a 500 from the provider should be retryable")
	}
	if got := len(conv.History()); got != 2 {
		t.Errorf("history length = %d, want 2 after failed call", got)
	}
}

func TestAsk_TimeoutIsRetryable(t *testing.T) {
	llm := &fakeLLM{chatFn: func(ctx context.Context, _ []engine.Message, _ engine.GenerateOptions) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	h, emb := indexText(t, llm, "A\nB\nC")
	conv := New(llm, emb, nil, Options{TopK: 1, Timeout: 20 * time.Millisecond})
	conv.Initialize(h)

	_, err := conv.Ask(context.Background(), "slow?")
	var ge *GenerationError
	if !errors.As(err, &ge) || !ge.Retryable {
		t.Fatalf("expected retryable GenerationError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error should wrap context.DeadlineExceeded: %v", err)
	}
	if len(conv.History()) != 0 {
		t.Error("history mutated after timeout")
	}
}

func TestAsk_CondensesFollowUp(t *testing.T) {
	llm := &fakeLLM{}
	llm.chatFn = func(_ context.Context, msgs []engine.Message, _ engine.GenerateOptions) (string, error) {
		if strings.Contains(msgs[len(msgs)-1].Content, "Standalone question:") {
			return "  What comes after D in the list?  ", nil
		}
		return "answer", nil
	}
	h, emb := indexText(t, llm, "A\nB\nC\nD\nE")
	conv := New(llm, emb, nil, Options{TopK: 1, CondenseQuestion: true})
	conv.Initialize(h)

	if _, err := conv.Ask(context.Background(), "What is the list?"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	ans, err := conv.Ask(context.Background(), "And after D?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.StandaloneQuestion != "What comes after D in the list?" {
		t.Errorf("StandaloneQuestion = %q", ans.StandaloneQuestion)
	}
	if len(llm.calls) != 3 {
		t.Fatalf("LLM calls = %d, want 3", len(llm.calls))
	}
	// The answer prompt keeps the user's own wording and the full history.
	final := llm.calls[2]
	if len(final) != 4 || final[3].Content != "And after D?" {
		t.Errorf("answer prompt = %+v", final)
	}
	if ans.History[2].Text != "And after D?" {
		t.Errorf("history stores %q, want the original question", ans.History[2].Text)
	}
}

func TestAsk_PassesGenerateOptions(t *testing.T) {
	var got engine.GenerateOptions
	llm := &fakeLLM{chatFn: func(_ context.Context, _ []engine.Message, opts engine.GenerateOptions) (string, error) {
		got = opts
		return "ok", nil
	}}
	h, emb := indexText(t, llm, "A\nB")
	conv := New(llm, emb, nil, Options{TopK: 1})
	conv.Initialize(h)

	if _, err := conv.Ask(context.Background(), "q"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got != engine.DefaultGenerateOptions() {
		t.Errorf("options = %+v, want defaults", got)
	}
}

func TestInitializeAndReset(t *testing.T) {
	llm := &fakeLLM{chatFn: answerWith("ok")}
	h, emb := indexText(t, llm, "A\nB\nC")
	conv := New(llm, emb, nil, Options{TopK: 1})

	conv.Initialize(h)
	if _, err := conv.Ask(context.Background(), "q"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	conv.Initialize(h)
	if !conv.Active() || len(conv.History()) != 0 {
		t.Error("re-Initialize should start a fresh history")
	}

	conv.Reset()
	if conv.Active() {
		t.Error("Reset should return to idle")
	}
	if _, err := conv.Ask(context.Background(), "q"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Ask after Reset: %v", err)
	}
}

func TestHistoryIsACopy(t *testing.T) {
	llm := &fakeLLM{chatFn: answerWith("ok")}
	h, emb := indexText(t, llm, "A\nB\nC")
	conv := New(llm, emb, nil, Options{TopK: 1})
	conv.Initialize(h)
	if _, err := conv.Ask(context.Background(), "q"); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	hist := conv.History()
	hist[0].Text = "changed"
	if conv.History()[0].Text != "q" {
		t.Error("mutating the returned history changed the conversation")
	}
}

func TestSpeakerJSON(t *testing.T) {
	b, err := json.Marshal(Message{Speaker: Assistant, Text: "hi"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"speaker":"assistant","text":"hi"}` {
		t.Errorf("got %s", b)
	}
	var m Message
	if err := json.Unmarshal([]byte(`{"speaker":"robot","text":"x"}`), &m); err == nil {
		t.Error("expected error for unknown speaker")
	}
}
