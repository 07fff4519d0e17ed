package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/askpdf/internal/config"
	"github.com/kalambet/askpdf/internal/conversation"
	"github.com/kalambet/askpdf/internal/retrieval"
)

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

// fakeChat is a scripted chatSession.
type fakeChat struct {
	askFn    func(question string) (conversation.Answer, error)
	history  []conversation.Message
	resets   int
	resumes  int
	resumeFn func() error
}

func (f *fakeChat) Ask(_ context.Context, q string) (conversation.Answer, error) {
	ans, err := f.askFn(q)
	if err != nil {
		return ans, err
	}
	f.history = append(f.history,
		conversation.Message{Speaker: conversation.User, Text: q},
		conversation.Message{Speaker: conversation.Assistant, Text: ans.Text},
	)
	return ans, nil
}

func (f *fakeChat) Resume(context.Context) error {
	f.resumes++
	if f.resumeFn != nil {
		return f.resumeFn()
	}
	return nil
}

func (f *fakeChat) Reset() {
	f.resets++
	f.history = nil
}

func (f *fakeChat) History() []conversation.Message { return f.history }

func withNoColor(t *testing.T) {
	t.Helper()
	old := noColor
	noColor = true
	t.Cleanup(func() { noColor = old })
}

func TestREPL_AnswersUntilQuit(t *testing.T) {
	withNoColor(t)
	chat := &fakeChat{askFn: func(q string) (conversation.Answer, error) {
		return conversation.Answer{Text: "answer to " + q}, nil
	}}

	var out bytes.Buffer
	in := strings.NewReader("first\n\nsecond\n/quit\nthird\n")
	if err := runREPL(ctx, chat, in, &out, replOptions{}); err != nil {
		t.Fatalf("runREPL: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "answer to first") || !strings.Contains(got, "answer to second") {
		t.Errorf("output = %q", got)
	}
	if strings.Contains(got, "answer to third") {
		t.Error("REPL kept reading after /quit")
	}
	if len(chat.history) != 4 {
		t.Errorf("history length = %d, want 4", len(chat.history))
	}
}

func TestREPL_StopsAtEOF(t *testing.T) {
	withNoColor(t)
	chat := &fakeChat{askFn: func(q string) (conversation.Answer, error) {
		return conversation.Answer{Text: "ok"}, nil
	}}
	var out bytes.Buffer
	if err := runREPL(ctx, chat, strings.NewReader("only"), &out, replOptions{}); err != nil {
		t.Fatalf("runREPL: %v", err)
	}
	if len(chat.history) != 2 {
		t.Errorf("history length = %d, want 2", len(chat.history))
	}
}

func TestREPL_ErrorsDoNotEndSession(t *testing.T) {
	withNoColor(t)
	calls := 0
	chat := &fakeChat{askFn: func(q string) (conversation.Answer, error) {
		calls++
		switch calls {
		case 1:
			return conversation.Answer{}, &conversation.GenerationError{Op: "answer", Retryable: true, Err: context.DeadlineExceeded}
		case 2:
			return conversation.Answer{}, errors.New("provider exploded")
		}
		return conversation.Answer{Text: "finally"}, nil
	}}

	var out bytes.Buffer
	if err := runREPL(ctx, chat, strings.NewReader("a\nb\nc\n"), &out, replOptions{}); err != nil {
		t.Fatalf("runREPL: %v", err)
	}
	got := out.String()
	for _, want := range []string{"timed out", "provider exploded", "finally"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q: %q", want, got)
		}
	}
	if len(chat.history) != 2 {
		t.Errorf("history length = %d, want 2", len(chat.history))
	}
}

func TestREPL_ResetAndHistory(t *testing.T) {
	withNoColor(t)
	chat := &fakeChat{askFn: func(q string) (conversation.Answer, error) {
		return conversation.Answer{Text: "yes"}, nil
	}}

	var out bytes.Buffer
	in := strings.NewReader("is it?\n/history\n/reset\n/history\n")
	if err := runREPL(ctx, chat, in, &out, replOptions{}); err != nil {
		t.Fatalf("runREPL: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "user: is it?") || !strings.Contains(got, "assistant: yes") {
		t.Errorf("history not printed: %q", got)
	}
	if !strings.Contains(got, "No messages yet.") {
		t.Errorf("history after reset should be empty: %q", got)
	}
	if chat.resets != 1 || chat.resumes != 1 {
		t.Errorf("resets = %d, resumes = %d, want 1 and 1", chat.resets, chat.resumes)
	}
}

func TestREPL_ShowSources(t *testing.T) {
	withNoColor(t)
	chat := &fakeChat{askFn: func(q string) (conversation.Answer, error) {
		return conversation.Answer{Text: "ok", Sources: []retrieval.ContextChunk{
			{ID: "id_3", Text: "Rent is\ndue monthly.", Score: 0.82},
		}}, nil
	}}
	var out bytes.Buffer
	if err := runREPL(ctx, chat, strings.NewReader("rent?\n"), &out, replOptions{showSources: true}); err != nil {
		t.Fatalf("runREPL: %v", err)
	}
	if !strings.Contains(out.String(), "[id_3 0.82] Rent is due monthly.") {
		t.Errorf("output = %q", out.String())
	}
}

func TestIngestCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ingest"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing args")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestReadDocuments(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.pdf")
	if err := os.WriteFile(p, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}

	docs, err := readDocuments([]string{p})
	if err != nil {
		t.Fatalf("readDocuments: %v", err)
	}
	if len(docs) != 1 || docs[0].Name != "a.pdf" || string(docs[0].Data) != "%PDF-1.4" {
		t.Errorf("docs = %+v", docs)
	}

	if _, err := readDocuments([]string{filepath.Join(dir, "missing.pdf")}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestStatusCommand_Running(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status code = %d, want 200", resp.StatusCode)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestCountItems(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /documents": `[{"id":"a"},{"id":"b"}]`,
	})

	n, err := countItems(ctx, ts.client(), "/documents?limit=100")
	if err != nil {
		t.Fatalf("countItems: %v", err)
	}
	if n != 2 {
		t.Errorf("n = %d, want 2", n)
	}
	if ts.requests[0].Path != "/documents?limit=100" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestAPIClientAuth(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = "my-secret-token"
	if _, err := client.get(ctx, "/health"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	client.token = ""
	if _, err := client.get(ctx, "/health"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(ts.requests))
	}
	if ts.requests[0].Auth != "Bearer my-secret-token" {
		t.Errorf("auth = %q, want 'Bearer my-secret-token'", ts.requests[0].Auth)
	}
	if ts.requests[1].Auth != "" {
		t.Errorf("auth without token = %q, want empty", ts.requests[1].Auth)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(409)
		w.Write([]byte(`{"error":{"message":"conversation not initialized","type":"not_initialized"}}`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, httpClient: ts.Client()}
	resp, err := client.get(ctx, "/sessions/x/history")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 409 response")
	}
	if err.Error() != "server returned 409: conversation not initialized" {
		t.Errorf("error = %q", err.Error())
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4000
	cfg.Generation.Model = "phi3.5"

	keys := config.ShowAll(cfg)
	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4000" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find server.port=4000 in ShowAll output")
	}
}

func TestCountLabel(t *testing.T) {
	tests := []struct {
		count, limit int
		want         string
	}{
		{5, 100, "5"},
		{0, 100, "0"},
		{100, 100, "100+"},
		{150, 100, "150+"},
	}
	for _, tt := range tests {
		got := countLabel(tt.count, tt.limit)
		if got != tt.want {
			t.Errorf("countLabel(%d, %d) = %q, want %q", tt.count, tt.limit, got, tt.want)
		}
	}
}

func TestExcerpt(t *testing.T) {
	if got := excerpt("a  b\nc", 10); got != "a b c" {
		t.Errorf("excerpt = %q", got)
	}
	if got := excerpt("héllo world", 5); got != "héllo..." {
		t.Errorf("excerpt = %q", got)
	}
}
