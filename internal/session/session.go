// Package session hosts conversations: one Session per user, each owning a
// conversation engine and serialising its operations.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/askpdf/internal/conversation"
	"github.com/kalambet/askpdf/internal/extract"
	"github.com/kalambet/askpdf/internal/pipeline"
	"github.com/kalambet/askpdf/internal/retrieval"
	"github.com/kalambet/askpdf/internal/storage"
)

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("session not found")

// ErrEmptyIndex is returned by Resume when nothing has been indexed yet.
var ErrEmptyIndex = errors.New("index is empty: upload documents first")

// InteractionLog records answered questions.
type InteractionLog interface {
	SaveInteraction(i storage.Interaction) error
}

// Session is one conversation. All methods are safe for concurrent use;
// uploads and questions on the same session run one at a time.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	conv     *conversation.Engine
	ingestor *pipeline.Ingestor
	log      InteractionLog
	model    string
	logger   *slog.Logger
}

// Upload ingests docs and starts a fresh conversation over the index.
// On failure the conversation keeps its previous state.
func (s *Session) Upload(ctx context.Context, docs []extract.Document, progress pipeline.Progress) (pipeline.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.ingestor.Ingest(ctx, docs, progress)
	if err != nil {
		return res, err
	}
	s.conv.Initialize(res.Handle)
	s.logger.Info("session initialized", "session", s.ID, "batch", res.BatchID, "chunks", res.Chunks)
	return res, nil
}

// Resume starts a conversation over whatever the index already holds.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ix := s.ingestor.Indexer()
	if err := ix.Ensure(ctx); err != nil {
		return err
	}
	h := ix.Handle()
	n, err := h.Index.Count(ctx, h.Name)
	if err != nil {
		return fmt.Errorf("counting records in %s: %w", h.Name, err)
	}
	if n == 0 {
		return ErrEmptyIndex
	}
	h.Upserted = n
	s.conv.Initialize(h)
	return nil
}

// Ask answers question in the context of this session's conversation.
func (s *Session) Ask(ctx context.Context, question string) (conversation.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ans, err := s.conv.Ask(ctx, question)
	if err != nil {
		return ans, err
	}
	s.record(question, ans)
	return ans, nil
}

func (s *Session) record(question string, ans conversation.Answer) {
	if s.log == nil {
		return
	}
	ids := make([]string, len(ans.Sources))
	for i, c := range ans.Sources {
		ids[i] = c.ID
	}
	err := s.log.SaveInteraction(storage.Interaction{
		ID:                 uuid.New().String(),
		CreatedAt:          time.Now().UTC(),
		SessionID:          s.ID,
		Question:           question,
		StandaloneQuestion: ans.StandaloneQuestion,
		Answer:             ans.Text,
		Model:              s.model,
		ChunkIDs:           ids,
	})
	if err != nil {
		s.logger.Warn("failed to record interaction", "session", s.ID, "error", err)
	}
}

// History returns a copy of the conversation so far.
func (s *Session) History() []conversation.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.History()
}

// Active reports whether documents have been uploaded or resumed.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Active()
}

// Reset discards the conversation and returns the session to idle.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv.Reset()
}

// Options wires a Manager.
type Options struct {
	Ingestor *pipeline.Ingestor
	Embedder *retrieval.Embedder

	// NewConversation builds the engine for a new session.
	NewConversation func() *conversation.Engine

	// Log, if non-nil, receives every answered question.
	Log   InteractionLog
	Model string
}

// Manager owns the live sessions.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(opts Options) *Manager {
	return &Manager{
		opts:     opts,
		logger:   slog.Default(),
		sessions: make(map[string]*Session),
	}
}

// Create starts a new idle session.
func (m *Manager) Create() *Session {
	return m.add(uuid.New().String())
}

// GetOrCreate returns the session with id, creating it if needed. It backs
// single-user hosts such as the MCP server and the CLI.
func (m *Manager) GetOrCreate(id string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s
	}
	return m.add(id)
}

func (m *Manager) add(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := &Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		conv:      m.opts.NewConversation(),
		ingestor:  m.opts.Ingestor,
		log:       m.opts.Log,
		model:     m.opts.Model,
		logger:    m.logger,
	}
	m.sessions[id] = s
	m.logger.Debug("session created", "session", id)
	return s
}

// Get returns the session with id or ErrNotFound.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Delete ends a session and discards its conversation.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.Reset()
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Recall searches the index directly, outside any conversation.
func (m *Manager) Recall(ctx context.Context, query string, limit int) ([]retrieval.ContextChunk, error) {
	if limit <= 0 {
		limit = 5
	}
	ix := m.opts.Ingestor.Indexer()
	if err := ix.Ensure(ctx); err != nil {
		return nil, err
	}
	h := ix.Handle()
	return retrieval.NewRetriever(m.opts.Embedder, h.Index, h.Name).Retrieve(ctx, query, limit)
}
