package retrieval

import (
	"context"
	"time"
)

// ContextChunk is a retrieved context fragment with its similarity score.
type ContextChunk struct {
	ID        string
	Source    string
	Text      string
	Score     float32
	CreatedAt time.Time
}

// Retriever combines embedding and vector search over one named index.
type Retriever struct {
	embedder *Embedder
	index    VectorIndex
	name     string
}

// NewRetriever creates a Retriever that queries the index called name.
func NewRetriever(embedder *Embedder, index VectorIndex, name string) *Retriever {
	return &Retriever{embedder: embedder, index: index, name: name}
}

// IndexName returns the name of the index the retriever is bound to.
func (r *Retriever) IndexName() string { return r.name }

// Retrieve embeds the query and returns the top-K most similar context
// chunks, best first.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]ContextChunk, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := r.index.Query(ctx, r.name, vec, topK)
	if err != nil {
		return nil, err
	}
	return scoredToChunks(scored), nil
}

func scoredToChunks(scored []ScoredRecord) []ContextChunk {
	chunks := make([]ContextChunk, len(scored))
	for i, s := range scored {
		chunks[i] = ContextChunk{
			ID:        s.ID,
			Source:    s.Source,
			Text:      s.Text,
			Score:     s.Score,
			CreatedAt: s.CreatedAt,
		}
	}
	return chunks
}
