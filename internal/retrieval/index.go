package retrieval

import (
	"context"
	"fmt"
	"time"
)

// Metric is the similarity function an index ranks by.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricDot       Metric = "dot"
	MetricEuclidean Metric = "euclidean"
)

// ParseMetric accepts "cosine", "dot" or "euclidean".
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(s); m {
	case MetricCosine, MetricDot, MetricEuclidean:
		return m, nil
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// IndexSpec declares a named vector index. Cloud and Region are placement
// hints for hosted backends.
type IndexSpec struct {
	Name      string
	Dimension int
	Metric    Metric
	Cloud     string
	Region    string
}

// Record is one stored chunk: its id within the batch, its text, the batch
// it came from and its embedding.
type Record struct {
	ID        string
	Text      string
	Source    string
	Embedding []float32
	CreatedAt time.Time
}

// ScoredRecord is a Record with a similarity score attached. Higher scores
// are more similar for every metric.
type ScoredRecord struct {
	Record
	Score float32
}

// VectorIndex is the interface for vector storage and similarity search
// backends.
type VectorIndex interface {
	// Ensure creates the index if it does not exist. It reports whether the
	// index was created. An existing index with a different dimension is an
	// error wrapping ErrDimensionMismatch.
	Ensure(ctx context.Context, spec IndexSpec) (created bool, err error)

	// Upsert inserts or overwrites records by ID. Every embedding must have
	// the index dimension.
	Upsert(ctx context.Context, index string, records []Record) error

	// Query returns the topK records most similar to vector, best first.
	Query(ctx context.Context, index string, vector []float32, topK int) ([]ScoredRecord, error)

	// Count returns the number of records in the index.
	Count(ctx context.Context, index string) (int, error)

	// Drop deletes the index and its records. Dropping a missing index is
	// not an error.
	Drop(ctx context.Context, index string) error
}

func checkDimension(index string, dim int, records []Record) error {
	for _, r := range records {
		if len(r.Embedding) != dim {
			return fmt.Errorf("%w: record %s in %s has %d dimensions, index has %d",
				ErrDimensionMismatch, r.ID, index, len(r.Embedding), dim)
		}
	}
	return nil
}
