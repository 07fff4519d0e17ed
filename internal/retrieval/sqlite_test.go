package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kalambet/askpdf/internal/storage"
)

func openTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewSQLiteIndex(store.DB())
}

func ensure(t *testing.T, idx VectorIndex, name string, dim int, m Metric) {
	t.Helper()
	if _, err := idx.Ensure(context.Background(), IndexSpec{Name: name, Dimension: dim, Metric: m}); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
}

func TestSQLiteEnsure_Idempotent(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	spec := IndexSpec{Name: "chatbot-1", Dimension: 3, Metric: MetricCosine, Cloud: "gcp", Region: "us-central1"}

	created, err := idx.Ensure(ctx, spec)
	if err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	if !created {
		t.Error("first Ensure should create the index")
	}
	created, err = idx.Ensure(ctx, spec)
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if created {
		t.Error("second Ensure should find the existing index")
	}
}

func TestSQLiteEnsure_DimensionMismatch(t *testing.T) {
	idx := openTestIndex(t)
	ensure(t, idx, "docs", 3, MetricCosine)

	_, err := idx.Ensure(context.Background(), IndexSpec{Name: "docs", Dimension: 4})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestSQLiteUpsert_OverwritesByID(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	ensure(t, idx, "docs", 2, MetricCosine)

	if err := idx.Upsert(ctx, "docs", []Record{{ID: "b1-0", Text: "old", Embedding: []float32{1, 0}}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := idx.Upsert(ctx, "docs", []Record{{ID: "b1-0", Text: "new", Embedding: []float32{0, 1}}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	n, err := idx.Count(ctx, "docs")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	got, err := idx.Query(ctx, "docs", []float32{0, 1}, 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].Text != "new" {
		t.Errorf("got %+v, want overwritten record", got)
	}
}

func TestSQLiteQuery_CreatedAtTrailingZeros(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	ensure(t, idx, "docs", 2, MetricCosine)

	at := time.Date(2026, 10, 18, 0, 8, 11, 680000000, time.UTC)
	if err := idx.Upsert(ctx, "docs", []Record{{ID: "id_0", Text: "a", Embedding: []float32{1, 0}, CreatedAt: at}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err := idx.Query(ctx, "docs", []float32{1, 0}, 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || !got[0].CreatedAt.Equal(at) {
		t.Errorf("got %+v, want CreatedAt %v", got, at)
	}
}

func TestSQLiteUpsert_RejectsWrongDimension(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	ensure(t, idx, "docs", 3, MetricCosine)

	err := idx.Upsert(ctx, "docs", []Record{
		{ID: "a", Embedding: []float32{1, 2, 3}},
		{ID: "b", Embedding: []float32{1, 2}},
	})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if n, _ := idx.Count(ctx, "docs"); n != 0 {
		t.Errorf("Count = %d, want 0 after rejected upsert", n)
	}
}

func TestSQLiteUpsert_MissingIndex(t *testing.T) {
	idx := openTestIndex(t)
	err := idx.Upsert(context.Background(), "nope", []Record{{ID: "a", Embedding: []float32{1}}})
	if !errors.Is(err, ErrIndexNotFound) {
		t.Fatalf("expected ErrIndexNotFound, got %v", err)
	}
}

func TestSQLiteQuery_OrdersByMetric(t *testing.T) {
	records := []Record{
		{ID: "near", Text: "near", Embedding: []float32{1, 0.1}},
		{ID: "far", Text: "far", Embedding: []float32{-1, 0}},
		{ID: "long", Text: "long", Embedding: []float32{10, 10}},
	}
	tests := []struct {
		metric Metric
		want   []string
	}{
		{MetricCosine, []string{"near", "long", "far"}},
		{MetricDot, []string{"long", "near", "far"}},
		{MetricEuclidean, []string{"near", "far", "long"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.metric), func(t *testing.T) {
			idx := openTestIndex(t)
			ctx := context.Background()
			ensure(t, idx, "docs", 2, tt.metric)
			if err := idx.Upsert(ctx, "docs", records); err != nil {
				t.Fatalf("Upsert: %v", err)
			}
			got, err := idx.Query(ctx, "docs", []float32{1, 0}, 3)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("got %d results, want 3", len(got))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("result %d = %s, want %s", i, got[i].ID, id)
				}
			}
			for i := 1; i < len(got); i++ {
				if got[i].Score > got[i-1].Score {
					t.Errorf("scores not descending: %v", got)
				}
			}
		})
	}
}

func TestSQLiteQuery_TopK(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	ensure(t, idx, "docs", 2, MetricCosine)

	var records []Record
	for i := range 20 {
		records = append(records, Record{
			ID:        fmt.Sprintf("r-%02d", i),
			Text:      fmt.Sprintf("chunk %d", i),
			Source:    "batch",
			Embedding: []float32{1, float32(i)},
		})
	}
	if err := idx.Upsert(ctx, "docs", records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := idx.Query(ctx, "docs", []float32{1, 0}, 4)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := []string{"r-00", "r-01", "r-02", "r-03"}
	if len(got) != len(want) {
		t.Fatalf("got %d results, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("result %d = %s, want %s", i, got[i].ID, want[i])
		}
		if got[i].Source != "batch" || got[i].Text == "" {
			t.Errorf("result %d missing fields: %+v", i, got[i])
		}
	}
}

func TestSQLiteQuery_EmptyIndex(t *testing.T) {
	idx := openTestIndex(t)
	ensure(t, idx, "docs", 2, MetricCosine)

	got, err := idx.Query(context.Background(), "docs", []float32{1, 0}, 4)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d results from an empty index", len(got))
	}
}

func TestSQLiteQuery_DimensionMismatch(t *testing.T) {
	idx := openTestIndex(t)
	ensure(t, idx, "docs", 2, MetricCosine)

	_, err := idx.Query(context.Background(), "docs", []float32{1, 0, 0}, 4)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestSQLiteDrop(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	ensure(t, idx, "docs", 2, MetricCosine)
	if err := idx.Upsert(ctx, "docs", []Record{{ID: "a", Embedding: []float32{1, 0}}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := idx.Drop(ctx, "docs"); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if _, err := idx.Count(ctx, "docs"); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("Count after Drop: expected ErrIndexNotFound, got %v", err)
	}
	if err := idx.Drop(ctx, "docs"); err != nil {
		t.Errorf("dropping a missing index: %v", err)
	}

	created, err := idx.Ensure(ctx, IndexSpec{Name: "docs", Dimension: 2})
	if err != nil || !created {
		t.Fatalf("re-Ensure after Drop: created=%v err=%v", created, err)
	}
	if n, _ := idx.Count(ctx, "docs"); n != 0 {
		t.Errorf("Count = %d after recreate, want 0", n)
	}
}

func TestRetriever_Retrieve(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	ensure(t, idx, "docs", 2, MetricCosine)
	if err := idx.Upsert(ctx, "docs", []Record{
		{ID: "b-0", Text: "about cats", Source: "b", Embedding: []float32{1, 0}},
		{ID: "b-1", Text: "about dogs", Source: "b", Embedding: []float32{0, 1}},
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
			if text == "dogs?" {
				return []float32{0.1, 1}, nil
			}
			return []float32{1, 0.1}, nil
		},
	}
	r := NewRetriever(NewEmbedder(mock, "m"), idx, "docs")

	chunks, err := r.Retrieve(ctx, "dogs?", 1)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Text != "about dogs" {
		t.Errorf("got %+v, want the dogs chunk", chunks)
	}
}
