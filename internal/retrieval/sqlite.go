package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Compile-time check that SQLiteIndex implements VectorIndex.
var _ VectorIndex = (*SQLiteIndex)(nil)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteIndex provides vector storage and brute-force similarity search
// backed by SQLite. This is the default implementation of VectorIndex.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex wraps an existing *sql.DB for vector operations.
// The vector_indexes and index_records tables must already exist (created
// via storage migrations).
func NewSQLiteIndex(db *sql.DB) *SQLiteIndex {
	return &SQLiteIndex{db: db}
}

type indexMeta struct {
	dimension int
	metric    Metric
}

func (s *SQLiteIndex) meta(ctx context.Context, index string) (indexMeta, error) {
	var m indexMeta
	var metric string
	err := s.db.QueryRowContext(ctx, `SELECT dimension, metric FROM vector_indexes WHERE name = ?`, index).
		Scan(&m.dimension, &metric)
	if errors.Is(err, sql.ErrNoRows) {
		return m, fmt.Errorf("%w: %s", ErrIndexNotFound, index)
	}
	if err != nil {
		return m, unavailable(index, "describe", err)
	}
	m.metric = Metric(metric)
	return m, nil
}

func (s *SQLiteIndex) Ensure(ctx context.Context, spec IndexSpec) (bool, error) {
	if spec.Dimension <= 0 {
		return false, fmt.Errorf("index %s: dimension must be positive, got %d", spec.Name, spec.Dimension)
	}
	m, err := s.meta(ctx, spec.Name)
	if err == nil {
		if m.dimension != spec.Dimension {
			return false, fmt.Errorf("%w: index %s exists with dimension %d, want %d",
				ErrDimensionMismatch, spec.Name, m.dimension, spec.Dimension)
		}
		return false, nil
	}
	if !errors.Is(err, ErrIndexNotFound) {
		return false, err
	}

	metric := spec.Metric
	if metric == "" {
		metric = MetricCosine
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO vector_indexes (name, dimension, metric, cloud, region, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO NOTHING`,
		spec.Name, spec.Dimension, string(metric), spec.Cloud, spec.Region, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return false, unavailable(spec.Name, "create", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable(spec.Name, "create", err)
	}
	return n > 0, nil
}

// Upsert writes all records in one transaction, replacing rows that share
// an ID.
func (s *SQLiteIndex) Upsert(ctx context.Context, index string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	m, err := s.meta(ctx, index)
	if err != nil {
		return err
	}
	if err := checkDimension(index, m.dimension, records); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(index, "upsert", fmt.Errorf("beginning transaction: %w", err))
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO index_records (index_name, id, text_chunk, source, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(index_name, id) DO UPDATE SET
			text_chunk = excluded.text_chunk,
			source = excluded.source,
			embedding = excluded.embedding,
			created_at = excluded.created_at`)
	if err != nil {
		tx.Rollback()
		return unavailable(index, "upsert", fmt.Errorf("preparing statement: %w", err))
	}
	defer stmt.Close()

	for _, r := range records {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, index, r.ID, r.Text, r.Source, encodeFloat32s(r.Embedding), createdAt.UTC().Format(timeLayout)); err != nil {
			tx.Rollback()
			return unavailable(index, "upsert", fmt.Errorf("writing record %s: %w", r.ID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable(index, "upsert", err)
	}
	return nil
}

// Query scans every embedding in the index, keeping the best topK in a
// min-heap, then loads text only for the winners.
func (s *SQLiteIndex) Query(ctx context.Context, index string, vector []float32, topK int) ([]ScoredRecord, error) {
	if topK <= 0 {
		return nil, nil
	}
	m, err := s.meta(ctx, index)
	if err != nil {
		return nil, err
	}
	if len(vector) != m.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index %s has %d",
			ErrDimensionMismatch, len(vector), index, m.dimension)
	}
	score := scorer(m.metric, vector)

	// Phase 1: scan only id + embedding to find top-K candidates.
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM index_records WHERE index_name = ?`, index)
	if err != nil {
		return nil, unavailable(index, "query", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		sc := score(buf)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: sc})
		} else if sc > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: sc}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(index, "query", err)
	}
	rows.Close()

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full records only for the top-K IDs.
	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	args := make([]any, 0, len(topIDs)+1)
	args = append(args, index)
	for _, id := range topIDs {
		args = append(args, id)
	}
	fullRows, err := s.db.QueryContext(ctx, `SELECT id, text_chunk, source, embedding, created_at
		FROM index_records WHERE index_name = ? AND id IN (?`+strings.Repeat(",?", len(topIDs)-1)+`)`, args...)
	if err != nil {
		return nil, unavailable(index, "query", fmt.Errorf("fetching top-K records: %w", err))
	}
	defer fullRows.Close()

	results := make([]ScoredRecord, 0, len(topIDs))
	for fullRows.Next() {
		var r Record
		var blob []byte
		var createdAt string
		if err := fullRows.Scan(&r.ID, &r.Text, &r.Source, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning full record: %w", err)
		}
		r.Embedding, err = decodeFloat32sInto(nil, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", r.ID, err)
		}
		results = append(results, ScoredRecord{Record: r, Score: scores[r.ID]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, unavailable(index, "query", err)
	}

	// The IN query doesn't preserve order.
	sortByScore(results)
	return results, nil
}

// sortByScore orders by score descending, breaking ties by ID.
func sortByScore(results []ScoredRecord) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}

func (s *SQLiteIndex) Count(ctx context.Context, index string) (int, error) {
	if _, err := s.meta(ctx, index); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM index_records WHERE index_name = ?`, index).Scan(&n); err != nil {
		return 0, unavailable(index, "count", err)
	}
	return n, nil
}

func (s *SQLiteIndex) Drop(ctx context.Context, index string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(index, "drop", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM index_records WHERE index_name = ?`, index); err != nil {
		tx.Rollback()
		return unavailable(index, "drop", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vector_indexes WHERE name = ?`, index); err != nil {
		tx.Rollback()
		return unavailable(index, "drop", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable(index, "drop", err)
	}
	return nil
}
