package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Compile-time check that QdrantIndex implements VectorIndex.
var _ VectorIndex = (*QdrantIndex)(nil)

// recordNamespace derives stable point UUIDs from record IDs; Qdrant only
// accepts unsigned integers and UUIDs as point IDs.
var recordNamespace = uuid.MustParse("6f1c5a0e-2f43-4b8e-9a8c-3d1f0b7e5c21")

// QdrantIndex stores records as points in Qdrant collections over the REST
// API. Each index is one collection.
type QdrantIndex struct {
	baseURL string
	apiKey  string
	client  *http.Client

	mu      sync.Mutex
	metrics map[string]Metric
}

func NewQdrantIndex(url, apiKey string) *QdrantIndex {
	return &QdrantIndex{
		baseURL: strings.TrimRight(url, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout:   20 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		metrics: make(map[string]Metric),
	}
}

type qdrantEnvelope[T any] struct {
	Status any `json:"status"`
	Result T   `json:"result"`
}

type qdrantCollectionInfo struct {
	Config struct {
		Params struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		} `json:"params"`
	} `json:"config"`
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload"`
}

type qdrantScoredPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
	Vector  []float32      `json:"vector"`
}

// qdrantStatusError is a non-2xx response from Qdrant.
type qdrantStatusError struct {
	Code int
	Body string
}

func (e *qdrantStatusError) Error() string {
	return fmt.Sprintf("qdrant status %d: %s", e.Code, e.Body)
}

func isNotFound(err error) bool {
	var se *qdrantStatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

func qdrantDistance(m Metric) string {
	switch m {
	case MetricDot:
		return "Dot"
	case MetricEuclidean:
		return "Euclid"
	default:
		return "Cosine"
	}
}

func metricFromDistance(d string) Metric {
	switch d {
	case "Dot":
		return MetricDot
	case "Euclid":
		return MetricEuclidean
	default:
		return MetricCosine
	}
}

func (q *QdrantIndex) collection(ctx context.Context, name string) (qdrantCollectionInfo, error) {
	var env qdrantEnvelope[qdrantCollectionInfo]
	data, err := q.doRequest(ctx, http.MethodGet, "/collections/"+name, nil)
	if err != nil {
		if isNotFound(err) {
			return env.Result, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
		}
		return env.Result, unavailable(name, "describe", err)
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env.Result, unavailable(name, "describe", fmt.Errorf("decoding collection info: %w", err))
	}
	q.mu.Lock()
	q.metrics[name] = metricFromDistance(env.Result.Config.Params.Vectors.Distance)
	q.mu.Unlock()
	return env.Result, nil
}

func (q *QdrantIndex) Ensure(ctx context.Context, spec IndexSpec) (bool, error) {
	info, err := q.collection(ctx, spec.Name)
	if err == nil {
		if size := info.Config.Params.Vectors.Size; size != spec.Dimension {
			return false, fmt.Errorf("%w: collection %s exists with dimension %d, want %d",
				ErrDimensionMismatch, spec.Name, size, spec.Dimension)
		}
		return false, nil
	}
	if !errors.Is(err, ErrIndexNotFound) {
		return false, err
	}

	req := map[string]any{
		"vectors": map[string]any{
			"size":     spec.Dimension,
			"distance": qdrantDistance(spec.Metric),
		},
	}
	if _, err := q.doRequest(ctx, http.MethodPut, "/collections/"+spec.Name, req); err != nil {
		return false, unavailable(spec.Name, "create", err)
	}
	metric := spec.Metric
	if metric == "" {
		metric = MetricCosine
	}
	q.mu.Lock()
	q.metrics[spec.Name] = metric
	q.mu.Unlock()
	return true, nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, index string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	info, err := q.collection(ctx, index)
	if err != nil {
		return err
	}
	if err := checkDimension(index, info.Config.Params.Vectors.Size, records); err != nil {
		return err
	}

	points := make([]qdrantPoint, 0, len(records))
	for _, r := range records {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		points = append(points, qdrantPoint{
			ID:     pointID(r.ID),
			Vector: r.Embedding,
			Payload: map[string]any{
				"record_id":  r.ID,
				"text":       r.Text,
				"source":     r.Source,
				"created_at": createdAt.UTC().Format(time.RFC3339Nano),
			},
		})
	}
	req := map[string]any{"points": points}
	if _, err := q.doRequest(ctx, http.MethodPut, "/collections/"+index+"/points?wait=true", req); err != nil {
		return unavailable(index, "upsert", err)
	}
	return nil
}

func (q *QdrantIndex) Query(ctx context.Context, index string, vector []float32, topK int) ([]ScoredRecord, error) {
	if topK <= 0 {
		return nil, nil
	}
	q.mu.Lock()
	metric, ok := q.metrics[index]
	q.mu.Unlock()
	if !ok {
		if _, err := q.collection(ctx, index); err != nil {
			return nil, err
		}
		q.mu.Lock()
		metric = q.metrics[index]
		q.mu.Unlock()
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
		"with_vector":  true,
	}
	data, err := q.doRequest(ctx, http.MethodPost, "/collections/"+index+"/points/search", req)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, index)
		}
		return nil, unavailable(index, "query", err)
	}
	var env qdrantEnvelope[[]qdrantScoredPoint]
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, unavailable(index, "query", fmt.Errorf("decoding search result: %w", err))
	}

	results := make([]ScoredRecord, 0, len(env.Result))
	for _, p := range env.Result {
		r := Record{
			ID:        payloadString(p.Payload, "record_id"),
			Text:      payloadString(p.Payload, "text"),
			Source:    payloadString(p.Payload, "source"),
			Embedding: p.Vector,
		}
		if r.ID == "" {
			r.ID = fmt.Sprintf("%v", p.ID)
		}
		if t, err := time.Parse(time.RFC3339Nano, payloadString(p.Payload, "created_at")); err == nil {
			r.CreatedAt = t
		}
		score := float32(p.Score)
		if metric == MetricEuclidean {
			score = 1 / (1 + score)
		}
		results = append(results, ScoredRecord{Record: r, Score: score})
	}
	sortByScore(results)
	return results, nil
}

func (q *QdrantIndex) Count(ctx context.Context, index string) (int, error) {
	data, err := q.doRequest(ctx, http.MethodPost, "/collections/"+index+"/points/count", map[string]any{"exact": true})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("%w: %s", ErrIndexNotFound, index)
		}
		return 0, unavailable(index, "count", err)
	}
	var env qdrantEnvelope[struct {
		Count int `json:"count"`
	}]
	if err := json.Unmarshal(data, &env); err != nil {
		return 0, unavailable(index, "count", fmt.Errorf("decoding count: %w", err))
	}
	return env.Result.Count, nil
}

func (q *QdrantIndex) Drop(ctx context.Context, index string) error {
	_, err := q.doRequest(ctx, http.MethodDelete, "/collections/"+index, nil)
	if err != nil && !isNotFound(err) {
		return unavailable(index, "drop", err)
	}
	q.mu.Lock()
	delete(q.metrics, index)
	q.mu.Unlock()
	return nil
}

func (q *QdrantIndex) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		buf = bytes.NewBuffer(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &qdrantStatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

func pointID(recordID string) string {
	return uuid.NewSHA1(recordNamespace, []byte(recordID)).String()
}

func payloadString(p map[string]any, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}
