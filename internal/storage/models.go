package storage

import (
	"errors"
	"time"
)

// timeLayout is a fixed-width RFC 3339 layout so that stored timestamps sort
// lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document records one ingested file.
type Document struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Pages      int       `json:"pages"`
	Characters int       `json:"characters"`
	Chunks     int       `json:"chunks"` // chunks produced by the whole batch
	IndexName  string    `json:"index_name"`
	BatchID    string    `json:"batch_id"` // shared by every file uploaded together
	CreatedAt  time.Time `json:"created_at"`
}

// Interaction records one answered question.
type Interaction struct {
	ID                 string    `json:"id"`
	CreatedAt          time.Time `json:"created_at"`
	SessionID          string    `json:"session_id"`
	Question           string    `json:"question"`
	StandaloneQuestion string    `json:"standalone_question,omitempty"`
	Answer             string    `json:"answer"`
	Model              string    `json:"model"`
	ChunkIDs           []string  `json:"chunk_ids"`
}
