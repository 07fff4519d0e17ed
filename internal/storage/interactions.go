package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const interactionColumns = `id, created_at, session_id, question, standalone_question, answer, model, chunk_ids`

func (s *Store) SaveInteraction(i Interaction) error {
	ids := i.ChunkIDs
	if ids == nil {
		ids = []string{}
	}
	chunkIDs, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encoding chunk ids: %w", err)
	}
	createdAt := i.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.db.Exec(`
		INSERT INTO interactions (`+interactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, createdAt.UTC().Format(timeLayout), i.SessionID, i.Question,
		i.StandaloneQuestion, i.Answer, i.Model, string(chunkIDs),
	)
	return err
}

func (s *Store) GetInteraction(id string) (Interaction, error) {
	row := s.db.QueryRow(`SELECT `+interactionColumns+` FROM interactions WHERE id = ?`, id)
	i, err := scanInteraction(row)
	if err == sql.ErrNoRows {
		return Interaction{}, ErrNotFound
	}
	return i, err
}

// ListInteractions returns the most recent interactions first. A non-empty
// sessionID restricts the list to that session.
func (s *Store) ListInteractions(sessionID string, limit int) ([]Interaction, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if sessionID == "" {
		rows, err = s.db.Query(`SELECT `+interactionColumns+`
			FROM interactions ORDER BY created_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(`SELECT `+interactionColumns+`
			FROM interactions WHERE session_id = ? ORDER BY created_at DESC LIMIT ?`, sessionID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Interaction
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, i)
	}
	return results, rows.Err()
}

func (s *Store) DeleteInteraction(id string) error {
	res, err := s.db.Exec(`DELETE FROM interactions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInteraction(sc scanner) (Interaction, error) {
	var i Interaction
	var createdAt, chunkIDs string
	if err := sc.Scan(&i.ID, &createdAt, &i.SessionID, &i.Question, &i.StandaloneQuestion, &i.Answer, &i.Model, &chunkIDs); err != nil {
		return Interaction{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Interaction{}, fmt.Errorf("parsing created_at: %w", err)
	}
	i.CreatedAt = t
	if err := json.Unmarshal([]byte(chunkIDs), &i.ChunkIDs); err != nil {
		return Interaction{}, fmt.Errorf("decoding chunk ids for %s: %w", i.ID, err)
	}
	return i, nil
}
