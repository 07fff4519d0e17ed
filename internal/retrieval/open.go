package retrieval

import (
	"context"
	"database/sql"
	"fmt"
)

// Options selects and configures a vector index backend.
type Options struct {
	Backend string // "sqlite", "qdrant" or "pgvector"
	URL     string
	APIKey  string

	// DB is the local database used by the sqlite backend.
	DB *sql.DB
}

// Open returns the configured backend and a function releasing its
// resources.
func Open(ctx context.Context, opts Options) (VectorIndex, func() error, error) {
	noop := func() error { return nil }
	switch opts.Backend {
	case "", "sqlite":
		if opts.DB == nil {
			return nil, nil, fmt.Errorf("sqlite index: no database")
		}
		return NewSQLiteIndex(opts.DB), noop, nil
	case "qdrant":
		return NewQdrantIndex(opts.URL, opts.APIKey), noop, nil
	case "pgvector":
		idx, err := OpenPgvector(ctx, opts.URL)
		if err != nil {
			return nil, nil, err
		}
		return idx, idx.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown index backend %q", opts.Backend)
}
