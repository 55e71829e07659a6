// internal/collection/collection.go
// Package collection pairs a vector index with a chunk metadata store
// behind one interface, so the two can never be mutated independently.
// Every backend upholds the same contract: a chunk is searchable if and
// only if its metadata is stored, and the text returned for a hit is
// the exact text that was embedded.
package collection

import (
	"context"
	"fmt"

	"github.com/MereWhiplash/codex-arbiter/internal/types"
)

// Collection is the paired index-plus-metadata store for one corpus.
type Collection interface {
	// AddBatch inserts chunks with their vectors, all or nothing. The
	// two slices are parallel; chunk i was embedded as vectors[i].
	AddBatch(ctx context.Context, chunks []types.Chunk, vectors [][]float32) error
	// Search returns the k nearest chunks by squared L2 distance,
	// ascending, ties broken by chunk ID.
	Search(ctx context.Context, vector []float32, k int) ([]types.ScoredChunk, error)
	// Get returns one chunk by ID, or types.ErrNotFound.
	Get(ctx context.Context, id string) (types.Chunk, error)
	// ListByDocument returns a document's chunks in chunk order.
	ListByDocument(ctx context.Context, docID string) ([]types.Chunk, error)
	// RemoveDocument drops every chunk of a document and returns how
	// many were removed. Removing an unknown document removes zero.
	RemoveDocument(ctx context.Context, docID string) (int, error)
	// Stats reports live collection state.
	Stats(ctx context.Context) (types.CollectionStats, error)
	Close() error
}

// Config holds collection configuration.
type Config struct {
	Driver    string // "local", "sqlite", "postgres", "mongodb"
	Dimension int

	// Local
	LocalDir string

	// SQLite
	SQLitePath string

	// Postgres
	PostgresDSN string

	// MongoDB
	MongoDBURI      string
	MongoDBDatabase string
}

// New creates a Collection implementation based on config.
func New(ctx context.Context, cfg Config) (Collection, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("vector dimension is required")
	}

	switch cfg.Driver {
	case "local":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("local directory is required")
		}
		return OpenLocal(cfg.LocalDir, cfg.Dimension)

	case "sqlite":
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite path is required")
		}
		return NewSQLite(cfg.SQLitePath, cfg.Dimension)

	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres DSN is required")
		}
		return NewPostgres(ctx, cfg.PostgresDSN, cfg.Dimension)

	case "mongodb":
		if cfg.MongoDBURI == "" {
			return nil, fmt.Errorf("mongodb URI is required")
		}
		if cfg.MongoDBDatabase == "" {
			cfg.MongoDBDatabase = "arbiter"
		}
		return NewMongoDB(ctx, cfg.MongoDBURI, cfg.MongoDBDatabase, cfg.Dimension)

	default:
		return nil, fmt.Errorf("unknown collection driver: %s", cfg.Driver)
	}
}
