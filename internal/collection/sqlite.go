//go:build cgo

// internal/collection/sqlite.go
package collection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/MereWhiplash/codex-arbiter/internal/types"
)

// SQLite implements Collection using SQLite with sqlite-vec. Chunk row
// and embedding are inserted in one transaction, so the searchable set
// and the stored set cannot diverge.
type SQLite struct {
	conn      *sql.DB
	dimension int
}

// NewSQLite creates a new SQLite collection.
func NewSQLite(path string, dimension int) (*SQLite, error) {
	sqlite_vec.Auto()

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLite{conn: conn, dimension: dimension}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			kind TEXT NOT NULL CHECK(kind IN ('analysis', 'data', 'plain_text')),
			text TEXT NOT NULL,
			ord INTEGER NOT NULL,
			attributes TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
		CREATE INDEX IF NOT EXISTS idx_chunks_kind ON chunks(kind);

		CREATE VIRTUAL TABLE IF NOT EXISTS chunk_embeddings USING vec0(
			chunk_id TEXT PRIMARY KEY,
			embedding FLOAT[%d]
		);
	`, s.dimension)
	_, err := s.conn.Exec(schema)
	return err
}

func (s *SQLite) Close() error {
	return s.conn.Close()
}

func (s *SQLite) AddBatch(ctx context.Context, chunks []types.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return &types.ConsistencyError{Op: "add batch", IndexSize: len(vectors), MetadataCount: len(chunks)}
	}
	for i, vec := range vectors {
		if len(vec) != s.dimension {
			return &types.DimensionMismatchError{Want: s.dimension, Got: len(vectors[i])}
		}
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, ch := range chunks {
		if err := ch.Kind.Validate(); err != nil {
			return err
		}

		attrs, err := json.Marshal(ch.Attributes)
		if err != nil {
			return fmt.Errorf("failed to marshal attributes: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO chunks (id, document_id, kind, text, ord, attributes) VALUES (?, ?, ?, ?, ?, ?)`,
			ch.ID, ch.SourceDocumentID, ch.Kind, ch.Text, ch.Order, string(attrs),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", ch.ID, err)
		}

		embJSON, err := json.Marshal(vectors[i])
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chunk_embeddings (chunk_id, embedding) VALUES (?, ?)`,
			ch.ID, string(embJSON),
		)
		if err != nil {
			return fmt.Errorf("failed to insert embedding for %s: %w", ch.ID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLite) Search(ctx context.Context, vector []float32, k int) ([]types.ScoredChunk, error) {
	if len(vector) != s.dimension {
		return nil, &types.DimensionMismatchError{Want: s.dimension, Got: len(vector)}
	}
	if k <= 0 {
		return nil, nil
	}

	embJSON, err := json.Marshal(vector)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	// vec_distance_L2 reports Euclidean distance; squared here so every
	// backend scores on the same scale.
	rows, err := s.conn.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.kind, c.text, c.ord, c.attributes,
		       vec_distance_L2(e.embedding, ?) AS dist
		FROM chunks c
		JOIN chunk_embeddings e ON c.id = e.chunk_id
		ORDER BY dist, c.id
		LIMIT ?
	`, string(embJSON), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []types.ScoredChunk
	for rows.Next() {
		var ch types.Chunk
		var kind, attrs string
		var dist float64
		if err := rows.Scan(&ch.ID, &ch.SourceDocumentID, &kind, &ch.Text, &ch.Order, &attrs, &dist); err != nil {
			return nil, err
		}
		ch.Kind = types.ChunkKind(kind)
		if err := unmarshalAttrs(attrs, &ch); err != nil {
			return nil, err
		}
		results = append(results, types.ScoredChunk{Chunk: ch, Distance: dist * dist})
	}
	return results, rows.Err()
}

func (s *SQLite) Get(ctx context.Context, id string) (types.Chunk, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, document_id, kind, text, ord, attributes FROM chunks WHERE id = ?`, id)

	ch, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return types.Chunk{}, types.ErrNotFound
	}
	return ch, err
}

func (s *SQLite) ListByDocument(ctx context.Context, docID string) ([]types.Chunk, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, document_id, kind, text, ord, attributes FROM chunks WHERE document_id = ? ORDER BY ord`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []types.Chunk
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, ch)
	}
	return chunks, rows.Err()
}

func (s *SQLite) RemoveDocument(ctx context.Context, docID string) (int, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM chunk_embeddings WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)`, docID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete embeddings: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, docID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(removed), nil
}

func (s *SQLite) Stats(ctx context.Context) (types.CollectionStats, error) {
	var stats types.CollectionStats
	stats.Driver = "sqlite"
	stats.Dimension = s.dimension

	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT document_id) FROM chunks`).
		Scan(&stats.Chunks, &stats.Documents)
	if err != nil {
		return types.CollectionStats{}, err
	}

	var embeddings int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunk_embeddings`).Scan(&embeddings); err != nil {
		return types.CollectionStats{}, err
	}
	if embeddings != stats.Chunks {
		return types.CollectionStats{}, &types.ConsistencyError{Op: "stats", IndexSize: embeddings, MetadataCount: stats.Chunks}
	}

	return stats, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChunk(row rowScanner) (types.Chunk, error) {
	var ch types.Chunk
	var kind string
	var attrs sql.NullString
	if err := row.Scan(&ch.ID, &ch.SourceDocumentID, &kind, &ch.Text, &ch.Order, &attrs); err != nil {
		return types.Chunk{}, err
	}
	ch.Kind = types.ChunkKind(kind)
	if attrs.Valid {
		if err := unmarshalAttrs(attrs.String, &ch); err != nil {
			return types.Chunk{}, err
		}
	}
	return ch, nil
}

func unmarshalAttrs(attrs string, ch *types.Chunk) error {
	if attrs == "" || attrs == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(attrs), &ch.Attributes); err != nil {
		return fmt.Errorf("failed to parse attributes for %s: %w", ch.ID, err)
	}
	return nil
}
