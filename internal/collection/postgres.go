// internal/collection/postgres.go
package collection

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/MereWhiplash/codex-arbiter/internal/types"
)

// Postgres implements Collection using PostgreSQL with pgvector. The
// chunk row and its embedding land in one transaction; the embedding
// row cascades on chunk deletion.
type Postgres struct {
	pool      *pgxpool.Pool
	dimension int
}

// NewPostgres creates a new Postgres collection.
func NewPostgres(ctx context.Context, dsn string, dimension int) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	p := &Postgres{pool: pool, dimension: dimension}
	if err := p.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return p, nil
}

func (p *Postgres) initSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			kind TEXT NOT NULL CHECK(kind IN ('analysis', 'data', 'plain_text')),
			text TEXT NOT NULL,
			ord INTEGER NOT NULL,
			attributes JSONB
		);

		CREATE TABLE IF NOT EXISTS chunk_embeddings (
			chunk_id TEXT PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
			embedding vector(%d)
		);

		CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
		CREATE INDEX IF NOT EXISTS idx_chunks_kind ON chunks(kind);

		CREATE INDEX IF NOT EXISTS idx_embeddings_vector
		ON chunk_embeddings USING hnsw (embedding vector_l2_ops);
	`, p.dimension)
	_, err := p.pool.Exec(ctx, schema)
	return err
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) AddBatch(ctx context.Context, chunks []types.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return &types.ConsistencyError{Op: "add batch", IndexSize: len(vectors), MetadataCount: len(chunks)}
	}
	for _, vec := range vectors {
		if len(vec) != p.dimension {
			return &types.DimensionMismatchError{Want: p.dimension, Got: len(vec)}
		}
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i, ch := range chunks {
		if err := ch.Kind.Validate(); err != nil {
			return err
		}

		attrs, err := json.Marshal(ch.Attributes)
		if err != nil {
			return fmt.Errorf("failed to marshal attributes: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO chunks (id, document_id, kind, text, ord, attributes)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			ch.ID, ch.SourceDocumentID, ch.Kind, ch.Text, ch.Order, attrs,
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", ch.ID, err)
		}

		vec := pgvector.NewVector(vectors[i])
		_, err = tx.Exec(ctx,
			`INSERT INTO chunk_embeddings (chunk_id, embedding) VALUES ($1, $2)`,
			ch.ID, vec,
		)
		if err != nil {
			return fmt.Errorf("failed to insert embedding for %s: %w", ch.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (p *Postgres) Search(ctx context.Context, vector []float32, k int) ([]types.ScoredChunk, error) {
	if len(vector) != p.dimension {
		return nil, &types.DimensionMismatchError{Want: p.dimension, Got: len(vector)}
	}
	if k <= 0 {
		return nil, nil
	}

	vec := pgvector.NewVector(vector)

	// <-> is Euclidean distance; squared below for score parity with
	// the other backends.
	rows, err := p.pool.Query(ctx, `
		SELECT c.id, c.document_id, c.kind, c.text, c.ord, c.attributes,
		       e.embedding <-> $1 AS dist
		FROM chunks c
		JOIN chunk_embeddings e ON c.id = e.chunk_id
		ORDER BY dist, c.id
		LIMIT $2
	`, vec, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []types.ScoredChunk
	for rows.Next() {
		var ch types.Chunk
		var kind string
		var attrs []byte
		var dist float64
		if err := rows.Scan(&ch.ID, &ch.SourceDocumentID, &kind, &ch.Text, &ch.Order, &attrs, &dist); err != nil {
			return nil, err
		}
		ch.Kind = types.ChunkKind(kind)
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &ch.Attributes); err != nil {
				return nil, fmt.Errorf("failed to parse attributes for %s: %w", ch.ID, err)
			}
		}
		results = append(results, types.ScoredChunk{Chunk: ch, Distance: dist * dist})
	}
	return results, rows.Err()
}

func (p *Postgres) Get(ctx context.Context, id string) (types.Chunk, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, document_id, kind, text, ord, attributes FROM chunks WHERE id = $1`, id)

	ch, err := p.scanChunk(row)
	if err == pgx.ErrNoRows {
		return types.Chunk{}, types.ErrNotFound
	}
	return ch, err
}

func (p *Postgres) ListByDocument(ctx context.Context, docID string) ([]types.Chunk, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, document_id, kind, text, ord, attributes FROM chunks WHERE document_id = $1 ORDER BY ord`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []types.Chunk
	for rows.Next() {
		ch, err := p.scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, ch)
	}
	return chunks, rows.Err()
}

func (p *Postgres) RemoveDocument(ctx context.Context, docID string) (int, error) {
	result, err := p.pool.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, docID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return int(result.RowsAffected()), nil
}

func (p *Postgres) Stats(ctx context.Context) (types.CollectionStats, error) {
	var stats types.CollectionStats
	stats.Driver = "postgres"
	stats.Dimension = p.dimension

	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT document_id) FROM chunks`).
		Scan(&stats.Chunks, &stats.Documents)
	if err != nil {
		return types.CollectionStats{}, err
	}

	var embeddings int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunk_embeddings`).Scan(&embeddings); err != nil {
		return types.CollectionStats{}, err
	}
	if embeddings != stats.Chunks {
		return types.CollectionStats{}, &types.ConsistencyError{Op: "stats", IndexSize: embeddings, MetadataCount: stats.Chunks}
	}

	return stats, nil
}

func (p *Postgres) scanChunk(row pgx.Row) (types.Chunk, error) {
	var ch types.Chunk
	var kind string
	var attrs []byte
	if err := row.Scan(&ch.ID, &ch.SourceDocumentID, &kind, &ch.Text, &ch.Order, &attrs); err != nil {
		return types.Chunk{}, err
	}
	ch.Kind = types.ChunkKind(kind)
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &ch.Attributes); err != nil {
			return types.Chunk{}, fmt.Errorf("failed to parse attributes for %s: %w", ch.ID, err)
		}
	}
	return ch, nil
}
