//go:build !cgo

package collection

import (
	"context"
	"fmt"

	"github.com/MereWhiplash/codex-arbiter/internal/types"
)

// SQLite is a stub for non-CGO builds
type SQLite struct{}

var errNoCGO = fmt.Errorf("SQLite collection requires CGO (build with CGO_ENABLED=1)")

// NewSQLite returns an error in non-CGO builds
func NewSQLite(path string, dimension int) (*SQLite, error) {
	return nil, errNoCGO
}

func (s *SQLite) AddBatch(ctx context.Context, chunks []types.Chunk, vectors [][]float32) error {
	return errNoCGO
}

func (s *SQLite) Search(ctx context.Context, vector []float32, k int) ([]types.ScoredChunk, error) {
	return nil, errNoCGO
}

func (s *SQLite) Get(ctx context.Context, id string) (types.Chunk, error) {
	return types.Chunk{}, errNoCGO
}

func (s *SQLite) ListByDocument(ctx context.Context, docID string) ([]types.Chunk, error) {
	return nil, errNoCGO
}

func (s *SQLite) RemoveDocument(ctx context.Context, docID string) (int, error) {
	return 0, errNoCGO
}

func (s *SQLite) Stats(ctx context.Context) (types.CollectionStats, error) {
	return types.CollectionStats{}, errNoCGO
}

func (s *SQLite) Close() error {
	return nil
}
