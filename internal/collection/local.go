// internal/collection/local.go
package collection

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/MereWhiplash/codex-arbiter/internal/index"
	"github.com/MereWhiplash/codex-arbiter/internal/types"
)

const (
	indexFile    = "chunks.idx"
	metadataFile = "chunks.json"
)

// Local implements Collection with an in-process flat index and a JSON
// metadata file, both persisted under one directory. A single write
// lock serializes mutations; searches run concurrently under the read
// lock and block while a mutation is rebuilding the index.
type Local struct {
	dir string

	mu     sync.RWMutex
	idx    *index.Flat
	chunks map[string]types.Chunk
	// failed is set when index and metadata are observed to diverge.
	// Once set, every mutation returns it until the collection is
	// rebuilt from raw documents.
	failed error
}

// OpenLocal opens or creates a local collection in dir. An existing
// collection is verified on open: a divergence between the persisted
// index and metadata fails the open rather than serving wrong answers.
func OpenLocal(dir string, dimension int) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create collection directory: %w", err)
	}

	c := &Local{
		dir:    dir,
		idx:    index.New(dimension),
		chunks: make(map[string]types.Chunk),
	}

	idxPath := filepath.Join(dir, indexFile)
	metaPath := filepath.Join(dir, metadataFile)

	idxExists := fileExists(idxPath)
	metaExists := fileExists(metaPath)
	if idxExists != metaExists {
		return nil, &types.ConsistencyError{Op: "open", IndexSize: boolToInt(idxExists), MetadataCount: boolToInt(metaExists)}
	}
	if !idxExists {
		return c, nil
	}

	idx, err := index.Load(idxPath)
	if err != nil {
		return nil, err
	}
	if idx.Dim() != dimension {
		return nil, &types.DimensionMismatchError{Want: dimension, Got: idx.Dim()}
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var stored []types.Chunk
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}

	chunks := make(map[string]types.Chunk, len(stored))
	for _, ch := range stored {
		chunks[ch.ID] = ch
	}

	if idx.Size() != len(chunks) {
		return nil, &types.ConsistencyError{Op: "open", IndexSize: idx.Size(), MetadataCount: len(chunks)}
	}
	for _, id := range idx.IDs() {
		if _, ok := chunks[id]; !ok {
			return nil, &types.ConsistencyError{Op: "open missing metadata for " + id, IndexSize: idx.Size(), MetadataCount: len(chunks)}
		}
	}

	c.idx = idx
	c.chunks = chunks
	return c, nil
}

func (c *Local) Close() error { return nil }

func (c *Local) AddBatch(ctx context.Context, chunks []types.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return &types.ConsistencyError{Op: "add batch", IndexSize: len(vectors), MetadataCount: len(chunks)}
	}
	if len(chunks) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failed != nil {
		return c.failed
	}

	for _, ch := range chunks {
		if err := ch.Kind.Validate(); err != nil {
			return err
		}
		if _, exists := c.chunks[ch.ID]; exists {
			return fmt.Errorf("chunk %q already stored", ch.ID)
		}
	}

	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ID
	}
	if err := c.idx.Add(ids, vectors); err != nil {
		return err
	}
	for _, ch := range chunks {
		c.chunks[ch.ID] = ch
	}

	return c.verifyAndFlush("add batch")
}

func (c *Local) Search(ctx context.Context, vector []float32, k int) ([]types.ScoredChunk, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hits, err := c.idx.Search(vector, k)
	if err != nil {
		return nil, err
	}

	results := make([]types.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		ch, ok := c.chunks[h.ID]
		if !ok {
			return nil, &types.ConsistencyError{Op: "search missing metadata for " + h.ID, IndexSize: c.idx.Size(), MetadataCount: len(c.chunks)}
		}
		results = append(results, types.ScoredChunk{Chunk: ch, Distance: h.Distance})
	}
	return results, nil
}

func (c *Local) Get(ctx context.Context, id string) (types.Chunk, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ch, ok := c.chunks[id]
	if !ok {
		return types.Chunk{}, types.ErrNotFound
	}
	return ch, nil
}

func (c *Local) ListByDocument(ctx context.Context, docID string) ([]types.Chunk, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []types.Chunk
	for _, ch := range c.chunks {
		if ch.SourceDocumentID == docID {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (c *Local) RemoveDocument(ctx context.Context, docID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failed != nil {
		return 0, c.failed
	}

	var ids []string
	for id, ch := range c.chunks {
		if ch.SourceDocumentID == docID {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	removed := c.idx.Remove(ids)
	for _, id := range ids {
		delete(c.chunks, id)
	}

	if err := c.verifyAndFlush("remove document"); err != nil {
		return 0, err
	}
	return removed, nil
}

func (c *Local) Stats(ctx context.Context) (types.CollectionStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	docs := make(map[string]bool)
	for _, ch := range c.chunks {
		docs[ch.SourceDocumentID] = true
	}
	return types.CollectionStats{
		Driver:    "local",
		Chunks:    c.idx.Size(),
		Documents: len(docs),
		Dimension: c.idx.Dim(),
	}, nil
}

// verifyAndFlush checks the core invariant and persists both halves.
// Called with the write lock held after every mutation. A divergence
// latches the collection into a failed state.
func (c *Local) verifyAndFlush(op string) error {
	if c.idx.Size() != len(c.chunks) {
		c.failed = &types.ConsistencyError{Op: op, IndexSize: c.idx.Size(), MetadataCount: len(c.chunks)}
		return c.failed
	}

	if err := c.idx.Save(filepath.Join(c.dir, indexFile)); err != nil {
		return err
	}
	return c.saveMetadata()
}

func (c *Local) saveMetadata() error {
	stored := make([]types.Chunk, 0, len(c.chunks))
	for _, ch := range c.chunks {
		stored = append(stored, ch)
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].ID < stored[j].ID })

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	path := filepath.Join(c.dir, metadataFile)
	tmp, err := os.CreateTemp(c.dir, ".meta-*")
	if err != nil {
		return fmt.Errorf("failed to create temp metadata file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp metadata file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace metadata file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
