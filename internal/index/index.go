// internal/index/index.go
// Package index implements a flat, exhaustive vector index over squared
// L2 distance. Every query scans every stored vector; there is no
// approximation and no training step, so results are exact and fully
// deterministic. The index holds IDs and vectors only; chunk metadata
// lives in the collection's metadata store.
package index

import (
	"sort"

	"github.com/MereWhiplash/codex-arbiter/internal/types"
)

// Hit is one search result: a stored ID and its squared L2 distance to
// the query, ascending = closer.
type Hit struct {
	ID       string
	Distance float64
}

// Flat is the exhaustive index. Not safe for concurrent use; the owning
// collection serializes access.
type Flat struct {
	dim     int
	ids     []string
	vectors [][]float32
	byID    map[string]int
}

// New returns an empty index with a fixed vector dimension.
func New(dim int) *Flat {
	return &Flat{
		dim:  dim,
		byID: make(map[string]int),
	}
}

// Dim returns the fixed vector dimension.
func (f *Flat) Dim() int { return f.dim }

// Size returns the number of stored vectors.
func (f *Flat) Size() int { return len(f.ids) }

// IDs returns the stored IDs in insertion order. The caller must not
// modify the returned slice.
func (f *Flat) IDs() []string { return f.ids }

// Vector returns the stored vector for an ID, or false when absent. The
// caller must not modify the returned slice.
func (f *Flat) Vector(id string) ([]float32, bool) {
	i, ok := f.byID[id]
	if !ok {
		return nil, false
	}
	return f.vectors[i], true
}

// Add appends id/vector pairs. It validates every pair before mutating
// anything, so a failed Add leaves the index unchanged.
func (f *Flat) Add(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return &types.ConsistencyError{Op: "index add", IndexSize: len(vectors), MetadataCount: len(ids)}
	}
	seen := make(map[string]bool, len(ids))
	for i, id := range ids {
		if len(vectors[i]) != f.dim {
			return &types.DimensionMismatchError{Want: f.dim, Got: len(vectors[i])}
		}
		if _, dup := f.byID[id]; dup || seen[id] {
			return &types.ConsistencyError{Op: "index add duplicate " + id, IndexSize: f.Size(), MetadataCount: f.Size()}
		}
		seen[id] = true
	}
	for i, id := range ids {
		f.byID[id] = len(f.ids)
		f.ids = append(f.ids, id)
		f.vectors = append(f.vectors, vectors[i])
	}
	return nil
}

// Remove drops the given IDs and rebuilds the index from the survivors.
// Unknown IDs are ignored.
func (f *Flat) Remove(ids []string) int {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	removed := 0
	keptIDs := f.ids[:0]
	keptVecs := f.vectors[:0]
	for i, id := range f.ids {
		if drop[id] {
			removed++
			continue
		}
		keptIDs = append(keptIDs, id)
		keptVecs = append(keptVecs, f.vectors[i])
	}
	f.ids = keptIDs
	f.vectors = keptVecs

	f.byID = make(map[string]int, len(f.ids))
	for i, id := range f.ids {
		f.byID[id] = i
	}
	return removed
}

// Search returns the k nearest stored vectors by squared L2 distance,
// ascending. Equal distances are broken by ID so result order never
// depends on insertion order.
func (f *Flat) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != f.dim {
		return nil, &types.DimensionMismatchError{Want: f.dim, Got: len(query)}
	}
	if k <= 0 || len(f.ids) == 0 {
		return nil, nil
	}

	hits := make([]Hit, len(f.ids))
	for i, v := range f.vectors {
		hits[i] = Hit{ID: f.ids[i], Distance: sqL2(query, v)}
	}
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].Distance != hits[b].Distance {
			return hits[a].Distance < hits[b].Distance
		}
		return hits[a].ID < hits[b].ID
	})

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

func sqL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
