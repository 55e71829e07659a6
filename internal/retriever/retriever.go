// internal/retriever/retriever.go
// Package retriever runs queries against a collection and turns raw
// distances into ranked, scored results. Retrieval never mutates the
// collection and stays available when the completion model is down;
// only the optional rerank step talks to it, and that step degrades to
// the similarity ordering on any failure.
package retriever

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/MereWhiplash/codex-arbiter/internal/collection"
	"github.com/MereWhiplash/codex-arbiter/internal/embedder"
	"github.com/MereWhiplash/codex-arbiter/internal/types"
)

const (
	// DefaultTopK is the default result count.
	DefaultTopK = 5
	// DefaultOversample is how many times TopK candidates are pulled
	// from the index before filtering and boosting.
	DefaultOversample = 3
	// keywordBoost is the per-match score multiplier increment for
	// hybrid retrieval.
	keywordBoost = 0.1
)

// Options configures one retrieval call.
type Options struct {
	// TopK is the number of results to return. Zero means DefaultTopK.
	TopK int
	// Threshold drops results scoring below it. Zero or negative
	// disables filtering and admits every candidate.
	Threshold float64
	// Oversample multiplies TopK for the candidate pull. Zero means
	// DefaultOversample.
	Oversample int
	// Hybrid enables keyword boosting on top of vector similarity.
	Hybrid bool
	// Rerank enables LLM reranking of the final candidates.
	Rerank bool
}

// Engine executes retrievals against one collection.
type Engine struct {
	col    collection.Collection
	emb    embedder.Embedder
	gen    embedder.Generator
	logger *log.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithGenerator enables the rerank step.
func WithGenerator(gen embedder.Generator) Option {
	return func(e *Engine) { e.gen = gen }
}

// WithLogger sets the logger. Defaults to the standard logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates a retrieval engine.
func New(col collection.Collection, emb embedder.Embedder, opts ...Option) *Engine {
	e := &Engine{
		col:    col,
		emb:    emb,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve embeds the query, pulls oversampled candidates, scores and
// filters them, and returns the top results best first.
func (e *Engine) Retrieve(ctx context.Context, query string, opts Options) ([]types.ScoredResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is empty")
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	oversample := opts.Oversample
	if oversample <= 0 {
		oversample = DefaultOversample
	}

	vector, err := e.emb.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := e.col.Search(ctx, vector, topK*oversample)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	// The counts logged here are what makes the index/metadata pairing
	// externally checkable: every hit must resolve to stored metadata.
	if stats, err := e.col.Stats(ctx); err == nil {
		e.logger.Printf("retrieve: %d candidates from %d chunks (%d documents) for top %d",
			len(hits), stats.Chunks, stats.Documents, topK)
	} else {
		e.logger.Printf("retrieve: %d candidates for top %d (stats unavailable: %v)", len(hits), topK, err)
	}

	results := make([]types.ScoredResult, 0, len(hits))
	for _, h := range hits {
		score := 1.0 / (1.0 + h.Distance)
		if opts.Hybrid {
			score *= 1.0 + keywordBoost*float64(keywordMatches(query, h.Chunk.Text))
		}
		if opts.Threshold > 0 && score < opts.Threshold {
			continue
		}
		results = append(results, types.ScoredResult{Chunk: h.Chunk, Score: score})
	}

	e.logger.Printf("retrieve: %d of %d candidates passed threshold %.2f", len(results), len(hits), opts.Threshold)

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})

	if len(results) > topK {
		results = results[:topK]
	}

	if opts.Rerank && e.gen != nil && len(results) > 1 {
		results = e.rerank(ctx, query, results)
	}

	return results, nil
}

// keywordMatches counts distinct query terms of three or more
// characters that appear in the chunk text. Case-insensitive.
func keywordMatches(query, text string) int {
	lower := strings.ToLower(text)
	seen := make(map[string]bool)
	matches := 0
	for _, term := range strings.Fields(strings.ToLower(query)) {
		term = strings.Trim(term, ".,;:!?\"'()")
		if len(term) < 3 || seen[term] {
			continue
		}
		seen[term] = true
		if strings.Contains(lower, term) {
			matches++
		}
	}
	return matches
}
