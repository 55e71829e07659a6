// internal/ingest/ingest.go
// Package ingest turns raw documents into stored, searchable chunks.
// Each document is ingested all-or-nothing: chunk, embed every chunk,
// and only then touch the collection. A failure before storage leaves
// the collection as it was. Re-ingesting replaces the document's
// previous chunks before the new ones land, so a failed store during
// replacement leaves the document absent, never half replaced.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/MereWhiplash/codex-arbiter/internal/chunker"
	"github.com/MereWhiplash/codex-arbiter/internal/collection"
	"github.com/MereWhiplash/codex-arbiter/internal/embedder"
	"github.com/MereWhiplash/codex-arbiter/internal/types"
)

const (
	embedAttempts     = 3
	embedRetryBackoff = 500 * time.Millisecond
)

// Orchestrator coordinates chunking, analysis, embedding, and storage.
type Orchestrator struct {
	col       collection.Collection
	emb       embedder.Embedder
	gen       embedder.Generator
	chunkCfg  chunker.Config
	skipEmpty bool
	backoff   time.Duration
	logger    *log.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithGenerator enables LLM analysis for messy documents that arrive
// without one.
func WithGenerator(gen embedder.Generator) Option {
	return func(o *Orchestrator) { o.gen = gen }
}

// WithChunkConfig overrides the chunking configuration.
func WithChunkConfig(cfg chunker.Config) Option {
	return func(o *Orchestrator) { o.chunkCfg = cfg }
}

// WithSkipEmpty makes batch ingestion skip empty documents instead of
// aborting the batch.
func WithSkipEmpty(skip bool) Option {
	return func(o *Orchestrator) { o.skipEmpty = skip }
}

// WithLogger sets the logger. Defaults to the standard logger.
func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithRetryBackoff overrides the initial backoff between embedding
// attempts.
func WithRetryBackoff(d time.Duration) Option {
	return func(o *Orchestrator) { o.backoff = d }
}

// New creates an Orchestrator writing to col and embedding with emb.
func New(col collection.Collection, emb embedder.Embedder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		col:      col,
		emb:      emb,
		chunkCfg: chunker.DefaultConfig(),
		backoff:  embedRetryBackoff,
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// IngestDocument ingests one document. A nil analysis for a messy
// document is generated on the fly when a Generator is configured.
// Re-ingesting a document ID replaces its previous chunks.
func (o *Orchestrator) IngestDocument(ctx context.Context, doc types.RawDocument, analysis *types.Analysis) (*types.IngestResult, error) {
	if doc.ID == "" {
		return nil, &types.IngestionError{DocumentID: doc.ID, Err: fmt.Errorf("document id is required")}
	}

	if doc.Messy && analysis == nil && o.gen != nil {
		a, err := o.Analyze(ctx, doc)
		if err != nil {
			return nil, &types.IngestionError{DocumentID: doc.ID, Err: err}
		}
		analysis = a
	}

	chunks, err := chunker.Build(doc, analysis, o.chunkCfg)
	if err != nil {
		return nil, &types.IngestionError{DocumentID: doc.ID, Err: err}
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	vectors, err := o.embedWithRetry(ctx, texts)
	if err != nil {
		return nil, &types.IngestionError{DocumentID: doc.ID, Err: err}
	}

	replaced, err := o.col.RemoveDocument(ctx, doc.ID)
	if err != nil {
		return nil, &types.IngestionError{DocumentID: doc.ID, Err: err}
	}
	if replaced > 0 {
		o.logger.Printf("ingest: replacing %d existing chunks of document %s", replaced, doc.ID)
	}

	if err := o.col.AddBatch(ctx, chunks, vectors); err != nil {
		// The old chunks are already gone at this point. Remove whatever
		// part of the new batch landed so the document is fully absent
		// rather than half stored.
		if _, rmErr := o.col.RemoveDocument(ctx, doc.ID); rmErr != nil {
			o.logger.Printf("ingest: cleanup of document %s after failed store: %v", doc.ID, rmErr)
		}
		if replaced > 0 {
			err = fmt.Errorf("previous chunks were removed before the store failed: %w", err)
		}
		return nil, &types.IngestionError{DocumentID: doc.ID, Err: err}
	}

	result := &types.IngestResult{DocumentID: doc.ID, TotalChunks: len(chunks)}
	for _, ch := range chunks {
		switch ch.Kind {
		case types.KindAnalysis:
			result.AnalysisChunks++
		case types.KindData:
			result.DataChunks++
		case types.KindPlainText:
			result.PlainChunks++
		}
	}
	return result, nil
}

// IngestBatch ingests documents in order. Empty documents are skipped
// or abort the batch depending on configuration; any other failure
// aborts. Documents ingested before the failure stay ingested.
func (o *Orchestrator) IngestBatch(ctx context.Context, docs []types.RawDocument) ([]types.IngestResult, error) {
	var results []types.IngestResult
	for _, doc := range docs {
		res, err := o.IngestDocument(ctx, doc, nil)
		if err != nil {
			var emptyErr *types.EmptyDocumentError
			if o.skipEmpty && errors.As(err, &emptyErr) {
				o.logger.Printf("ingest: skipping empty document %s", doc.ID)
				continue
			}
			return results, err
		}
		results = append(results, *res)
	}
	return results, nil
}

// RemoveDocument drops a document's chunks from the collection.
func (o *Orchestrator) RemoveDocument(ctx context.Context, docID string) (int, error) {
	return o.col.RemoveDocument(ctx, docID)
}

// embedWithRetry retries the whole batch on gateway failures. Anything
// else (bad dimension, HTTP errors from the model itself) fails fast.
func (o *Orchestrator) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	backoff := o.backoff
	var lastErr error
	for attempt := 1; attempt <= embedAttempts; attempt++ {
		vectors, err := o.emb.EmbedDocuments(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		var gwErr *types.GatewayUnavailableError
		if !errors.As(err, &gwErr) {
			return nil, err
		}
		if attempt == embedAttempts {
			break
		}

		o.logger.Printf("ingest: embedding attempt %d/%d failed, retrying in %v: %v", attempt, embedAttempts, backoff, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", embedAttempts, lastErr)
}
