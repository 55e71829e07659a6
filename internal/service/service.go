// internal/service/service.go
package service

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/MereWhiplash/codex-arbiter/internal/answer"
	"github.com/MereWhiplash/codex-arbiter/internal/chunker"
	"github.com/MereWhiplash/codex-arbiter/internal/collection"
	"github.com/MereWhiplash/codex-arbiter/internal/embedder"
	"github.com/MereWhiplash/codex-arbiter/internal/ingest"
	"github.com/MereWhiplash/codex-arbiter/internal/retriever"
	"github.com/MereWhiplash/codex-arbiter/internal/types"
)

// Service contains the business logic for document and query
// operations. It owns the ingestion orchestrator and retrieval engine
// over one collection.
type Service struct {
	col  collection.Collection
	orch *ingest.Orchestrator
	retr *retriever.Engine
	ans  *answer.Generator
}

// Config holds optional service configuration.
type Config struct {
	// Generator enables analysis, reranking, and answering. Ingestion
	// and retrieval work without one.
	Generator embedder.Generator
	// ChunkConfig overrides the default chunking configuration.
	ChunkConfig *chunker.Config
	// SkipEmpty makes batch ingestion skip empty documents.
	SkipEmpty bool
	// Logger defaults to the standard logger.
	Logger *log.Logger
}

// New creates a new Service.
func New(col collection.Collection, emb embedder.Embedder, cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	ingestOpts := []ingest.Option{
		ingest.WithSkipEmpty(cfg.SkipEmpty),
		ingest.WithLogger(cfg.Logger),
	}
	if cfg.ChunkConfig != nil {
		ingestOpts = append(ingestOpts, ingest.WithChunkConfig(*cfg.ChunkConfig))
	}
	if cfg.Generator != nil {
		ingestOpts = append(ingestOpts, ingest.WithGenerator(cfg.Generator))
	}

	retrOpts := []retriever.Option{retriever.WithLogger(cfg.Logger)}
	if cfg.Generator != nil {
		retrOpts = append(retrOpts, retriever.WithGenerator(cfg.Generator))
	}

	s := &Service{
		col:  col,
		orch: ingest.New(col, emb, ingestOpts...),
		retr: retriever.New(col, emb, retrOpts...),
	}
	if cfg.Generator != nil {
		s.ans = answer.New(s.retr, cfg.Generator)
	}
	return s
}

// Ingest stores one document's chunks, replacing any previous version.
// A document without an ID is assigned a random one; callers that want
// replace-on-reingest must supply their own stable ID.
func (s *Service) Ingest(ctx context.Context, doc types.RawDocument, analysis *types.Analysis) (*types.IngestResult, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	return s.orch.IngestDocument(ctx, doc, analysis)
}

// IngestBatch ingests documents in order.
func (s *Service) IngestBatch(ctx context.Context, docs []types.RawDocument) ([]types.IngestResult, error) {
	for i := range docs {
		if docs[i].ID == "" {
			docs[i].ID = uuid.NewString()
		}
	}
	return s.orch.IngestBatch(ctx, docs)
}

// Remove drops a document's chunks.
func (s *Service) Remove(ctx context.Context, docID string) (int, error) {
	return s.orch.RemoveDocument(ctx, docID)
}

// Query retrieves scored chunks for a query.
func (s *Service) Query(ctx context.Context, query string, opts retriever.Options) ([]types.ScoredResult, error) {
	return s.retr.Retrieve(ctx, query, opts)
}

// Answer generates a grounded answer. Requires a configured generator.
func (s *Service) Answer(ctx context.Context, question string, opts retriever.Options) (*answer.Answer, error) {
	if s.ans == nil {
		return nil, fmt.Errorf("no generator configured for answering")
	}
	return s.ans.Answer(ctx, question, opts)
}

// AnswerStream generates a grounded answer, delivering fragments
// through fn as they arrive. Requires a configured generator.
func (s *Service) AnswerStream(ctx context.Context, question string, opts retriever.Options, fn func(token string) error) (*answer.Answer, error) {
	if s.ans == nil {
		return nil, fmt.Errorf("no generator configured for answering")
	}
	return s.ans.AnswerStream(ctx, question, opts, fn)
}

// GetChunk returns one chunk by ID.
func (s *Service) GetChunk(ctx context.Context, id string) (types.Chunk, error) {
	return s.col.Get(ctx, id)
}

// ListDocumentChunks returns a document's chunks in chunk order.
func (s *Service) ListDocumentChunks(ctx context.Context, docID string) ([]types.Chunk, error) {
	return s.col.ListByDocument(ctx, docID)
}

// Stats reports collection state.
func (s *Service) Stats(ctx context.Context) (types.CollectionStats, error) {
	return s.col.Stats(ctx)
}

// Close cleans up resources
func (s *Service) Close() error {
	return s.col.Close()
}
