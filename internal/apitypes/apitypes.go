// internal/apitypes/apitypes.go
// Package apitypes holds the HTTP API request and response shapes. It
// depends only on internal/types so the client library can share the
// wire format without importing server code.
package apitypes

import "github.com/MereWhiplash/codex-arbiter/internal/types"

// IngestRequest is the body of POST /v1/documents.
type IngestRequest struct {
	Document types.RawDocument `json:"document"`
	Analysis *types.Analysis   `json:"analysis,omitempty"`
}

// IngestResponse is the response to a single-document ingest.
type IngestResponse struct {
	Result *types.IngestResult `json:"result"`
}

// BatchIngestRequest is the body of POST /v1/documents/batch.
type BatchIngestRequest struct {
	Documents []types.RawDocument `json:"documents"`
}

// BatchIngestResponse reports one result per ingested document.
// Skipped documents produce no result.
type BatchIngestResponse struct {
	Results []types.IngestResult `json:"results"`
}

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	Query     string  `json:"query"`
	TopK      int     `json:"top_k,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Hybrid    bool    `json:"hybrid,omitempty"`
	Rerank    bool    `json:"rerank,omitempty"`
}

// QueryResponse carries scored results, best first.
type QueryResponse struct {
	Results []types.ScoredResult `json:"results"`
}

// AnswerRequest is the body of POST /v1/answer. With Stream set the
// response is NDJSON: one AnswerStreamFragment per generated token,
// closed by a fragment with Done set carrying the sources.
type AnswerRequest struct {
	Question  string  `json:"question"`
	TopK      int     `json:"top_k,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Hybrid    bool    `json:"hybrid,omitempty"`
	Stream    bool    `json:"stream,omitempty"`
}

// AnswerResponse is a generated answer with its sources.
type AnswerResponse struct {
	Answer  string               `json:"answer"`
	Sources []types.ScoredResult `json:"sources"`
}

// AnswerStreamFragment is one NDJSON line of a streamed answer.
type AnswerStreamFragment struct {
	Token   string               `json:"token,omitempty"`
	Done    bool                 `json:"done,omitempty"`
	Answer  string               `json:"answer,omitempty"`
	Sources []types.ScoredResult `json:"sources,omitempty"`
}

// ChunkResponse wraps a single chunk.
type ChunkResponse struct {
	Chunk types.Chunk `json:"chunk"`
}

// ChunksResponse lists a document's chunks in chunk order.
type ChunksResponse struct {
	Chunks []types.Chunk `json:"chunks"`
}

// RemoveResponse reports how many chunks a removal dropped.
type RemoveResponse struct {
	Removed int `json:"removed"`
}

// StatsResponse wraps collection statistics.
type StatsResponse struct {
	Stats types.CollectionStats `json:"stats"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}
