// internal/api/types.go
package api

import "github.com/MereWhiplash/codex-arbiter/internal/apitypes"

// Aliases so handler code reads without the package qualifier.
type (
	IngestRequest        = apitypes.IngestRequest
	IngestResponse       = apitypes.IngestResponse
	BatchIngestRequest   = apitypes.BatchIngestRequest
	BatchIngestResponse  = apitypes.BatchIngestResponse
	QueryRequest         = apitypes.QueryRequest
	QueryResponse        = apitypes.QueryResponse
	AnswerRequest        = apitypes.AnswerRequest
	AnswerResponse       = apitypes.AnswerResponse
	AnswerStreamFragment = apitypes.AnswerStreamFragment
	ChunkResponse        = apitypes.ChunkResponse
	ChunksResponse       = apitypes.ChunksResponse
	RemoveResponse       = apitypes.RemoveResponse
	StatsResponse        = apitypes.StatsResponse
	ErrorResponse        = apitypes.ErrorResponse
	HealthResponse       = apitypes.HealthResponse
)
