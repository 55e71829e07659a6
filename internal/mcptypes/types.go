// internal/mcptypes/types.go
// Package mcptypes contains shared MCP tool input/output types.
// These are used by both the direct MCP server (tools) and the shim proxy.
package mcptypes

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MereWhiplash/codex-arbiter/internal/types"
)

// IngestInput defines the input schema for ca_ingest
type IngestInput struct {
	DocumentID string          `json:"document_id" jsonschema:"required" jsonschema_description:"Stable identifier for the document; re-ingesting replaces previous chunks"`
	SourcePath string          `json:"source_path,omitempty" jsonschema_description:"Where the document came from"`
	Text       string          `json:"text,omitempty" jsonschema_description:"Raw document text"`
	Tables     []types.Table   `json:"tables,omitempty" jsonschema_description:"Extracted tables (headers plus rows)"`
	Messy      bool            `json:"messy,omitempty" jsonschema_description:"Set for poorly structured tabular input; triggers analysis-driven chunking"`
	Analysis   *types.Analysis `json:"analysis,omitempty" jsonschema_description:"Precomputed analysis; generated automatically when omitted for messy input"`
}

// IngestOutput defines the output schema for ca_ingest
type IngestOutput struct {
	Result *types.IngestResult `json:"result"`
}

// QueryInput defines the input schema for ca_query
type QueryInput struct {
	Query     string  `json:"query" jsonschema:"required" jsonschema_description:"Search query to find relevant chunks"`
	TopK      int     `json:"top_k,omitempty" jsonschema_description:"Maximum number of results (default: 5)"`
	Threshold float64 `json:"threshold,omitempty" jsonschema_description:"Minimum similarity score; zero or below keeps everything"`
	Hybrid    bool    `json:"hybrid,omitempty" jsonschema_description:"Boost results containing query keywords"`
	Rerank    bool    `json:"rerank,omitempty" jsonschema_description:"Rerank results with the language model"`
}

// QueryOutput defines the output schema for ca_query
type QueryOutput struct {
	Results []types.ScoredResult `json:"results"`
}

// AnswerInput defines the input schema for ca_answer
type AnswerInput struct {
	Question string `json:"question" jsonschema:"required" jsonschema_description:"Question to answer from stored content"`
	TopK     int    `json:"top_k,omitempty" jsonschema_description:"How many chunks to ground the answer on (default: 5)"`
}

// AnswerOutput defines the output schema for ca_answer
type AnswerOutput struct {
	Answer  string               `json:"answer"`
	Sources []types.ScoredResult `json:"sources"`
}

// RemoveInput defines the input schema for ca_remove
type RemoveInput struct {
	DocumentID string `json:"document_id" jsonschema:"required" jsonschema_description:"Document whose chunks should be removed"`
}

// RemoveOutput defines the output schema for ca_remove
type RemoveOutput struct {
	Removed int `json:"removed"`
}

// StatsInput defines the input schema for ca_stats
type StatsInput struct{}

// StatsOutput defines the output schema for ca_stats
type StatsOutput struct {
	Stats types.CollectionStats `json:"stats"`
}

// TextResult creates a successful MCP result with text content
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// ErrorResult creates an error MCP result
func ErrorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// Tool definitions (shared between server and shim)
var (
	IngestTool = &mcp.Tool{
		Name:        "ca_ingest",
		Description: "Ingest a document into the searchable collection",
	}

	QueryTool = &mcp.Tool{
		Name:        "ca_query",
		Description: "Search stored chunks by semantic similarity",
	}

	AnswerTool = &mcp.Tool{
		Name:        "ca_answer",
		Description: "Answer a question grounded on stored content",
	}

	RemoveTool = &mcp.Tool{
		Name:        "ca_remove",
		Description: "Remove a document and all of its chunks",
	}

	StatsTool = &mcp.Tool{
		Name:        "ca_stats",
		Description: "Report collection statistics",
	}
)
