// internal/shim/tools.go
// Package shim exposes the same MCP tools as the direct server but
// forwards every call to a remote API instance over HTTP.
package shim

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MereWhiplash/codex-arbiter/internal/client"
	"github.com/MereWhiplash/codex-arbiter/internal/mcptypes"
	"github.com/MereWhiplash/codex-arbiter/internal/retriever"
	"github.com/MereWhiplash/codex-arbiter/internal/types"
)

// Handler holds shim dependencies
type Handler struct {
	client *client.Client
}

// NewHandler creates a new shim handler
func NewHandler(c *client.Client) *Handler {
	return &Handler{client: c}
}

// Register adds all CA tools to the MCP server
func Register(server *mcp.Server, h *Handler) {
	mcp.AddTool(server, mcptypes.IngestTool, h.Ingest)
	mcp.AddTool(server, mcptypes.QueryTool, h.Query)
	mcp.AddTool(server, mcptypes.AnswerTool, h.Answer)
	mcp.AddTool(server, mcptypes.RemoveTool, h.Remove)
	mcp.AddTool(server, mcptypes.StatsTool, h.Stats)
}

func (h *Handler) Ingest(ctx context.Context, req *mcp.CallToolRequest, input mcptypes.IngestInput) (*mcp.CallToolResult, mcptypes.IngestOutput, error) {
	if input.DocumentID == "" {
		return mcptypes.ErrorResult("document_id is required"), mcptypes.IngestOutput{}, nil
	}

	kind := types.ContentText
	if len(input.Tables) > 0 {
		kind = types.ContentTable
	}
	doc := types.RawDocument{
		ID:          input.DocumentID,
		SourcePath:  input.SourcePath,
		ContentKind: kind,
		RawText:     input.Text,
		Tables:      input.Tables,
		Messy:       input.Messy,
	}

	result, err := h.client.Ingest(ctx, doc, input.Analysis)
	if err != nil {
		return mcptypes.ErrorResult(fmt.Sprintf("failed to ingest document: %v", err)), mcptypes.IngestOutput{}, nil
	}

	return mcptypes.TextResult(fmt.Sprintf(
		"Document %s ingested: %d chunks (%d analysis, %d data, %d plain text).",
		result.DocumentID, result.TotalChunks, result.AnalysisChunks, result.DataChunks, result.PlainChunks,
	)), mcptypes.IngestOutput{Result: result}, nil
}

func (h *Handler) Query(ctx context.Context, req *mcp.CallToolRequest, input mcptypes.QueryInput) (*mcp.CallToolResult, mcptypes.QueryOutput, error) {
	if input.Query == "" {
		return mcptypes.ErrorResult("query is required"), mcptypes.QueryOutput{}, nil
	}

	results, err := h.client.Query(ctx, input.Query, retriever.Options{
		TopK:      input.TopK,
		Threshold: input.Threshold,
		Hybrid:    input.Hybrid,
		Rerank:    input.Rerank,
	})
	if err != nil {
		return mcptypes.ErrorResult(fmt.Sprintf("failed to search: %v", err)), mcptypes.QueryOutput{}, nil
	}

	if len(results) == 0 {
		return mcptypes.TextResult("No matching chunks found."), mcptypes.QueryOutput{Results: []types.ScoredResult{}}, nil
	}

	text, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return mcptypes.ErrorResult(fmt.Sprintf("failed to format response: %v", err)), mcptypes.QueryOutput{}, nil
	}
	return mcptypes.TextResult(string(text)), mcptypes.QueryOutput{Results: results}, nil
}

func (h *Handler) Answer(ctx context.Context, req *mcp.CallToolRequest, input mcptypes.AnswerInput) (*mcp.CallToolResult, mcptypes.AnswerOutput, error) {
	if input.Question == "" {
		return mcptypes.ErrorResult("question is required"), mcptypes.AnswerOutput{}, nil
	}

	ans, err := h.client.Answer(ctx, input.Question, input.TopK)
	if err != nil {
		return mcptypes.ErrorResult(fmt.Sprintf("failed to answer: %v", err)), mcptypes.AnswerOutput{}, nil
	}

	return mcptypes.TextResult(ans.Answer), mcptypes.AnswerOutput{Answer: ans.Answer, Sources: ans.Sources}, nil
}

func (h *Handler) Remove(ctx context.Context, req *mcp.CallToolRequest, input mcptypes.RemoveInput) (*mcp.CallToolResult, mcptypes.RemoveOutput, error) {
	if input.DocumentID == "" {
		return mcptypes.ErrorResult("document_id is required"), mcptypes.RemoveOutput{}, nil
	}

	removed, err := h.client.Remove(ctx, input.DocumentID)
	if err != nil {
		return mcptypes.ErrorResult(fmt.Sprintf("failed to remove: %v", err)), mcptypes.RemoveOutput{}, nil
	}

	return mcptypes.TextResult(fmt.Sprintf("Removed %d chunks of document %s.", removed, input.DocumentID)), mcptypes.RemoveOutput{Removed: removed}, nil
}

func (h *Handler) Stats(ctx context.Context, req *mcp.CallToolRequest, input mcptypes.StatsInput) (*mcp.CallToolResult, mcptypes.StatsOutput, error) {
	stats, err := h.client.Stats(ctx)
	if err != nil {
		return mcptypes.ErrorResult(fmt.Sprintf("failed to read stats: %v", err)), mcptypes.StatsOutput{}, nil
	}

	return mcptypes.TextResult(fmt.Sprintf(
		"Collection (%s): %d chunks across %d documents, dimension %d.",
		stats.Driver, stats.Chunks, stats.Documents, stats.Dimension,
	)), mcptypes.StatsOutput{Stats: stats}, nil
}
