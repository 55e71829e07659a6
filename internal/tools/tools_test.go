package tools

import (
	"context"
	"hash/fnv"
	"io"
	"log"
	"testing"

	"github.com/MereWhiplash/codex-arbiter/internal/collection"
	"github.com/MereWhiplash/codex-arbiter/internal/mcptypes"
	"github.com/MereWhiplash/codex-arbiter/internal/service"
)

const testDim = 8

type mockEmbedder struct{}

func (mockEmbedder) vector(text string) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()
	vec := make([]float32, testDim)
	for i := range vec {
		seed = seed*1664525 + 1013904223
		vec[i] = float32(seed%1000) / 1000
	}
	return vec
}

func (m mockEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.vector(t)
	}
	return out, nil
}

func (m mockEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return m.vector(query), nil
}

func (mockEmbedder) Dimension() int { return testDim }

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	col, err := collection.OpenLocal(t.TempDir(), testDim)
	if err != nil {
		t.Fatalf("OpenLocal failed: %v", err)
	}
	svc := service.New(col, mockEmbedder{}, service.Config{
		Logger: log.New(io.Discard, "", 0),
	})
	return &Handler{svc: svc}
}

func TestIngestTool(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	result, out, err := h.Ingest(ctx, nil, mcptypes.IngestInput{
		DocumentID: "doc-1",
		Text:       "Plain text to store.",
	})
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("Ingest tool error: %v", result.Content)
	}
	if out.Result == nil || out.Result.TotalChunks != 1 {
		t.Errorf("output = %+v", out.Result)
	}
}

func TestIngestToolRequiresID(t *testing.T) {
	h := newTestHandler(t)
	result, _, err := h.Ingest(context.Background(), nil, mcptypes.IngestInput{Text: "no id"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("missing document_id accepted")
	}
}

func TestQueryTool(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	if _, _, err := h.Ingest(ctx, nil, mcptypes.IngestInput{
		DocumentID: "doc-1",
		Text:       "The maintenance window opens in March.",
	}); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	result, out, err := h.Query(ctx, nil, mcptypes.QueryInput{
		Query: "The maintenance window opens in March.",
		TopK:  1,
	})
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("Query tool error: %v", result.Content)
	}
	if len(out.Results) != 1 || out.Results[0].Chunk.SourceDocumentID != "doc-1" {
		t.Errorf("results = %+v", out.Results)
	}
}

func TestQueryToolEmptyCollection(t *testing.T) {
	h := newTestHandler(t)
	result, out, err := h.Query(context.Background(), nil, mcptypes.QueryInput{Query: "anything"})
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("empty collection reported as error")
	}
	if len(out.Results) != 0 {
		t.Errorf("results = %+v", out.Results)
	}
}

func TestRemoveAndStatsTools(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	if _, _, err := h.Ingest(ctx, nil, mcptypes.IngestInput{DocumentID: "doc-1", Text: "Content."}); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	_, stats, err := h.Stats(ctx, nil, mcptypes.StatsInput{})
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if stats.Stats.Chunks != 1 {
		t.Errorf("stats = %+v", stats.Stats)
	}

	result, out, err := h.Remove(ctx, nil, mcptypes.RemoveInput{DocumentID: "doc-1"})
	if err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if result.IsError || out.Removed != 1 {
		t.Errorf("remove = %+v, removed = %d", result, out.Removed)
	}
}

func TestAnswerToolWithoutGenerator(t *testing.T) {
	h := newTestHandler(t)
	result, _, err := h.Answer(context.Background(), nil, mcptypes.AnswerInput{Question: "anything?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("answering without a generator should be a tool error")
	}
}
