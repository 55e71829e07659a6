package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/MereWhiplash/codex-arbiter/internal/chunker"
	"github.com/MereWhiplash/codex-arbiter/internal/collection"
	"github.com/MereWhiplash/codex-arbiter/internal/retriever"
	"github.com/MereWhiplash/codex-arbiter/internal/types"
)

const testDim = 8

// hashEmbedder maps text to deterministic vectors so that identical
// texts are identical vectors and nearby queries can be staged by
// reusing chunk text.
type hashEmbedder struct{}

func (hashEmbedder) vector(text string) []float32 {
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

func (e hashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e hashEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return e.vector(query), nil
}

func (hashEmbedder) Dimension() int { return testDim }

type fakeGenerator struct {
	response string
}

func (f *fakeGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	return f.response, nil
}

func (f *fakeGenerator) Stream(ctx context.Context, prompt string, fn func(string) error) error {
	return fn(f.response)
}

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	col, err := collection.OpenLocal(t.TempDir(), testDim)
	if err != nil {
		t.Fatalf("OpenLocal failed: %v", err)
	}
	cfg.Logger = log.New(io.Discard, "", 0)
	return New(col, hashEmbedder{}, cfg)
}

func TestServiceIngestAndQuery(t *testing.T) {
	svc := newTestService(t, Config{})
	ctx := context.Background()

	doc := types.RawDocument{ID: "doc-1", RawText: "The annual maintenance window opens in March."}
	res, err := svc.Ingest(ctx, doc, nil)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.TotalChunks != 1 {
		t.Errorf("result = %+v", res)
	}

	// The query text matches the stored chunk text exactly, so the
	// hash embedder puts it at distance zero.
	results, err := svc.Query(ctx, "The annual maintenance window opens in March.", retriever.Options{TopK: 1})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.SourceDocumentID != "doc-1" {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Score != 1.0 {
		t.Errorf("exact match score = %f, want 1", results[0].Score)
	}
}

func TestServiceAssignsDocumentID(t *testing.T) {
	svc := newTestService(t, Config{})
	ctx := context.Background()

	res, err := svc.Ingest(ctx, types.RawDocument{RawText: "Anonymous content."}, nil)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.DocumentID == "" {
		t.Fatal("no document ID assigned")
	}

	chunks, err := svc.ListDocumentChunks(ctx, res.DocumentID)
	if err != nil {
		t.Fatalf("ListDocumentChunks failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Errorf("listed %d chunks", len(chunks))
	}
}

func TestServiceRemove(t *testing.T) {
	svc := newTestService(t, Config{})
	ctx := context.Background()

	doc := types.RawDocument{ID: "doc-1", RawText: "Content that will be removed."}
	if _, err := svc.Ingest(ctx, doc, nil); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	removed, err := svc.Remove(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d", removed)
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Chunks != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestServiceChunkAccess(t *testing.T) {
	svc := newTestService(t, Config{})
	ctx := context.Background()

	doc := types.RawDocument{ID: "doc-1", RawText: "Some retrievable content."}
	if _, err := svc.Ingest(ctx, doc, nil); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	ch, err := svc.GetChunk(ctx, "doc-1:0")
	if err != nil {
		t.Fatalf("GetChunk failed: %v", err)
	}
	if ch.Text != "Some retrievable content." {
		t.Errorf("chunk text = %q", ch.Text)
	}

	if _, err := svc.GetChunk(ctx, "missing"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("GetChunk missing = %v", err)
	}

	chunks, err := svc.ListDocumentChunks(ctx, "doc-1")
	if err != nil {
		t.Fatalf("ListDocumentChunks failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Errorf("listed %d chunks", len(chunks))
	}
}

func TestServiceAnswerRequiresGenerator(t *testing.T) {
	svc := newTestService(t, Config{})
	if _, err := svc.Answer(context.Background(), "anything", retriever.Options{}); err == nil {
		t.Fatal("expected error without generator")
	}
}

func TestServiceAnswerWithGenerator(t *testing.T) {
	svc := newTestService(t, Config{Generator: &fakeGenerator{response: "In March."}})
	ctx := context.Background()

	doc := types.RawDocument{ID: "doc-1", RawText: "The annual maintenance window opens in March."}
	if _, err := svc.Ingest(ctx, doc, nil); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	ans, err := svc.Answer(ctx, "The annual maintenance window opens in March.", retriever.Options{TopK: 1})
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if ans.Text != "In March." {
		t.Errorf("answer = %q", ans.Text)
	}
	if len(ans.Sources) != 1 {
		t.Errorf("sources = %+v", ans.Sources)
	}
}

func TestServiceIngestBatch(t *testing.T) {
	svc := newTestService(t, Config{SkipEmpty: true})
	ctx := context.Background()

	docs := []types.RawDocument{
		{ID: "doc-1", RawText: "First."},
		{ID: "blank", RawText: " "},
		{ID: "doc-2", RawText: "Second."},
	}
	results, err := svc.IngestBatch(ctx, docs)
	if err != nil {
		t.Fatalf("IngestBatch failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}

	stats, _ := svc.Stats(ctx)
	if stats.Documents != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestServiceMessyIngestWithGeneratedAnalysis(t *testing.T) {
	gen := &fakeGenerator{response: `{"summary": "Sensor readings.", "interpretation": "One row per reading."}`}
	svc := newTestService(t, Config{Generator: gen})
	ctx := context.Background()

	doc := types.RawDocument{
		ID:          "messy-1",
		ContentKind: types.ContentTable,
		Messy:       true,
		Tables: []types.Table{{
			Name: "readings",
			Rows: [][]string{{"1", "20.5"}, {"2", "21.0"}},
		}},
	}
	res, err := svc.Ingest(ctx, doc, nil)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.AnalysisChunks != 1 || res.DataChunks != 1 {
		t.Errorf("result = %+v", res)
	}

	chunks, _ := svc.ListDocumentChunks(ctx, "messy-1")
	if !strings.Contains(chunks[0].Text, "Sensor readings.") {
		t.Errorf("analysis chunk missing generated summary")
	}
}

// kindEmbedder places analysis chunks and column questions along the
// same axis and data chunks on an orthogonal one.
type kindEmbedder struct{}

func (kindEmbedder) vector(text string) []float32 {
	vec := make([]float32, testDim)
	if strings.Contains(text, "DATA STRUCTURE ANALYSIS") || strings.Contains(text, "what does column") {
		vec[0] = 1
	} else {
		vec[1] = 1
	}
	return vec
}

func (e kindEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e kindEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return e.vector(query), nil
}

func (kindEmbedder) Dimension() int { return testDim }

func TestServiceColumnQuestionRanksAnalysisFirst(t *testing.T) {
	col, err := collection.OpenLocal(t.TempDir(), testDim)
	if err != nil {
		t.Fatalf("OpenLocal failed: %v", err)
	}
	chunkCfg := chunker.DefaultConfig()
	chunkCfg.RowBatchSize = 4
	svc := New(col, kindEmbedder{}, Config{
		ChunkConfig: &chunkCfg,
		Logger:      log.New(io.Discard, "", 0),
	})
	ctx := context.Background()

	table := types.Table{
		Name:    "export",
		Headers: []string{"col_a", "col_b"},
	}
	for i := 0; i < 10; i++ {
		table.Rows = append(table.Rows, []string{fmt.Sprintf("r%d", i), fmt.Sprintf("%d", i*10)})
	}
	doc := types.RawDocument{
		ID:          "messy-1",
		ContentKind: types.ContentTable,
		Messy:       true,
		Tables:      []types.Table{table},
	}
	analysis := &types.Analysis{
		Summary:        "Export with one row per shipment.",
		Interpretation: "col_b is the shipment weight.",
	}

	res, err := svc.Ingest(ctx, doc, analysis)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.AnalysisChunks != 1 || res.DataChunks != 3 {
		t.Fatalf("result = %+v", res)
	}

	results, err := svc.Query(ctx, "what does column col_b mean", retriever.Options{TopK: 4, Threshold: 0})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Chunk.Kind != types.KindAnalysis {
		t.Errorf("top result kind = %q", results[0].Chunk.Kind)
	}
	for _, r := range results[1:] {
		if r.Score > results[0].Score {
			t.Errorf("data chunk %s outranks analysis", r.Chunk.ID)
		}
	}
}
