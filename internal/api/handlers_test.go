// internal/api/handlers_test.go
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/MereWhiplash/codex-arbiter/internal/api"
	"github.com/MereWhiplash/codex-arbiter/internal/apitypes"
	"github.com/MereWhiplash/codex-arbiter/internal/collection"
	"github.com/MereWhiplash/codex-arbiter/internal/service"
	"github.com/MereWhiplash/codex-arbiter/internal/types"
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

func newTestRouter(t *testing.T) chi.Router {
	t.Helper()
	col, err := collection.OpenLocal(t.TempDir(), testDim)
	if err != nil {
		t.Fatalf("OpenLocal failed: %v", err)
	}
	svc := service.New(col, mockEmbedder{}, service.Config{
		Logger: log.New(io.Discard, "", 0),
	})
	handlers := api.NewHandlers(svc)

	r := chi.NewRouter()
	r.Use(api.RequestID)
	r.Get("/health", handlers.Health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/documents", handlers.Ingest)
		r.Post("/documents/batch", handlers.IngestBatch)
		r.Get("/documents/{id}/chunks", handlers.ListChunks)
		r.Delete("/documents/{id}", handlers.RemoveDocument)
		r.Get("/chunks/{id}", handlers.GetChunk)
		r.Post("/query", handlers.Query)
		r.Post("/answer", handlers.Answer)
		r.Get("/stats", handlers.Stats)
	})
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func ingestDoc(t *testing.T, router http.Handler, id, text string) {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/v1/documents", apitypes.IngestRequest{
		Document: types.RawDocument{ID: id, RawText: text},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest %s: status %d: %s", id, rec.Code, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp apitypes.HealthResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "ok" {
		t.Errorf("status = %q", resp.Status)
	}
	if rec.Header().Get(api.RequestIDHeader) == "" {
		t.Errorf("missing request id header")
	}
}

func TestIngestAndQuery(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/documents", apitypes.IngestRequest{
		Document: types.RawDocument{ID: "doc-1", RawText: "The maintenance window opens in March."},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var ingResp apitypes.IngestResponse
	json.Unmarshal(rec.Body.Bytes(), &ingResp)
	if ingResp.Result == nil || ingResp.Result.TotalChunks != 1 {
		t.Errorf("result = %+v", ingResp.Result)
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/query", apitypes.QueryRequest{
		Query: "The maintenance window opens in March.",
		TopK:  1,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("query status = %d: %s", rec.Code, rec.Body.String())
	}
	var qResp apitypes.QueryResponse
	json.Unmarshal(rec.Body.Bytes(), &qResp)
	if len(qResp.Results) != 1 || qResp.Results[0].Chunk.SourceDocumentID != "doc-1" {
		t.Errorf("results = %+v", qResp.Results)
	}
}

func TestIngestValidation(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/documents", apitypes.IngestRequest{
		Document: types.RawDocument{RawText: "no id"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing id status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/documents", apitypes.IngestRequest{
		Document: types.RawDocument{ID: "empty-doc", RawText: "   "},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty document status = %d: %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", bytes.NewBufferString("{not json"))
	recRaw := httptest.NewRecorder()
	router.ServeHTTP(recRaw, req)
	if recRaw.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", recRaw.Code)
	}
}

func TestQueryValidation(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/v1/query", apitypes.QueryRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty query status = %d", rec.Code)
	}
}

func TestGetChunkAndNotFound(t *testing.T) {
	router := newTestRouter(t)
	ingestDoc(t, router, "doc-1", "Retrievable content.")

	rec := doJSON(t, router, http.MethodGet, "/v1/chunks/doc-1:0", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp apitypes.ChunkResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Chunk.Text != "Retrievable content." {
		t.Errorf("chunk = %+v", resp.Chunk)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/chunks/missing:0", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing chunk status = %d", rec.Code)
	}
}

func TestListChunksAndRemove(t *testing.T) {
	router := newTestRouter(t)
	ingestDoc(t, router, "doc-1", "Some document content.")

	rec := doJSON(t, router, http.MethodGet, "/v1/documents/doc-1/chunks", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listResp apitypes.ChunksResponse
	json.Unmarshal(rec.Body.Bytes(), &listResp)
	if len(listResp.Chunks) != 1 {
		t.Errorf("chunks = %+v", listResp.Chunks)
	}

	rec = doJSON(t, router, http.MethodDelete, "/v1/documents/doc-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("remove status = %d", rec.Code)
	}
	var rmResp apitypes.RemoveResponse
	json.Unmarshal(rec.Body.Bytes(), &rmResp)
	if rmResp.Removed != 1 {
		t.Errorf("removed = %d", rmResp.Removed)
	}

	// Removing again removes nothing and is not an error.
	rec = doJSON(t, router, http.MethodDelete, "/v1/documents/doc-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("second remove status = %d", rec.Code)
	}
	json.Unmarshal(rec.Body.Bytes(), &rmResp)
	if rmResp.Removed != 0 {
		t.Errorf("second removed = %d", rmResp.Removed)
	}
}

func TestBatchIngest(t *testing.T) {
	router := newTestRouter(t)

	docs := make([]types.RawDocument, 3)
	for i := range docs {
		docs[i] = types.RawDocument{
			ID:      fmt.Sprintf("doc-%d", i),
			RawText: fmt.Sprintf("Document number %d.", i),
		}
	}
	rec := doJSON(t, router, http.MethodPost, "/v1/documents/batch", apitypes.BatchIngestRequest{Documents: docs})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp apitypes.BatchIngestResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Results) != 3 {
		t.Errorf("results = %+v", resp.Results)
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/documents/batch", apitypes.BatchIngestRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty batch status = %d", rec.Code)
	}
}

func TestStats(t *testing.T) {
	router := newTestRouter(t)
	ingestDoc(t, router, "doc-1", "Counted content.")

	rec := doJSON(t, router, http.MethodGet, "/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp apitypes.StatsResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Stats.Chunks != 1 || resp.Stats.Documents != 1 || resp.Stats.Driver != "local" {
		t.Errorf("stats = %+v", resp.Stats)
	}
}

func TestAnswerWithoutGenerator(t *testing.T) {
	router := newTestRouter(t)
	ingestDoc(t, router, "doc-1", "Some content.")

	rec := doJSON(t, router, http.MethodPost, "/v1/answer", apitypes.AnswerRequest{Question: "anything?"})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("answer without generator status = %d", rec.Code)
	}
}

type streamGenerator struct {
	response string
}

func (g *streamGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	return g.response, nil
}

func (g *streamGenerator) Stream(ctx context.Context, prompt string, fn func(string) error) error {
	for _, w := range strings.SplitAfter(g.response, " ") {
		if err := fn(w); err != nil {
			return err
		}
	}
	return nil
}

func newStreamingRouter(t *testing.T) chi.Router {
	t.Helper()
	col, err := collection.OpenLocal(t.TempDir(), testDim)
	if err != nil {
		t.Fatalf("OpenLocal failed: %v", err)
	}
	svc := service.New(col, mockEmbedder{}, service.Config{
		Generator: &streamGenerator{response: "In March."},
		Logger:    log.New(io.Discard, "", 0),
	})
	handlers := api.NewHandlers(svc)

	r := chi.NewRouter()
	r.Post("/v1/documents", handlers.Ingest)
	r.Post("/v1/answer", handlers.Answer)
	return r
}

func TestAnswerStreaming(t *testing.T) {
	router := newStreamingRouter(t)
	ingestDoc(t, router, "doc-1", "The maintenance window opens in March.")

	rec := doJSON(t, router, http.MethodPost, "/v1/answer", apitypes.AnswerRequest{
		Question: "The maintenance window opens in March.",
		Stream:   true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("content type = %q", ct)
	}

	var tokens strings.Builder
	var done apitypes.AnswerStreamFragment
	dec := json.NewDecoder(rec.Body)
	for dec.More() {
		var frag apitypes.AnswerStreamFragment
		if err := dec.Decode(&frag); err != nil {
			t.Fatalf("decode fragment: %v", err)
		}
		if frag.Done {
			done = frag
			break
		}
		tokens.WriteString(frag.Token)
	}

	if tokens.String() != "In March." {
		t.Errorf("streamed tokens = %q", tokens.String())
	}
	if !done.Done || done.Answer != "In March." {
		t.Errorf("done fragment = %+v", done)
	}
	if len(done.Sources) != 1 || done.Sources[0].Chunk.SourceDocumentID != "doc-1" {
		t.Errorf("sources = %+v", done.Sources)
	}
}

func TestAnswerStreamingWithoutGenerator(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/v1/answer", apitypes.AnswerRequest{
		Question: "anything?",
		Stream:   true,
	})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
}
