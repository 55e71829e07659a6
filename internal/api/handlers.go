// internal/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MereWhiplash/codex-arbiter/internal/retriever"
	"github.com/MereWhiplash/codex-arbiter/internal/service"
	"github.com/MereWhiplash/codex-arbiter/internal/types"
)

// Handlers holds HTTP handler dependencies
type Handlers struct {
	svc         *service.Service
	healthCheck func() error
}

// NewHandlers creates new API handlers
func NewHandlers(svc *service.Service) *Handlers {
	return &Handlers{svc: svc}
}

// SetHealthCheck installs a connectivity probe run by /health.
func (h *Handlers) SetHealthCheck(check func() error) {
	h.healthCheck = check
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, msg string) {
	h.respondJSON(w, status, ErrorResponse{Error: msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var emptyErr *types.EmptyDocumentError
	var dimErr *types.DimensionMismatchError
	var gwErr *types.GatewayUnavailableError
	var consErr *types.ConsistencyError

	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &emptyErr), errors.Is(err, types.ErrMissingAnalysis), errors.As(err, &dimErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &gwErr):
		return http.StatusBadGateway
	case errors.As(err, &consErr):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.healthCheck != nil {
		if err := h.healthCheck(); err != nil {
			h.respondJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded"})
			return
		}
	}
	h.respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Ingest handles POST /v1/documents
func (h *Handlers) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Document.ID == "" {
		h.respondError(w, http.StatusBadRequest, "document.id is required")
		return
	}

	result, err := h.svc.Ingest(r.Context(), req.Document, req.Analysis)
	if err != nil {
		h.respondError(w, statusFor(err), err.Error())
		return
	}

	h.respondJSON(w, http.StatusCreated, IngestResponse{Result: result})
}

// IngestBatch handles POST /v1/documents/batch
func (h *Handlers) IngestBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.Documents) == 0 {
		h.respondError(w, http.StatusBadRequest, "documents is required")
		return
	}

	results, err := h.svc.IngestBatch(r.Context(), req.Documents)
	if err != nil {
		h.respondError(w, statusFor(err), err.Error())
		return
	}

	h.respondJSON(w, http.StatusCreated, BatchIngestResponse{Results: results})
}

// Query handles POST /v1/query
func (h *Handlers) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Query == "" {
		h.respondError(w, http.StatusBadRequest, "query is required")
		return
	}

	results, err := h.svc.Query(r.Context(), req.Query, retriever.Options{
		TopK:      req.TopK,
		Threshold: req.Threshold,
		Hybrid:    req.Hybrid,
		Rerank:    req.Rerank,
	})
	if err != nil {
		h.respondError(w, statusFor(err), err.Error())
		return
	}
	if results == nil {
		results = []types.ScoredResult{}
	}

	h.respondJSON(w, http.StatusOK, QueryResponse{Results: results})
}

// Answer handles POST /v1/answer
func (h *Handlers) Answer(w http.ResponseWriter, r *http.Request) {
	var req AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Question == "" {
		h.respondError(w, http.StatusBadRequest, "question is required")
		return
	}

	opts := retriever.Options{
		TopK:      req.TopK,
		Threshold: req.Threshold,
		Hybrid:    req.Hybrid,
	}

	if req.Stream {
		h.streamAnswer(w, r, req.Question, opts)
		return
	}

	ans, err := h.svc.Answer(r.Context(), req.Question, opts)
	if err != nil {
		h.respondError(w, statusFor(err), err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, AnswerResponse{Answer: ans.Text, Sources: ans.Sources})
}

// streamAnswer writes the answer as NDJSON fragments, flushing after
// each token, and closes with a done fragment carrying the sources.
// Errors before the first token get a normal error response; a failure
// mid-stream can only drop the connection.
func (h *Handlers) streamAnswer(w http.ResponseWriter, r *http.Request, question string, opts retriever.Options) {
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	started := false

	ans, err := h.svc.AnswerStream(r.Context(), question, opts, func(token string) error {
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := enc.Encode(AnswerStreamFragment{Token: token}); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err != nil {
		if !started {
			h.respondError(w, statusFor(err), err.Error())
		}
		return
	}

	if !started {
		w.Header().Set("Content-Type", "application/x-ndjson")
	}
	enc.Encode(AnswerStreamFragment{Done: true, Answer: ans.Text, Sources: ans.Sources})
	if flusher != nil {
		flusher.Flush()
	}
}

// GetChunk handles GET /v1/chunks/{id}
func (h *Handlers) GetChunk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ch, err := h.svc.GetChunk(r.Context(), id)
	if err != nil {
		h.respondError(w, statusFor(err), err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, ChunkResponse{Chunk: ch})
}

// ListChunks handles GET /v1/documents/{id}/chunks
func (h *Handlers) ListChunks(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "id")

	chunks, err := h.svc.ListDocumentChunks(r.Context(), docID)
	if err != nil {
		h.respondError(w, statusFor(err), err.Error())
		return
	}
	if chunks == nil {
		chunks = []types.Chunk{}
	}

	h.respondJSON(w, http.StatusOK, ChunksResponse{Chunks: chunks})
}

// RemoveDocument handles DELETE /v1/documents/{id}
func (h *Handlers) RemoveDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "id")

	removed, err := h.svc.Remove(r.Context(), docID)
	if err != nil {
		h.respondError(w, statusFor(err), err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, RemoveResponse{Removed: removed})
}

// Stats handles GET /v1/stats
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		h.respondError(w, statusFor(err), err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, StatsResponse{Stats: stats})
}
