// internal/client/client.go
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/MereWhiplash/codex-arbiter/internal/apitypes"
	"github.com/MereWhiplash/codex-arbiter/internal/retriever"
	"github.com/MereWhiplash/codex-arbiter/internal/types"
)

// Client is an HTTP client for the central API
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a new API client
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	return c.http.Do(req)
}

func apiError(resp *http.Response) error {
	var errResp apitypes.ErrorResponse
	json.NewDecoder(resp.Body).Decode(&errResp)
	if errResp.Error == "" {
		errResp.Error = resp.Status
	}
	return fmt.Errorf("API error: %s", errResp.Error)
}

// Ingest stores a document through the API
func (c *Client) Ingest(ctx context.Context, doc types.RawDocument, analysis *types.Analysis) (*types.IngestResult, error) {
	req := apitypes.IngestRequest{
		Document: doc,
		Analysis: analysis,
	}

	resp, err := c.doRequest(ctx, "POST", "/v1/documents", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, apiError(resp)
	}

	var result apitypes.IngestResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return result.Result, nil
}

// IngestBatch stores several documents in one call
func (c *Client) IngestBatch(ctx context.Context, docs []types.RawDocument) ([]types.IngestResult, error) {
	req := apitypes.BatchIngestRequest{
		Documents: docs,
	}

	resp, err := c.doRequest(ctx, "POST", "/v1/documents/batch", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, apiError(resp)
	}

	var result apitypes.BatchIngestResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return result.Results, nil
}

// Query searches stored chunks
func (c *Client) Query(ctx context.Context, query string, opts retriever.Options) ([]types.ScoredResult, error) {
	req := apitypes.QueryRequest{
		Query:     query,
		TopK:      opts.TopK,
		Threshold: opts.Threshold,
		Hybrid:    opts.Hybrid,
		Rerank:    opts.Rerank,
	}

	resp, err := c.doRequest(ctx, "POST", "/v1/query", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var result apitypes.QueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return result.Results, nil
}

// Answer asks a question grounded on stored content
func (c *Client) Answer(ctx context.Context, question string, topK int) (*apitypes.AnswerResponse, error) {
	req := apitypes.AnswerRequest{
		Question: question,
		TopK:     topK,
	}

	resp, err := c.doRequest(ctx, "POST", "/v1/answer", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var result apitypes.AnswerResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

// GetChunk fetches one chunk by ID
func (c *Client) GetChunk(ctx context.Context, id string) (*types.Chunk, error) {
	resp, err := c.doRequest(ctx, "GET", "/v1/chunks/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, types.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var result apitypes.ChunkResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result.Chunk, nil
}

// ListChunks returns a document's chunks in order
func (c *Client) ListChunks(ctx context.Context, documentID string) ([]types.Chunk, error) {
	resp, err := c.doRequest(ctx, "GET", "/v1/documents/"+url.PathEscape(documentID)+"/chunks", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var result apitypes.ChunksResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return result.Chunks, nil
}

// Remove deletes a document and its chunks
func (c *Client) Remove(ctx context.Context, documentID string) (int, error) {
	resp, err := c.doRequest(ctx, "DELETE", "/v1/documents/"+url.PathEscape(documentID), nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, apiError(resp)
	}

	var result apitypes.RemoveResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, err
	}

	return result.Removed, nil
}

// Stats reports collection statistics
func (c *Client) Stats(ctx context.Context) (types.CollectionStats, error) {
	resp, err := c.doRequest(ctx, "GET", "/v1/stats", nil)
	if err != nil {
		return types.CollectionStats{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.CollectionStats{}, apiError(resp)
	}

	var result apitypes.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return types.CollectionStats{}, err
	}

	return result.Stats, nil
}
