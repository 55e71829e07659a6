// internal/embedder/ollama.go
package embedder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MereWhiplash/codex-arbiter/internal/types"
)

const (
	// DefaultEmbedModel is the default embedding model. nomic-embed-text
	// requires task prefixes on its input; see embed().
	DefaultEmbedModel = "nomic-embed-text"
	// DefaultGenerateModel is the default completion model.
	DefaultGenerateModel = "llama3.2"
	// DefaultDimension is the output dimension of nomic-embed-text.
	DefaultDimension = 768
)

// Ollama implements Embedder and Generator against the Ollama API.
type Ollama struct {
	baseURL       string
	embedModel    string
	generateModel string
	dimension     int
	http          *http.Client
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Option configures an Ollama client.
type Option func(*Ollama)

// WithGenerateModel sets the completion model.
func WithGenerateModel(model string) Option {
	return func(o *Ollama) { o.generateModel = model }
}

// WithDimension sets the expected embedding dimension.
func WithDimension(dim int) Option {
	return func(o *Ollama) { o.dimension = dim }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Ollama) { o.http = c }
}

// NewOllama creates a new Ollama client.
func NewOllama(baseURL, embedModel string, opts ...Option) *Ollama {
	if embedModel == "" {
		embedModel = DefaultEmbedModel
	}
	o := &Ollama{
		baseURL:       strings.TrimRight(baseURL, "/"),
		embedModel:    embedModel,
		generateModel: DefaultGenerateModel,
		dimension:     DefaultDimension,
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Dimension returns the configured embedding dimension.
func (o *Ollama) Dimension() int { return o.dimension }

func (o *Ollama) embed(ctx context.Context, text string) ([]float32, error) {
	reqBody := embeddingRequest{
		Model:  o.embedModel,
		Prompt: text,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := o.baseURL + "/api/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.http.Do(req)
	if err != nil {
		return nil, &types.GatewayUnavailableError{Endpoint: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var embResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(embResp.Embedding) != o.dimension {
		return nil, &types.DimensionMismatchError{Want: o.dimension, Got: len(embResp.Embedding)}
	}

	return embResp.Embedding, nil
}

// EmbedDocuments embeds each text with the storage-side task prefix.
// The API accepts one prompt per call, so the batch is a sequential
// loop; a failure on text i aborts the whole batch.
func (o *Ollama) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for i, text := range texts {
		if o.embedModel == "nomic-embed-text" {
			text = "search_document: " + text
		}
		vec, err := o.embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d of %d: %w", i+1, len(texts), err)
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

// EmbedQuery embeds a search query with the query-side task prefix.
func (o *Ollama) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if o.embedModel == "nomic-embed-text" {
		query = "search_query: " + query
	}
	return o.embed(ctx, query)
}

// Stream generates a completion for the prompt, calling fn once per
// NDJSON fragment from the Ollama generate endpoint. An fn error or a
// cancelled context stops generation; closing the response body tells
// the server to stop producing.
func (o *Ollama) Stream(ctx context.Context, prompt string, fn func(token string) error) error {
	reqBody := generateRequest{
		Model:  o.generateModel,
		Prompt: prompt,
		Stream: true,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := o.baseURL + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.http.Do(req)
	if err != nil {
		return &types.GatewayUnavailableError{Endpoint: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var frag generateResponse
		if err := json.Unmarshal(line, &frag); err != nil {
			return fmt.Errorf("failed to decode stream fragment: %w", err)
		}
		if frag.Response != "" {
			if err := fn(frag.Response); err != nil {
				return err
			}
		}
		if frag.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read stream: %w", err)
	}
	return nil
}

// Complete generates a completion for the prompt by concatenating the
// streamed fragments.
func (o *Ollama) Complete(ctx context.Context, prompt string) (string, error) {
	var out strings.Builder
	err := o.Stream(ctx, prompt, func(token string) error {
		out.WriteString(token)
		return nil
	})
	if err != nil {
		return "", err
	}
	return out.String(), nil
}
