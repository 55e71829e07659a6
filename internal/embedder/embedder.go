// internal/embedder/embedder.go
package embedder

import "context"

// Embedder generates vector embeddings for text
type Embedder interface {
	// EmbedDocuments creates embeddings optimized for document storage,
	// one vector per input text, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery creates an embedding optimized for search queries
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	// Dimension returns the vector dimension the model produces
	Dimension() int
}

// Generator produces text completions. Used for document analysis and
// answer generation; retrieval itself never depends on it.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	// Stream delivers the completion incrementally, calling fn once per
	// generated fragment in order. Generation stops when fn returns an
	// error or the context is cancelled, and Stream returns that error.
	Stream(ctx context.Context, prompt string, fn func(token string) error) error
}
