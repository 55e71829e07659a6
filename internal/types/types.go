// internal/types/types.go
// Package types contains shared domain types that have no external
// dependencies. This allows packages like the shim to use Chunk and the
// error taxonomy without pulling in sqlite-vec or database drivers.
package types

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a document or chunk is not found.
var ErrNotFound = errors.New("not found")

// ErrMissingAnalysis is returned when a document flagged messy is
// ingested without the analysis that messy input requires.
var ErrMissingAnalysis = errors.New("messy document requires an analysis")

// ContentKind describes where a document's text came from.
type ContentKind string

const (
	ContentText      ContentKind = "text"
	ContentTable     ContentKind = "table"
	ContentImageText ContentKind = "image_text"
)

// ChunkKind represents the kind of a retrievable chunk.
type ChunkKind string

const (
	KindAnalysis  ChunkKind = "analysis"
	KindData      ChunkKind = "data"
	KindPlainText ChunkKind = "plain_text"
)

// Valid returns true if the ChunkKind is a known valid kind.
func (k ChunkKind) Valid() bool {
	switch k {
	case KindAnalysis, KindData, KindPlainText:
		return true
	}
	return false
}

// Validate returns an error if the ChunkKind is invalid.
func (k ChunkKind) Validate() error {
	if !k.Valid() {
		return fmt.Errorf("invalid chunk kind %q: must be analysis, data, or plain_text", k)
	}
	return nil
}

// Table is one extracted table from a source document.
type Table struct {
	Name    string     `json:"name,omitempty"`
	Headers []string   `json:"headers,omitempty"`
	Rows    [][]string `json:"rows"`
}

// RowCount returns the number of data rows in the table.
func (t Table) RowCount() int { return len(t.Rows) }

// RawDocument is the immutable output of upstream content extraction.
type RawDocument struct {
	ID          string      `json:"id"`
	SourcePath  string      `json:"source_path"`
	ContentKind ContentKind `json:"content_kind"`
	RawText     string      `json:"raw_text"`
	Tables      []Table     `json:"tables,omitempty"`
	// Messy is set by upstream detection for tabular input that lacks
	// self-describing structure. Messy documents must carry an Analysis.
	Messy bool `json:"messy,omitempty"`
}

// StructuredSummary is the machine-oriented part of an Analysis.
type StructuredSummary struct {
	Columns            map[string]string `json:"columns,omitempty"`
	Patterns           []string          `json:"patterns,omitempty"`
	SuggestedQuestions []string          `json:"suggested_questions,omitempty"`
}

// Analysis is the AI-generated understanding of a RawDocument. Produced
// at most once per document; mandatory for messy input.
type Analysis struct {
	Summary           string            `json:"summary"`
	Interpretation    string            `json:"interpretation"`
	StructuredSummary StructuredSummary `json:"structured_summary"`
}

// Chunk is the atomic retrievable unit. Text is the exact string that was
// embedded; every fact that must be retrievable about the chunk lives in
// Text, never only in Attributes.
type Chunk struct {
	ID               string            `json:"id"`
	SourceDocumentID string            `json:"source_document_id"`
	Kind             ChunkKind         `json:"kind"`
	Text             string            `json:"text"`
	Order            int               `json:"order"`
	Attributes       map[string]string `json:"attributes,omitempty"`
}

// ScoredChunk is a collection search hit carrying the raw distance
// reported by the vector index (ascending = closer).
type ScoredChunk struct {
	Chunk    Chunk   `json:"chunk"`
	Distance float64 `json:"distance"`
}

// ScoredResult is a retrieval result carrying a normalized similarity
// score in (0, 1], higher = better.
type ScoredResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// IngestResult reports what an ingestion created, split by chunk kind
// for observability.
type IngestResult struct {
	DocumentID     string `json:"document_id"`
	AnalysisChunks int    `json:"analysis_chunks"`
	DataChunks     int    `json:"data_chunks"`
	PlainChunks    int    `json:"plain_chunks"`
	TotalChunks    int    `json:"total_chunks"`
}

// CollectionStats describes the live state of a collection.
type CollectionStats struct {
	Driver    string `json:"driver"`
	Chunks    int    `json:"chunks"`
	Documents int    `json:"documents"`
	Dimension int    `json:"dimension"`
}
