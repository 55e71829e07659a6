// internal/chunker/chunker.go
// Package chunker converts a RawDocument (plus any analysis computed
// upstream) into the ordered set of chunks that will be embedded. The
// chunk text is fully self-contained: a data chunk built from messy
// tabular input carries its analysis context inside the embedded text,
// never only in attributes.
package chunker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MereWhiplash/codex-arbiter/internal/types"
)

// Config controls how documents are split into chunks.
type Config struct {
	ChunkSize    int // maximum plain-text window size in characters
	ChunkOverlap int // characters shared between consecutive windows
	MinChunkSize int // windows shorter than this are dropped
	RowBatchSize int // table rows per data chunk
}

// Default chunking parameters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	DefaultMinChunkSize = 100
	DefaultRowBatchSize = 25
)

// DefaultConfig returns the default chunking configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
		MinChunkSize: DefaultMinChunkSize,
		RowBatchSize: DefaultRowBatchSize,
	}
}

func (c Config) normalized() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 0
	}
	if c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = c.ChunkSize / 2
	}
	if c.MinChunkSize < 0 {
		c.MinChunkSize = 0
	}
	if c.RowBatchSize <= 0 {
		c.RowBatchSize = DefaultRowBatchSize
	}
	return c
}

// Build converts a document into its ordered chunk sequence. Messy
// documents take the tabular path and require an analysis; everything
// else is split into overlapping plain-text windows. Identical input
// always produces identical chunk IDs, kinds, and texts.
func Build(doc types.RawDocument, analysis *types.Analysis, cfg Config) ([]types.Chunk, error) {
	cfg = cfg.normalized()

	hasRows := false
	for _, t := range doc.Tables {
		if t.RowCount() > 0 {
			hasRows = true
			break
		}
	}

	if strings.TrimSpace(doc.RawText) == "" && !hasRows {
		return nil, &types.EmptyDocumentError{DocumentID: doc.ID}
	}

	if doc.Messy {
		if analysis == nil {
			return nil, types.ErrMissingAnalysis
		}
		if hasRows {
			return buildTabular(doc, analysis, cfg), nil
		}
		// Messy flag without usable tables: fall through to plain text.
	}

	return buildPlainText(doc, cfg), nil
}

// buildPlainText splits raw text into overlapping windows, preferring
// sentence boundaries. When the document carries only tables (well
// structured, no analysis needed) the tables are serialized first.
func buildPlainText(doc types.RawDocument, cfg Config) []types.Chunk {
	text := strings.TrimSpace(doc.RawText)
	if text == "" {
		text = serializeTables(doc.Tables)
	}

	windows := splitWindows(text, cfg)

	chunks := make([]types.Chunk, 0, len(windows))
	for i, w := range windows {
		chunks = append(chunks, types.Chunk{
			ID:               chunkID(doc.ID, i),
			SourceDocumentID: doc.ID,
			Kind:             types.KindPlainText,
			Text:             w,
			Order:            i,
			Attributes: map[string]string{
				"source_path": doc.SourcePath,
			},
		})
	}
	return chunks
}

// buildTabular emits one analysis chunk followed by one data chunk per
// row batch. The analysis excerpt is prepended into every data chunk's
// text so that questions about data meaning can match data-bearing
// chunks by semantic similarity alone.
func buildTabular(doc types.RawDocument, analysis *types.Analysis, cfg Config) []types.Chunk {
	order := 0
	chunks := []types.Chunk{{
		ID:               chunkID(doc.ID, order),
		SourceDocumentID: doc.ID,
		Kind:             types.KindAnalysis,
		Text:             analysisText(analysis),
		Order:            order,
		Attributes: map[string]string{
			"source_path": doc.SourcePath,
		},
	}}
	order++

	for _, table := range doc.Tables {
		rows := table.Rows
		for start := 0; start < len(rows); start += cfg.RowBatchSize {
			end := start + cfg.RowBatchSize
			if end > len(rows) {
				end = len(rows)
			}

			chunks = append(chunks, types.Chunk{
				ID:               chunkID(doc.ID, order),
				SourceDocumentID: doc.ID,
				Kind:             types.KindData,
				Text:             dataText(analysis, table, start, end),
				Order:            order,
				Attributes: map[string]string{
					"source_path": doc.SourcePath,
					"table":       table.Name,
					"row_range":   fmt.Sprintf("%d-%d", start, end-1),
				},
			})
			order++
		}
	}
	return chunks
}

// analysisText renders the full analysis narrative as one chunk. It
// carries no raw data rows.
func analysisText(a *types.Analysis) string {
	var b strings.Builder
	b.WriteString("DATA STRUCTURE ANALYSIS AND INTERPRETATION\n")

	b.WriteString("\n=== DATA ANALYSIS ===\n")
	b.WriteString(strings.TrimSpace(a.Summary))
	b.WriteString("\n")

	b.WriteString("\n=== INTERPRETATION & GUIDANCE ===\n")
	b.WriteString(strings.TrimSpace(a.Interpretation))
	b.WriteString("\n")

	b.WriteString("\n=== STRUCTURED SUMMARY ===\n")
	writeStructuredSummary(&b, a.StructuredSummary)

	return strings.TrimSpace(b.String())
}

func writeStructuredSummary(b *strings.Builder, s types.StructuredSummary) {
	if len(s.Columns) > 0 {
		b.WriteString("Columns:\n")
		for _, name := range sortedKeys(s.Columns) {
			fmt.Fprintf(b, "  %s: %s\n", name, s.Columns[name])
		}
	}
	if len(s.Patterns) > 0 {
		b.WriteString("Detected patterns:\n")
		for _, p := range s.Patterns {
			fmt.Fprintf(b, "  - %s\n", p)
		}
	}
	if len(s.SuggestedQuestions) > 0 {
		b.WriteString("Suggested questions:\n")
		for _, q := range s.SuggestedQuestions {
			fmt.Fprintf(b, "  - %s\n", q)
		}
	}
}

// dataText renders one row batch with its analysis context. Section
// order is fixed: analysis excerpt, data rows, interpretation excerpt.
func dataText(a *types.Analysis, table types.Table, start, end int) string {
	var b strings.Builder

	b.WriteString("DATA CONTEXT (from analysis):\n")
	b.WriteString(strings.TrimSpace(a.Summary))
	b.WriteString("\n")
	if len(a.StructuredSummary.Columns) > 0 {
		for _, name := range relevantColumns(a.StructuredSummary.Columns, table.Headers) {
			fmt.Fprintf(&b, "%s: %s\n", name, a.StructuredSummary.Columns[name])
		}
	}

	label := table.Name
	if label == "" {
		label = "table"
	}
	fmt.Fprintf(&b, "\nDATA ROWS (%s, rows %d-%d):\n", label, start, end-1)
	if len(table.Headers) > 0 {
		b.WriteString(strings.Join(table.Headers, " | "))
		b.WriteString("\n")
	}
	for _, row := range table.Rows[start:end] {
		b.WriteString(strings.Join(row, " | "))
		b.WriteString("\n")
	}

	b.WriteString("\nINTERPRETATION:\n")
	b.WriteString(excerpt(a.Interpretation, 240))

	return strings.TrimSpace(b.String())
}

// relevantColumns returns the structured-summary column names that match
// the table headers, or all of them when the headers carry no matches
// (messy input often has meaningless headers).
func relevantColumns(columns map[string]string, headers []string) []string {
	headerSet := make(map[string]bool, len(headers))
	for _, h := range headers {
		headerSet[strings.ToLower(strings.TrimSpace(h))] = true
	}

	var matched []string
	for _, name := range sortedKeys(columns) {
		if headerSet[strings.ToLower(name)] {
			matched = append(matched, name)
		}
	}
	if len(matched) > 0 {
		return matched
	}
	return sortedKeys(columns)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// splitWindows slices text into overlapping windows of at most
// cfg.ChunkSize characters, backing off to the last sentence boundary
// inside each window when one exists. The first and last windows are
// kept regardless of MinChunkSize: dropping the tail would make the
// final characters of the document unsearchable.
func splitWindows(text string, cfg Config) []string {
	runes := []rune(text)
	if len(runes) <= cfg.ChunkSize {
		return []string{strings.TrimSpace(text)}
	}

	var windows []string
	start := 0
	for start < len(runes) {
		end := start + cfg.ChunkSize
		last := end >= len(runes)
		if last {
			end = len(runes)
		} else if cut := sentenceCut(runes[start:end]); cut > cfg.ChunkOverlap {
			end = start + cut
		}

		w := strings.TrimSpace(string(runes[start:end]))
		if len([]rune(w)) >= cfg.MinChunkSize || len(windows) == 0 || last {
			windows = append(windows, w)
		}

		if end == len(runes) {
			break
		}
		start = end - cfg.ChunkOverlap
	}
	return windows
}

// sentenceCut returns the index just past the last sentence-ending
// punctuation followed by whitespace, or 0 when none exists.
func sentenceCut(window []rune) int {
	for i := len(window) - 2; i > 0; i-- {
		if isSentenceEnd(window[i]) && (window[i+1] == ' ' || window[i+1] == '\n') {
			return i + 2
		}
	}
	return 0
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '。' || r == '！' || r == '？'
}

// serializeTables renders well-structured tables as plain text so they
// can be window-chunked like any other document.
func serializeTables(tables []types.Table) string {
	var b strings.Builder
	for _, t := range tables {
		if t.Name != "" {
			b.WriteString(t.Name)
			b.WriteString("\n")
		}
		if len(t.Headers) > 0 {
			b.WriteString(strings.Join(t.Headers, " | "))
			b.WriteString("\n")
		}
		for _, row := range t.Rows {
			b.WriteString(strings.Join(row, " | "))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// excerpt truncates text to at most n characters at a word boundary.
func excerpt(text string, n int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	cut := string(runes[:n])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}

func chunkID(docID string, order int) string {
	return fmt.Sprintf("%s:%d", docID, order)
}
