package chunker

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/MereWhiplash/codex-arbiter/internal/types"
)

func messyDoc(rows int) (types.RawDocument, *types.Analysis) {
	table := types.Table{
		Name:    "q3_export",
		Headers: []string{"col_a", "col_b", "col_c"},
	}
	for i := 0; i < rows; i++ {
		table.Rows = append(table.Rows, []string{
			fmt.Sprintf("r%d", i), fmt.Sprintf("%d", i*10), "ok",
		})
	}
	doc := types.RawDocument{
		ID:          "doc-1",
		SourcePath:  "/data/q3_export.xlsx",
		ContentKind: types.ContentTable,
		Tables:      []types.Table{table},
		Messy:       true,
	}
	analysis := &types.Analysis{
		Summary:        "Quarterly export with one row per shipment.",
		Interpretation: "col_b is the shipment weight in kilograms, col_c the customs status.",
		StructuredSummary: types.StructuredSummary{
			Columns: map[string]string{
				"col_a": "shipment identifier",
				"col_b": "weight in kg",
			},
			Patterns:           []string{"weights increase monotonically"},
			SuggestedQuestions: []string{"What is the heaviest shipment?"},
		},
	}
	return doc, analysis
}

func TestBuildTabularChunkCounts(t *testing.T) {
	doc, analysis := messyDoc(10)
	cfg := DefaultConfig()
	cfg.RowBatchSize = 4

	chunks, err := Build(doc, analysis, cfg)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// 1 analysis chunk + ceil(10/4) = 3 data chunks.
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	if chunks[0].Kind != types.KindAnalysis {
		t.Errorf("chunk 0 kind = %q, want analysis", chunks[0].Kind)
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Kind != types.KindData {
			t.Errorf("chunk %d kind = %q, want data", i, chunks[i].Kind)
		}
	}

	wantRanges := []string{"0-3", "4-7", "8-9"}
	for i, want := range wantRanges {
		got := chunks[i+1].Attributes["row_range"]
		if got != want {
			t.Errorf("data chunk %d row_range = %q, want %q", i, got, want)
		}
	}
}

func TestBuildTabularChunkIDsAndOrder(t *testing.T) {
	doc, analysis := messyDoc(10)
	cfg := DefaultConfig()
	cfg.RowBatchSize = 4

	chunks, err := Build(doc, analysis, cfg)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	for i, c := range chunks {
		if c.Order != i {
			t.Errorf("chunk %d order = %d", i, c.Order)
		}
		wantID := fmt.Sprintf("doc-1:%d", i)
		if c.ID != wantID {
			t.Errorf("chunk %d id = %q, want %q", i, c.ID, wantID)
		}
		if c.SourceDocumentID != "doc-1" {
			t.Errorf("chunk %d source doc = %q", i, c.SourceDocumentID)
		}
	}
}

func TestBuildTabularAnalysisSections(t *testing.T) {
	doc, analysis := messyDoc(5)
	chunks, err := Build(doc, analysis, DefaultConfig())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	text := chunks[0].Text
	ia := strings.Index(text, "=== DATA ANALYSIS ===")
	ig := strings.Index(text, "=== INTERPRETATION & GUIDANCE ===")
	is := strings.Index(text, "=== STRUCTURED SUMMARY ===")
	if ia < 0 || ig < 0 || is < 0 {
		t.Fatalf("analysis chunk missing a labeled section:\n%s", text)
	}
	if !(ia < ig && ig < is) {
		t.Errorf("sections out of order: analysis=%d guidance=%d summary=%d", ia, ig, is)
	}
	if !strings.Contains(text, "What is the heaviest shipment?") {
		t.Errorf("analysis chunk missing suggested question")
	}
	if strings.Contains(text, "r0 | 0 | ok") {
		t.Errorf("analysis chunk must not contain raw data rows")
	}
}

func TestBuildTabularDataChunkIsSelfContained(t *testing.T) {
	doc, analysis := messyDoc(5)
	chunks, err := Build(doc, analysis, DefaultConfig())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	data := chunks[1].Text
	ic := strings.Index(data, "DATA CONTEXT")
	ir := strings.Index(data, "DATA ROWS")
	ii := strings.Index(data, "INTERPRETATION:")
	if ic < 0 || ir < 0 || ii < 0 {
		t.Fatalf("data chunk missing a labeled section:\n%s", data)
	}
	if !(ic < ir && ir < ii) {
		t.Errorf("sections out of order: context=%d rows=%d interpretation=%d", ic, ir, ii)
	}
	if !strings.Contains(data, "Quarterly export") {
		t.Errorf("data chunk missing analysis excerpt")
	}
	if !strings.Contains(data, "r2 | 20 | ok") {
		t.Errorf("data chunk missing serialized rows")
	}
	if !strings.Contains(data, "col_b: weight in kg") {
		t.Errorf("data chunk missing column meaning for a matching header")
	}
}

func TestBuildDeterministic(t *testing.T) {
	doc, analysis := messyDoc(10)
	cfg := DefaultConfig()
	cfg.RowBatchSize = 3

	a, err := Build(doc, analysis, cfg)
	if err != nil {
		t.Fatalf("first Build failed: %v", err)
	}
	b, err := Build(doc, analysis, cfg)
	if err != nil {
		t.Fatalf("second Build failed: %v", err)
	}
	if len(a) != len(b) {
		t.Fatalf("chunk count differs: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Text != b[i].Text || a[i].Kind != b[i].Kind {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}

func TestBuildEmptyDocument(t *testing.T) {
	doc := types.RawDocument{ID: "empty", RawText: "   \n\t"}
	_, err := Build(doc, nil, DefaultConfig())
	var emptyErr *types.EmptyDocumentError
	if !errors.As(err, &emptyErr) {
		t.Fatalf("expected EmptyDocumentError, got %v", err)
	}
	if emptyErr.DocumentID != "empty" {
		t.Errorf("error document id = %q", emptyErr.DocumentID)
	}
}

func TestBuildMessyWithoutAnalysis(t *testing.T) {
	doc, _ := messyDoc(3)
	_, err := Build(doc, nil, DefaultConfig())
	if !errors.Is(err, types.ErrMissingAnalysis) {
		t.Fatalf("expected ErrMissingAnalysis, got %v", err)
	}
}

func TestBuildMessyWithoutRowsFallsBackToText(t *testing.T) {
	doc := types.RawDocument{
		ID:      "doc-2",
		RawText: "A short note that arrived in a spreadsheet for some reason.",
		Messy:   true,
	}
	chunks, err := Build(doc, &types.Analysis{Summary: "note"}, DefaultConfig())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Kind != types.KindPlainText {
		t.Fatalf("expected one plain_text chunk, got %+v", chunks)
	}
}

func TestBuildPlainTextWindows(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 120; i++ {
		fmt.Fprintf(&b, "Sentence number %d carries some filler words to pad the text. ", i)
	}
	doc := types.RawDocument{ID: "doc-3", RawText: b.String()}
	cfg := Config{ChunkSize: 500, ChunkOverlap: 100, MinChunkSize: 50}

	chunks, err := Build(doc, nil, cfg)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple windows, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c.Text)) > cfg.ChunkSize {
			t.Errorf("window %d exceeds chunk size: %d runes", i, len([]rune(c.Text)))
		}
		if c.Kind != types.KindPlainText {
			t.Errorf("window %d kind = %q", i, c.Kind)
		}
	}
	// Consecutive windows share text from the overlap region.
	tail := chunks[0].Text[len(chunks[0].Text)-40:]
	if !strings.Contains(chunks[0].Text+chunks[1].Text, tail) {
		t.Errorf("windows do not overlap")
	}
}

func TestBuildTablesOnlyDocument(t *testing.T) {
	doc := types.RawDocument{
		ID:          "doc-4",
		ContentKind: types.ContentTable,
		Tables: []types.Table{{
			Name:    "inventory",
			Headers: []string{"sku", "count"},
			Rows:    [][]string{{"A-1", "4"}, {"A-2", "9"}},
		}},
	}
	chunks, err := Build(doc, nil, DefaultConfig())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if !strings.Contains(chunks[0].Text, "A-1 | 4") {
		t.Errorf("serialized table missing row: %s", chunks[0].Text)
	}
}

func TestBuildKeepsShortTailWindow(t *testing.T) {
	// 100 characters of padding followed by a short tail that only
	// appears in the final window.
	text := strings.Repeat("pad ", 25) + "UNIQUEFACT truly"
	doc := types.RawDocument{ID: "doc-5", RawText: text}
	cfg := Config{ChunkSize: 100, ChunkOverlap: 0, MinChunkSize: 50}

	chunks, err := Build(doc, nil, cfg)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}

	var all strings.Builder
	for _, c := range chunks {
		all.WriteString(c.Text)
	}
	if !strings.Contains(all.String(), "UNIQUEFACT") {
		t.Error("tail text missing from chunks")
	}
}

func TestSplitWindowsCountsRunes(t *testing.T) {
	// Same window geometry in single-byte and multi-byte characters
	// must produce the same windows; MinChunkSize counts characters,
	// not bytes.
	ascii := strings.Repeat("a", 25) + ". " + strings.Repeat("b", 8) + ". " + strings.Repeat("c", 30)
	cjk := strings.Repeat("あ", 25) + "。 " + strings.Repeat("い", 8) + "。 " + strings.Repeat("う", 30)
	cfg := Config{ChunkSize: 30, ChunkOverlap: 2, MinChunkSize: 12}

	asciiWindows := splitWindows(ascii, cfg)
	cjkWindows := splitWindows(cjk, cfg)
	if len(asciiWindows) != len(cjkWindows) {
		t.Errorf("window counts diverge: ascii %d, cjk %d", len(asciiWindows), len(cjkWindows))
	}
}
