// internal/ingest/analyzer.go
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MereWhiplash/codex-arbiter/internal/types"
)

const analysisPromptTemplate = `You are analyzing a poorly structured data export so it can be understood without its original context.

Table sample:
%s

Respond with JSON only, in this exact shape:
{
  "summary": "what this data is, one paragraph",
  "interpretation": "what each column likely means and how to read the rows",
  "structured_summary": {
    "columns": {"column_name": "meaning"},
    "patterns": ["notable pattern"],
    "suggested_questions": ["question this data can answer"]
  }
}`

const analysisSampleRows = 10

// Analyze asks the configured generator to explain a messy document's
// tables. The LLM gets a bounded sample of rows, never the whole
// table. When the model is unreachable or returns something that is
// not valid JSON, a heuristic analysis built from the table shape is
// returned instead, so ingestion never blocks on a flaky model.
func (o *Orchestrator) Analyze(ctx context.Context, doc types.RawDocument) (*types.Analysis, error) {
	if o.gen == nil {
		return nil, fmt.Errorf("no generator configured for analysis")
	}
	if len(doc.Tables) == 0 {
		return nil, fmt.Errorf("document %q has no tables to analyze", doc.ID)
	}

	prompt := fmt.Sprintf(analysisPromptTemplate, sampleTables(doc.Tables, analysisSampleRows))

	raw, err := o.gen.Complete(ctx, prompt)
	if err != nil {
		o.logger.Printf("ingest: analysis generation failed for %s, using heuristic analysis: %v", doc.ID, err)
		return heuristicAnalysis(doc), nil
	}

	analysis, err := parseAnalysis(raw)
	if err != nil {
		o.logger.Printf("ingest: unparseable analysis for %s, using heuristic analysis: %v", doc.ID, err)
		return heuristicAnalysis(doc), nil
	}
	return analysis, nil
}

// parseAnalysis extracts the JSON object from a model response that
// may wrap it in prose or a code fence.
func parseAnalysis(raw string) (*types.Analysis, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var a types.Analysis
	if err := json.Unmarshal([]byte(raw[start:end+1]), &a); err != nil {
		return nil, fmt.Errorf("failed to parse analysis JSON: %w", err)
	}
	if strings.TrimSpace(a.Summary) == "" {
		return nil, fmt.Errorf("analysis has no summary")
	}
	if strings.TrimSpace(a.Interpretation) == "" {
		a.Interpretation = a.Summary
	}
	return &a, nil
}

func sampleTables(tables []types.Table, maxRows int) string {
	var b strings.Builder
	for _, t := range tables {
		if t.Name != "" {
			fmt.Fprintf(&b, "Table %s (%d rows total):\n", t.Name, t.RowCount())
		} else {
			fmt.Fprintf(&b, "Table (%d rows total):\n", t.RowCount())
		}
		if len(t.Headers) > 0 {
			b.WriteString(strings.Join(t.Headers, " | "))
			b.WriteString("\n")
		}
		n := len(t.Rows)
		if n > maxRows {
			n = maxRows
		}
		for _, row := range t.Rows[:n] {
			b.WriteString(strings.Join(row, " | "))
			b.WriteString("\n")
		}
		if len(t.Rows) > n {
			fmt.Fprintf(&b, "... %d more rows\n", len(t.Rows)-n)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// heuristicAnalysis describes the table shape without a model. Column
// meanings come from the headers when present.
func heuristicAnalysis(doc types.RawDocument) *types.Analysis {
	totalRows := 0
	columns := make(map[string]string)
	var names []string
	for _, t := range doc.Tables {
		totalRows += t.RowCount()
		if t.Name != "" {
			names = append(names, t.Name)
		}
		for _, h := range t.Headers {
			h = strings.TrimSpace(h)
			if h != "" {
				columns[h] = "values from column " + h
			}
		}
	}

	summary := fmt.Sprintf("Tabular export with %d tables and %d data rows", len(doc.Tables), totalRows)
	if len(names) > 0 {
		summary += " (" + strings.Join(names, ", ") + ")"
	}
	summary += "."

	return &types.Analysis{
		Summary:        summary,
		Interpretation: "Column meanings could not be derived automatically; rows should be read positionally against the headers.",
		StructuredSummary: types.StructuredSummary{
			Columns: columns,
		},
	}
}
