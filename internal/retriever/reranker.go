// internal/retriever/reranker.go
package retriever

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/MereWhiplash/codex-arbiter/internal/types"
)

const rerankPromptTemplate = `Rate how relevant each passage is to the question on a scale of 0 to 10.
Question: %s

%s
Respond with one line per passage, in order, formatted exactly as "N: score" with nothing else.`

const rerankExcerptLen = 500

// rerank asks the generator to score each candidate 0-10 against the
// query and reorders by that score. Strictly best-effort: any failure,
// a malformed response, or missing lines leave the similarity ordering
// untouched.
func (e *Engine) rerank(ctx context.Context, query string, results []types.ScoredResult) []types.ScoredResult {
	var passages strings.Builder
	for i, r := range results {
		fmt.Fprintf(&passages, "Passage %d:\n%s\n\n", i+1, excerpt(r.Chunk.Text, rerankExcerptLen))
	}

	raw, err := e.gen.Complete(ctx, fmt.Sprintf(rerankPromptTemplate, query, passages.String()))
	if err != nil {
		e.logger.Printf("retriever: rerank failed, keeping similarity order: %v", err)
		return results
	}

	scores, ok := parseRerankScores(raw, len(results))
	if !ok {
		e.logger.Printf("retriever: unparseable rerank response, keeping similarity order")
		return results
	}

	// Reorder only; the similarity scores stay as reported.
	idx := make([]int, len(results))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})

	reranked := make([]types.ScoredResult, len(results))
	for i, j := range idx {
		reranked[i] = results[j]
	}
	return reranked
}

// parseRerankScores extracts "N: score" lines. Every passage must be
// scored exactly once with a value in [0, 10] or the response is
// rejected as a whole.
func parseRerankScores(raw string, n int) ([]float64, bool) {
	scores := make([]float64, n)
	seen := make([]bool, n)

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idxStr, scoreStr, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(idxStr), "Passage ")))
		if err != nil || idx < 1 || idx > n {
			continue
		}
		score, err := strconv.ParseFloat(strings.TrimSpace(scoreStr), 64)
		if err != nil || score < 0 || score > 10 {
			return nil, false
		}
		if seen[idx-1] {
			return nil, false
		}
		seen[idx-1] = true
		scores[idx-1] = score
	}

	for _, s := range seen {
		if !s {
			return nil, false
		}
	}
	return scores, true
}

func excerpt(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
