// internal/answer/answer.go
// Package answer builds grounded answers on top of retrieval. Unlike
// reranking, answering genuinely needs the completion model, so model
// failures surface as errors instead of degrading silently.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/MereWhiplash/codex-arbiter/internal/embedder"
	"github.com/MereWhiplash/codex-arbiter/internal/retriever"
	"github.com/MereWhiplash/codex-arbiter/internal/types"
)

const answerPromptTemplate = `Answer the question using only the context below. If the context does not contain the answer, say so plainly instead of guessing.

Context:
%s

Question: %s

Answer:`

// Answer is a generated answer with the chunks it was grounded on.
type Answer struct {
	Text    string               `json:"text"`
	Sources []types.ScoredResult `json:"sources"`
}

// Generator answers questions against one retrieval engine.
type Generator struct {
	retr *retriever.Engine
	gen  embedder.Generator
}

// New creates an answer generator.
func New(retr *retriever.Engine, gen embedder.Generator) *Generator {
	return &Generator{retr: retr, gen: gen}
}

const noContextAnswer = "No stored content matched the question."

// Answer retrieves context for the question and asks the model to
// answer from it. An empty retrieval produces a fixed no-context
// answer without calling the model.
func (g *Generator) Answer(ctx context.Context, question string, opts retriever.Options) (*Answer, error) {
	results, prompt, err := g.prepare(ctx, question, opts)
	if err != nil {
		return nil, err
	}
	if prompt == "" {
		return &Answer{Text: noContextAnswer}, nil
	}

	text, err := g.gen.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("answer generation failed: %w", err)
	}

	return &Answer{
		Text:    strings.TrimSpace(text),
		Sources: results,
	}, nil
}

// AnswerStream is Answer with incremental delivery: fn receives each
// generated fragment in order, and the returned Answer carries the full
// accumulated text. An fn error stops generation and is returned. The
// no-context answer is delivered through fn as a single fragment.
func (g *Generator) AnswerStream(ctx context.Context, question string, opts retriever.Options, fn func(token string) error) (*Answer, error) {
	results, prompt, err := g.prepare(ctx, question, opts)
	if err != nil {
		return nil, err
	}
	if prompt == "" {
		if err := fn(noContextAnswer); err != nil {
			return nil, err
		}
		return &Answer{Text: noContextAnswer}, nil
	}

	var text strings.Builder
	err = g.gen.Stream(ctx, prompt, func(token string) error {
		if err := fn(token); err != nil {
			return err
		}
		text.WriteString(token)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("answer generation failed: %w", err)
	}

	return &Answer{
		Text:    strings.TrimSpace(text.String()),
		Sources: results,
	}, nil
}

// prepare retrieves context and builds the answer prompt. An empty
// prompt means nothing was retrieved.
func (g *Generator) prepare(ctx context.Context, question string, opts retriever.Options) ([]types.ScoredResult, string, error) {
	results, err := g.retr.Retrieve(ctx, question, opts)
	if err != nil {
		return nil, "", fmt.Errorf("retrieval failed: %w", err)
	}
	if len(results) == 0 {
		return nil, "", nil
	}

	var context strings.Builder
	for i, r := range results {
		fmt.Fprintf(&context, "[%d] (source %s)\n%s\n\n", i+1, r.Chunk.SourceDocumentID, r.Chunk.Text)
	}
	return results, fmt.Sprintf(answerPromptTemplate, context.String(), question), nil
}
