// Package embed provides the embedding capability consumed by schema
// retrieval: an interface, an adapter over llm.Provider, an in-process ONNX
// encoder, and a memoizing cache.
package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/brunobiangulo/schemacanon/llm"
)

// QueryPrompt is the named prompt variant used to embed a relation
// definition that is being looked up against the schema.
const QueryPrompt = "sts_query"

// Embedder encodes text into a fixed-length vector.
type Embedder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

// PromptEncoder is implemented by embedders that support named prompt
// variants (for instance an instruction prefix for queries that differs from
// the one used for documents).
type PromptEncoder interface {
	Embedder
	EncodeWithPrompt(ctx context.Context, text, prompt string) ([]float32, error)
	HasPrompt(prompt string) bool
}

// EncodeQuery embeds text with the QueryPrompt variant when e exposes it and
// with the default mode otherwise.
func EncodeQuery(ctx context.Context, e Embedder, text string) ([]float32, error) {
	if pe, ok := e.(PromptEncoder); ok && pe.HasPrompt(QueryPrompt) {
		return pe.EncodeWithPrompt(ctx, text, QueryPrompt)
	}
	return e.Encode(ctx, text)
}

// DefaultPrompts are instruction prefixes for E5/Mistral-style embedding
// models, which expect queries to carry a task description.
var DefaultPrompts = map[string]string{
	QueryPrompt: "Instruct: Retrieve semantically similar text.\nQuery: ",
}

// ProviderEmbedder adapts an llm.Provider to Embedder. Named prompts are
// applied as text prefixes before the request is sent.
type ProviderEmbedder struct {
	provider llm.Provider
	prompts  map[string]string
}

// NewProviderEmbedder wraps p. A nil prompts map disables prompt variants,
// so every text is embedded in the default mode.
func NewProviderEmbedder(p llm.Provider, prompts map[string]string) *ProviderEmbedder {
	cp := make(map[string]string, len(prompts))
	for k, v := range prompts {
		cp[k] = v
	}
	return &ProviderEmbedder{provider: p, prompts: cp}
}

// Encode embeds text in the default mode.
func (e *ProviderEmbedder) Encode(ctx context.Context, text string) ([]float32, error) {
	return e.one(ctx, text)
}

// EncodeWithPrompt embeds text prefixed with the named prompt.
func (e *ProviderEmbedder) EncodeWithPrompt(ctx context.Context, text, prompt string) ([]float32, error) {
	prefix, ok := e.prompts[prompt]
	if !ok {
		return nil, fmt.Errorf("embed: unknown prompt %q", prompt)
	}
	return e.one(ctx, prefix+text)
}

// HasPrompt reports whether the named prompt is configured.
func (e *ProviderEmbedder) HasPrompt(prompt string) bool {
	_, ok := e.prompts[prompt]
	return ok
}

// Prompts returns the configured prompt names in sorted order.
func (e *ProviderEmbedder) Prompts() []string {
	names := make([]string, 0, len(e.prompts))
	for k := range e.prompts {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (e *ProviderEmbedder) one(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.provider.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		slog.Warn("embed: provider returned no vector", "text_len", len(text))
		return nil, fmt.Errorf("embed: empty embedding returned")
	}
	return vecs[0], nil
}
