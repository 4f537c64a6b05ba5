package verify

import (
	"context"

	"github.com/brunobiangulo/schemacanon/llm"
)

// CompleterBackend adapts an llm.Completer, such as an Ollama provider, to
// the Local interface.
type CompleterBackend struct {
	C llm.Completer
}

func (b CompleterBackend) Generate(ctx context.Context, messages []llm.Message, maxNewTokens int, answerPrefix string) (string, error) {
	resp, err := b.C.Complete(ctx, llm.CompletionRequest{
		Messages:     messages,
		MaxNewTokens: maxNewTokens,
		AnswerPrefix: answerPrefix,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// ProviderBackend adapts an llm.Provider chat endpoint to the Remote
// interface.
type ProviderBackend struct {
	P llm.Provider
}

func (b ProviderBackend) Generate(ctx context.Context, model string, messages []llm.Message, maxTokens int) (string, error) {
	resp, err := b.P.Chat(ctx, llm.ChatRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// FromProvider builds a Config for p. Providers that can seed a reply are
// used as a local backend; everything else is remote.
func FromProvider(p llm.Provider, model string) Config {
	if c, ok := llm.AsCompleter(p); ok {
		return Config{Local: CompleterBackend{C: c}}
	}
	return Config{Remote: ProviderBackend{P: p}, Model: model}
}
