package llm

import (
	"context"
	"fmt"
)

// Provider is the interface for LLM interactions.
type Provider interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Embed generates embeddings for a batch of texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Completer is implemented by locally hosted models that can continue a
// partially written assistant reply.
type Completer interface {
	// Complete generates the continuation of req.AnswerPrefix. The returned
	// content excludes the prefix.
	Complete(ctx context.Context, req CompletionRequest) (*ChatResponse, error)
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// CompletionRequest asks a local model to continue an assistant reply that
// starts with AnswerPrefix.
type CompletionRequest struct {
	Messages     []Message `json:"messages"`
	MaxNewTokens int       `json:"max_new_tokens"`
	AnswerPrefix string    `json:"answer_prefix,omitempty"`
	Temperature  float64   `json:"temperature,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatResponse is the response from a chat completion.
type ChatResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Config configures an LLM provider.
type Config struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, lmstudio, openrouter, openai, groq, xai, gemini, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`

	// RequestsPerSecond throttles outgoing calls when positive.
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"`
	Burst             int     `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// NewProvider creates an LLM provider from configuration. A positive
// RequestsPerSecond wraps it in a RateLimited.
func NewProvider(cfg Config) (Provider, error) {
	var p Provider
	switch cfg.Provider {
	case "":
		return nil, fmt.Errorf("llm provider not specified")
	case "ollama":
		p = NewOllama(cfg)
	case "openai":
		p = NewOpenAI(cfg)
	default:
		ep, ok := endpoints[cfg.Provider]
		if !ok {
			return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
		}
		p = newCompatProvider(cfg.Provider, ep, cfg)
	}
	if cfg.RequestsPerSecond > 0 {
		p = NewRateLimited(p, cfg.RequestsPerSecond, cfg.Burst)
	}
	return p, nil
}
