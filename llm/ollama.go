package llm

import (
	"context"
	"fmt"
	"strings"
)

// ollamaProvider implements Provider and Completer for Ollama. Chat goes
// through the OpenAI-compatible endpoint; embeddings and prefixed
// completions use the native API, which batches embeddings and lets a
// trailing assistant message seed the reply.
type ollamaProvider struct {
	base *compatClient
}

// NewOllama creates a provider for Ollama.
func NewOllama(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	return &ollamaProvider{base: newCompatClient(cfg, "/v1", nil)}
}

func (p *ollamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *ollamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var embedResp ollamaEmbedResponse
	err := p.base.post(ctx, "/api/embed", ollamaEmbedRequest{
		Model: p.base.cfg.Model,
		Input: texts,
	}, &embedResp)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(embedResp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs",
			len(embedResp.Embeddings), len(texts))
	}

	result := make([][]float32, len(embedResp.Embeddings))
	for i, emb := range embedResp.Embeddings {
		result[i] = float64sToFloat32s(emb)
	}
	return result, nil
}

// Complete appends req.AnswerPrefix as a partial assistant message so the
// model continues from it, and caps generation at req.MaxNewTokens.
func (p *ollamaProvider) Complete(ctx context.Context, req CompletionRequest) (*ChatResponse, error) {
	msgs := make([]Message, 0, len(req.Messages)+1)
	msgs = append(msgs, req.Messages...)
	if req.AnswerPrefix != "" {
		msgs = append(msgs, Message{Role: RoleAssistant, Content: req.AnswerPrefix})
	}

	body := ollamaChatRequest{
		Model:    p.base.cfg.Model,
		Messages: msgs,
		Stream:   false,
		Options: ollamaOptions{
			NumPredict:  req.MaxNewTokens,
			Temperature: req.Temperature,
		},
	}

	var resp ollamaChatResponse
	if err := p.base.post(ctx, "/api/chat", body, &resp); err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	// Some model templates echo the seeded prefix back.
	content := strings.TrimPrefix(resp.Message.Content, req.AnswerPrefix)

	return &ChatResponse{
		Content:          content,
		Model:            resp.Model,
		FinishReason:     resp.DoneReason,
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
	}, nil
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature"`
}

type ollamaChatResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	DoneReason      string  `json:"done_reason"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
}

func float64sToFloat32s(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
