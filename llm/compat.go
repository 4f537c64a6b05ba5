package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// requestTimeout bounds a single HTTP attempt. Local servers may load the
// model on first use.
const requestTimeout = 120 * time.Second

// APIError is a non-2xx reply from a model server.
type APIError struct {
	URL        string
	StatusCode int
	Body       string
	RetryAfter string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("LLM API error %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// Temporary reports whether the request may succeed if sent again.
func (e *APIError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// compatClient speaks the OpenAI wire format that most hosted and local
// model servers expose.
type compatClient struct {
	cfg     Config
	prefix  string // path prefix before /chat/completions, usually "/v1"
	headers map[string]string
	http    *http.Client
	retry   retryPolicy
}

func newCompatClient(cfg Config, prefix string, headers map[string]string) *compatClient {
	return &compatClient{
		cfg:     cfg,
		prefix:  prefix,
		headers: headers,
		http:    &http.Client{Timeout: requestTimeout},
		retry:   defaultRetry,
	}
}

type compatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type compatChatRequest struct {
	Model       string          `json:"model"`
	Messages    []compatMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type compatChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      compatMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type compatEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type compatEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *compatClient) model(override string) string {
	if override != "" {
		return override
	}
	return c.cfg.Model
}

func (c *compatClient) chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := compatChatRequest{
		Model:       c.model(req.Model),
		Messages:    make([]compatMessage, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for i, m := range req.Messages {
		body.Messages[i] = compatMessage(m)
	}

	var resp compatChatResponse
	if err := c.post(ctx, c.prefix+"/chat/completions", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no choices in response")
	}
	choice := resp.Choices[0]
	return &ChatResponse{
		Content:          choice.Message.Content,
		Model:            resp.Model,
		FinishReason:     choice.FinishReason,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

func (c *compatClient) embed(ctx context.Context, texts []string) ([][]float32, error) {
	var resp compatEmbedResponse
	if err := c.post(ctx, c.prefix+"/embeddings", compatEmbedRequest{Model: c.cfg.Model, Input: texts}, &resp); err != nil {
		return nil, err
	}
	return orderEmbeddings(len(texts), len(resp.Data), func(i int) (int, []float32) {
		return resp.Data[i].Index, resp.Data[i].Embedding
	})
}

// orderEmbeddings places n returned vectors by their reported index and
// fails when any of the want inputs is left without one.
func orderEmbeddings(want, n int, at func(i int) (int, []float32)) ([][]float32, error) {
	out := make([][]float32, want)
	for i := 0; i < n; i++ {
		idx, vec := at(i)
		if idx >= 0 && idx < want {
			out[idx] = vec
		}
	}
	for i, v := range out {
		if len(v) == 0 {
			return nil, fmt.Errorf("no embedding returned for input %d of %d", i, want)
		}
	}
	return out, nil
}

// post sends body as JSON and decodes a 200 reply into out, retrying
// transport failures and temporary API errors under c.retry.
func (c *compatClient) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := c.cfg.BaseURL + path

	var lastErr error
	for attempt := 0; attempt <= c.retry.attempts; attempt++ {
		if attempt > 0 {
			delay := c.retry.delay(attempt, lastErr)
			slog.Warn("llm: retrying request", "url", url, "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		respBody, err := c.send(ctx, url, data)
		if err == nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decoding response from %s: %w", url, err)
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return err
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *compatClient) send(ctx context.Context, url string, data []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       string(bytes.TrimSpace(respBody)),
			RetryAfter: resp.Header.Get("Retry-After"),
		}
	}
	return respBody, nil
}
