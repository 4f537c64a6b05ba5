package llm

import "context"

// endpoint describes an OpenAI-compatible model server.
type endpoint struct {
	baseURL string
	prefix  string
	model   string // used when the config names none
	headers map[string]string
}

// endpoints are the servers reached through the shared compatible client.
// "custom" has no default URL; the config must supply one.
var endpoints = map[string]endpoint{
	"lmstudio": {baseURL: "http://localhost:1234", prefix: "/v1"},
	"openrouter": {
		baseURL: "https://openrouter.ai/api",
		prefix:  "/v1",
		headers: map[string]string{"X-Title": "schemacanon"},
	},
	"groq":   {baseURL: "https://api.groq.com/openai", prefix: "/v1", model: "llama-3.3-70b-versatile"},
	"xai":    {baseURL: "https://api.x.ai", prefix: "/v1"},
	"gemini": {baseURL: "https://generativelanguage.googleapis.com/v1beta/openai"},
	"custom": {prefix: "/v1"},
}

// compatProvider implements Provider for any server in endpoints.
type compatProvider struct {
	name string
	base *compatClient
}

func newCompatProvider(name string, ep endpoint, cfg Config) *compatProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = ep.baseURL
	}
	if cfg.Model == "" {
		cfg.Model = ep.model
	}
	return &compatProvider{name: name, base: newCompatClient(cfg, ep.prefix, ep.headers)}
}

func (p *compatProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *compatProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.base.embed(ctx, texts)
}
