package schemacanon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/schemacanon/embed"
	"github.com/brunobiangulo/schemacanon/llm"
	"github.com/brunobiangulo/schemacanon/prompt"
	"github.com/brunobiangulo/schemacanon/source"
	"github.com/brunobiangulo/schemacanon/store"
	"github.com/brunobiangulo/schemacanon/verify"
)

// Config holds all configuration for a file-driven Canonicalizer.
type Config struct {
	Variant  Variant `json:"variant" yaml:"variant" validate:"oneof=plain cot"`
	Language string  `json:"language" yaml:"language" validate:"oneof=zh en"`
	TopK     int     `json:"top_k" yaml:"top_k" validate:"min=1,max=25"`

	// MaxTokens overrides the variant's generation limit when positive.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens" validate:"min=0"`

	// SchemaPath points at the target schema (YAML/JSON mapping or list).
	SchemaPath string `json:"schema_path" yaml:"schema_path"`

	// ExamplesPath optionally points at per-relation usage examples.
	ExamplesPath string `json:"examples_path,omitempty" yaml:"examples_path,omitempty"`

	// TemplateDir holds sc_template[_cot]_<lang>.txt; empty uses the
	// bundled templates.
	TemplateDir string `json:"template_dir,omitempty" yaml:"template_dir,omitempty"`

	// LLM providers
	Verifier  llm.Config `json:"verifier" yaml:"verifier"`
	Embedding llm.Config `json:"embedding" yaml:"embedding"`

	// ONNX replaces the embedding provider with an in-process model.
	ONNX *embed.ORTConfig `json:"onnx,omitempty" yaml:"onnx,omitempty"`

	// EmbeddingPrompts maps prompt variant names to text prefixes for
	// provider embeddings. Defaults to embed.DefaultPrompts.
	EmbeddingPrompts map[string]string `json:"embedding_prompts,omitempty" yaml:"embedding_prompts,omitempty"`

	Cache CacheConfig `json:"cache" yaml:"cache"`

	// Audit writes one row per call to the cache database.
	Audit bool `json:"audit" yaml:"audit"`
}

// CacheConfig configures the SQLite embedding cache.
type CacheConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.schemacanon/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is used when DBPath is empty. Defaults to "schemacanon".
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir is "home" (default, ~/.schemacanon/) or "local" (working
	// directory).
	StorageDir string `json:"storage_dir" yaml:"storage_dir" validate:"omitempty,oneof=home local cwd"`

	// EmbeddingDim must match the embedding model. Zero means 768.
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim" validate:"min=0"`
}

// DefaultConfig returns a Config for local inference through Ollama.
func DefaultConfig() Config {
	return Config{
		Variant:  VariantPlain,
		Language: prompt.LangEN,
		TopK:     DefaultTopK,
		Verifier: llm.Config{
			Provider: "ollama",
			Model:    "mistral:7b-instruct",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: llm.Config{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		Cache: CacheConfig{
			DBName:       "schemacanon",
			StorageDir:   "home",
			EmbeddingDim: 768,
		},
	}
}

// LoadConfig reads a YAML or JSON file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.SchemaPath == "" {
		return fmt.Errorf("%w: schema_path is required", ErrInvalidConfig)
	}
	if c.ONNX == nil && c.Embedding.Provider == "" {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, ErrNoEmbedder)
	}
	return nil
}

// ApplyEnv overrides fields from SCHEMACANON_* variables read through getenv
// (usually os.Getenv). API keys fall back to the provider's well-known
// variable, e.g. OPENAI_API_KEY.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	set("SCHEMACANON_SCHEMA", &c.SchemaPath)
	set("SCHEMACANON_EXAMPLES", &c.ExamplesPath)
	set("SCHEMACANON_TEMPLATE_DIR", &c.TemplateDir)
	set("SCHEMACANON_LANGUAGE", &c.Language)
	set("SCHEMACANON_DB_PATH", &c.Cache.DBPath)

	set("SCHEMACANON_VERIFIER_PROVIDER", &c.Verifier.Provider)
	set("SCHEMACANON_VERIFIER_MODEL", &c.Verifier.Model)
	set("SCHEMACANON_VERIFIER_BASE_URL", &c.Verifier.BaseURL)
	set("SCHEMACANON_VERIFIER_API_KEY", &c.Verifier.APIKey)

	set("SCHEMACANON_EMBED_PROVIDER", &c.Embedding.Provider)
	set("SCHEMACANON_EMBED_MODEL", &c.Embedding.Model)
	set("SCHEMACANON_EMBED_BASE_URL", &c.Embedding.BaseURL)
	set("SCHEMACANON_EMBED_API_KEY", &c.Embedding.APIKey)

	if v := getenv("SCHEMACANON_VARIANT"); v != "" {
		c.Variant = Variant(v)
	}
	if v, err := strconv.Atoi(getenv("SCHEMACANON_TOP_K")); err == nil && v > 0 {
		c.TopK = v
	}
	if v, err := strconv.ParseBool(getenv("SCHEMACANON_CACHE")); err == nil {
		c.Cache.Enabled = v
	}
	if v, err := strconv.ParseBool(getenv("SCHEMACANON_AUDIT")); err == nil {
		c.Audit = v
	}

	// Fallback: well-known provider variables for API keys.
	if c.Verifier.APIKey == "" {
		c.Verifier.APIKey = providerKey(c.Verifier.Provider, getenv)
	}
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = providerKey(c.Embedding.Provider, getenv)
	}
}

func providerKey(provider string, getenv func(string) string) string {
	switch provider {
	case "openai":
		return getenv("OPENAI_API_KEY")
	case "groq":
		return getenv("GROQ_API_KEY")
	case "openrouter":
		return getenv("OPENROUTER_API_KEY")
	case "xai":
		return getenv("XAI_API_KEY")
	case "gemini":
		return getenv("GEMINI_API_KEY")
	}
	return ""
}

// ResolvedDBPath returns the cache database path: DBPath when set, otherwise
// <DBName>.db under the configured storage directory.
func (c *CacheConfig) ResolvedDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "schemacanon"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db"
		}
		return filepath.Join(home, ".schemacanon", name+".db")
	}
}

// NewFromConfig loads the schema and examples named by cfg, builds the
// providers, embedder and cache, and returns a ready Canonicalizer. opts are
// applied after the ones derived from cfg. The returned Canonicalizer owns
// the cache database and the ONNX session; call Close when done.
func NewFromConfig(ctx context.Context, cfg Config, opts ...Option) (*Canonicalizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	relations, err := source.LoadSchema(cfg.SchemaPath)
	if err != nil {
		return nil, err
	}

	var closers []io.Closer
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i].Close()
		}
	}

	verifierLLM, err := llm.NewProvider(cfg.Verifier)
	if err != nil {
		return nil, fmt.Errorf("creating verifier provider: %w", err)
	}

	var (
		embedder embed.Embedder
		modelID  string
	)
	if cfg.ONNX != nil {
		ort, err := embed.NewORTEmbedder(*cfg.ONNX)
		if err != nil {
			return nil, err
		}
		closers = append(closers, ort)
		embedder, modelID = ort, ort.ModelID()
	} else {
		embedLLM, err := llm.NewProvider(cfg.Embedding)
		if err != nil {
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
		prompts := cfg.EmbeddingPrompts
		if prompts == nil {
			prompts = embed.DefaultPrompts
		}
		embedder = embed.NewProviderEmbedder(embedLLM, prompts)
		modelID = cfg.Embedding.Provider + ":" + cfg.Embedding.Model
	}

	var derived []Option
	if cfg.Cache.Enabled || cfg.Audit {
		dim := cfg.Cache.EmbeddingDim
		if dim == 0 {
			dim = DefaultConfig().Cache.EmbeddingDim
		}
		dbPath := cfg.Cache.ResolvedDBPath()
		s, err := store.New(dbPath, dim)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("opening store: %w", err)
		}
		closers = append(closers, s)
		slog.Info("store: opened", "path", dbPath, "embedding_dim", dim)
		if cfg.Cache.Enabled {
			embedder = embed.NewCached(embedder, s, modelID)
		}
		if cfg.Audit {
			derived = append(derived, WithRecorder(s))
		}
	}

	if cfg.ExamplesPath != "" {
		ex, err := source.LoadExamples(cfg.ExamplesPath)
		if err != nil {
			cleanup()
			return nil, err
		}
		derived = append(derived, WithExamples(ex))
	}

	derived = append(derived,
		WithVariant(cfg.Variant),
		WithLanguage(cfg.Language),
		WithTemplateDir(cfg.TemplateDir),
		WithTopK(cfg.TopK),
		WithMaxTokens(cfg.MaxTokens),
		withClosers(closers...),
	)

	c, err := New(ctx, relations, embedder, verify.FromProvider(verifierLLM, cfg.Verifier.Model), append(derived, opts...)...)
	if err != nil {
		cleanup()
		return nil, err
	}
	return c, nil
}
