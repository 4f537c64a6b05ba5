// Package verify sends a rendered multiple-choice prompt to a generative
// model and returns its raw answer. Exactly one backend, local or remote,
// is configured per Verifier.
package verify

import (
	"context"
	"errors"
	"fmt"

	"github.com/brunobiangulo/schemacanon/llm"
)

// ErrConfiguration is returned by New unless exactly one backend is set.
var ErrConfiguration = errors.New("verify: exactly one of a local or a remote backend must be configured")

// Generation defaults.
const (
	PlainLocalMaxTokens  = 50
	PlainRemoteMaxTokens = 10
	CoTMaxTokens         = 400
	PlainAnswerPrefix    = "Answer: "
)

// Local generates with a locally hosted model whose reply is seeded with
// answerPrefix. The returned text excludes the prefix.
type Local interface {
	Generate(ctx context.Context, messages []llm.Message, maxNewTokens int, answerPrefix string) (string, error)
}

// Remote generates with a hosted chat-completion model.
type Remote interface {
	Generate(ctx context.Context, model string, messages []llm.Message, maxTokens int) (string, error)
}

// Config selects the backend and generation limits.
type Config struct {
	Local  Local
	Remote Remote
	Model  string // remote model name

	// CoT selects chain-of-thought generation: a larger token budget and
	// no answer prefix.
	CoT bool

	// MaxTokens overrides the variant default when positive.
	MaxTokens int
}

// Verifier runs the verification call.
type Verifier struct {
	local        Local
	remote       Remote
	model        string
	maxTokens    int
	answerPrefix string
	cot          bool
}

// New validates cfg and returns a Verifier.
func New(cfg Config) (*Verifier, error) {
	if (cfg.Local == nil) == (cfg.Remote == nil) {
		return nil, ErrConfiguration
	}

	v := &Verifier{
		local:  cfg.Local,
		remote: cfg.Remote,
		model:  cfg.Model,
		cot:    cfg.CoT,
	}
	switch {
	case cfg.CoT:
		v.maxTokens = CoTMaxTokens
	case cfg.Local != nil:
		v.maxTokens = PlainLocalMaxTokens
		v.answerPrefix = PlainAnswerPrefix
	default:
		v.maxTokens = PlainRemoteMaxTokens
	}
	if cfg.MaxTokens > 0 {
		v.maxTokens = cfg.MaxTokens
	}
	return v, nil
}

// MaxTokens returns the effective generation limit.
func (v *Verifier) MaxTokens() int { return v.maxTokens }

// AnswerPrefix returns the reply seed used with a local backend.
func (v *Verifier) AnswerPrefix() string { return v.answerPrefix }

// Backend names the configured backend: "local" or "remote".
func (v *Verifier) Backend() string {
	if v.local != nil {
		return "local"
	}
	return "remote"
}

// Verify sends prompt as a single user message and returns the raw model
// output.
func (v *Verifier) Verify(ctx context.Context, prompt string) (string, error) {
	messages := []llm.Message{{Role: llm.RoleUser, Content: prompt}}

	var (
		out string
		err error
	)
	if v.local != nil {
		out, err = v.local.Generate(ctx, messages, v.maxTokens, v.answerPrefix)
	} else {
		out, err = v.remote.Generate(ctx, v.model, messages, v.maxTokens)
	}
	if err != nil {
		return "", fmt.Errorf("verification call (%s): %w", v.Backend(), err)
	}
	return out, nil
}
