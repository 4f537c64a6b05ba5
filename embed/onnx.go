package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

// ORTConfig configures the in-process ONNX Runtime encoder.
type ORTConfig struct {
	OrtLibrary    string            `json:"ort_library" yaml:"ort_library"`
	ModelPath     string            `json:"model_path" yaml:"model_path"`
	TokenizerPath string            `json:"tokenizer_path" yaml:"tokenizer_path"`
	MaxSeqLen     int               `json:"max_seq_len" yaml:"max_seq_len"`
	TokenTypeIDs  bool              `json:"token_type_ids" yaml:"token_type_ids"` // BERT-style models expect a third input
	OutputName    string            `json:"output_name" yaml:"output_name"`
	Normalize     bool              `json:"normalize" yaml:"normalize"`
	Prompts       map[string]string `json:"prompts,omitempty" yaml:"prompts,omitempty"`
}

// ORTEmbedder runs a sentence-embedding model in process: tokenize, run the
// transformer, mean-pool the last hidden state over the attention mask.
type ORTEmbedder struct {
	cfg     ORTConfig
	tk      *tokenizer.Tokenizer
	session *ort.DynamicAdvancedSession
	mu      sync.Mutex
}

var ortInitMu sync.Mutex

// NewORTEmbedder loads the tokenizer and model described by cfg.
func NewORTEmbedder(cfg ORTConfig) (*ORTEmbedder, error) {
	if cfg.ModelPath == "" || cfg.TokenizerPath == "" {
		return nil, errors.New("embed: model_path and tokenizer_path are required")
	}
	if cfg.MaxSeqLen <= 0 {
		cfg.MaxSeqLen = 512
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "last_hidden_state"
	}

	ortInitMu.Lock()
	if !ort.IsInitialized() {
		if cfg.OrtLibrary != "" {
			ort.SetSharedLibraryPath(cfg.OrtLibrary)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			ortInitMu.Unlock()
			return nil, fmt.Errorf("initializing onnxruntime: %w", err)
		}
	}
	ortInitMu.Unlock()

	tk, err := pretrained.FromFile(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer: %w", err)
	}

	inputs := []string{"input_ids", "attention_mask"}
	if cfg.TokenTypeIDs {
		inputs = append(inputs, "token_type_ids")
	}
	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputs, []string{cfg.OutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("creating onnx session: %w", err)
	}

	slog.Info("embed: onnx model loaded",
		"model", filepath.Base(cfg.ModelPath), "max_seq_len", cfg.MaxSeqLen)
	return &ORTEmbedder{cfg: cfg, tk: tk, session: session}, nil
}

// Close releases the ONNX session.
func (e *ORTEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}

// ModelID identifies the model for cache keys.
func (e *ORTEmbedder) ModelID() string {
	return filepath.Base(e.cfg.ModelPath)
}

// Encode embeds text in the default mode.
func (e *ORTEmbedder) Encode(ctx context.Context, text string) ([]float32, error) {
	return e.run(ctx, text)
}

// EncodeWithPrompt embeds text prefixed with the named prompt.
func (e *ORTEmbedder) EncodeWithPrompt(ctx context.Context, text, prompt string) ([]float32, error) {
	prefix, ok := e.cfg.Prompts[prompt]
	if !ok {
		return nil, fmt.Errorf("embed: unknown prompt %q", prompt)
	}
	return e.run(ctx, prefix+text)
}

// HasPrompt reports whether the named prompt is configured.
func (e *ORTEmbedder) HasPrompt(prompt string) bool {
	_, ok := e.cfg.Prompts[prompt]
	return ok
}

func (e *ORTEmbedder) run(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	enc, err := e.tk.EncodeSingle(text, true)
	if err != nil {
		return nil, fmt.Errorf("tokenizing: %w", err)
	}

	n := len(enc.Ids)
	if n > e.cfg.MaxSeqLen {
		n = e.cfg.MaxSeqLen
	}
	if n == 0 {
		return nil, errors.New("embed: tokenizer produced no tokens")
	}

	ids := make([]int64, n)
	mask := make([]int64, n)
	types := make([]int64, n)
	for i := 0; i < n; i++ {
		ids[i] = int64(enc.Ids[i])
		mask[i] = 1
		if i < len(enc.AttentionMask) {
			mask[i] = int64(enc.AttentionMask[i])
		}
		if i < len(enc.TypeIds) {
			types[i] = int64(enc.TypeIds[i])
		}
	}

	shape := ort.NewShape(1, int64(n))
	idsT, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, err
	}
	defer idsT.Destroy()
	maskT, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, err
	}
	defer maskT.Destroy()

	inputs := []ort.Value{idsT, maskT}
	if e.cfg.TokenTypeIDs {
		typesT, err := ort.NewTensor(shape, types)
		if err != nil {
			return nil, err
		}
		defer typesT.Destroy()
		inputs = append(inputs, typesT)
	}
	outputs := []ort.Value{nil}

	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return nil, errors.New("embed: onnx session closed")
	}
	err = e.session.Run(inputs, outputs)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("running onnx session: %w", err)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("embed: unexpected output type %T", outputs[0])
	}
	dims := out.GetShape()
	if len(dims) != 3 {
		return nil, fmt.Errorf("embed: unexpected output rank %d", len(dims))
	}
	return meanPool(out.GetData(), mask, int(dims[1]), int(dims[2]), e.cfg.Normalize), nil
}

// meanPool averages the hidden states of unmasked tokens. hidden is laid
// out as [seq][dim] for a single batch row.
func meanPool(hidden []float32, mask []int64, seq, dim int, normalize bool) []float32 {
	out := make([]float32, dim)
	var count float32
	for t := 0; t < seq && t < len(mask); t++ {
		if mask[t] == 0 {
			continue
		}
		row := hidden[t*dim : (t+1)*dim]
		for d, v := range row {
			out[d] += v
		}
		count++
	}
	if count > 0 {
		for d := range out {
			out[d] /= count
		}
	}
	if normalize {
		l2Normalize(out)
	}
	return out
}

func l2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
