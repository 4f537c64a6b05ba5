// Package schemacanon maps open relation labels from extracted triplets onto
// a fixed schema of canonical relations. Candidates are retrieved by
// embedding similarity and a generative model picks one of them, or none.
package schemacanon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brunobiangulo/schemacanon/embed"
	"github.com/brunobiangulo/schemacanon/extract"
	"github.com/brunobiangulo/schemacanon/prompt"
	"github.com/brunobiangulo/schemacanon/schema"
	"github.com/brunobiangulo/schemacanon/store"
	"github.com/brunobiangulo/schemacanon/verify"
)

// DefaultTopK is the number of candidates offered to the verifier.
const DefaultTopK = 5

// Variant selects how the verifier is prompted and its answer parsed.
type Variant string

const (
	// VariantPlain asks for a bare option letter.
	VariantPlain Variant = "plain"
	// VariantCoT asks for reasoning followed by a final letter.
	VariantCoT Variant = "cot"
)

// State is the terminal state of one Canonicalize call.
type State string

const (
	StateAlreadyCanonical  State = "already_canonical"
	StateSchemaEmpty       State = "schema_empty"
	StateDefinitionMissing State = "definition_missing"
	StateResolved          State = "resolved"
	StateUnresolved        State = "unresolved"
	StateEnriched          State = "enriched"
)

// Triplet is (subject, relation, object). Only the relation is rewritten.
type Triplet [3]string

// Subject returns the first element.
func (t Triplet) Subject() string { return t[0] }

// Relation returns the relation label.
func (t Triplet) Relation() string { return t[1] }

// Object returns the last element.
func (t Triplet) Object() string { return t[2] }

// Result is the outcome of one canonicalization call.
type Result struct {
	CallID string `json:"call_id"`
	State  State  `json:"state"`

	// Triplet is the canonicalized triplet, nil when no match was found
	// and the schema was not enriched.
	Triplet *Triplet `json:"triplet"`

	// Candidates are the retrieved relations in rank order; empty when
	// retrieval never ran.
	Candidates     []schema.Candidate `json:"candidates"`
	Reasoning      string             `json:"reasoning"`
	Confidence     float64            `json:"confidence"`
	RawOutput      string             `json:"raw_output,omitempty"`
	SelectedOption string             `json:"selected_option,omitempty"`
	ExtractRule    string             `json:"extract_rule,omitempty"`

	// Enriched is set when the open relation was added to the schema. Cause
	// then records the state that led to enrichment.
	Enriched bool  `json:"enriched"`
	Cause    State `json:"cause,omitempty"`
}

// CandidateScores returns the candidate name → score mapping.
func (r *Result) CandidateScores() map[string]float64 {
	out := make(map[string]float64, len(r.Candidates))
	for _, c := range r.Candidates {
		out[c.Name] = c.Score
	}
	return out
}

// Recorder persists an audit row per call. *store.Store implements it.
type Recorder interface {
	LogCanonicalization(ctx context.Context, e store.CanonicalizationLog) error
}

// Option configures a Canonicalizer.
type Option func(*options)

type options struct {
	variant     Variant
	language    string
	templateDir string
	template    string
	topK        int
	maxTokens   int
	examples    map[string]prompt.Example
	logger      *slog.Logger
	metrics     *Metrics
	recorder    Recorder
	closers     []io.Closer
}

// WithVariant selects plain or chain-of-thought verification.
func WithVariant(v Variant) Option {
	return func(o *options) { o.variant = v }
}

// WithLanguage selects the bundled or on-disk template language (zh, en).
func WithLanguage(lang string) Option {
	return func(o *options) { o.language = lang }
}

// WithTemplateDir loads templates from dir instead of the bundled set.
func WithTemplateDir(dir string) Option {
	return func(o *options) { o.templateDir = dir }
}

// WithTemplate uses tmpl verbatim, bypassing template files.
func WithTemplate(tmpl string) Option {
	return func(o *options) { o.template = tmpl }
}

// WithTopK sets the number of retrieved candidates.
func WithTopK(k int) Option {
	return func(o *options) { o.topK = k }
}

// WithMaxTokens overrides the verifier's generation limit.
func WithMaxTokens(n int) Option {
	return func(o *options) { o.maxTokens = n }
}

// WithExamples shows a usage example under each candidate that has one.
func WithExamples(ex map[string]prompt.Example) Option {
	return func(o *options) { o.examples = ex }
}

// WithLogger routes diagnostic events to l.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records call outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRecorder writes an audit row for every call.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// withClosers hands ownership of resources to the Canonicalizer.
func withClosers(c ...io.Closer) Option {
	return func(o *options) { o.closers = append(o.closers, c...) }
}

// Canonicalizer owns the target schema and its embeddings. Calls to
// Canonicalize on one instance are serialized.
type Canonicalizer struct {
	mu sync.Mutex

	schema   *schema.Schema
	embedder embed.Embedder
	builder  *prompt.Builder
	verifier *verify.Verifier
	variant  Variant
	topK     int
	logger   *slog.Logger
	metrics  *Metrics
	recorder Recorder
	closers  []io.Closer
}

// New validates the verifier backend and template, then embeds relations as
// the initial schema.
func New(ctx context.Context, relations []schema.Relation, embedder embed.Embedder, backend verify.Config, opts ...Option) (*Canonicalizer, error) {
	o := options{
		variant:  VariantPlain,
		language: prompt.LangEN,
		topK:     DefaultTopK,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if embedder == nil {
		return nil, ErrNoEmbedder
	}
	if o.variant != VariantPlain && o.variant != VariantCoT {
		return nil, fmt.Errorf("%w: unknown variant %q", ErrInvalidConfig, o.variant)
	}
	if o.topK < 1 {
		return nil, fmt.Errorf("%w: top_k must be at least 1", ErrInvalidConfig)
	}
	if o.topK+1 > prompt.MaxOptions {
		return nil, fmt.Errorf("%w: top_k %d", ErrTooManyCandidates, o.topK)
	}

	backend.CoT = o.variant == VariantCoT
	if o.maxTokens > 0 {
		backend.MaxTokens = o.maxTokens
	}
	v, err := verify.New(backend)
	if err != nil {
		return nil, err
	}

	tmpl := o.template
	if tmpl == "" {
		tmpl, err = prompt.Load(prompt.Dir(o.templateDir), o.variant == VariantCoT, o.language)
		if err != nil {
			return nil, err
		}
	}
	builder, err := prompt.NewBuilder(tmpl)
	if err != nil {
		return nil, err
	}
	if len(o.examples) > 0 {
		builder.WithExamples(o.examples)
	}

	s, err := schema.Build(ctx, embedder, relations)
	if err != nil {
		return nil, err
	}

	o.logger.Info("canonicalize: ready",
		"variant", o.variant,
		"language", o.language,
		"relations", s.Len(),
		"top_k", o.topK,
		"backend", v.Backend(),
		"max_tokens", v.MaxTokens())

	return &Canonicalizer{
		schema:   s,
		embedder: embedder,
		builder:  builder,
		verifier: v,
		variant:  o.variant,
		topK:     o.topK,
		logger:   o.logger,
		metrics:  o.metrics,
		recorder: o.recorder,
		closers:  o.closers,
	}, nil
}

// Close releases resources handed over at construction.
func (c *Canonicalizer) Close() error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil
	return first
}

// Variant returns the configured verification variant.
func (c *Canonicalizer) Variant() Variant { return c.variant }

// Relations returns the current schema in insertion order.
func (c *Canonicalizer) Relations() []schema.Relation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.schema.Relations()
}

// Definition returns the schema definition of name.
func (c *Canonicalizer) Definition(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.schema.Definition(name)
}

// Retrieve ranks schema relations against definition without verifying.
func (c *Canonicalizer) Retrieve(ctx context.Context, definition string, topK int) ([]schema.Candidate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.schema.Retrieve(ctx, c.embedder, definition, topK)
}

// Canonicalize maps triplet's relation onto the schema. definitions supplies
// the meaning of open relation labels. With enrich set, an unmatched
// relation is added to the schema and the triplet is returned unchanged
// with zero confidence.
//
// No match is reported through Result (nil Triplet, zero confidence), never
// as an error. Errors come only from the embedding and generation backends.
func (c *Canonicalizer) Canonicalize(ctx context.Context, inputText string, triplet Triplet, definitions map[string]string, enrich bool) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, span := startCanonicalizeSpan(ctx, c.variant, triplet.Relation(), enrich)
	defer span.End()
	res, err := c.canonicalize(ctx, inputText, triplet, definitions, enrich)
	endCanonicalizeSpan(span, res, err)
	return res, err
}

func (c *Canonicalizer) canonicalize(ctx context.Context, inputText string, triplet Triplet, definitions map[string]string, enrich bool) (*Result, error) {
	res := &Result{
		CallID:     uuid.NewString(),
		Candidates: []schema.Candidate{},
	}
	open := triplet.Relation()
	log := c.logger.With("call_id", res.CallID, "relation", open)

	if c.schema.Has(open) {
		t := triplet
		res.Triplet = &t
		res.Confidence = 1.0
		res.State = StateAlreadyCanonical
		log.Debug("canonicalize: relation already canonical")
		return c.finish(ctx, log, inputText, triplet, res), nil
	}

	def, hasDef := definitions[open]
	if strings.TrimSpace(def) == "" {
		hasDef = false
	}

	switch {
	case c.schema.Len() == 0:
		res.State = StateSchemaEmpty
		log.Info("canonicalize: target schema is empty")
	case !hasDef:
		res.State = StateDefinitionMissing
		log.Info("canonicalize: no definition for relation")
	default:
		resolved, err := c.verifyCandidates(ctx, log, inputText, triplet, def, res)
		if err != nil {
			return nil, err
		}
		if resolved {
			return c.finish(ctx, log, inputText, triplet, res), nil
		}
		res.State = StateUnresolved
	}

	res.Triplet = nil
	res.Confidence = 0
	if !enrich {
		return c.finish(ctx, log, inputText, triplet, res), nil
	}

	if !hasDef {
		def = open
	}
	vec, err := embed.EncodeQuery(ctx, c.embedder, def)
	if err != nil {
		return nil, fmt.Errorf("embedding enriched relation %q: %w", open, err)
	}
	if err := c.schema.AddRelation(open, def, vec); err != nil {
		return nil, err
	}

	t := triplet
	res.Triplet = &t
	res.Enriched = true
	res.Cause = res.State
	res.State = StateEnriched
	log.Info("canonicalize: schema enriched",
		"cause", res.Cause, "definition", def, "relations", c.schema.Len())
	return c.finish(ctx, log, inputText, triplet, res), nil
}

// verifyCandidates runs retrieval, prompting, generation and extraction. It
// reports whether a real candidate was selected and fills res either way.
func (c *Canonicalizer) verifyCandidates(ctx context.Context, log *slog.Logger, inputText string, triplet Triplet, def string, res *Result) (bool, error) {
	cands, err := c.schema.Retrieve(ctx, c.embedder, def, c.topK)
	if err != nil {
		return false, fmt.Errorf("retrieving candidates: %w", err)
	}
	res.Candidates = cands
	for i, cand := range cands {
		log.Debug("retrieve: candidate", "rank", i+1, "name", cand.Name, "score", cand.Score)
	}

	p, err := c.builder.Build(inputText, [3]string(triplet), def, cands)
	if err != nil {
		return false, err
	}
	log.Debug("verify: prompt built",
		"chars", len(p.Text), "options", len(p.Letters)+1, "none", p.NoneLetter)

	vctx, span := startVerifySpan(ctx, len(p.Letters)+1)
	start := time.Now()
	raw, err := c.verifier.Verify(vctx, p.Text)
	elapsed := time.Since(start)
	c.metrics.observeVerify(elapsed)
	span.End()
	if err != nil {
		return false, err
	}
	res.RawOutput = raw
	log.Debug("verify: model output",
		"backend", c.verifier.Backend(),
		"output_chars", len(raw),
		"duration", elapsed)

	var letter string
	var confidence float64
	if c.variant == VariantCoT {
		ans := extract.ExtractCoTAnswer(raw)
		letter, confidence = ans.Letter, ans.Confidence
		res.Reasoning = ans.Reasoning
		res.ExtractRule = ans.Rule
	} else {
		m, ok := extract.MatchLetter(raw)
		if ok {
			letter, confidence = m.Letter, 1.0
			res.ExtractRule = m.Rule
		}
	}
	res.SelectedOption = letter

	idx := optionIndex(letter, len(cands))
	log.Info("extract: answer parsed",
		"letter", letter,
		"rule", res.ExtractRule,
		"confidence", confidence,
		"maps_to_candidate", idx >= 0)
	if idx < 0 {
		return false, nil
	}

	t := triplet
	t[1] = cands[idx].Name
	res.Triplet = &t
	res.Confidence = confidence
	res.State = StateResolved
	return true, nil
}

// optionIndex maps an option letter to a candidate index, or -1 for an
// absent letter, the "none" option, or anything out of range.
func optionIndex(letter string, n int) int {
	if len(letter) != 1 {
		return -1
	}
	i := int(letter[0]) - 'A'
	if i < 0 || i >= n {
		return -1
	}
	return i
}

func (c *Canonicalizer) finish(ctx context.Context, log *slog.Logger, inputText string, open Triplet, res *Result) *Result {
	c.metrics.observe(c.variant, res)
	log.Info("canonicalize: done",
		"state", res.State, "confidence", res.Confidence, "candidates", len(res.Candidates))

	if c.recorder != nil {
		entry := store.CanonicalizationLog{
			CallID:         res.CallID,
			Variant:        string(c.variant),
			State:          string(res.State),
			InputText:      inputText,
			Subject:        open.Subject(),
			OpenRelation:   open.Relation(),
			Object:         open.Object(),
			SelectedOption: res.SelectedOption,
			ExtractRule:    res.ExtractRule,
			Confidence:     res.Confidence,
			Reasoning:      res.Reasoning,
			RawOutput:      res.RawOutput,
			Enriched:       res.Enriched,
			Cause:          string(res.Cause),
		}
		if res.Triplet != nil {
			entry.CanonicalRelation = res.Triplet.Relation()
		}
		for _, cand := range res.Candidates {
			entry.Candidates = append(entry.Candidates, store.CandidateScore{Name: cand.Name, Score: cand.Score})
		}
		if err := c.recorder.LogCanonicalization(ctx, entry); err != nil {
			log.Warn("canonicalize: audit log write failed", "error", err)
		}
	}
	return res
}
