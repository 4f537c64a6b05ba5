package schemacanon

import (
	"errors"

	"github.com/brunobiangulo/schemacanon/prompt"
	"github.com/brunobiangulo/schemacanon/schema"
	"github.com/brunobiangulo/schemacanon/verify"
)

var (
	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("schemacanon: invalid configuration")

	// ErrConfiguration is returned when not exactly one of a local or a
	// remote verifier backend is supplied.
	ErrConfiguration = verify.ErrConfiguration

	// ErrTemplateNotFound is returned at construction when neither the
	// requested prompt template nor its fallback exists.
	ErrTemplateNotFound = prompt.ErrTemplateNotFound

	// ErrTemplate is returned for templates with unknown placeholders.
	ErrTemplate = prompt.ErrTemplate

	// ErrTooManyCandidates is returned when top-k leaves no single letter
	// for the "none" option.
	ErrTooManyCandidates = prompt.ErrTooManyCandidates

	// ErrEmptySchema is returned by direct retrieval on an empty schema.
	// Canonicalize never returns it.
	ErrEmptySchema = schema.ErrEmptySchema

	// ErrDimensionMismatch is returned when the embedder produces vectors
	// of a different length than the schema's.
	ErrDimensionMismatch = schema.ErrDimensionMismatch

	// ErrNoEmbedder is returned when no embedding backend is configured.
	ErrNoEmbedder = errors.New("schemacanon: embedding backend required")
)
