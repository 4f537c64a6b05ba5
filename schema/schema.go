// Package schema holds the target relation schema together with its
// embedding vectors and ranks schema relations against a query definition.
package schema

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/brunobiangulo/schemacanon/embed"
)

var (
	// ErrEmptySchema is returned by Retrieve when no relation is registered.
	ErrEmptySchema = errors.New("schema: schema is empty")

	// ErrInvalidTopK is returned when top-k is below one.
	ErrInvalidTopK = errors.New("schema: top_k must be at least 1")

	// ErrEmptyDefinition is returned when the query definition is blank.
	ErrEmptyDefinition = errors.New("schema: definition must not be empty")

	// ErrDuplicateRelation is returned by AddRelation for a known name.
	ErrDuplicateRelation = errors.New("schema: relation already exists")

	// ErrDimensionMismatch is returned when a vector's length differs from
	// the dimension fixed by the first registered relation.
	ErrDimensionMismatch = errors.New("schema: embedding dimension mismatch")
)

// Relation is a canonical relation name with its definition.
type Relation struct {
	Name       string `json:"name" yaml:"name"`
	Definition string `json:"definition" yaml:"definition"`
}

// Schema is the ordered set of canonical relations. Definitions and vectors
// are keyed by the same names at all times; AddRelation is the only mutator.
//
// Schema is not safe for concurrent mutation.
type Schema struct {
	names       []string
	definitions map[string]string
	vectors     map[string][]float32
	dim         int // set by the first AddRelation
}

// New returns an empty schema.
func New() *Schema {
	return &Schema{
		definitions: make(map[string]string),
		vectors:     make(map[string][]float32),
	}
}

// Build embeds every relation definition in the default mode and returns the
// populated schema. Relations keep the order given.
func Build(ctx context.Context, e embed.Embedder, relations []Relation) (*Schema, error) {
	s := New()
	for _, r := range relations {
		vec, err := e.Encode(ctx, r.Definition)
		if err != nil {
			return nil, fmt.Errorf("embedding relation %q: %w", r.Name, err)
		}
		if err := s.AddRelation(r.Name, r.Definition, vec); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AddRelation registers name with its definition and vector in one step.
// Every vector must have the dimension of the first one.
func (s *Schema) AddRelation(name, definition string, vec []float32) error {
	if _, ok := s.definitions[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRelation, name)
	}
	if err := s.checkDim(vec); err != nil {
		return fmt.Errorf("relation %q: %w", name, err)
	}
	if s.dim == 0 {
		s.dim = len(vec)
	}
	s.names = append(s.names, name)
	s.definitions[name] = definition
	s.vectors[name] = cloneVector(vec)
	return nil
}

// Has reports whether name is a canonical relation.
func (s *Schema) Has(name string) bool {
	_, ok := s.definitions[name]
	return ok
}

// Definition returns the definition registered for name.
func (s *Schema) Definition(name string) (string, bool) {
	d, ok := s.definitions[name]
	return d, ok
}

// Dim returns the embedding dimension, or 0 for an empty schema.
func (s *Schema) Dim() int { return s.dim }

func (s *Schema) checkDim(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	if s.dim != 0 && len(vec) != s.dim {
		return fmt.Errorf("%w: got %d, schema has %d", ErrDimensionMismatch, len(vec), s.dim)
	}
	return nil
}

// Len returns the number of relations.
func (s *Schema) Len() int { return len(s.names) }

// Names returns relation names in insertion order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Relations returns the relations in insertion order.
func (s *Schema) Relations() []Relation {
	out := make([]Relation, len(s.names))
	for i, n := range s.names {
		out[i] = Relation{Name: n, Definition: s.definitions[n]}
	}
	return out
}

// Candidate is a schema relation ranked against a query.
type Candidate struct {
	Name       string  `json:"name"`
	Definition string  `json:"definition"`
	Score      float64 `json:"score"`
}

// Retrieve embeds definition (query prompt variant when available) and
// returns the topK relations by descending dot product. Equal scores keep
// schema insertion order. topK is clamped to the schema size.
func (s *Schema) Retrieve(ctx context.Context, e embed.Embedder, definition string, topK int) ([]Candidate, error) {
	if definition == "" {
		return nil, ErrEmptyDefinition
	}
	if topK < 1 {
		return nil, ErrInvalidTopK
	}
	if len(s.names) == 0 {
		return nil, ErrEmptySchema
	}

	query, err := embed.EncodeQuery(ctx, e, definition)
	if err != nil {
		return nil, fmt.Errorf("embedding query definition: %w", err)
	}

	ranked, err := s.Rank(query)
	if err != nil {
		return nil, fmt.Errorf("ranking query definition: %w", err)
	}
	if topK < len(ranked) {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

// Rank scores every relation against query and returns all of them in
// ranked order. query must have the schema's dimension.
func (s *Schema) Rank(query []float32) ([]Candidate, error) {
	if err := s.checkDim(query); err != nil {
		return nil, err
	}
	out := make([]Candidate, len(s.names))
	for i, n := range s.names {
		out[i] = Candidate{
			Name:       n,
			Definition: s.definitions[n],
			Score:      dot(query, s.vectors[n]),
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out, nil
}

// dot expects len(a) == len(b).
func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func cloneVector(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}

// FromMap converts an unordered name→definition map into relations sorted by
// name, giving retrieval a deterministic tie-break order.
func FromMap(m map[string]string) []Relation {
	out := make([]Relation, 0, len(m))
	for name, def := range m {
		out = append(out, Relation{Name: name, Definition: def})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
