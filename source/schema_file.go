package source

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/schemacanon/prompt"
	"github.com/brunobiangulo/schemacanon/schema"
)

// LoadSchema reads a target schema from a YAML or JSON file. Two shapes are
// accepted: a mapping of name to definition, or a list of
// {name, definition} objects. File order is kept either way.
func LoadSchema(path string) ([]schema.Relation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}
	return ParseSchema(data)
}

// ParseSchema decodes schema file contents; see LoadSchema.
func ParseSchema(data []byte) ([]schema.Relation, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("schema file is empty")
	}
	root := doc.Content[0]

	var out []schema.Relation
	switch root.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(root.Content); i += 2 {
			var name, def string
			if err := root.Content[i].Decode(&name); err != nil {
				return nil, fmt.Errorf("line %d: %w", root.Content[i].Line, err)
			}
			if err := root.Content[i+1].Decode(&def); err != nil {
				return nil, fmt.Errorf("relation %q: %w", name, err)
			}
			out = append(out, schema.Relation{Name: name, Definition: def})
		}
	case yaml.SequenceNode:
		if err := root.Decode(&out); err != nil {
			return nil, fmt.Errorf("parsing schema list: %w", err)
		}
	default:
		return nil, fmt.Errorf("schema must be a mapping or a list, got %s", kindName(root.Kind))
	}

	seen := make(map[string]bool, len(out))
	for _, r := range out {
		if r.Name == "" {
			return nil, errors.New("schema relation with empty name")
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("%w: %s", schema.ErrDuplicateRelation, r.Name)
		}
		seen[r.Name] = true
	}
	return out, nil
}

// LoadExamples reads per-relation usage examples: a mapping of relation
// name to {triple, sentence}.
func LoadExamples(path string) (map[string]prompt.Example, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading examples file: %w", err)
	}
	var out map[string]prompt.Example
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parsing examples: %w", err)
	}
	return out, nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return fmt.Sprintf("kind %d", k)
	}
}
