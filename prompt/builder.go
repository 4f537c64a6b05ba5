// Package prompt renders the multiple-choice verification prompt: lettered
// candidate relations plus a trailing "none of the above" option, substituted
// into a template with named placeholders.
package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/brunobiangulo/schemacanon/schema"
)

var (
	// ErrTooManyCandidates is returned when the candidates plus the "none"
	// option do not fit in single letters A–Z.
	ErrTooManyCandidates = errors.New("prompt: too many candidates for single-letter options")

	// ErrTemplate is returned for malformed templates or unknown placeholders.
	ErrTemplate = errors.New("prompt: invalid template")
)

// MaxOptions is the number of single-letter options available.
const MaxOptions = 26

// Placeholder names understood by the renderer.
const (
	KeyInputText               = "input_text"
	KeyQueryTriplet            = "query_triplet"
	KeyQueryRelation           = "query_relation"
	KeyQueryRelationDefinition = "query_relation_definition"
	KeyChoices                 = "choices"
)

var knownKeys = map[string]bool{
	KeyInputText:               true,
	KeyQueryTriplet:            true,
	KeyQueryRelation:           true,
	KeyQueryRelationDefinition: true,
	KeyChoices:                 true,
}

// Example is a usage example shown under a candidate relation.
type Example struct {
	Triple   string `json:"triple" yaml:"triple"`
	Sentence string `json:"sentence" yaml:"sentence"`
}

// Prompt is a rendered verification prompt.
type Prompt struct {
	Text       string
	Letters    []string // one letter per candidate, in order
	NoneLetter string
}

// Builder renders prompts from a fixed template.
type Builder struct {
	template string
	examples map[string]Example
}

// NewBuilder validates template and returns a Builder for it.
func NewBuilder(template string) (*Builder, error) {
	if _, err := render(template, nil); err != nil {
		return nil, err
	}
	return &Builder{template: template}, nil
}

// WithExamples attaches per-relation usage examples. Relations without an
// example are rendered without one.
func (b *Builder) WithExamples(examples map[string]Example) *Builder {
	b.examples = examples
	return b
}

// Template returns the raw template text.
func (b *Builder) Template() string { return b.template }

// Letter returns the option letter for the zero-based index i.
func Letter(i int) string {
	return string(rune('A' + i))
}

// Build renders the prompt for triplet against candidates.
func (b *Builder) Build(inputText string, triplet [3]string, definition string, candidates []schema.Candidate) (*Prompt, error) {
	if len(candidates)+1 > MaxOptions {
		return nil, fmt.Errorf("%w: %d candidates", ErrTooManyCandidates, len(candidates))
	}

	var choices strings.Builder
	letters := make([]string, len(candidates))
	for i, c := range candidates {
		letters[i] = Letter(i)
		fmt.Fprintf(&choices, "%s. '%s': %s\n", letters[i], c.Name, c.Definition)
		if ex, ok := b.examples[c.Name]; ok {
			fmt.Fprintf(&choices, "Example: '%s' can be extracted from '%s'\n", ex.Triple, ex.Sentence)
		}
	}
	none := Letter(len(candidates))
	fmt.Fprintf(&choices, "%s. None of the above.\n", none)

	text, err := render(b.template, map[string]string{
		KeyInputText:               inputText,
		KeyQueryTriplet:            FormatTriplet(triplet),
		KeyQueryRelation:           triplet[1],
		KeyQueryRelationDefinition: definition,
		KeyChoices:                 choices.String(),
	})
	if err != nil {
		return nil, err
	}
	return &Prompt{Text: text, Letters: letters, NoneLetter: none}, nil
}

// FormatTriplet renders a triplet as a bracketed list of quoted strings,
// e.g. ['Paris', 'capital of', 'France'].
func FormatTriplet(t [3]string) string {
	parts := make([]string, len(t))
	for i, s := range t {
		parts[i] = quote(s)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// quote wraps s in single quotes, switching to double quotes when s holds a
// single quote but no double quote.
func quote(s string) string {
	if strings.Contains(s, "'") && !strings.Contains(s, `"`) {
		return `"` + strings.ReplaceAll(s, `\`, `\\`) + `"`
	}
	r := strings.NewReplacer(`\`, `\\`, "'", `\'`)
	return "'" + r.Replace(s) + "'"
}

// render substitutes {key} placeholders. "{{" and "}}" produce literal
// braces. A nil values map only validates the template.
func render(tmpl string, values map[string]string) (string, error) {
	var out strings.Builder
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch c {
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				out.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return "", fmt.Errorf("%w: unclosed '{' at offset %d", ErrTemplate, i)
			}
			key := tmpl[i+1 : i+1+end]
			if !knownKeys[key] {
				return "", fmt.Errorf("%w: unknown placeholder {%s}", ErrTemplate, key)
			}
			if values != nil {
				out.WriteString(values[key])
			}
			i += end + 1
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				out.WriteByte('}')
				i++
				continue
			}
			return "", fmt.Errorf("%w: single '}' at offset %d", ErrTemplate, i)
		default:
			out.WriteByte(c)
		}
	}
	return out.String(), nil
}
