package prompt

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/schemacanon/schema"
)

const testTemplate = "T={input_text}|Q={query_triplet}|R={query_relation}|D={query_relation_definition}\n{choices}"

func candidates(n int) []schema.Candidate {
	out := make([]schema.Candidate, n)
	for i := range out {
		out[i] = schema.Candidate{Name: "rel" + Letter(i), Definition: "def " + Letter(i)}
	}
	return out
}

func TestBuildLettersChoices(t *testing.T) {
	b, err := NewBuilder(testTemplate)
	require.NoError(t, err)

	p, err := b.Build("Paris is in France.", [3]string{"Paris", "in", "France"}, "located in", []schema.Candidate{
		{Name: "locatedIn", Definition: "subject is located in object"},
		{Name: "capitalOf", Definition: "subject is the capital of object"},
	})
	require.NoError(t, err)

	want := "T=Paris is in France.|Q=['Paris', 'in', 'France']|R=in|D=located in\n" +
		"A. 'locatedIn': subject is located in object\n" +
		"B. 'capitalOf': subject is the capital of object\n" +
		"C. None of the above.\n"
	assert.Equal(t, want, p.Text)
	assert.Equal(t, []string{"A", "B"}, p.Letters)
	assert.Equal(t, "C", p.NoneLetter)
}

func TestBuildOptionCount(t *testing.T) {
	b, err := NewBuilder("{choices}")
	require.NoError(t, err)

	tests := []struct {
		n        int
		wantNone string
		wantErr  bool
	}{
		{0, "A", false},
		{1, "B", false},
		{5, "F", false},
		{25, "Z", false},
		{26, "", true},
	}
	for _, tt := range tests {
		p, err := b.Build("", [3]string{"s", "r", "o"}, "d", candidates(tt.n))
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrTooManyCandidates, "n=%d", tt.n)
			continue
		}
		require.NoError(t, err, "n=%d", tt.n)
		assert.Equal(t, tt.wantNone, p.NoneLetter)
		assert.Len(t, p.Letters, tt.n)
		assert.Equal(t, tt.n+1, strings.Count(p.Text, "\n"))
	}
}

func TestBuildWithExamples(t *testing.T) {
	b, err := NewBuilder("{choices}")
	require.NoError(t, err)
	b.WithExamples(map[string]Example{
		"relA": {Triple: "['a', 'relA', 'b']", Sentence: "a relates to b"},
	})

	p, err := b.Build("", [3]string{"s", "r", "o"}, "d", candidates(2))
	require.NoError(t, err)
	want := "A. 'relA': def A\n" +
		"Example: '['a', 'relA', 'b']' can be extracted from 'a relates to b'\n" +
		"B. 'relB': def B\n" +
		"C. None of the above.\n"
	assert.Equal(t, want, p.Text)
}

func TestTemplateValidation(t *testing.T) {
	tests := []struct {
		name    string
		tmpl    string
		wantErr bool
	}{
		{"all placeholders", testTemplate, false},
		{"escaped braces", "{{\"json\": {choices}}}", false},
		{"no placeholders", "plain text", false},
		{"unknown placeholder", "{input_text} {subject}", true},
		{"unclosed brace", "{choices", true},
		{"single closing brace", "choices}", true},
		{"format spec", "{choices:>10}", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBuilder(tt.tmpl)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrTemplate)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEscapedBracesRenderLiterally(t *testing.T) {
	b, err := NewBuilder(`{{"relation": "{query_relation}"}}`)
	require.NoError(t, err)
	p, err := b.Build("", [3]string{"s", "born in", "o"}, "d", nil)
	require.NoError(t, err)
	assert.Equal(t, `{"relation": "born in"}`, p.Text)
}

func TestFormatTriplet(t *testing.T) {
	assert.Equal(t, "['a', 'b', 'c']", FormatTriplet([3]string{"a", "b", "c"}))
	assert.Equal(t, `["it's", 'b', 'c']`, FormatTriplet([3]string{"it's", "b", "c"}))
	assert.Equal(t, `['say "hi" it\'s', 'b', 'c']`, FormatTriplet([3]string{`say "hi" it's`, "b", "c"}))
}

func TestLoadFallsBack(t *testing.T) {
	fsys := fstest.MapFS{
		"sc_template_cot_en.txt": {Data: []byte("english {choices}")},
	}

	got, err := Load(fsys, true, LangEN)
	require.NoError(t, err)
	assert.Equal(t, "english {choices}", got)

	got, err = Load(fsys, true, LangZH)
	require.NoError(t, err)
	assert.Equal(t, "english {choices}", got)

	_, err = Load(fsys, false, LangZH)
	assert.ErrorIs(t, err, ErrTemplateNotFound)

	_, err = Load(fsys, true, "fr")
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)
}

func TestLoadCoTTemplateMissingDir(t *testing.T) {
	_, err := LoadCoTTemplate(t.TempDir(), LangZH)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestBundledTemplatesAreValid(t *testing.T) {
	for _, cot := range []bool{false, true} {
		for _, lang := range []string{LangZH, LangEN} {
			tmpl, err := Load(Bundled(), cot, lang)
			require.NoError(t, err)
			_, err = NewBuilder(tmpl)
			assert.NoError(t, err, TemplateFile(cot, lang))
			assert.Contains(t, tmpl, "{choices}")
		}
	}
}
