package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/schemacanon/embed"
)

// tableEmbedder maps exact texts to vectors. Texts embedded with the query
// prompt are looked up under "q:"+text when the prompt is enabled.
type tableEmbedder struct {
	vecs        map[string][]float32
	queryPrompt bool
	calls       []string
}

func (e *tableEmbedder) Encode(_ context.Context, text string) ([]float32, error) {
	e.calls = append(e.calls, text)
	v, ok := e.vecs[text]
	if !ok {
		return nil, errors.New("no vector for " + text)
	}
	return v, nil
}

func (e *tableEmbedder) EncodeWithPrompt(ctx context.Context, text, prompt string) ([]float32, error) {
	return e.Encode(ctx, "q:"+text)
}

func (e *tableEmbedder) HasPrompt(prompt string) bool {
	return e.queryPrompt && prompt == embed.QueryPrompt
}

func newTestSchema(t *testing.T, e embed.Embedder, rels ...Relation) *Schema {
	t.Helper()
	s, err := Build(context.Background(), e, rels)
	require.NoError(t, err)
	return s
}

func TestBuildKeepsOrderAndDefinitions(t *testing.T) {
	e := &tableEmbedder{vecs: map[string][]float32{
		"located in a place": {1, 0},
		"works for a company": {0, 1},
	}}
	s := newTestSchema(t, e,
		Relation{"locatedIn", "located in a place"},
		Relation{"employer", "works for a company"},
	)

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"locatedIn", "employer"}, s.Names())
	assert.True(t, s.Has("employer"))
	assert.False(t, s.Has("works for"))
	def, ok := s.Definition("locatedIn")
	require.True(t, ok)
	assert.Equal(t, "located in a place", def)
}

func TestBuildPropagatesEmbeddingError(t *testing.T) {
	e := &tableEmbedder{vecs: map[string][]float32{}}
	_, err := Build(context.Background(), e, []Relation{{"r", "missing"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `embedding relation "r"`)
}

func TestAddRelationRejectsDuplicate(t *testing.T) {
	s := New()
	require.NoError(t, s.AddRelation("r", "d", []float32{1}))
	err := s.AddRelation("r", "other", []float32{2})
	assert.ErrorIs(t, err, ErrDuplicateRelation)
	assert.Equal(t, 1, s.Len())
	def, _ := s.Definition("r")
	assert.Equal(t, "d", def)
}

func TestAddRelationCopiesVector(t *testing.T) {
	s := New()
	vec := []float32{1, 2}
	require.NoError(t, s.AddRelation("r", "d", vec))
	vec[0] = 100

	got, err := s.Rank([]float32{0, 1})
	require.NoError(t, err)
	assert.Equal(t, 2.0, got[0].Score)
	got, err = s.Rank([]float32{1, 0})
	require.NoError(t, err)
	assert.Equal(t, 1.0, got[0].Score)
}

func TestAddRelationRejectsDimensionMismatch(t *testing.T) {
	s := New()
	assert.ErrorIs(t, s.AddRelation("empty", "d", nil), ErrDimensionMismatch)
	assert.Equal(t, 0, s.Dim())

	require.NoError(t, s.AddRelation("a", "d", []float32{1, 0, 0}))
	assert.Equal(t, 3, s.Dim())

	err := s.AddRelation("b", "d", []float32{1, 0})
	require.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Contains(t, err.Error(), `relation "b"`)
	assert.False(t, s.Has("b"))
	assert.Equal(t, 1, s.Len())
}

func TestRetrieveRanksByDotProduct(t *testing.T) {
	e := &tableEmbedder{vecs: map[string][]float32{
		"d1":    {1, 0, 0},
		"d2":    {0, 1, 0},
		"d3":    {0.5, 0.5, 0},
		"query": {0.2, 0.9, 0},
	}}
	s := newTestSchema(t, e, Relation{"R1", "d1"}, Relation{"R2", "d2"}, Relation{"R3", "d3"})

	got, err := s.Retrieve(context.Background(), e, "query", 5)
	require.NoError(t, err)
	require.Len(t, got, 3, "top_k is clamped to schema size")

	assert.Equal(t, "R2", got[0].Name)
	assert.Equal(t, "R3", got[1].Name)
	assert.Equal(t, "R1", got[2].Name)
	assert.Equal(t, "d2", got[0].Definition)
	assert.InDelta(t, 0.9, got[0].Score, 1e-6)
	assert.InDelta(t, 0.55, got[1].Score, 1e-6)
	assert.InDelta(t, 0.2, got[2].Score, 1e-6)
}

func TestRetrieveTiesKeepInsertionOrder(t *testing.T) {
	e := &tableEmbedder{vecs: map[string][]float32{
		"a": {1, 0},
		"b": {1, 0},
		"c": {1, 0},
		"q": {1, 0},
	}}
	s := newTestSchema(t, e, Relation{"Z", "a"}, Relation{"A", "b"}, Relation{"M", "c"})

	for i := 0; i < 10; i++ {
		got, err := s.Retrieve(context.Background(), e, "q", 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "Z", got[0].Name)
		assert.Equal(t, "A", got[1].Name)
	}
}

func TestRetrieveUsesQueryPrompt(t *testing.T) {
	e := &tableEmbedder{
		queryPrompt: true,
		vecs: map[string][]float32{
			"d1":      {1, 0},
			"d2":      {0, 1},
			"q:query": {0, 1},
			"query":   {1, 0},
		},
	}
	s := newTestSchema(t, e, Relation{"R1", "d1"}, Relation{"R2", "d2"})

	got, err := s.Retrieve(context.Background(), e, "query", 1)
	require.NoError(t, err)
	assert.Equal(t, "R2", got[0].Name)
	assert.Equal(t, "q:query", e.calls[len(e.calls)-1])
}

func TestRetrieveErrors(t *testing.T) {
	e := &tableEmbedder{vecs: map[string][]float32{"d": {1}}}
	ctx := context.Background()

	empty := New()
	_, err := empty.Retrieve(ctx, e, "d", 5)
	assert.ErrorIs(t, err, ErrEmptySchema)

	s := newTestSchema(t, e, Relation{"R", "d"})
	_, err = s.Retrieve(ctx, e, "", 5)
	assert.ErrorIs(t, err, ErrEmptyDefinition)

	_, err = s.Retrieve(ctx, e, "d", 0)
	assert.ErrorIs(t, err, ErrInvalidTopK)

	_, err = s.Retrieve(ctx, e, "unknown", 1)
	assert.Error(t, err)
}

func TestFromMapSortsByName(t *testing.T) {
	got := FromMap(map[string]string{"b": "2", "a": "1", "c": "3"})
	assert.Equal(t, []Relation{{"a", "1"}, {"b", "2"}, {"c", "3"}}, got)
}

func TestRetrieveRejectsQueryOfOtherDimension(t *testing.T) {
	e := &tableEmbedder{vecs: map[string][]float32{
		"d1":    {1, 0, 0},
		"d2":    {0, 1, 0},
		"short": {1, 5},
		"long":  {1, 0, 0, 1},
	}}
	s := newTestSchema(t, e, Relation{"R1", "d1"}, Relation{"R2", "d2"})

	for _, q := range []string{"short", "long"} {
		got, err := s.Retrieve(context.Background(), e, q, 2)
		assert.ErrorIs(t, err, ErrDimensionMismatch, q)
		assert.Nil(t, got, q)
	}

	_, err := s.Rank([]float32{1, 2, 3})
	assert.NoError(t, err)
}
