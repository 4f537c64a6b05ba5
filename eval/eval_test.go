package eval

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/schemacanon"
	"github.com/brunobiangulo/schemacanon/schema"
)

type scripted struct {
	out map[string]scriptedAnswer
}

type scriptedAnswer struct {
	relation   string
	confidence float64
	candidates []string
	err        error
}

func (s *scripted) Canonicalize(_ context.Context, _ string, t schemacanon.Triplet, _ map[string]string, enrich bool) (*schemacanon.Result, error) {
	if enrich {
		return nil, errors.New("evaluation must not enrich")
	}
	a := s.out[t.Relation()]
	if a.err != nil {
		return nil, a.err
	}
	res := &schemacanon.Result{State: schemacanon.StateUnresolved, Confidence: a.confidence}
	for _, c := range a.candidates {
		res.Candidates = append(res.Candidates, schema.Candidate{Name: c})
	}
	if a.relation != "" {
		out := t
		out[1] = a.relation
		res.Triplet = &out
		res.State = schemacanon.StateResolved
	}
	return res, nil
}

func TestNormalizeRelation(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"capitalOf", "capitalof"},
		{"  Capital   Of ", "capital of"},
		{"capital_of", "capital of"},
		{"co\u2011founded", "co-founded"},
		{"\uFF43\uFF41\uFF50\uFF49\uFF54\uFF41\uFF4C", "capital"},
		{"born\u200BIn", "bornin"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeRelation(tt.in), tt.in)
	}
}

func TestRunMetrics(t *testing.T) {
	ds := Dataset{
		Name: "unit",
		Tests: []TestCase{
			{ID: "1", Triplet: [3]string{"a", "r1", "b"}, Gold: "capitalOf", Category: CategoryParaphrase},
			{ID: "2", Triplet: [3]string{"a", "r2", "b"}, Gold: "bornIn", Category: CategoryParaphrase},
			{ID: "3", Triplet: [3]string{"a", "r3", "b"}, Gold: "", Category: CategoryNoMatch},
			{ID: "4", Triplet: [3]string{"a", "r4", "b"}, Gold: "", Category: CategoryNoMatch},
			{ID: "5", Triplet: [3]string{"a", "r5", "b"}, Gold: "founded"},
		},
	}
	c := &scripted{out: map[string]scriptedAnswer{
		"r1": {relation: "capitalOf", confidence: 1, candidates: []string{"capitalOf", "locatedIn"}},
		"r2": {relation: "locatedIn", confidence: 0.7, candidates: []string{"locatedIn", "bornIn"}},
		"r3": {},
		"r4": {relation: "memberOf", confidence: 0.5},
		"r5": {err: errors.New("model offline")},
	}}

	report, err := NewEvaluator(c).Run(context.Background(), ds)
	require.NoError(t, err)

	assert.Equal(t, 5, report.TotalTests)
	assert.Equal(t, 2, report.Passed)
	assert.Equal(t, 3, report.Failed)
	assert.Equal(t, 1, report.Errors)

	m := report.Metrics
	assert.InDelta(t, 0.5, m.Accuracy, 1e-9)       // 2 of 4 evaluated
	assert.InDelta(t, 1.0/3, m.Precision, 1e-9)    // 1 of 3 predictions
	assert.InDelta(t, 0.5, m.Recall, 1e-9)         // 1 of 2 gold relations
	assert.InDelta(t, 0.75, m.Coverage, 1e-9)      // 3 of 4 predicted
	assert.InDelta(t, 0.5, m.AbstentionAccuracy, 1e-9)
	assert.InDelta(t, 0.4, m.F1, 1e-9)
	assert.InDelta(t, 2.2/4, m.AvgConfidence, 1e-9)

	assert.Equal(t, 1, report.Results[0].GoldRank)
	assert.Equal(t, 2, report.Results[1].GoldRank)
	assert.Equal(t, 0, report.Results[2].GoldRank)
	assert.Equal(t, "model offline", report.Results[4].Error)

	assert.Equal(t, map[schemacanon.State]int{schemacanon.StateResolved: 3, schemacanon.StateUnresolved: 1}, report.States)
	require.Contains(t, report.CategoryMetrics, CategoryNoMatch)
	assert.InDelta(t, 0.5, report.CategoryMetrics[CategoryNoMatch].AbstentionAccuracy, 1e-9)

	require.Len(t, report.Calibration, len(CalibrationBuckets))
	assert.Equal(t, Calibration{MinConfidence: 0.9, Count: 1, Correct: 1, Accuracy: 1}, report.Calibration[3])
	assert.Equal(t, 1, report.Calibration[2].Count)
	assert.Equal(t, 1, report.Calibration[1].Count)

	text := FormatReport(report)
	assert.Contains(t, text, "=== Evaluation Report: unit ===")
	assert.Contains(t, text, "[ERROR] 5.")
	assert.Contains(t, text, "[no-match]")
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEvaluator(&scripted{}).Run(ctx, SampleDataset())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadDataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: tiny
schema:
  - {name: capitalOf, definition: is the capital of}
tests:
  - text: Paris is the capital of France.
    triplet: [Paris, capital, France]
    definition: is the capital city of
    gold: capitalOf
`), 0o644))

	ds, err := LoadDataset(path)
	require.NoError(t, err)
	assert.Equal(t, "tiny", ds.Name)
	require.Len(t, ds.Schema, 1)
	require.Len(t, ds.Tests, 1)
	assert.Equal(t, "1", ds.Tests[0].ID)
	assert.Equal(t, [3]string{"Paris", "capital", "France"}, ds.Tests[0].Triplet)

	_, err = LoadDataset(filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}

func TestSampleDatasetIsConsistent(t *testing.T) {
	ds := SampleDataset()
	names := make(map[string]bool)
	for _, r := range ds.Schema {
		names[r.Name] = true
	}
	for _, tc := range ds.Tests {
		if tc.Gold != "" {
			assert.True(t, names[tc.Gold], "gold %q must be in the schema", tc.Gold)
		}
		if tc.Category == CategoryCanonical {
			assert.True(t, names[tc.Triplet[1]])
		} else {
			assert.NotEmpty(t, strings.TrimSpace(tc.Definition), tc.ID)
		}
	}
}
