package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/schemacanon"
	"github.com/brunobiangulo/schemacanon/eval"
	"github.com/brunobiangulo/schemacanon/source"
)

func TestParseLevel(t *testing.T) {
	l, err := parseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)

	_, err = parseLevel("loud")
	assert.Error(t, err)
}

type scriptedCanonicalizer struct {
	results map[string]*schemacanon.Result
	errs    map[string]error
	seen    []string
}

func (s *scriptedCanonicalizer) Canonicalize(_ context.Context, text string, t schemacanon.Triplet, defs map[string]string, enrich bool) (*schemacanon.Result, error) {
	s.seen = append(s.seen, t.Relation()+"|"+text+"|"+defs[t.Relation()])
	if err := s.errs[t.Relation()]; err != nil {
		return nil, err
	}
	return s.results[t.Relation()], nil
}

func TestRunBatch(t *testing.T) {
	resolved := schemacanon.Triplet{"Paris", "capitalOf", "France"}
	c := &scriptedCanonicalizer{
		results: map[string]*schemacanon.Result{
			"seat of": {State: schemacanon.StateResolved, Triplet: &resolved, Confidence: 1},
			"near":    {State: schemacanon.StateUnresolved},
		},
		errs: map[string]error{"broken": errors.New("model offline")},
	}
	records := []source.Record{
		{ID: "1", Text: "t1", Triplet: [3]string{"Paris", "seat of", "France"}, Definition: "is the seat of"},
		{ID: "2", Text: "t2", Triplet: [3]string{"a", "broken", "b"}},
		{ID: "3", Text: "t3", Triplet: [3]string{"x", "near", "y"}},
	}

	var buf bytes.Buffer
	sum, err := runBatch(context.Background(), c, records, &buf, false)
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Records)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, map[schemacanon.State]int{schemacanon.StateResolved: 1, schemacanon.StateUnresolved: 1}, sum.States)
	assert.Equal(t, []string{"seat of|t1|is the seat of", "broken|t2|", "near|t3|"}, c.seen)

	var lines []outputLine
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var l outputLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		lines = append(lines, l)
	}
	require.Len(t, lines, 3)
	assert.Equal(t, "capitalOf", lines[0].Result.Triplet.Relation())
	assert.Equal(t, "model offline", lines[1].Error)
	assert.Nil(t, lines[1].Result)
	assert.Nil(t, lines[2].Result.Triplet)
}

func TestRunBatchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	sum, err := runBatch(ctx, &scriptedCanonicalizer{}, []source.Record{{ID: "1"}}, &buf, false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, sum.Records)
	assert.Zero(t, buf.Len())
}

func TestNewLogHandlerUsesJSONForFiles(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "log")
	require.NoError(t, err)
	defer f.Close()

	h := newLogHandler(f, slog.LevelInfo)
	_, ok := h.(*slog.JSONHandler)
	assert.True(t, ok, "got %T", h)
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
}

func TestWriteDatasetSchema(t *testing.T) {
	ds := eval.SampleDataset()
	path, err := writeDatasetSchema(ds)
	require.NoError(t, err)
	defer os.Remove(path)

	rels, err := source.LoadSchema(path)
	require.NoError(t, err)
	assert.Equal(t, ds.Schema, rels)
}
