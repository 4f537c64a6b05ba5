package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/brunobiangulo/schemacanon"
	"github.com/brunobiangulo/schemacanon/schema"
)

type fakeService struct {
	gotText    string
	gotTriplet schemacanon.Triplet
	gotDefs    map[string]string
	gotEnrich  bool
	gotTopK    int
	err        error
	panicOn    bool
}

func (f *fakeService) Canonicalize(_ context.Context, text string, t schemacanon.Triplet, defs map[string]string, enrich bool) (*schemacanon.Result, error) {
	if f.panicOn {
		panic("boom")
	}
	f.gotText, f.gotTriplet, f.gotDefs, f.gotEnrich = text, t, defs, enrich
	if f.err != nil {
		return nil, f.err
	}
	out := t
	out[1] = "capitalOf"
	return &schemacanon.Result{CallID: "c1", State: schemacanon.StateResolved, Triplet: &out, Confidence: 1}, nil
}

func (f *fakeService) Retrieve(_ context.Context, definition string, topK int) ([]schema.Candidate, error) {
	f.gotTopK = topK
	if f.err != nil {
		return nil, f.err
	}
	return []schema.Candidate{{Name: "capitalOf", Definition: "is the capital city of", Score: 0.9}}, nil
}

func (f *fakeService) Relations() []schema.Relation {
	return []schema.Relation{{Name: "capitalOf", Definition: "is the capital city of"}}
}

func (f *fakeService) Variant() schemacanon.Variant { return schemacanon.VariantCoT }

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCanonicalizeEndpoint(t *testing.T) {
	svc := &fakeService{}
	h := newRouter(svc, prometheus.NewRegistry(), "", "")

	rec := do(t, h, http.MethodPost, "/canonicalize",
		`{"text":"Paris is the seat of France.","triplet":["Paris","seat of","France"],"definition":"is the seat of","enrich":true}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res schemacanon.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, schemacanon.StateResolved, res.State)
	assert.Equal(t, "capitalOf", res.Triplet.Relation())

	assert.Equal(t, schemacanon.Triplet{"Paris", "seat of", "France"}, svc.gotTriplet)
	assert.Equal(t, map[string]string{"seat of": "is the seat of"}, svc.gotDefs)
	assert.True(t, svc.gotEnrich)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestCanonicalizeValidation(t *testing.T) {
	h := newRouter(&fakeService{}, prometheus.NewRegistry(), "", "")

	rec := do(t, h, http.MethodPost, "/canonicalize", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/canonicalize", `{"triplet":["a","","b"]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/canonicalize", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCanonicalizeBackendError(t *testing.T) {
	h := newRouter(&fakeService{err: errors.New("model offline")}, prometheus.NewRegistry(), "", "")
	rec := do(t, h, http.MethodPost, "/canonicalize", `{"triplet":["a","r","b"]}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "model offline")
}

func TestRetrieveEndpoint(t *testing.T) {
	svc := &fakeService{}
	h := newRouter(svc, prometheus.NewRegistry(), "", "")

	rec := do(t, h, http.MethodPost, "/retrieve", `{"definition":"is the seat of","top_k":99}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, schemacanon.DefaultTopK, svc.gotTopK, "out-of-range top_k falls back to the default")
	assert.Contains(t, rec.Body.String(), `"capitalOf"`)

	svc.err = schemacanon.ErrEmptySchema
	rec = do(t, h, http.MethodPost, "/retrieve", `{"definition":"x","top_k":2}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/retrieve", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRelationsAndHealth(t *testing.T) {
	h := newRouter(&fakeService{}, prometheus.NewRegistry(), "", "")

	rec := do(t, h, http.MethodGet, "/relations", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = do(t, h, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"variant":"cot"`)
}

func TestAuthMiddleware(t *testing.T) {
	h := newRouter(&fakeService{}, prometheus.NewRegistry(), "secret", "")

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/relations", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		do(t, h, http.MethodGet, "/relations", "", map[string]string{"Authorization": "Bearer wrong"}).Code)
	assert.Equal(t, http.StatusOK,
		do(t, h, http.MethodGet, "/relations", "", map[string]string{"Authorization": "Bearer secret"}).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/metrics", "", nil).Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newRouter(&fakeService{}, prometheus.NewRegistry(), "", "https://app.example")
	rec := do(t, h, http.MethodOptions, "/canonicalize", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := newRouter(&fakeService{panicOn: true}, prometheus.NewRegistry(), "", "")
	rec := do(t, h, http.MethodPost, "/canonicalize", `{"triplet":["a","r","b"]}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newHTTPMetrics(reg)
	h := logMiddleware(m, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := do(t, h, http.MethodGet, "/anything", "", map[string]string{requestIDHeader: "req-7"})
	assert.Equal(t, "req-7", rec.Header().Get(requestIDHeader))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("unmatched", "418")))
}

func TestInitTracing(t *testing.T) {
	shutdown, err := initTracing("none", io.Discard)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	_, err = initTracing("zipkin", io.Discard)
	assert.ErrorContains(t, err, `unknown trace exporter "zipkin"`)

	var buf bytes.Buffer
	shutdown, err = initTracing("stdout", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	_, span := otel.Tracer("test").Start(context.Background(), "probe")
	span.End()
	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name":"probe"`)
}
