package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brunobiangulo/schemacanon"
	"github.com/brunobiangulo/schemacanon/schema"
)

// service is the part of *schemacanon.Canonicalizer the handlers use.
type service interface {
	Canonicalize(ctx context.Context, inputText string, triplet schemacanon.Triplet, definitions map[string]string, enrich bool) (*schemacanon.Result, error)
	Retrieve(ctx context.Context, definition string, topK int) ([]schema.Candidate, error)
	Relations() []schema.Relation
	Variant() schemacanon.Variant
}

type handler struct {
	svc service
}

func newHandler(s service) *handler {
	return &handler{svc: s}
}

// maxBodyBytes bounds request bodies; passages can be long but not unbounded.
const maxBodyBytes = 4 << 20

// POST /canonicalize
func (h *handler) handleCanonicalize(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	var req struct {
		Text        string            `json:"text"`
		Triplet     [3]string         `json:"triplet"`
		Definition  string            `json:"definition,omitempty"`
		Definitions map[string]string `json:"definitions,omitempty"`
		Enrich      bool              `json:"enrich"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Triplet[1]) == "" {
		writeError(w, http.StatusBadRequest, "triplet relation is required")
		return
	}

	defs := make(map[string]string, len(req.Definitions)+1)
	for k, v := range req.Definitions {
		defs[k] = v
	}
	if req.Definition != "" {
		defs[req.Triplet[1]] = req.Definition
	}

	res, err := h.svc.Canonicalize(ctx, req.Text, schemacanon.Triplet(req.Triplet), defs, req.Enrich)
	if err != nil {
		writeError(w, statusFor(err), "canonicalization failed")
		slog.Error("canonicalize error", "relation", req.Triplet[1], "error", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /retrieve
func (h *handler) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	var req struct {
		Definition string `json:"definition"`
		TopK       int    `json:"top_k,omitempty"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Definition == "" {
		writeError(w, http.StatusBadRequest, "definition is required")
		return
	}

	// Bound parameters.
	if req.TopK <= 0 || req.TopK > 25 {
		req.TopK = schemacanon.DefaultTopK
	}

	cands, err := h.svc.Retrieve(ctx, req.Definition, req.TopK)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		slog.Error("retrieve error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"candidates": cands,
	})
}

// GET /relations
func (h *handler) handleRelations(w http.ResponseWriter, r *http.Request) {
	rels := h.svc.Relations()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(rels),
		"relations": rels,
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"variant": string(h.svc.Variant()),
	})
}

// statusFor maps request-shaped failures to 400 and the rest to 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, schemacanon.ErrEmptySchema),
		errors.Is(err, schema.ErrEmptyDefinition),
		errors.Is(err, schema.ErrInvalidTopK):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
