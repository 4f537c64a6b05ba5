// Package source reads canonicalization batches, target schemas and the
// documents that triplets were extracted from.
package source

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Record is one triplet to canonicalize.
type Record struct {
	ID       string    `json:"id,omitempty"`
	Text     string    `json:"text,omitempty"`
	Document string    `json:"document,omitempty"` // path whose text is used when Text is empty
	Triplet  [3]string `json:"triplet"`

	// Definitions maps open relation labels to their definitions. A single
	// Definition is shorthand for an entry keyed by Triplet[1].
	Definition  string            `json:"definition,omitempty"`
	Definitions map[string]string `json:"definitions,omitempty"`
}

// RelationDefinitions returns the merged definition lookup for r.
func (r Record) RelationDefinitions() map[string]string {
	out := make(map[string]string, len(r.Definitions)+1)
	for k, v := range r.Definitions {
		out[k] = v
	}
	if r.Definition != "" {
		out[r.Triplet[1]] = r.Definition
	}
	return out
}

// Reader reads batch records from a file format.
type Reader interface {
	Read(ctx context.Context, path string) ([]Record, error)
	SupportedFormats() []string
}

// Registry maps file extensions to readers.
type Registry struct {
	readers map[string]Reader
}

// NewRegistry returns a registry with the built-in JSONL and XLSX readers.
func NewRegistry() *Registry {
	r := &Registry{readers: make(map[string]Reader)}
	for _, rd := range []Reader{&JSONLReader{}, &XLSXReader{}} {
		for _, f := range rd.SupportedFormats() {
			r.readers[f] = rd
		}
	}
	return r
}

// Get returns the reader registered for format.
func (r *Registry) Get(format string) (Reader, error) {
	rd, ok := r.readers[format]
	if !ok {
		return nil, fmt.Errorf("no reader for format: %s", format)
	}
	return rd, nil
}

// Register adds or replaces the reader for format.
func (r *Registry) Register(format string, rd Reader) {
	r.readers[format] = rd
}

// ReadFile picks a reader by the file extension of path.
func (r *Registry) ReadFile(ctx context.Context, path string) ([]Record, error) {
	rd, err := r.Get(Format(path))
	if err != nil {
		return nil, err
	}
	return rd.Read(ctx, path)
}

// Format returns the lower-cased extension of path without the dot.
func Format(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}
