package embed

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"log/slog"
	"sync"
)

// VectorCache stores vectors by an opaque key.
type VectorCache interface {
	GetVector(ctx context.Context, key string) ([]float32, bool, error)
	PutVector(ctx context.Context, key string, vec []float32) error
}

// MemoryCache is a process-local VectorCache.
type MemoryCache struct {
	mu sync.RWMutex
	m  map[string][]float32
}

// NewMemoryCache returns an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{m: make(map[string][]float32)}
}

// GetVector returns a copy of the cached vector.
func (c *MemoryCache) GetVector(_ context.Context, key string) ([]float32, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[key]
	if !ok {
		return nil, false, nil
	}
	return cloneVector(v), true, nil
}

// PutVector stores a copy of vec.
func (c *MemoryCache) PutVector(_ context.Context, key string, vec []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = cloneVector(vec)
	return nil
}

// Len returns the number of cached vectors.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// Cached memoizes an Embedder. Prompt variants are part of the key so a
// query-mode vector never answers a default-mode lookup.
type Cached struct {
	inner   Embedder
	cache   VectorCache
	modelID string
}

// NewCached wraps inner. modelID namespaces the keys so switching models
// does not serve stale vectors from a shared cache.
func NewCached(inner Embedder, cache VectorCache, modelID string) *Cached {
	return &Cached{inner: inner, cache: cache, modelID: modelID}
}

// Encode embeds text in the default mode.
func (c *Cached) Encode(ctx context.Context, text string) ([]float32, error) {
	return c.lookup(ctx, text, "", func() ([]float32, error) {
		return c.inner.Encode(ctx, text)
	})
}

// EncodeWithPrompt embeds text with a named prompt. It is only reachable
// through HasPrompt, which defers to the wrapped embedder.
func (c *Cached) EncodeWithPrompt(ctx context.Context, text, prompt string) ([]float32, error) {
	pe, ok := c.inner.(PromptEncoder)
	if !ok {
		return c.Encode(ctx, text)
	}
	return c.lookup(ctx, text, prompt, func() ([]float32, error) {
		return pe.EncodeWithPrompt(ctx, text, prompt)
	})
}

// HasPrompt reports whether the wrapped embedder supports prompt.
func (c *Cached) HasPrompt(prompt string) bool {
	pe, ok := c.inner.(PromptEncoder)
	return ok && pe.HasPrompt(prompt)
}

func (c *Cached) lookup(ctx context.Context, text, prompt string, compute func() ([]float32, error)) ([]float32, error) {
	key := CacheKey(c.modelID, prompt, text)
	vec, ok, err := c.cache.GetVector(ctx, key)
	if err != nil {
		slog.Warn("embed: cache read failed", "error", err)
	} else if ok {
		return vec, nil
	}

	vec, err = compute()
	if err != nil {
		return nil, err
	}
	if err := c.cache.PutVector(ctx, key, vec); err != nil {
		slog.Warn("embed: cache write failed", "error", err)
	}
	return vec, nil
}

// CacheKey derives the cache key for a (model, prompt, text) triple.
func CacheKey(modelID, prompt, text string) string {
	h := sha1.New()
	_, _ = io.WriteString(h, modelID)
	_, _ = io.WriteString(h, "|")
	_, _ = io.WriteString(h, prompt)
	_, _ = io.WriteString(h, "|")
	_, _ = io.WriteString(h, text)
	return hex.EncodeToString(h.Sum(nil))
}

func cloneVector(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}
