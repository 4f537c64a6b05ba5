package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Cache keys: hash of (model, prompt variant, text)
CREATE TABLE IF NOT EXISTS embedding_keys (
    id INTEGER PRIMARY KEY,
    cache_key TEXT NOT NULL UNIQUE,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Cached vectors via sqlite-vec, keyed by embedding_keys.id
CREATE VIRTUAL TABLE IF NOT EXISTS vec_embeddings USING vec0(
    key_id INTEGER PRIMARY KEY,
    embedding float[%d]
);

-- One row per canonicalization call
CREATE TABLE IF NOT EXISTS canonicalization_log (
    id INTEGER PRIMARY KEY,
    call_id TEXT NOT NULL,
    variant TEXT NOT NULL,
    state TEXT NOT NULL,
    input_text TEXT,
    subject TEXT,
    open_relation TEXT NOT NULL,
    object TEXT,
    canonical_relation TEXT,
    selected_option TEXT,
    confidence REAL,
    candidates JSON,
    reasoning TEXT,
    raw_output TEXT,
    enriched INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`, embeddingDim)
}
