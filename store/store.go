package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// ErrDimension is returned when a vector does not match the store's
// embedding dimension.
var ErrDimension = errors.New("store: vector dimension mismatch")

// CandidateScore is one ranked candidate in a log entry.
type CandidateScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// CanonicalizationLog represents a row in the canonicalization_log table.
type CanonicalizationLog struct {
	ID                int64            `json:"id"`
	CallID            string           `json:"call_id"`
	Variant           string           `json:"variant"`
	State             string           `json:"state"`
	InputText         string           `json:"input_text"`
	Subject           string           `json:"subject"`
	OpenRelation      string           `json:"open_relation"`
	Object            string           `json:"object"`
	CanonicalRelation string           `json:"canonical_relation,omitempty"`
	SelectedOption    string           `json:"selected_option,omitempty"`
	ExtractRule       string           `json:"extract_rule,omitempty"`
	Confidence        float64          `json:"confidence"`
	Candidates        []CandidateScore `json:"candidates"`
	Reasoning         string           `json:"reasoning,omitempty"`
	RawOutput         string           `json:"raw_output,omitempty"`
	Enriched          bool             `json:"enriched"`
	Cause             string           `json:"cause,omitempty"` // state before enrichment
	CreatedAt         string           `json:"created_at"`
}

// Store wraps the SQLite database holding the embedding cache and the
// canonicalization audit log. It never stores the target schema itself.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int) (*Store, error) {
	if embeddingDim <= 0 {
		return nil, fmt.Errorf("store: embedding dimension must be positive, got %d", embeddingDim)
	}

	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Embedding cache ---

// GetVector returns the cached vector for key.
func (s *Store) GetVector(ctx context.Context, key string) ([]float32, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT v.embedding
		FROM embedding_keys k
		JOIN vec_embeddings v ON v.key_id = k.id
		WHERE k.cache_key = ?
	`, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cached vector: %w", err)
	}
	vec, err := deserializeFloat32(blob)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

// PutVector stores vec under key, replacing any previous vector.
func (s *Store) PutVector(ctx context.Context, key string, vec []float32) error {
	if len(vec) != s.embeddingDim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimension, len(vec), s.embeddingDim)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO embedding_keys (cache_key) VALUES (?)", key); err != nil {
			return err
		}
		var id int64
		if err := tx.QueryRowContext(ctx,
			"SELECT id FROM embedding_keys WHERE cache_key = ?", key).Scan(&id); err != nil {
			return err
		}
		// vec0 tables do not support upsert; replace explicitly.
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM vec_embeddings WHERE key_id = ?", id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO vec_embeddings (key_id, embedding) VALUES (?, ?)",
			id, serializeFloat32(vec))
		return err
	})
}

// CachedVectors returns the number of cached vectors.
func (s *Store) CachedVectors(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vec_embeddings").Scan(&n)
	return n, err
}

// --- Canonicalization log ---

// LogCanonicalization appends one audit row.
func (s *Store) LogCanonicalization(ctx context.Context, e CanonicalizationLog) error {
	candidates := e.Candidates
	if candidates == nil {
		candidates = []CandidateScore{}
	}
	candidatesJSON, err := json.Marshal(candidates)
	if err != nil {
		return fmt.Errorf("encoding candidates: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO canonicalization_log (call_id, variant, state, input_text, subject, open_relation, object,
			canonical_relation, selected_option, extract_rule, confidence, candidates, reasoning, raw_output,
			enriched, cause)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.CallID, e.Variant, e.State, e.InputText, e.Subject, e.OpenRelation, e.Object,
		e.CanonicalRelation, e.SelectedOption, e.ExtractRule, e.Confidence, string(candidatesJSON),
		e.Reasoning, e.RawOutput, e.Enriched, e.Cause)
	return err
}

// RecentCanonicalizations returns up to limit log rows, newest first.
func (s *Store) RecentCanonicalizations(ctx context.Context, limit int) ([]CanonicalizationLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, call_id, variant, state, input_text, subject, open_relation, object,
			canonical_relation, selected_option, extract_rule, confidence, candidates, reasoning,
			raw_output, enriched, cause, created_at
		FROM canonicalization_log ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CanonicalizationLog
	for rows.Next() {
		var e CanonicalizationLog
		var candidates string
		if err := rows.Scan(&e.ID, &e.CallID, &e.Variant, &e.State, &e.InputText,
			&e.Subject, &e.OpenRelation, &e.Object, &e.CanonicalRelation, &e.SelectedOption,
			&e.ExtractRule, &e.Confidence, &candidates, &e.Reasoning, &e.RawOutput, &e.Enriched,
			&e.Cause, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(candidates), &e.Candidates); err != nil {
			return nil, fmt.Errorf("decoding candidates of row %d: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// StateCounts returns the number of logged calls per final state.
func (s *Store) StateCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT state, COUNT(*) FROM canonicalization_log GROUP BY state")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeFloat32(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("store: vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
