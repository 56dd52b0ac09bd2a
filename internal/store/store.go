// Package store persists vector indexes and wiki structures in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ChamsBouzaiene/repowiki/internal/indexer"
	"github.com/ChamsBouzaiene/repowiki/internal/wiki"
)

// wikiVersionsKept bounds stored wiki generations per repository and language.
const wikiVersionsKept = 5

// Store provides database operations for indexes and wikis.
type Store struct {
	db *sql.DB
}

// Open creates the database at path (and its directory) and initializes the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// WAL allows readers alongside the single writer.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support multiple writers well
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	-- One vector index per repository key
	CREATE TABLE IF NOT EXISTS indexes (
		repo_key           TEXT PRIMARY KEY,
		embedding_model_id TEXT NOT NULL,
		index_version      TEXT NOT NULL,
		built_at           INTEGER NOT NULL,
		chunk_count        INTEGER NOT NULL,
		meta               TEXT NOT NULL
	);

	-- Chunks with their vectors (little-endian float32)
	CREATE TABLE IF NOT EXISTS chunks (
		repo_key   TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		chunk_id   TEXT NOT NULL,
		file_path  TEXT NOT NULL,
		lang       TEXT NOT NULL,
		start_line INTEGER NOT NULL,
		end_line   INTEGER NOT NULL,
		text       TEXT NOT NULL,
		vector     BLOB NOT NULL,
		PRIMARY KEY (repo_key, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(repo_key, file_path);

	-- Wiki structures, versioned by generation time
	CREATE TABLE IF NOT EXISTS wiki_structures (
		repo_key     TEXT NOT NULL,
		language     TEXT NOT NULL,
		generated_at INTEGER NOT NULL,
		data         TEXT NOT NULL,
		PRIMARY KEY (repo_key, language, generated_at)
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveIndex replaces the stored index for idx.Meta.RepoKey in one transaction.
func (s *Store) SaveIndex(ctx context.Context, idx *indexer.VectorIndex) (err error) {
	meta, err := json.Marshal(idx.Meta)
	if err != nil {
		return fmt.Errorf("failed to encode index metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	key := idx.Meta.RepoKey
	if _, err = tx.ExecContext(ctx, `DELETE FROM chunks WHERE repo_key = ?`, key); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}

	query := `
		INSERT INTO indexes (repo_key, embedding_model_id, index_version, built_at, chunk_count, meta)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_key) DO UPDATE SET
			embedding_model_id = excluded.embedding_model_id,
			index_version = excluded.index_version,
			built_at = excluded.built_at,
			chunk_count = excluded.chunk_count,
			meta = excluded.meta
	`
	if _, err = tx.ExecContext(ctx, query, key, idx.Meta.EmbeddingModelID, idx.Meta.IndexVersion,
		idx.Meta.BuiltAt.UnixMilli(), idx.Len(), string(meta)); err != nil {
		return fmt.Errorf("failed to upsert index: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (repo_key, seq, chunk_id, file_path, lang, start_line, end_line, text, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range idx.Chunks() {
		if _, err = stmt.ExecContext(ctx, key, i, c.ID, c.Path, c.Language, c.StartLine, c.EndLine, c.Text,
			indexer.EncodeVector(c.Vector)); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit index: %w", err)
	}
	return nil
}

// LoadIndex returns the stored index for key, or nil when there is none.
func (s *Store) LoadIndex(ctx context.Context, key string) (*indexer.VectorIndex, error) {
	var metaJSON string
	err := s.db.QueryRowContext(ctx, `SELECT meta FROM indexes WHERE repo_key = ?`, key).Scan(&metaJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}

	var meta indexer.Metadata
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("failed to decode index metadata: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, file_path, lang, start_line, end_line, text, vector
		FROM chunks
		WHERE repo_key = ?
		ORDER BY seq
	`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	chunks := make([]indexer.Chunk, 0, meta.ChunkCount)
	for rows.Next() {
		var c indexer.Chunk
		var blob []byte
		if err := rows.Scan(&c.ID, &c.Path, &c.Language, &c.StartLine, &c.EndLine, &c.Text, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if c.Vector, err = indexer.DecodeVector(blob); err != nil {
			return nil, fmt.Errorf("chunk %s: %w", c.ID, err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return indexer.NewVectorIndex(meta, chunks), nil
}

// DeleteIndex removes the stored index for key.
func (s *Store) DeleteIndex(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE repo_key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM indexes WHERE repo_key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete index: %w", err)
	}
	return tx.Commit()
}

// IndexSummary is one row of ListIndexes.
type IndexSummary struct {
	RepoKey          string    `json:"repo_key"`
	EmbeddingModelID string    `json:"embedding_model_id"`
	BuiltAt          time.Time `json:"built_at"`
	ChunkCount       int       `json:"chunk_count"`
}

// ListIndexes returns all stored indexes ordered by key.
func (s *Store) ListIndexes(ctx context.Context) ([]IndexSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT repo_key, embedding_model_id, built_at, chunk_count
		FROM indexes
		ORDER BY repo_key
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query indexes: %w", err)
	}
	defer rows.Close()

	var out []IndexSummary
	for rows.Next() {
		var r IndexSummary
		var builtAt int64
		if err := rows.Scan(&r.RepoKey, &r.EmbeddingModelID, &builtAt, &r.ChunkCount); err != nil {
			return nil, fmt.Errorf("failed to scan index: %w", err)
		}
		r.BuiltAt = time.UnixMilli(builtAt).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveWiki stores a new generation of a wiki structure and prunes old generations.
func (s *Store) SaveWiki(ctx context.Context, w *wiki.Structure) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to encode wiki: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO wiki_structures (repo_key, language, generated_at, data)
		VALUES (?, ?, ?, ?)
	`, w.RepoKey, w.Language, w.GeneratedAt.UnixMilli(), string(data)); err != nil {
		return fmt.Errorf("failed to insert wiki: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM wiki_structures
		WHERE repo_key = ? AND language = ? AND generated_at NOT IN (
			SELECT generated_at FROM wiki_structures
			WHERE repo_key = ? AND language = ?
			ORDER BY generated_at DESC
			LIMIT ?
		)
	`, w.RepoKey, w.Language, w.RepoKey, w.Language, wikiVersionsKept); err != nil {
		return fmt.Errorf("failed to prune wiki history: %w", err)
	}
	return tx.Commit()
}

// LoadWiki returns the latest wiki for key and language, or nil when there is none.
func (s *Store) LoadWiki(ctx context.Context, key, language string) (*wiki.Structure, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM wiki_structures
		WHERE repo_key = ? AND language = ?
		ORDER BY generated_at DESC
		LIMIT 1
	`, key, language).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query wiki: %w", err)
	}

	var w wiki.Structure
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return nil, fmt.Errorf("failed to decode wiki: %w", err)
	}
	return &w, nil
}

// DeleteWiki removes every stored wiki generation for key.
func (s *Store) DeleteWiki(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM wiki_structures WHERE repo_key = ?`, key)
	return err
}
