package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"transcript-rag/internal/models"
)

// SQLiteStore keeps chunks in an embedded SQLite database. Vectors are
// stored as length-prefixed float32 blobs and ranked in-process, so the
// backend needs no extension.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.Mutex
	dim int
}

func openSQLite(path string) (*SQLiteStore, error) {
	// _txlock=immediate makes write transactions take the lock up front,
	// busy_timeout lets concurrent writers wait instead of failing. Pragmas
	// use the _pragma=name(value) form this driver expects.
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, wrapError("open", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) EnsureIndex(ctx context.Context, dim int) error {
	if dim <= 0 {
		return wrapError("ensure index", fmt.Errorf("%w: dimension %d", ErrDimensionMismatch, dim))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError("ensure index", err)
	}
	defer tx.Rollback()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS rag_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			embedding_dim INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transcript_chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			document_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			chunk_text TEXT NOT NULL,
			metadata TEXT,
			embedding BLOB NOT NULL,
			UNIQUE (document_id, ordinal)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_by_document ON transcript_chunks (document_id, ordinal)`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return wrapError("ensure index", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO rag_meta (id, embedding_dim) VALUES (1, ?)", dim); err != nil {
		return wrapError("ensure index", err)
	}

	var existing int
	if err := tx.QueryRowContext(ctx,
		"SELECT embedding_dim FROM rag_meta WHERE id = 1").Scan(&existing); err != nil {
		return wrapError("ensure index", err)
	}
	if existing != dim {
		return wrapError("ensure index",
			fmt.Errorf("%w: index has dimension %d, requested %d", ErrDimensionMismatch, existing, dim))
	}
	if err := tx.Commit(); err != nil {
		return wrapError("ensure index", err)
	}
	s.dim = dim
	return nil
}

// dimension reads the established index dimension; zero means EnsureIndex
// has not completed yet.
func (s *SQLiteStore) dimension() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dim
}

func (s *SQLiteStore) UpsertChunks(ctx context.Context, documentID string, chunks []models.Chunk) error {
	dim := s.dimension()
	if dim == 0 {
		return wrapError("upsert", ErrNotReady)
	}
	for _, chunk := range chunks {
		if len(chunk.Embedding) != dim {
			return wrapError("upsert",
				fmt.Errorf("%w: chunk %d of document %s has %d values, index has %d",
					ErrDimensionMismatch, chunk.Ordinal, documentID, len(chunk.Embedding), dim))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError("upsert", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM transcript_chunks WHERE document_id = ?", documentID); err != nil {
		return wrapError("upsert", err)
	}
	for _, chunk := range chunks {
		metadata, err := encodeMetadata(chunk.Metadata)
		if err != nil {
			return wrapError("upsert", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transcript_chunks (document_id, ordinal, chunk_text, metadata, embedding)
			 VALUES (?, ?, ?, ?, ?)`,
			documentID, chunk.Ordinal, chunk.Text, metadata, encodeVector(chunk.Embedding)); err != nil {
			return wrapError("upsert", err)
		}
	}
	return wrapError("upsert", tx.Commit())
}

func (s *SQLiteStore) TopK(ctx context.Context, queryVector []float32, k int) ([]models.RetrievedChunk, error) {
	dim := s.dimension()
	if dim == 0 {
		return nil, wrapError("search", ErrNotReady)
	}
	if len(queryVector) != dim {
		return nil, wrapError("search",
			fmt.Errorf("%w: query vector has %d values, index has %d", ErrDimensionMismatch, len(queryVector), dim))
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, document_id, ordinal, chunk_text, metadata, embedding FROM transcript_chunks")
	if err != nil {
		return nil, wrapError("search", err)
	}
	defer rows.Close()

	var results []models.RetrievedChunk
	for rows.Next() {
		var (
			row     models.Chunk
			rawMeta sql.NullString
			blob    []byte
		)
		if err := rows.Scan(&row.ID, &row.DocumentID, &row.Ordinal, &row.Text, &rawMeta, &blob); err != nil {
			return nil, wrapError("search", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, wrapError("search", err)
		}
		row.Embedding = vec
		if row.Metadata, err = decodeMetadata(rawMeta.String); err != nil {
			return nil, wrapError("search", err)
		}
		distance := cosineDistance(queryVector, vec)
		results = append(results, models.RetrievedChunk{
			Chunk:    row,
			Distance: distance,
			Score:    similarity(distance),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("search", err)
	}

	sortRetrieved(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM transcript_chunks WHERE document_id = ?", documentID)
	return wrapError("delete", err)
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transcript_chunks").Scan(&n); err != nil {
		return 0, wrapError("count", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
