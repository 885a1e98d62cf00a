// Package store persists transcript chunks and their embedding vectors
// behind one contract with three interchangeable backends: Postgres with the
// pgvector extension, an embedded SQLite engine with blob-encoded vector
// columns, and an in-memory store for tests and development. The distance
// metric is fixed to cosine.
package store

import (
	"context"
	"fmt"
	"sort"

	"transcript-rag/internal/config"
	"transcript-rag/internal/models"
)

// Store is the vector store contract. Both coordinators drive every backend
// through this interface only; no caller sees backend-specific syntax.
type Store interface {
	// EnsureIndex idempotently creates the chunk table and distance index
	// for vectors of the given dimension. It is safe under concurrent
	// first-use from multiple processes and fails with ErrDimensionMismatch
	// if an index already exists with a different dimension.
	EnsureIndex(ctx context.Context, dim int) error

	// UpsertChunks replaces the full chunk set of one document atomically:
	// readers observe either the old set or the new set, never a mix.
	UpsertChunks(ctx context.Context, documentID string, chunks []models.Chunk) error

	// TopK returns up to k chunks ordered by ascending cosine distance,
	// ties broken by document id then ordinal. An empty store yields an
	// empty result, not an error.
	TopK(ctx context.Context, queryVector []float32, k int) ([]models.RetrievedChunk, error)

	// DeleteDocument removes all chunks of a document. Deleting a document
	// without chunks is a no-op.
	DeleteDocument(ctx context.Context, documentID string) error

	// Count reports the number of stored chunks.
	Count(ctx context.Context) (int64, error)

	Close() error
}

// Open selects the backend from configuration. Backend choice is a
// deployment decision; callers never branch on it.
func Open(cfg *config.DatabaseConfig) (Store, error) {
	switch cfg.Backend {
	case "postgres":
		return openPostgres(cfg)
	case "sqlite":
		return openSQLite(cfg.Path)
	case "memory":
		return newMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// sortRetrieved applies the deterministic result order shared by backends
// that rank in-process: ascending distance, then document id, then ordinal.
func sortRetrieved(results []models.RetrievedChunk) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		if results[i].Chunk.DocumentID != results[j].Chunk.DocumentID {
			return results[i].Chunk.DocumentID < results[j].Chunk.DocumentID
		}
		return results[i].Chunk.Ordinal < results[j].Chunk.Ordinal
	})
}

func similarity(distance float64) float64 {
	if s := 1 - distance; s > 0 {
		return s
	}
	return 0
}
