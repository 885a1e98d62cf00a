package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcript-rag/internal/config"
	"transcript-rag/internal/models"
)

// The memory and sqlite backends both run in-process, so the full Store
// contract is exercised against each; the postgres backend shares the
// semantics but needs a live server.

func openBackend(t *testing.T, backend string) Store {
	t.Helper()
	cfg := &config.DatabaseConfig{Backend: backend}
	if backend == "sqlite" {
		cfg.Path = filepath.Join(t.TempDir(), "chunks.db")
	}
	st, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// forEachBackend runs the contract test against every embedded backend.
func forEachBackend(t *testing.T, test func(t *testing.T, st Store)) {
	t.Helper()
	for _, backend := range []string{"memory", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			test(t, openBackend(t, backend))
		})
	}
}

func forEachReadyBackend(t *testing.T, dim int, test func(t *testing.T, st Store)) {
	t.Helper()
	forEachBackend(t, func(t *testing.T, st Store) {
		require.NoError(t, st.EnsureIndex(context.Background(), dim))
		test(t, st)
	})
}

func chunk(documentID string, ordinal int, text string, embedding []float32) models.Chunk {
	return models.Chunk{
		DocumentID: documentID,
		Ordinal:    ordinal,
		Text:       text,
		Embedding:  embedding,
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(&config.DatabaseConfig{Backend: "oracle"})
	assert.Error(t, err)
}

func TestEnsureIndexDimensionMismatch(t *testing.T) {
	forEachReadyBackend(t, 1536, func(t *testing.T, st Store) {
		ctx := context.Background()

		err := st.EnsureIndex(ctx, 768)
		assert.ErrorIs(t, err, ErrDimensionMismatch)

		// the original index is untouched
		assert.NoError(t, st.EnsureIndex(ctx, 1536))
	})
}

func TestEnsureIndexSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.db")
	ctx := context.Background()

	first, err := Open(&config.DatabaseConfig{Backend: "sqlite", Path: path})
	require.NoError(t, err)
	require.NoError(t, first.EnsureIndex(ctx, 3))
	require.NoError(t, first.UpsertChunks(ctx, "doc1", []models.Chunk{
		chunk("doc1", 0, "persisted", []float32{1, 0, 0}),
	}))
	require.NoError(t, first.Close())

	second, err := Open(&config.DatabaseConfig{Backend: "sqlite", Path: path})
	require.NoError(t, err)
	defer second.Close()

	// the recorded dimension outlives the process
	assert.ErrorIs(t, second.EnsureIndex(ctx, 4), ErrDimensionMismatch)
	require.NoError(t, second.EnsureIndex(ctx, 3))

	count, err := second.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestEnsureIndexConcurrentFirstUse(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st Store) {
		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = st.EnsureIndex(context.Background(), 3)
			}(i)
		}
		wg.Wait()
		for _, err := range errs {
			assert.NoError(t, err)
		}
	})
}

func TestEnsureIndexRacingReaders(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st Store) {
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, st.EnsureIndex(ctx, 3))
			}()
			wg.Add(1)
			go func() {
				defer wg.Done()
				// a reader overlapping first EnsureIndex sees either the
				// ready index or ErrNotReady, never a torn state
				if _, err := st.TopK(ctx, []float32{1, 0, 0}, 1); err != nil {
					assert.ErrorIs(t, err, ErrNotReady)
				}
			}()
		}
		wg.Wait()
	})
}

func TestUpsertBeforeEnsureIndex(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st Store) {
		err := st.UpsertChunks(context.Background(), "doc1", []models.Chunk{
			chunk("doc1", 0, "text", []float32{1, 0, 0}),
		})
		assert.ErrorIs(t, err, ErrNotReady)
	})
}

func TestUpsertReplacesDocument(t *testing.T) {
	forEachReadyBackend(t, 3, func(t *testing.T, st Store) {
		ctx := context.Background()

		require.NoError(t, st.UpsertChunks(ctx, "doc1", []models.Chunk{
			chunk("doc1", 0, "old first", []float32{1, 0, 0}),
			chunk("doc1", 1, "old second", []float32{0, 1, 0}),
		}))
		require.NoError(t, st.UpsertChunks(ctx, "doc1", []models.Chunk{
			chunk("doc1", 0, "new only", []float32{0, 0, 1}),
		}))

		count, err := st.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		results, err := st.TopK(ctx, []float32{0, 0, 1}, 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "new only", results[0].Chunk.Text)
	})
}

func TestUpsertEmptySetClearsDocument(t *testing.T) {
	forEachReadyBackend(t, 3, func(t *testing.T, st Store) {
		ctx := context.Background()

		require.NoError(t, st.UpsertChunks(ctx, "doc1", []models.Chunk{
			chunk("doc1", 0, "stale", []float32{1, 0, 0}),
		}))
		require.NoError(t, st.UpsertChunks(ctx, "doc1", nil))

		count, err := st.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})
}

func TestUpsertChunkDimensionMismatch(t *testing.T) {
	forEachReadyBackend(t, 3, func(t *testing.T, st Store) {
		err := st.UpsertChunks(context.Background(), "doc1", []models.Chunk{
			chunk("doc1", 0, "short vector", []float32{1, 0}),
		})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})
}

func TestTopKEmptyStore(t *testing.T) {
	forEachReadyBackend(t, 3, func(t *testing.T, st Store) {
		results, err := st.TopK(context.Background(), []float32{1, 0, 0}, 5)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestTopKQueryDimensionMismatch(t *testing.T) {
	forEachReadyBackend(t, 3, func(t *testing.T, st Store) {
		_, err := st.TopK(context.Background(), []float32{1, 0}, 5)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})
}

func TestTopKOrdersByDistance(t *testing.T) {
	forEachReadyBackend(t, 3, func(t *testing.T, st Store) {
		ctx := context.Background()

		require.NoError(t, st.UpsertChunks(ctx, "doc1", []models.Chunk{
			chunk("doc1", 0, "orthogonal", []float32{0, 1, 0}),
			chunk("doc1", 1, "exact match", []float32{1, 0, 0}),
			chunk("doc1", 2, "in between", []float32{0.6, 0.8, 0}),
		}))

		results, err := st.TopK(ctx, []float32{1, 0, 0}, 3)
		require.NoError(t, err)
		require.Len(t, results, 3)

		assert.Equal(t, "exact match", results[0].Chunk.Text)
		assert.Equal(t, "in between", results[1].Chunk.Text)
		assert.Equal(t, "orthogonal", results[2].Chunk.Text)

		assert.InDelta(t, 0.0, results[0].Distance, 1e-5)
		assert.InDelta(t, 1.0, results[0].Score, 1e-5)
		assert.InDelta(t, 0.4, results[1].Distance, 1e-5)
		assert.InDelta(t, 1.0, results[2].Distance, 1e-5)
		assert.InDelta(t, 0.0, results[2].Score, 1e-5)
	})
}

func TestTopKLimitsResultCount(t *testing.T) {
	forEachReadyBackend(t, 3, func(t *testing.T, st Store) {
		ctx := context.Background()

		require.NoError(t, st.UpsertChunks(ctx, "doc1", []models.Chunk{
			chunk("doc1", 0, "a", []float32{1, 0, 0}),
			chunk("doc1", 1, "b", []float32{0, 1, 0}),
			chunk("doc1", 2, "c", []float32{0, 0, 1}),
		}))

		results, err := st.TopK(ctx, []float32{1, 0, 0}, 2)
		require.NoError(t, err)
		assert.Len(t, results, 2)

		// k larger than the store is not an error
		results, err = st.TopK(ctx, []float32{1, 0, 0}, 50)
		require.NoError(t, err)
		assert.Len(t, results, 3)
	})
}

func TestTopKTieBreakIsDeterministic(t *testing.T) {
	forEachReadyBackend(t, 3, func(t *testing.T, st Store) {
		ctx := context.Background()

		same := []float32{1, 0, 0}
		require.NoError(t, st.UpsertChunks(ctx, "beta", []models.Chunk{
			chunk("beta", 1, "beta one", same),
			chunk("beta", 0, "beta zero", same),
		}))
		require.NoError(t, st.UpsertChunks(ctx, "alpha", []models.Chunk{
			chunk("alpha", 0, "alpha zero", same),
		}))

		results, err := st.TopK(ctx, same, 3)
		require.NoError(t, err)
		require.Len(t, results, 3)

		assert.Equal(t, "alpha zero", results[0].Chunk.Text)
		assert.Equal(t, "beta zero", results[1].Chunk.Text)
		assert.Equal(t, "beta one", results[2].Chunk.Text)
	})
}

func TestTopKPreservesChunkFields(t *testing.T) {
	forEachReadyBackend(t, 3, func(t *testing.T, st Store) {
		ctx := context.Background()

		require.NoError(t, st.UpsertChunks(ctx, "doc1", []models.Chunk{
			{
				DocumentID: "doc1",
				Ordinal:    2,
				Text:       "meeting notes",
				Metadata:   map[string]string{"file_path": "notes.txt", "tag": "standup"},
				Embedding:  []float32{1, 0, 0},
			},
		}))

		results, err := st.TopK(ctx, []float32{1, 0, 0}, 1)
		require.NoError(t, err)
		require.Len(t, results, 1)

		got := results[0].Chunk
		assert.Equal(t, "doc1", got.DocumentID)
		assert.Equal(t, 2, got.Ordinal)
		assert.Equal(t, "meeting notes", got.Text)
		assert.Equal(t, "notes.txt", got.Metadata["file_path"])
		assert.Equal(t, "standup", got.Metadata["tag"])
	})
}

func TestDeleteDocumentIdempotent(t *testing.T) {
	forEachReadyBackend(t, 3, func(t *testing.T, st Store) {
		ctx := context.Background()

		require.NoError(t, st.UpsertChunks(ctx, "doc1", []models.Chunk{
			chunk("doc1", 0, "text", []float32{1, 0, 0}),
		}))

		require.NoError(t, st.DeleteDocument(ctx, "doc1"))
		require.NoError(t, st.DeleteDocument(ctx, "doc1"))
		require.NoError(t, st.DeleteDocument(ctx, "never-existed"))

		count, err := st.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})
}

func TestConcurrentUpsertDifferentDocuments(t *testing.T) {
	forEachReadyBackend(t, 3, func(t *testing.T, st Store) {
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("doc-%d", i)
				errs[i] = st.UpsertChunks(ctx, id, []models.Chunk{
					chunk(id, 0, id, []float32{1, 0, 0}),
				})
			}(i)
		}
		wg.Wait()
		for _, err := range errs {
			require.NoError(t, err)
		}

		count, err := st.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(8), count)
	})
}
