package store

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"

	"transcript-rag/internal/models"
)

const memoryCollection = "transcript_chunks"

// reserved metadata keys carrying chunk identity through chromem documents
const (
	metaDocumentID = "_document_id"
	metaOrdinal    = "_ordinal"
	metaChunkID    = "_chunk_id"
)

// MemoryStore is the in-process backend used by tests and small dev
// deployments. It rides on chromem-go, which already ranks by cosine
// similarity.
type MemoryStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	mu         sync.Mutex
	dim        int
	nextID     int64
}

func newMemoryStore() *MemoryStore {
	return &MemoryStore{db: chromem.NewDB(), nextID: 1}
}

func (m *MemoryStore) EnsureIndex(_ context.Context, dim int) error {
	if dim <= 0 {
		return wrapError("ensure index", fmt.Errorf("%w: dimension %d", ErrDimensionMismatch, dim))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.collection != nil {
		if m.dim != dim {
			return wrapError("ensure index",
				fmt.Errorf("%w: index has dimension %d, requested %d", ErrDimensionMismatch, m.dim, dim))
		}
		return nil
	}

	collection, err := m.db.GetOrCreateCollection(memoryCollection, nil, nil)
	if err != nil {
		return wrapError("ensure index", err)
	}
	m.collection = collection
	m.dim = dim
	return nil
}

func (m *MemoryStore) UpsertChunks(ctx context.Context, documentID string, chunks []models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.collection == nil {
		return wrapError("upsert", ErrNotReady)
	}
	docs := make([]chromem.Document, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk.Embedding) != m.dim {
			return wrapError("upsert",
				fmt.Errorf("%w: chunk %d of document %s has %d values, index has %d",
					ErrDimensionMismatch, chunk.Ordinal, documentID, len(chunk.Embedding), m.dim))
		}
		metadata := map[string]string{
			metaDocumentID: documentID,
			metaOrdinal:    strconv.Itoa(chunk.Ordinal),
			metaChunkID:    strconv.FormatInt(m.nextID, 10),
		}
		m.nextID++
		for k, v := range chunk.Metadata {
			if _, reserved := metadata[k]; !reserved {
				metadata[k] = v
			}
		}
		docs = append(docs, chromem.Document{
			ID:        fmt.Sprintf("%s:%d", documentID, chunk.Ordinal),
			Content:   chunk.Text,
			Metadata:  metadata,
			Embedding: chunk.Embedding,
		})
	}

	if err := m.collection.Delete(ctx, map[string]string{metaDocumentID: documentID}, nil); err != nil {
		return wrapError("upsert", err)
	}
	if len(docs) == 0 {
		return nil
	}
	return wrapError("upsert", m.collection.AddDocuments(ctx, docs, runtime.NumCPU()))
}

func (m *MemoryStore) TopK(ctx context.Context, queryVector []float32, k int) ([]models.RetrievedChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.collection == nil {
		return nil, wrapError("search", ErrNotReady)
	}
	if len(queryVector) != m.dim {
		return nil, wrapError("search",
			fmt.Errorf("%w: query vector has %d values, index has %d", ErrDimensionMismatch, len(queryVector), m.dim))
	}

	count := m.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	found, err := m.collection.QueryEmbedding(ctx, queryVector, k, nil, nil)
	if err != nil {
		return nil, wrapError("search", err)
	}

	results := make([]models.RetrievedChunk, 0, len(found))
	for _, res := range found {
		chunk, err := chunkFromChromem(res)
		if err != nil {
			return nil, wrapError("search", err)
		}
		distance := 1 - float64(res.Similarity)
		results = append(results, models.RetrievedChunk{
			Chunk:    chunk,
			Distance: distance,
			Score:    similarity(distance),
		})
	}
	sortRetrieved(results)
	return results, nil
}

func (m *MemoryStore) DeleteDocument(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.collection == nil {
		return wrapError("delete", ErrNotReady)
	}
	return wrapError("delete", m.collection.Delete(ctx, map[string]string{metaDocumentID: documentID}, nil))
}

func (m *MemoryStore) Count(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.collection == nil {
		return 0, nil
	}
	return int64(m.collection.Count()), nil
}

func (m *MemoryStore) Close() error { return nil }

func chunkFromChromem(res chromem.Result) (models.Chunk, error) {
	ordinal, err := strconv.Atoi(res.Metadata[metaOrdinal])
	if err != nil {
		return models.Chunk{}, fmt.Errorf("bad ordinal on stored chunk %s: %w", res.ID, err)
	}
	id, err := strconv.ParseInt(res.Metadata[metaChunkID], 10, 64)
	if err != nil {
		return models.Chunk{}, fmt.Errorf("bad chunk id on stored chunk %s: %w", res.ID, err)
	}
	var metadata map[string]string
	for k, v := range res.Metadata {
		if k == metaDocumentID || k == metaOrdinal || k == metaChunkID {
			continue
		}
		if metadata == nil {
			metadata = make(map[string]string)
		}
		metadata[k] = v
	}
	return models.Chunk{
		ID:         id,
		DocumentID: res.Metadata[metaDocumentID],
		Ordinal:    ordinal,
		Text:       res.Content,
		Metadata:   metadata,
		Embedding:  res.Embedding,
	}, nil
}
