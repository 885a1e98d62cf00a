package rag

import (
	"context"

	"transcript-rag/internal/models"
	"transcript-rag/internal/store"
)

// Embedder is the slice of the embedding client the pipeline needs.
type Embedder interface {
	Dimension() int
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Retriever embeds a question and fetches the nearest chunks. Provider and
// store errors pass through unchanged; retry policy lives with the
// coordinators.
type Retriever struct {
	store    store.Store
	embedder Embedder
	defaultK int
	maxK     int
}

func NewRetriever(st store.Store, embedder Embedder, defaultK, maxK int) *Retriever {
	return &Retriever{store: st, embedder: embedder, defaultK: defaultK, maxK: maxK}
}

// Retrieve returns up to k chunks by ascending distance. k is clamped to
// [1, maxK] before it reaches the store; zero or negative requests fall
// back to the configured default.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]models.RetrievedChunk, error) {
	k = r.clamp(k)
	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.store.TopK(ctx, vector, k)
}

func (r *Retriever) clamp(k int) int {
	if k <= 0 {
		k = r.defaultK
	}
	if k < 1 {
		k = 1
	}
	if k > r.maxK {
		k = r.maxK
	}
	return k
}
