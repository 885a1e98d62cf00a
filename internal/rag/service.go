// Package rag coordinates the ingestion pipeline (chunk, embed, store) and
// the query pipeline (retrieve, synthesize) over the configured backends.
package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"transcript-rag/internal/chunker"
	"transcript-rag/internal/config"
	"transcript-rag/internal/embedding"
	"transcript-rag/internal/models"
	"transcript-rag/internal/store"
	"transcript-rag/internal/synthesis"
)

// ErrDisabled is returned by every operation when the RAG flag is off, so
// callers report "feature disabled" instead of silently doing nothing.
var ErrDisabled = errors.New("rag is disabled by configuration")

const (
	embedAttempts     = 3
	embedInitialDelay = 500 * time.Millisecond
)

// ChatEntry is one completed question/answer exchange handed to the
// recorder after the stream finishes.
type ChatEntry struct {
	Question string
	Answer   string
	Contexts []models.RetrievedChunk
	Cited    []models.RetrievedChunk
}

// ChatLogger records completed exchanges. Recording failures are the
// logger's problem; they never fail the query.
type ChatLogger interface {
	Record(ctx context.Context, entry ChatEntry)
}

// Service is the subsystem facade the transcript-save and question flows
// talk to.
type Service struct {
	cfg       *config.RAGConfig
	store     store.Store
	embedder  Embedder
	synth     *synthesis.Synthesizer
	retriever *Retriever
	chunker   *chunker.Chunker
	chatLog   ChatLogger
}

func NewService(cfg *config.RAGConfig, st store.Store, embedder Embedder, synth *synthesis.Synthesizer) (*Service, error) {
	ck, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:       cfg,
		store:     st,
		embedder:  embedder,
		synth:     synth,
		retriever: NewRetriever(st, embedder, cfg.DefaultTopK, cfg.MaxTopK),
		chunker:   ck,
	}, nil
}

// SetChatLogger installs an optional recorder for completed exchanges.
func (s *Service) SetChatLogger(l ChatLogger) { s.chatLog = l }

// EnsureIndex idempotently establishes the vector index for this
// deployment's dimensionality. Call it once at startup; it is safe under
// concurrent first-use across process instances.
func (s *Service) EnsureIndex(ctx context.Context) error {
	if !s.cfg.Enabled {
		return ErrDisabled
	}
	return s.store.EnsureIndex(ctx, s.cfg.EmbeddingDim)
}

// Ingest replaces the indexed chunk set of one document: chunk, embed, then
// a delete-and-insert write. An empty or whitespace-only transcript only
// clears stale chunks. Repeated calls for the same document are idempotent;
// different documents ingest concurrently without blocking each other.
func (s *Service) Ingest(ctx context.Context, documentID, text string, metadata map[string]string) error {
	if !s.cfg.Enabled {
		return ErrDisabled
	}

	texts := s.chunker.Split(text)
	if len(texts) == 0 {
		log.Debug().Str("document_id", documentID).Msg("no chunks produced, clearing stale entries")
		return s.store.DeleteDocument(ctx, documentID)
	}

	vectors, err := s.embedWithRetry(ctx, texts)
	if err != nil {
		log.Error().Err(err).Str("document_id", documentID).Msg("embedding failed")
		return fmt.Errorf("ingest %s: %w", documentID, err)
	}

	chunks := make([]models.Chunk, len(texts))
	for i := range texts {
		chunks[i] = models.Chunk{
			DocumentID: documentID,
			Ordinal:    i,
			Text:       texts[i],
			Metadata:   metadata,
			Embedding:  vectors[i],
		}
	}
	if err := s.store.UpsertChunks(ctx, documentID, chunks); err != nil {
		log.Error().Err(err).Str("document_id", documentID).Msg("chunk write failed")
		return fmt.Errorf("ingest %s: %w", documentID, err)
	}
	log.Info().Str("document_id", documentID).Int("chunks", len(chunks)).Msg("document indexed")
	return nil
}

// Backfill indexes a historical document through the same pipeline. It is
// exposed separately for migration tooling over rows that predate indexing.
func (s *Service) Backfill(ctx context.Context, documentID, text string, metadata map[string]string) error {
	log.Info().Str("document_id", documentID).Msg("backfilling historical document")
	return s.Ingest(ctx, documentID, text, metadata)
}

// DeleteDocument removes a document's chunks, for the transcript delete
// flow. Idempotent.
func (s *Service) DeleteDocument(ctx context.Context, documentID string) error {
	if !s.cfg.Enabled {
		return ErrDisabled
	}
	return s.store.DeleteDocument(ctx, documentID)
}

// embedWithRetry retries transient provider failures with a doubling delay.
// Dimension mismatches are fatal configuration errors and never retried.
func (s *Service) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	delay := embedInitialDelay
	var lastErr error
	for attempt := 1; attempt <= embedAttempts; attempt++ {
		vectors, err := s.embedder.EmbedTexts(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		var provider *embedding.ProviderError
		if !errors.As(err, &provider) {
			return nil, err
		}
		if attempt == embedAttempts {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("embedding batch failed, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
	}
	return nil, lastErr
}
