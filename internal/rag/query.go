package rag

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"transcript-rag/internal/models"
	"transcript-rag/internal/store"
	"transcript-rag/internal/synthesis"
)

// Answer retrieves the nearest chunks for the question and starts a
// streamed synthesis over them. Retrieval is retried once on a store read
// failure; synthesis is never retried because a retry would duplicate
// streamed output to the caller. Zero retrieval results are not an error:
// synthesis proceeds with an empty context block and the preamble's
// missing-information clause governs the model's behavior.
func (s *Service) Answer(ctx context.Context, question string, k int, history []models.ChatTurn) (*synthesis.Stream, error) {
	if !s.cfg.Enabled {
		return nil, ErrDisabled
	}

	results, err := s.retriever.Retrieve(ctx, question, k)
	if err != nil {
		var storeErr *store.StoreError
		if !errors.As(err, &storeErr) || errors.Is(err, store.ErrDimensionMismatch) {
			return nil, err
		}
		log.Warn().Err(err).Msg("retrieval failed, retrying once")
		if results, err = s.retriever.Retrieve(ctx, question, k); err != nil {
			return nil, err
		}
	}
	log.Debug().Int("results", len(results)).Msg("retrieval complete")

	stream := s.synth.Synthesize(ctx, question, results, history)

	if s.chatLog != nil {
		go s.recordExchange(ctx, question, stream)
	}
	return stream, nil
}

// recordExchange waits for the stream to finish and hands the completed
// exchange to the recorder. Cancelled or failed streams are not recorded.
func (s *Service) recordExchange(ctx context.Context, question string, stream *synthesis.Stream) {
	answer, cited, err := stream.Result()
	if err != nil {
		return
	}
	s.chatLog.Record(ctx, ChatEntry{
		Question: question,
		Answer:   answer,
		Contexts: stream.Contexts(),
		Cited:    cited,
	})
}
