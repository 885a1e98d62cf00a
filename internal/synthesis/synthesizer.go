// Package synthesis builds the numbered-context prompt for one question,
// streams the model's answer fragment by fragment, and extracts which
// context entries the answer actually cited.
package synthesis

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"transcript-rag/internal/config"
	"transcript-rag/internal/models"
)

// ProviderError reports a completion provider failure. When streaming has
// already begun it arrives through the stream's terminal error slot.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("completion provider failed: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Synthesizer turns a question plus retrieved context into a streamed,
// citation-grounded answer.
type Synthesizer struct {
	llm       llms.Model
	maxChunks int
	maxChars  int
}

// NewSynthesizer builds the completion client from configuration.
func NewSynthesizer(cfg *config.LLMConfig, maxChunks, maxChars int) (*Synthesizer, error) {
	llm, err := newCompletionModel(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize completion client: %w", err)
	}
	return NewSynthesizerWithModel(llm, maxChunks, maxChars), nil
}

// NewSynthesizerWithModel wires an existing model, which also lets tests
// substitute a fake.
func NewSynthesizerWithModel(llm llms.Model, maxChunks, maxChars int) *Synthesizer {
	return &Synthesizer{llm: llm, maxChunks: maxChunks, maxChars: maxChars}
}

func newCompletionModel(cfg *config.LLMConfig) (llms.Model, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
	default:
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	}
}

// Synthesize starts the completion and returns the live stream. The context
// entries actually placed in the prompt (after the budget) are available as
// stream.Contexts in citation-number order. Cancelling ctx aborts the
// provider call, closes the fragment channel and discards partial output.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, results []models.RetrievedChunk, history []models.ChatTurn) *Stream {
	contexts := selectContext(results, s.maxChunks, s.maxChars)
	stream := newStream(contexts)
	messages := buildMessages(question, contexts, history)

	go func() {
		defer close(stream.done)
		defer close(stream.fragments)

		var accumulated strings.Builder
		_, err := s.llm.GenerateContent(ctx, messages,
			llms.WithTemperature(0.2),
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				select {
				case stream.fragments <- string(chunk):
					accumulated.Write(chunk)
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}),
		)

		// Cancellation wins over whatever the provider reported: partial
		// text is never promoted to a final answer.
		if ctxErr := ctx.Err(); ctxErr != nil {
			stream.err = ctxErr
			return
		}
		if err != nil {
			stream.err = &ProviderError{Err: err}
			return
		}
		stream.answer = accumulated.String()
		stream.cited = extractCitations(stream.answer, contexts)
	}()

	return stream
}
