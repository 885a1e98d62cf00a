// Package embedding turns transcript text into fixed-dimension vectors via
// an external provider, batching requests and validating every returned
// vector against the configured dimensionality.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"transcript-rag/internal/config"
	"transcript-rag/internal/store"
)

// ProviderError reports a failed provider call together with the half-open
// index range [From, To) of the batch that failed. No partial vectors are
// returned for an aborted call.
type ProviderError struct {
	From int
	To   int
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider failed for texts [%d, %d): %v", e.From, e.To, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Embedder wraps a langchaingo embedding client with batching and dimension
// checks. It keeps no state between calls.
type Embedder struct {
	impl      *embeddings.EmbedderImpl
	dim       int
	batchSize int
}

// NewEmbedder builds the provider client from configuration. Supported
// providers are "openai" (and any OpenAI-compatible endpoint via base_url)
// and "ollama".
func NewEmbedder(cfg *config.LLMConfig, dim, batchSize int) (*Embedder, error) {
	client, err := newEmbedderClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}
	impl, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(false))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	if batchSize <= 0 {
		batchSize = 16
	}
	return &Embedder{impl: impl, dim: dim, batchSize: batchSize}, nil
}

func newEmbedderClient(cfg *config.LLMConfig) (embeddings.EmbedderClient, error) {
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
			openai.WithEmbeddingModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	}
}

// Dimension reports the configured vector width D.
func (e *Embedder) Dimension() int { return e.dim }

// EmbedTexts returns one vector per input text, order preserved. A provider
// failure aborts the whole call with a ProviderError naming the failed
// batch range.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors := make([][]float32, 0, len(texts))
	for from := 0; from < len(texts); from += e.batchSize {
		to := from + e.batchSize
		if to > len(texts) {
			to = len(texts)
		}
		batch, err := e.impl.EmbedDocuments(ctx, texts[from:to])
		if err != nil {
			return nil, &ProviderError{From: from, To: to, Err: err}
		}
		if len(batch) != to-from {
			return nil, &ProviderError{From: from, To: to,
				Err: fmt.Errorf("provider returned %d vectors for %d texts", len(batch), to-from)}
		}
		for i, vec := range batch {
			if len(vec) != e.dim {
				return nil, fmt.Errorf("%w: provider returned %d values for text %d, configured dimension is %d",
					store.ErrDimensionMismatch, len(vec), from+i, e.dim)
			}
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// EmbedQuery embeds a single question for retrieval.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.impl.EmbedQuery(ctx, text)
	if err != nil {
		return nil, &ProviderError{From: 0, To: 1, Err: err}
	}
	if len(vec) != e.dim {
		return nil, fmt.Errorf("%w: provider returned %d values, configured dimension is %d",
			store.ErrDimensionMismatch, len(vec), e.dim)
	}
	return vec, nil
}
