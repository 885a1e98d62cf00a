package synthesis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"transcript-rag/internal/models"
)

// fakeModel replays canned fragments through the streaming callback the way
// a real provider would, optionally failing mid-stream.
type fakeModel struct {
	fragments []string
	failAt    int // fail before emitting the fragment at this index; -1 disables
	failErr   error
}

func (f *fakeModel) GenerateContent(ctx context.Context, _ []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	var full strings.Builder
	for i, fragment := range f.fragments {
		if i == f.failAt {
			return nil, f.failErr
		}
		if opts.StreamingFunc != nil {
			if err := opts.StreamingFunc(ctx, []byte(fragment)); err != nil {
				return nil, err
			}
		}
		full.WriteString(fragment)
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: full.String()}},
	}, nil
}

func (f *fakeModel) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return "", errors.New("not supported")
}

func TestSynthesizeStreamsAndCites(t *testing.T) {
	model := &fakeModel{
		fragments: []string{"Per [#2] the deadline moved. ", "See also [#1]."},
		failAt:    -1,
	}
	synth := NewSynthesizerWithModel(model, 12, 20000)
	results := []models.RetrievedChunk{
		retrieved("first excerpt", 0.9, nil),
		retrieved("second excerpt", 0.8, nil),
	}

	stream := synth.Synthesize(context.Background(), "when is the deadline?", results, nil)
	require.Len(t, stream.Contexts(), 2)

	var got []string
	for fragment := range stream.Fragments() {
		got = append(got, fragment)
	}
	assert.Equal(t, model.fragments, got)

	answer, cited, err := stream.Result()
	require.NoError(t, err)
	assert.Equal(t, "Per [#2] the deadline moved. See also [#1].", answer)
	require.Len(t, cited, 2)
	assert.Equal(t, "second excerpt", cited[0].Chunk.Text)
	assert.Equal(t, "first excerpt", cited[1].Chunk.Text)
}

func TestSynthesizeWithEmptyContext(t *testing.T) {
	model := &fakeModel{
		fragments: []string{"No transcripts cover this."},
		failAt:    -1,
	}
	synth := NewSynthesizerWithModel(model, 12, 20000)

	stream := synth.Synthesize(context.Background(), "anything?", nil, nil)
	assert.Empty(t, stream.Contexts())

	for range stream.Fragments() {
	}
	answer, cited, err := stream.Result()
	require.NoError(t, err)
	assert.Equal(t, "No transcripts cover this.", answer)
	assert.Empty(t, cited)
}

func TestSynthesizeMidStreamProviderError(t *testing.T) {
	model := &fakeModel{
		fragments: []string{"partial ", "answer ", "never sent"},
		failAt:    2,
		failErr:   errors.New("connection reset"),
	}
	synth := NewSynthesizerWithModel(model, 12, 20000)

	stream := synth.Synthesize(context.Background(), "q", testContexts(1), nil)

	var got []string
	for fragment := range stream.Fragments() {
		got = append(got, fragment)
	}
	assert.Equal(t, []string{"partial ", "answer "}, got)

	answer, cited, err := stream.Result()
	var provider *ProviderError
	require.ErrorAs(t, err, &provider)
	assert.ErrorContains(t, err, "connection reset")
	assert.Empty(t, answer)
	assert.Empty(t, cited)
}

func TestSynthesizeCancellationDiscardsPartialText(t *testing.T) {
	model := &fakeModel{
		fragments: []string{"first ", "second ", "third ", "fourth"},
		failAt:    -1,
	}
	synth := NewSynthesizerWithModel(model, 12, 20000)

	ctx, cancel := context.WithCancel(context.Background())
	stream := synth.Synthesize(ctx, "q", testContexts(1), nil)

	first, ok := <-stream.Fragments()
	require.True(t, ok)
	assert.Equal(t, "first ", first)

	// stop reading and cancel; the producer must unblock on its own
	cancel()

	answer, cited, err := stream.Result()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, answer)
	assert.Empty(t, cited)
}

func TestSynthesizeCancelledBeforeStart(t *testing.T) {
	model := &fakeModel{fragments: []string{"never"}, failAt: -1}
	synth := NewSynthesizerWithModel(model, 12, 20000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stream := synth.Synthesize(ctx, "q", nil, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, err := stream.Result()
		assert.ErrorIs(t, err, context.Canceled)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not terminate after cancellation")
	}
}
