package synthesis

import (
	"transcript-rag/internal/models"
)

// Stream is the live fragment sequence of one synthesized answer. It is
// consumed exactly once: range over Fragments until it closes, then call
// Result for the final text and the cited subset of the context. A
// cancelled stream discards the partially accumulated text and reports the
// cancellation error instead.
type Stream struct {
	contexts  []models.RetrievedChunk
	fragments chan string
	done      chan struct{}

	// written by the producer goroutine before done is closed
	answer string
	cited  []models.RetrievedChunk
	err    error
}

func newStream(contexts []models.RetrievedChunk) *Stream {
	return &Stream{
		contexts:  contexts,
		fragments: make(chan string),
		done:      make(chan struct{}),
	}
}

// Contexts returns the numbered context entries in prompt order; entry i
// corresponds to citation number i+1.
func (s *Stream) Contexts() []models.RetrievedChunk { return s.contexts }

// Fragments yields incremental answer text. The channel closes when the
// provider finishes, fails, or the call is cancelled; check Result for the
// terminal state.
func (s *Stream) Fragments() <-chan string { return s.fragments }

// Result blocks until the stream has terminated and returns the full answer
// text plus the cited results in first-referenced order. On mid-stream
// failure or cancellation it returns the terminal error with no text and no
// citations.
func (s *Stream) Result() (string, []models.RetrievedChunk, error) {
	<-s.done
	if s.err != nil {
		return "", nil, s.err
	}
	return s.answer, s.cited, nil
}
