package models

// Chunk is a contiguous slice of a transcript's text paired with its
// embedding vector. (DocumentID, Ordinal) is unique within the store.
type Chunk struct {
	ID         int64
	DocumentID string
	Ordinal    int
	Text       string
	Metadata   map[string]string
	Embedding  []float32
}

// RetrievedChunk is a chunk returned by a nearest-neighbor search together
// with its cosine distance. Score is a display-friendly similarity,
// max(0, 1-distance).
type RetrievedChunk struct {
	Chunk    Chunk
	Distance float64
	Score    float64
}

// ChatTurn is one prior message of the running conversation. Role is
// "user" or "assistant".
type ChatTurn struct {
	Role    string
	Content string
}
