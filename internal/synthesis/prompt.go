package synthesis

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"transcript-rag/internal/models"
)

const systemPrompt = "You are an assistant that answers questions from saved voice " +
	"transcripts. Ground every fact in the numbered context and cite sources as [#n] " +
	"using the context numbers. Do not speculate beyond the context; when the context " +
	"is insufficient, say so explicitly. When conversation history is present, keep " +
	"its thread and relate your answer to earlier turns."

const outputFormat = "Return three sections:\n" +
	"1) Answer: the key points, at most five bullets.\n" +
	"2) Evidence: the [#n] references you used, each with a short quote or summary.\n" +
	"3) Missing information: anything the context does not cover or that remains uncertain."

// maxHistoryTurns bounds how much of the running conversation is replayed
// to the model.
const maxHistoryTurns = 10

// entryOverhead approximates the metadata header cost of one context entry
// when applying the character budget.
const entryOverhead = 128

// selectContext applies the prompt budget: at most maxChunks entries and
// roughly maxChars characters, in retrieval order. If not even the first
// result fits, it is trimmed in so the model always sees the best match.
func selectContext(results []models.RetrievedChunk, maxChunks, maxChars int) []models.RetrievedChunk {
	var (
		selected []models.RetrievedChunk
		used     int
	)
	for _, r := range results {
		if len(selected) >= maxChunks {
			break
		}
		cost := len(r.Chunk.Text) + entryOverhead
		if used+cost > maxChars {
			break
		}
		selected = append(selected, r)
		used += cost
	}
	if len(selected) == 0 && len(results) > 0 {
		head := results[0]
		limit := maxChars / 2
		if limit < 200 {
			limit = 200
		}
		if len(head.Chunk.Text) > limit {
			head.Chunk.Text = head.Chunk.Text[:limit]
		}
		selected = []models.RetrievedChunk{head}
	}
	return selected
}

// contextBlock renders the numbered context entries. Numbering starts at 1
// in retrieval order; these numbers are the citation contract.
func contextBlock(results []models.RetrievedChunk) string {
	if len(results) == 0 {
		return "(no matching transcript excerpts were found)"
	}
	entries := make([]string, 0, len(results))
	for i, r := range results {
		var meta []string
		if v := r.Chunk.Metadata["file_path"]; v != "" {
			meta = append(meta, "file: "+v)
		}
		if v := r.Chunk.Metadata["tag"]; v != "" {
			meta = append(meta, "tag: "+v)
		}
		if v := r.Chunk.Metadata["recorded_at"]; v != "" {
			meta = append(meta, "recorded: "+v)
		}
		header := fmt.Sprintf("[#%d score:%.3f]", i+1, r.Score)
		if len(meta) > 0 {
			header += " " + strings.Join(meta, " / ")
		}
		entries = append(entries, header+"\n"+r.Chunk.Text)
	}
	return strings.Join(entries, "\n\n")
}

// buildMessages assembles the chat payload: instruction preamble, bounded
// history, then the numbered context and question in one user turn.
func buildMessages(question string, contexts []models.RetrievedChunk, history []models.ChatTurn) []llms.MessageContent {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
	}

	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	for _, turn := range history {
		switch turn.Role {
		case "assistant":
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeAI, turn.Content))
		case "user":
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, turn.Content))
		}
	}

	user := fmt.Sprintf("Answer the question using the numbered context below.\n\nContext:\n%s\n\nQuestion:\n%s\n\n%s",
		contextBlock(contexts), question, outputFormat)
	return append(messages, llms.TextParts(llms.ChatMessageTypeHuman, user))
}
