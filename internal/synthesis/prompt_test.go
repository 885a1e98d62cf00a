package synthesis

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"transcript-rag/internal/models"
)

func retrieved(text string, score float64, metadata map[string]string) models.RetrievedChunk {
	return models.RetrievedChunk{
		Chunk:    models.Chunk{DocumentID: "doc1", Text: text, Metadata: metadata},
		Distance: 1 - score,
		Score:    score,
	}
}

func TestContextBlockNumbersFromOne(t *testing.T) {
	block := contextBlock([]models.RetrievedChunk{
		retrieved("first excerpt", 0.9, map[string]string{"file_path": "a.txt", "tag": "standup"}),
		retrieved("second excerpt", 0.5, nil),
	})

	assert.Contains(t, block, "[#1 score:0.900] file: a.txt / tag: standup\nfirst excerpt")
	assert.Contains(t, block, "[#2 score:0.500]\nsecond excerpt")
	assert.Less(t, strings.Index(block, "[#1"), strings.Index(block, "[#2"))
}

func TestContextBlockEmpty(t *testing.T) {
	assert.Equal(t, "(no matching transcript excerpts were found)", contextBlock(nil))
}

func TestSelectContextHonorsChunkLimit(t *testing.T) {
	results := []models.RetrievedChunk{
		retrieved("a", 0.9, nil),
		retrieved("b", 0.8, nil),
		retrieved("c", 0.7, nil),
	}

	selected := selectContext(results, 2, 100000)
	require.Len(t, selected, 2)
	assert.Equal(t, "a", selected[0].Chunk.Text)
	assert.Equal(t, "b", selected[1].Chunk.Text)
}

func TestSelectContextHonorsCharBudget(t *testing.T) {
	results := []models.RetrievedChunk{
		retrieved(strings.Repeat("x", 300), 0.9, nil),
		retrieved(strings.Repeat("y", 300), 0.8, nil),
		retrieved(strings.Repeat("z", 300), 0.7, nil),
	}

	// two entries of ~428 chars each fit a 900-char budget, the third does not
	selected := selectContext(results, 10, 900)
	require.Len(t, selected, 2)
}

func TestSelectContextTrimsOversizedHead(t *testing.T) {
	results := []models.RetrievedChunk{
		retrieved(strings.Repeat("x", 5000), 0.9, nil),
	}

	selected := selectContext(results, 10, 300)
	require.Len(t, selected, 1)
	// the best match is never dropped outright, only trimmed
	assert.Len(t, selected[0].Chunk.Text, 200)

	// the caller's slice is left untouched
	assert.Len(t, results[0].Chunk.Text, 5000)
}

func TestBuildMessagesLayout(t *testing.T) {
	contexts := []models.RetrievedChunk{retrieved("budget meeting excerpt", 0.9, nil)}
	history := []models.ChatTurn{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}

	messages := buildMessages("what was decided?", contexts, history)
	require.Len(t, messages, 4)

	assert.Equal(t, llms.ChatMessageTypeSystem, messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, messages[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, messages[2].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, messages[3].Role)

	final := fmt.Sprintf("%v", messages[3].Parts)
	assert.Contains(t, final, "budget meeting excerpt")
	assert.Contains(t, final, "what was decided?")
	assert.Contains(t, final, "Missing information")
}

func TestBuildMessagesBoundsHistory(t *testing.T) {
	history := make([]models.ChatTurn, 15)
	for i := range history {
		history[i] = models.ChatTurn{Role: "user", Content: fmt.Sprintf("turn %d", i)}
	}

	messages := buildMessages("q", nil, history)
	// system + last 10 turns + final user turn
	require.Len(t, messages, 12)

	first := fmt.Sprintf("%v", messages[1].Parts)
	assert.Contains(t, first, "turn 5")
}

func TestBuildMessagesSkipsUnknownRoles(t *testing.T) {
	history := []models.ChatTurn{
		{Role: "system", Content: "injected"},
		{Role: "user", Content: "kept"},
	}

	messages := buildMessages("q", nil, history)
	require.Len(t, messages, 3)
	assert.Contains(t, fmt.Sprintf("%v", messages[1].Parts), "kept")
}
