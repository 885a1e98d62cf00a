package synthesis

import (
	"regexp"
	"strconv"

	"transcript-rag/internal/models"
)

var citationPattern = regexp.MustCompile(`\[#(\d+)\]`)

// extractCitations scans the answer for [#n] markers and returns the
// referenced context entries in first-referenced order, each at most once.
// Markers outside the valid 1..len(contexts) range are ignored.
func extractCitations(answer string, contexts []models.RetrievedChunk) []models.RetrievedChunk {
	var cited []models.RetrievedChunk
	seen := make(map[int]bool)
	for _, match := range citationPattern.FindAllStringSubmatch(answer, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil || n < 1 || n > len(contexts) || seen[n] {
			continue
		}
		seen[n] = true
		cited = append(cited, contexts[n-1])
	}
	return cited
}
