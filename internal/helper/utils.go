package helper

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// GenerateUUID returns a random identifier for transcripts ingested without
// an explicit document id.
func GenerateUUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate document id: %w", err)
	}
	return id.String(), nil
}

// PrettyPrint writes v to stdout as indented JSON.
func PrettyPrint(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render %T: %w", v, err)
	}
	fmt.Println(string(b))
	return nil
}
