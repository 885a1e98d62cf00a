package helper

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUUID(t *testing.T) {
	first, err := GenerateUUID()
	require.NoError(t, err)
	second, err := GenerateUUID()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	_, err = uuid.Parse(first)
	assert.NoError(t, err)
}

func TestPrettyPrint(t *testing.T) {
	assert.NoError(t, PrettyPrint(map[string]int{"chunks": 3}))

	// unmarshalable values report the error instead of printing garbage
	assert.Error(t, PrettyPrint(make(chan int)))
}
