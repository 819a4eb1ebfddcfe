package inference

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMock_InferBatch_EmptyReturnsNil(t *testing.T) {
	m := NewMock(DefaultMockConfig())
	out, err := m.InferBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestMock_InferBatch_EchoesPrompts(t *testing.T) {
	m := NewMock(MockConfig{})
	items := []Item{
		{RequestID: "1", Prompt: "hello", MaxTokens: 8},
		{RequestID: "2", Prompt: "world", MaxTokens: 8},
	}

	out, err := m.InferBatch(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "mock-response: hello", out[0].Text)
	assert.Equal(t, "2", out[1].RequestID)
}

func TestMock_InferBatch_RespectsContextCancellation(t *testing.T) {
	m := NewMock(MockConfig{BaseLatency: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.InferBatch(ctx, []Item{{RequestID: "1", Prompt: "x", MaxTokens: 1}})
	require.Error(t, err)
}
