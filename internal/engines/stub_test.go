package engines

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubLowLatency_Execute(t *testing.T) {
	e := StubLowLatency{}
	require.NoError(t, e.Initialize(context.Background()))

	res, err := e.Execute(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "ack: ping", res.Answer)
}

func TestStubStrategy_Analyze(t *testing.T) {
	e := StubStrategy{}
	res, err := e.Analyze(context.Background(), "AAPL outlook")
	require.NoError(t, err)
	assert.Equal(t, "hold", res.Recommendation)
}

func TestStubResearch_Investigate(t *testing.T) {
	e := StubResearch{}
	res, err := e.Investigate(context.Background(), "momentum factor")
	require.NoError(t, err)
	assert.Equal(t, "momentum factor", res.Topic)
}
