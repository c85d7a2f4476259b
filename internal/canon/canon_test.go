package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashDeterministic(t *testing.T) {
	h1, err := Hash("hello", map[string]any{"a": 1, "b": "x"})
	require.NoError(t, err)
	h2, err := Hash("hello", map[string]any{"a": 1, "b": "x"})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHashStableUnderKeyOrder(t *testing.T) {
	// Maps are built in different insertion orders, including a nested level.
	p1 := map[string]any{}
	p1["name"] = "fetch_prices"
	p1["params"] = map[string]any{"symbol": "string", "interval": "string"}
	p1["category"] = "market"

	p2 := map[string]any{}
	p2["category"] = "market"
	p2["params"] = map[string]any{"interval": "string", "symbol": "string"}
	p2["name"] = "fetch_prices"

	h1, err := Hash("desc", p1)
	require.NoError(t, err)
	h2, err := Hash("desc", p2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHashSensitivity(t *testing.T) {
	base, err := Hash("content", map[string]any{"k": "v"})
	require.NoError(t, err)

	changedContent, err := Hash("content!", map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.NotEqual(t, base, changedContent)

	changedPayload, err := Hash("content", map[string]any{"k": "w"})
	require.NoError(t, err)
	assert.NotEqual(t, base, changedPayload)

	nilPayload, err := Hash("content", nil)
	require.NoError(t, err)
	assert.NotEqual(t, base, nilPayload)
}
