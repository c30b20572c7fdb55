package stub_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixel-canvas/internal/chain"
	"pixel-canvas/internal/chain/stub"
)

func TestClient_ReadRoundTrip(t *testing.T) {
	c := stub.NewClient(100, 100)
	c.SetPixel(3, 7, "#ff0000", "0xAlice")

	raw, err := c.ReadContract(context.Background(), chain.Call{Function: "ownerOf", Args: []any{703}})
	require.NoError(t, err)
	var owner string
	require.NoError(t, json.Unmarshal(raw, &owner))
	assert.Equal(t, "0xAlice", owner)

	raw, err = c.ReadContract(context.Background(), chain.Call{Function: "getColor", Args: []any{3, 7}})
	require.NoError(t, err)
	var color string
	require.NoError(t, json.Unmarshal(raw, &color))
	assert.Equal(t, "#ff0000", color)

	raw, err = c.ReadContract(context.Background(), chain.Call{Function: "totalMinted"})
	require.NoError(t, err)
	var total int
	require.NoError(t, json.Unmarshal(raw, &total))
	assert.Equal(t, 1, total)
}

func TestClient_MulticallIsolatesEntryFailures(t *testing.T) {
	c := stub.NewClient(100, 100)
	c.SetPixel(0, 0, "#111111", "0xAlice")

	results, err := c.Multicall(context.Background(), []chain.Call{
		{Function: "ownerOf", Args: []any{0}},
		{Function: "ownerOf", Args: []any{1}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.NotEmpty(t, results[1].Err)
}

func TestClient_WriteProducesReceipt(t *testing.T) {
	c := stub.NewClient(100, 100)

	txHash, err := c.WriteContract(context.Background(), chain.Call{Function: "mint", Args: []any{5, 6, "#abcdef"}})
	require.NoError(t, err)
	require.NotEmpty(t, txHash)

	receipt, err := c.WaitForReceipt(context.Background(), txHash)
	require.NoError(t, err)
	assert.Equal(t, chain.ReceiptSuccess, receipt.Status)

	raw, err := c.ReadContract(context.Background(), chain.Call{Function: "getColor", Args: []any{5, 6}})
	require.NoError(t, err)
	var color string
	require.NoError(t, json.Unmarshal(raw, &color))
	assert.Equal(t, "#abcdef", color)
}
