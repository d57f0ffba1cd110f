package relay

import (
	"testing"

	"github.com/btcswap/intermediary/pkg/spv"
	"github.com/stretchr/testify/require"
)

func TestBatchesSplitsEvenly(t *testing.T) {
	headers := make([]spv.Header, 5)
	batches := Batches(headers, 2)
	require.Len(t, batches, 3)
	require.Len(t, batches[0], 2)
	require.Len(t, batches[1], 2)
	require.Len(t, batches[2], 1)
}

func TestBatchesNoLimitReturnsSingleBatch(t *testing.T) {
	headers := make([]spv.Header, 5)
	batches := Batches(headers, 0)
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 5)
}

func TestPrecomputeChainMatchesSequentialComputeNext(t *testing.T) {
	prev := &spv.StoredHeader{BlockHeight: 99}
	headers := []spv.Header{
		{Bits: 0x1d00ffff, Timestamp: 1000},
		{Bits: 0x1d00ffff, Timestamp: 1001},
		{Bits: 0x1d00ffff, Timestamp: 1002},
	}

	chain := PrecomputeChain(prev, headers)
	require.Len(t, chain, 3)

	cur := *prev
	for i, h := range headers {
		cur = cur.ComputeNext(h)
		require.Equal(t, cur, *chain[i])
	}
}
