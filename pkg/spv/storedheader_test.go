package spv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeNextIsPure(t *testing.T) {
	base := StoredHeader{
		BlockHeight: 2015,
	}
	for i := range base.PrevBlockTimestamps {
		base.PrevBlockTimestamps[i] = uint32(1000 + i)
	}
	h := Header{Bits: 0x1d00ffff, Timestamp: 1700000000}

	next1 := base.ComputeNext(h)
	next2 := base.ComputeNext(h)

	require.Equal(t, next1, next2, "ComputeNext must be a pure function")
	require.Equal(t, uint32(2016), next1.BlockHeight)
	require.Equal(t, h.Timestamp, next1.LastDiffAdjustment, "height crossing a retarget boundary updates LastDiffAdjustment")
	require.Equal(t, h.Timestamp, next1.PrevBlockTimestamps[9])
	require.Equal(t, base.PrevBlockTimestamps[1], next1.PrevBlockTimestamps[0])
}

func TestComputeNextDoesNotAdjustMidEpoch(t *testing.T) {
	base := StoredHeader{BlockHeight: 100, LastDiffAdjustment: 500}
	h := Header{Bits: 0x1d00ffff, Timestamp: 999}
	next := base.ComputeNext(h)
	require.Equal(t, uint32(500), next.LastDiffAdjustment)
}

func TestDifficultyFromNbitsMatchesGenesis(t *testing.T) {
	// Genesis nbits 0x1d00ffff is difficulty 1 by definition.
	diff := DifficultyFromNbits(0x1d00ffff)
	require.Equal(t, uint64(1), diff.Uint64())
}

func TestPackUnpackRoundTrip(t *testing.T) {
	sh := StoredHeader{BlockHeight: 42, LastDiffAdjustment: 123456}
	for i := range sh.PrevBlockTimestamps {
		sh.PrevBlockTimestamps[i] = uint32(1700000000 + i)
	}
	sh.Header = Header{
		Version:   2,
		Timestamp: 1700000100,
		Bits:      0x1d00ffff,
		Nonce:     0xdeadbeef,
	}

	packed := Pack(&sh)
	back := Unpack(packed)

	require.Equal(t, sh.BlockHeight, back.BlockHeight)
	require.Equal(t, sh.LastDiffAdjustment, back.LastDiffAdjustment)
	require.Equal(t, sh.PrevBlockTimestamps, back.PrevBlockTimestamps)
	require.Equal(t, sh.Header.Version, back.Header.Version)
	require.Equal(t, sh.Header.Bits, back.Header.Bits)
	require.Equal(t, sh.Header.Nonce, back.Header.Nonce)
	require.Equal(t, sh.Header.Timestamp, back.Header.Timestamp)
}

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{Version: 4, Timestamp: 1700000000, Bits: 0x1d00ffff, Nonce: 99}
	raw := h.Encode()
	require.Len(t, raw, 80)

	back, err := DecodeHeader(raw)
	require.NoError(t, err)
	require.Equal(t, h, *back)
}
