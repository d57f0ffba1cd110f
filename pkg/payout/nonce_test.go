package payout

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeNonceMatchesWorkedExample(t *testing.T) {
	locktime, sequence := EncodeNonce(0x0000000000ABCDEF)
	require.Equal(t, NonceLocktimeBase, locktime)
	require.Equal(t, uint32(0xFEABCDEF), sequence)
}

func TestEncodeNonceSequenceNeverReachesDisableValues(t *testing.T) {
	_, sequence := EncodeNonce(0xFFFFFFFFFFFFFFFF)
	require.Less(t, sequence, uint32(0xFFFFFFFE))
	require.Equal(t, uint32(0xFE000000), sequence&0xFF000000)
}

func TestEncodeNonceZero(t *testing.T) {
	locktime, sequence := EncodeNonce(0)
	require.Equal(t, NonceLocktimeBase, locktime)
	require.Equal(t, SequenceBase, sequence)
}

func TestDecodeNonceMatchesWorkedExample(t *testing.T) {
	nonce, err := DecodeNonce(NonceLocktimeBase, 0xFEABCDEF)
	require.NoError(t, err)
	require.Equal(t, uint64(0x0000000000ABCDEF), nonce)
}

// top40Max is the largest top-40-bit fragment whose locktime
// (top40+NonceLocktimeBase) still fits in the wire format's 32-bit
// nLockTime without wrapping — the band EncodeNonce/DecodeNonce actually
// round-trip over. §4.5 step 1's monotonicity guard (NonceTooHigh) only
// ever lets a quote through with top40 <= now-5e8, which stays well inside
// this band for the foreseeable future (it only reaches top40Max once
// Unix time itself nears 2^32).
const top40Max = uint64(0xFFFFFFFF) - uint64(NonceLocktimeBase)

func TestNonceRoundTripAcrossValidBand(t *testing.T) {
	samples := []uint64{
		0,
		1,
		0x00FFFFFF,         // low24 saturated, top40 zero
		0x0000000000ABCDEF, // the worked example
		(top40Max << 24) | 0x00FFFFFF, // largest top40 that keeps locktime in uint32
	}
	for i := uint64(0); i < 5000; i++ {
		top40 := i * 104729 % top40Max // deterministic pseudo-random spread
		low24 := (i * 2654435761) & 0x00FFFFFF
		samples = append(samples, (top40<<24)|low24)
	}

	for _, nonce := range samples {
		locktime, sequence := EncodeNonce(nonce)
		got, err := DecodeNonce(locktime, sequence)
		require.NoError(t, err)
		require.Equal(t, nonce, got, "round trip mismatch for nonce %#x", nonce)
	}
}

func TestDecodeNonceRejectsLocktimeBelowBase(t *testing.T) {
	_, err := DecodeNonce(NonceLocktimeBase-1, SequenceBase)
	require.Error(t, err)
}

func TestDecodeNonceRejectsWrongSequenceBase(t *testing.T) {
	_, err := DecodeNonce(NonceLocktimeBase, 0x00ABCDEF)
	require.Error(t, err)
}
