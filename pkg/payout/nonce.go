package payout

import "fmt"

// NonceLocktimeBase is added to the 40-bit locktime fragment so it always
// reads as a Unix-time locktime (Bitcoin treats locktime ≥ 500,000,000 as a
// timestamp rather than a block height).
const NonceLocktimeBase uint32 = 500_000_000

// SequenceBase ORs into the 24-bit sequence fragment. Setting the top byte
// to 0xFE keeps the result below 0xFFFFFFFE, so it never disables locktime
// (0xFFFFFFFF); being below 0xFFFFFFFE it also signals BIP 125
// replaceability, and it leaves the BIP 68 relative-locktime-disable bit
// (bit 31) set.
const SequenceBase uint32 = 0xFE000000

// EncodeNonce derives the payout transaction's locktime and per-input
// sequence number from the swap's 64-bit escrow nonce: the top 40 bits
// become a Unix-time locktime offset from NonceLocktimeBase, the bottom 24
// bits become the low bits of every input's sequence. This binds a payout's
// txid to its swap commitment without carrying a separate proof (§4.5 step
// 2 "Build the payout PSBT with nonce-encoded locktime and sequence").
//
// The intermediate sum is carried in 64 bits so only the final cast to the
// wire format's 32-bit nLockTime truncates — the §4.5 step-1 monotonicity
// guard (top40 ≤ floor(now) − 5·10⁸) keeps that sum well inside uint32 for
// every nonce the quote path actually issues.
func EncodeNonce(nonce uint64) (locktime uint32, sequence uint32) {
	top40 := nonce >> 24 // nonce[0:5] big-endian == bits 63..24
	low24 := uint32(nonce & 0x00FFFFFF)
	return uint32(uint64(NonceLocktimeBase) + top40), SequenceBase | low24
}

// DecodeNonce inverts EncodeNonce, reconstructing the original 64-bit
// escrow nonce from a payout transaction's locktime and an input sequence
// number. It rejects values that could not have come from EncodeNonce: a
// locktime below NonceLocktimeBase, or a sequence whose top byte isn't
// SequenceBase's 0xFE (§8 "nonceEncode(nonce).{locktime,sequence} round-
// trips through nonceDecode to the original 8-byte nonce").
func DecodeNonce(locktime, sequence uint32) (uint64, error) {
	if locktime < NonceLocktimeBase {
		return 0, fmt.Errorf("payout: locktime %d below nonce base %d", locktime, NonceLocktimeBase)
	}
	if sequence&0xFF000000 != SequenceBase {
		return 0, fmt.Errorf("payout: sequence %#x does not carry nonce sequence base %#x", sequence, SequenceBase)
	}
	top40 := uint64(locktime - NonceLocktimeBase)
	low24 := uint64(sequence & 0x00FFFFFF)
	return (top40 << 24) | low24, nil
}
