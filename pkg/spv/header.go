// Package spv implements the Bitcoin SPV header codec shared between the
// intermediary and the on-chain BTC Relay verifier: compact-target decode,
// the Bitcoin difficulty convention, and the pure computeNext transition
// over a StoredHeader. Every function here must be bit-for-bit identical to
// the on-chain contract's arithmetic.
package spv

import (
	"encoding/binary"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/holiman/uint256"
)

// maxTargetDifficulty is 0x00000000FFFF0000000000000000000000000000000000000000000000000000,
// the Bitcoin genesis difficulty-1 target, used as the numerator when
// converting a compact target into a "difficulty" chainwork contribution.
var maxTargetDifficulty = func() *big.Int {
	v, _ := new(big.Int).SetString("00000000FFFF0000000000000000000000000000000000000000000000000000", 16)
	return v
}()

// NbitsToTarget decodes the compact nbits encoding into a 256-bit big-endian
// target, using the standard Bitcoin convention (btcd's CompactToBig).
func NbitsToTarget(nbits uint32) *big.Int {
	return blockchain.CompactToBig(nbits)
}

// DifficultyFromNbits computes floor(maxTargetDifficulty / target) where
// target is shifted so its most significant non-zero byte lies 3 bytes in,
// matching the Bitcoin convention for expressing a block's work contribution.
func DifficultyFromNbits(nbits uint32) *uint256.Int {
	target := NbitsToTarget(nbits)
	if target.Sign() <= 0 {
		return uint256.NewInt(0)
	}

	work := new(big.Int).Div(maxTargetDifficulty, target)
	if work.Sign() <= 0 {
		work = big.NewInt(1)
	}

	result, overflow := uint256.FromBig(work)
	if overflow {
		// A compact target this small never occurs on mainnet; clamp rather
		// than panic so malformed input degrades gracefully.
		return new(uint256.Int).SetAllOne()
	}
	return result
}

// Header is the 80-byte Bitcoin block header in its canonical field layout.
type Header struct {
	Version    int32
	PrevBlock  chainhash.Hash
	MerkleRoot chainhash.Hash
	Timestamp  uint32 // unix seconds, matches on-chain wire encoding
	Bits       uint32
	Nonce      uint32
}

// ToWire converts to btcd's wire.BlockHeader for hashing/serialization.
func (h *Header) ToWire() *wire.BlockHeader {
	return &wire.BlockHeader{
		Version:    h.Version,
		PrevBlock:  h.PrevBlock,
		MerkleRoot: h.MerkleRoot,
		Timestamp:  timestampToTime(h.Timestamp),
		Bits:       h.Bits,
		Nonce:      h.Nonce,
	}
}

// BlockHash returns the double-SHA256 block hash.
func (h *Header) BlockHash() chainhash.Hash {
	return h.ToWire().BlockHash()
}

// DecodeHeader parses an 80-byte raw Bitcoin header.
func DecodeHeader(raw []byte) (*Header, error) {
	if len(raw) != 80 {
		return nil, errInvalidHeaderLen
	}
	h := &Header{
		Version:   int32(binary.LittleEndian.Uint32(raw[0:4])),
		Timestamp: binary.LittleEndian.Uint32(raw[68:72]),
		Bits:      binary.LittleEndian.Uint32(raw[72:76]),
		Nonce:     binary.LittleEndian.Uint32(raw[76:80]),
	}
	copy(h.PrevBlock[:], raw[4:36])
	copy(h.MerkleRoot[:], raw[36:68])
	return h, nil
}

// Encode serializes the header back to its canonical 80-byte form.
func (h *Header) Encode() []byte {
	raw := make([]byte, 80)
	binary.LittleEndian.PutUint32(raw[0:4], uint32(h.Version))
	copy(raw[4:36], h.PrevBlock[:])
	copy(raw[36:68], h.MerkleRoot[:])
	binary.LittleEndian.PutUint32(raw[68:72], h.Timestamp)
	binary.LittleEndian.PutUint32(raw[72:76], h.Bits)
	binary.LittleEndian.PutUint32(raw[76:80], h.Nonce)
	return raw
}
