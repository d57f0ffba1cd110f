package spv

import (
	"math/big"

	"github.com/holiman/uint256"
)

// Packed is the on-chain wire layout for a StoredHeader (§6): chainWork as a
// raw uint256, the reversed (little-endian, Bitcoin convention) previous
// block hash, the merkle root, and two bit-packed uint256 words carrying
// version/nbits/nonce/lastDiffAdjustment/height/timestamps.
type Packed struct {
	ChainWork             [32]byte
	ReversedPrevBlockHash [32]byte
	MerkleRoot            [32]byte
	Data1                 [32]byte
	Data2                 [32]byte
}

// Pack encodes a StoredHeader into its on-chain packed representation.
func Pack(s *StoredHeader) Packed {
	var p Packed
	p.ChainWork = s.ChainWork.Bytes32()

	// Bitcoin convention: the stored previous-block-hash is byte-reversed
	// relative to the header's internal (little-endian) PrevBlock field.
	for i := 0; i < 32; i++ {
		p.ReversedPrevBlockHash[i] = s.Header.PrevBlock[31-i]
	}
	p.MerkleRoot = s.Header.MerkleRoot

	d1 := new(big.Int)
	d1.Or(d1, new(big.Int).Lsh(big.NewInt(int64(le32(uint32(s.Header.Version)))), 224))
	d1.Or(d1, new(big.Int).Lsh(big.NewInt(int64(le32(s.Header.Bits))), 192))
	d1.Or(d1, new(big.Int).Lsh(big.NewInt(int64(le32(s.Header.Nonce))), 160))
	d1.Or(d1, new(big.Int).Lsh(big.NewInt(int64(s.LastDiffAdjustment)), 128))
	d1.Or(d1, new(big.Int).Lsh(big.NewInt(int64(s.BlockHeight)), 96))
	d1.Or(d1, new(big.Int).Lsh(big.NewInt(int64(s.PrevBlockTimestamps[0])), 64))
	d1.Or(d1, new(big.Int).Lsh(big.NewInt(int64(s.PrevBlockTimestamps[1])), 32))
	d1.Or(d1, big.NewInt(int64(s.PrevBlockTimestamps[2])))
	putBigEndian256(p.Data1[:], d1)

	d2 := new(big.Int)
	for i := 3; i <= 8; i++ {
		shift := uint((9 - i) * 32)
		d2.Or(d2, new(big.Int).Lsh(big.NewInt(int64(s.PrevBlockTimestamps[i])), shift))
	}
	d2.Or(d2, big.NewInt(int64(s.PrevBlockTimestamps[9])))
	putBigEndian256(p.Data2[:], d2)

	return p
}

// le32 reinterprets the little-endian wire bytes of v as if read big-endian,
// matching the on-chain data1/data2 "version (LE32)" sub-fields: the 32-bit
// word embedded in the packed uint256 carries the header field's raw
// little-endian byte order, not its natural integer value.
func le32(v uint32) uint32 {
	return (v&0xFF)<<24 | (v&0xFF00)<<8 | (v&0xFF0000)>>8 | (v&0xFF000000)>>24
}

func putBigEndian256(dst []byte, v *big.Int) {
	b := v.Bytes()
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	copy(dst[32-len(b):], b)
}

// Unpack decodes a Packed record back into a StoredHeader.
func Unpack(p Packed) *StoredHeader {
	s := &StoredHeader{}
	s.ChainWork = *uint256.NewInt(0).SetBytes(p.ChainWork[:])

	for i := 0; i < 32; i++ {
		s.Header.PrevBlock[i] = p.ReversedPrevBlockHash[31-i]
	}
	s.Header.MerkleRoot = p.MerkleRoot

	d1 := new(big.Int).SetBytes(p.Data1[:])
	s.Header.Version = int32(le32(uint32(bigShiftMask(d1, 224))))
	s.Header.Bits = le32(uint32(bigShiftMask(d1, 192)))
	s.Header.Nonce = le32(uint32(bigShiftMask(d1, 160)))
	s.LastDiffAdjustment = uint32(bigShiftMask(d1, 128))
	s.BlockHeight = uint32(bigShiftMask(d1, 96))
	s.PrevBlockTimestamps[0] = uint32(bigShiftMask(d1, 64))
	s.PrevBlockTimestamps[1] = uint32(bigShiftMask(d1, 32))
	s.PrevBlockTimestamps[2] = uint32(bigShiftMask(d1, 0))

	d2 := new(big.Int).SetBytes(p.Data2[:])
	for i := 3; i <= 8; i++ {
		shift := uint((9 - i) * 32)
		s.PrevBlockTimestamps[i] = uint32(bigShiftMask(d2, shift))
	}
	s.PrevBlockTimestamps[9] = uint32(bigShiftMask(d2, 0))

	return s
}

func bigShiftMask(v *big.Int, shift uint) uint64 {
	shifted := new(big.Int).Rsh(v, shift)
	mask := new(big.Int).SetUint64(0xFFFFFFFF)
	return shifted.And(shifted, mask).Uint64()
}
