package spv

import (
	"errors"
	"time"

	"github.com/holiman/uint256"
)

var errInvalidHeaderLen = errors.New("spv: raw header must be exactly 80 bytes")

func timestampToTime(ts uint32) time.Time {
	return time.Unix(int64(ts), 0).UTC()
}

// DifficultyAdjustmentInterval is the Bitcoin retarget period in blocks.
const DifficultyAdjustmentInterval = 2016

// StoredHeader is the relay's compact header record: accumulated chainwork,
// the timestamp of the last difficulty adjustment, the block height, a
// sliding window of the ten most recent block timestamps (for median-time
// rules), and the embedded 80-byte header itself.
type StoredHeader struct {
	ChainWork            uint256.Int
	LastDiffAdjustment   uint32
	BlockHeight          uint32
	PrevBlockTimestamps  [10]uint32
	Header               Header
}

// ComputeNext derives the StoredHeader that results from appending the given
// header on top of this one. It is a pure function: identical inputs always
// produce byte-identical output, matching the on-chain verifier exactly.
func (s *StoredHeader) ComputeNext(header Header) StoredHeader {
	next := StoredHeader{
		ChainWork:           s.ChainWork,
		LastDiffAdjustment:  s.LastDiffAdjustment,
		BlockHeight:         s.BlockHeight + 1,
		PrevBlockTimestamps: s.PrevBlockTimestamps,
		Header:              header,
	}

	// Shift the timestamp window left by one and append the new header's
	// timestamp at index 9.
	copy(next.PrevBlockTimestamps[0:9], s.PrevBlockTimestamps[1:10])
	next.PrevBlockTimestamps[9] = header.Timestamp

	if next.BlockHeight%DifficultyAdjustmentInterval == 0 {
		next.LastDiffAdjustment = header.Timestamp
	}

	diff := DifficultyFromNbits(header.Bits)
	next.ChainWork.AddOverflow(&s.ChainWork, diff) // 256-bit wrapping add
	return next
}

// NewInitialStoredHeader seeds a StoredHeader at an epoch boundary, as used
// by the relay driver's saveInitialHeader call.
func NewInitialStoredHeader(header Header, epochStart uint32, blockHeight uint32, prevTimestamps [10]uint32) StoredHeader {
	return StoredHeader{
		ChainWork:           *DifficultyFromNbits(header.Bits),
		LastDiffAdjustment:  epochStart,
		BlockHeight:         blockHeight,
		PrevBlockTimestamps: prevTimestamps,
		Header:              header,
	}
}
