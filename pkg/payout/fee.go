package payout

import "math/big"

// ChangeType identifies the script type used for a payout's own change
// output, which determines both its marginal byte cost and its dust
// threshold for the fee-police check (§4.5 step 2).
type ChangeType int

const (
	ChangeP2WPKH ChangeType = iota
	ChangeP2TR
)

// outputBytes returns the additional virtual bytes a change output of this
// type would add to the transaction (8-byte value + varint script length +
// script), used to size the worst case where the PSBT signer keeps a
// change output instead of dropping it to fee.
func outputBytes(t ChangeType) int64 {
	switch t {
	case ChangeP2TR:
		return 43 // 8 + 1 + 34 (OP_1 <32-byte-program>)
	default:
		return 31 // 8 + 1 + 22 (OP_0 <20-byte-hash>)
	}
}

// dust returns the minimum economical value for an output of this type at
// the standard 3 sat/vB relay threshold.
func dust(t ChangeType) int64 {
	switch t {
	case ChangeP2TR:
		return 330
	default:
		return 294
	}
}

// MaxAllowedFee computes the fee ceiling the realized payout transaction
// must not exceed, per §4.5 step 2: the quoted virtual size at the
// intermediary's worst-case sats/vB, plus headroom for a change output that
// the signer might keep or might drop to dust rather than spend on fee.
// Covering both outcomes in one bound means the caller never has to know in
// advance which the signer chose.
func MaxAllowedFee(virtualSize int64, maxSatsPerVbyte int64, changeType ChangeType) *big.Int {
	base := virtualSize * maxSatsPerVbyte
	return big.NewInt(base + outputBytes(changeType) + dust(changeType))
}
