package tobtc

import "github.com/btcswap/intermediary/pkg/swap"

// States for the ToBtc direction (§4.5): smart-chain token -> BTC on-chain,
// a PTLC released by a Bitcoin transaction proof.
const (
	StateSaved      swap.State = "Saved"
	StateCommitted  swap.State = "Committed"
	StateBtcSending swap.State = "BtcSending"
	StateBtcSent    swap.State = "BtcSent"
	StateClaimed    swap.State = "Claimed"
	StateNonPayable swap.State = "NonPayable"
	StateCanceled   swap.State = "Canceled"
	StateRefunded   swap.State = "Refunded"
)
