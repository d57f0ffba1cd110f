package tobtcln

import "github.com/btcswap/intermediary/pkg/swap"

// States for the ToBtcLn direction (§4.6): smart-chain token -> Lightning,
// an HTLC released by the Lightning preimage.
const (
	StateSaved     swap.State = "Saved"
	StateCommitted swap.State = "Committed"
	StatePaying    swap.State = "Paying"
	StatePaid      swap.State = "Paid"
	StateClaimed   swap.State = "Claimed"
	StateCanceled  swap.State = "Canceled"
	StateRefunded  swap.State = "Refunded"
)
