package frombtc

import "github.com/btcswap/intermediary/pkg/swap"

// States for the FromBtc direction (§4.8): BTC on-chain -> smart-chain, a
// PTLC released by a watchtower-submitted Merkle proof of BTC payment
// rather than a Lightning preimage.
const (
	StateCreated   swap.State = "Created"
	StateReceived  swap.State = "Received"
	StateCommitted swap.State = "Committed"
	StateClaimed   swap.State = "Claimed"
	StateSettled   swap.State = "Settled"
	StateCanceled  swap.State = "Canceled"
	StateRefunded  swap.State = "Refunded"
)
