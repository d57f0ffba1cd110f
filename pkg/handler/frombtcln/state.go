package frombtcln

import "github.com/btcswap/intermediary/pkg/swap"

// States for the FromBtcLn direction (§4.7): Lightning -> smart-chain, a
// held HODL invoice settled only once the intermediary's smart-chain claim
// has gone through.
const (
	StateCreated   swap.State = "Created"
	StateReceived  swap.State = "Received"
	StateCommitted swap.State = "Committed"
	StateClaimed   swap.State = "Claimed"
	StateSettled   swap.State = "Settled"
	StateCanceled  swap.State = "Canceled"
	StateRefunded  swap.State = "Refunded"
)
