// Package swap defines the direction-agnostic SwapRecord data model shared
// by every handler and the swap store, grounded on the teacher's
// storage.TxState record (src/chainadapter/storage/store.go): a value type
// owned by the store, mutated only by the owning handler or event dispatch.
package swap

import (
	"math/big"
	"sync/atomic"
	"time"

	"github.com/btcswap/intermediary/pkg/chainadapter"
)

// Direction is one of the four swap directions the system supports.
type Direction string

const (
	DirectionToBtc     Direction = "ToBtc"
	DirectionToBtcLn   Direction = "ToBtcLn"
	DirectionFromBtc   Direction = "FromBtc"
	DirectionFromBtcLn Direction = "FromBtcLn"
)

// State is a direction-specific enum; each handler only ever sets states
// from its own family (see pkg/handler/*/state.go for the families).
type State string

// Fees bundles the swap-fee and network-fee breakdown carried in the quote
// and replayed at payout/settle time for the fee-police checks.
type Fees struct {
	SwapFeeBTC        *big.Int // sats
	SwapFeeToken      *big.Int
	NetworkFeeSats    *big.Int
	NetworkFeeToken   *big.Int
	MaxSatsPerVByte   *big.Int // the ceiling stored at quote time; never exceeded at broadcast
}

// TxIDs are informational breadcrumbs, never consulted for correctness.
type TxIDs struct {
	Init       string
	Claim      string
	Refund     string
	BTCPayout  string
}

// PayoutInfo carries the ToBtc-direction destination a payout is built
// against, persisted alongside the record so the payout engine can rebuild
// its PSBT after a process restart without re-deriving it from the
// quote-time request (§6 "state transitions must be crash-consistent").
type PayoutInfo struct {
	Address      string
	OutputScript []byte
}

// Metadata carries optional timing breadcrumbs.
type Metadata struct {
	QuotedAt   time.Time
	CommittedAt time.Time
	ClaimedAt  time.Time
}

// Lock is a reentrancy guard with a deadline, serializing critical sections
// that cross await points (§5 per-swap locking). Callers that find the lock
// held must skip, not block — TryAcquire never waits. Expiry is checked
// before the primitive is taken, via CAS on a held-until timestamp, so a
// holder that leaks the lock (crash, early return before a deferred
// Release) cannot wedge it past its TTL.
type Lock struct {
	heldUntilNano atomic.Int64 // unix nano; 0 == never held
}

// TryAcquire acquires the lock for the given TTL if it is free or its
// previous holder's deadline has passed. Returns false ("busy") otherwise.
func (l *Lock) TryAcquire(ttl time.Duration) bool {
	now := time.Now()
	next := now.Add(ttl).UnixNano()
	for {
		cur := l.heldUntilNano.Load()
		if cur != 0 && now.UnixNano() < cur {
			return false
		}
		if l.heldUntilNano.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// Release frees the lock early (e.g. after a critical section completes
// well before its TTL).
func (l *Lock) Release() {
	l.heldUntilNano.Store(0)
}

// Record is the persisted representation of one active swap, keyed by
// (PaymentHash, Sequence). Amount/Expiry/Confirmations are immutable after
// creation; once State has reached a committed-or-later stage neither the
// principal fields nor Authorization may change. pkg/swapstore does not
// check this: Set stores whatever record it is given.
type Record struct {
	ChainID       string
	PaymentHash   [32]byte
	Sequence      uint64
	Direction     Direction
	State         State
	ContractData  *chainadapter.SwapData
	Fees          Fees
	Authorization *chainadapter.Authorization
	TxIDs         TxIDs
	Metadata      Metadata
	Payout        *PayoutInfo

	// DepositVout is the output index of the BTC deposit/payout transaction
	// that pays this swap's committed (amount, outputScript), persisted at
	// the point the handler first observes the transaction so a later claim
	// proof references the true output rather than assuming index 0.
	DepositVout uint32

	lock Lock
}

// Lock exposes the record's reentrancy guard to handlers.
func (r *Record) Lock() *Lock { return &r.lock }

// Key is the (paymentHashHex, sequenceDecimal) store key from §6.
type Key struct {
	PaymentHash [32]byte
	Sequence    uint64
}

func (r *Record) Key() Key {
	return Key{PaymentHash: r.PaymentHash, Sequence: r.Sequence}
}

// IsTerminal reports whether a state is one of the four terminal states
// across all four directions, at which point the store deletes the record.
func IsTerminal(s State) bool {
	switch s {
	case "Claimed", "Refunded", "Canceled", "Settled":
		return true
	default:
		return false
	}
}
