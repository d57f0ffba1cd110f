// Package swapstore provides crash-consistent persistence for swap.Record,
// keyed by (paymentHash, sequence) as required by §6's persistent state
// layout, adapted from the teacher's transaction-state store
// (src/chainadapter/storage/store.go) which keyed TxState by txHash.
package swapstore

import (
	"encoding/hex"
	"strconv"
	"time"

	"github.com/btcswap/intermediary/pkg/swap"
)

// keyString renders a swap.Key as the (paymentHashHex, sequenceDecimal)
// store key from §6.
func keyString(key swap.Key) string {
	return hex.EncodeToString(key.PaymentHash[:]) + ":" + strconv.FormatUint(key.Sequence, 10)
}

// Store provides persistent storage for swap records. Implementations MUST
// be thread-safe and MUST persist a Set before returning, since a handler's
// side effect (tx broadcast, invoice settle) is never allowed to run ahead
// of the state that records it (§6 "persist before any externally
// observable effect").
type Store interface {
	// Get retrieves a record by key.
	//
	// Returns:
	// - the record if found
	// - nil if not found
	// - error only on storage failures
	Get(key swap.Key) (*swap.Record, error)

	// Set stores or updates a record.
	//
	// Contract:
	// - MUST be idempotent
	// - MUST fully persist before returning
	Set(key swap.Key, record *swap.Record) error

	// Delete removes a record. Called once a record reaches a terminal
	// state (swap.IsTerminal).
	//
	// Contract:
	// - MUST be idempotent (deleting a non-existent key returns nil)
	Delete(key swap.Key) error

	// List returns every stored record, newest QuotedAt first.
	List() ([]*swap.Record, error)

	// ListByDirection returns records for one swap direction.
	ListByDirection(dir swap.Direction) ([]*swap.Record, error)

	// ListByState returns records currently in a given state, for watchdog
	// sweeps (e.g. "every ToBtc record in AwaitingConfirmation").
	ListByState(dir swap.Direction, state swap.State) ([]*swap.Record, error)

	// Clean removes terminal records older than olderThan, by QuotedAt.
	// Returns the number of entries removed.
	Clean(olderThan time.Duration) (int, error)
}
