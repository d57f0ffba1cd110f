// Package chainadapter defines the uniform interface every smart-chain backend
// (EVM, Solana, ...) must implement so the swap handlers above it never speak
// a chain-specific vocabulary. The adapter is the only component that does.
package chainadapter

import (
	"context"
	"math/big"
	"time"
)

// SwapKind identifies the commitment shape backing a swap on the smart chain.
type SwapKind int

const (
	// KindHTLC is released by presenting a preimage (Lightning-linked swaps).
	KindHTLC SwapKind = iota
	// KindChain is released by proving a Bitcoin transaction paid an output script.
	KindChain
	// KindChainNonced additionally binds the release to an escrow nonce (PTLC payouts).
	KindChainNonced
	// KindChainTxID is released by referencing a specific already-known Bitcoin txid.
	KindChainTxID
)

func (k SwapKind) String() string {
	switch k {
	case KindHTLC:
		return "HTLC"
	case KindChain:
		return "CHAIN"
	case KindChainNonced:
		return "CHAIN_NONCED"
	case KindChainTxID:
		return "CHAIN_TXID"
	default:
		return "UNKNOWN"
	}
}

// CommitStatus is the on-chain lifecycle state of a commitment as observed by
// the adapter. It is distinct from SwapRecord.State, which also folds in the
// off-chain progress of the owning handler.
type CommitStatus int

const (
	StatusNotCommitted CommitStatus = iota
	StatusCommitted
	StatusPaid
	StatusExpired
	StatusRefundable
)

// SwapData is the chain-agnostic view of a commitment's principal fields.
// Concrete adapters embed their native representation alongside this; the
// handlers above only ever read through this struct.
type SwapData struct {
	Kind            SwapKind
	Offerer         string
	Claimer         string
	Token           string
	Amount          *big.Int
	PaymentHash     [32]byte
	Sequence        uint64
	Expiry          int64 // unix seconds
	Confirmations   uint32
	EscrowNonce     uint64
	PayIn           bool
	PayOut          bool
	SecurityDeposit *big.Int
	ClaimerBounty   *big.Int
}

// CommitHash is the binding commitment hash used to index the swap on-chain.
func (d *SwapData) CommitHash() [32]byte {
	return d.PaymentHash
}

// Authorization is a signed commitment over (prefix, commit-hash, timeout)
// that lets the counterparty submit the init (or refund) transaction.
type Authorization struct {
	Prefix    string
	Timeout   int64 // unix seconds after which the authorization is void
	Signature []byte
}

// NativeTx is an opaque, chain-specific unsigned or signed transaction. Each
// adapter decides its real shape; everything above the adapter boundary only
// ever carries it around and passes it back for serialization.
type NativeTx interface {
	// ChainID returns the chain this transaction targets.
	ChainID() string
}

// Event is a decoded Initialize/Claim/Refund log entry. Secret is populated
// only for Claim events of HTLC swaps.
type Event struct {
	Type        EventType
	PaymentHash [32]byte
	Sequence    uint64
	Secret      []byte // preimage, present on EventClaim for HTLC swaps
	Swap        *SwapData
	BlockTime   time.Time
	TxID        string
}

type EventType int

const (
	EventInitialize EventType = iota
	EventClaim
	EventRefund
)

// SendOptions controls the signed-and-send wrappers.
type SendOptions struct {
	WaitForConfirmation bool
	AbortSignal         context.Context
	FeeRate             *big.Int
}

// PreFetchData lets a caller amortize chain reads (block data, fee history,
// verification material) across a request's multiple adapter calls.
type PreFetchData map[string]interface{}

// ChainAdapter is the uniform interface to a smart-chain backend. Capability
// set per the swap-intermediary contract: commitment queries, transaction
// construction (pure, no side effect), signed-and-send wrappers, signature
// issuance/verification, fee estimation, swap construction, hashing, and tx
// lifecycle/event streaming.
//
// Contract guarantees:
//   - All methods are safe to retry unless documented otherwise.
//   - Context cancellation aborts in-flight RPC work but never rolls back an
//     already-broadcast transaction.
//   - HashForOnchain must be bit-for-bit identical to the on-chain verifier.
type ChainAdapter interface {
	ChainID() string

	// --- commitment queries ---

	IsCommitted(ctx context.Context, swap *SwapData) (bool, error)
	GetCommitStatus(ctx context.Context, signer Signer, swap *SwapData) (CommitStatus, error)
	GetPaymentHashStatus(ctx context.Context, paymentHash [32]byte) (CommitStatus, error)
	GetCommittedData(ctx context.Context, paymentHash [32]byte) (*SwapData, error)

	// --- transaction construction (pure) ---

	TxsInitPayIn(ctx context.Context, swap *SwapData, auth *Authorization, feeRate *big.Int) ([]NativeTx, error)
	TxsInit(ctx context.Context, swap *SwapData, auth *Authorization, feeRate *big.Int) ([]NativeTx, error)
	TxsClaimWithSecret(ctx context.Context, swap *SwapData, secret []byte, feeRate *big.Int) ([]NativeTx, error)
	TxsClaimWithTxData(ctx context.Context, swap *SwapData, proof *ClaimProof, feeRate *big.Int) ([]NativeTx, error)
	TxsRefund(ctx context.Context, signer Signer, swap *SwapData, feeRate *big.Int) ([]NativeTx, error)
	TxsRefundWithAuthorization(ctx context.Context, swap *SwapData, auth *Authorization, feeRate *big.Int) ([]NativeTx, error)
	TxsDeposit(ctx context.Context, signer Signer, token string, amount *big.Int, feeRate *big.Int) ([]NativeTx, error)
	TxsWithdraw(ctx context.Context, signer Signer, token string, amount *big.Int, feeRate *big.Int) ([]NativeTx, error)
	TxsTransfer(ctx context.Context, signer Signer, token, to string, amount *big.Int, feeRate *big.Int) ([]NativeTx, error)

	// --- signed-and-send wrappers ---

	Init(ctx context.Context, signer Signer, swap *SwapData, auth *Authorization, opts *SendOptions) (*BroadcastReceipt, error)
	InitPayIn(ctx context.Context, signer Signer, swap *SwapData, auth *Authorization, opts *SendOptions) (*BroadcastReceipt, error)
	ClaimWithSecret(ctx context.Context, signer Signer, swap *SwapData, secret []byte, opts *SendOptions) (*BroadcastReceipt, error)
	ClaimWithTxData(ctx context.Context, signer Signer, swap *SwapData, proof *ClaimProof, synchronizer RelaySynchronizer, initAta bool, opts *SendOptions) (*BroadcastReceipt, error)
	Refund(ctx context.Context, signer Signer, swap *SwapData, opts *SendOptions) (*BroadcastReceipt, error)
	RefundWithAuthorization(ctx context.Context, signer Signer, swap *SwapData, auth *Authorization, opts *SendOptions) (*BroadcastReceipt, error)

	// --- signatures ---

	GetInitSignature(ctx context.Context, signer Signer, swap *SwapData, authTimeout int64, preFetched PreFetchData, feeRate *big.Int) (*Authorization, error)
	IsValidInitAuthorization(ctx context.Context, swap *SwapData, auth *Authorization, feeRate *big.Int, preFetched PreFetchData) ([]byte, error)
	GetRefundSignature(ctx context.Context, signer Signer, swap *SwapData, authTimeout int64, preFetched PreFetchData) (*Authorization, error)
	IsValidRefundAuthorization(ctx context.Context, swap *SwapData, auth *Authorization, preFetched PreFetchData) ([]byte, error)

	// --- fees ---

	GetCommitFee(ctx context.Context, swap *SwapData, feeRate *big.Int) (*big.Int, error)
	GetClaimFee(ctx context.Context, swap *SwapData, feeRate *big.Int) (*big.Int, error)
	GetRefundFee(ctx context.Context, swap *SwapData, feeRate *big.Int) (*big.Int, error)
	GetRawCommitFee(ctx context.Context, swap *SwapData, feeRate *big.Int) (*big.Int, error)
	GetRawClaimFee(ctx context.Context, swap *SwapData, feeRate *big.Int) (*big.Int, error)
	GetRawRefundFee(ctx context.Context, swap *SwapData, feeRate *big.Int) (*big.Int, error)
	GetInitPayInFeeRate(ctx context.Context) (*big.Int, error)
	GetInitFeeRate(ctx context.Context) (*big.Int, error)
	GetClaimFeeRate(ctx context.Context) (*big.Int, error)
	GetRefundFeeRate(ctx context.Context) (*big.Int, error)

	// --- swap construction ---

	CreateSwapData(kind SwapKind, offerer, claimer, token string, amount *big.Int, paymentHash [32]byte,
		sequence uint64, expiry int64, escrowNonce uint64, confirmations uint32,
		payIn, payOut bool, securityDeposit, claimerBounty *big.Int) (*SwapData, error)

	// --- hashing ---

	// HashForOnchain must equal the on-chain contract's computation bit-for-bit:
	// H(nonce_8BE ∥ H(amount_8LE ∥ outputScript)).
	HashForOnchain(outputScript []byte, amount uint64, nonce uint64) [32]byte

	// --- tx lifecycle ---

	SerializeTx(tx NativeTx) ([]byte, error)
	DeserializeTx(raw []byte) (NativeTx, error)
	GetTxStatus(ctx context.Context, serialized []byte) (TxStatus, error)
	SendAndConfirm(ctx context.Context, signer Signer, txs []NativeTx, wait bool, abortSignal context.Context, parallel bool, onBeforePublish func(NativeTx) error) ([]*BroadcastReceipt, error)
	OnBeforeTxReplace(cb func(oldTxID, newTxID string)) (unsubscribe func())

	// --- events ---

	SubscribeEvents(ctx context.Context) (<-chan *Event, error)

	// --- timeouts (used to scope the per-swap critical-section lock) ---

	ClaimWithSecretTimeout() time.Duration
	ClaimWithTxDataTimeout() time.Duration
	RefundTimeout() time.Duration
}

// ClaimProof is the Merkle + header evidence a FromBtc swap needs to claim on
// a smart chain once the underlying Bitcoin payment has matured.
type ClaimProof struct {
	Height       uint32
	RawTx        []byte
	Vout         uint32
	StoredHeader []byte // chain-specific packed relay header (see pkg/spv)
	MerkleProof  [][32]byte
}

// TxStatus is the adapter's view of a submitted transaction's lifecycle.
type TxStatus int

const (
	TxNotFound TxStatus = iota
	TxPending
	TxSuccess
	TxReverted
)

// BroadcastReceipt is returned by the signed-and-send wrappers.
type BroadcastReceipt struct {
	TxID        string
	SubmittedAt time.Time
}

// RelaySynchronizer is the narrow slice of the relay synchronizer (§4.3) that
// a ChainAdapter needs when a claim requires headers it does not yet have.
type RelaySynchronizer interface {
	SyncToHeight(ctx context.Context, height uint32) ([]NativeTx, error)
}
