// Package handlertest collects the test doubles shared by the four
// swap-direction handler packages' tests, so each package's _test.go only
// wires the handful of behaviors its scenario needs rather than
// re-implementing the full chainadapter.ChainAdapter surface. Grounded on
// the teacher's own shared test double, pkg/chainadapter/rpc.MockRPCClient
// (method-keyed canned responses), adapted here to a hand-rolled struct with
// overridable function fields since ChainAdapter's surface is call-specific
// rather than uniform JSON-RPC.
package handlertest

import (
	"context"
	"math/big"
	"time"

	"github.com/btcswap/intermediary/pkg/chainadapter"
)

// FakeAdapter implements chainadapter.ChainAdapter. Every method a handler
// test actually exercises is backed by an overridable function field with a
// fixed default when the field is nil; OnBeforeTxReplace (a no-op) and
// SubscribeEvents (an already-closed channel) are fixed stubs; every other
// method panics so an unexpected call fails the test loudly.
type FakeAdapter struct {
	ChainIDFunc                 func() string
	IsCommittedFunc             func(ctx context.Context, swap *chainadapter.SwapData) (bool, error)
	CreateSwapDataFunc          func(kind chainadapter.SwapKind, offerer, claimer, token string, amount *big.Int, paymentHash [32]byte, sequence uint64, expiry int64, escrowNonce uint64, confirmations uint32, payIn, payOut bool, securityDeposit, claimerBounty *big.Int) (*chainadapter.SwapData, error)
	GetInitSignatureFunc        func(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, authTimeout int64, preFetched chainadapter.PreFetchData, feeRate *big.Int) (*chainadapter.Authorization, error)
	HashForOnchainFunc          func(outputScript []byte, amount uint64, nonce uint64) [32]byte
	InitFunc                    func(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, auth *chainadapter.Authorization, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error)
	ClaimWithSecretFunc         func(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, secret []byte, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error)
	ClaimWithTxDataFunc         func(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, proof *chainadapter.ClaimProof, synchronizer chainadapter.RelaySynchronizer, initAta bool, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error)
	ClaimWithSecretTimeoutFunc  func() time.Duration
	ClaimWithTxDataTimeoutFunc  func() time.Duration
	RefundTimeoutFunc           func() time.Duration
}

func (f *FakeAdapter) ChainID() string {
	if f.ChainIDFunc != nil {
		return f.ChainIDFunc()
	}
	return "fake:1"
}

func (f *FakeAdapter) IsCommitted(ctx context.Context, swap *chainadapter.SwapData) (bool, error) {
	if f.IsCommittedFunc != nil {
		return f.IsCommittedFunc(ctx, swap)
	}
	return false, nil
}

func (f *FakeAdapter) GetCommitStatus(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData) (chainadapter.CommitStatus, error) {
	panic("handlertest: GetCommitStatus not stubbed")
}

func (f *FakeAdapter) GetPaymentHashStatus(ctx context.Context, paymentHash [32]byte) (chainadapter.CommitStatus, error) {
	panic("handlertest: GetPaymentHashStatus not stubbed")
}

func (f *FakeAdapter) GetCommittedData(ctx context.Context, paymentHash [32]byte) (*chainadapter.SwapData, error) {
	panic("handlertest: GetCommittedData not stubbed")
}

func (f *FakeAdapter) TxsInitPayIn(ctx context.Context, swap *chainadapter.SwapData, auth *chainadapter.Authorization, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	panic("handlertest: TxsInitPayIn not stubbed")
}

func (f *FakeAdapter) TxsInit(ctx context.Context, swap *chainadapter.SwapData, auth *chainadapter.Authorization, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	panic("handlertest: TxsInit not stubbed")
}

func (f *FakeAdapter) TxsClaimWithSecret(ctx context.Context, swap *chainadapter.SwapData, secret []byte, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	panic("handlertest: TxsClaimWithSecret not stubbed")
}

func (f *FakeAdapter) TxsClaimWithTxData(ctx context.Context, swap *chainadapter.SwapData, proof *chainadapter.ClaimProof, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	panic("handlertest: TxsClaimWithTxData not stubbed")
}

func (f *FakeAdapter) TxsRefund(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	panic("handlertest: TxsRefund not stubbed")
}

func (f *FakeAdapter) TxsRefundWithAuthorization(ctx context.Context, swap *chainadapter.SwapData, auth *chainadapter.Authorization, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	panic("handlertest: TxsRefundWithAuthorization not stubbed")
}

func (f *FakeAdapter) TxsDeposit(ctx context.Context, signer chainadapter.Signer, token string, amount *big.Int, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	panic("handlertest: TxsDeposit not stubbed")
}

func (f *FakeAdapter) TxsWithdraw(ctx context.Context, signer chainadapter.Signer, token string, amount *big.Int, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	panic("handlertest: TxsWithdraw not stubbed")
}

func (f *FakeAdapter) TxsTransfer(ctx context.Context, signer chainadapter.Signer, token, to string, amount *big.Int, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	panic("handlertest: TxsTransfer not stubbed")
}

func (f *FakeAdapter) Init(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, auth *chainadapter.Authorization, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error) {
	if f.InitFunc != nil {
		return f.InitFunc(ctx, signer, swap, auth, opts)
	}
	return &chainadapter.BroadcastReceipt{TxID: "fake-init-tx"}, nil
}

func (f *FakeAdapter) InitPayIn(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, auth *chainadapter.Authorization, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error) {
	panic("handlertest: InitPayIn not stubbed")
}

func (f *FakeAdapter) ClaimWithSecret(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, secret []byte, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error) {
	if f.ClaimWithSecretFunc != nil {
		return f.ClaimWithSecretFunc(ctx, signer, swap, secret, opts)
	}
	return &chainadapter.BroadcastReceipt{TxID: "fake-claim-tx"}, nil
}

func (f *FakeAdapter) ClaimWithTxData(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, proof *chainadapter.ClaimProof, synchronizer chainadapter.RelaySynchronizer, initAta bool, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error) {
	if f.ClaimWithTxDataFunc != nil {
		return f.ClaimWithTxDataFunc(ctx, signer, swap, proof, synchronizer, initAta, opts)
	}
	return &chainadapter.BroadcastReceipt{TxID: "fake-claim-tx"}, nil
}

func (f *FakeAdapter) Refund(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error) {
	panic("handlertest: Refund not stubbed")
}

func (f *FakeAdapter) RefundWithAuthorization(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, auth *chainadapter.Authorization, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error) {
	panic("handlertest: RefundWithAuthorization not stubbed")
}

func (f *FakeAdapter) GetInitSignature(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, authTimeout int64, preFetched chainadapter.PreFetchData, feeRate *big.Int) (*chainadapter.Authorization, error) {
	if f.GetInitSignatureFunc != nil {
		return f.GetInitSignatureFunc(ctx, signer, swap, authTimeout, preFetched, feeRate)
	}
	return &chainadapter.Authorization{Prefix: "fake", Timeout: authTimeout, Signature: []byte("sig")}, nil
}

func (f *FakeAdapter) IsValidInitAuthorization(ctx context.Context, swap *chainadapter.SwapData, auth *chainadapter.Authorization, feeRate *big.Int, preFetched chainadapter.PreFetchData) ([]byte, error) {
	panic("handlertest: IsValidInitAuthorization not stubbed")
}

func (f *FakeAdapter) GetRefundSignature(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, authTimeout int64, preFetched chainadapter.PreFetchData) (*chainadapter.Authorization, error) {
	panic("handlertest: GetRefundSignature not stubbed")
}

func (f *FakeAdapter) IsValidRefundAuthorization(ctx context.Context, swap *chainadapter.SwapData, auth *chainadapter.Authorization, preFetched chainadapter.PreFetchData) ([]byte, error) {
	panic("handlertest: IsValidRefundAuthorization not stubbed")
}

func (f *FakeAdapter) GetCommitFee(ctx context.Context, swap *chainadapter.SwapData, feeRate *big.Int) (*big.Int, error) {
	panic("handlertest: GetCommitFee not stubbed")
}

func (f *FakeAdapter) GetClaimFee(ctx context.Context, swap *chainadapter.SwapData, feeRate *big.Int) (*big.Int, error) {
	panic("handlertest: GetClaimFee not stubbed")
}

func (f *FakeAdapter) GetRefundFee(ctx context.Context, swap *chainadapter.SwapData, feeRate *big.Int) (*big.Int, error) {
	panic("handlertest: GetRefundFee not stubbed")
}

func (f *FakeAdapter) GetRawCommitFee(ctx context.Context, swap *chainadapter.SwapData, feeRate *big.Int) (*big.Int, error) {
	panic("handlertest: GetRawCommitFee not stubbed")
}

func (f *FakeAdapter) GetRawClaimFee(ctx context.Context, swap *chainadapter.SwapData, feeRate *big.Int) (*big.Int, error) {
	panic("handlertest: GetRawClaimFee not stubbed")
}

func (f *FakeAdapter) GetRawRefundFee(ctx context.Context, swap *chainadapter.SwapData, feeRate *big.Int) (*big.Int, error) {
	panic("handlertest: GetRawRefundFee not stubbed")
}

func (f *FakeAdapter) GetInitPayInFeeRate(ctx context.Context) (*big.Int, error) {
	panic("handlertest: GetInitPayInFeeRate not stubbed")
}

func (f *FakeAdapter) GetInitFeeRate(ctx context.Context) (*big.Int, error) {
	panic("handlertest: GetInitFeeRate not stubbed")
}

func (f *FakeAdapter) GetClaimFeeRate(ctx context.Context) (*big.Int, error) {
	panic("handlertest: GetClaimFeeRate not stubbed")
}

func (f *FakeAdapter) GetRefundFeeRate(ctx context.Context) (*big.Int, error) {
	panic("handlertest: GetRefundFeeRate not stubbed")
}

func (f *FakeAdapter) CreateSwapData(kind chainadapter.SwapKind, offerer, claimer, token string, amount *big.Int, paymentHash [32]byte, sequence uint64, expiry int64, escrowNonce uint64, confirmations uint32, payIn, payOut bool, securityDeposit, claimerBounty *big.Int) (*chainadapter.SwapData, error) {
	if f.CreateSwapDataFunc != nil {
		return f.CreateSwapDataFunc(kind, offerer, claimer, token, amount, paymentHash, sequence, expiry, escrowNonce, confirmations, payIn, payOut, securityDeposit, claimerBounty)
	}
	return &chainadapter.SwapData{
		Kind:            kind,
		Offerer:         offerer,
		Claimer:         claimer,
		Token:           token,
		Amount:          amount,
		PaymentHash:     paymentHash,
		Sequence:        sequence,
		Expiry:          expiry,
		Confirmations:   confirmations,
		EscrowNonce:     escrowNonce,
		PayIn:           payIn,
		PayOut:          payOut,
		SecurityDeposit: securityDeposit,
		ClaimerBounty:   claimerBounty,
	}, nil
}

func (f *FakeAdapter) HashForOnchain(outputScript []byte, amount uint64, nonce uint64) [32]byte {
	if f.HashForOnchainFunc != nil {
		return f.HashForOnchainFunc(outputScript, amount, nonce)
	}
	var h [32]byte
	copy(h[:], outputScript)
	return h
}

func (f *FakeAdapter) SerializeTx(tx chainadapter.NativeTx) ([]byte, error) {
	panic("handlertest: SerializeTx not stubbed")
}

func (f *FakeAdapter) DeserializeTx(raw []byte) (chainadapter.NativeTx, error) {
	panic("handlertest: DeserializeTx not stubbed")
}

func (f *FakeAdapter) GetTxStatus(ctx context.Context, serialized []byte) (chainadapter.TxStatus, error) {
	panic("handlertest: GetTxStatus not stubbed")
}

func (f *FakeAdapter) SendAndConfirm(ctx context.Context, signer chainadapter.Signer, txs []chainadapter.NativeTx, wait bool, abortSignal context.Context, parallel bool, onBeforePublish func(chainadapter.NativeTx) error) ([]*chainadapter.BroadcastReceipt, error) {
	panic("handlertest: SendAndConfirm not stubbed")
}

func (f *FakeAdapter) OnBeforeTxReplace(cb func(oldTxID, newTxID string)) (unsubscribe func()) {
	return func() {}
}

func (f *FakeAdapter) SubscribeEvents(ctx context.Context) (<-chan *chainadapter.Event, error) {
	ch := make(chan *chainadapter.Event)
	close(ch)
	return ch, nil
}

func (f *FakeAdapter) ClaimWithSecretTimeout() time.Duration {
	if f.ClaimWithSecretTimeoutFunc != nil {
		return f.ClaimWithSecretTimeoutFunc()
	}
	return time.Minute
}

func (f *FakeAdapter) ClaimWithTxDataTimeout() time.Duration {
	if f.ClaimWithTxDataTimeoutFunc != nil {
		return f.ClaimWithTxDataTimeoutFunc()
	}
	return time.Minute
}

func (f *FakeAdapter) RefundTimeout() time.Duration {
	if f.RefundTimeoutFunc != nil {
		return f.RefundTimeoutFunc()
	}
	return time.Minute
}

var _ chainadapter.ChainAdapter = (*FakeAdapter)(nil)

// FakeSigner is a no-op chainadapter.Signer: the handlers under test never
// inspect the signature bytes themselves, only pass them through to the
// (also faked) adapter.
type FakeSigner struct{}

func (FakeSigner) Sign(payload []byte, address string) ([]byte, error) {
	return []byte("fake-signature"), nil
}

func (FakeSigner) GetAddress() string { return "fake-address" }

func (FakeSigner) Type() chainadapter.KeySourceType { return chainadapter.KeySourceMnemonic }

func (FakeSigner) GetPublicKey(path string) ([]byte, error) {
	return []byte("fake-pubkey"), nil
}

var _ chainadapter.Signer = FakeSigner{}

// FakeVaultChecker satisfies tobtc.VaultChecker / tobtcln.VaultChecker.
type FakeVaultChecker struct {
	Initialized bool
	Err         error
}

func (f FakeVaultChecker) IsVaultInitialized(ctx context.Context, chainID, token string) (bool, error) {
	return f.Initialized, f.Err
}

// FakeVaultBalance satisfies frombtc.VaultBalance / frombtcln.VaultBalance.
type FakeVaultBalance struct {
	Balance *big.Int
	Err     error
}

func (f FakeVaultBalance) AvailableBalance(ctx context.Context, chainID, token string) (*big.Int, error) {
	return f.Balance, f.Err
}
