// Package solana implements chainadapter.ChainAdapter against a Solana
// program implementing the same escrow semantics as the Ethereum adapter's
// contract.go, translated to Solana's account model: the commitment lives in
// a PDA ("escrow", paymentHash) instead of a Solidity mapping slot, and every
// call is a single instruction against that program rather than an ABI-
// encoded method call.
package solana

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/btcswap/intermediary/pkg/chainadapter"
	"github.com/btcswap/intermediary/pkg/chainadapter/metrics"
	"github.com/btcswap/intermediary/pkg/chainadapter/rpc"
	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
	"golang.org/x/crypto/sha3"
)

// SolTx wraps a built (possibly unsigned) Solana transaction.
type SolTx struct {
	chainID string
	tx      *solanago.Transaction
}

func (t *SolTx) ChainID() string { return t.chainID }

// Adapter implements chainadapter.ChainAdapter for a Solana cluster.
type Adapter struct {
	chainID   string
	programID solanago.PublicKey

	rpc     *RPCHelper
	metrics metrics.ChainMetrics

	mu              sync.Mutex
	replaceCallback []func(oldTxID, newTxID string)
	lastSeenSlot    uint64
}

// Base fee in lamports added to every fee estimate, whatever the feeRate.
// Solana's base fee is a flat 5000 lamports/signature; the bulk of
// the cost is the priority fee, which this adapter treats as a per-compute-
// unit microlamport price (Solana's real fee market knob).
const baseFeeLamports = 5000

// NewAdapter constructs a Solana ChainAdapter for the escrow program at
// `programID`, talking to `rpcClient` (Solana JSON-RPC over HTTP).
func NewAdapter(chainID string, programID solanago.PublicKey, rpcClient rpc.RPCClient, metricsRecorder metrics.ChainMetrics) *Adapter {
	if metricsRecorder != nil {
		rpcClient = rpc.NewMetricsRPCClient(rpcClient, metricsRecorder)
	}
	return &Adapter{
		chainID:   chainID,
		programID: programID,
		rpc:       NewRPCHelper(rpcClient),
		metrics:   metricsRecorder,
	}
}

func (a *Adapter) ChainID() string { return a.chainID }

func (a *Adapter) buildTx(ctx context.Context, payer solanago.PublicKey, instructions ...solanago.Instruction) (*SolTx, error) {
	blockhash, err := a.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := solanago.NewTransaction(instructions, blockhash, solanago.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("solana: build transaction: %w", err)
	}
	return &SolTx{chainID: a.chainID, tx: tx}, nil
}

// --- commitment account layout ---

type escrowAccount struct {
	Status          uint8
	Offerer         solanago.PublicKey
	Claimer         solanago.PublicKey
	Mint            solanago.PublicKey
	Amount          uint64
	Sequence        uint64
	Expiry          int64
	EscrowNonce     uint64
	Kind            uint8
}

const (
	onchainNotCommitted uint8 = iota
	onchainCommitted
	onchainClaimed
	onchainRefunded
)

func (a *Adapter) fetchCommitment(ctx context.Context, paymentHash [32]byte) (*escrowAccount, error) {
	pda, _, err := escrowPDA(a.programID, paymentHash)
	if err != nil {
		return nil, err
	}
	data, err := a.rpc.GetAccountData(ctx, pda)
	if err != nil {
		return nil, err
	}
	if data == nil || len(data) <= 8 {
		return &escrowAccount{Status: onchainNotCommitted}, nil
	}
	var account escrowAccount
	if err := bin.NewBorshDecoder(data[8:]).Decode(&account); err != nil {
		return nil, fmt.Errorf("solana: decode escrow account: %w", err)
	}
	return &account, nil
}

// reputationAccount mirrors the per-(intermediary, mint) counters the
// glossary defines as "Intermediary reputation": success/fail/coop-close
// counts used as the §4.5 step 3 "vault initialized" sentinel.
type reputationAccount struct {
	Success   uint64
	Failed    uint64
	CoopClose uint64
}

// vaultAccount mirrors the per-mint vault token balance the intermediary
// has deposited for payouts (§4.7 step 1's balance guard).
type vaultAccount struct {
	Amount uint64
}

// IsVaultInitialized reports whether the intermediary has a reputation
// record for mint on this chain (§4.5 step 3).
func (a *Adapter) IsVaultInitialized(ctx context.Context, intermediary, mint solanago.PublicKey) (bool, error) {
	pda, _, err := reputationPDA(a.programID, intermediary, mint)
	if err != nil {
		return false, err
	}
	data, err := a.rpc.GetAccountData(ctx, pda)
	if err != nil {
		return false, err
	}
	if data == nil || len(data) <= 8 {
		return false, nil
	}
	var account reputationAccount
	if err := bin.NewBorshDecoder(data[8:]).Decode(&account); err != nil {
		return false, fmt.Errorf("solana: decode reputation account: %w", err)
	}
	return account.Success > 0 || account.Failed > 0 || account.CoopClose > 0, nil
}

// AvailableBalance reports the intermediary's deposited vault balance for
// mint, the guard §4.7 step 1 and the ToBtc/ToBtcLn quote path check before
// committing to pay out.
func (a *Adapter) AvailableBalance(ctx context.Context, mint solanago.PublicKey) (uint64, error) {
	pda, _, err := vaultPDA(a.programID, mint)
	if err != nil {
		return 0, err
	}
	data, err := a.rpc.GetAccountData(ctx, pda)
	if err != nil {
		return 0, err
	}
	if data == nil || len(data) <= 8 {
		return 0, nil
	}
	var account vaultAccount
	if err := bin.NewBorshDecoder(data[8:]).Decode(&account); err != nil {
		return 0, fmt.Errorf("solana: decode vault account: %w", err)
	}
	return account.Amount, nil
}

func (a *Adapter) IsCommitted(ctx context.Context, swap *chainadapter.SwapData) (bool, error) {
	acc, err := a.fetchCommitment(ctx, swap.PaymentHash)
	if err != nil {
		return false, err
	}
	return acc.Status != onchainNotCommitted, nil
}

func (a *Adapter) GetCommitStatus(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData) (chainadapter.CommitStatus, error) {
	acc, err := a.fetchCommitment(ctx, swap.PaymentHash)
	if err != nil {
		return chainadapter.StatusNotCommitted, err
	}
	switch acc.Status {
	case onchainNotCommitted:
		return chainadapter.StatusNotCommitted, nil
	case onchainClaimed:
		return chainadapter.StatusPaid, nil
	case onchainRefunded:
		return chainadapter.StatusExpired, nil
	case onchainCommitted:
		if acc.Expiry <= time.Now().Unix() {
			return chainadapter.StatusRefundable, nil
		}
		return chainadapter.StatusCommitted, nil
	default:
		return chainadapter.StatusNotCommitted, fmt.Errorf("solana: unknown commitment status %d", acc.Status)
	}
}

func (a *Adapter) GetPaymentHashStatus(ctx context.Context, paymentHash [32]byte) (chainadapter.CommitStatus, error) {
	return a.GetCommitStatus(ctx, nil, &chainadapter.SwapData{PaymentHash: paymentHash})
}

func (a *Adapter) GetCommittedData(ctx context.Context, paymentHash [32]byte) (*chainadapter.SwapData, error) {
	acc, err := a.fetchCommitment(ctx, paymentHash)
	if err != nil {
		return nil, err
	}
	if acc.Status == onchainNotCommitted {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeTxNotFound, "no commitment for payment hash", nil)
	}
	return &chainadapter.SwapData{
		Kind:        chainadapter.SwapKind(acc.Kind),
		Offerer:     acc.Offerer.String(),
		Claimer:     acc.Claimer.String(),
		Token:       acc.Mint.String(),
		Amount:      new(big.Int).SetUint64(acc.Amount),
		PaymentHash: paymentHash,
		Sequence:    acc.Sequence,
		Expiry:      acc.Expiry,
		EscrowNonce: acc.EscrowNonce,
	}, nil
}

// --- transaction construction (pure) ---

func parsePubkey(addr string) (solanago.PublicKey, error) {
	pk, err := solanago.PublicKeyFromBase58(addr)
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("solana: invalid address %q: %w", addr, err)
	}
	return pk, nil
}

func (a *Adapter) escrowInstruction(swap *chainadapter.SwapData, disc [8]byte, payer solanago.PublicKey, extra interface{}, writableSigners ...solanago.PublicKey) (solanago.Instruction, error) {
	pda, _, err := escrowPDA(a.programID, swap.PaymentHash)
	if err != nil {
		return nil, err
	}
	data, err := encodeInstructionData(disc, extra)
	if err != nil {
		return nil, err
	}
	accounts := solanago.AccountMetaSlice{
		solanago.Meta(pda).WRITE(),
		solanago.Meta(payer).WRITE().SIGNER(),
	}
	for _, s := range writableSigners {
		accounts = append(accounts, solanago.Meta(s))
	}
	return newInstruction(a.programID, payer, accounts, data), nil
}

func (a *Adapter) TxsInit(ctx context.Context, swap *chainadapter.SwapData, auth *chainadapter.Authorization, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	claimer, err := parsePubkey(swap.Claimer)
	if err != nil {
		return nil, err
	}
	offerer, err := parsePubkey(swap.Offerer)
	if err != nil {
		return nil, err
	}
	var timeout int64
	var sig []byte
	if auth != nil {
		timeout = auth.Timeout
		sig = auth.Signature
	}
	args := initializeArgs{
		PaymentHash: swap.PaymentHash, Amount: swap.Amount.Uint64(), Sequence: swap.Sequence,
		Expiry: swap.Expiry, EscrowNonce: swap.EscrowNonce, Kind: uint8(swap.Kind), PayOut: swap.PayOut,
		SecurityDeposit: zeroIfNil(swap.SecurityDeposit), ClaimerBounty: zeroIfNil(swap.ClaimerBounty),
		AuthTimeout: timeout, Signature: sig,
	}
	instr, err := a.escrowInstruction(swap, discInitialize, claimer, args, offerer)
	if err != nil {
		return nil, err
	}
	tx, err := a.buildTx(ctx, claimer, instr)
	if err != nil {
		return nil, err
	}
	return []chainadapter.NativeTx{tx}, nil
}

func (a *Adapter) TxsInitPayIn(ctx context.Context, swap *chainadapter.SwapData, auth *chainadapter.Authorization, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	offerer, err := parsePubkey(swap.Offerer)
	if err != nil {
		return nil, err
	}
	claimer, err := parsePubkey(swap.Claimer)
	if err != nil {
		return nil, err
	}
	args := initializeArgs{
		PaymentHash: swap.PaymentHash, Amount: swap.Amount.Uint64(), Sequence: swap.Sequence,
		Expiry: swap.Expiry, EscrowNonce: swap.EscrowNonce, Kind: uint8(swap.Kind), PayOut: swap.PayOut,
		SecurityDeposit: zeroIfNil(swap.SecurityDeposit), ClaimerBounty: zeroIfNil(swap.ClaimerBounty),
	}
	instr, err := a.escrowInstruction(swap, discInitializePayIn, offerer, args, claimer)
	if err != nil {
		return nil, err
	}
	tx, err := a.buildTx(ctx, offerer, instr)
	if err != nil {
		return nil, err
	}
	return []chainadapter.NativeTx{tx}, nil
}

func (a *Adapter) TxsClaimWithSecret(ctx context.Context, swap *chainadapter.SwapData, secret []byte, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	claimer, err := parsePubkey(swap.Claimer)
	if err != nil {
		return nil, err
	}
	var secretArr [32]byte
	copy(secretArr[:], secret)
	instr, err := a.escrowInstruction(swap, discClaimSecret, claimer, struct {
		PaymentHash [32]byte
		Secret      [32]byte
	}{swap.PaymentHash, secretArr})
	if err != nil {
		return nil, err
	}
	tx, err := a.buildTx(ctx, claimer, instr)
	if err != nil {
		return nil, err
	}
	return []chainadapter.NativeTx{tx}, nil
}

func (a *Adapter) TxsClaimWithTxData(ctx context.Context, swap *chainadapter.SwapData, proof *chainadapter.ClaimProof, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	claimer, err := parsePubkey(swap.Claimer)
	if err != nil {
		return nil, err
	}
	instr, err := a.escrowInstruction(swap, discClaimTxData, claimer, struct {
		PaymentHash  [32]byte
		Height       uint32
		RawTx        []byte
		Vout         uint32
		StoredHeader []byte
		MerkleProof  [][32]byte
	}{swap.PaymentHash, proof.Height, proof.RawTx, proof.Vout, proof.StoredHeader, proof.MerkleProof})
	if err != nil {
		return nil, err
	}
	tx, err := a.buildTx(ctx, claimer, instr)
	if err != nil {
		return nil, err
	}
	return []chainadapter.NativeTx{tx}, nil
}

func (a *Adapter) TxsRefund(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	payer, err := parsePubkey(signer.GetAddress())
	if err != nil {
		return nil, err
	}
	instr, err := a.escrowInstruction(swap, discRefund, payer, struct{ PaymentHash [32]byte }{swap.PaymentHash})
	if err != nil {
		return nil, err
	}
	tx, err := a.buildTx(ctx, payer, instr)
	if err != nil {
		return nil, err
	}
	return []chainadapter.NativeTx{tx}, nil
}

func (a *Adapter) TxsRefundWithAuthorization(ctx context.Context, swap *chainadapter.SwapData, auth *chainadapter.Authorization, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	offerer, err := parsePubkey(swap.Offerer)
	if err != nil {
		return nil, err
	}
	instr, err := a.escrowInstruction(swap, discRefundWithAuth, offerer, struct {
		PaymentHash [32]byte
		AuthTimeout int64
		Signature   []byte
	}{swap.PaymentHash, auth.Timeout, auth.Signature})
	if err != nil {
		return nil, err
	}
	tx, err := a.buildTx(ctx, offerer, instr)
	if err != nil {
		return nil, err
	}
	return []chainadapter.NativeTx{tx}, nil
}

func (a *Adapter) vaultInstruction(ctx context.Context, signer chainadapter.Signer, token string, disc [8]byte, extra interface{}, extraAccounts ...solanago.PublicKey) (*SolTx, error) {
	payer, err := parsePubkey(signer.GetAddress())
	if err != nil {
		return nil, err
	}
	mint := solanago.PublicKey{}
	if token != "" {
		mint, err = parsePubkey(token)
		if err != nil {
			return nil, err
		}
	}
	vault, _, err := vaultPDA(a.programID, mint)
	if err != nil {
		return nil, err
	}
	data, err := encodeInstructionData(disc, extra)
	if err != nil {
		return nil, err
	}
	accounts := solanago.AccountMetaSlice{
		solanago.Meta(vault).WRITE(),
		solanago.Meta(payer).WRITE().SIGNER(),
	}
	for _, acc := range extraAccounts {
		accounts = append(accounts, solanago.Meta(acc))
	}
	instr := newInstruction(a.programID, payer, accounts, data)
	return a.buildTx(ctx, payer, instr)
}

func (a *Adapter) TxsDeposit(ctx context.Context, signer chainadapter.Signer, token string, amount *big.Int, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	tx, err := a.vaultInstruction(ctx, signer, token, discDeposit, struct{ Amount uint64 }{amount.Uint64()})
	if err != nil {
		return nil, err
	}
	return []chainadapter.NativeTx{tx}, nil
}

func (a *Adapter) TxsWithdraw(ctx context.Context, signer chainadapter.Signer, token string, amount *big.Int, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	tx, err := a.vaultInstruction(ctx, signer, token, discWithdraw, struct{ Amount uint64 }{amount.Uint64()})
	if err != nil {
		return nil, err
	}
	return []chainadapter.NativeTx{tx}, nil
}

func (a *Adapter) TxsTransfer(ctx context.Context, signer chainadapter.Signer, token, to string, amount *big.Int, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	recipient, err := parsePubkey(to)
	if err != nil {
		return nil, err
	}
	tx, err := a.vaultInstruction(ctx, signer, token, discTransfer, struct{ Amount uint64 }{amount.Uint64()}, recipient)
	if err != nil {
		return nil, err
	}
	return []chainadapter.NativeTx{tx}, nil
}

// --- signed-and-send wrappers ---

func (a *Adapter) signAndSend(ctx context.Context, signer chainadapter.Signer, tx *SolTx, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error) {
	if solSigner, ok := signer.(*Signer); ok {
		if _, err := tx.tx.Sign(solSigner.signerFunc()); err != nil {
			return nil, chainadapter.NewNonRetryableError("ERR_SIGNING_FAILED", err.Error(), err)
		}
	} else {
		msg, err := tx.tx.Message.MarshalBinary()
		if err != nil {
			return nil, err
		}
		sig, err := signer.Sign(msg, signer.GetAddress())
		if err != nil {
			return nil, chainadapter.NewNonRetryableError("ERR_SIGNING_FAILED", err.Error(), err)
		}
		var solSig solanago.Signature
		copy(solSig[:], sig)
		tx.tx.Signatures = append(tx.tx.Signatures, solSig)
	}

	raw, err := tx.tx.MarshalBinary()
	if err != nil {
		return nil, err
	}
	sig, err := a.rpc.SendTransaction(ctx, raw)
	if err != nil {
		return nil, err
	}
	receipt := &chainadapter.BroadcastReceipt{TxID: sig, SubmittedAt: time.Now()}
	if opts != nil && opts.WaitForConfirmation {
		if err := a.waitConfirmed(ctx, sig); err != nil {
			return receipt, err
		}
	}
	return receipt, nil
}

func (a *Adapter) waitConfirmed(ctx context.Context, signature string) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			status, err := a.rpc.GetSignatureStatus(ctx, signature)
			if err != nil || status == nil {
				continue
			}
			if status.ConfirmationStatus == "confirmed" || status.ConfirmationStatus == "finalized" {
				return nil
			}
		}
	}
}

func (a *Adapter) sendSingle(ctx context.Context, signer chainadapter.Signer, txs []chainadapter.NativeTx, err error, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error) {
	if err != nil {
		return nil, err
	}
	return a.signAndSend(ctx, signer, txs[0].(*SolTx), opts)
}

func (a *Adapter) Init(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, auth *chainadapter.Authorization, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error) {
	txs, err := a.TxsInit(ctx, swap, auth, feeRateOf(opts))
	return a.sendSingle(ctx, signer, txs, err, opts)
}

func (a *Adapter) InitPayIn(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, auth *chainadapter.Authorization, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error) {
	txs, err := a.TxsInitPayIn(ctx, swap, auth, feeRateOf(opts))
	return a.sendSingle(ctx, signer, txs, err, opts)
}

func (a *Adapter) ClaimWithSecret(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, secret []byte, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error) {
	txs, err := a.TxsClaimWithSecret(ctx, swap, secret, feeRateOf(opts))
	return a.sendSingle(ctx, signer, txs, err, opts)
}

func (a *Adapter) ClaimWithTxData(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, proof *chainadapter.ClaimProof, synchronizer chainadapter.RelaySynchronizer, initAta bool, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error) {
	if synchronizer != nil {
		if _, err := synchronizer.SyncToHeight(ctx, proof.Height); err != nil {
			return nil, err
		}
	}
	// initAta: Solana SPL-token payouts need the claimer's associated token
	// account initialized before the program can transfer into it. initAta
	// is not forwarded: the claim instruction carries no flag for it and no
	// token-account instruction is built here.
	txs, err := a.TxsClaimWithTxData(ctx, swap, proof, feeRateOf(opts))
	return a.sendSingle(ctx, signer, txs, err, opts)
}

func (a *Adapter) Refund(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error) {
	txs, err := a.TxsRefund(ctx, signer, swap, feeRateOf(opts))
	return a.sendSingle(ctx, signer, txs, err, opts)
}

func (a *Adapter) RefundWithAuthorization(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, auth *chainadapter.Authorization, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error) {
	txs, err := a.TxsRefundWithAuthorization(ctx, swap, auth, feeRateOf(opts))
	return a.sendSingle(ctx, signer, txs, err, opts)
}

func feeRateOf(opts *chainadapter.SendOptions) *big.Int {
	if opts == nil {
		return nil
	}
	return opts.FeeRate
}

// --- signatures ---

func authMessage(prefix string, commitHash [32]byte, timeout int64) []byte {
	buf := make([]byte, 0, len(prefix)+32+8)
	buf = append(buf, prefix...)
	buf = append(buf, commitHash[:]...)
	var t [8]byte
	binary.BigEndian.PutUint64(t[:], uint64(timeout))
	buf = append(buf, t[:]...)
	return buf
}

func (a *Adapter) GetInitSignature(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, authTimeout int64, preFetched chainadapter.PreFetchData, feeRate *big.Int) (*chainadapter.Authorization, error) {
	msg := authMessage("initialize", swap.CommitHash(), authTimeout)
	sig, err := signer.Sign(msg, signer.GetAddress())
	if err != nil {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidSignature, err.Error(), err)
	}
	return &chainadapter.Authorization{Prefix: "initialize", Timeout: authTimeout, Signature: sig}, nil
}

func (a *Adapter) IsValidInitAuthorization(ctx context.Context, swap *chainadapter.SwapData, auth *chainadapter.Authorization, feeRate *big.Int, preFetched chainadapter.PreFetchData) ([]byte, error) {
	if auth.Timeout <= time.Now().Unix() {
		return nil, chainadapter.NewNonRetryableError("ERR_AUTH_EXPIRED", "initialize authorization timed out", nil)
	}
	msg := authMessage(auth.Prefix, swap.CommitHash(), auth.Timeout)
	valid, err := VerifySignature(msg, auth.Signature, swap.Offerer)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidSignature, err.Error(), err)
	}
	if !valid {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidSignature, "initialize authorization signature invalid", nil)
	}
	return msg, nil
}

func (a *Adapter) GetRefundSignature(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, authTimeout int64, preFetched chainadapter.PreFetchData) (*chainadapter.Authorization, error) {
	msg := authMessage("refund", swap.CommitHash(), authTimeout)
	sig, err := signer.Sign(msg, signer.GetAddress())
	if err != nil {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidSignature, err.Error(), err)
	}
	return &chainadapter.Authorization{Prefix: "refund", Timeout: authTimeout, Signature: sig}, nil
}

func (a *Adapter) IsValidRefundAuthorization(ctx context.Context, swap *chainadapter.SwapData, auth *chainadapter.Authorization, preFetched chainadapter.PreFetchData) ([]byte, error) {
	if auth.Timeout <= time.Now().Unix() {
		return nil, chainadapter.NewNonRetryableError("ERR_AUTH_EXPIRED", "refund authorization timed out", nil)
	}
	msg := authMessage(auth.Prefix, swap.CommitHash(), auth.Timeout)
	valid, err := VerifySignature(msg, auth.Signature, swap.Claimer)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidSignature, err.Error(), err)
	}
	if !valid {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidSignature, "refund authorization signature invalid", nil)
	}
	return msg, nil
}

// --- fees ---

// computeUnits per instruction kind; Solana's fee market prices the
// priority fee per compute unit rather than per whole transaction.
const (
	cuInit        = 40_000
	cuInitPayIn   = 60_000
	cuClaimSecret = 30_000
	cuClaimTxData = 120_000 // includes SPV header + Merkle verification
	cuRefund      = 25_000
)

func (a *Adapter) feeForComputeUnits(ctx context.Context, cu uint64, feeRate *big.Int) (*big.Int, error) {
	microLamportsPerCU := feeRate
	if microLamportsPerCU == nil || microLamportsPerCU.Sign() == 0 {
		avg, err := a.rpc.GetRecentPrioritizationFee(ctx)
		if err != nil {
			avg = 0
		}
		microLamportsPerCU = new(big.Int).SetUint64(avg)
	}
	priorityLamports := new(big.Int).Mul(microLamportsPerCU, new(big.Int).SetUint64(cu))
	priorityLamports.Div(priorityLamports, big.NewInt(1_000_000))
	return priorityLamports.Add(priorityLamports, big.NewInt(baseFeeLamports)), nil
}

func (a *Adapter) GetCommitFee(ctx context.Context, swap *chainadapter.SwapData, feeRate *big.Int) (*big.Int, error) {
	if swap.PayIn {
		return a.feeForComputeUnits(ctx, cuInitPayIn, feeRate)
	}
	return a.feeForComputeUnits(ctx, cuInit, feeRate)
}

func (a *Adapter) GetClaimFee(ctx context.Context, swap *chainadapter.SwapData, feeRate *big.Int) (*big.Int, error) {
	if swap.Kind == chainadapter.KindHTLC {
		return a.feeForComputeUnits(ctx, cuClaimSecret, feeRate)
	}
	return a.feeForComputeUnits(ctx, cuClaimTxData, feeRate)
}

func (a *Adapter) GetRefundFee(ctx context.Context, swap *chainadapter.SwapData, feeRate *big.Int) (*big.Int, error) {
	return a.feeForComputeUnits(ctx, cuRefund, feeRate)
}

func (a *Adapter) GetRawCommitFee(ctx context.Context, swap *chainadapter.SwapData, feeRate *big.Int) (*big.Int, error) {
	return a.feeForComputeUnits(ctx, cuInit, feeRate)
}

func (a *Adapter) GetRawClaimFee(ctx context.Context, swap *chainadapter.SwapData, feeRate *big.Int) (*big.Int, error) {
	return a.feeForComputeUnits(ctx, cuClaimSecret, feeRate)
}

func (a *Adapter) GetRawRefundFee(ctx context.Context, swap *chainadapter.SwapData, feeRate *big.Int) (*big.Int, error) {
	return a.feeForComputeUnits(ctx, cuRefund, feeRate)
}

func (a *Adapter) GetInitPayInFeeRate(ctx context.Context) (*big.Int, error) {
	fee, err := a.rpc.GetRecentPrioritizationFee(ctx)
	return new(big.Int).SetUint64(fee), err
}

func (a *Adapter) GetInitFeeRate(ctx context.Context) (*big.Int, error) {
	return a.GetInitPayInFeeRate(ctx)
}

func (a *Adapter) GetClaimFeeRate(ctx context.Context) (*big.Int, error) {
	fee, err := a.rpc.GetRecentPrioritizationFee(ctx)
	return new(big.Int).SetUint64(fee * 2), err
}

func (a *Adapter) GetRefundFeeRate(ctx context.Context) (*big.Int, error) {
	return a.GetInitPayInFeeRate(ctx)
}

// --- swap construction ---

func (a *Adapter) CreateSwapData(kind chainadapter.SwapKind, offerer, claimer, token string, amount *big.Int, paymentHash [32]byte,
	sequence uint64, expiry int64, escrowNonce uint64, confirmations uint32,
	payIn, payOut bool, securityDeposit, claimerBounty *big.Int) (*chainadapter.SwapData, error) {
	if _, err := parsePubkey(offerer); err != nil {
		return nil, err
	}
	if _, err := parsePubkey(claimer); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("solana: amount must be positive")
	}
	if securityDeposit == nil {
		securityDeposit = big.NewInt(0)
	}
	if claimerBounty == nil {
		claimerBounty = big.NewInt(0)
	}
	return &chainadapter.SwapData{
		Kind: kind, Offerer: offerer, Claimer: claimer, Token: token, Amount: amount,
		PaymentHash: paymentHash, Sequence: sequence, Expiry: expiry, Confirmations: confirmations,
		EscrowNonce: escrowNonce, PayIn: payIn, PayOut: payOut,
		SecurityDeposit: securityDeposit, ClaimerBounty: claimerBounty,
	}, nil
}

// --- hashing ---

// HashForOnchain uses sha3-256 rather than Ethereum's Keccak256: Solana
// programs conventionally hash with the `solana_program::hash` syscall
// (plain SHA-256) or, for programs ported from EVM escrow logic, sha3-256
// via a crate like `tiny-keccak`. This adapter follows the latter so the
// same off-chain hashing code path serves both chains modulo the hash
// function swap, matching the escrow program's own choice of primitive.
func (a *Adapter) HashForOnchain(outputScript []byte, amount uint64, nonce uint64) [32]byte {
	var amountLE [8]byte
	binary.LittleEndian.PutUint64(amountLE[:], amount)
	inner := sha3.New256()
	inner.Write(amountLE[:])
	inner.Write(outputScript)
	innerSum := inner.Sum(nil)

	var nonceBE [8]byte
	binary.BigEndian.PutUint64(nonceBE[:], nonce)
	outer := sha3.New256()
	outer.Write(nonceBE[:])
	outer.Write(innerSum)
	var out [32]byte
	copy(out[:], outer.Sum(nil))
	return out
}

// --- tx lifecycle ---

func (a *Adapter) SerializeTx(tx chainadapter.NativeTx) ([]byte, error) {
	solTx, ok := tx.(*SolTx)
	if !ok {
		return nil, fmt.Errorf("solana: not a SolTx")
	}
	return solTx.tx.MarshalBinary()
}

func (a *Adapter) DeserializeTx(raw []byte) (chainadapter.NativeTx, error) {
	tx, err := solanago.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, err
	}
	return &SolTx{chainID: a.chainID, tx: tx}, nil
}

func (a *Adapter) GetTxStatus(ctx context.Context, serialized []byte) (chainadapter.TxStatus, error) {
	tx, err := solanago.TransactionFromDecoder(bin.NewBinDecoder(serialized))
	if err != nil {
		return chainadapter.TxNotFound, err
	}
	if len(tx.Signatures) == 0 {
		return chainadapter.TxNotFound, fmt.Errorf("solana: transaction has no signature")
	}
	status, err := a.rpc.GetSignatureStatus(ctx, tx.Signatures[0].String())
	if err != nil {
		return chainadapter.TxNotFound, err
	}
	if status == nil {
		return chainadapter.TxNotFound, nil
	}
	if status.Err != nil {
		return chainadapter.TxReverted, nil
	}
	switch status.ConfirmationStatus {
	case "processed":
		return chainadapter.TxPending, nil
	default:
		return chainadapter.TxSuccess, nil
	}
}

func (a *Adapter) SendAndConfirm(ctx context.Context, signer chainadapter.Signer, txs []chainadapter.NativeTx, wait bool, abortSignal context.Context, parallel bool, onBeforePublish func(chainadapter.NativeTx) error) ([]*chainadapter.BroadcastReceipt, error) {
	waitCtx := ctx
	if abortSignal != nil {
		waitCtx = abortSignal
	}
	receipts := make([]*chainadapter.BroadcastReceipt, len(txs))
	send := func(i int) error {
		solTx, ok := txs[i].(*SolTx)
		if !ok {
			return fmt.Errorf("solana: not a SolTx")
		}
		if onBeforePublish != nil {
			if err := onBeforePublish(solTx); err != nil {
				return err
			}
		}
		r, err := a.signAndSend(waitCtx, signer, solTx, &chainadapter.SendOptions{WaitForConfirmation: wait})
		if err != nil {
			return err
		}
		receipts[i] = r
		return nil
	}
	if parallel {
		var wg sync.WaitGroup
		errs := make([]error, len(txs))
		for i := range txs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = send(i)
			}(i)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return receipts, err
			}
		}
		return receipts, nil
	}
	for i := range txs {
		if err := send(i); err != nil {
			return receipts, err
		}
	}
	return receipts, nil
}

// OnBeforeTxReplace: Solana has no transaction replacement (a dropped
// transaction is simply resubmitted with a fresh blockhash), so the
// callback registry is retained for interface symmetry but never invoked.
func (a *Adapter) OnBeforeTxReplace(cb func(oldTxID, newTxID string)) (unsubscribe func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := len(a.replaceCallback)
	a.replaceCallback = append(a.replaceCallback, cb)
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if idx < len(a.replaceCallback) {
			a.replaceCallback[idx] = nil
		}
	}
}

// --- events ---

func (a *Adapter) SubscribeEvents(ctx context.Context) (<-chan *chainadapter.Event, error) {
	out := make(chan *chainadapter.Event, 64)
	start, err := a.rpc.GetSlot(ctx)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	if a.lastSeenSlot == 0 {
		a.lastSeenSlot = start
	}
	cursor := a.lastSeenSlot
	a.mu.Unlock()

	go func() {
		defer close(out)
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logs, err := a.rpc.GetLogs(ctx, a.programID, cursor)
				if err != nil {
					continue
				}
				for _, log := range logs {
					msgs, err := a.rpc.GetTransactionLogMessages(ctx, log.Signature)
					if err != nil {
						continue
					}
					for _, event := range decodeProgramLogs(msgs, log.Signature) {
						select {
						case out <- event:
						case <-ctx.Done():
							return
						}
					}
					if log.Slot >= cursor {
						cursor = log.Slot + 1
					}
				}
				a.mu.Lock()
				a.lastSeenSlot = cursor
				a.mu.Unlock()
			}
		}
	}()
	return out, nil
}

// decodeProgramLogs extracts escrow events from a transaction's program log
// lines. The escrow program emits one line per event in the form
// "Program log: event:<name>:<hex-encoded fields>", mirroring how Anchor
// programs that skip CPI event emission fall back to plain msg! logging for
// off-chain indexers to scan.
func decodeProgramLogs(lines []string, signature string) []*chainadapter.Event {
	const prefix = "Program log: event:"
	var events []*chainadapter.Event
	for _, line := range lines {
		if len(line) <= len(prefix) || line[:len(prefix)] != prefix {
			continue
		}
		rest := line[len(prefix):]
		var name, hexPayload string
		for i := 0; i < len(rest); i++ {
			if rest[i] == ':' {
				name, hexPayload = rest[:i], rest[i+1:]
				break
			}
		}
		payload, err := decodeHex(hexPayload)
		if err != nil || len(payload) < 32 {
			continue
		}
		var paymentHash [32]byte
		copy(paymentHash[:], payload[:32])
		evt := &chainadapter.Event{PaymentHash: paymentHash}
		switch name {
		case "Initialize":
			evt.Type = chainadapter.EventInitialize
		case "Claim":
			evt.Type = chainadapter.EventClaim
			if len(payload) > 32 {
				evt.Secret = payload[32:]
			}
		case "Refund":
			evt.Type = chainadapter.EventRefund
		default:
			continue
		}
		events = append(events, evt)
	}
	return events
}

func decodeHex(s string) ([]byte, error) {
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, err := hexNibble(s[2*i])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[2*i+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("solana: invalid hex character %q", c)
	}
}

// --- timeouts ---

func (a *Adapter) ClaimWithSecretTimeout() time.Duration { return 2 * time.Minute }
func (a *Adapter) ClaimWithTxDataTimeout() time.Duration { return 5 * time.Minute }
func (a *Adapter) RefundTimeout() time.Duration          { return 2 * time.Minute }

func zeroIfNil(v *big.Int) uint64 {
	if v == nil {
		return 0
	}
	return v.Uint64()
}

var _ chainadapter.ChainAdapter = (*Adapter)(nil)
