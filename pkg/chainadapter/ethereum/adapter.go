// Package ethereum implements chainadapter.ChainAdapter against an EVM smart
// chain running the swap escrow contract described by contract.go. It is the
// only package in this tree that speaks Ethereum's account/nonce/gas
// vocabulary; everything above the adapter boundary deals only in
// chainadapter types.
package ethereum

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
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// EthTx wraps an (un)signed EIP-1559 transaction targeting the escrow
// contract. It is the NativeTx every TxsXxx/ClaimXxx method on this adapter
// returns.
type EthTx struct {
	chainID string
	tx      *types.Transaction
}

// ChainID implements chainadapter.NativeTx.
func (t *EthTx) ChainID() string { return t.chainID }

// Adapter implements chainadapter.ChainAdapter for an EVM chain.
type Adapter struct {
	chainID   string
	networkID int64
	contract  common.Address

	rpc     *RPCHelper
	builder *TransactionBuilder
	fee     *FeeEstimator
	metrics metrics.ChainMetrics

	mu              sync.Mutex
	replaceCallback []func(oldTxID, newTxID string)
	lastSeenBlock   uint64
}

// Gas limits per call kind. Conservative, hand-tuned constants; the escrow
// contract's real limits are established off-chain once and do not need
// per-call estimation. TxsDeposit alone calls EstimateGas (falling back to
// 120,000); TxsWithdraw and TxsTransfer use a fixed 90,000.
const (
	gasInit          = 180_000
	gasInitPayIn     = 210_000
	gasClaimSecret   = 110_000
	gasClaimTxData   = 260_000 // includes Merkle verification against the relay
	gasRefund        = 90_000
	gasRefundWithAuth = 100_000
)

// NewAdapter constructs an Ethereum ChainAdapter talking to the escrow
// contract at `contract` over `rpcClient`. metricsRecorder may be nil to
// disable instrumentation.
func NewAdapter(chainID string, networkID int64, contract common.Address, rpcClient rpc.RPCClient, metricsRecorder metrics.ChainMetrics) *Adapter {
	if metricsRecorder != nil {
		rpcClient = rpc.NewMetricsRPCClient(rpcClient, metricsRecorder)
	}
	helper := NewRPCHelper(rpcClient)
	return &Adapter{
		chainID:   chainID,
		networkID: networkID,
		contract:  contract,
		rpc:       helper,
		builder:   NewTransactionBuilder(networkID, contract),
		fee:       NewFeeEstimator(helper),
		metrics:   metricsRecorder,
	}
}

func (a *Adapter) ChainID() string { return a.chainID }

// --- fee-rate resolution ---

func (a *Adapter) resolveFees(ctx context.Context, feeRate *big.Int) (maxFee, maxPriority *big.Int, err error) {
	if feeRate != nil && feeRate.Sign() > 0 {
		priority := new(big.Int).Div(feeRate, big.NewInt(10))
		if priority.Sign() == 0 {
			priority = big.NewInt(1)
		}
		return feeRate, priority, nil
	}
	maxFee, err = a.fee.GasPrice(ctx, feeSpeedNormal)
	if err != nil {
		return nil, nil, err
	}
	maxPriority = big.NewInt(2e9)
	return maxFee, maxPriority, nil
}

func (a *Adapter) buildCall(ctx context.Context, from string, feeRate *big.Int, value *big.Int, gasLimit uint64, calldata []byte) (*EthTx, error) {
	nonce, err := a.rpc.GetTransactionCount(ctx, from)
	if err != nil {
		return nil, err
	}
	maxFee, maxPriority, err := a.resolveFees(ctx, feeRate)
	if err != nil {
		return nil, err
	}
	tx := a.builder.BuildCall(nonce, gasLimit, maxFee, maxPriority, value, calldata)
	return &EthTx{chainID: a.chainID, tx: tx}, nil
}

// --- commitment queries ---

func addressesOf(swap *chainadapter.SwapData) (offerer, claimer, token common.Address, err error) {
	if !common.IsHexAddress(swap.Offerer) {
		return common.Address{}, common.Address{}, common.Address{}, fmt.Errorf("ethereum: invalid offerer address %q", swap.Offerer)
	}
	if !common.IsHexAddress(swap.Claimer) {
		return common.Address{}, common.Address{}, common.Address{}, fmt.Errorf("ethereum: invalid claimer address %q", swap.Claimer)
	}
	token = common.Address{}
	if swap.Token != "" {
		if !common.IsHexAddress(swap.Token) {
			return common.Address{}, common.Address{}, common.Address{}, fmt.Errorf("ethereum: invalid token address %q", swap.Token)
		}
		token = common.HexToAddress(swap.Token)
	}
	return common.HexToAddress(swap.Offerer), common.HexToAddress(swap.Claimer), token, nil
}

func (a *Adapter) fetchCommitment(ctx context.Context, paymentHash [32]byte) (*commitmentView, error) {
	calldata, err := packCommitments(paymentHash)
	if err != nil {
		return nil, err
	}
	raw, err := a.rpc.Call(ctx, a.contract.Hex(), calldata)
	if err != nil {
		return nil, err
	}
	return unpackCommitments(raw)
}

// IsVaultInitialized reports whether the intermediary has a reputation
// record for token on this chain (§4.5 step 3's "vault initialized"
// sentinel): any non-zero success/fail/coop-close counter is sufficient,
// matching the glossary's definition of intermediary reputation.
func (a *Adapter) IsVaultInitialized(ctx context.Context, intermediary, token string) (bool, error) {
	if !common.IsHexAddress(intermediary) || !common.IsHexAddress(token) {
		return false, fmt.Errorf("ethereum: invalid address for reputation lookup")
	}
	calldata, err := packReputation(common.HexToAddress(intermediary), common.HexToAddress(token))
	if err != nil {
		return false, err
	}
	raw, err := a.rpc.Call(ctx, a.contract.Hex(), calldata)
	if err != nil {
		return false, err
	}
	view, err := unpackReputation(raw)
	if err != nil {
		return false, err
	}
	return view.Success.Sign() > 0 || view.Failed.Sign() > 0 || view.CoopClose.Sign() > 0, nil
}

// AvailableBalance reports the intermediary's deposited vault balance for
// token, the guard §4.7 step 1 and the ToBtc/ToBtcLn quote path check
// before committing to pay out.
func (a *Adapter) AvailableBalance(ctx context.Context, intermediary, token string) (*big.Int, error) {
	if !common.IsHexAddress(intermediary) || !common.IsHexAddress(token) {
		return nil, fmt.Errorf("ethereum: invalid address for vault balance lookup")
	}
	calldata, err := packVaultBalance(common.HexToAddress(intermediary), common.HexToAddress(token))
	if err != nil {
		return nil, err
	}
	raw, err := a.rpc.Call(ctx, a.contract.Hex(), calldata)
	if err != nil {
		return nil, err
	}
	return unpackVaultBalance(raw)
}

func (a *Adapter) IsCommitted(ctx context.Context, swap *chainadapter.SwapData) (bool, error) {
	view, err := a.fetchCommitment(ctx, swap.PaymentHash)
	if err != nil {
		return false, err
	}
	return view.Status != onchainNotCommitted, nil
}

func (a *Adapter) GetCommitStatus(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData) (chainadapter.CommitStatus, error) {
	view, err := a.fetchCommitment(ctx, swap.PaymentHash)
	if err != nil {
		return chainadapter.StatusNotCommitted, err
	}
	switch view.Status {
	case onchainNotCommitted:
		return chainadapter.StatusNotCommitted, nil
	case onchainClaimed:
		return chainadapter.StatusPaid, nil
	case onchainRefunded:
		return chainadapter.StatusExpired, nil
	case onchainCommitted:
		if int64(view.Expiry) <= time.Now().Unix() {
			return chainadapter.StatusRefundable, nil
		}
		return chainadapter.StatusCommitted, nil
	default:
		return chainadapter.StatusNotCommitted, fmt.Errorf("ethereum: unknown commitment status %d", view.Status)
	}
}

func (a *Adapter) GetPaymentHashStatus(ctx context.Context, paymentHash [32]byte) (chainadapter.CommitStatus, error) {
	return a.GetCommitStatus(ctx, nil, &chainadapter.SwapData{PaymentHash: paymentHash})
}

func (a *Adapter) GetCommittedData(ctx context.Context, paymentHash [32]byte) (*chainadapter.SwapData, error) {
	view, err := a.fetchCommitment(ctx, paymentHash)
	if err != nil {
		return nil, err
	}
	if view.Status == onchainNotCommitted {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeTxNotFound, "no commitment for payment hash", nil)
	}
	return &chainadapter.SwapData{
		Kind:          chainadapter.SwapKind(view.Kind),
		Offerer:       view.Offerer.Hex(),
		Claimer:       view.Claimer.Hex(),
		Token:         view.Token.Hex(),
		Amount:        view.Amount,
		PaymentHash:   paymentHash,
		Sequence:      view.Sequence,
		Expiry:        int64(view.Expiry),
		EscrowNonce:   view.EscrowNonce,
	}, nil
}

// --- transaction construction (pure) ---

func (a *Adapter) TxsInitPayIn(ctx context.Context, swap *chainadapter.SwapData, auth *chainadapter.Authorization, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	offerer, claimer, token, err := addressesOf(swap)
	if err != nil {
		return nil, err
	}
	calldata, err := packInitializePayIn(initializeArgs{
		PaymentHash: swap.PaymentHash, Offerer: offerer, Claimer: claimer, Token: token,
		Amount: swap.Amount, Sequence: swap.Sequence, Expiry: uint64(swap.Expiry),
		EscrowNonce: swap.EscrowNonce, Kind: uint8(swap.Kind), PayOut: swap.PayOut,
		SecurityDeposit: zeroIfNil(swap.SecurityDeposit), ClaimerBounty: zeroIfNil(swap.ClaimerBounty),
	})
	if err != nil {
		return nil, err
	}
	value := big.NewInt(0)
	if token == (common.Address{}) {
		value = new(big.Int).Set(swap.Amount)
	}
	tx, err := a.buildCall(ctx, swap.Offerer, feeRate, value, gasInitPayIn, calldata)
	if err != nil {
		return nil, err
	}
	return []chainadapter.NativeTx{tx}, nil
}

func (a *Adapter) TxsInit(ctx context.Context, swap *chainadapter.SwapData, auth *chainadapter.Authorization, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	offerer, claimer, token, err := addressesOf(swap)
	if err != nil {
		return nil, err
	}
	var timeout uint64
	var sig []byte
	if auth != nil {
		timeout = uint64(auth.Timeout)
		sig = auth.Signature
	}
	calldata, err := packInitialize(initializeArgs{
		PaymentHash: swap.PaymentHash, Offerer: offerer, Claimer: claimer, Token: token,
		Amount: swap.Amount, Sequence: swap.Sequence, Expiry: uint64(swap.Expiry),
		EscrowNonce: swap.EscrowNonce, Kind: uint8(swap.Kind), PayOut: swap.PayOut,
		SecurityDeposit: zeroIfNil(swap.SecurityDeposit), ClaimerBounty: zeroIfNil(swap.ClaimerBounty),
		AuthTimeout: timeout, Signature: sig,
	})
	if err != nil {
		return nil, err
	}
	tx, err := a.buildCall(ctx, swap.Claimer, feeRate, big.NewInt(0), gasInit, calldata)
	if err != nil {
		return nil, err
	}
	return []chainadapter.NativeTx{tx}, nil
}

func (a *Adapter) TxsClaimWithSecret(ctx context.Context, swap *chainadapter.SwapData, secret []byte, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	var secretArr [32]byte
	copy(secretArr[:], secret)
	calldata, err := packClaimWithSecret(swap.PaymentHash, secretArr)
	if err != nil {
		return nil, err
	}
	tx, err := a.buildCall(ctx, swap.Claimer, feeRate, big.NewInt(0), gasClaimSecret, calldata)
	if err != nil {
		return nil, err
	}
	return []chainadapter.NativeTx{tx}, nil
}

func (a *Adapter) TxsClaimWithTxData(ctx context.Context, swap *chainadapter.SwapData, proof *chainadapter.ClaimProof, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	merkle := make([][32]byte, len(proof.MerkleProof))
	copy(merkle, proof.MerkleProof)
	calldata, err := packClaimWithTxData(swap.PaymentHash, proof.RawTx, proof.Vout, proof.StoredHeader, merkle)
	if err != nil {
		return nil, err
	}
	tx, err := a.buildCall(ctx, swap.Claimer, feeRate, big.NewInt(0), gasClaimTxData, calldata)
	if err != nil {
		return nil, err
	}
	return []chainadapter.NativeTx{tx}, nil
}

func (a *Adapter) TxsRefund(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	calldata, err := packRefund(swap.PaymentHash)
	if err != nil {
		return nil, err
	}
	tx, err := a.buildCall(ctx, signer.GetAddress(), feeRate, big.NewInt(0), gasRefund, calldata)
	if err != nil {
		return nil, err
	}
	return []chainadapter.NativeTx{tx}, nil
}

func (a *Adapter) TxsRefundWithAuthorization(ctx context.Context, swap *chainadapter.SwapData, auth *chainadapter.Authorization, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	calldata, err := packRefundWithAuthorization(swap.PaymentHash, uint64(auth.Timeout), auth.Signature)
	if err != nil {
		return nil, err
	}
	tx, err := a.buildCall(ctx, swap.Offerer, feeRate, big.NewInt(0), gasRefundWithAuth, calldata)
	if err != nil {
		return nil, err
	}
	return []chainadapter.NativeTx{tx}, nil
}

func (a *Adapter) TxsDeposit(ctx context.Context, signer chainadapter.Signer, token string, amount *big.Int, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	tokenAddr := common.Address{}
	value := big.NewInt(0)
	if token == "" {
		value = new(big.Int).Set(amount)
	} else {
		if !common.IsHexAddress(token) {
			return nil, fmt.Errorf("ethereum: invalid token address %q", token)
		}
		tokenAddr = common.HexToAddress(token)
	}
	calldata, err := packDeposit(tokenAddr, amount)
	if err != nil {
		return nil, err
	}
	gasLimit, err := a.rpc.EstimateGas(ctx, signer.GetAddress(), a.contract.Hex(), value, calldata)
	if err != nil {
		gasLimit = 120_000
	}
	tx, err := a.buildCall(ctx, signer.GetAddress(), feeRate, value, gasLimit, calldata)
	if err != nil {
		return nil, err
	}
	return []chainadapter.NativeTx{tx}, nil
}

func (a *Adapter) TxsWithdraw(ctx context.Context, signer chainadapter.Signer, token string, amount *big.Int, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	tokenAddr := common.Address{}
	if token != "" {
		if !common.IsHexAddress(token) {
			return nil, fmt.Errorf("ethereum: invalid token address %q", token)
		}
		tokenAddr = common.HexToAddress(token)
	}
	calldata, err := packWithdraw(tokenAddr, amount)
	if err != nil {
		return nil, err
	}
	tx, err := a.buildCall(ctx, signer.GetAddress(), feeRate, big.NewInt(0), 90_000, calldata)
	if err != nil {
		return nil, err
	}
	return []chainadapter.NativeTx{tx}, nil
}

func (a *Adapter) TxsTransfer(ctx context.Context, signer chainadapter.Signer, token, to string, amount *big.Int, feeRate *big.Int) ([]chainadapter.NativeTx, error) {
	if !common.IsHexAddress(to) {
		return nil, fmt.Errorf("ethereum: invalid recipient address %q", to)
	}
	tokenAddr := common.Address{}
	if token != "" {
		if !common.IsHexAddress(token) {
			return nil, fmt.Errorf("ethereum: invalid token address %q", token)
		}
		tokenAddr = common.HexToAddress(token)
	}
	calldata, err := packTransfer(tokenAddr, common.HexToAddress(to), amount)
	if err != nil {
		return nil, err
	}
	tx, err := a.buildCall(ctx, signer.GetAddress(), feeRate, big.NewInt(0), 90_000, calldata)
	if err != nil {
		return nil, err
	}
	return []chainadapter.NativeTx{tx}, nil
}

// --- signed-and-send wrappers ---

func (a *Adapter) signAndSend(ctx context.Context, signer chainadapter.Signer, tx *EthTx, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error) {
	ethSigner := types.NewLondonSigner(big.NewInt(a.networkID))
	hash := ethSigner.Hash(tx.tx)
	sig, err := signer.Sign(hash.Bytes(), signer.GetAddress())
	if err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_SIGNING_FAILED", err.Error(), err)
	}
	signedTx, err := tx.tx.WithSignature(ethSigner, sig)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_SIGNING_FAILED", err.Error(), err)
	}
	tx.tx = signedTx

	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return nil, err
	}
	txHash, err := a.rpc.SendRawTransaction(ctx, hexutil.Encode(raw))
	if err != nil {
		return nil, err
	}
	receipt := &chainadapter.BroadcastReceipt{TxID: txHash, SubmittedAt: time.Now()}
	if opts != nil && opts.WaitForConfirmation {
		if err := a.waitMined(ctx, txHash); err != nil {
			return receipt, err
		}
	}
	return receipt, nil
}

func (a *Adapter) waitMined(ctx context.Context, txHash string) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r, err := a.rpc.GetTransactionReceipt(ctx, txHash)
			if err != nil {
				continue
			}
			if r != nil {
				return nil
			}
		}
	}
}

func (a *Adapter) Init(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, auth *chainadapter.Authorization, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error) {
	var feeRate *big.Int
	if opts != nil {
		feeRate = opts.FeeRate
	}
	txs, err := a.TxsInit(ctx, swap, auth, feeRate)
	if err != nil {
		return nil, err
	}
	return a.signAndSend(ctx, signer, txs[0].(*EthTx), opts)
}

func (a *Adapter) InitPayIn(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, auth *chainadapter.Authorization, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error) {
	var feeRate *big.Int
	if opts != nil {
		feeRate = opts.FeeRate
	}
	txs, err := a.TxsInitPayIn(ctx, swap, auth, feeRate)
	if err != nil {
		return nil, err
	}
	return a.signAndSend(ctx, signer, txs[0].(*EthTx), opts)
}

func (a *Adapter) ClaimWithSecret(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, secret []byte, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error) {
	var feeRate *big.Int
	if opts != nil {
		feeRate = opts.FeeRate
	}
	txs, err := a.TxsClaimWithSecret(ctx, swap, secret, feeRate)
	if err != nil {
		return nil, err
	}
	return a.signAndSend(ctx, signer, txs[0].(*EthTx), opts)
}

func (a *Adapter) ClaimWithTxData(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, proof *chainadapter.ClaimProof, synchronizer chainadapter.RelaySynchronizer, initAta bool, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error) {
	// initAta is a Solana-only concern (associated token account init); the
	// EVM escrow contract has no analogous step.
	var feeRate *big.Int
	if opts != nil {
		feeRate = opts.FeeRate
	}
	if synchronizer != nil {
		if _, err := synchronizer.SyncToHeight(ctx, proof.Height); err != nil {
			return nil, err
		}
	}
	txs, err := a.TxsClaimWithTxData(ctx, swap, proof, feeRate)
	if err != nil {
		return nil, err
	}
	return a.signAndSend(ctx, signer, txs[0].(*EthTx), opts)
}

func (a *Adapter) Refund(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error) {
	var feeRate *big.Int
	if opts != nil {
		feeRate = opts.FeeRate
	}
	txs, err := a.TxsRefund(ctx, signer, swap, feeRate)
	if err != nil {
		return nil, err
	}
	return a.signAndSend(ctx, signer, txs[0].(*EthTx), opts)
}

func (a *Adapter) RefundWithAuthorization(ctx context.Context, signer chainadapter.Signer, swap *chainadapter.SwapData, auth *chainadapter.Authorization, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error) {
	var feeRate *big.Int
	if opts != nil {
		feeRate = opts.FeeRate
	}
	txs, err := a.TxsRefundWithAuthorization(ctx, swap, auth, feeRate)
	if err != nil {
		return nil, err
	}
	return a.signAndSend(ctx, signer, txs[0].(*EthTx), opts)
}

// --- signatures ---

// authMessage is the commitment every Authorization signs: prefix || commit
// hash || timeout, matching hashForOnchain's big-endian convention for the
// numeric suffix.
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
	valid, err := VerifySignature(crypto.Keccak256(msg), auth.Signature, swap.Offerer)
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
	valid, err := VerifySignature(crypto.Keccak256(msg), auth.Signature, swap.Claimer)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidSignature, err.Error(), err)
	}
	if !valid {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidSignature, "refund authorization signature invalid", nil)
	}
	return msg, nil
}

// --- fees ---

func (a *Adapter) feeForGas(ctx context.Context, gasLimit uint64, feeRate *big.Int) (*big.Int, error) {
	maxFee, _, err := a.resolveFees(ctx, feeRate)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Mul(maxFee, new(big.Int).SetUint64(gasLimit)), nil
}

func (a *Adapter) GetCommitFee(ctx context.Context, swap *chainadapter.SwapData, feeRate *big.Int) (*big.Int, error) {
	if swap.PayIn {
		return a.feeForGas(ctx, gasInitPayIn, feeRate)
	}
	return a.feeForGas(ctx, gasInit, feeRate)
}

func (a *Adapter) GetClaimFee(ctx context.Context, swap *chainadapter.SwapData, feeRate *big.Int) (*big.Int, error) {
	if swap.Kind == chainadapter.KindHTLC {
		return a.feeForGas(ctx, gasClaimSecret, feeRate)
	}
	return a.feeForGas(ctx, gasClaimTxData, feeRate)
}

func (a *Adapter) GetRefundFee(ctx context.Context, swap *chainadapter.SwapData, feeRate *big.Int) (*big.Int, error) {
	return a.feeForGas(ctx, gasRefund, feeRate)
}

func (a *Adapter) GetRawCommitFee(ctx context.Context, swap *chainadapter.SwapData, feeRate *big.Int) (*big.Int, error) {
	return a.feeForGas(ctx, gasInit, feeRate)
}

func (a *Adapter) GetRawClaimFee(ctx context.Context, swap *chainadapter.SwapData, feeRate *big.Int) (*big.Int, error) {
	return a.feeForGas(ctx, gasClaimSecret, feeRate)
}

func (a *Adapter) GetRawRefundFee(ctx context.Context, swap *chainadapter.SwapData, feeRate *big.Int) (*big.Int, error) {
	return a.feeForGas(ctx, gasRefund, feeRate)
}

func (a *Adapter) GetInitPayInFeeRate(ctx context.Context) (*big.Int, error) {
	return a.fee.GasPrice(ctx, feeSpeedNormal)
}

func (a *Adapter) GetInitFeeRate(ctx context.Context) (*big.Int, error) {
	return a.fee.GasPrice(ctx, feeSpeedNormal)
}

func (a *Adapter) GetClaimFeeRate(ctx context.Context) (*big.Int, error) {
	return a.fee.GasPrice(ctx, feeSpeedFast)
}

func (a *Adapter) GetRefundFeeRate(ctx context.Context) (*big.Int, error) {
	return a.fee.GasPrice(ctx, feeSpeedSlow)
}

// --- swap construction ---

func (a *Adapter) CreateSwapData(kind chainadapter.SwapKind, offerer, claimer, token string, amount *big.Int, paymentHash [32]byte,
	sequence uint64, expiry int64, escrowNonce uint64, confirmations uint32,
	payIn, payOut bool, securityDeposit, claimerBounty *big.Int) (*chainadapter.SwapData, error) {
	if !common.IsHexAddress(offerer) || !common.IsHexAddress(claimer) {
		return nil, fmt.Errorf("ethereum: offerer/claimer must be valid addresses")
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("ethereum: amount must be positive")
	}
	return &chainadapter.SwapData{
		Kind: kind, Offerer: offerer, Claimer: claimer, Token: token, Amount: amount,
		PaymentHash: paymentHash, Sequence: sequence, Expiry: expiry, Confirmations: confirmations,
		EscrowNonce: escrowNonce, PayIn: payIn, PayOut: payOut,
		SecurityDeposit: zeroIfNil(securityDeposit), ClaimerBounty: zeroIfNil(claimerBounty),
	}, nil
}

// --- hashing ---

// HashForOnchain matches the escrow contract's keccak256-based commitment:
// H(nonce_8BE || H(amount_8LE || outputScript)). For an EVM chain outputScript
// is the claimer's 20-byte address (there is no Bitcoin-style scriptPubKey on
// this leg); ToBtc's own payout script lives entirely on the Bitcoin side.
func (a *Adapter) HashForOnchain(outputScript []byte, amount uint64, nonce uint64) [32]byte {
	var amountLE [8]byte
	binary.LittleEndian.PutUint64(amountLE[:], amount)
	inner := sha3.NewLegacyKeccak256()
	inner.Write(amountLE[:])
	inner.Write(outputScript)
	innerSum := inner.Sum(nil)

	var nonceBE [8]byte
	binary.BigEndian.PutUint64(nonceBE[:], nonce)
	outer := sha3.NewLegacyKeccak256()
	outer.Write(nonceBE[:])
	outer.Write(innerSum)
	var out [32]byte
	copy(out[:], outer.Sum(nil))
	return out
}

// --- tx lifecycle ---

func (a *Adapter) SerializeTx(tx chainadapter.NativeTx) ([]byte, error) {
	ethTx, ok := tx.(*EthTx)
	if !ok {
		return nil, fmt.Errorf("ethereum: not an EthTx")
	}
	return ethTx.tx.MarshalBinary()
}

func (a *Adapter) DeserializeTx(raw []byte) (chainadapter.NativeTx, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return &EthTx{chainID: a.chainID, tx: tx}, nil
}

func (a *Adapter) GetTxStatus(ctx context.Context, serialized []byte) (chainadapter.TxStatus, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(serialized); err != nil {
		return chainadapter.TxNotFound, err
	}
	receipt, err := a.rpc.GetTransactionReceipt(ctx, tx.Hash().Hex())
	if err != nil {
		return chainadapter.TxNotFound, err
	}
	if receipt == nil {
		if _, err := a.rpc.GetTransactionByHash(ctx, tx.Hash().Hex()); err == nil {
			return chainadapter.TxPending, nil
		}
		return chainadapter.TxNotFound, nil
	}
	if receipt.Status == "0x0" {
		return chainadapter.TxReverted, nil
	}
	return chainadapter.TxSuccess, nil
}

func (a *Adapter) SendAndConfirm(ctx context.Context, signer chainadapter.Signer, txs []chainadapter.NativeTx, wait bool, abortSignal context.Context, parallel bool, onBeforePublish func(chainadapter.NativeTx) error) ([]*chainadapter.BroadcastReceipt, error) {
	waitCtx := ctx
	if abortSignal != nil {
		waitCtx = abortSignal
	}
	receipts := make([]*chainadapter.BroadcastReceipt, len(txs))
	send := func(i int) error {
		ethTx, ok := txs[i].(*EthTx)
		if !ok {
			return fmt.Errorf("ethereum: not an EthTx")
		}
		if onBeforePublish != nil {
			if err := onBeforePublish(ethTx); err != nil {
				return err
			}
		}
		r, err := a.signAndSend(waitCtx, signer, ethTx, &chainadapter.SendOptions{WaitForConfirmation: wait})
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

// OnBeforeTxReplace registers a callback invoked when a broadcast transaction
// is replaced by a fee bump. Ethereum has no RBF-style replacement (only
// same-nonce overwrite, which this adapter never performs), so the callback
// is retained but never invoked; unsubscribe removes it from the registry.
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
	start, err := a.rpc.GetBlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	if a.lastSeenBlock == 0 {
		a.lastSeenBlock = start
	}
	from := a.lastSeenBlock
	a.mu.Unlock()

	go func() {
		defer close(out)
		ticker := time.NewTicker(4 * time.Second)
		defer ticker.Stop()
		cursor := from
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logs, err := a.rpc.GetLogs(ctx, a.contract.Hex(), cursor, nil)
				if err != nil {
					continue
				}
				for _, log := range logs {
					event, err := a.decodeLog(log)
					if err != nil || event == nil {
						continue
					}
					select {
					case out <- event:
					case <-ctx.Done():
						return
					}
				}
				head, err := a.rpc.GetBlockNumber(ctx)
				if err == nil && head > cursor {
					cursor = head + 1
					a.mu.Lock()
					a.lastSeenBlock = cursor
					a.mu.Unlock()
				}
			}
		}
	}()
	return out, nil
}

func (a *Adapter) decodeLog(log RawLog) (*chainadapter.Event, error) {
	if len(log.Topics) == 0 {
		return nil, nil
	}
	topic := common.HexToHash(log.Topics[0])
	name := eventTopicName(topic)
	if name == "" || len(log.Topics) < 2 {
		return nil, nil
	}
	var paymentHash [32]byte
	copy(paymentHash[:], common.HexToHash(log.Topics[1]).Bytes())

	event := &chainadapter.Event{PaymentHash: paymentHash, TxID: log.TxHash}
	switch name {
	case "Initialize":
		event.Type = chainadapter.EventInitialize
	case "Claim":
		event.Type = chainadapter.EventClaim
		data, err := hexutil.Decode(log.Data)
		if err == nil && len(data) >= 32 {
			event.Secret = data[:32]
		}
	case "Refund":
		event.Type = chainadapter.EventRefund
	default:
		return nil, nil
	}
	return event, nil
}

// --- timeouts ---

func (a *Adapter) ClaimWithSecretTimeout() time.Duration { return 2 * time.Minute }
func (a *Adapter) ClaimWithTxDataTimeout() time.Duration { return 5 * time.Minute }
func (a *Adapter) RefundTimeout() time.Duration          { return 2 * time.Minute }

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

var _ chainadapter.ChainAdapter = (*Adapter)(nil)
