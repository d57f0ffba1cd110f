// Package frombtc implements the FromBtc swap handler (§4.8): BTC on-chain
// payment -> smart-chain tokens. Symmetric to pkg/handler/frombtcln, but the
// atomicity primitive is a watchtower-verifiable Merkle proof of Bitcoin
// payment through the BTC relay (pkg/spv, pkg/relaysync) rather than a
// Lightning HODL invoice/preimage.
package frombtc

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"

	"github.com/btcswap/intermediary/pkg/bitcoinrpc"
	"github.com/btcswap/intermediary/pkg/chainadapter"
	"github.com/btcswap/intermediary/pkg/demux"
	"github.com/btcswap/intermediary/pkg/handler/policy"
	"github.com/btcswap/intermediary/pkg/pricing"
	"github.com/btcswap/intermediary/pkg/swap"
	"github.com/btcswap/intermediary/pkg/swaperr"
	"github.com/btcswap/intermediary/pkg/swapstore"
)

// VaultBalance mirrors pkg/handler/frombtcln.VaultBalance.
type VaultBalance interface {
	AvailableBalance(ctx context.Context, chainID, token string) (*big.Int, error)
}

// Limits bounds quote-time request validation.
type Limits struct {
	MinConfirmations uint32
	MaxConfirmations uint32
	QuoteExpiry      time.Duration
	PollInterval     time.Duration
}

// CreateSwapRequest is the /createSwap request body (§4.8).
type CreateSwapRequest struct {
	ChainID       string
	Token         string
	AmountSats    *big.Int
	Confirmations uint32
	Claimer       string // smart-chain recipient address
}

// CreateSwapResponse is returned by CreateSwap on success.
type CreateSwapResponse struct {
	DepositAddress string
	AmountSats     *big.Int
	SwapFeeSats    *big.Int
	PaymentHash    [32]byte
}

// Handler drives one FromBtc-direction chain adapter's swaps: deposit
// quoting, watching the shared deposit address for the user's BTC payment,
// the intermediary's own on-chain lock (Init), and the confirmation
// watchdog that assembles and submits the Merkle claim proof once the
// deposit has matured.
type Handler struct {
	Log            *zap.Logger
	Adapter        chainadapter.ChainAdapter
	Store          swapstore.Store
	Demux          *demux.Demux
	BitcoinRPC     *bitcoinrpc.Client
	Vault          VaultBalance
	Oracle         pricing.Oracle
	Signer         chainadapter.Signer
	Synchronizer   chainadapter.RelaySynchronizer
	Policy         *policy.Policy
	Fees           pricing.FeeConfig
	Limits         Limits
	DepositAddress string
	Network        *chaincfg.Params
}

// txoHash implements §4.8's commitment hash: H(amount ∥ outputScript). It
// intentionally omits the nonce layer ToBtc's HashForOnchain adds, since a
// FromBtc commitment is identified by the deposit output alone.
func txoHash(amountSats uint64, outputScript []byte) [32]byte {
	var amountLE [8]byte
	for i := 0; i < 8; i++ {
		amountLE[i] = byte(amountSats >> (8 * i))
	}
	buf := append(append([]byte{}, amountLE[:]...), outputScript...)
	return chainhash.HashH(buf)
}

// CreateSwap implements §4.8's quote path.
func (h *Handler) CreateSwap(ctx context.Context, req CreateSwapRequest) (*CreateSwapResponse, *swaperr.Error) {
	if req.Confirmations < h.Limits.MinConfirmations || req.Confirmations > h.Limits.MaxConfirmations {
		return nil, swaperr.New(400, swaperr.CodeInvalidConfirmations, "confirmations out of allowed range", nil)
	}

	tokenValue, oracleErr := h.Oracle.ToToken(ctx, req.Token, req.AmountSats)
	if oracleErr != nil {
		return nil, swaperr.New(502, 90001, "pricing oracle unavailable", nil)
	}
	balance, err := h.Vault.AvailableBalance(ctx, req.ChainID, req.Token)
	if err != nil {
		return nil, swaperr.New(502, swaperr.CodeVaultNotInitialized, fmt.Sprintf("vault balance check failed: %s", err), nil)
	}
	if balance.Cmp(tokenValue) < 0 {
		return nil, swaperr.VaultNotInitialized()
	}

	depositAddr, addrErr := btcutil.DecodeAddress(h.DepositAddress, h.Network)
	if addrErr != nil {
		return nil, swaperr.New(500, swaperr.CodeInvalidOutputScript, "invalid configured deposit address", nil)
	}
	outputScript, scriptErr := txscript.PayToAddrScript(depositAddr)
	if scriptErr != nil {
		return nil, swaperr.New(500, swaperr.CodeInvalidOutputScript, scriptErr.Error(), nil)
	}

	paymentHash := txoHash(req.AmountSats.Uint64(), outputScript)
	swapFee := new(big.Int).Set(h.Policy.BaseFeeSats)

	record := &swap.Record{
		ChainID:     req.ChainID,
		PaymentHash: paymentHash,
		Sequence:    0,
		Direction:   swap.DirectionFromBtc,
		State:       StateCreated,
		Fees: swap.Fees{
			SwapFeeBTC:   swapFee,
			SwapFeeToken: swapFee,
		},
		Metadata: swap.Metadata{QuotedAt: time.Now()},
		Payout:   &swap.PayoutInfo{Address: h.DepositAddress, OutputScript: outputScript},
	}
	record.ContractData = &chainadapter.SwapData{
		Kind:          chainadapter.KindChain,
		Claimer:       req.Claimer,
		Token:         req.Token,
		Amount:        tokenValue,
		PaymentHash:   paymentHash,
		Confirmations: req.Confirmations,
		PayIn:         false,
		PayOut:        true,
	}

	if err := h.Store.Set(record.Key(), record); err != nil {
		return nil, swaperr.New(500, swaperr.CodeSwapDataVerification, fmt.Sprintf("persist failed: %s", err), nil)
	}
	h.Demux.Register(record.Key(), h)

	return &CreateSwapResponse{
		DepositAddress: h.DepositAddress,
		AmountSats:     req.AmountSats,
		SwapFeeSats:    swapFee,
		PaymentHash:    paymentHash,
	}, nil
}

// PollDeposits is the periodic watcher that replaces an event push for a
// payment the smart chain cannot see by itself: for every Created swap,
// check whether a UTXO matching its quoted amount has appeared at the
// shared deposit address, and if so submit the intermediary's own
// smart-chain Init (§4.8's token lock).
func (h *Handler) PollDeposits(ctx context.Context) {
	records, err := h.Store.ListByState(swap.DirectionFromBtc, StateCreated)
	if err != nil {
		h.Log.Error("list created swaps failed", zap.Error(err))
		return
	}
	if len(records) == 0 {
		return
	}

	utxos, err := h.BitcoinRPC.ListUnspent(ctx, h.DepositAddress)
	if err != nil {
		h.Log.Warn("deposit address listing failed, will retry next tick", zap.Error(err))
		return
	}

	for _, record := range records {
		for _, u := range utxos {
			if uint64(u.AmountSats) != record.ContractData.Amount.Uint64() {
				continue
			}
			if err := h.paymentReceived(ctx, record, u.TxID, u.Vout); err != nil {
				h.Log.Error("paymentReceived failed", zap.String("txid", u.TxID), zap.Error(err))
			}
			break
		}
	}
}

func (h *Handler) paymentReceived(ctx context.Context, record *swap.Record, txid string, vout uint32) error {
	if record.State != StateCreated {
		return nil
	}
	record.TxIDs.Init = txid
	record.DepositVout = vout
	record.Metadata.CommittedAt = time.Now()
	record.State = StateReceived
	if err := h.Store.Set(record.Key(), record); err != nil {
		return err
	}

	authTimeout := time.Now().Add(h.Policy.GracePeriod).Unix()
	auth, signErr := h.Adapter.GetInitSignature(ctx, h.Signer, record.ContractData, authTimeout, nil, nil)
	if signErr != nil {
		return signErr
	}
	record.Authorization = auth

	_, err := h.Adapter.Init(ctx, h.Signer, record.ContractData, auth, &chainadapter.SendOptions{WaitForConfirmation: true})
	if err != nil {
		return err
	}
	return h.Store.Set(record.Key(), record)
}

// OnInitialize implements demux.Handler: the intermediary's own Init tx
// confirmed. Transitions Received -> Committed.
func (h *Handler) OnInitialize(ctx context.Context, event *chainadapter.Event) error {
	record, err := h.Store.Get(swap.Key{PaymentHash: event.PaymentHash, Sequence: event.Sequence})
	if err != nil || record == nil {
		return err
	}
	if record.State != StateReceived {
		return nil
	}
	record.State = StateCommitted
	return h.Store.Set(record.Key(), record)
}

// OnClaim implements demux.Handler: a watchtower's claim proof was accepted
// on the smart chain and the swap reached its terminal state.
func (h *Handler) OnClaim(ctx context.Context, event *chainadapter.Event) error {
	key := swap.Key{PaymentHash: event.PaymentHash, Sequence: event.Sequence}
	record, err := h.Store.Get(key)
	if err != nil || record == nil {
		return err
	}
	record.State = StateSettled
	record.TxIDs.Claim = event.TxID
	record.Metadata.ClaimedAt = time.Now()
	h.Demux.Unregister(key)
	return h.Store.Delete(key)
}

// OnRefund implements demux.Handler: the claim window passed unclaimed and
// the intermediary reclaimed its own locked principal.
func (h *Handler) OnRefund(ctx context.Context, event *chainadapter.Event) error {
	key := swap.Key{PaymentHash: event.PaymentHash, Sequence: event.Sequence}
	record, err := h.Store.Get(key)
	if err != nil || record == nil {
		return err
	}
	record.State = StateRefunded
	record.TxIDs.Refund = event.TxID
	h.Demux.Unregister(key)
	return h.Store.Delete(key)
}

// ProcessBtcTxs is the confirmation + claim watchdog (§4.8): once a
// Committed deposit reaches its quoted confirmation count, assemble the
// Merkle claim proof and submit it (any watchtower may do this; this
// handler does it eagerly so the intermediary's own tokens are not left
// idle).
func (h *Handler) ProcessBtcTxs(ctx context.Context) {
	records, err := h.Store.ListByState(swap.DirectionFromBtc, StateCommitted)
	if err != nil {
		h.Log.Error("list committed swaps failed", zap.Error(err))
		return
	}
	for _, record := range records {
		if err := h.tryClaim(ctx, record); err != nil {
			h.Log.Error("claim attempt failed", zap.String("txid", record.TxIDs.Init), zap.Error(err))
		}
	}
}

func (h *Handler) tryClaim(ctx context.Context, record *swap.Record) error {
	info, err := h.BitcoinRPC.GetRawTransactionVerbose(ctx, record.TxIDs.Init)
	if err != nil {
		return err
	}
	if uint32(info.Confirmations) < record.ContractData.Confirmations {
		return nil
	}

	txids, err := h.BitcoinRPC.GetBlockTxids(ctx, info.BlockHeight)
	if err != nil {
		return err
	}
	var index uint32 = uint32(len(txids))
	for i, txid := range txids {
		if txid == record.TxIDs.Init {
			index = uint32(i)
			break
		}
	}
	if int(index) >= len(txids) {
		return fmt.Errorf("frombtc: deposit tx not found in its own block")
	}

	merklePath, err := buildMerkleProof(txids, index)
	if err != nil {
		return err
	}

	header, err := h.BitcoinRPC.HeaderAt(ctx, info.BlockHeight)
	if err != nil {
		return err
	}
	rawTx, err := hexDecodeOrErr(info.RawHex)
	if err != nil {
		return err
	}

	proof := &chainadapter.ClaimProof{
		Height:       info.BlockHeight,
		RawTx:        rawTx,
		Vout:         record.DepositVout,
		StoredHeader: header.Encode(),
		MerkleProof:  merklePath,
	}

	_, err = h.Adapter.ClaimWithTxData(ctx, h.Signer, record.ContractData, proof, h.Synchronizer, false, &chainadapter.SendOptions{WaitForConfirmation: true})
	return err
}

func hexDecodeOrErr(s string) ([]byte, error) {
	b := make([]byte, len(s)/2)
	for i := range b {
		var v byte
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &v); err != nil {
			return nil, err
		}
		b[i] = v
	}
	return b, nil
}

// ProcessPastSwaps is the periodic reconciliation watchdog: deletes quoted
// deposit addresses that were never paid within the quote's expiry window.
func (h *Handler) ProcessPastSwaps(ctx context.Context) {
	records, err := h.Store.ListByState(swap.DirectionFromBtc, StateCreated)
	if err != nil {
		h.Log.Error("list created swaps failed", zap.Error(err))
		return
	}
	cutoff := time.Now().Add(-h.Limits.QuoteExpiry)
	for _, record := range records {
		if record.Metadata.QuotedAt.After(cutoff) {
			continue
		}
		h.Demux.Unregister(record.Key())
		if err := h.Store.Delete(record.Key()); err != nil {
			h.Log.Error("delete expired quote failed", zap.Error(err))
		}
	}
}

var _ demux.Handler = (*Handler)(nil)
