// Package tobtc implements the ToBtc swap handler (§4.5): smart-chain
// token -> BTC on-chain, a PTLC released by presenting proof that a
// Bitcoin transaction paid the claimer's output script. Grounded on the
// teacher's adapter-layer separation of pure construction from signed
// send (src/chainadapter/ethereum/adapter.go), generalized into a full
// quote -> commit -> payout -> claim state machine per the spec.
package tobtc

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcswap/intermediary/pkg/bitcoinrpc"
	"github.com/btcswap/intermediary/pkg/chainadapter"
	"github.com/btcswap/intermediary/pkg/demux"
	"github.com/btcswap/intermediary/pkg/handler/policy"
	"github.com/btcswap/intermediary/pkg/payout"
	"github.com/btcswap/intermediary/pkg/pricing"
	"github.com/btcswap/intermediary/pkg/swap"
	"github.com/btcswap/intermediary/pkg/swaperr"
	"github.com/btcswap/intermediary/pkg/swapstore"
)

// VaultChecker reports whether the intermediary has a reputation record for
// a token on a chain — the sentinel §4.5 step 3 calls "vault initialized".
type VaultChecker interface {
	IsVaultInitialized(ctx context.Context, chainID, token string) (bool, error)
}

// Limits bounds the quote-time request validation (§4.5 step 2).
type Limits struct {
	MinConfirmations   uint32
	MaxConfirmations   uint32
	MaxConfirmTarget   uint32
	MaxOutputScriptLen int
	ActiveChannels     func() int64 // live count, used by the anchor-reserve guard
}

// QuoteRequest is the /payInvoice request body (§6).
type QuoteRequest struct {
	ChainID            string
	Token              string
	PayoutAddress      string // destination Bitcoin address; hashed into the commitment as its output script
	Amount             *big.Int // input-token units (exact-in) or BTC sats (exact-out)
	ExactOut           bool
	Nonce              uint64
	ConfirmationTarget uint32
	Confirmations      uint32
	AuthTimeout        time.Duration
}

// QuoteResponse is returned by PayInvoice on success.
type QuoteResponse struct {
	AmountTokenIn     *big.Int
	SatsPerVByte      int64
	NetworkFeeSats    *big.Int
	SwapFeeSats       *big.Int
	TotalSats         *big.Int
	MinRequiredExpiry int64
	Data              *chainadapter.SwapData
	Authorization     *chainadapter.Authorization
}

// Handler drives one ToBtc-direction chain adapter's swaps end to end:
// quoting, commit processing, the global Bitcoin payout, and the
// confirmation watchdog that claims once the payout has matured.
type Handler struct {
	Log          *zap.Logger
	Adapter      chainadapter.ChainAdapter
	Store        swapstore.Store
	Demux        *demux.Demux
	BitcoinRPC   *bitcoinrpc.Client
	PayoutEngine *payout.Engine
	Oracle       pricing.Oracle
	Vault        VaultChecker
	Signer       chainadapter.Signer
	Synchronizer chainadapter.RelaySynchronizer
	Policy       *policy.Policy
	Fees         pricing.FeeConfig
	Limits       Limits
	ChangeType   payout.ChangeType
	ChangeAddr   string
	Network      *chaincfg.Params

	// payoutQueue serializes all ToBtc payout construction (coin-select ->
	// PSBT -> broadcast) behind one FIFO so two swaps can never pick the
	// same UTXO (§5 "global bitcoin-payout queue").
	payoutQueue chan struct{}
}

// New constructs a Handler with its payout queue ready.
func New(h Handler) *Handler {
	h.payoutQueue = make(chan struct{}, 1)
	h.payoutQueue <- struct{}{}
	return &h
}

func (h *Handler) acquirePayoutQueue(ctx context.Context) error {
	select {
	case <-h.payoutQueue:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) releasePayoutQueue() {
	h.payoutQueue <- struct{}{}
}

// PayInvoice implements §4.5's quote path.
func (h *Handler) PayInvoice(ctx context.Context, req QuoteRequest) (*QuoteResponse, *swaperr.Error) {
	now := time.Now()

	if policy.NonceTooHigh(req.Nonce, now) {
		return nil, swaperr.New(400, swaperr.CodeInvalidNonce, "nonce timestamp too far in the future", nil)
	}
	if req.Confirmations < h.Limits.MinConfirmations || req.Confirmations > h.Limits.MaxConfirmations {
		return nil, swaperr.New(400, swaperr.CodeInvalidConfirmations, "confirmations out of allowed range", nil)
	}
	if req.ConfirmationTarget > h.Limits.MaxConfirmTarget {
		return nil, swaperr.New(400, swaperr.CodeInvalidConfirmations, "confirmation target too high", nil)
	}
	payoutAddr, addrErr := btcutil.DecodeAddress(req.PayoutAddress, h.Network)
	if addrErr != nil {
		return nil, swaperr.New(400, swaperr.CodeInvalidOutputScript, "invalid destination address", nil)
	}
	outputScript, scriptErr := txscript.PayToAddrScript(payoutAddr)
	if scriptErr != nil || len(outputScript) > h.Limits.MaxOutputScriptLen {
		return nil, swaperr.New(400, swaperr.CodeInvalidOutputScript, "invalid destination output script", nil)
	}

	initialized, err := h.Vault.IsVaultInitialized(ctx, req.ChainID, req.Token)
	if err != nil {
		return nil, swaperr.New(500, swaperr.CodeVaultNotInitialized, fmt.Sprintf("vault check failed: %s", err), nil)
	}
	if !initialized {
		return nil, swaperr.VaultNotInitialized()
	}

	feeRate, err := h.BitcoinRPC.EstimateSmartFee(ctx, int(req.ConfirmationTarget))
	if err != nil {
		return nil, swaperr.New(502, swaperr.CodeCoinSelectFailed, fmt.Sprintf("fee estimation failed: %s", err), nil)
	}
	networkFeeRate := pricing.NetworkFee(big.NewInt(feeRate), h.Policy.NetworkFeeMultiplierPPM).Int64()

	utxos, err := h.BitcoinRPC.ListUnspent(ctx, h.ChangeAddr)
	if err != nil {
		return nil, swaperr.New(502, swaperr.CodeCoinSelectFailed, fmt.Sprintf("coin listing failed: %s", err), nil)
	}

	var amountSats *big.Int
	if req.ExactOut {
		amountSats = req.Amount
	} else {
		tokenNetworkFee, oracleErr := h.Oracle.ToToken(ctx, req.Token, big.NewInt(0))
		if oracleErr != nil {
			return nil, swaperr.New(502, 90001, "pricing oracle unavailable", nil)
		}
		amountSats = pricing.InvertExactOut(req.Amount, h.Fees, tokenNetworkFee)
	}

	selection, selErr := payout.SelectCoins(utxos, amountSats.Int64(), networkFeeRate, 2)
	if selErr != nil {
		return nil, swaperr.New(400, swaperr.CodeCoinSelectFailed, selErr.Error(), nil)
	}

	var totalBalance int64
	for _, u := range utxos {
		totalBalance += u.AmountSats
	}
	if err := payout.CheckAnchorReserve(totalBalance, amountSats.Int64()+selection.EstimatedFee,
		h.Policy.OnchainReservedPerChannel, h.Limits.ActiveChannels()); err != nil {
		return nil, swaperr.New(400, swaperr.CodeOutOfBounds, err.Error(), nil)
	}

	networkFeeSats := big.NewInt(selection.EstimatedFee)
	if bErr := pricing.CheckBounds(req.Amount, h.Fees, networkFeeSats); bErr != nil {
		return nil, bErr
	}

	paymentHash := h.Adapter.HashForOnchain(outputScript, amountSats.Uint64(), req.Nonce)
	sequence := randomUint64()

	minRequiredExpiry := h.Policy.ToBtcMinRequiredExpiry(now, req.Confirmations, req.ConfirmationTarget)

	swapFeeToken := new(big.Int).Set(h.Policy.BaseFeeSats)

	data, cErr := h.Adapter.CreateSwapData(chainadapter.KindChainNonced,
		"", "", req.Token, amountSats, paymentHash, sequence, minRequiredExpiry, req.Nonce,
		req.Confirmations, true, false, big.NewInt(0), big.NewInt(0))
	if cErr != nil {
		return nil, swaperr.New(500, swaperr.CodeSwapDataVerification, cErr.Error(), nil)
	}

	authTimeout := now.Add(req.AuthTimeout).Unix()
	auth, signErr := h.Adapter.GetInitSignature(ctx, h.Signer, data, authTimeout, nil, big.NewInt(feeRate))
	if signErr != nil {
		return nil, swaperr.New(500, swaperr.CodeSwapDataVerification, signErr.Error(), nil)
	}

	record := &swap.Record{
		ChainID:      req.ChainID,
		PaymentHash:  paymentHash,
		Sequence:     sequence,
		Direction:    swap.DirectionToBtc,
		State:        StateSaved,
		ContractData: data,
		Fees: swap.Fees{
			SwapFeeBTC:      swapFeeToken,
			SwapFeeToken:    swapFeeToken,
			NetworkFeeSats:  networkFeeSats,
			NetworkFeeToken: networkFeeSats,
			MaxSatsPerVByte: big.NewInt(networkFeeRate),
		},
		Authorization: auth,
		Metadata:      swap.Metadata{QuotedAt: now},
		Payout:        &swap.PayoutInfo{Address: req.PayoutAddress, OutputScript: outputScript},
	}

	if err := h.Store.Set(record.Key(), record); err != nil {
		return nil, swaperr.New(500, swaperr.CodeSwapDataVerification, fmt.Sprintf("persist failed: %s", err), nil)
	}
	h.Demux.Register(record.Key(), h)

	return &QuoteResponse{
		AmountTokenIn:     req.Amount,
		SatsPerVByte:      networkFeeRate,
		NetworkFeeSats:    networkFeeSats,
		SwapFeeSats:       swapFeeToken,
		TotalSats:         new(big.Int).Add(amountSats, networkFeeSats),
		MinRequiredExpiry: minRequiredExpiry,
		Data:              data,
		Authorization:     auth,
	}, nil
}

// OnInitialize implements demux.Handler: the counterparty committed the
// swap on-chain. Transitions Saved -> Committed and kicks off the payout
// under the global payout queue.
func (h *Handler) OnInitialize(ctx context.Context, event *chainadapter.Event) error {
	record, err := h.Store.Get(swap.Key{PaymentHash: event.PaymentHash, Sequence: event.Sequence})
	if err != nil || record == nil {
		return err
	}
	if record.State != StateSaved {
		return nil
	}
	record.State = StateCommitted
	record.Metadata.CommittedAt = time.Now()
	if err := h.Store.Set(record.Key(), record); err != nil {
		return err
	}
	return h.processPayout(ctx, record)
}

// OnClaim implements demux.Handler: the Bitcoin payout tx was accepted by
// the smart-chain claim; the swap record reaches its terminal state.
func (h *Handler) OnClaim(ctx context.Context, event *chainadapter.Event) error {
	key := swap.Key{PaymentHash: event.PaymentHash, Sequence: event.Sequence}
	record, err := h.Store.Get(key)
	if err != nil || record == nil {
		return err
	}
	record.State = StateClaimed
	record.TxIDs.Claim = event.TxID
	record.Metadata.ClaimedAt = time.Now()
	h.Demux.Unregister(key)
	return h.Store.Delete(key)
}

// OnRefund implements demux.Handler: the claimer never produced proof in
// time and the offerer reclaimed the principal.
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

// processPayout implements §4.5 step 2's post-commit processing under the
// per-swap lock and the global payout queue.
func (h *Handler) processPayout(ctx context.Context, record *swap.Record) error {
	if !record.Lock().TryAcquire(h.Adapter.ClaimWithTxDataTimeout()) {
		return nil
	}
	defer record.Lock().Release()

	data := record.ContractData
	if data.Expiry < time.Now().Unix()+int64(h.Policy.MinChainCltv)*int64(h.Policy.BitcoinBlocktime/time.Second) {
		return h.markNonPayable(record, "remaining expiry below required CLTV")
	}

	if err := h.acquirePayoutQueue(ctx); err != nil {
		return err
	}
	defer h.releasePayoutQueue()

	feeRate, err := h.BitcoinRPC.EstimateSmartFee(ctx, 6)
	if err != nil {
		h.Log.Warn("fee estimation failed, will retry next watchdog tick", zap.Error(err))
		return nil
	}

	if feeRate > record.Fees.MaxSatsPerVByte.Int64() {
		return h.markNonPayable(record, "current fee rate exceeds quoted ceiling")
	}

	utxos, err := h.BitcoinRPC.ListUnspent(ctx, h.ChangeAddr)
	if err != nil {
		h.Log.Warn("coin listing failed, will retry next watchdog tick", zap.Error(err))
		return nil
	}

	result, buildErr := h.PayoutEngine.Build(ctx, payout.Request{
		Nonce:            data.EscrowNonce,
		PayoutAddress:    record.Payout.Address,
		PayoutSats:       data.Amount.Int64(),
		ChangeAddress:    h.ChangeAddr,
		AvailableUTXOs:   utxos,
		FeeRateSatsPerVB: feeRate,
		MaxSatsPerVbyte:  record.Fees.MaxSatsPerVByte.Int64(),
		ChangeType:       h.ChangeType,
	})
	if buildErr != nil {
		return h.markNonPayable(record, buildErr.Error())
	}

	record.State = StateBtcSending
	record.TxIDs.BTCPayout = result.TxID
	record.Fees.NetworkFeeSats = big.NewInt(result.RealizedFee)
	if err := h.Store.Set(record.Key(), record); err != nil {
		return err
	}

	txid, err := h.PayoutEngine.Broadcast(ctx, result)
	if err != nil {
		h.Log.Error("payout broadcast failed, will retry at next watchdog tick", zap.Error(err))
		return nil
	}

	record.State = StateBtcSent
	record.TxIDs.BTCPayout = txid
	return h.Store.Set(record.Key(), record)
}

func (h *Handler) markNonPayable(record *swap.Record, reason string) error {
	h.Log.Warn("swap marked non-payable", zap.String("reason", reason))
	record.State = StateNonPayable
	return h.Store.Set(record.Key(), record)
}

// ProcessBtcTxs is the confirmation watchdog (§4.5 "processBtcTxs"):
// poll every BtcSent payout for maturity and claim on the smart chain once
// it has reached the swap's required confirmations.
func (h *Handler) ProcessBtcTxs(ctx context.Context) {
	records, err := h.Store.ListByState(swap.DirectionToBtc, StateBtcSent)
	if err != nil {
		h.Log.Error("list btc-sent swaps failed", zap.Error(err))
		return
	}
	for _, record := range records {
		if err := h.checkConfirmations(ctx, record); err != nil {
			h.Log.Error("confirmation check failed", zap.String("txid", record.TxIDs.BTCPayout), zap.Error(err))
		}
	}
}

// checkConfirmations locates the vout whose (value, scriptPubKey) matches
// (amount, outputScript), fetches the covering relay-stored header and
// Merkle path, and claims with the assembled proof (§4.5 "processBtcTxs").
// ClaimWithTxData invokes the synchronizer transparently if the relay has
// not yet recorded the payout's height.
func (h *Handler) checkConfirmations(ctx context.Context, record *swap.Record) error {
	info, err := h.BitcoinRPC.GetRawTransactionVerbose(ctx, record.TxIDs.BTCPayout)
	if err != nil {
		return err
	}
	if uint32(info.Confirmations) < record.ContractData.Confirmations {
		return nil
	}

	rawTx, err := hex.DecodeString(info.RawHex)
	if err != nil {
		return fmt.Errorf("tobtc: invalid raw payout hex: %w", err)
	}
	var msgTx wire.MsgTx
	if err := msgTx.Deserialize(bytes.NewReader(rawTx)); err != nil {
		return fmt.Errorf("tobtc: failed to parse payout tx: %w", err)
	}
	vout := uint32(len(msgTx.TxOut))
	for i, out := range msgTx.TxOut {
		if out.Value == record.ContractData.Amount.Int64() && bytes.Equal(out.PkScript, record.Payout.OutputScript) {
			vout = uint32(i)
			break
		}
	}
	if int(vout) >= len(msgTx.TxOut) {
		return fmt.Errorf("tobtc: payout vout not found in tx %s", record.TxIDs.BTCPayout)
	}

	txids, err := h.BitcoinRPC.GetBlockTxids(ctx, info.BlockHeight)
	if err != nil {
		return err
	}
	index := uint32(len(txids))
	for i, txid := range txids {
		if txid == record.TxIDs.BTCPayout {
			index = uint32(i)
			break
		}
	}
	if int(index) >= len(txids) {
		return fmt.Errorf("tobtc: payout tx not found in its own block")
	}
	merklePath, err := buildMerkleProof(txids, index)
	if err != nil {
		return err
	}

	header, err := h.BitcoinRPC.HeaderAt(ctx, info.BlockHeight)
	if err != nil {
		return err
	}

	proof := &chainadapter.ClaimProof{
		Height:       info.BlockHeight,
		RawTx:        rawTx,
		Vout:         vout,
		StoredHeader: header.Encode(),
		MerkleProof:  merklePath,
	}

	_, err = h.Adapter.ClaimWithTxData(ctx, h.Signer, record.ContractData, proof, h.Synchronizer, false, &chainadapter.SendOptions{WaitForConfirmation: true})
	return err
}

// ProcessPastSwaps is the periodic reconciliation watchdog: cancels
// authorizations that timed out pre-commit and never went on-chain.
func (h *Handler) ProcessPastSwaps(ctx context.Context) {
	records, err := h.Store.ListByState(swap.DirectionToBtc, StateSaved)
	if err != nil {
		h.Log.Error("list saved swaps failed", zap.Error(err))
		return
	}
	now := time.Now().Unix()
	for _, record := range records {
		if record.Authorization == nil || record.Authorization.Timeout > now {
			continue
		}
		committed, err := h.Adapter.IsCommitted(ctx, record.ContractData)
		if err != nil {
			h.Log.Warn("commit check failed, deferring to next tick", zap.Error(err))
			continue
		}
		if committed {
			continue
		}
		h.Demux.Unregister(record.Key())
		if err := h.Store.Delete(record.Key()); err != nil {
			h.Log.Error("delete expired quote failed", zap.Error(err))
		}
	}
}

func randomUint64() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}

var _ demux.Handler = (*Handler)(nil)
