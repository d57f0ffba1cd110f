// Package tobtcln implements the ToBtcLn swap handler (§4.6): smart-chain
// token -> Lightning payment, an HTLC released by the payment preimage.
// Symmetric to pkg/handler/tobtc but the "bitcoin payout" step is a
// Lightning payment instead of a Bitcoin UTXO spend, and claim uses the
// preimage directly rather than a Bitcoin-transaction proof.
package tobtcln

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/btcswap/intermediary/pkg/chainadapter"
	"github.com/btcswap/intermediary/pkg/demux"
	"github.com/btcswap/intermediary/pkg/handler/policy"
	"github.com/btcswap/intermediary/pkg/lightning"
	"github.com/btcswap/intermediary/pkg/pricing"
	"github.com/btcswap/intermediary/pkg/swap"
	"github.com/btcswap/intermediary/pkg/swaperr"
	"github.com/btcswap/intermediary/pkg/swapstore"
)

// VaultChecker mirrors pkg/handler/tobtc.VaultChecker.
type VaultChecker interface {
	IsVaultInitialized(ctx context.Context, chainID, token string) (bool, error)
}

// Limits bounds the quote-time request validation (§4.6).
type Limits struct {
	MaxFeePPM    int64 // routing-fee ceiling expressed as PPM of the invoice amount
	MinFeeSats   int64 // floor on the routing-fee budget for tiny payments
	InvoiceDecodeTimeout time.Duration
}

// QuoteRequest is the /payInvoice request body for the ToBtcLn direction.
type QuoteRequest struct {
	ChainID        string
	Token          string
	PaymentRequest string // BOLT11 invoice; its payment hash becomes the swap's paymentHash
	PaymentHash    [32]byte
	AmountSats     *big.Int // from the decoded invoice, or the caller-supplied amount for amountless invoices
	Exact          *big.Int // token amount the claimer pays in (exact-in)
	AuthTimeout    time.Duration
}

// QuoteResponse is returned by PayInvoice on success.
type QuoteResponse struct {
	AmountTokenIn *big.Int
	RoutingFeeBudgetSats *big.Int
	SwapFeeSats   *big.Int
	MinRequiredExpiry int64
	Data          *chainadapter.SwapData
	Authorization *chainadapter.Authorization
}

// Handler drives one ToBtcLn-direction chain adapter's swaps: quoting,
// commit processing (pay the Lightning invoice), and the claim once the
// payment's preimage is known.
type Handler struct {
	Log          *zap.Logger
	Adapter      chainadapter.ChainAdapter
	Store        swapstore.Store
	Demux        *demux.Demux
	Payer        lightning.Payer
	Oracle       pricing.Oracle
	Vault        VaultChecker
	Signer       chainadapter.Signer
	Policy       *policy.Policy
	Fees         pricing.FeeConfig
	Limits       Limits
}

// PayInvoice implements §4.6's quote path: the smart-chain escrow amount is
// priced off the invoice's sat amount, and an Authorization is pre-signed
// for the claimer's commit exactly as in §4.5.
func (h *Handler) PayInvoice(ctx context.Context, req QuoteRequest) (*QuoteResponse, *swaperr.Error) {
	now := time.Now()

	initialized, err := h.Vault.IsVaultInitialized(ctx, req.ChainID, req.Token)
	if err != nil {
		return nil, swaperr.New(500, swaperr.CodeVaultNotInitialized, fmt.Sprintf("vault check failed: %s", err), nil)
	}
	if !initialized {
		return nil, swaperr.VaultNotInitialized()
	}

	routingFeeBudget := new(big.Int).Div(new(big.Int).Mul(req.AmountSats, big.NewInt(h.Limits.MaxFeePPM)), big.NewInt(1_000_000))
	if routingFeeBudget.Int64() < h.Limits.MinFeeSats {
		routingFeeBudget = big.NewInt(h.Limits.MinFeeSats)
	}

	var amountTokenIn *big.Int
	if req.Exact != nil {
		amountTokenIn = req.Exact
	} else {
		tokenAmount, oracleErr := h.Oracle.ToToken(ctx, req.Token, new(big.Int).Add(req.AmountSats, routingFeeBudget))
		if oracleErr != nil {
			return nil, swaperr.New(502, 90001, "pricing oracle unavailable", nil)
		}
		amountTokenIn = tokenAmount
	}

	if bErr := pricing.CheckBounds(amountTokenIn, h.Fees, routingFeeBudget); bErr != nil {
		return nil, bErr
	}

	minRequiredExpiry := now.Add(h.Policy.GracePeriod).Unix()
	swapFeeToken := new(big.Int).Set(h.Policy.BaseFeeSats)

	data, cErr := h.Adapter.CreateSwapData(chainadapter.KindHTLC,
		"", "", req.Token, amountTokenIn, req.PaymentHash, 0, minRequiredExpiry, 0,
		0, true, false, big.NewInt(0), big.NewInt(0))
	if cErr != nil {
		return nil, swaperr.New(500, swaperr.CodeSwapDataVerification, cErr.Error(), nil)
	}

	authTimeout := now.Add(req.AuthTimeout).Unix()
	auth, signErr := h.Adapter.GetInitSignature(ctx, h.Signer, data, authTimeout, nil, nil)
	if signErr != nil {
		return nil, swaperr.New(500, swaperr.CodeSwapDataVerification, signErr.Error(), nil)
	}

	record := &swap.Record{
		ChainID:      req.ChainID,
		PaymentHash:  req.PaymentHash,
		Sequence:     0,
		Direction:    swap.DirectionToBtcLn,
		State:        StateSaved,
		ContractData: data,
		Fees: swap.Fees{
			SwapFeeBTC:      swapFeeToken,
			SwapFeeToken:    swapFeeToken,
			NetworkFeeSats:  routingFeeBudget,
			NetworkFeeToken: routingFeeBudget,
		},
		Authorization: auth,
		Metadata:      swap.Metadata{QuotedAt: now},
	}
	record.TxIDs.Init = req.PaymentRequest // breadcrumb only; never re-parsed for correctness

	if err := h.Store.Set(record.Key(), record); err != nil {
		return nil, swaperr.New(500, swaperr.CodeSwapDataVerification, fmt.Sprintf("persist failed: %s", err), nil)
	}
	h.Demux.Register(record.Key(), h)

	return &QuoteResponse{
		AmountTokenIn:        amountTokenIn,
		RoutingFeeBudgetSats: routingFeeBudget,
		SwapFeeSats:          swapFeeToken,
		MinRequiredExpiry:    minRequiredExpiry,
		Data:                 data,
		Authorization:        auth,
	}, nil
}

// OnInitialize implements demux.Handler: the claimer committed the swap
// on-chain. Transitions Saved -> Committed and attempts the Lightning
// payment under the record's per-swap lock.
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
	return h.processPayment(ctx, record)
}

// OnClaim implements demux.Handler: the claimer presented the preimage on
// the smart chain (normally this handler's own claim, but the event path is
// symmetric regardless of who submitted it).
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

// OnRefund implements demux.Handler: the Lightning payment never settled
// before expiry and the offerer reclaimed the principal.
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

// processPayment implements §4.6's post-commit processing: pay the
// Lightning invoice, and on success claim immediately with the preimage it
// returns rather than waiting for a separate settlement event.
func (h *Handler) processPayment(ctx context.Context, record *swap.Record) error {
	if !record.Lock().TryAcquire(h.Adapter.ClaimWithSecretTimeout()) {
		return nil
	}
	defer record.Lock().Release()

	data := record.ContractData
	if data.Expiry < time.Now().Unix()+int64(h.Policy.MinChainCltv)*int64(h.Policy.BitcoinBlocktime/time.Second) {
		return h.markCanceled(record, "remaining expiry below required CLTV")
	}

	record.State = StatePaying
	if err := h.Store.Set(record.Key(), record); err != nil {
		return err
	}

	outcome, err := h.Payer.PayInvoice(ctx, record.TxIDs.Init, record.Fees.NetworkFeeSats.Int64(), h.Adapter.ClaimWithSecretTimeout())
	if err != nil {
		h.Log.Warn("lightning payment attempt failed, will retry next watchdog tick", zap.Error(err))
		record.State = StateCommitted
		return h.Store.Set(record.Key(), record)
	}
	if !outcome.Succeeded {
		return h.markCanceled(record, fmt.Sprintf("lightning payment failed: %s", outcome.FailureReason))
	}

	record.State = StatePaid
	if err := h.Store.Set(record.Key(), record); err != nil {
		return err
	}

	_, err = h.Adapter.ClaimWithSecret(ctx, h.Signer, data, outcome.Preimage[:], &chainadapter.SendOptions{WaitForConfirmation: true})
	return err
}

func (h *Handler) markCanceled(record *swap.Record, reason string) error {
	h.Log.Warn("swap canceled", zap.String("reason", reason))
	record.State = StateCanceled
	return h.Store.Set(record.Key(), record)
}

// ProcessPastSwaps is the periodic reconciliation watchdog, mirroring
// pkg/handler/tobtc: cancels authorizations that timed out pre-commit.
func (h *Handler) ProcessPastSwaps(ctx context.Context) {
	records, err := h.Store.ListByState(swap.DirectionToBtcLn, StateSaved)
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

var _ demux.Handler = (*Handler)(nil)
