// Package frombtcln implements the FromBtcLn swap handler (§4.7): Lightning
// payment -> smart-chain tokens. The payer's HTLC is accepted into a HODL
// invoice but not settled until the intermediary has claimed on the smart
// chain, which is what makes the swap atomic: the preimage that unlocks
// the payer's Lightning funds is the same preimage the intermediary reveals
// claiming on-chain.
package frombtcln

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

// LiquidityChecker reports the sum of remote_balance across active channels,
// the inbound-liquidity guard §4.7 step 1 checks before issuing an invoice.
type LiquidityChecker interface {
	InboundLiquiditySats(ctx context.Context) (int64, error)
}

// BlockHeightSource reports the Bitcoin chain tip, used by htlcReceived to
// check the held HTLC's remaining CLTV against minCltv (§4.7 step 2).
type BlockHeightSource interface {
	TipHeight(ctx context.Context) (uint32, error)
}

// VaultBalance reports the intermediary's available smart-chain balance for
// a token, the guard §4.7 step 1 checks before committing to pay out.
type VaultBalance interface {
	AvailableBalance(ctx context.Context, chainID, token string) (*big.Int, error)
}

// Limits bounds quote-time request validation.
type Limits struct {
	MaxInvoiceExpiry time.Duration
	CltvDeltaMargin  uint32 // added on top of Policy.MinChainCltv for AddHoldInvoice's cltv_delta
}

// CreateInvoiceRequest is the /createInvoice request body (§4.7 step 1).
type CreateInvoiceRequest struct {
	ChainID        string
	Token          string
	AmountSats     *big.Int
	RecipientAddress string // used as the invoice memo and stored as the swap's Claimer
}

// CreateInvoiceResponse is returned by CreateInvoice on success.
type CreateInvoiceResponse struct {
	PaymentRequest  string
	SecurityDeposit *big.Int
	PaymentHash     [32]byte
}

// Handler drives one FromBtcLn-direction chain adapter's swaps: HODL invoice
// issuance, htlcReceived processing, commit/claim event handling, and the
// settle-on-claim / cancel-on-timeout paths.
type Handler struct {
	Log        *zap.Logger
	Adapter    chainadapter.ChainAdapter
	Store      swapstore.Store
	Demux      *demux.Demux
	Lightning  lightning.Client
	Liquidity  LiquidityChecker
	Vault      VaultBalance
	Oracle     pricing.Oracle
	Signer     chainadapter.Signer
	BlockTip   BlockHeightSource
	Policy     *policy.Policy
	Fees       pricing.FeeConfig
	Limits     Limits
}

// CreateInvoice implements §4.7 step 1.
func (h *Handler) CreateInvoice(ctx context.Context, req CreateInvoiceRequest, secret [32]byte, paymentHash [32]byte) (*CreateInvoiceResponse, *swaperr.Error) {
	now := time.Now()

	liquidity, err := h.Liquidity.InboundLiquiditySats(ctx)
	if err != nil {
		return nil, swaperr.New(502, swaperr.CodeOutOfBounds, fmt.Sprintf("liquidity check failed: %s", err), nil)
	}
	if liquidity < req.AmountSats.Int64() {
		return nil, swaperr.OutOfBounds("0", big.NewInt(liquidity).String())
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

	expiryTimeout := h.Limits.MaxInvoiceExpiry
	baseRefundFee := new(big.Int).Set(h.Policy.BaseFeeSats)
	nativeValue, oracleErr := h.Oracle.NativeCurrencyValue(ctx, req.Token, tokenValue)
	if oracleErr != nil {
		return nil, swaperr.New(502, 90001, "pricing oracle unavailable", nil)
	}
	securityDeposit := h.Policy.SecurityDeposit(baseRefundFee, nativeValue, expiryTimeout)

	cltvDelta := uint32(h.Policy.MinChainCltv) + h.Limits.CltvDeltaMargin
	paymentRequest, err := h.Lightning.AddHoldInvoice(ctx, paymentHash, req.AmountSats.Int64()*1000, req.RecipientAddress, expiryTimeout, cltvDelta)
	if err != nil {
		return nil, swaperr.New(502, swaperr.CodeInvoiceNotFound, fmt.Sprintf("add hold invoice failed: %s", err), nil)
	}

	record := &swap.Record{
		ChainID:     req.ChainID,
		PaymentHash: paymentHash,
		Sequence:    0,
		Direction:   swap.DirectionFromBtcLn,
		State:       StateCreated,
		Fees: swap.Fees{
			SwapFeeBTC:   baseRefundFee,
			SwapFeeToken: baseRefundFee,
		},
		Metadata: swap.Metadata{QuotedAt: now},
	}
	record.TxIDs.Init = paymentRequest
	record.ContractData = &chainadapter.SwapData{
		Kind:            chainadapter.KindHTLC,
		Claimer:         req.RecipientAddress,
		Token:           req.Token,
		Amount:          tokenValue,
		PaymentHash:     paymentHash,
		PayIn:           false,
		PayOut:          true,
		SecurityDeposit: securityDeposit,
	}

	if err := h.Store.Set(record.Key(), record); err != nil {
		return nil, swaperr.New(500, swaperr.CodeSwapDataVerification, fmt.Sprintf("persist failed: %s", err), nil)
	}
	h.Demux.Register(record.Key(), h)

	go h.watchInvoice(context.Background(), record.Key())

	return &CreateInvoiceResponse{
		PaymentRequest:  paymentRequest,
		SecurityDeposit: securityDeposit,
		PaymentHash:     paymentHash,
	}, nil
}

// watchInvoice drives htlcReceived (§4.7 step 2) off the HODL invoice's
// state stream: the moment the payer's HTLC reaches is_held (StateAccepted)
// this builds the swap commitment and signs the init authorization.
func (h *Handler) watchInvoice(ctx context.Context, key swap.Key) {
	updates, err := h.Lightning.Subscribe(ctx, key.PaymentHash)
	if err != nil {
		h.Log.Error("subscribe to hold invoice failed", zap.Error(err))
		return
	}
	for update := range updates {
		if update.State != lightning.StateAccepted {
			continue
		}
		if err := h.htlcReceived(ctx, key); err != nil {
			h.Log.Error("htlcReceived failed", zap.Error(err))
		}
		return
	}
}

// htlcReceived implements §4.7 step 2.
func (h *Handler) htlcReceived(ctx context.Context, key swap.Key) error {
	record, err := h.Store.Get(key)
	if err != nil || record == nil {
		return err
	}
	if record.State != StateCreated {
		return nil
	}

	data := record.ContractData

	balance, err := h.Vault.AvailableBalance(ctx, record.ChainID, data.Token)
	if err != nil {
		return err
	}
	if balance.Cmp(data.Amount) < 0 {
		return h.cancelInvoice(ctx, record, "remaining on-chain balance below send amount")
	}

	expiryHeight, err := h.Lightning.HtlcExpiryHeight(ctx, key.PaymentHash)
	if err != nil {
		return err
	}
	tipHeight, err := h.BlockTip.TipHeight(ctx)
	if err != nil {
		return err
	}
	if int64(expiryHeight)-int64(tipHeight) < h.Policy.MinChainCltv {
		return h.cancelInvoice(ctx, record, "held htlc expires too soon")
	}

	now := time.Now()
	swapExpiry := h.Policy.FromBtcLnExpiry(now, h.Policy.MinChainCltv)

	data.Expiry = swapExpiry
	data.PayIn = false
	data.PayOut = true

	authTimeout := now.Add(h.Policy.GracePeriod).Unix()
	auth, signErr := h.Adapter.GetInitSignature(ctx, h.Signer, data, authTimeout, nil, nil)
	if signErr != nil {
		return h.cancelInvoice(ctx, record, signErr.Error())
	}

	record.State = StateReceived
	record.Authorization = auth
	return h.Store.Set(record.Key(), record)
}

func (h *Handler) cancelInvoice(ctx context.Context, record *swap.Record, reason string) error {
	h.Log.Warn("canceling hold invoice", zap.String("reason", reason))
	if err := h.Lightning.Cancel(ctx, record.PaymentHash); err != nil {
		h.Log.Error("cancel hold invoice failed", zap.Error(err))
	}
	record.State = StateCanceled
	return h.Store.Set(record.Key(), record)
}

// OnInitialize implements demux.Handler: the counterparty submitted init on
// the smart chain. Transitions Received -> Committed.
func (h *Handler) OnInitialize(ctx context.Context, event *chainadapter.Event) error {
	record, err := h.Store.Get(swap.Key{PaymentHash: event.PaymentHash, Sequence: event.Sequence})
	if err != nil || record == nil {
		return err
	}
	if record.State != StateReceived {
		return nil
	}
	record.State = StateCommitted
	record.Metadata.CommittedAt = time.Now()
	return h.Store.Set(record.Key(), record)
}

// OnClaim implements demux.Handler: the counterparty revealed the preimage
// claiming on-chain; settle the HODL invoice with it.
func (h *Handler) OnClaim(ctx context.Context, event *chainadapter.Event) error {
	key := swap.Key{PaymentHash: event.PaymentHash, Sequence: event.Sequence}
	record, err := h.Store.Get(key)
	if err != nil || record == nil {
		return err
	}
	var preimage [32]byte
	copy(preimage[:], event.Secret)
	if err := h.Lightning.Settle(ctx, preimage); err != nil {
		return err
	}
	record.State = StateSettled
	record.TxIDs.Claim = event.TxID
	record.Metadata.ClaimedAt = time.Now()
	h.Demux.Unregister(key)
	return h.Store.Delete(key)
}

// OnRefund implements demux.Handler: the claim never happened before expiry
// and the offerer (intermediary) reclaimed on the smart chain.
func (h *Handler) OnRefund(ctx context.Context, event *chainadapter.Event) error {
	key := swap.Key{PaymentHash: event.PaymentHash, Sequence: event.Sequence}
	record, err := h.Store.Get(key)
	if err != nil || record == nil {
		return err
	}
	if err := h.Lightning.Cancel(ctx, key.PaymentHash); err != nil {
		h.Log.Error("cancel hold invoice on refund failed", zap.Error(err))
	}
	record.State = StateRefunded
	record.TxIDs.Refund = event.TxID
	h.Demux.Unregister(key)
	return h.Store.Delete(key)
}

// ProcessPastSwaps is the periodic reconciliation watchdog (§4.7 step 5):
// cancels HODL invoices whose pre-commit authorization timed out.
func (h *Handler) ProcessPastSwaps(ctx context.Context) {
	records, err := h.Store.ListByState(swap.DirectionFromBtcLn, StateReceived)
	if err != nil {
		h.Log.Error("list received swaps failed", zap.Error(err))
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
		if cancelErr := h.cancelInvoice(ctx, record, "authorization expired pre-commit"); cancelErr != nil {
			h.Log.Error("cancel expired quote failed", zap.Error(cancelErr))
		}
		h.Demux.Unregister(record.Key())
	}
}

var _ demux.Handler = (*Handler)(nil)
