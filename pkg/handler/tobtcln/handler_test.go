package tobtcln

import (
	"context"
	"math/big"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/btcswap/intermediary/pkg/chainadapter"
	"github.com/btcswap/intermediary/pkg/demux"
	"github.com/btcswap/intermediary/pkg/handler/handlertest"
	"github.com/btcswap/intermediary/pkg/handler/policy"
	"github.com/btcswap/intermediary/pkg/lightning"
	"github.com/btcswap/intermediary/pkg/pricing"
	"github.com/btcswap/intermediary/pkg/swap"
	"github.com/btcswap/intermediary/pkg/swapstore"
	"github.com/stretchr/testify/require"
)

type fakePayer struct {
	outcome *lightning.PaymentOutcome
	err     error
	calls   int
}

func (f *fakePayer) PayInvoice(ctx context.Context, paymentRequest string, feeLimitSats int64, timeout time.Duration) (*lightning.PaymentOutcome, error) {
	f.calls++
	return f.outcome, f.err
}

func testHandlerPolicy() *policy.Policy {
	return &policy.Policy{
		BaseFeeSats:             big.NewInt(500),
		GracePeriod:             time.Hour,
		BitcoinBlocktime:        10 * time.Minute,
		MinChainCltv:            10,
		SendSafetyFactor:        1_000_000,
		SafetyFactor:            1_000_000,
		APYPPM:                  50_000,
		NetworkFeeMultiplierPPM: big.NewInt(1_000_000),
	}
}

func testHandlerFees() pricing.FeeConfig {
	return pricing.FeeConfig{
		BaseFee:   big.NewInt(500),
		FeePPM:    big.NewInt(3000),
		MinAmount: big.NewInt(1_000),
		MaxAmount: big.NewInt(10_000_000),
	}
}

func newTobtclnHandler(adapter *handlertest.FakeAdapter, payer lightning.Payer) *Handler {
	return &Handler{
		Log:     zap.NewNop(),
		Adapter: adapter,
		Store:   swapstore.NewMemoryStore(),
		Demux:   demux.New(zap.NewNop(), adapter),
		Payer:   payer,
		Oracle:  &pricing.StaticOracle{SatsPerTokenPPB: map[string]int64{"TOKEN": 1_000_000_000}},
		Vault:   handlertest.FakeVaultChecker{Initialized: true},
		Signer:  handlertest.FakeSigner{},
		Policy:  testHandlerPolicy(),
		Fees:    testHandlerFees(),
		Limits: Limits{
			MaxFeePPM:            10_000,
			MinFeeSats:           10,
			InvoiceDecodeTimeout: time.Second,
		},
	}
}

// TestPayInvoiceBudgetsRoutingFeeAndQuotesSwapData covers the §4.6 quote
// path: the routing-fee budget floors at MinFeeSats for a tiny invoice, and
// the resulting swap data carries the same payment hash the invoice commits
// to, with no sequence/nonce component (ToBtcLn has neither).
func TestPayInvoiceBudgetsRoutingFeeAndQuotesSwapData(t *testing.T) {
	adapter := &handlertest.FakeAdapter{}
	payer := &fakePayer{}
	h := newTobtclnHandler(adapter, payer)

	paymentHash := [32]byte{7, 7, 7}
	resp, swErr := h.PayInvoice(context.Background(), QuoteRequest{
		ChainID:        "fake:1",
		Token:          "TOKEN",
		PaymentRequest: "lnbc1...",
		PaymentHash:    paymentHash,
		AmountSats:     big.NewInt(100),
		Exact:          big.NewInt(50_000),
		AuthTimeout:    time.Minute,
	})
	require.Nil(t, swErr)
	require.NotNil(t, resp)
	require.Equal(t, int64(10), resp.RoutingFeeBudgetSats.Int64(), "100*10000ppm=1 sat floors up to MinFeeSats=10")

	stored, err := h.Store.Get(swap.Key{PaymentHash: paymentHash, Sequence: 0})
	require.NoError(t, err)
	require.Equal(t, StateSaved, stored.State)
	require.Equal(t, "lnbc1...", stored.TxIDs.Init)
}

// TestProcessPaymentHappyPathClaimsWithPreimage covers the ToBtcLn payout
// step succeeding: OnInitialize must pay the stored invoice and immediately
// claim with the preimage the payment returned, without waiting for a
// separate settlement event.
func TestProcessPaymentHappyPathClaimsWithPreimage(t *testing.T) {
	var claimedSecret []byte
	adapter := &handlertest.FakeAdapter{
		ClaimWithSecretFunc: func(ctx context.Context, signer chainadapter.Signer, swapData *chainadapter.SwapData, secret []byte, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error) {
			claimedSecret = secret
			return &chainadapter.BroadcastReceipt{TxID: "claim-tx"}, nil
		},
	}
	preimage := [32]byte{1, 2, 3, 4}
	payer := &fakePayer{outcome: &lightning.PaymentOutcome{Succeeded: true, Preimage: preimage}}
	h := newTobtclnHandler(adapter, payer)

	data, err := adapter.CreateSwapData(chainadapter.KindHTLC, "", "", "TOKEN", big.NewInt(50_000),
		[32]byte{9}, 0, time.Now().Add(24*time.Hour).Unix(), 0, 0, true, false, big.NewInt(0), big.NewInt(0))
	require.NoError(t, err)

	record := &swap.Record{
		ChainID:      "fake:1",
		PaymentHash:  data.PaymentHash,
		Direction:    swap.DirectionToBtcLn,
		State:        StateSaved,
		ContractData: data,
		Fees:         swap.Fees{NetworkFeeSats: big.NewInt(10)},
	}
	record.TxIDs.Init = "lnbc1...payme"
	require.NoError(t, h.Store.Set(record.Key(), record))
	h.Demux.Register(record.Key(), h)

	require.NoError(t, h.OnInitialize(context.Background(), &chainadapter.Event{
		PaymentHash: data.PaymentHash,
		Sequence:    0,
	}))

	require.Equal(t, 1, payer.calls)
	require.Equal(t, preimage[:], claimedSecret)

	stored, err := h.Store.Get(record.Key())
	require.NoError(t, err)
	require.Equal(t, StatePaid, stored.State)
}

// TestProcessPaymentCancelsWhenExpiryTooClose covers the case where the
// smart-chain commitment's remaining CLTV window is already too thin to
// safely attempt a Lightning payment: processPayment must cancel rather
// than risk paying out with no time left to claim.
func TestProcessPaymentCancelsWhenExpiryTooClose(t *testing.T) {
	adapter := &handlertest.FakeAdapter{}
	payer := &fakePayer{}
	h := newTobtclnHandler(adapter, payer)

	data, err := adapter.CreateSwapData(chainadapter.KindHTLC, "", "", "TOKEN", big.NewInt(50_000),
		[32]byte{9}, 0, time.Now().Add(time.Second).Unix(), 0, 0, true, false, big.NewInt(0), big.NewInt(0))
	require.NoError(t, err)

	record := &swap.Record{
		ChainID:      "fake:1",
		PaymentHash:  data.PaymentHash,
		Direction:    swap.DirectionToBtcLn,
		State:        StateSaved,
		ContractData: data,
		Fees:         swap.Fees{NetworkFeeSats: big.NewInt(10)},
	}
	record.TxIDs.Init = "lnbc1...payme"
	require.NoError(t, h.Store.Set(record.Key(), record))
	h.Demux.Register(record.Key(), h)

	require.NoError(t, h.OnInitialize(context.Background(), &chainadapter.Event{
		PaymentHash: data.PaymentHash,
		Sequence:    0,
	}))

	require.Equal(t, 0, payer.calls, "must not attempt payment once remaining CLTV is below the policy floor")
	stored, err := h.Store.Get(record.Key())
	require.NoError(t, err)
	require.Equal(t, StateCanceled, stored.State)
}

// TestProcessPaymentRetriesOnTransientFailure covers processPayment's retry
// path: a Payer error (as opposed to a terminal failed outcome) must leave
// the swap back in Committed for the next watchdog tick instead of
// canceling it outright.
func TestProcessPaymentRetriesOnTransientFailure(t *testing.T) {
	adapter := &handlertest.FakeAdapter{}
	payer := &fakePayer{err: context.DeadlineExceeded}
	h := newTobtclnHandler(adapter, payer)

	data, err := adapter.CreateSwapData(chainadapter.KindHTLC, "", "", "TOKEN", big.NewInt(50_000),
		[32]byte{9}, 0, time.Now().Add(24*time.Hour).Unix(), 0, 0, true, false, big.NewInt(0), big.NewInt(0))
	require.NoError(t, err)

	record := &swap.Record{
		ChainID:      "fake:1",
		PaymentHash:  data.PaymentHash,
		Direction:    swap.DirectionToBtcLn,
		State:        StateSaved,
		ContractData: data,
		Fees:         swap.Fees{NetworkFeeSats: big.NewInt(10)},
	}
	record.TxIDs.Init = "lnbc1...payme"
	require.NoError(t, h.Store.Set(record.Key(), record))
	h.Demux.Register(record.Key(), h)

	require.NoError(t, h.OnInitialize(context.Background(), &chainadapter.Event{
		PaymentHash: data.PaymentHash,
		Sequence:    0,
	}))

	stored, err := h.Store.Get(record.Key())
	require.NoError(t, err)
	require.Equal(t, StateCommitted, stored.State)
}
