package frombtc

import (
	"bytes"
	"context"
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"go.uber.org/zap"

	"github.com/btcswap/intermediary/pkg/bitcoinrpc"
	"github.com/btcswap/intermediary/pkg/chainadapter"
	rpctest "github.com/btcswap/intermediary/pkg/chainadapter/rpc"
	"github.com/btcswap/intermediary/pkg/demux"
	"github.com/btcswap/intermediary/pkg/handler/handlertest"
	"github.com/btcswap/intermediary/pkg/handler/policy"
	"github.com/btcswap/intermediary/pkg/pricing"
	"github.com/btcswap/intermediary/pkg/swap"
	"github.com/btcswap/intermediary/pkg/swapstore"
	"github.com/stretchr/testify/require"
)

func depositAddress(t *testing.T) (string, []byte) {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	pubKeyHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	return addr.EncodeAddress(), script
}

func newFrombtcHandler(t *testing.T, mock *rpctest.MockRPCClient, adapter *handlertest.FakeAdapter, depositAddr string) *Handler {
	t.Helper()
	return &Handler{
		Log:        zap.NewNop(),
		Adapter:    adapter,
		Store:      swapstore.NewMemoryStore(),
		Demux:      demux.New(zap.NewNop(), adapter),
		BitcoinRPC: bitcoinrpc.New(mock),
		Vault:      handlertest.FakeVaultBalance{Balance: big.NewInt(1_000_000_000)},
		Oracle:     &pricing.StaticOracle{SatsPerTokenPPB: map[string]int64{"TOKEN": 1_000_000_000}},
		Signer:     handlertest.FakeSigner{},
		Policy: &policy.Policy{
			BaseFeeSats: big.NewInt(500),
			GracePeriod: time.Hour,
		},
		Fees: pricing.FeeConfig{
			BaseFee:   big.NewInt(500),
			FeePPM:    big.NewInt(3000),
			MinAmount: big.NewInt(1_000),
			MaxAmount: big.NewInt(10_000_000),
		},
		Limits: Limits{
			MinConfirmations: 1,
			MaxConfirmations: 6,
			QuoteExpiry:      time.Hour,
			PollInterval:     time.Minute,
		},
		DepositAddress: depositAddr,
		Network:        &chaincfg.RegressionNetParams,
	}
}

// TestCreateSwapHashesAmountAndDepositScript covers §4.8's quote path: the
// swap's commitment hash binds the quoted amount to the shared deposit
// address's output script, with no nonce component.
func TestCreateSwapHashesAmountAndDepositScript(t *testing.T) {
	depositAddr, outputScript := depositAddress(t)
	mock := rpctest.NewMockRPCClient()
	adapter := &handlertest.FakeAdapter{}
	h := newFrombtcHandler(t, mock, adapter, depositAddr)

	resp, swErr := h.CreateSwap(context.Background(), CreateSwapRequest{
		ChainID:       "fake:1",
		Token:         "TOKEN",
		AmountSats:    big.NewInt(100_000),
		Confirmations: 2,
		Claimer:       "0xclaimer",
	})
	require.Nil(t, swErr)
	require.Equal(t, txoHash(100_000, outputScript), resp.PaymentHash)

	stored, err := h.Store.Get(swap.Key{PaymentHash: resp.PaymentHash, Sequence: 0})
	require.NoError(t, err)
	require.Equal(t, StateCreated, stored.State)
	require.Equal(t, outputScript, stored.Payout.OutputScript)
}

// TestPollDepositsPersistsActualVout covers the review fix this test was
// written to pin down: paymentReceived must record the deposit's true
// output index rather than assuming vout 0, since the payer's wallet
// controls output ordering, not the intermediary.
func TestPollDepositsPersistsActualVout(t *testing.T) {
	depositAddr, outputScript := depositAddress(t)
	mock := rpctest.NewMockRPCClient()
	var initCalled bool
	adapter := &handlertest.FakeAdapter{
		InitFunc: func(ctx context.Context, signer chainadapter.Signer, swapData *chainadapter.SwapData, auth *chainadapter.Authorization, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error) {
			initCalled = true
			return &chainadapter.BroadcastReceipt{TxID: "init-tx"}, nil
		},
	}
	h := newFrombtcHandler(t, mock, adapter, depositAddr)

	paymentHash := txoHash(100_000, outputScript)
	record := &swap.Record{
		ChainID:     "fake:1",
		PaymentHash: paymentHash,
		Direction:   swap.DirectionFromBtc,
		State:       StateCreated,
		ContractData: &chainadapter.SwapData{
			Kind: chainadapter.KindChain, Token: "TOKEN", Amount: big.NewInt(100_000),
			PaymentHash: paymentHash, Confirmations: 2,
		},
		Payout: &swap.PayoutInfo{Address: depositAddr, OutputScript: outputScript},
	}
	require.NoError(t, h.Store.Set(record.Key(), record))
	h.Demux.Register(record.Key(), h)

	mock.SetResponse("listunspent", []map[string]interface{}{
		{
			"txid": "2222222222222222222222222222222222222222222222222222222222222b",
			"vout": 3, "address": depositAddr,
			"scriptPubKey": hex.EncodeToString(outputScript),
			"amount": 0.00100000, "confirmations": 1, "spendable": true,
		},
	})

	h.PollDeposits(context.Background())

	require.True(t, initCalled)
	stored, err := h.Store.Get(record.Key())
	require.NoError(t, err)
	require.Equal(t, uint32(3), stored.DepositVout)
	require.Equal(t, StateReceived, stored.State)
}

// TestTryClaimUsesPersistedDepositVout covers §4.8's claim proof assembly:
// once the deposit matures, tryClaim must build the proof around the vout
// persisted at payment-received time, not index 0.
func TestTryClaimUsesPersistedDepositVout(t *testing.T) {
	_, outputScript := depositAddress(t)
	const depositAmount = 100_000

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: [32]byte{5}, Index: 0}})
	tx.AddTxOut(&wire.TxOut{Value: 1_000, PkScript: []byte{0x00, 0x14, 0xde, 0xad}})
	tx.AddTxOut(&wire.TxOut{Value: depositAmount, PkScript: outputScript})

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	rawHex := hex.EncodeToString(buf.Bytes())
	txid := tx.TxHash().String()

	mock := rpctest.NewMockRPCClient()
	mock.SetResponse("getrawtransaction", map[string]interface{}{
		"hex": rawHex, "confirmations": 6, "blockheight": 900,
	})
	mock.SetResponse("getblockhash", "00000000000000000000000000000000000000000000000000000000000def")
	mock.SetResponse("getblock", map[string]interface{}{"tx": []string{txid}})
	mock.SetResponse("getblockheader", map[string]interface{}{
		"hash": "00000000000000000000000000000000000000000000000000000000000def",
		"versionHex": "20000000", "version": 536870912,
		"merkleroot": txid, "time": 1700000001,
		"bits": "1d00ffff", "nonce": 0, "previousblockhash": "",
	})

	var capturedProof *chainadapter.ClaimProof
	adapter := &handlertest.FakeAdapter{
		ClaimWithTxDataFunc: func(ctx context.Context, signer chainadapter.Signer, swapData *chainadapter.SwapData, proof *chainadapter.ClaimProof, synchronizer chainadapter.RelaySynchronizer, initAta bool, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error) {
			capturedProof = proof
			return &chainadapter.BroadcastReceipt{TxID: "claim-tx"}, nil
		},
	}
	h := newFrombtcHandler(t, mock, adapter, "bcrt1qdepositxxxxxxxxxxxxxxxxxxxxxxxxxxxx")

	paymentHash := txoHash(depositAmount, outputScript)
	record := &swap.Record{
		ChainID:     "fake:1",
		PaymentHash: paymentHash,
		Direction:   swap.DirectionFromBtc,
		State:       StateCommitted,
		ContractData: &chainadapter.SwapData{
			Kind: chainadapter.KindChain, Token: "TOKEN", Amount: big.NewInt(1000),
			PaymentHash: paymentHash, Confirmations: 2,
		},
		DepositVout: 1,
	}
	record.TxIDs.Init = txid
	require.NoError(t, h.Store.Set(record.Key(), record))
	h.Demux.Register(record.Key(), h)

	h.ProcessBtcTxs(context.Background())

	require.NotNil(t, capturedProof)
	require.Equal(t, uint32(1), capturedProof.Vout)
	require.Equal(t, uint32(900), capturedProof.Height)

	require.NoError(t, h.OnClaim(context.Background(), &chainadapter.Event{
		PaymentHash: paymentHash,
		TxID:        "claim-tx",
	}))
	deleted, err := h.Store.Get(record.Key())
	require.NoError(t, err)
	require.Nil(t, deleted)
}
