package tobtc

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
	"github.com/btcswap/intermediary/pkg/payout"
	"github.com/btcswap/intermediary/pkg/pricing"
	"github.com/btcswap/intermediary/pkg/swap"
	"github.com/btcswap/intermediary/pkg/swapstore"
	"github.com/stretchr/testify/require"
)

func testPolicy() *policy.Policy {
	return &policy.Policy{
		BaseFeeSats:               big.NewInt(1000),
		FeePPM:                    big.NewInt(5000),
		NetworkFeeMultiplierPPM:   big.NewInt(1_200_000),
		OnchainReservedPerChannel: big.NewInt(0),
		GracePeriod:               time.Hour,
		BitcoinBlocktime:          10 * time.Minute,
		MinChainCltv:              10,
		SendSafetyFactor:          1_000_000,
		SafetyFactor:              1_000_000,
		APYPPM:                    50_000,
	}
}

func testFeeConfig() pricing.FeeConfig {
	return pricing.FeeConfig{
		BaseFee:   big.NewInt(1000),
		FeePPM:    big.NewInt(5000),
		MinAmount: big.NewInt(10_000),
		MaxAmount: big.NewInt(10_000_000),
	}
}

func payoutP2WPKHAddress(t *testing.T) (string, []byte) {
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

func newTestHandler(t *testing.T, mock *rpctest.MockRPCClient, adapter *handlertest.FakeAdapter) *Handler {
	t.Helper()
	return New(Handler{
		Log:          zap.NewNop(),
		Adapter:      adapter,
		Store:        swapstore.NewMemoryStore(),
		Demux:        demux.New(zap.NewNop(), adapter),
		BitcoinRPC:   bitcoinrpc.New(mock),
		PayoutEngine: nil,
		Oracle:       &pricing.StaticOracle{SatsPerTokenPPB: map[string]int64{"TOKEN": 1_000_000_000}},
		Vault:        handlertest.FakeVaultChecker{Initialized: true},
		Signer:       handlertest.FakeSigner{},
		Synchronizer: nil,
		Policy:       testPolicy(),
		Fees:         testFeeConfig(),
		Limits: Limits{
			MinConfirmations:   1,
			MaxConfirmations:   6,
			MaxConfirmTarget:   20,
			MaxOutputScriptLen: 34,
			ActiveChannels:     func() int64 { return 0 },
		},
		ChangeType: payout.ChangeType(0),
		ChangeAddr: "bcrt1qchangeaddressxxxxxxxxxxxxxxxxxxxxxx",
		Network:    &chaincfg.RegressionNetParams,
	})
}

func setQuoteRPCResponses(mock *rpctest.MockRPCClient) {
	mock.SetResponse("estimatesmartfee", map[string]interface{}{"feerate": 0.00001000, "blocks": 6})
	mock.SetResponse("listunspent", []map[string]interface{}{
		{
			"txid": "1111111111111111111111111111111111111111111111111111111111111a",
			"vout": 0, "address": "bcrt1qchangeaddressxxxxxxxxxxxxxxxxxxxxxx",
			"scriptPubKey": "0014aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
			"amount": 1.0, "confirmations": 10, "spendable": true,
		},
	})
}

// TestPayInvoiceEncodesNonceIntoSwapData covers spec §8 scenario 1's quote
// step: a ToBtc quote must carry the nonce the request supplied straight
// through to the chain-adapter swap data, so the payout engine later derives
// the matching PSBT locktime/sequence from it.
func TestPayInvoiceEncodesNonceIntoSwapData(t *testing.T) {
	mock := rpctest.NewMockRPCClient()
	setQuoteRPCResponses(mock)
	adapter := &handlertest.FakeAdapter{}
	h := newTestHandler(t, mock, adapter)

	addr, _ := payoutP2WPKHAddress(t)
	resp, swErr := h.PayInvoice(context.Background(), QuoteRequest{
		ChainID:            "fake:1",
		Token:              "TOKEN",
		PayoutAddress:      addr,
		Amount:             big.NewInt(500_000),
		ExactOut:           true,
		Nonce:              0x0000000000ABCDEF,
		ConfirmationTarget: 6,
		Confirmations:      2,
		AuthTimeout:        time.Minute,
	})
	require.Nil(t, swErr)
	require.NotNil(t, resp)
	require.Equal(t, uint64(0x0000000000ABCDEF), resp.Data.EscrowNonce)

	locktime, sequence := payout.EncodeNonce(resp.Data.EscrowNonce)
	require.Equal(t, payout.NonceLocktimeBase, locktime)
	require.Equal(t, uint32(0xFEABCDEF), sequence)

	stored, err := h.Store.Get(swap.Key{PaymentHash: resp.Data.PaymentHash, Sequence: resp.Data.Sequence})
	require.NoError(t, err)
	require.Equal(t, StateSaved, stored.State)
}

func sampleSwapData(t *testing.T, amount int64) *chainadapter.SwapData {
	t.Helper()
	adapter := &handlertest.FakeAdapter{}
	data, err := adapter.CreateSwapData(chainadapter.KindChainNonced, "", "", "TOKEN", big.NewInt(amount),
		[32]byte{1, 2, 3}, 42, time.Now().Add(time.Hour).Unix(), 7, 2, true, false, big.NewInt(0), big.NewInt(0))
	require.NoError(t, err)
	return data
}

// TestOnInitializeMarksNonPayableOnFeeSpike covers spec §8 scenario 2: the
// fee rate observed at commit time has risen past the quote's
// MaxSatsPerVByte ceiling, so processPayout must refuse to build a payout
// and leave the swap in NonPayable rather than under/over-paying the miner
// fee the quote committed to.
func TestOnInitializeMarksNonPayableOnFeeSpike(t *testing.T) {
	mock := rpctest.NewMockRPCClient()
	adapter := &handlertest.FakeAdapter{}
	h := newTestHandler(t, mock, adapter)

	data := sampleSwapData(t, 500_000)
	// Well past the MinChainCltv*blocktime floor processPayout checks before
	// anything else, so this test exercises the fee-police branch rather
	// than the expiry guard.
	data.Expiry = time.Now().Add(24 * time.Hour).Unix()
	record := &swap.Record{
		ChainID:      "fake:1",
		PaymentHash:  data.PaymentHash,
		Sequence:     data.Sequence,
		Direction:    swap.DirectionToBtc,
		State:        StateSaved,
		ContractData: data,
		Fees:         swap.Fees{MaxSatsPerVByte: big.NewInt(5)},
		Payout:       &swap.PayoutInfo{Address: "bcrt1qfake", OutputScript: []byte{0}},
	}
	require.NoError(t, h.Store.Set(record.Key(), record))
	h.Demux.Register(record.Key(), h)

	// 0.00100000 BTC/kvB == 100 sat/vB, far above the quoted 5 sat/vB ceiling.
	mock.SetResponse("estimatesmartfee", map[string]interface{}{"feerate": 0.00100000, "blocks": 6})

	err := h.OnInitialize(context.Background(), &chainadapter.Event{
		Type:        chainadapter.EventInitialize,
		PaymentHash: data.PaymentHash,
		Sequence:    data.Sequence,
	})
	require.NoError(t, err)

	stored, err := h.Store.Get(record.Key())
	require.NoError(t, err)
	require.Equal(t, StateNonPayable, stored.State)

	// Once non-payable, the counterparty's refund path resolves the swap:
	// OnRefund deletes the record regardless of which non-terminal state it
	// was left in.
	require.NoError(t, h.OnRefund(context.Background(), &chainadapter.Event{
		PaymentHash: data.PaymentHash,
		Sequence:    data.Sequence,
		TxID:        "refund-tx",
	}))
	deleted, err := h.Store.Get(record.Key())
	require.NoError(t, err)
	require.Nil(t, deleted)
}

// TestCheckConfirmationsClaimsWithMatchedVoutAndThenOnClaimDeletes covers the
// remainder of spec §8 scenario 1: once a BtcSent payout matures,
// checkConfirmations must locate the vout actually paying the swap's
// (amount, outputScript) — not assume index 0 — assemble a claim proof
// around it, and invoke ClaimWithTxData; OnClaim then retires the record.
func TestCheckConfirmationsClaimsWithMatchedVoutAndThenOnClaimDeletes(t *testing.T) {
	_, outputScript := payoutP2WPKHAddress(t)
	const payoutAmount = 250_000

	// Two outputs: a decoy first, the real payout second, so the test would
	// fail if checkConfirmations assumed vout 0.
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: [32]byte{9}, Index: 0}})
	tx.AddTxOut(&wire.TxOut{Value: 1_000, PkScript: []byte{0x00, 0x14, 0xde, 0xad, 0xbe, 0xef}})
	tx.AddTxOut(&wire.TxOut{Value: payoutAmount, PkScript: outputScript})

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	rawHex := hex.EncodeToString(buf.Bytes())
	txid := tx.TxHash().String()

	mock := rpctest.NewMockRPCClient()
	mock.SetResponse("getrawtransaction", map[string]interface{}{
		"hex": rawHex, "confirmations": 6, "blockheight": 800,
	})
	mock.SetResponse("getblockhash", "00000000000000000000000000000000000000000000000000000000000abc")
	mock.SetResponse("getblock", map[string]interface{}{"tx": []string{txid}})
	mock.SetResponse("getblockheader", map[string]interface{}{
		"hash": "00000000000000000000000000000000000000000000000000000000000abc",
		"versionHex": "20000000", "version": 536870912,
		"merkleroot": txid, "time": 1700000000,
		"bits": "1d00ffff", "nonce": 0, "previousblockhash": "",
	})

	var capturedProof *chainadapter.ClaimProof
	adapter := &handlertest.FakeAdapter{
		ClaimWithTxDataFunc: func(ctx context.Context, signer chainadapter.Signer, swapData *chainadapter.SwapData, proof *chainadapter.ClaimProof, synchronizer chainadapter.RelaySynchronizer, initAta bool, opts *chainadapter.SendOptions) (*chainadapter.BroadcastReceipt, error) {
			capturedProof = proof
			return &chainadapter.BroadcastReceipt{TxID: "claim-tx"}, nil
		},
	}
	h := newTestHandler(t, mock, adapter)

	data := sampleSwapData(t, payoutAmount)
	record := &swap.Record{
		ChainID:      "fake:1",
		PaymentHash:  data.PaymentHash,
		Sequence:     data.Sequence,
		Direction:    swap.DirectionToBtc,
		State:        StateBtcSent,
		ContractData: data,
		Payout:       &swap.PayoutInfo{OutputScript: outputScript},
		TxIDs:        swap.TxIDs{BTCPayout: txid},
	}
	require.NoError(t, h.Store.Set(record.Key(), record))
	h.Demux.Register(record.Key(), h)

	h.ProcessBtcTxs(context.Background())

	require.NotNil(t, capturedProof, "checkConfirmations must call ClaimWithTxData once confirmations are met")
	require.Equal(t, uint32(1), capturedProof.Vout, "must reference the actual matching output, not assume vout 0")
	require.Equal(t, uint32(800), capturedProof.Height)
	require.Empty(t, capturedProof.MerkleProof, "single-tx block has no sibling hashes")

	require.NoError(t, h.OnClaim(context.Background(), &chainadapter.Event{
		PaymentHash: data.PaymentHash,
		Sequence:    data.Sequence,
		TxID:        "claim-tx",
	}))
	deleted, err := h.Store.Get(record.Key())
	require.NoError(t, err)
	require.Nil(t, deleted)
}
