package bitcoinrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/btcswap/intermediary/pkg/chainadapter/rpc"
	"github.com/stretchr/testify/require"
)

type fakeRPC struct {
	responses map[string]json.RawMessage
	errs      map[string]error
	calls     []string
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{responses: map[string]json.RawMessage{}, errs: map[string]error{}}
}

func (f *fakeRPC) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	f.calls = append(f.calls, method)
	if err, ok := f.errs[method]; ok {
		return f.responses[method], err
	}
	return f.responses[method], nil
}

func (f *fakeRPC) CallBatch(ctx context.Context, requests []rpc.RPCRequest) ([]json.RawMessage, error) {
	return nil, nil
}

func (f *fakeRPC) Close() error { return nil }

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func TestListUnspentFiltersNonSpendable(t *testing.T) {
	fake := newFakeRPC()
	fake.responses["listunspent"] = mustJSON([]listUnspentResult{
		{TxID: "a", Vout: 0, Address: "addr1", ScriptPubKey: "76a914", Amount: 0.001, Confirmations: 6, Spendable: true},
		{TxID: "b", Vout: 1, Address: "addr1", ScriptPubKey: "76a914", Amount: 0.002, Confirmations: 0, Spendable: false},
	})

	client := New(fake)
	utxos, err := client.ListUnspent(context.Background(), "addr1")
	require.NoError(t, err)
	require.Len(t, utxos, 1)
	require.Equal(t, "a", utxos[0].TxID)
	require.Equal(t, int64(100000), utxos[0].AmountSats)
}

func TestEstimateSmartFeeFloorsAtOne(t *testing.T) {
	fake := newFakeRPC()
	fake.responses["estimatesmartfee"] = mustJSON(estimateSmartFeeResult{FeeRate: 0.00000001, Blocks: 6})

	client := New(fake)
	rate, err := client.EstimateSmartFee(context.Background(), 6)
	require.NoError(t, err)
	require.Equal(t, int64(1), rate)
}

func TestEstimateSmartFeePropagatesNodeErrors(t *testing.T) {
	fake := newFakeRPC()
	fake.responses["estimatesmartfee"] = mustJSON(estimateSmartFeeResult{Errors: []string{"insufficient data"}})

	client := New(fake)
	_, err := client.EstimateSmartFee(context.Background(), 6)
	require.Error(t, err)
}

func TestSendRawTransactionTreatsAlreadyKnownAsSuccess(t *testing.T) {
	fake := newFakeRPC()
	fake.errs["sendrawtransaction"] = fmt.Errorf("-27: transaction already in block chain")
	fake.responses["sendrawtransaction"] = mustJSON("deadbeef")

	client := New(fake)
	txid, err := client.SendRawTransaction(context.Background(), "0100...")
	require.NoError(t, err)
	require.Equal(t, "deadbeef", txid)
}

func TestHeaderAtDecodesDisplayOrderHashes(t *testing.T) {
	fake := newFakeRPC()
	const hash64 = "00000000000000000000aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	fake.responses["getblockhash"] = mustJSON(hash64[:64])
	fake.responses["getblockheader"] = mustJSON(blockHeaderResult{
		Version:      536870912,
		MerkleRoot:   "1111111111111111111111111111111111111111111111111111111111111111"[:64],
		Time:         1700000000,
		Bits:         "170d6fb3",
		Nonce:        12345,
		PreviousHash: "2222222222222222222222222222222222222222222222222222222222222222"[:64],
	})

	client := New(fake)
	header, err := client.HeaderAt(context.Background(), 800000)
	require.NoError(t, err)
	require.Equal(t, int32(536870912), header.Version)
	require.Equal(t, uint32(1700000000), header.Timestamp)
	require.Equal(t, uint32(12345), header.Nonce)
}

func TestGetRawTransactionVerboseParsesConfirmations(t *testing.T) {
	fake := newFakeRPC()
	fake.responses["getrawtransaction"] = mustJSON(map[string]interface{}{
		"hex":           "0100",
		"confirmations": 3,
		"blockheight":   800001,
	})

	client := New(fake)
	result, err := client.GetRawTransactionVerbose(context.Background(), "abcd")
	require.NoError(t, err)
	require.Equal(t, 3, result.Confirmations)
	require.Equal(t, uint32(800001), result.BlockHeight)
}
