package payout

import (
	"math/big"
	"testing"

	"github.com/btcswap/intermediary/pkg/bitcoinrpc"
	"github.com/stretchr/testify/require"
)

func TestSelectCoinsFoldsSubDustChangeIntoFee(t *testing.T) {
	utxos := []bitcoinrpc.UTXO{
		{TxID: "a", Vout: 0, AmountSats: 100_300},
	}
	result, err := SelectCoins(utxos, 100_000, 1, 2)
	require.NoError(t, err)
	require.Equal(t, int64(0), result.ChangeSats)
	require.Greater(t, result.EstimatedFee, int64(0))
}

func TestSelectCoinsAccumulatesAcrossMultipleUTXOs(t *testing.T) {
	utxos := []bitcoinrpc.UTXO{
		{TxID: "a", Vout: 0, AmountSats: 50_000},
		{TxID: "b", Vout: 0, AmountSats: 60_000},
	}
	result, err := SelectCoins(utxos, 100_000, 5, 2)
	require.NoError(t, err)
	require.Len(t, result.Selected, 2)
	require.Greater(t, result.ChangeSats, int64(0))
}

func TestSelectCoinsReturnsErrorWhenInsufficient(t *testing.T) {
	utxos := []bitcoinrpc.UTXO{{TxID: "a", Vout: 0, AmountSats: 1000}}
	_, err := SelectCoins(utxos, 100_000, 5, 2)
	require.Error(t, err)
}

func TestCheckAnchorReserveRejectsWhenBelowThreshold(t *testing.T) {
	err := CheckAnchorReserve(100_000, 95_000, big.NewInt(10_000), 1)
	require.Error(t, err)
}

func TestCheckAnchorReserveAcceptsWhenAboveThreshold(t *testing.T) {
	err := CheckAnchorReserve(200_000, 50_000, big.NewInt(10_000), 1)
	require.NoError(t, err)
}
