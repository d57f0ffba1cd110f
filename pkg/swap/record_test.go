package swap

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/btcswap/intermediary/pkg/chainadapter"
	"github.com/stretchr/testify/require"
)

func TestLockTryAcquireIsNonBlocking(t *testing.T) {
	var l Lock
	require.True(t, l.TryAcquire(50*time.Millisecond))
	require.False(t, l.TryAcquire(50*time.Millisecond), "second acquire before release or TTL must fail, not block")
}

func TestLockReleaseAllowsReacquire(t *testing.T) {
	var l Lock
	require.True(t, l.TryAcquire(time.Minute))
	l.Release()
	require.True(t, l.TryAcquire(time.Minute))
}

func TestLockTTLExpiryAllowsReacquire(t *testing.T) {
	var l Lock
	require.True(t, l.TryAcquire(10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	require.True(t, l.TryAcquire(time.Minute))
}

func TestIsTerminal(t *testing.T) {
	require.True(t, IsTerminal("Claimed"))
	require.True(t, IsTerminal("Refunded"))
	require.True(t, IsTerminal("Canceled"))
	require.True(t, IsTerminal("Settled"))
	require.False(t, IsTerminal("Committed"))
}

func TestRecordJSONRoundTrip(t *testing.T) {
	var r Record
	r.ChainID = "evm:1"
	r.Sequence = 7
	r.Direction = DirectionToBtc
	r.State = "Committed"
	r.PaymentHash = [32]byte{1, 2, 3}
	r.Fees = Fees{
		SwapFeeBTC:      big.NewInt(1500),
		SwapFeeToken:    big.NewInt(200000),
		NetworkFeeSats:  big.NewInt(300),
		NetworkFeeToken: big.NewInt(0),
		MaxSatsPerVByte: big.NewInt(50),
	}
	r.TxIDs = TxIDs{Init: "0xabc"}
	r.Metadata = Metadata{QuotedAt: time.Unix(1700000000, 0).UTC()}
	r.ContractData = &chainadapter.SwapData{
		Kind:            chainadapter.KindChainNonced,
		Offerer:         "0xoff",
		Claimer:         "0xclaim",
		Token:           "0xtoken",
		Amount:          big.NewInt(123456789),
		PaymentHash:     r.PaymentHash,
		Sequence:        7,
		Expiry:          1700001000,
		Confirmations:   3,
		EscrowNonce:     987654321,
		PayIn:           true,
		PayOut:          false,
		SecurityDeposit: big.NewInt(5000),
		ClaimerBounty:   big.NewInt(1000),
	}
	r.Authorization = &chainadapter.Authorization{
		Prefix:    "refund",
		Timeout:   1700002000,
		Signature: []byte{0xde, 0xad, 0xbe, 0xef},
	}

	data, err := json.Marshal(&r)
	require.NoError(t, err)

	var back Record
	require.NoError(t, json.Unmarshal(data, &back))

	require.Equal(t, r.ChainID, back.ChainID)
	require.Equal(t, r.PaymentHash, back.PaymentHash)
	require.Equal(t, r.Sequence, back.Sequence)
	require.Equal(t, r.Direction, back.Direction)
	require.Equal(t, r.State, back.State)
	require.Equal(t, r.Fees.SwapFeeBTC, back.Fees.SwapFeeBTC)
	require.Equal(t, r.Fees.MaxSatsPerVByte, back.Fees.MaxSatsPerVByte)
	require.Equal(t, r.TxIDs, back.TxIDs)
	require.True(t, r.Metadata.QuotedAt.Equal(back.Metadata.QuotedAt))
	require.Equal(t, r.ContractData.Kind, back.ContractData.Kind)
	require.Equal(t, r.ContractData.Amount, back.ContractData.Amount)
	require.Equal(t, r.ContractData.PaymentHash, back.ContractData.PaymentHash)
	require.Equal(t, r.ContractData.EscrowNonce, back.ContractData.EscrowNonce)
	require.Equal(t, r.Authorization.Prefix, back.Authorization.Prefix)
	require.Equal(t, r.Authorization.Signature, back.Authorization.Signature)

	// a freshly deserialized record's lock starts unlocked
	require.True(t, back.Lock().TryAcquire(time.Minute))
}

func TestRecordKey(t *testing.T) {
	var r Record
	r.PaymentHash = [32]byte{9, 9, 9}
	r.Sequence = 42
	require.Equal(t, Key{PaymentHash: [32]byte{9, 9, 9}, Sequence: 42}, r.Key())
}
