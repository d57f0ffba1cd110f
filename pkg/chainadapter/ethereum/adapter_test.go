package ethereum

import (
	"math/big"
	"testing"
	"time"

	"github.com/btcswap/intermediary/pkg/chainadapter"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func newTestAdapter() *Adapter {
	return NewAdapter("ethereum-sepolia", 11155111, common.HexToAddress("0x00000000000000000000000000000000001234"), nil, nil)
}

func TestHashForOnchainIsDeterministic(t *testing.T) {
	a := newTestAdapter()
	outputScript := []byte{0x00, 0x14, 0x01, 0x02, 0x03, 0x04}

	h1 := a.HashForOnchain(outputScript, 100000, 0x0000000000ABCDEF)
	h2 := a.HashForOnchain(outputScript, 100000, 0x0000000000ABCDEF)
	require.Equal(t, h1, h2)

	h3 := a.HashForOnchain(outputScript, 100001, 0x0000000000ABCDEF)
	require.NotEqual(t, h1, h3)
}

func TestHashForOnchainSensitiveToNonce(t *testing.T) {
	a := newTestAdapter()
	outputScript := []byte{0xAA, 0xBB}

	h1 := a.HashForOnchain(outputScript, 5000, 1)
	h2 := a.HashForOnchain(outputScript, 5000, 2)
	require.NotEqual(t, h1, h2)
}

func TestCreateSwapDataValidatesAddresses(t *testing.T) {
	a := newTestAdapter()
	_, err := a.CreateSwapData(chainadapter.KindHTLC, "not-an-address", "0x0000000000000000000000000000000000dEaD",
		"", big.NewInt(1000), [32]byte{1}, 1, time.Now().Unix()+3600, 0, 3, false, true, nil, nil)
	require.Error(t, err)
}

func TestCreateSwapDataRejectsZeroAmount(t *testing.T) {
	a := newTestAdapter()
	_, err := a.CreateSwapData(chainadapter.KindHTLC,
		"0x0000000000000000000000000000000000bEEF", "0x0000000000000000000000000000000000dEaD",
		"", big.NewInt(0), [32]byte{1}, 1, time.Now().Unix()+3600, 0, 3, false, true, nil, nil)
	require.Error(t, err)
}

func TestCreateSwapDataDefaultsNilBounties(t *testing.T) {
	a := newTestAdapter()
	swap, err := a.CreateSwapData(chainadapter.KindChainNonced,
		"0x0000000000000000000000000000000000bEEF", "0x0000000000000000000000000000000000dEaD",
		"", big.NewInt(50000), [32]byte{1}, 42, time.Now().Unix()+3600, 7, 3, false, true, nil, nil)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), swap.SecurityDeposit)
	require.Equal(t, big.NewInt(0), swap.ClaimerBounty)
}

func TestAuthMessageRoundTripsThroughSignAndVerify(t *testing.T) {
	signer, err := NewEthereumSigner("0101010101010101010101010101010101010101010101010101010101010101", 11155111)
	require.NoError(t, err)

	commitHash := [32]byte{9, 9, 9}
	timeout := time.Now().Unix() + 300
	msg := authMessage("initialize", commitHash, timeout)
	hash := crypto.Keccak256(msg)
	sig, err := signer.Sign(hash, signer.GetAddress())
	require.NoError(t, err)

	valid, err := VerifySignature(hash, sig, signer.GetAddress())
	require.NoError(t, err)
	require.True(t, valid)
}
