// Package ethereum - unsigned transaction construction for the escrow contract
package ethereum

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TransactionBuilder assembles unsigned EIP-1559 calls against a single
// escrow contract address. One instance per adapter; stateless otherwise.
type TransactionBuilder struct {
	chainID  *big.Int
	contract common.Address
}

// NewTransactionBuilder creates a builder targeting the given escrow contract.
func NewTransactionBuilder(chainID int64, contract common.Address) *TransactionBuilder {
	return &TransactionBuilder{
		chainID:  big.NewInt(chainID),
		contract: contract,
	}
}

// BuildCall constructs an unsigned EIP-1559 transaction invoking the escrow
// contract with the given ABI-encoded calldata and native value.
func (tb *TransactionBuilder) BuildCall(nonce, gasLimit uint64, maxFeePerGas, maxPriorityFeePerGas, value *big.Int, calldata []byte) *types.Transaction {
	if value == nil {
		value = big.NewInt(0)
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   tb.chainID,
		Nonce:     nonce,
		GasFeeCap: maxFeePerGas,
		GasTipCap: maxPriorityFeePerGas,
		Gas:       gasLimit,
		To:        &tb.contract,
		Value:     value,
		Data:      calldata,
	})
}

// isValidAddress checks if an Ethereum address is a well-formed 0x-prefixed
// 20-byte hex string.
func (tb *TransactionBuilder) isValidAddress(addr string) bool {
	if !strings.HasPrefix(addr, "0x") {
		return false
	}
	if len(addr) != 42 {
		return false
	}
	return common.IsHexAddress(addr)
}

// ValidateChecksum validates EIP-55 checksummed address casing.
func (tb *TransactionBuilder) ValidateChecksum(addr string) bool {
	return common.HexToAddress(addr).Hex() == addr
}
