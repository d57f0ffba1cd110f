// Package ethereum - gas price estimation for EIP-1559 fee markets
package ethereum

import (
	"context"
	"math/big"
)

// feeSpeed selects how aggressively the adapter bids for next-block
// inclusion when the caller didn't pin an explicit feeRate.
type feeSpeed int

const (
	feeSpeedSlow feeSpeed = iota
	feeSpeedNormal
	feeSpeedFast
)

// FeeEstimator derives a maxFeePerGas recommendation from the latest block's
// base fee plus a recent-history priority fee, the same two-call EIP-1559
// scheme go-ethereum's own gas price oracle uses.
type FeeEstimator struct {
	rpc *RPCHelper
}

// NewFeeEstimator creates a new Ethereum fee estimator.
func NewFeeEstimator(rpcHelper *RPCHelper) *FeeEstimator {
	return &FeeEstimator{rpc: rpcHelper}
}

// GasPrice returns a recommended maxFeePerGas in wei for the given speed.
// Falls back to conservative fixed rates when the node's base fee or fee
// history RPCs are unavailable, so a quote never fails outright on a flaky
// node.
func (f *FeeEstimator) GasPrice(ctx context.Context, speed feeSpeed) (*big.Int, error) {
	baseFee, err := f.rpc.GetBaseFee(ctx)
	if err != nil {
		baseFee = f.fallbackBaseFee(speed)
	}

	priorityFee, err := f.rpc.GetFeeHistory(ctx, 10)
	if err != nil {
		priorityFee = big.NewInt(2e9) // 2 Gwei
	}

	var baseMultiplier, priorityMultiplier int64
	switch speed {
	case feeSpeedFast:
		baseMultiplier, priorityMultiplier = 3, 3
	case feeSpeedSlow:
		baseMultiplier, priorityMultiplier = 1, 1
	default:
		baseMultiplier, priorityMultiplier = 2, 2
	}

	maxFeePerGas := new(big.Int).Mul(baseFee, big.NewInt(baseMultiplier))
	maxFeePerGas.Add(maxFeePerGas, new(big.Int).Mul(priorityFee, big.NewInt(priorityMultiplier)))
	return maxFeePerGas, nil
}

func (f *FeeEstimator) fallbackBaseFee(speed feeSpeed) *big.Int {
	switch speed {
	case feeSpeedFast:
		return big.NewInt(50e9)
	case feeSpeedSlow:
		return big.NewInt(20e9)
	default:
		return big.NewInt(30e9)
	}
}
