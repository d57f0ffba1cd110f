// Package ethereum - BTC Relay Driver (§4.2) against an on-chain SPV header
// store, the chain-specific counterpart to relay.Driver.
package ethereum

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"github.com/btcswap/intermediary/pkg/chainadapter"
	"github.com/btcswap/intermediary/pkg/relay"
	"github.com/btcswap/intermediary/pkg/spv"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const relayABIJSON = `[
	{"type":"function","name":"getTipData","inputs":[],"outputs":[
		{"name":"commitHash","type":"bytes32"},
		{"name":"chainWork","type":"uint256"},
		{"name":"blockHeight","type":"uint32"}]},
	{"type":"function","name":"storedHeaders","inputs":[{"name":"commitHash","type":"bytes32"}],"outputs":[
		{"name":"chainWork","type":"uint256"},
		{"name":"lastDiffAdjustment","type":"uint32"},
		{"name":"blockHeight","type":"uint32"},
		{"name":"found","type":"bool"}]},
	{"type":"function","name":"saveMainHeaders","inputs":[
		{"name":"headers","type":"bytes"},
		{"name":"prevStoredHeader","type":"bytes"}],"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"saveNewForkHeaders","inputs":[
		{"name":"headers","type":"bytes"},
		{"name":"forkStartStoredHeader","type":"bytes"}],"outputs":[
		{"name":"forkId","type":"uint64"},
		{"name":"","type":"bytes32"}]},
	{"type":"function","name":"saveForkHeaders","inputs":[
		{"name":"forkId","type":"uint64"},
		{"name":"headers","type":"bytes"},
		{"name":"prevForkStoredHeader","type":"bytes"}],"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"saveInitialHeader","inputs":[
		{"name":"header","type":"bytes"},
		{"name":"epochStart","type":"uint32"},
		{"name":"prevTimestamps","type":"uint32[10]"}],"outputs":[{"name":"","type":"bytes32"}]}
]`

var relayABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(relayABIJSON))
	if err != nil {
		panic("ethereum: invalid relay ABI: " + err.Error())
	}
	relayABI = parsed
}

// encodeStoredHeader packs a StoredHeader into the compact wire layout the
// relay contract stores per commitHash, reusing spv.Header.Encode() for the
// embedded 80-byte header.
func encodeStoredHeader(s *spv.StoredHeader) []byte {
	buf := make([]byte, 0, 32+4+4+40+80)
	work := s.ChainWork.Bytes32()
	buf = append(buf, work[:]...)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], s.LastDiffAdjustment)
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], s.BlockHeight)
	buf = append(buf, tmp[:]...)
	for _, ts := range s.PrevBlockTimestamps {
		binary.BigEndian.PutUint32(tmp[:], ts)
		buf = append(buf, tmp[:]...)
	}
	buf = append(buf, s.Header.Encode()...)
	return buf
}

// RelayDriver implements relay.Driver against a BTC-Relay-shaped escrow
// contract, reusing this package's RPCHelper/TransactionBuilder/FeeEstimator
// so its fee and broadcast behavior matches the swap-escrow Adapter exactly.
type RelayDriver struct {
	chainID  string
	contract common.Address
	rpc      *RPCHelper
	builder  *TransactionBuilder
	fee      *FeeEstimator
}

func NewRelayDriver(chainID string, networkID int64, contract common.Address, rpcHelper *RPCHelper) *RelayDriver {
	return &RelayDriver{
		chainID:  chainID,
		contract: contract,
		rpc:      rpcHelper,
		builder:  NewTransactionBuilder(networkID, contract),
		fee:      NewFeeEstimator(rpcHelper),
	}
}

func (d *RelayDriver) ChainID() string { return d.chainID }

// MaxHeadersPerTx and MaxForkHeadersPerTx are calldata-size-driven
// constants: 80 bytes/header plus call overhead keeps a batch well inside a
// single block's gas limit at the adapter's fixed gas ceiling.
func (d *RelayDriver) MaxHeadersPerTx() int     { return 100 }
func (d *RelayDriver) MaxForkHeadersPerTx() int { return 50 }

func (d *RelayDriver) call(ctx context.Context, data []byte) ([]byte, error) {
	return d.rpc.Call(ctx, d.contract.Hex(), data)
}

func (d *RelayDriver) GetTipData(ctx context.Context) (*relay.TipData, error) {
	data, err := relayABI.Pack("getTipData")
	if err != nil {
		return nil, err
	}
	result, err := d.call(ctx, data)
	if err != nil {
		return nil, err
	}
	out, err := relayABI.Unpack("getTipData", result)
	if err != nil {
		return nil, err
	}
	var commitHash [32]byte
	copy(commitHash[:], out[0].([32]byte)[:])
	return &relay.TipData{
		CommitHash:  commitHash,
		ChainWork:   out[1].(*big.Int),
		BlockHeight: out[2].(uint32),
	}, nil
}

func (d *RelayDriver) RetrieveStoredHeader(ctx context.Context, ref relay.BlockRef, requiredHeight *uint32) (*relay.StoredHeaderLookup, error) {
	var commitHash [32]byte
	copy(commitHash[:], ref.BlockHash[:])
	data, err := relayABI.Pack("storedHeaders", commitHash)
	if err != nil {
		return nil, err
	}
	result, err := d.call(ctx, data)
	if err != nil {
		return nil, err
	}
	out, err := relayABI.Unpack("storedHeaders", result)
	if err != nil {
		return nil, err
	}
	found := out[3].(bool)
	if !found {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeTxNotFound, "stored header not found", nil)
	}
	height := out[2].(uint32)
	if requiredHeight != nil && height != *requiredHeight {
		return nil, chainadapter.NewNonRetryableError("ERR_HEIGHT_MISMATCH", "stored header height mismatch", nil)
	}
	stored := &spv.StoredHeader{
		LastDiffAdjustment: out[1].(uint32),
		BlockHeight:        height,
	}
	stored.ChainWork.SetBytes(out[0].(*big.Int).Bytes())
	return &relay.StoredHeaderLookup{Header: stored, TipHeight: height}, nil
}

func (d *RelayDriver) RetrieveLatestKnownBlockLog(ctx context.Context, src relay.MainChainSource) (*relay.BlockLog, error) {
	tip, err := d.GetTipData(ctx)
	if err != nil {
		return nil, err
	}
	ok, err := src.IsMainChainBlock(ctx, tip.BlockHeight, tip.CommitHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, chainadapter.NewNonRetryableError("ERR_REORG_WALK_EXHAUSTED", "relay tip is not on the main chain and no walk-back is implemented for this height", nil)
	}
	return &relay.BlockLog{ForkID: 0}, nil
}

func (d *RelayDriver) sendHeaderTx(ctx context.Context, signer chainadapter.Signer, calldata []byte, feeRate *big.Int, headers []spv.Header, prev *spv.StoredHeader) (*relay.SaveHeadersResult, error) {
	nonce, err := d.rpc.GetTransactionCount(ctx, signer.GetAddress())
	if err != nil {
		return nil, err
	}
	maxFee, priorityFee, err := resolveFeesFor(ctx, d.fee, feeRate)
	if err != nil {
		return nil, err
	}
	tx := d.builder.BuildCall(nonce, gasInit*2, maxFee, priorityFee, big.NewInt(0), calldata)

	signed, err := signWithSigner(signer, tx)
	if err != nil {
		return nil, err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if _, err := d.rpc.SendRawTransaction(ctx, "0x"+common.Bytes2Hex(raw)); err != nil {
		return nil, err
	}

	computed := relay.PrecomputeChain(prev, headers)
	var last *spv.StoredHeader
	if len(computed) > 0 {
		last = computed[len(computed)-1]
	}
	return &relay.SaveHeadersResult{
		LastStoredHeader:      last,
		Tx:                    &EthTx{chainID: d.chainID, tx: signed},
		ComputedStoredHeaders: computed,
	}, nil
}

func (d *RelayDriver) SaveMainHeaders(ctx context.Context, signer chainadapter.Signer, mainHeaders []spv.Header, prevStoredHeader *spv.StoredHeader, feeRate *big.Int) (*relay.SaveHeadersResult, error) {
	headerBytes := encodeHeaderBatch(mainHeaders)
	calldata, err := relayABI.Pack("saveMainHeaders", headerBytes, encodeStoredHeader(prevStoredHeader))
	if err != nil {
		return nil, err
	}
	return d.sendHeaderTx(ctx, signer, calldata, feeRate, mainHeaders, prevStoredHeader)
}

func (d *RelayDriver) SaveNewForkHeaders(ctx context.Context, signer chainadapter.Signer, forkHeaders []spv.Header, forkStartStoredHeader *spv.StoredHeader, feeRate *big.Int) (*relay.SaveHeadersResult, error) {
	headerBytes := encodeHeaderBatch(forkHeaders)
	calldata, err := relayABI.Pack("saveNewForkHeaders", headerBytes, encodeStoredHeader(forkStartStoredHeader))
	if err != nil {
		return nil, err
	}
	result, err := d.sendHeaderTx(ctx, signer, calldata, feeRate, forkHeaders, forkStartStoredHeader)
	if err != nil {
		return nil, err
	}
	result.ForkID = 1
	return result, nil
}

func (d *RelayDriver) SaveForkHeaders(ctx context.Context, signer chainadapter.Signer, forkID uint64, forkHeaders []spv.Header, prevForkStoredHeader *spv.StoredHeader, feeRate *big.Int) (*relay.SaveHeadersResult, error) {
	headerBytes := encodeHeaderBatch(forkHeaders)
	calldata, err := relayABI.Pack("saveForkHeaders", forkID, headerBytes, encodeStoredHeader(prevForkStoredHeader))
	if err != nil {
		return nil, err
	}
	result, err := d.sendHeaderTx(ctx, signer, calldata, feeRate, forkHeaders, prevForkStoredHeader)
	if err != nil {
		return nil, err
	}
	result.ForkID = forkID
	return result, nil
}

func (d *RelayDriver) SaveInitialHeader(ctx context.Context, signer chainadapter.Signer, header spv.Header, epochStart uint32, prevTimestamps [10]uint32, feeRate *big.Int) (*relay.SaveHeadersResult, error) {
	calldata, err := relayABI.Pack("saveInitialHeader", header.Encode(), epochStart, prevTimestamps)
	if err != nil {
		return nil, err
	}
	initial := spv.NewInitialStoredHeader(header, epochStart, 0, prevTimestamps)
	return d.sendHeaderTx(ctx, signer, calldata, feeRate, []spv.Header{header}, &initial)
}

func encodeHeaderBatch(headers []spv.Header) []byte {
	buf := make([]byte, 0, len(headers)*80)
	for _, h := range headers {
		buf = append(buf, h.Encode()...)
	}
	return buf
}

func resolveFeesFor(ctx context.Context, fee *FeeEstimator, feeRate *big.Int) (maxFee, priorityFee *big.Int, err error) {
	if feeRate != nil {
		return feeRate, feeRate, nil
	}
	price, err := fee.GasPrice(ctx, feeSpeedNormal)
	if err != nil {
		return nil, nil, err
	}
	return price, price, nil
}

func signWithSigner(signer chainadapter.Signer, tx *types.Transaction) (*types.Transaction, error) {
	signerObj, ok := signer.(*EthereumSigner)
	if !ok {
		return nil, fmt.Errorf("ethereum: relay driver requires an *EthereumSigner")
	}
	return signerObj.SignTransaction(tx)
}

var _ relay.Driver = (*RelayDriver)(nil)
