// Package relay defines the BTC Relay Driver contract (§4.2): the
// per-smart-chain component that submits Bitcoin header batches to an
// on-chain SPV contract and answers tip/height queries against it. Each
// concrete chain backend (pkg/chainadapter/ethereum, pkg/chainadapter/solana)
// implements Driver against its own relay contract ABI/program; this
// package carries only the chain-agnostic batching and header-chain
// precomputation, grounded on the way the teacher's adapter layer
// (src/chainadapter/ethereum/adapter.go) separates "pure construction" from
// "signed send" for every other tx family.
package relay

import (
	"context"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcswap/intermediary/pkg/chainadapter"
	"github.com/btcswap/intermediary/pkg/spv"
)

// TipData is the relay contract's current commitment.
type TipData struct {
	CommitHash  [32]byte
	ChainWork   *big.Int
	BlockHeight uint32
}

// BlockRef identifies a stored header by block hash and height.
type BlockRef struct {
	BlockHash chainhash.Hash
	Height    uint32
}

// StoredHeaderLookup is the result of RetrieveStoredHeader.
type StoredHeaderLookup struct {
	Header    *spv.StoredHeader
	TipHeight uint32
}

// BlockLog is the newest relay-committed block that retrieveLatestKnownBlockLog
// has confirmed is still on Bitcoin's main chain.
type BlockLog struct {
	StoredHeader  *spv.StoredHeader
	BitcoinHeader *spv.Header
	ForkID        uint64
}

// SaveHeadersResult is returned by every saveXHeaders call.
type SaveHeadersResult struct {
	ForkID                uint64 // 0 once the batch is (or makes) main chain
	LastStoredHeader      *spv.StoredHeader
	Tx                    chainadapter.NativeTx
	ComputedStoredHeaders []*spv.StoredHeader // precomputed locally, indexed parallel to the submitted header batch
}

// MainChainSource answers "is this block still part of Bitcoin's main
// chain" queries, used by RetrieveLatestKnownBlockLog to walk the relay's
// event log backward until it finds an un-reorged commitment.
type MainChainSource interface {
	IsMainChainBlock(ctx context.Context, height uint32, blockHash [32]byte) (bool, error)
}

// Driver is the public BTC Relay Driver contract (§4.2).
type Driver interface {
	// ChainID identifies the smart chain this relay contract lives on.
	ChainID() string

	// MaxHeadersPerTx bounds a saveMainHeaders/saveInitialHeader batch.
	MaxHeadersPerTx() int
	// MaxForkHeadersPerTx bounds a saveNewForkHeaders/saveForkHeaders batch.
	MaxForkHeadersPerTx() int

	GetTipData(ctx context.Context) (*TipData, error)

	// RetrieveStoredHeader looks up a previously committed header by
	// reference. requiredHeight, if non-nil, additionally verifies the
	// stored header sits at that height.
	RetrieveStoredHeader(ctx context.Context, ref BlockRef, requiredHeight *uint32) (*StoredHeaderLookup, error)

	// RetrieveLatestKnownBlockLog walks the relay's event log backward
	// using src to find the newest block both recorded by the relay and
	// still part of Bitcoin's main chain.
	RetrieveLatestKnownBlockLog(ctx context.Context, src MainChainSource) (*BlockLog, error)

	SaveMainHeaders(ctx context.Context, signer chainadapter.Signer, mainHeaders []spv.Header, prevStoredHeader *spv.StoredHeader, feeRate *big.Int) (*SaveHeadersResult, error)
	SaveNewForkHeaders(ctx context.Context, signer chainadapter.Signer, forkHeaders []spv.Header, forkStartStoredHeader *spv.StoredHeader, feeRate *big.Int) (*SaveHeadersResult, error)
	SaveForkHeaders(ctx context.Context, signer chainadapter.Signer, forkID uint64, forkHeaders []spv.Header, prevForkStoredHeader *spv.StoredHeader, feeRate *big.Int) (*SaveHeadersResult, error)
	SaveInitialHeader(ctx context.Context, signer chainadapter.Signer, header spv.Header, epochStart uint32, prevTimestamps [10]uint32, feeRate *big.Int) (*SaveHeadersResult, error)
}

// PrecomputeChain applies StoredHeader.ComputeNext across a header batch
// starting from prev, so callers (the synchronizer) can reference mid-batch
// blocks without a round trip back to the chain, per §4.2's "driver
// pre-computes the chain of stored headers locally" edge policy.
func PrecomputeChain(prev *spv.StoredHeader, headers []spv.Header) []*spv.StoredHeader {
	out := make([]*spv.StoredHeader, len(headers))
	cur := *prev
	for i, h := range headers {
		cur = cur.ComputeNext(h)
		stored := cur
		out[i] = &stored
	}
	return out
}

// Batches splits headers into chunks no longer than maxPerTx, preserving
// order, for callers that must submit more headers than a single tx allows.
func Batches(headers []spv.Header, maxPerTx int) [][]spv.Header {
	if maxPerTx <= 0 {
		return [][]spv.Header{headers}
	}
	var out [][]spv.Header
	for i := 0; i < len(headers); i += maxPerTx {
		end := i + maxPerTx
		if end > len(headers) {
			end = len(headers)
		}
		out = append(out, headers[i:end])
	}
	return out
}
