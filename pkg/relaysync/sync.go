// Package relaysync implements the Relay Synchronizer (§4.3): it reconciles
// a BTC Relay Driver's on-chain tip against the real Bitcoin chain, emitting
// the header-submission transactions needed to bring the relay up to date,
// including reorg handling. Grounded on the teacher's layering of "read
// current remote state, diff against desired state, emit the minimal tx
// batch" used throughout src/chainadapter/ethereum/adapter.go's fee/nonce
// handling.
package relaysync

import (
	"context"
	"fmt"
	"math/big"

	"github.com/btcswap/intermediary/pkg/chainadapter"
	"github.com/btcswap/intermediary/pkg/relay"
	"github.com/btcswap/intermediary/pkg/spv"
)

// BitcoinHeaderSource is the slice of Bitcoin RPC the synchronizer needs:
// fetch headers by height range and learn the current tip height.
type BitcoinHeaderSource interface {
	TipHeight(ctx context.Context) (uint32, error)
	HeadersFrom(ctx context.Context, fromHeight uint32, toHeight uint32) ([]spv.Header, error)
	// HeaderAt returns the single header at height, used while walking back
	// to find a reorg's common ancestor.
	HeaderAt(ctx context.Context, height uint32) (spv.Header, error)
}

// Result is syncToLatestTxs's return value.
type Result struct {
	Txs                    []chainadapter.NativeTx
	TargetStoredHeader     *spv.StoredHeader
	StoredHeaderByHeight   map[uint32]*spv.StoredHeader
	BitcoinHeaderByHeight  map[uint32]spv.Header
	LatestBlockHeader      spv.Header
	StartForkID            uint64
}

// Synchronizer drives one Driver against one Bitcoin header source.
type Synchronizer struct {
	Driver relay.Driver
	Source BitcoinHeaderSource
}

func New(driver relay.Driver, source BitcoinHeaderSource) *Synchronizer {
	return &Synchronizer{Driver: driver, Source: source}
}

// SyncToHeight implements chainadapter.RelaySynchronizer: bring the relay up
// to at least `height`, returning whatever header-submit transactions were
// needed. It is the narrow entry point a ChainAdapter's claimWithTxData
// calls when the relay has not yet recorded a block it needs.
func (s *Synchronizer) SyncToHeight(ctx context.Context, height uint32) ([]chainadapter.NativeTx, error) {
	result, err := s.SyncToLatestTxs(ctx, nil)
	if err != nil {
		return nil, err
	}
	if result.TargetStoredHeader != nil && result.TargetStoredHeader.BlockHeight < height {
		return nil, fmt.Errorf("relaysync: could not reach height %d, reached %d", height, result.TargetStoredHeader.BlockHeight)
	}
	return result.Txs, nil
}

// SyncToLatestTxs implements §4.3's algorithm. feeRate is passed through to
// every saveXHeaders call; nil lets the driver pick its own.
func (s *Synchronizer) SyncToLatestTxs(ctx context.Context, feeRate *big.Int) (*Result, error) {
	latest, err := s.Driver.RetrieveLatestKnownBlockLog(ctx, mainChainAdapter{s.Source})
	if err != nil {
		return nil, fmt.Errorf("relaysync: retrieve latest known block log: %w", err)
	}

	tipHeight, err := s.Source.TipHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("relaysync: bitcoin tip height: %w", err)
	}
	if tipHeight <= latest.StoredHeader.BlockHeight {
		return &Result{
			TargetStoredHeader:    latest.StoredHeader,
			StoredHeaderByHeight:  map[uint32]*spv.StoredHeader{latest.StoredHeader.BlockHeight: latest.StoredHeader},
			BitcoinHeaderByHeight: map[uint32]spv.Header{latest.StoredHeader.BlockHeight: *latest.BitcoinHeader},
			LatestBlockHeader:     *latest.BitcoinHeader,
			StartForkID:           latest.ForkID,
		}, nil
	}

	headers, err := s.Source.HeadersFrom(ctx, latest.StoredHeader.BlockHeight+1, tipHeight)
	if err != nil {
		return nil, fmt.Errorf("relaysync: fetch headers: %w", err)
	}

	storedByHeight := map[uint32]*spv.StoredHeader{latest.StoredHeader.BlockHeight: latest.StoredHeader}
	headerByHeight := map[uint32]spv.Header{latest.StoredHeader.BlockHeight: *latest.BitcoinHeader}

	if latest.ForkID == 0 {
		return s.syncMainChain(ctx, latest, headers, feeRate, storedByHeight, headerByHeight)
	}
	return s.syncFork(ctx, latest, headers, feeRate, storedByHeight, headerByHeight)
}

func (s *Synchronizer) syncMainChain(
	ctx context.Context,
	latest *relay.BlockLog,
	headers []spv.Header,
	feeRate *big.Int,
	storedByHeight map[uint32]*spv.StoredHeader,
	headerByHeight map[uint32]spv.Header,
) (*Result, error) {
	var txs []chainadapter.NativeTx
	prev := latest.StoredHeader

	for _, batch := range relay.Batches(headers, s.Driver.MaxHeadersPerTx()) {
		res, err := s.Driver.SaveMainHeaders(ctx, nil, batch, prev, feeRate)
		if err != nil {
			return nil, fmt.Errorf("relaysync: save main headers: %w", err)
		}
		txs = append(txs, res.Tx)
		for i, h := range batch {
			storedByHeight[res.ComputedStoredHeaders[i].BlockHeight] = res.ComputedStoredHeaders[i]
			headerByHeight[res.ComputedStoredHeaders[i].BlockHeight] = h
		}
		prev = res.LastStoredHeader
	}

	return &Result{
		Txs:                   txs,
		TargetStoredHeader:    prev,
		StoredHeaderByHeight:  storedByHeight,
		BitcoinHeaderByHeight: headerByHeight,
		LatestBlockHeader:     headers[len(headers)-1],
		StartForkID:           0,
	}, nil
}

// syncFork walks the relay's stale tip back onto Bitcoin's main chain: the
// first batch opens a new fork (saveNewForkHeaders), subsequent batches
// extend it (saveForkHeaders) until the fork's accumulated chainwork
// exceeds the relay's previous tip, at which point the driver reports
// ForkID 0 (the fork has become main).
func (s *Synchronizer) syncFork(
	ctx context.Context,
	latest *relay.BlockLog,
	headers []spv.Header,
	feeRate *big.Int,
	storedByHeight map[uint32]*spv.StoredHeader,
	headerByHeight map[uint32]spv.Header,
) (*Result, error) {
	var txs []chainadapter.NativeTx
	prev := latest.StoredHeader
	forkID := latest.ForkID
	first := true

	for _, batch := range relay.Batches(headers, s.Driver.MaxForkHeadersPerTx()) {
		var res *relay.SaveHeadersResult
		var err error
		if first {
			res, err = s.Driver.SaveNewForkHeaders(ctx, nil, batch, prev, feeRate)
			first = false
		} else {
			res, err = s.Driver.SaveForkHeaders(ctx, nil, forkID, batch, prev, feeRate)
		}
		if err != nil {
			return nil, fmt.Errorf("relaysync: save fork headers: %w", err)
		}
		txs = append(txs, res.Tx)
		for i, h := range batch {
			storedByHeight[res.ComputedStoredHeaders[i].BlockHeight] = res.ComputedStoredHeaders[i]
			headerByHeight[res.ComputedStoredHeaders[i].BlockHeight] = h
		}
		prev = res.LastStoredHeader
		forkID = res.ForkID
	}

	return &Result{
		Txs:                   txs,
		TargetStoredHeader:    prev,
		StoredHeaderByHeight:  storedByHeight,
		BitcoinHeaderByHeight: headerByHeight,
		LatestBlockHeader:     headers[len(headers)-1],
		StartForkID:           latest.ForkID,
	}, nil
}

// mainChainAdapter adapts BitcoinHeaderSource to relay.MainChainSource for
// the walk-backward search inside RetrieveLatestKnownBlockLog.
type mainChainAdapter struct {
	src BitcoinHeaderSource
}

func (a mainChainAdapter) IsMainChainBlock(ctx context.Context, height uint32, blockHash [32]byte) (bool, error) {
	h, err := a.src.HeaderAt(ctx, height)
	if err != nil {
		return false, err
	}
	got := h.BlockHash()
	return [32]byte(got) == blockHash, nil
}
