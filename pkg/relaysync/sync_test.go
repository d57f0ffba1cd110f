package relaysync

import (
	"context"
	"math/big"
	"testing"

	"github.com/btcswap/intermediary/pkg/chainadapter"
	"github.com/btcswap/intermediary/pkg/relay"
	"github.com/btcswap/intermediary/pkg/spv"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

type fakeTx struct{ id string }

func (f fakeTx) ChainID() string { return "fake:1" }

type fakeSource struct {
	tip     uint32
	headers map[uint32]spv.Header
}

func (f *fakeSource) TipHeight(ctx context.Context) (uint32, error) { return f.tip, nil }

func (f *fakeSource) HeadersFrom(ctx context.Context, from, to uint32) ([]spv.Header, error) {
	var out []spv.Header
	for h := from; h <= to; h++ {
		out = append(out, f.headers[h])
	}
	return out, nil
}

func (f *fakeSource) HeaderAt(ctx context.Context, height uint32) (spv.Header, error) {
	return f.headers[height], nil
}

type fakeDriver struct {
	maxMain int
	maxFork int
	blockLog *relay.BlockLog
	// oldTipWork is the relay's previous main-tip chainwork the fork must
	// exceed before SaveForkHeaders reports it has been promoted to main
	// (ForkID 0). Left zero-valued, every non-empty batch trivially exceeds
	// it.
	oldTipWork uint256.Int
	// forkIDsReturned records the ForkID each saveNewForkHeaders/
	// saveForkHeaders call reported, in call order, for tests that assert
	// on exactly when the fork gets promoted to main.
	forkIDsReturned []uint64
}

func (d *fakeDriver) ChainID() string              { return "fake:1" }
func (d *fakeDriver) MaxHeadersPerTx() int          { return d.maxMain }
func (d *fakeDriver) MaxForkHeadersPerTx() int      { return d.maxFork }
func (d *fakeDriver) GetTipData(ctx context.Context) (*relay.TipData, error) {
	return &relay.TipData{BlockHeight: d.blockLog.StoredHeader.BlockHeight}, nil
}
func (d *fakeDriver) RetrieveStoredHeader(ctx context.Context, ref relay.BlockRef, requiredHeight *uint32) (*relay.StoredHeaderLookup, error) {
	return nil, nil
}
func (d *fakeDriver) RetrieveLatestKnownBlockLog(ctx context.Context, src relay.MainChainSource) (*relay.BlockLog, error) {
	return d.blockLog, nil
}
func (d *fakeDriver) SaveMainHeaders(ctx context.Context, signer chainadapter.Signer, mainHeaders []spv.Header, prev *spv.StoredHeader, feeRate *big.Int) (*relay.SaveHeadersResult, error) {
	chain := relay.PrecomputeChain(prev, mainHeaders)
	return &relay.SaveHeadersResult{
		ForkID:                0,
		LastStoredHeader:      chain[len(chain)-1],
		Tx:                    fakeTx{id: "main"},
		ComputedStoredHeaders: chain,
	}, nil
}
func (d *fakeDriver) SaveNewForkHeaders(ctx context.Context, signer chainadapter.Signer, forkHeaders []spv.Header, forkStart *spv.StoredHeader, feeRate *big.Int) (*relay.SaveHeadersResult, error) {
	chain := relay.PrecomputeChain(forkStart, forkHeaders)
	d.forkIDsReturned = append(d.forkIDsReturned, 7)
	return &relay.SaveHeadersResult{
		ForkID:                7,
		LastStoredHeader:      chain[len(chain)-1],
		Tx:                    fakeTx{id: "newfork"},
		ComputedStoredHeaders: chain,
	}, nil
}
func (d *fakeDriver) SaveForkHeaders(ctx context.Context, signer chainadapter.Signer, forkID uint64, forkHeaders []spv.Header, prev *spv.StoredHeader, feeRate *big.Int) (*relay.SaveHeadersResult, error) {
	chain := relay.PrecomputeChain(prev, forkHeaders)
	result := &relay.SaveHeadersResult{
		ForkID:                forkID,
		LastStoredHeader:      chain[len(chain)-1],
		Tx:                    fakeTx{id: "fork"},
		ComputedStoredHeaders: chain,
	}
	if chain[len(chain)-1].ChainWork.Cmp(&d.oldTipWork) > 0 {
		result.ForkID = 0
	}
	d.forkIDsReturned = append(d.forkIDsReturned, result.ForkID)
	return result, nil
}
func (d *fakeDriver) SaveInitialHeader(ctx context.Context, signer chainadapter.Signer, header spv.Header, epochStart uint32, prevTimestamps [10]uint32, feeRate *big.Int) (*relay.SaveHeadersResult, error) {
	return nil, nil
}

func TestSyncToLatestTxsAppendsMainChain(t *testing.T) {
	base := &spv.StoredHeader{BlockHeight: 100}
	src := &fakeSource{
		tip: 103,
		headers: map[uint32]spv.Header{
			101: {Bits: 0x1d00ffff, Timestamp: 1},
			102: {Bits: 0x1d00ffff, Timestamp: 2},
			103: {Bits: 0x1d00ffff, Timestamp: 3},
		},
	}
	driver := &fakeDriver{
		maxMain: 2,
		maxFork: 2,
		blockLog: &relay.BlockLog{StoredHeader: base, BitcoinHeader: &spv.Header{}, ForkID: 0},
	}

	sync := New(driver, src)
	result, err := sync.SyncToLatestTxs(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, result.Txs, 2, "3 headers batched at maxMain=2 yields 2 txs")
	require.Equal(t, uint32(103), result.TargetStoredHeader.BlockHeight)
	require.Equal(t, uint64(0), result.StartForkID)
}

func TestSyncToLatestTxsNoOpWhenRelayAlreadyAtTip(t *testing.T) {
	base := &spv.StoredHeader{BlockHeight: 100}
	src := &fakeSource{tip: 100, headers: map[uint32]spv.Header{}}
	driver := &fakeDriver{
		maxMain: 5,
		maxFork: 5,
		blockLog: &relay.BlockLog{StoredHeader: base, BitcoinHeader: &spv.Header{}, ForkID: 0},
	}

	sync := New(driver, src)
	result, err := sync.SyncToLatestTxs(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, result.Txs)
}

// TestSyncToLatestTxsReorgPromotesFork covers spec §8 scenario 6: the
// relay's tip sits on a chain Bitcoin no longer considers main (ForkID != 0
// on the last known block log). The synchronizer must walk the new best
// chain via one saveNewForkHeaders call followed by saveForkHeaders calls,
// flipping to ForkID 0 only once the accumulated chainwork exceeds the
// relay's stale tip.
func TestSyncToLatestTxsReorgPromotesFork(t *testing.T) {
	base := &spv.StoredHeader{BlockHeight: 100}
	headers := map[uint32]spv.Header{
		101: {Bits: 0x1d00ffff, Timestamp: 1},
		102: {Bits: 0x1d00ffff, Timestamp: 2},
		103: {Bits: 0x1d00ffff, Timestamp: 3},
		104: {Bits: 0x1d00ffff, Timestamp: 4},
		105: {Bits: 0x1d00ffff, Timestamp: 5},
	}
	src := &fakeSource{tip: 105, headers: headers}

	perBlockWork := spv.DifficultyFromNbits(0x1d00ffff)
	fourBlocks := new(uint256.Int).Mul(perBlockWork, uint256.NewInt(4))
	halfBlock := new(uint256.Int).Div(perBlockWork, uint256.NewInt(2))
	// At this nbits one block's work is 1, so halfBlock rounds to 0 and this
	// equals 4 blocks' work; promotion needs strictly more, so only the third
	// save call (the second, single-header saveForkHeaders) crosses it.
	oldTipWork := new(uint256.Int).Add(fourBlocks, halfBlock)

	driver := &fakeDriver{
		maxMain:    5,
		maxFork:    2,
		blockLog:   &relay.BlockLog{StoredHeader: base, BitcoinHeader: &spv.Header{}, ForkID: 3},
		oldTipWork: *oldTipWork,
	}

	sync := New(driver, src)
	result, err := sync.SyncToLatestTxs(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(3), result.StartForkID)
	require.Len(t, result.Txs, 3, "5 headers batched at maxFork=2 yields one new-fork tx plus two fork-extend txs")
	require.Equal(t, "newfork", result.Txs[0].(fakeTx).id)
	require.Equal(t, "fork", result.Txs[1].(fakeTx).id)
	require.Equal(t, "fork", result.Txs[2].(fakeTx).id)
	require.Equal(t, uint32(105), result.TargetStoredHeader.BlockHeight)

	require.Equal(t, []uint64{7, 7, 0}, driver.forkIDsReturned,
		"fork stays non-zero through 2 and 4 blocks of work, flips to 0 only once the 5th block's accumulated work passes the old tip")
}

func TestSyncToHeightReturnsErrorWhenUnreachable(t *testing.T) {
	base := &spv.StoredHeader{BlockHeight: 100}
	src := &fakeSource{tip: 101, headers: map[uint32]spv.Header{101: {Bits: 0x1d00ffff, Timestamp: 1}}}
	driver := &fakeDriver{
		maxMain: 5,
		maxFork: 5,
		blockLog: &relay.BlockLog{StoredHeader: base, BitcoinHeader: &spv.Header{}, ForkID: 0},
	}

	sync := New(driver, src)
	_, err := sync.SyncToHeight(context.Background(), 200)
	require.Error(t, err)
}
