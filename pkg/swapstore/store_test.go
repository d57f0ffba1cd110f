package swapstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/btcswap/intermediary/pkg/swap"
	"github.com/stretchr/testify/require"
)

func sampleRecord(paymentHash byte, seq uint64, dir swap.Direction, state swap.State) *swap.Record {
	var r swap.Record
	r.PaymentHash = [32]byte{paymentHash}
	r.Sequence = seq
	r.Direction = dir
	r.State = state
	r.Metadata.QuotedAt = time.Now()
	return &r
}

func testStoreContract(t *testing.T, newStore func() Store) {
	s := newStore()

	k1 := swap.Key{PaymentHash: [32]byte{1}, Sequence: 1}
	got, err := s.Get(k1)
	require.NoError(t, err)
	require.Nil(t, got)

	r1 := sampleRecord(1, 1, swap.DirectionToBtc, "Quoted")
	require.NoError(t, s.Set(k1, r1))

	got, err = s.Get(k1)
	require.NoError(t, err)
	require.Equal(t, swap.State("Quoted"), got.State)

	r2 := sampleRecord(2, 2, swap.DirectionFromBtc, "Committed")
	require.NoError(t, s.Set(swap.Key{PaymentHash: [32]byte{2}, Sequence: 2}, r2))

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 2)

	byDir, err := s.ListByDirection(swap.DirectionToBtc)
	require.NoError(t, err)
	require.Len(t, byDir, 1)

	byState, err := s.ListByState(swap.DirectionFromBtc, "Committed")
	require.NoError(t, err)
	require.Len(t, byState, 1)

	require.NoError(t, s.Delete(k1))
	got, err = s.Get(k1)
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, s.Delete(k1), "delete is idempotent")
}

func TestMemoryStoreContract(t *testing.T) {
	testStoreContract(t, func() Store { return NewMemoryStore() })
}

func TestFileStoreContract(t *testing.T) {
	dir := t.TempDir()
	testStoreContract(t, func() Store {
		s, err := NewFileStore(filepath.Join(dir, "swaps.json"))
		require.NoError(t, err)
		return s
	})
}

func TestFileStorePersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swaps.json")

	s1, err := NewFileStore(path)
	require.NoError(t, err)

	k := swap.Key{PaymentHash: [32]byte{7}, Sequence: 99}
	require.NoError(t, s1.Set(k, sampleRecord(7, 99, swap.DirectionToBtcLn, "AwaitingSettle")))

	s2, err := NewFileStore(path)
	require.NoError(t, err)

	got, err := s2.Get(k)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, swap.State("AwaitingSettle"), got.State)
}

func TestCleanRemovesOnlyOldTerminalRecords(t *testing.T) {
	s := NewMemoryStore()

	oldTerminal := sampleRecord(1, 1, swap.DirectionToBtc, "Claimed")
	oldTerminal.Metadata.QuotedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.Set(oldTerminal.Key(), oldTerminal))

	recentTerminal := sampleRecord(2, 2, swap.DirectionToBtc, "Refunded")
	recentTerminal.Metadata.QuotedAt = time.Now()
	require.NoError(t, s.Set(recentTerminal.Key(), recentTerminal))

	oldActive := sampleRecord(3, 3, swap.DirectionToBtc, "Committed")
	oldActive.Metadata.QuotedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.Set(oldActive.Key(), oldActive))

	n, err := s.Clean(time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
}
