package demux

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/btcswap/intermediary/pkg/chainadapter"
	"github.com/btcswap/intermediary/pkg/swap"
	"github.com/stretchr/testify/require"
)

// fakeAdapter embeds the (nil) interface so it only needs to implement the
// methods this test exercises, matching the teacher's narrow hand-written
// fakes (tests/mocks/*.go).
type fakeAdapter struct {
	chainadapter.ChainAdapter
	events chan *chainadapter.Event
}

func (f *fakeAdapter) ChainID() string { return "fake:1" }

func (f *fakeAdapter) SubscribeEvents(ctx context.Context) (<-chan *chainadapter.Event, error) {
	return f.events, nil
}

type recordingHandler struct {
	initialized, claimed, refunded int
}

func (h *recordingHandler) OnInitialize(ctx context.Context, ev *chainadapter.Event) error {
	h.initialized++
	return nil
}
func (h *recordingHandler) OnClaim(ctx context.Context, ev *chainadapter.Event) error {
	h.claimed++
	return nil
}
func (h *recordingHandler) OnRefund(ctx context.Context, ev *chainadapter.Event) error {
	h.refunded++
	return nil
}

func TestDemuxRoutesRegisteredEvents(t *testing.T) {
	adapter := &fakeAdapter{events: make(chan *chainadapter.Event, 4)}
	d := New(zap.NewNop(), adapter)

	key := swap.Key{PaymentHash: [32]byte{1, 2, 3}, Sequence: 5}
	h := &recordingHandler{}
	d.Register(key, h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	adapter.events <- &chainadapter.Event{Type: chainadapter.EventInitialize, PaymentHash: key.PaymentHash, Sequence: key.Sequence}
	adapter.events <- &chainadapter.Event{Type: chainadapter.EventClaim, PaymentHash: key.PaymentHash, Sequence: key.Sequence}
	// unregistered key: must be dropped silently
	adapter.events <- &chainadapter.Event{Type: chainadapter.EventRefund, PaymentHash: [32]byte{9}, Sequence: 1}

	require.Eventually(t, func() bool {
		return h.initialized == 1 && h.claimed == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
	require.Equal(t, 0, h.refunded)
}

func TestDemuxUnregisterStopsRouting(t *testing.T) {
	adapter := &fakeAdapter{events: make(chan *chainadapter.Event, 2)}
	d := New(zap.NewNop(), adapter)

	key := swap.Key{PaymentHash: [32]byte{4}, Sequence: 1}
	h := &recordingHandler{}
	d.Register(key, h)
	d.Unregister(key)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	adapter.events <- &chainadapter.Event{Type: chainadapter.EventInitialize, PaymentHash: key.PaymentHash, Sequence: key.Sequence}

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	require.Equal(t, 0, h.initialized)
}
