package p2p

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/smashdex/pkg/app/core/order"
	"github.com/uhyunpark/smashdex/pkg/events"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	e := events.Event{Type: events.Trade, Seq: 3, Trade: &events.TradeInfo{
		Pair:  order.CanonicalPair("SC", "DC"),
		Price: big.NewInt(42),
	}}
	b, err := encodeEnvelope("peer-a", e)
	require.NoError(t, err)

	env, err := decodeEnvelope(b)
	require.NoError(t, err)
	assert.Equal(t, "peer-a", env.Origin)
	assert.Equal(t, events.Trade, env.Event.Type)
	assert.Equal(t, "42", env.Event.Trade.Price.String())

	_, err = decodeEnvelope([]byte("{"))
	require.Error(t, err)
}

func TestGossipBetweenNodes(t *testing.T) {
	if testing.Short() {
		t.Skip("starts libp2p hosts")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := NewGossip(ctx, Config{ListenAddr: "/ip4/127.0.0.1/tcp/0"})
	require.NoError(t, err)
	defer a.Close()

	var mu sync.Mutex
	var got []events.Event
	b, err := NewGossip(ctx, Config{
		ListenAddr: "/ip4/127.0.0.1/tcp/0",
		Bootstrap:  a.Addrs()[:1],
		OnRemote: func(_ peer.ID, e events.Event) {
			mu.Lock()
			got = append(got, e)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	defer b.Close()

	require.Eventually(t, func() bool { return a.Peers() > 0 }, 10*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		_ = a.Deliver(ctx, events.Event{Type: events.OrderAdded, Seq: 1})
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 10*time.Second, 200*time.Millisecond)

	mu.Lock()
	assert.Equal(t, events.OrderAdded, got[0].Type)
	mu.Unlock()
}
