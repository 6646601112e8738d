package exchange

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/smashdex/pkg/app/core/order"
	"github.com/uhyunpark/smashdex/pkg/storage"
)

func TestRestoreFromPebble(t *testing.T) {
	store, err := storage.OpenPebble(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := newHarnessWithStore(t, store)
	ctx := context.Background()

	maker, _ := h.submit("maker", 1, "SC", 600, "DC", 400)
	taker, _ := h.submit("taker", 1, "DC", 200, "WETH", 100)
	taker2, _ := h.submit("taker2", 1, "WETH", 150, "SC", 450)
	stop := h.stopSell("dave", 1)
	_, err = h.ex.Submit(ctx, stop)
	require.NoError(t, err)
	gone, _ := h.submit("erin", 1, "SC", 10, "WETH", 10)
	_, err = h.ex.Cancel(ctx, gone.Creator, big.NewInt(1), h.cancelSig("erin", 1))
	require.NoError(t, err)

	h.build()
	require.NoError(t, h.ex.Restore())

	assert.Equal(t, "300", h.filled(maker))
	assert.Equal(t, "200", h.filled(taker))
	assert.Equal(t, "100", h.filled(taker2))

	rem, ok := h.resting(maker)
	require.True(t, ok)
	assert.Equal(t, "300", rem)
	rem, ok = h.resting(taker2)
	require.True(t, ok)
	assert.Equal(t, "50", rem)
	_, ok = h.resting(taker)
	assert.False(t, ok)
	_, ok = h.resting(gone)
	assert.False(t, ok)
	assert.Equal(t, 2, h.book.Len())

	assert.Equal(t, order.StatusFilled, h.status(taker))
	assert.Equal(t, order.StatusCancelled, h.status(gone))
	assert.Equal(t, order.StatusDormant, h.status(stop.Key()))
	_, ok = h.monitor.Get(stop.Key())
	assert.True(t, ok)

	// sequence numbers continue after restart
	_, res := h.submit("frank", 1, "SC", 10, "WETH", 10)
	assert.Equal(t, uint64(5), res.Order.Seq)

	// a restored partially filled order still settles
	st, err := h.ex.FillState(taker2)
	require.NoError(t, err)
	assert.Equal(t, "50", st.Remaining.String())
}
