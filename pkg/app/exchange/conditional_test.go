package exchange

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/smashdex/pkg/app/conditional"
	"github.com/uhyunpark/smashdex/pkg/app/core/order"
	"github.com/uhyunpark/smashdex/pkg/events"
)

// stopSell is a dormant order giving 100 DC for 50 SC, armed at 1 SC per DC.
func (h *harness) stopSell(name string, nonce int64) *order.Order {
	o := h.order(name, nonce, "DC", 100, "SC", 50)
	o.TriggerPrice = scaled(1, 1)
	return o
}

// printTrade executes a DC/SC trade at 0.5 SC per DC between two fresh orders.
func (h *harness) printTrade(nonce int64) {
	maker, _ := h.submit("printer-a", nonce, "SC", 100, "DC", 200)
	taker, _ := h.submit("printer-b", nonce, "DC", 200, "SC", 100)
	_, err := h.ex.ExecuteDirect(context.Background(), maker, taker, big.NewInt(100))
	require.NoError(h.t, err)
}

func TestStopLimitActivation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.stopSell("dave", 1)

	res, err := h.ex.Submit(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, order.StatusDormant, res.Order.Status)
	assert.Empty(t, res.Executions)
	_, ok := h.resting(o.Key())
	assert.False(t, ok)
	require.Len(t, h.ex.OrdersByCreator(o.Creator), 1)

	h.printTrade(1)
	assert.Equal(t, 1, h.queue.Len())

	assert.Equal(t, 1, h.ex.DrainActivations(ctx))
	rem, ok := h.resting(o.Key())
	require.True(t, ok)
	assert.Equal(t, "100", rem)
	assert.Equal(t, order.StatusOpen, h.status(o.Key()))
	assert.Zero(t, h.monitor.Len())
	assert.Equal(t, []events.Type{events.OrderDormant, events.OrderActivated, events.OrderAdded}, h.pub.forKey(o.Key()))

	// a later crossing is a no-op
	h.printTrade(2)
	assert.Zero(t, h.queue.Len())
}

func TestStopLimitNotCrossed(t *testing.T) {
	h := newHarness(t)
	o := h.order("dave", 1, "DC", 100, "SC", 50)
	o.TriggerPrice = scaled(1, 4)
	_, err := h.ex.Submit(context.Background(), o)
	require.NoError(t, err)

	h.printTrade(1)
	assert.Zero(t, h.queue.Len())
	reg, ok := h.monitor.Get(o.Key())
	require.True(t, ok)
	assert.Equal(t, conditional.StateDormant, reg.State)
}

func TestCancelDormant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.stopSell("dave", 3)
	_, err := h.ex.Submit(ctx, o)
	require.NoError(t, err)

	rec, err := h.ex.Cancel(ctx, o.Creator, o.Nonce, h.cancelSig("dave", 3))
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, rec.Status)
	assert.Zero(t, h.monitor.Len())

	h.printTrade(1)
	assert.Zero(t, h.queue.Len())
}

func TestActivationGivesUp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.stopSell("dave", 1)
	_, err := h.ex.Submit(ctx, o)
	require.NoError(t, err)

	// the key is already fully filled, so every activation is refused
	require.NoError(t, h.ledger.RecordFill(o.Key(), o.AmtIn, o.AmtIn))

	attempts := conditional.DefaultConfig().MaxActivationAttempts
	for i := 1; i <= attempts; i++ {
		h.printTrade(int64(i))
		require.Equal(t, 1, h.queue.Len(), "attempt %d", i)
		h.ex.DrainActivations(ctx)
	}

	_, ok := h.monitor.Get(o.Key())
	assert.False(t, ok)
	assert.Equal(t, order.StatusCancelled, h.status(o.Key()))
	types := h.pub.forKey(o.Key())
	require.NotEmpty(t, types)
	assert.Equal(t, events.OrderRemoved, types[len(types)-1])

	h.printTrade(int64(attempts + 1))
	assert.Zero(t, h.queue.Len())
}

func TestLinkedConditionalRegistersOnFullFill(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	child := h.order("alice", 11, "DC", 200, "SC", 90)
	child.TriggerPrice = scaled(1, 10)
	parent := h.order("alice", 10, "SC", 100, "DC", 200)
	parent.Conditional = child
	_, err := h.ex.Submit(ctx, parent)
	require.NoError(t, err)
	_, ok := h.ex.Order(child.Key())
	assert.False(t, ok, "child waits for the parent to fill")

	taker, _ := h.submit("bob", 10, "DC", 400, "SC", 200)
	_, err = h.ex.ExecuteDirect(ctx, parent.Key(), taker, big.NewInt(40))
	require.NoError(t, err)
	_, ok = h.monitor.Get(child.Key())
	assert.False(t, ok, "partial fill does not arm the child")

	_, err = h.ex.ExecuteDirect(ctx, parent.Key(), taker, big.NewInt(60))
	require.NoError(t, err)

	reg, ok := h.monitor.Get(child.Key())
	require.True(t, ok)
	require.NotNil(t, reg.Parent)
	assert.Equal(t, parent.Key(), *reg.Parent)
	assert.Equal(t, order.StatusDormant, h.status(child.Key()))
	assert.Zero(t, h.queue.Len(), "0.5 is above the 0.1 stop")

	recs := h.ex.OrdersByCreator(parent.Creator)
	require.Len(t, recs, 1)
	assert.Equal(t, child.Key(), recs[0].Order.Key())
}

func TestConditionalChildMustBeSigned(t *testing.T) {
	h := newHarness(t)
	child := h.order("alice", 2, "DC", 200, "SC", 90)
	child.TriggerPrice = scaled(1, 10)
	child.AmtIn = big.NewInt(201)
	parent := h.order("alice", 1, "SC", 100, "DC", 200)
	parent.Conditional = child

	res, err := h.ex.Submit(context.Background(), parent)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "conditional")
	assert.Zero(t, h.book.Len())
}

// enterBookOnly admits a triggered order the way activation does but stops
// before the registration is cleared, as a crash at that point would.
func (h *harness) enterBookOnly(o *order.Order) {
	h.ex.mu.Lock()
	defer h.ex.mu.Unlock()
	_, _, err := h.ex.submitLocked(context.Background(), o.Clone(), true)
	require.NoError(h.t, err)
}

func TestActivationFailureSparesLiveOrder(t *testing.T) {
	h := newHarness(t)
	o := h.stopSell("dave", 1)
	_, err := h.ex.Submit(context.Background(), o)
	require.NoError(t, err)
	h.printTrade(1)
	h.enterBookOnly(o)

	h.ex.activationFailed(o.Key(), errors.New("duplicate order"))

	rem, ok := h.resting(o.Key())
	require.True(t, ok)
	assert.Equal(t, "100", rem)
	assert.Equal(t, order.StatusOpen, h.status(o.Key()))
	assert.Zero(t, h.monitor.Len())
	assert.NotContains(t, h.pub.forKey(o.Key()), events.OrderRemoved)
}

func TestRestoreClearsRegistrationOfLiveOrder(t *testing.T) {
	h := newHarness(t)
	o := h.stopSell("dave", 1)
	_, err := h.ex.Submit(context.Background(), o)
	require.NoError(t, err)
	h.printTrade(1)
	h.enterBookOnly(o)

	h.build()
	require.NoError(t, h.ex.Restore())

	rem, ok := h.resting(o.Key())
	require.True(t, ok)
	assert.Equal(t, "100", rem)
	assert.Equal(t, order.StatusOpen, h.status(o.Key()))
	assert.Zero(t, h.monitor.Len())

	h.printTrade(2)
	assert.Zero(t, h.queue.Len())
}
