package exchange

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/smashdex/pkg/app/core/fill"
	"github.com/uhyunpark/smashdex/pkg/app/core/order"
	"github.com/uhyunpark/smashdex/pkg/storage"
)

var errDiskFull = errors.New("disk full")

// flakyStore fails chosen commits, counted from when they are armed.
type flakyStore struct {
	storage.Store

	mu      sync.Mutex
	commits int
	failAt  map[int]bool
}

func newFlakyStore() *flakyStore {
	return &flakyStore{Store: storage.NewMemoryStore(), failAt: make(map[int]bool)}
}

// failCommit makes the n-th commit from now fail.
func (s *flakyStore) failCommit(n int) {
	s.mu.Lock()
	s.failAt[s.commits+n] = true
	s.mu.Unlock()
}

func (s *flakyStore) NewBatch() storage.Batch {
	return &flakyBatch{Batch: s.Store.NewBatch(), store: s}
}

type flakyBatch struct {
	storage.Batch
	store *flakyStore
}

func (b *flakyBatch) Commit() error {
	b.store.mu.Lock()
	b.store.commits++
	fail := b.store.failAt[b.store.commits]
	b.store.mu.Unlock()
	if fail {
		return errDiskFull
	}
	return b.Batch.Commit()
}

func TestFillJournalFailureMovesNothing(t *testing.T) {
	store := newFlakyStore()
	h := newHarnessWithStore(t, store)
	ctx := context.Background()

	maker, _ := h.submit("maker", 1, "SC", 300, "DC", 200)
	taker, _ := h.submit("taker", 1, "DC", 200, "WETH", 100)

	store.failCommit(1) // the fill journal of the ring
	closing := h.order("taker2", 1, "WETH", 100, "SC", 300)
	_, err := h.ex.Submit(ctx, closing)
	require.ErrorIs(t, err, errDiskFull)

	assert.Equal(t, "0", h.filled(maker))
	assert.Equal(t, int64(0), h.delta("maker", "SC"))
	assert.Equal(t, int64(0), h.delta("taker2", "WETH"))
	_, ok := h.resting(closing.Key())
	assert.False(t, ok)
	_, ok = h.ex.Order(closing.Key())
	assert.False(t, ok)

	// nothing was lost, so the exchange keeps accepting orders
	h.submit("frank", 1, "SC", 10, "WETH", 10)

	h.build()
	require.NoError(t, h.ex.Restore())
	rem, ok := h.resting(maker)
	require.True(t, ok)
	assert.Equal(t, "300", rem)
	rem, ok = h.resting(taker)
	require.True(t, ok)
	assert.Equal(t, "200", rem)
}

func TestPersistFailureAfterSettlementHalts(t *testing.T) {
	store := newFlakyStore()
	h := newHarnessWithStore(t, store)
	ctx := context.Background()

	maker, _ := h.submit("maker", 1, "SC", 300, "DC", 200)
	taker, _ := h.submit("taker", 1, "DC", 200, "WETH", 100)

	store.failCommit(2) // the order records written after custody settled
	closing := h.order("taker2", 1, "WETH", 100, "SC", 300)
	res, err := h.ex.Submit(ctx, closing)
	require.ErrorIs(t, err, ErrHalted)
	require.NotNil(t, res)
	require.Len(t, res.Executions, 1)
	assert.Equal(t, int64(-300), h.delta("maker", "SC"))

	_, err = h.ex.Submit(ctx, h.order("frank", 1, "SC", 10, "WETH", 10))
	require.ErrorIs(t, err, ErrHalted)
	_, err = h.ex.Cancel(ctx, taker.Creator, big.NewInt(1), h.cancelSig("taker", 1))
	require.ErrorIs(t, err, ErrHalted)

	// the fills were journaled before funds moved
	h.build()
	require.NoError(t, h.ex.Restore())
	assert.Equal(t, "300", h.filled(maker))
	assert.Equal(t, "200", h.filled(taker))
	assert.Equal(t, "100", h.filled(closing.Key()))
	assert.Zero(t, h.book.Len())
	assert.Equal(t, order.StatusFilled, h.status(maker))

	_, err = h.ex.Submit(ctx, closing)
	var overfill *fill.OverfillError
	require.ErrorAs(t, err, &overfill)
}

func TestCancelPersistFailureKeepsOrderResting(t *testing.T) {
	store := newFlakyStore()
	h := newHarnessWithStore(t, store)
	ctx := context.Background()

	k, _ := h.submit("maker", 1, "SC", 300, "DC", 200)
	store.failCommit(1)
	_, err := h.ex.Cancel(ctx, k.Creator, big.NewInt(1), h.cancelSig("maker", 1))
	require.ErrorIs(t, err, ErrHalted)

	rem, ok := h.resting(k)
	require.True(t, ok)
	assert.Equal(t, "300", rem)
	assert.Equal(t, order.StatusOpen, h.status(k))
}

func TestDormantPersistFailureUnregisters(t *testing.T) {
	store := newFlakyStore()
	h := newHarnessWithStore(t, store)

	o := h.stopSell("dave", 1)
	store.failCommit(2) // the order record, after the registration itself
	_, err := h.ex.Submit(context.Background(), o)
	require.ErrorIs(t, err, ErrHalted)

	_, ok := h.monitor.Get(o.Key())
	assert.False(t, ok)
	_, ok = h.ex.Order(o.Key())
	assert.False(t, ok)
}
