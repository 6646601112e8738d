package match

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/smashdex/pkg/app/core/custody"
	"github.com/uhyunpark/smashdex/pkg/app/core/fill"
	"github.com/uhyunpark/smashdex/pkg/auth"
)

func TestScenarioAFullFill(t *testing.T) {
	h := newHarness(t)
	maker := h.rest("maker", 1, "SC", 100, "DC", 200)
	taker := h.rest("taker", 1, "DC", 200, "SC", 100)

	exec, err := h.m.ExecuteDirect(context.Background(), maker, taker, big.NewInt(100))
	require.NoError(t, err)

	assert.Equal(t, "100", h.filled(maker))
	assert.Equal(t, "200", h.filled(taker))
	_, ok := h.resting(maker)
	assert.False(t, ok)
	_, ok = h.resting(taker)
	assert.False(t, ok)
	assert.Equal(t, 0, h.book.Len())

	require.Len(t, exec.Legs, 2)
	assert.True(t, exec.Legs[0].Removed)
	assert.True(t, exec.Legs[1].Removed)
	require.Len(t, exec.Trades, 1)
	assert.Equal(t, "DC/SC", exec.Trades[0].Pair.String())

	assert.Equal(t, int64(1_000_000-100), h.balance("maker", "SC"))
	assert.Equal(t, int64(1_000_000+200), h.balance("maker", "DC"))
	assert.Equal(t, int64(1_000_000+100), h.balance("taker", "SC"))
	assert.Equal(t, int64(1_000_000-200), h.balance("taker", "DC"))
}

func TestScenarioBPartialFill(t *testing.T) {
	h := newHarness(t)
	maker := h.rest("maker", 2, "SC", 100, "DC", 200)
	taker := h.rest("taker", 2, "DC", 200, "SC", 100)

	_, err := h.m.ExecuteDirect(context.Background(), maker, taker, big.NewInt(50))
	require.NoError(t, err)

	assert.Equal(t, "50", h.filled(maker))
	rem, ok := h.resting(maker)
	require.True(t, ok)
	assert.Equal(t, "50", rem)

	assert.Equal(t, "100", h.filled(taker))
	rem, ok = h.resting(taker)
	require.True(t, ok)
	assert.Equal(t, "100", rem)
}

func TestScenarioCSequentialPartials(t *testing.T) {
	h := newHarness(t)
	maker := h.rest("maker", 3, "SC", 500, "DC", 1000)
	taker3 := h.rest("taker", 3, "DC", 1000, "SC", 500)
	taker4 := h.rest("taker", 4, "DC", 1000, "SC", 500)

	_, err := h.m.ExecuteDirect(context.Background(), maker, taker3, big.NewInt(200))
	require.NoError(t, err)
	assert.Equal(t, "200", h.filled(maker))

	_, err = h.m.ExecuteDirect(context.Background(), maker, taker4, big.NewInt(150))
	require.NoError(t, err)
	assert.Equal(t, "350", h.filled(maker))
	rem, ok := h.resting(maker)
	require.True(t, ok)
	assert.Equal(t, "150", rem)

	assert.Equal(t, "400", h.filled(taker3))
	assert.Equal(t, "300", h.filled(taker4))
}

func TestScenarioDOverfillRejected(t *testing.T) {
	h := newHarness(t)
	maker := h.rest("maker", 5, "SC", 100, "DC", 200)
	taker := h.rest("taker", 5, "DC", 400, "SC", 200)

	_, err := h.m.ExecuteDirect(context.Background(), maker, taker, big.NewInt(150))
	var overfill *fill.OverfillError
	require.ErrorAs(t, err, &overfill)
	assert.Contains(t, err.Error(), "fill amount exceeds maker's remaining order")
	assert.Equal(t, "150", overfill.Requested.String())
	assert.Equal(t, "100", overfill.Remaining.String())

	assert.Equal(t, "0", h.filled(maker))
	assert.Equal(t, "0", h.filled(taker))
	rem, _ := h.resting(maker)
	assert.Equal(t, "100", rem)
	assert.Equal(t, int64(1_000_000), h.balance("maker", "SC"))
}

func TestExecuteDirectRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("asset mismatch", func(t *testing.T) {
		maker := h.rest("m1", 1, "SC", 100, "DC", 200)
		taker := h.rest("t1", 1, "WETH", 200, "SC", 100)
		_, err := h.m.ExecuteDirect(ctx, maker, taker, big.NewInt(10))
		var mismatch *AssetMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, "WETH", mismatch.TakerIn)
	})

	t.Run("not resting", func(t *testing.T) {
		maker := h.rest("m2", 1, "SC", 100, "DC", 200)
		taker := h.signed("t2", 1, "DC", 200, "SC", 100).Key()
		_, err := h.m.ExecuteDirect(ctx, maker, taker, big.NewInt(10))
		require.ErrorIs(t, err, ErrOrderNotFound)
	})

	t.Run("taker overfill", func(t *testing.T) {
		maker := h.rest("m3", 1, "SC", 100, "DC", 200)
		taker := h.rest("t3", 1, "DC", 50, "SC", 25)
		_, err := h.m.ExecuteDirect(ctx, maker, taker, big.NewInt(30))
		var overfill *fill.OverfillError
		require.ErrorAs(t, err, &overfill)
		assert.Equal(t, "taker", overfill.Role)
		assert.Equal(t, "0", h.filled(maker))
	})

	t.Run("zero fill", func(t *testing.T) {
		maker := h.rest("m4", 1, "SC", 100, "DC", 50)
		taker := h.rest("t4", 1, "DC", 50, "SC", 100)
		_, err := h.m.ExecuteDirect(ctx, maker, taker, big.NewInt(1))
		require.ErrorIs(t, err, ErrZeroFill)
	})

	t.Run("taker rate not met", func(t *testing.T) {
		maker := h.rest("m5", 1, "SC", 100, "DC", 200)
		// taker wants 1 SC per DC, maker only gives 0.5
		taker := h.rest("t5", 1, "DC", 200, "SC", 200)
		_, err := h.m.ExecuteDirect(ctx, maker, taker, big.NewInt(10))
		var pm *PriceMismatchError
		require.ErrorAs(t, err, &pm)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		maker := h.rest("m6", 1, "SC", 100, "DC", 200)
		taker := h.rest("t6", 1, "DC", 200, "SC", 100)
		_, err := h.m.ExecuteDirect(ctx, maker, taker, big.NewInt(0))
		require.ErrorIs(t, err, fill.ErrInvalidAmount)
	})

	t.Run("authorization propagated", func(t *testing.T) {
		maker := h.rest("m7", 1, "SC", 100, "DC", 200)
		forged := h.signed("t7", 1, "DC", 200, "SC", 100)
		forged.AmtOut = big.NewInt(99)
		taker := h.insert(forged)
		_, err := h.m.ExecuteDirect(ctx, maker, taker, big.NewInt(10))
		var authErr *auth.AuthorizationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, forged.Creator, authErr.Creator)
	})
}

func TestExecuteDirectCustodyFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	maker := h.rest("maker", 1, "SC", 100, "DC", 200)
	taker := h.rest("taker", 1, "DC", 200, "SC", 100)
	require.NoError(t, h.custody.Approve(h.party("taker").Address(), h.token("DC"), big.NewInt(10)))

	_, err := h.m.ExecuteDirect(context.Background(), maker, taker, big.NewInt(100))
	var authErr *custody.InsufficientAuthorizationError
	require.ErrorAs(t, err, &authErr)

	assert.Equal(t, "0", h.filled(maker))
	assert.Equal(t, "0", h.filled(taker))
	rem, ok := h.resting(maker)
	require.True(t, ok)
	assert.Equal(t, "100", rem)
	assert.Equal(t, int64(1_000_000), h.balance("maker", "SC"))
}
