package exchange

import (
	"context"
	"math/big"

	"github.com/uhyunpark/smashdex/pkg/app/core/order"
	"github.com/uhyunpark/smashdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/smashdex/pkg/app/match"
)

// crossDirect settles the resting entry key against mirrored orders on its
// own pair whose rates cross it, earliest first. The resting mirror is the
// maker and trades at its own rate. It stops when key is drained or nothing
// crosses. Caller holds e.mu.
func (e *Exchange) crossDirect(ctx context.Context, key order.Key) []*match.Execution {
	var execs []*match.Execution
	skip := make(map[order.Key]bool)
	for ctx.Err() == nil {
		taker, ok := e.book.Get(key)
		if !ok {
			break
		}
		maker, amt := e.crossingMirror(taker, skip)
		if maker == nil {
			break
		}
		exec, err := e.matcher.ExecuteDirect(ctx, maker.Key(), key, amt)
		if err != nil {
			e.log.Warnw("direct_match_failed",
				"maker", maker.Key().String(),
				"taker", key.String(),
				"fill_amt_in", amt.String(),
				"err", err,
			)
			skip[maker.Key()] = true
			continue
		}
		execs = append(execs, exec)
	}
	return execs
}

// crossingMirror returns the earliest resting order giving what taker wants
// for what it gives, at a rate taker accepts, with the largest fill in the
// maker's input both sides can carry.
func (e *Exchange) crossingMirror(taker *orderbook.Entry, skip map[order.Key]bool) (*orderbook.Entry, *big.Int) {
	to := taker.Order
	for _, maker := range e.book.ByPair(to.SymbolOut, to.SymbolIn) {
		mo := maker.Order
		if mo.Creator == to.Creator || skip[maker.Key()] {
			continue
		}
		// maker asks mo.AmtOut/mo.AmtIn, taker pays up to to.AmtIn/to.AmtOut
		ask := new(big.Int).Mul(mo.AmtOut, to.AmtOut)
		bid := new(big.Int).Mul(mo.AmtIn, to.AmtIn)
		if ask.Cmp(bid) > 0 {
			continue
		}

		amt := new(big.Int).Mul(taker.Remaining, mo.AmtIn)
		amt.Quo(amt, mo.AmtOut)
		if amt.Cmp(maker.Remaining) > 0 {
			amt.Set(maker.Remaining)
		}
		derived := new(big.Int).Mul(amt, mo.AmtOut)
		if derived.Quo(derived, mo.AmtIn).Sign() == 0 {
			continue
		}
		return maker, amt
	}
	return nil, nil
}
