package orderbook

import (
	"math/big"

	"github.com/emirpasic/gods/trees/redblacktree"

	"github.com/uhyunpark/smashdex/pkg/app/core/order"
)

// Level aggregates resting entries at one price on a canonical pair.
// Quantity is the summed remaining input of those entries.
type Level struct {
	Price      *big.Int `json:"price"`
	Quantity   *big.Int `json:"quantity"`
	OrderCount int      `json:"orderCount"`
}

// Snapshot is the aggregated view of one canonical pair. Asks give the base
// asset and are listed lowest price first; bids give the quote asset and are
// listed highest price first.
type Snapshot struct {
	Pair order.Pair `json:"pair"`
	Bids []Level    `json:"bids"`
	Asks []Level    `json:"asks"`
}

// MarketPrice summarizes the top of a pair. Nil fields mean no data.
type MarketPrice struct {
	Pair    order.Pair `json:"pair"`
	BestBid *big.Int   `json:"bestBid,omitempty"`
	BestAsk *big.Int   `json:"bestAsk,omitempty"`
	Mid     *big.Int   `json:"mid,omitempty"`
	Last    *big.Int   `json:"last,omitempty"`
}

func priceComparator(a, b interface{}) int {
	return a.(*big.Int).Cmp(b.(*big.Int))
}

// levelTree groups entries by limit price.
func (ix *Index) levelTree(dir direction) *redblacktree.Tree {
	levels := redblacktree.NewWith(priceComparator)
	t, ok := ix.byPair[dir]
	if !ok {
		return levels
	}
	t.Ascend(func(e *Entry) bool {
		price := e.Order.LimitPrice()
		if v, found := levels.Get(price); found {
			lvl := v.(*Level)
			lvl.Quantity.Add(lvl.Quantity, e.Remaining)
			lvl.OrderCount++
		} else {
			levels.Put(price, &Level{Price: price, Quantity: new(big.Int).Set(e.Remaining), OrderCount: 1})
		}
		return true
	})
	return levels
}

// Levels aggregates the book of the canonical pair of (symbolA, symbolB).
// depth <= 0 returns every level.
func (ix *Index) Levels(symbolA, symbolB string, depth int) Snapshot {
	pair := order.CanonicalPair(symbolA, symbolB)

	ix.mu.RLock()
	asks := ix.levelTree(direction{pair.Base, pair.Quote})
	bids := ix.levelTree(direction{pair.Quote, pair.Base})
	ix.mu.RUnlock()

	snap := Snapshot{Pair: pair, Bids: []Level{}, Asks: []Level{}}

	it := asks.Iterator()
	for it.Next() {
		if depth > 0 && len(snap.Asks) >= depth {
			break
		}
		snap.Asks = append(snap.Asks, *it.Value().(*Level))
	}

	it = bids.Iterator()
	for it.End(); it.Prev(); {
		if depth > 0 && len(snap.Bids) >= depth {
			break
		}
		snap.Bids = append(snap.Bids, *it.Value().(*Level))
	}
	return snap
}

// MarketPrice reports best bid, best ask, their midpoint and the last trade
// price for the canonical pair of (symbolA, symbolB).
func (ix *Index) MarketPrice(symbolA, symbolB string) MarketPrice {
	pair := order.CanonicalPair(symbolA, symbolB)

	ix.mu.RLock()
	asks := ix.levelTree(direction{pair.Base, pair.Quote})
	bids := ix.levelTree(direction{pair.Quote, pair.Base})
	var last *big.Int
	if p, ok := ix.lastPrice[pair]; ok {
		last = new(big.Int).Set(p)
	}
	ix.mu.RUnlock()

	mp := MarketPrice{Pair: pair, Last: last}
	if n := asks.Left(); n != nil {
		mp.BestAsk = n.Key.(*big.Int)
	}
	if n := bids.Right(); n != nil {
		mp.BestBid = n.Key.(*big.Int)
	}
	if mp.BestAsk != nil && mp.BestBid != nil {
		mid := new(big.Int).Add(mp.BestAsk, mp.BestBid)
		mp.Mid = mid.Quo(mid, big.NewInt(2))
	}
	return mp
}
