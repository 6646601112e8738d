package exchange

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/smashdex/pkg/app/core/order"
	"github.com/uhyunpark/smashdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/smashdex/pkg/app/match"
)

// FillState is the accounting view of one order key.
type FillState struct {
	Creator    common.Address `json:"creator"`
	Nonce      string         `json:"nonce"`
	Cumulative *big.Int       `json:"cumulative"`
	Remaining  *big.Int       `json:"remaining,omitempty"`
	Declared   *big.Int       `json:"declared,omitempty"`
	Status     string         `json:"status,omitempty"`
}

// Order returns the record of key.
func (e *Exchange) Order(key order.Key) (*order.Record, bool) {
	rec := e.record(key)
	return rec, rec != nil
}

// OrdersByCreator lists a creator's live entries, oldest first, followed by
// its dormant conditional orders.
func (e *Exchange) OrdersByCreator(creator common.Address) []*order.Record {
	entries := e.book.ByCreator(creator)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })

	out := make([]*order.Record, 0, len(entries))
	for _, entry := range entries {
		rec := e.record(entry.Key())
		if rec == nil {
			rec = &order.Record{Order: entry.Order.Clone(), Seq: entry.Seq, CreatedAt: entry.CreatedAt}
		}
		rec.Filled = new(big.Int).Sub(entry.Order.AmtIn, entry.Remaining)
		rec.Status = order.StatusFor(rec.Filled, entry.Order.AmtIn)
		out = append(out, rec)
	}
	if e.monitor != nil {
		for _, reg := range e.monitor.ByCreator(creator) {
			out = append(out, reg.Record())
		}
	}
	return out
}

// History lists every order record of creator, terminal ones included,
// ordered by creation.
func (e *Exchange) History(creator common.Address) []*order.Record {
	e.recMu.RLock()
	var out []*order.Record
	for key, rec := range e.records {
		if key.Creator == creator {
			out = append(out, rec.Clone())
		}
	}
	e.recMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Order.Nonce.Cmp(out[j].Order.Nonce) < 0
	})
	return out
}

// NextNonce returns one more than the highest nonce creator has used, or
// zero for a new creator.
func (e *Exchange) NextNonce(creator common.Address) *big.Int {
	e.recMu.RLock()
	defer e.recMu.RUnlock()
	next := new(big.Int)
	for key, rec := range e.records {
		if key.Creator != creator {
			continue
		}
		if rec.Order.Nonce.Cmp(next) >= 0 {
			next.Add(rec.Order.Nonce, big.NewInt(1))
		}
	}
	return next
}

// Book aggregates the canonical pair of (symbolIn, symbolOut).
func (e *Exchange) Book(symbolIn, symbolOut string, depth int) (orderbook.Snapshot, error) {
	if err := e.resolvePair(symbolIn, symbolOut); err != nil {
		return orderbook.Snapshot{}, err
	}
	return e.book.Levels(symbolIn, symbolOut, depth), nil
}

func (e *Exchange) Price(symbolIn, symbolOut string) (orderbook.MarketPrice, error) {
	if err := e.resolvePair(symbolIn, symbolOut); err != nil {
		return orderbook.MarketPrice{}, err
	}
	return e.book.MarketPrice(symbolIn, symbolOut), nil
}

func (e *Exchange) resolvePair(a, b string) error {
	if a == b {
		return fmt.Errorf("%w: pair %s/%s", order.ErrInvalidOrder, a, b)
	}
	for _, sym := range []string{a, b} {
		if _, err := e.assets.Resolve(sym); err != nil {
			return err
		}
	}
	return nil
}

// FillState reports cumulative and remaining input of key. Remaining is only
// known for orders this exchange has a record of.
func (e *Exchange) FillState(key order.Key) (*FillState, error) {
	cum := e.ledger.Cumulative(key)
	st := &FillState{Creator: key.Creator, Nonce: key.Nonce, Cumulative: cum}

	rec := e.record(key)
	if rec == nil {
		if cum.Sign() == 0 {
			return nil, fmt.Errorf("%w: %s", match.ErrOrderNotFound, key)
		}
		return st, nil
	}
	st.Declared = new(big.Int).Set(rec.Order.AmtIn)
	st.Remaining = e.ledger.Remaining(key, rec.Order.AmtIn)
	st.Status = rec.Status.String()
	return st, nil
}
