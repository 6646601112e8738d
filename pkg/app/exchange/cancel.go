package exchange

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/smashdex/pkg/app/core/order"
	"github.com/uhyunpark/smashdex/pkg/app/match"
	"github.com/uhyunpark/smashdex/pkg/events"
)

// Cancel removes a resting or dormant order after checking the creator's
// cancel signature. The fill record is kept.
func (e *Exchange) Cancel(_ context.Context, creator common.Address, nonce *big.Int, sig []byte) (*order.Record, error) {
	if nonce == nil || nonce.Sign() < 0 {
		return nil, fmt.Errorf("%w: nonce must be non-negative, got %v", order.ErrInvalidOrder, nonce)
	}
	if err := e.cancelVerifier.VerifyCancel(creator, nonce, sig); err != nil {
		return nil, err
	}
	key := order.NewKey(creator, nonce)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.writable(); err != nil {
		return nil, err
	}

	rec, err := e.cancelLocked(key, "cancelled")
	if err != nil {
		return nil, err
	}
	e.log.Infow("order_cancelled", "order", key.String(), "filled", rec.Filled.String())
	return rec, nil
}

// cancelLocked takes key out of the book or the monitor and marks its record
// cancelled. A resting order leaves the book only once the cancelled record
// is stored.
func (e *Exchange) cancelLocked(key order.Key, reason string) (*order.Record, error) {
	entry, resting := e.book.Get(key)
	if !resting {
		if e.monitor == nil {
			return nil, fmt.Errorf("%w: %s", match.ErrOrderNotFound, key)
		}
		if _, err := e.monitor.Cancel(key); err != nil {
			return nil, fmt.Errorf("%w: %s", match.ErrOrderNotFound, key)
		}
	}

	rec := e.record(key)
	if rec == nil {
		if entry == nil {
			return nil, fmt.Errorf("%w: %s has no record", match.ErrOrderNotFound, key)
		}
		rec = &order.Record{Order: entry.Order.Clone(), Seq: entry.Seq, CreatedAt: entry.CreatedAt}
	}
	rec.Filled = e.ledger.Cumulative(key)
	rec.Status = order.StatusCancelled
	rec.UpdatedAt = e.clock.Now()

	if err := e.write([]order.Key{key}, []*order.Record{rec}); err != nil {
		return nil, err
	}
	if resting {
		e.book.Remove(key)
	}
	e.setRecord(rec)
	out := rec.Clone()
	e.metrics.SetResting(e.book.Len())

	ev := events.NewOrderEvent(events.OrderRemoved, out)
	ev.Order.Reason = reason
	e.publish(ev)
	return out, nil
}
