package exchange

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/uhyunpark/smashdex/pkg/app/core/fill"
	"github.com/uhyunpark/smashdex/pkg/app/core/order"
	"github.com/uhyunpark/smashdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/smashdex/pkg/app/match"
	"github.com/uhyunpark/smashdex/pkg/events"
)

// SubmitResult is the state of a submitted order after matching.
type SubmitResult struct {
	Order      *order.Record      `json:"order"`
	Executions []*match.Execution `json:"executions,omitempty"`
}

// Submit verifies o and inserts it into the book, then runs ring detection
// through it. With DirectMatch set, crossing mirrored orders on its pair are
// settled first. An order with a TriggerPrice is registered dormant instead.
//
// A ring failure with no committed execution removes the order again and
// returns the error. If executions committed before the failure the order
// keeps resting and both the result and the error are returned.
func (e *Exchange) Submit(ctx context.Context, o *order.Order) (*SubmitResult, error) {
	res, err := e.submit(ctx, o)
	switch {
	case res == nil:
		e.metrics.OrderSubmitted("rejected")
		e.log.Infow("order_rejected", "order", keyOf(o), "err", err)
	case res.Order.Status == order.StatusDormant:
		e.metrics.OrderSubmitted("dormant")
	case len(res.Executions) > 0:
		e.metrics.OrderSubmitted("matched")
	default:
		e.metrics.OrderSubmitted("rested")
	}
	return res, err
}

func keyOf(o *order.Order) string {
	if o == nil || o.Nonce == nil {
		return ""
	}
	return o.Key().String()
}

func (e *Exchange) submit(ctx context.Context, o *order.Order) (*SubmitResult, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if err := e.admit(o); err != nil {
		return nil, err
	}
	if c := o.Conditional; c != nil {
		if err := e.admit(c); err != nil {
			return nil, fmt.Errorf("conditional: %w", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.writable(); err != nil {
		return nil, err
	}

	res, evts, err := e.submitLocked(ctx, o.Clone(), false)
	e.publish(evts...)
	return res, err
}

// admit checks authorization and that both assets are registered.
func (e *Exchange) admit(o *order.Order) error {
	if _, err := e.verifier.Verify(o); err != nil {
		return err
	}
	for _, sym := range []string{o.SymbolIn, o.SymbolOut} {
		if _, err := e.assets.Resolve(sym); err != nil {
			return err
		}
	}
	return nil
}

// submitLocked runs with e.mu held and returns the events to publish. The
// activating flag admits an order whose dormant registration fired.
func (e *Exchange) submitLocked(ctx context.Context, o *order.Order, activating bool) (*SubmitResult, []events.Event, error) {
	key := o.Key()
	prev := e.record(key)
	if prev != nil {
		if prev.Order.Digest() != o.Digest() {
			return nil, nil, fmt.Errorf("%w: %s already declared with different content", orderbook.ErrDuplicateOrder, key)
		}
		if !activating || prev.Status != order.StatusDormant {
			return nil, nil, fmt.Errorf("%w: %s is %s", orderbook.ErrDuplicateOrder, key, prev.Status)
		}
	}

	if o.TriggerPrice != nil && !activating {
		return e.registerDormant(o, nil)
	}

	declared := o.AmtIn
	rem := e.ledger.Remaining(key, declared)
	if rem.Sign() <= 0 {
		return nil, nil, &fill.OverfillError{Key: key, Role: "order", Requested: declared, Remaining: rem, Declared: declared}
	}

	now := e.clock.Now()
	entry, err := e.book.Insert(&orderbook.Entry{Order: o, Remaining: rem, CreatedAt: now})
	if err != nil {
		return nil, nil, err
	}
	cum := e.ledger.Cumulative(key)
	rec := &order.Record{
		Order:     o.Clone(),
		Status:    order.StatusFor(cum, declared),
		Filled:    cum,
		Seq:       entry.Seq,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if prev != nil {
		rec.CreatedAt = prev.CreatedAt
	}
	e.setRecord(rec)
	evts := []events.Event{events.NewOrderEvent(events.OrderAdded, rec)}

	var execs []*match.Execution
	if e.cfg.DirectMatch {
		execs = e.crossDirect(ctx, key)
	}

	ring, err := e.matcher.DetectAndExecute(ctx, key)
	switch {
	case errors.Is(err, match.ErrNoRingFound):
		err = nil
	case err != nil && ring == nil && len(execs) == 0:
		e.book.Remove(key)
		e.recMu.Lock()
		if prev != nil {
			e.records[key] = prev
		} else {
			delete(e.records, key)
		}
		e.recMu.Unlock()
		e.metrics.SetResting(e.book.Len())
		return nil, nil, err
	}
	if ring != nil {
		execs = append(execs, ring.Executions...)
	}

	keys := []order.Key{key}
	if len(execs) > 0 {
		more, touched := e.applyExecutions(execs)
		evts = append(evts, more...)
		keys = append(keys, touched...)
	}
	if err != nil {
		e.log.Warnw("ring_round_failed", "order", key.String(), "executions", len(execs), "err", err)
	}
	if perr := e.persist(keys...); perr != nil {
		err = perr
	}
	e.metrics.SetResting(e.book.Len())

	e.log.Infow("order_accepted",
		"order", key.String(),
		"seq", rec.Seq,
		"pair", o.Pair().String(),
		"executions", len(execs),
	)
	return &SubmitResult{Order: e.record(key), Executions: execs}, evts, err
}

// registerDormant hands a stop-limit order to the conditional monitor.
func (e *Exchange) registerDormant(o *order.Order, parent *order.Key) (*SubmitResult, []events.Event, error) {
	if e.monitor == nil {
		return nil, nil, fmt.Errorf("%w: conditional orders are not enabled", order.ErrInvalidOrder)
	}
	reg, err := e.monitor.Register(o, o.TriggerPrice, parent)
	if err != nil {
		return nil, nil, err
	}
	rec := reg.Record()
	key := rec.Order.Key()
	prev := e.record(key)
	e.setRecord(rec)
	if err := e.persist(key); err != nil {
		if _, cerr := e.monitor.Cancel(key); cerr != nil {
			e.log.Warnw("conditional_unwind_failed", "order", key.String(), "err", cerr)
		}
		e.recMu.Lock()
		if prev != nil {
			e.records[key] = prev
		} else {
			delete(e.records, key)
		}
		e.recMu.Unlock()
		return nil, nil, err
	}
	return &SubmitResult{Order: rec.Clone()}, nil, nil
}

// applyExecutions folds committed executions into the order records,
// registers linked conditionals of fully filled orders and returns the
// resulting events and touched keys.
func (e *Exchange) applyExecutions(execs []*match.Execution) ([]events.Event, []order.Key) {
	var (
		evts   []events.Event
		keys   []order.Key
		filled []*order.Record
	)
	for _, exec := range execs {
		e.recMu.Lock()
		for _, l := range exec.Legs {
			rec, ok := e.records[l.Key]
			if !ok {
				rec = &order.Record{Order: l.Order.Clone(), CreatedAt: exec.At}
				e.records[l.Key] = rec
			}
			rec.Filled = new(big.Int).Set(l.Cumulative)
			rec.Status = order.StatusFor(l.Cumulative, l.Order.AmtIn)
			rec.UpdatedAt = exec.At

			typ := events.OrderUpdated
			if l.Removed {
				typ = events.OrderRemoved
			}
			evts = append(evts, events.NewOrderEvent(typ, rec))
			keys = append(keys, l.Key)
			if rec.Status == order.StatusFilled && rec.Order.Conditional != nil {
				filled = append(filled, rec.Clone())
			}
		}
		e.recMu.Unlock()

		for _, t := range exec.Trades {
			evts = append(evts, events.Event{
				Type: events.Trade,
				Trade: &events.TradeInfo{
					Pair:        t.Pair,
					Price:       t.Price,
					BaseAmount:  t.BaseAmount,
					QuoteAmount: t.QuoteAmount,
					Kind:        exec.Kind,
				},
			})
		}
	}

	for _, parent := range filled {
		child := parent.Order.Conditional
		pk := parent.Order.Key()
		if e.record(child.Key()) != nil {
			e.log.Warnw("linked_conditional_skipped", "parent", pk.String(), "child", child.Key().String(), "reason", "nonce in use")
			continue
		}
		if _, _, err := e.registerDormant(child.Clone(), &pk); err != nil {
			e.log.Warnw("linked_conditional_rejected", "parent", pk.String(), "child", child.Key().String(), "err", err)
			continue
		}
		keys = append(keys, child.Key())
	}
	return evts, keys
}

func (e *Exchange) setRecord(rec *order.Record) {
	e.recMu.Lock()
	e.records[rec.Order.Key()] = rec
	e.recMu.Unlock()
}

// ExecuteDirect settles fillAmtIn of a resting maker against a resting
// mirrored taker.
func (e *Exchange) ExecuteDirect(ctx context.Context, makerKey, takerKey order.Key, fillAmtIn *big.Int) (*match.Execution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.writable(); err != nil {
		return nil, err
	}

	exec, err := e.matcher.ExecuteDirect(ctx, makerKey, takerKey, fillAmtIn)
	if err != nil {
		return nil, err
	}
	evts, keys := e.applyExecutions([]*match.Execution{exec})
	err = e.persist(keys...)
	e.publish(evts...)
	return exec, err
}
