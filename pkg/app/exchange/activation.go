package exchange

import (
	"context"

	"github.com/uhyunpark/smashdex/pkg/app/core/mempool"
	"github.com/uhyunpark/smashdex/pkg/app/core/order"
	"github.com/uhyunpark/smashdex/pkg/events"
)

// DrainActivations submits every queued activation and returns how many it
// processed.
func (e *Exchange) DrainActivations(ctx context.Context) int {
	n := 0
	for {
		batch := e.queue.Select(e.cfg.ActivationBatch)
		if len(batch) == 0 {
			return n
		}
		for _, a := range batch {
			e.activate(ctx, a)
			n++
		}
	}
}

// activate inserts a triggered conditional order through the normal
// submission path.
func (e *Exchange) activate(ctx context.Context, a mempool.Activation) {
	key := a.Key()
	if err := e.admit(a.Order); err != nil {
		e.activationFailed(key, err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.writable(); err != nil {
		// retried from the stored registration after restart
		e.log.Warnw("activation_deferred", "order", key.String(), "err", err)
		return
	}

	res, evts, err := e.submitLocked(ctx, a.Order.Clone(), true)
	if res == nil {
		e.activationFailedLocked(key, err)
		return
	}
	if err := e.monitor.Activated(key); err != nil {
		e.log.Warnw("activation_untracked", "order", key.String(), "err", err)
	}
	e.publish(evts...)
	e.metrics.OrderSubmitted("activated")
	e.log.Infow("conditional_order_activated",
		"order", key.String(),
		"source", a.Source.String(),
		"attempt", a.Attempt,
		"rings", len(res.Executions),
		"err", err,
	)
}

func (e *Exchange) activationFailed(key order.Key, cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activationFailedLocked(key, cause)
}

func (e *Exchange) activationFailedLocked(key order.Key, cause error) {
	if _, live := e.book.Get(key); live {
		// the order reached the book before its registration was cleared
		if err := e.monitor.Activated(key); err != nil {
			e.log.Warnw("activation_untracked", "order", key.String(), "err", err)
		}
		return
	}

	failed, err := e.monitor.ActivationFailed(key, cause)
	if err != nil {
		e.log.Warnw("activation_state_lost", "order", key.String(), "err", err)
		return
	}
	if !failed {
		return
	}

	e.recMu.Lock()
	rec, ok := e.records[key]
	if ok {
		rec.Status = order.StatusCancelled
		rec.UpdatedAt = e.clock.Now()
	}
	e.recMu.Unlock()
	if !ok {
		return
	}
	if err := e.persist(key); err != nil {
		return
	}
	ev := events.NewOrderEvent(events.OrderRemoved, e.record(key))
	ev.Order.Reason = "activation failed: " + cause.Error()
	e.publish(ev)
}
