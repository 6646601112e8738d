package fill

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/uhyunpark/smashdex/pkg/app/core/order"
)

// ErrInvalidAmount is returned for non-positive fill increments.
var ErrInvalidAmount = errors.New("fill amount must be positive")

// OverfillError reports an increment that would push cumulative fill past
// the declared input amount of the order.
type OverfillError struct {
	Key       order.Key
	Role      string // "maker", "taker" or "order"
	Requested *big.Int
	Remaining *big.Int
	Declared  *big.Int
}

func (e *OverfillError) Error() string {
	role := e.Role
	if role == "" {
		role = "order"
	}
	return fmt.Sprintf("fill amount exceeds %s's remaining order: %s requested %s, remaining %s of declared %s",
		role, e.Key, e.Requested, e.Remaining, e.Declared)
}

// Increment is one pending addition to an order's cumulative fill.
type Increment struct {
	Key      order.Key
	Amount   *big.Int
	Declared *big.Int
	Role     string
}

// Record is the persisted form of a fill entry.
type Record struct {
	Key        order.Key `json:"key"`
	Cumulative *big.Int  `json:"cumulative"`
}

// Ledger tracks cumulative executed input per (creator, nonce).
// It stores no order content: the declared amount is supplied by callers.
type Ledger struct {
	mu    sync.RWMutex
	fills map[order.Key]*big.Int
}

func NewLedger() *Ledger {
	return &Ledger{fills: make(map[order.Key]*big.Int)}
}

// Cumulative returns the executed input for key, zero when unseen.
func (l *Ledger) Cumulative(key order.Key) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cumulative(key)
}

func (l *Ledger) cumulative(key order.Key) *big.Int {
	if c, ok := l.fills[key]; ok {
		return new(big.Int).Set(c)
	}
	return new(big.Int)
}

// Remaining returns declared minus cumulative, floored at zero.
func (l *Ledger) Remaining(key order.Key, declared *big.Int) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return remaining(l.cumulative(key), declared)
}

func remaining(cum, declared *big.Int) *big.Int {
	rem := new(big.Int).Sub(declared, cum)
	if rem.Sign() < 0 {
		rem.SetInt64(0)
	}
	return rem
}

// RecordFill adds amount to key's cumulative fill.
func (l *Ledger) RecordFill(key order.Key, amount, declared *big.Int) error {
	_, err := l.RecordFills([]Increment{{Key: key, Amount: amount, Declared: declared}})
	return err
}

// RecordFills applies all increments or none. Increments on the same key
// are summed before the overfill check. The returned undo restores the
// previous cumulative values; callers invoke it when the transfer that
// accompanies the increments fails.
func (l *Ledger) RecordFills(incs []Increment) (undo func(), err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pending := make(map[order.Key]*big.Int, len(incs))
	for _, inc := range incs {
		if inc.Amount == nil || inc.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("%w: %s got %v", ErrInvalidAmount, inc.Key, inc.Amount)
		}
		next, ok := pending[inc.Key]
		if !ok {
			next = l.cumulative(inc.Key)
		}
		next = new(big.Int).Add(next, inc.Amount)
		if next.Cmp(inc.Declared) > 0 {
			return nil, &OverfillError{
				Key:       inc.Key,
				Role:      inc.Role,
				Requested: new(big.Int).Set(inc.Amount),
				Remaining: remaining(new(big.Int).Sub(next, inc.Amount), inc.Declared),
				Declared:  new(big.Int).Set(inc.Declared),
			}
		}
		pending[inc.Key] = next
	}

	prev := make(map[order.Key]*big.Int, len(pending))
	for key, next := range pending {
		if c, ok := l.fills[key]; ok {
			prev[key] = c
		} else {
			prev[key] = nil
		}
		l.fills[key] = next
	}

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for key, c := range prev {
			if c == nil {
				delete(l.fills, key)
			} else {
				l.fills[key] = c
			}
		}
	}, nil
}

// Records returns the current cumulative values for the given keys.
func (l *Ledger) Records(keys ...order.Key) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, Record{Key: k, Cumulative: l.cumulative(k)})
	}
	return out
}

// Restore loads persisted records, replacing any in-memory values.
func (l *Ledger) Restore(records []Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range records {
		l.fills[r.Key] = new(big.Int).Set(r.Cumulative)
	}
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.fills)
}
