package orderbook

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/btree"

	"github.com/uhyunpark/smashdex/pkg/app/core/order"
	"github.com/uhyunpark/smashdex/pkg/util"
)

var ErrDuplicateOrder = errors.New("duplicate order")

// Entry is a resting order together with its unfilled input amount.
type Entry struct {
	Order     *order.Order
	Remaining *big.Int
	Seq       uint64
	CreatedAt time.Time
}

func (e *Entry) Key() order.Key { return e.Order.Key() }

func (e *Entry) clone() *Entry {
	cp := *e
	cp.Remaining = new(big.Int).Set(e.Remaining)
	return &cp
}

type direction struct {
	in, out string
}

func bySeq(a, b *Entry) bool { return a.Seq < b.Seq }

// Index holds every resting order. It does no matching of its own; insertion
// order is kept only so that callers iterate deterministically.
type Index struct {
	mu    sync.RWMutex
	clock util.Clock

	entries   map[order.Key]*Entry
	byPair    map[direction]*btree.BTreeG[*Entry]
	outgoing  map[string]*btree.BTreeG[*Entry]
	byCreator map[common.Address]map[order.Key]*Entry

	nextSeq   uint64
	lastPrice map[order.Pair]*big.Int
}

// NewIndex returns an empty index. clock stamps entries inserted without a
// CreatedAt; nil means the wall clock.
func NewIndex(clock util.Clock) *Index {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Index{
		clock:     clock,
		entries:   make(map[order.Key]*Entry),
		byPair:    make(map[direction]*btree.BTreeG[*Entry]),
		outgoing:  make(map[string]*btree.BTreeG[*Entry]),
		byCreator: make(map[common.Address]map[order.Key]*Entry),
		nextSeq:   1,
		lastPrice: make(map[order.Pair]*big.Int),
	}
}

// Insert adds a resting entry. A zero Seq is assigned the next sequence
// number; a non-zero Seq (restored state) is kept and advances the counter.
// The stored entry is returned.
func (ix *Index) Insert(e *Entry) (*Entry, error) {
	if e == nil || e.Order == nil {
		return nil, fmt.Errorf("orderbook: nil entry")
	}
	if e.Remaining == nil || e.Remaining.Sign() <= 0 {
		return nil, fmt.Errorf("orderbook: entry %s has no remaining amount", e.Key())
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	key := e.Key()
	if _, ok := ix.entries[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateOrder, key)
	}

	stored := e.clone()
	if stored.Seq == 0 {
		stored.Seq = ix.nextSeq
	}
	if stored.Seq >= ix.nextSeq {
		ix.nextSeq = stored.Seq + 1
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = ix.clock.Now()
	}

	ix.entries[key] = stored
	tree(ix.byPair, direction{stored.Order.SymbolIn, stored.Order.SymbolOut}).ReplaceOrInsert(stored)
	tree(ix.outgoing, stored.Order.SymbolIn).ReplaceOrInsert(stored)
	owned, ok := ix.byCreator[key.Creator]
	if !ok {
		owned = make(map[order.Key]*Entry)
		ix.byCreator[key.Creator] = owned
	}
	owned[key] = stored

	return stored.clone(), nil
}

func tree[K comparable](m map[K]*btree.BTreeG[*Entry], k K) *btree.BTreeG[*Entry] {
	t, ok := m[k]
	if !ok {
		t = btree.NewG[*Entry](16, bySeq)
		m[k] = t
	}
	return t
}

// Remove deletes the entry for key, returning it if it was present.
func (ix *Index) Remove(key order.Key) (*Entry, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	e, ok := ix.entries[key]
	if !ok {
		return nil, false
	}
	ix.remove(e)
	return e, true
}

func (ix *Index) remove(e *Entry) {
	key := e.Key()
	delete(ix.entries, key)

	dir := direction{e.Order.SymbolIn, e.Order.SymbolOut}
	if t, ok := ix.byPair[dir]; ok {
		t.Delete(e)
		if t.Len() == 0 {
			delete(ix.byPair, dir)
		}
	}
	if t, ok := ix.outgoing[e.Order.SymbolIn]; ok {
		t.Delete(e)
		if t.Len() == 0 {
			delete(ix.outgoing, e.Order.SymbolIn)
		}
	}
	if owned, ok := ix.byCreator[key.Creator]; ok {
		delete(owned, key)
		if len(owned) == 0 {
			delete(ix.byCreator, key.Creator)
		}
	}
}

// Get returns a snapshot of the entry for key.
func (ix *Index) Get(key order.Key) (*Entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.entries[key]
	if !ok {
		return nil, false
	}
	return e.clone(), true
}

// UpdateRemaining sets the unfilled amount for key. An entry whose remaining
// reaches zero leaves the book; removed reports that.
func (ix *Index) UpdateRemaining(key order.Key, remaining *big.Int) (removed bool, err error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	e, ok := ix.entries[key]
	if !ok {
		return false, fmt.Errorf("orderbook: %s not resting", key)
	}
	if remaining.Sign() <= 0 {
		ix.remove(e)
		return true, nil
	}
	e.Remaining = new(big.Int).Set(remaining)
	return false, nil
}

// ByPair returns entries giving symbolIn for symbolOut, in insertion order.
func (ix *Index) ByPair(symbolIn, symbolOut string) []*Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return collect(ix.byPair[direction{symbolIn, symbolOut}])
}

// Outgoing returns entries whose input asset is symbol, in insertion order.
// These are the edges leaving symbol in the exchange graph.
func (ix *Index) Outgoing(symbol string) []*Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return collect(ix.outgoing[symbol])
}

func collect(t *btree.BTreeG[*Entry]) []*Entry {
	if t == nil {
		return nil
	}
	out := make([]*Entry, 0, t.Len())
	t.Ascend(func(e *Entry) bool {
		out = append(out, e.clone())
		return true
	})
	return out
}

// ByCreator returns the creator's resting entries in insertion order.
func (ix *Index) ByCreator(creator common.Address) []*Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	owned := ix.byCreator[creator]
	t := btree.NewG[*Entry](8, bySeq)
	for _, e := range owned {
		t.ReplaceOrInsert(e)
	}
	return collect(t)
}

// All returns every resting entry in insertion order.
func (ix *Index) All() []*Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	t := btree.NewG[*Entry](16, bySeq)
	for _, e := range ix.entries {
		t.ReplaceOrInsert(e)
	}
	return collect(t)
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// NextSeq returns the sequence number the next insertion will receive.
func (ix *Index) NextSeq() uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.nextSeq
}

// SetNextSeq moves the sequence counter forward; it never moves backwards.
func (ix *Index) SetNextSeq(seq uint64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if seq > ix.nextSeq {
		ix.nextSeq = seq
	}
}

// RecordTrade remembers the last execution price on a canonical pair.
func (ix *Index) RecordTrade(pair order.Pair, price *big.Int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.lastPrice[pair] = new(big.Int).Set(price)
}
