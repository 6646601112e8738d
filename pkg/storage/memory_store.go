package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/smashdex/pkg/app/core/fill"
	"github.com/uhyunpark/smashdex/pkg/app/core/order"
)

// MemoryStore keeps the same key space as PebbleStore in a map. It is used
// when no data directory is configured and in tests.
type MemoryStore struct {
	mu sync.RWMutex
	kv map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{kv: make(map[string][]byte)}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) NewBatch() Batch {
	return &memoryBatch{store: s}
}

func (s *MemoryStore) LoadFills() ([]fill.Record, error) {
	var out []fill.Record
	err := s.scan(prefixFill, func(v []byte) error {
		var r fill.Record
		if err := json.Unmarshal(v, &r); err != nil {
			return fmt.Errorf("failed to unmarshal fill record: %w", err)
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

func (s *MemoryStore) LoadOrder(key order.Key) (*order.Record, error) {
	s.mu.RLock()
	data, ok := s.kv[string(orderKey(key))]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var rec order.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order %s: %w", key, err)
	}
	return &rec, nil
}

func (s *MemoryStore) LoadOrders() ([]*order.Record, error) {
	return s.loadOrders(prefixOrder)
}

func (s *MemoryStore) OrdersByCreator(creator common.Address) ([]*order.Record, error) {
	return s.loadOrders(string(orderPrefix(creator)))
}

func (s *MemoryStore) loadOrders(prefix string) ([]*order.Record, error) {
	var out []*order.Record
	err := s.scan(prefix, func(v []byte) error {
		var rec order.Record
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal order record: %w", err)
		}
		out = append(out, &rec)
		return nil
	})
	return out, err
}

func (s *MemoryStore) LoadConditionals(fn func(data []byte) error) error {
	return s.scan(prefixConditional, fn)
}

func (s *MemoryStore) Seq() (uint64, error) {
	s.mu.RLock()
	data, ok := s.kv[keySeq]
	s.mu.RUnlock()
	if !ok {
		return 0, nil
	}
	return strconv.ParseUint(string(data), 10, 64)
}

// scan visits values in key order, like a Pebble iterator would.
func (s *MemoryStore) scan(prefix string, fn func(v []byte) error) error {
	s.mu.RLock()
	keys := make([]string, 0)
	for k := range s.kv {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	vals := make([][]byte, len(keys))
	for i, k := range keys {
		vals[i] = s.kv[k]
	}
	s.mu.RUnlock()

	for _, v := range vals {
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

type memoryOp struct {
	key   string
	value []byte // nil deletes
}

type memoryBatch struct {
	store *MemoryStore
	ops   []memoryOp
}

func (b *memoryBatch) PutFill(r fill.Record) error {
	return b.setJSON(fillKey(r.Key), r)
}

func (b *memoryBatch) PutOrder(r *order.Record) error {
	return b.setJSON(orderKey(r.Order.Key()), r)
}

func (b *memoryBatch) PutConditional(key order.Key, v any) error {
	return b.setJSON(conditionalKey(key), v)
}

func (b *memoryBatch) DeleteConditional(key order.Key) error {
	b.ops = append(b.ops, memoryOp{key: string(conditionalKey(key))})
	return nil
}

func (b *memoryBatch) SetSeq(seq uint64) error {
	b.ops = append(b.ops, memoryOp{key: keySeq, value: []byte(strconv.FormatUint(seq, 10))})
	return nil
}

func (b *memoryBatch) setJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	b.ops = append(b.ops, memoryOp{key: string(key), value: data})
	return nil
}

func (b *memoryBatch) Commit() error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	for _, op := range b.ops {
		if op.value == nil {
			delete(b.store.kv, op.key)
			continue
		}
		b.store.kv[op.key] = op.value
	}
	b.ops = nil
	return nil
}

func (b *memoryBatch) Close() error {
	b.ops = nil
	return nil
}

var _ Store = (*MemoryStore)(nil)
