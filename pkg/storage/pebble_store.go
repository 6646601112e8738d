package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/smashdex/pkg/app/core/fill"
	"github.com/uhyunpark/smashdex/pkg/app/core/order"
)

// PebbleStore is the durable Store. Writes go through batches committed with
// pebble.Sync.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) a Pebble database at path.
func OpenPebble(path string) (*PebbleStore, error) {
	cache := pebble.NewCache(128 << 20) // 128MB cache
	defer cache.Unref()

	opts := &pebble.Options{
		Cache:                       cache,
		MemTableSize:                64 << 20, // 64MB memtable
		MaxConcurrentCompactions:    func() int { return 3 },
		L0CompactionThreshold:       2,
		L0StopWritesThreshold:       12,
		LBaseMaxBytes:               64 << 20,
		MaxOpenFiles:                1000,
		BytesPerSync:                512 << 10, // 512KB
		DisableAutomaticCompactions: false,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) NewBatch() Batch {
	return &pebbleBatch{batch: s.db.NewBatch()}
}

func (s *PebbleStore) LoadFills() ([]fill.Record, error) {
	var out []fill.Record
	err := s.scan([]byte(prefixFill), func(v []byte) error {
		var r fill.Record
		if err := json.Unmarshal(v, &r); err != nil {
			return fmt.Errorf("failed to unmarshal fill record: %w", err)
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

// LoadOrder returns nil when the order was never stored.
func (s *PebbleStore) LoadOrder(key order.Key) (*order.Record, error) {
	data, closer, err := s.db.Get(orderKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", key, err)
	}
	defer closer.Close()

	var rec order.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order %s: %w", key, err)
	}
	return &rec, nil
}

func (s *PebbleStore) LoadOrders() ([]*order.Record, error) {
	return s.loadOrders([]byte(prefixOrder))
}

func (s *PebbleStore) OrdersByCreator(creator common.Address) ([]*order.Record, error) {
	return s.loadOrders(orderPrefix(creator))
}

func (s *PebbleStore) loadOrders(prefix []byte) ([]*order.Record, error) {
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

func (s *PebbleStore) LoadConditionals(fn func(data []byte) error) error {
	return s.scan([]byte(prefixConditional), fn)
}

// Seq returns 0 when no sequence has been stored.
func (s *PebbleStore) Seq() (uint64, error) {
	data, closer, err := s.db.Get([]byte(keySeq))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get seq: %w", err)
	}
	defer closer.Close()
	return strconv.ParseUint(string(data), 10, 64)
}

func (s *PebbleStore) scan(prefix []byte, fn func(v []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

type pebbleBatch struct {
	batch *pebble.Batch
}

func (b *pebbleBatch) PutFill(r fill.Record) error {
	return b.setJSON(fillKey(r.Key), r)
}

func (b *pebbleBatch) PutOrder(r *order.Record) error {
	return b.setJSON(orderKey(r.Order.Key()), r)
}

func (b *pebbleBatch) PutConditional(key order.Key, v any) error {
	return b.setJSON(conditionalKey(key), v)
}

func (b *pebbleBatch) DeleteConditional(key order.Key) error {
	return b.batch.Delete(conditionalKey(key), nil)
}

func (b *pebbleBatch) SetSeq(seq uint64) error {
	return b.batch.Set([]byte(keySeq), []byte(strconv.FormatUint(seq, 10)), nil)
}

func (b *pebbleBatch) setJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return b.batch.Set(key, data, nil)
}

func (b *pebbleBatch) Commit() error {
	if err := b.batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func (b *pebbleBatch) Close() error { return b.batch.Close() }

var _ Store = (*PebbleStore)(nil)
