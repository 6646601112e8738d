// Package storage persists the exchange state: fill records, order records
// and conditional registrations.
package storage

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/smashdex/pkg/app/core/fill"
	"github.com/uhyunpark/smashdex/pkg/app/core/order"
)

// Batch collects writes that become visible together on Commit.
type Batch interface {
	PutFill(r fill.Record) error
	PutOrder(r *order.Record) error
	// PutConditional stores v as JSON under key.
	PutConditional(key order.Key, v any) error
	DeleteConditional(key order.Key) error
	SetSeq(seq uint64) error
	Commit() error
	Close() error
}

type Store interface {
	NewBatch() Batch

	LoadFills() ([]fill.Record, error)
	LoadOrder(key order.Key) (*order.Record, error)
	LoadOrders() ([]*order.Record, error)
	OrdersByCreator(creator common.Address) ([]*order.Record, error)
	// LoadConditionals calls fn with the JSON of every stored registration.
	LoadConditionals(fn func(data []byte) error) error
	Seq() (uint64, error)

	Close() error
}
