// Package events fans exchange state changes out to subscribers.
package events

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/smashdex/pkg/app/core/order"
)

type Type string

const (
	OrderAdded     Type = "order_added"
	OrderRemoved   Type = "order_removed"
	OrderUpdated   Type = "order_updated"
	Trade          Type = "trade"
	OrderDormant   Type = "order_dormant"
	OrderActivated Type = "order_activated"
)

// OrderState is an order's identity and post-event state.
type OrderState struct {
	Creator   common.Address `json:"creator"`
	Nonce     string         `json:"nonce"`
	SymbolIn  string         `json:"symbolIn"`
	SymbolOut string         `json:"symbolOut"`
	Status    order.Status   `json:"status"`
	Filled    *big.Int       `json:"filled"`
	Remaining *big.Int       `json:"remaining"`
	Seq       uint64         `json:"seq,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

func (s *OrderState) Key() order.Key { return order.Key{Creator: s.Creator, Nonce: s.Nonce} }

// TradeInfo prices one execution leg on its canonical pair.
type TradeInfo struct {
	Pair        order.Pair `json:"pair"`
	Price       *big.Int   `json:"price"`
	BaseAmount  *big.Int   `json:"baseAmount"`
	QuoteAmount *big.Int   `json:"quoteAmount"`
	Kind        string     `json:"kind"`
}

type Event struct {
	Type  Type        `json:"type"`
	Seq   uint64      `json:"seq"`
	Time  time.Time   `json:"time"`
	Order *OrderState `json:"order,omitempty"`
	Trade *TradeInfo  `json:"trade,omitempty"`
}

// StreamKey identifies the ordering stream of an event: the order key for
// order events, the pair for trades.
func (e *Event) StreamKey() string {
	switch {
	case e.Order != nil:
		return e.Order.Key().String()
	case e.Trade != nil:
		return e.Trade.Pair.String()
	default:
		return string(e.Type)
	}
}

// NewOrderEvent builds an order event from a lifecycle record.
func NewOrderEvent(t Type, rec *order.Record) Event {
	return Event{
		Type: t,
		Order: &OrderState{
			Creator:   rec.Order.Creator,
			Nonce:     rec.Order.Nonce.String(),
			SymbolIn:  rec.Order.SymbolIn,
			SymbolOut: rec.Order.SymbolOut,
			Status:    rec.Status,
			Filled:    new(big.Int).Set(rec.Filled),
			Remaining: rec.Remaining(),
			Seq:       rec.Seq,
		},
	}
}
