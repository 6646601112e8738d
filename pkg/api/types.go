package api

import (
	"math/big"

	"github.com/uhyunpark/smashdex/pkg/app/core/order"
	"github.com/uhyunpark/smashdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/smashdex/pkg/app/exchange"
	"github.com/uhyunpark/smashdex/pkg/app/match"
)

// All amounts on the wire are decimal strings so that JavaScript clients do
// not lose precision on 18-decimal token amounts.

// ==============================
// Order Types
// ==============================

// OrderInfo is the wire form of an order record
type OrderInfo struct {
	order.Payload
	Status    string `json:"status"` // "open", "partially_filled", "filled", "cancelled", "dormant"
	Filled    string `json:"filled"`
	Remaining string `json:"remaining"`
	Seq       uint64 `json:"seq,omitempty"`
	CreatedAt int64  `json:"createdAt"` // Unix milliseconds
	UpdatedAt int64  `json:"updatedAt"` // Unix milliseconds
}

func orderInfo(rec *order.Record) OrderInfo {
	return OrderInfo{
		Payload:   *order.FromOrder(rec.Order),
		Status:    rec.Status.String(),
		Filled:    str(rec.Filled),
		Remaining: str(rec.Remaining()),
		Seq:       rec.Seq,
		CreatedAt: rec.CreatedAt.UnixMilli(),
		UpdatedAt: rec.UpdatedAt.UnixMilli(),
	}
}

func orderInfos(recs []*order.Record) []OrderInfo {
	out := make([]OrderInfo, len(recs))
	for i, rec := range recs {
		out[i] = orderInfo(rec)
	}
	return out
}

// LegInfo is one order's part in an execution
type LegInfo struct {
	Creator    string `json:"creator"`
	Nonce      string `json:"nonce"`
	Role       string `json:"role"` // "maker", "taker" or "ring"
	Gave       string `json:"gave"`
	Received   string `json:"received"`
	Cumulative string `json:"cumulative"`
	Remaining  string `json:"remaining"`
	Removed    bool   `json:"removed"`
}

// TradeInfo prices one leg on its canonical pair
type TradeInfo struct {
	Pair        string `json:"pair"` // "BASE/QUOTE"
	Price       string `json:"price"`
	BaseAmount  string `json:"baseAmount"`
	QuoteAmount string `json:"quoteAmount"`
}

// ExecutionInfo is one committed settlement
type ExecutionInfo struct {
	Kind      string      `json:"kind"` // "ring" or "bilateral"
	Legs      []LegInfo   `json:"legs"`
	Trades    []TradeInfo `json:"trades"`
	Timestamp int64       `json:"timestamp"`
}

func executionInfo(exec *match.Execution) ExecutionInfo {
	info := ExecutionInfo{
		Kind:      exec.Kind,
		Legs:      make([]LegInfo, len(exec.Legs)),
		Trades:    make([]TradeInfo, len(exec.Trades)),
		Timestamp: exec.At.UnixMilli(),
	}
	for i, l := range exec.Legs {
		info.Legs[i] = LegInfo{
			Creator:    l.Key.Creator.Hex(),
			Nonce:      l.Key.Nonce,
			Role:       l.Role,
			Gave:       str(l.Gave),
			Received:   str(l.Received),
			Cumulative: str(l.Cumulative),
			Remaining:  str(l.Remaining),
			Removed:    l.Removed,
		}
	}
	for i, t := range exec.Trades {
		info.Trades[i] = TradeInfo{
			Pair:        t.Pair.String(),
			Price:       str(t.Price),
			BaseAmount:  str(t.BaseAmount),
			QuoteAmount: str(t.QuoteAmount),
		}
	}
	return info
}

func executionInfos(execs []*match.Execution) []ExecutionInfo {
	out := make([]ExecutionInfo, len(execs))
	for i, exec := range execs {
		out[i] = executionInfo(exec)
	}
	return out
}

// FillInfo is the accounting state of one (creator, nonce)
type FillInfo struct {
	Creator    string `json:"creator"`
	Nonce      string `json:"nonce"`
	Cumulative string `json:"cumulative"`
	Remaining  string `json:"remaining,omitempty"`
	Declared   string `json:"declared,omitempty"`
	Status     string `json:"status,omitempty"`
}

func fillInfo(st *exchange.FillState) FillInfo {
	return FillInfo{
		Creator:    st.Creator.Hex(),
		Nonce:      st.Nonce,
		Cumulative: str(st.Cumulative),
		Remaining:  str(st.Remaining),
		Declared:   str(st.Declared),
		Status:     st.Status,
	}
}

// ==============================
// Book Types
// ==============================

// PriceLevel represents a single price level in the book
type PriceLevel struct {
	Price      string `json:"price"`    // Quote per base, scaled by 1e18
	Quantity   string `json:"quantity"` // Remaining input at this price
	OrderCount int    `json:"orderCount"`
}

// BookSnapshot is the aggregated canonical book of a pair
type BookSnapshot struct {
	Pair      string       `json:"pair"`
	Base      string       `json:"base"`
	Quote     string       `json:"quote"`
	Bids      []PriceLevel `json:"bids"` // Highest first
	Asks      []PriceLevel `json:"asks"` // Lowest first
	Timestamp int64        `json:"timestamp"`
}

func bookSnapshot(snap orderbook.Snapshot, ts int64) BookSnapshot {
	return BookSnapshot{
		Pair:      snap.Pair.String(),
		Base:      snap.Pair.Base,
		Quote:     snap.Pair.Quote,
		Bids:      priceLevels(snap.Bids),
		Asks:      priceLevels(snap.Asks),
		Timestamp: ts,
	}
}

func priceLevels(levels []orderbook.Level) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = PriceLevel{Price: str(l.Price), Quantity: str(l.Quantity), OrderCount: l.OrderCount}
	}
	return out
}

// PriceInfo summarizes the top of a pair. Empty fields mean no data.
type PriceInfo struct {
	Pair    string `json:"pair"`
	BestBid string `json:"bestBid,omitempty"`
	BestAsk string `json:"bestAsk,omitempty"`
	Mid     string `json:"mid,omitempty"`
	Last    string `json:"last,omitempty"`
}

func priceInfo(p orderbook.MarketPrice) PriceInfo {
	return PriceInfo{
		Pair:    p.Pair.String(),
		BestBid: str(p.BestBid),
		BestAsk: str(p.BestAsk),
		Mid:     str(p.Mid),
		Last:    str(p.Last),
	}
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the base structure for all WebSocket messages
type WSMessage struct {
	Channel string      `json:"channel"`
	Type    string      `json:"type"` // event type, e.g. "order_added", "trade"
	Seq     uint64      `json:"seq"`
	Data    interface{} `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["orders:0x...", "book:DC/SC", "trades:DC/SC"]
}

// OrderUpdate is pushed on orders:<address> when an order changes state
type OrderUpdate struct {
	Creator   string `json:"creator"`
	Nonce     string `json:"nonce"`
	SymbolIn  string `json:"symbolIn"`
	SymbolOut string `json:"symbolOut"`
	Status    string `json:"status"`
	Filled    string `json:"filled"`
	Remaining string `json:"remaining"`
	Reason    string `json:"reason,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// TradeUpdate is pushed on trades:<base>/<quote> when a leg executes
type TradeUpdate struct {
	TradeInfo
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
}

// ==============================
// REST Request Types
// ==============================

// SubmitOrderRequest is the payload for POST /api/v1/orders. triggerPrice
// makes it a stop-limit order; conditionalOrder is registered once it fills.
type SubmitOrderRequest = order.Payload

// SubmitOrderResponse is the response from order submission
type SubmitOrderResponse struct {
	Status     string          `json:"status"` // "rested", "matched", "dormant"
	Order      OrderInfo       `json:"order"`
	Executions []ExecutionInfo `json:"executions"`
	Message    string          `json:"message,omitempty"` // Set when a later ring failed after earlier ones committed
}

// CancelOrderRequest is the payload for POST /api/v1/orders/cancel
type CancelOrderRequest struct {
	CreatedBy string `json:"createdBy"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"` // EIP-712 Cancel(createdBy, nonce)
}

// MatchRequest is the payload for POST /api/v1/match
type MatchRequest struct {
	Maker     KeyRef `json:"maker"`
	Taker     KeyRef `json:"taker"`
	FillAmtIn string `json:"fillAmtIn"` // Maker input to fill
}

// KeyRef names an order by (creator, nonce)
type KeyRef struct {
	CreatedBy string `json:"createdBy"`
	Nonce     string `json:"nonce"`
}

// RegisterAssetRequest is the payload for POST /api/v1/assets
type RegisterAssetRequest struct {
	Symbol string `json:"symbol"`
	Token  string `json:"token"`
}

// CustodyRequest is the payload for POST /api/v1/custody/deposit and /approve
type CustodyRequest struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	Amount  string `json:"amount"`
}

// HoldingInfo is one token position of an account
type HoldingInfo struct {
	Symbol    string `json:"symbol,omitempty"`
	Token     string `json:"token"`
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
}

// NonceResponse is the response for GET /api/v1/accounts/{address}/nonce
type NonceResponse struct {
	Address string `json:"address"`
	Nonce   string `json:"nonce"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func str(n *big.Int) string {
	if n == nil {
		return ""
	}
	return n.String()
}
