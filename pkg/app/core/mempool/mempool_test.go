package mempool

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/smashdex/pkg/app/core/order"
)

func newOrder(nonce int64) *order.Order {
	return &order.Order{
		Creator:   common.HexToAddress("0x01"),
		SymbolIn:  "SC",
		SymbolOut: "DC",
		AmtIn:     big.NewInt(10),
		AmtOut:    big.NewInt(5),
		Nonce:     big.NewInt(nonce),
	}
}

func TestMempool_FIFO(t *testing.T) {
	m := NewMempool()
	for i := int64(1); i <= 5; i++ {
		m.Push(Activation{Order: newOrder(i)})
	}
	if m.Len() != 5 {
		t.Fatalf("expected 5 pending, got %d", m.Len())
	}

	first := m.Select(2)
	if len(first) != 2 {
		t.Fatalf("expected 2 activations, got %d", len(first))
	}
	rest := m.Select(0)
	if len(rest) != 3 {
		t.Fatalf("expected 3 activations, got %d", len(rest))
	}

	all := append(first, rest...)
	for i, a := range all {
		if want := big.NewInt(int64(i + 1)); a.Order.Nonce.Cmp(want) != 0 {
			t.Errorf("position %d: nonce %s, want %s", i, a.Order.Nonce, want)
		}
	}
	if m.Len() != 0 {
		t.Errorf("expected empty mempool, got %d", m.Len())
	}
}

func TestMempool_PushCopiesOrder(t *testing.T) {
	m := NewMempool()
	o := newOrder(1)
	m.Push(Activation{Order: o})
	o.AmtIn.SetInt64(999)

	got := m.Select(0)
	if got[0].Order.AmtIn.Int64() != 10 {
		t.Errorf("queued order mutated: amtIn %s", got[0].Order.AmtIn)
	}
}

func TestMempool_ReadySignal(t *testing.T) {
	m := NewMempool()
	m.Push(Activation{Order: newOrder(1)})
	m.Push(Activation{Order: newOrder(2)})

	select {
	case <-m.Ready():
	default:
		t.Fatal("expected ready signal after push")
	}
	select {
	case <-m.Ready():
		t.Fatal("signals should coalesce")
	default:
	}
}

func TestSource_String(t *testing.T) {
	tests := []struct {
		src  Source
		want string
	}{
		{SourceTrigger, "trigger"},
		{SourceRetry, "retry"},
		{Source(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.src.String(); got != tt.want {
			t.Errorf("Source(%d).String() = %q, want %q", tt.src, got, tt.want)
		}
	}
}
