package match

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/uhyunpark/smashdex/pkg/app/core/asset"
	"github.com/uhyunpark/smashdex/pkg/app/core/custody"
	"github.com/uhyunpark/smashdex/pkg/app/core/fill"
	"github.com/uhyunpark/smashdex/pkg/app/core/order"
	"github.com/uhyunpark/smashdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/smashdex/pkg/auth"
	"github.com/uhyunpark/smashdex/pkg/crypto"
)

var (
	symbols = []string{"SC", "DC", "WETH", "BTC", "USDT"}
	funding = big.NewInt(1_000_000)
)

type harness struct {
	t       *testing.T
	book    *orderbook.Index
	ledger  *fill.Ledger
	assets  *asset.Registry
	custody *custody.Memory
	domain  *crypto.EIP712Signer
	m       *Matcher
	parties map[string]*crypto.Signer
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, DefaultConfig(), nil)
}

// newHarnessWith lets a test bound custody settlement and interpose on the
// funded in-memory custody.
func newHarnessWith(t *testing.T, cfg Config, wrap func(custody.Custody) custody.Custody) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		book:    orderbook.NewIndex(nil),
		ledger:  fill.NewLedger(),
		assets:  asset.NewRegistry(),
		custody: custody.NewMemory(),
		parties: make(map[string]*crypto.Signer),
	}
	for i, s := range symbols {
		require.NoError(t, h.assets.Register(s, common.BigToAddress(big.NewInt(int64(0x100+i)))))
	}
	verifier := auth.NewEIP712Verifier(crypto.DefaultDomain())
	h.domain = verifier.Domain()
	var cust custody.Custody = h.custody
	if wrap != nil {
		cust = wrap(h.custody)
	}
	h.m = New(cfg, Deps{
		Book:     h.book,
		Ledger:   h.ledger,
		Verifier: verifier,
		Assets:   h.assets,
		Custody:  cust,
		Logger:   zaptest.NewLogger(t).Sugar(),
	})
	return h
}

func (h *harness) token(symbol string) common.Address {
	tok, err := h.assets.Resolve(symbol)
	require.NoError(h.t, err)
	return tok
}

// party returns a funded signer that approved the exchange for every asset.
func (h *harness) party(name string) *crypto.Signer {
	if s, ok := h.parties[name]; ok {
		return s
	}
	s, err := crypto.GenerateKey()
	require.NoError(h.t, err)
	for _, sym := range symbols {
		require.NoError(h.t, h.custody.Deposit(s.Address(), h.token(sym), funding))
		require.NoError(h.t, h.custody.Approve(s.Address(), h.token(sym), funding))
	}
	h.parties[name] = s
	return s
}

func (h *harness) signed(name string, nonce int64, in string, amtIn int64, out string, amtOut int64) *order.Order {
	s := h.party(name)
	o := &order.Order{
		Creator:   s.Address(),
		SymbolIn:  in,
		SymbolOut: out,
		AmtIn:     big.NewInt(amtIn),
		AmtOut:    big.NewInt(amtOut),
		Nonce:     big.NewInt(nonce),
	}
	require.NoError(h.t, auth.SignOrder(h.domain, s, o))
	return o
}

// rest signs an order and puts it in the book.
func (h *harness) rest(name string, nonce int64, in string, amtIn int64, out string, amtOut int64) order.Key {
	return h.insert(h.signed(name, nonce, in, amtIn, out, amtOut))
}

func (h *harness) insert(o *order.Order) order.Key {
	_, err := h.book.Insert(&orderbook.Entry{Order: o, Remaining: h.ledger.Remaining(o.Key(), o.AmtIn)})
	require.NoError(h.t, err)
	return o.Key()
}

func (h *harness) filled(k order.Key) string { return h.ledger.Cumulative(k).String() }

func (h *harness) resting(k order.Key) (string, bool) {
	e, ok := h.book.Get(k)
	if !ok {
		return "", false
	}
	return e.Remaining.String(), true
}

func (h *harness) balance(name, symbol string) int64 {
	return h.custody.Balance(h.party(name).Address(), h.token(symbol)).Int64()
}
