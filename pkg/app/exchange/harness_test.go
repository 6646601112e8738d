package exchange

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/uhyunpark/smashdex/pkg/app/conditional"
	"github.com/uhyunpark/smashdex/pkg/app/core/asset"
	"github.com/uhyunpark/smashdex/pkg/app/core/custody"
	"github.com/uhyunpark/smashdex/pkg/app/core/fill"
	"github.com/uhyunpark/smashdex/pkg/app/core/mempool"
	"github.com/uhyunpark/smashdex/pkg/app/core/order"
	"github.com/uhyunpark/smashdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/smashdex/pkg/app/match"
	"github.com/uhyunpark/smashdex/pkg/auth"
	"github.com/uhyunpark/smashdex/pkg/crypto"
	"github.com/uhyunpark/smashdex/pkg/events"
	"github.com/uhyunpark/smashdex/pkg/storage"
	"github.com/uhyunpark/smashdex/pkg/util"
)

var (
	symbols = []string{"SC", "DC", "WETH"}
	funding = big.NewInt(1_000_000)
)

// recorder stands in for the notifier. Trade events are forwarded to the
// monitor synchronously so triggers fire inside the test goroutine.
type recorder struct {
	mu      sync.Mutex
	evts    []events.Event
	monitor *conditional.Monitor
}

func (r *recorder) Publish(evts ...events.Event) {
	r.mu.Lock()
	r.evts = append(r.evts, evts...)
	mon := r.monitor
	r.mu.Unlock()
	if mon == nil {
		return
	}
	for _, e := range evts {
		_ = mon.Deliver(context.Background(), e)
	}
}

func (r *recorder) count(t events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.evts {
		if e.Type == t {
			n++
		}
	}
	return n
}

// forKey returns the event types published about key, in order.
func (r *recorder) forKey(key order.Key) []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Type
	for _, e := range r.evts {
		if e.Order != nil && e.Order.Key() == key {
			out = append(out, e.Type)
		}
	}
	return out
}

type harness struct {
	t        *testing.T
	cfg      Config
	store    storage.Store
	assets   *asset.Registry
	custody  *custody.Memory
	domain   *crypto.EIP712Signer
	verifier *auth.EIP712Verifier
	parties  map[string]*crypto.Signer

	book    *orderbook.Index
	ledger  *fill.Ledger
	monitor *conditional.Monitor
	queue   *mempool.Mempool
	pub     *recorder
	ex      *Exchange
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithStore(t, storage.NewMemoryStore())
}

func newHarnessWithStore(t *testing.T, store storage.Store) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		cfg:      DefaultConfig(),
		store:    store,
		assets:   asset.NewRegistry(),
		custody:  custody.NewMemory(),
		verifier: auth.NewEIP712Verifier(crypto.DefaultDomain()),
		parties:  make(map[string]*crypto.Signer),
	}
	h.domain = h.verifier.Domain()
	for i, s := range symbols {
		require.NoError(t, h.assets.Register(s, common.BigToAddress(big.NewInt(int64(0x100+i)))))
	}
	h.build()
	return h
}

// build wires a fresh exchange over the harness store, custody and assets,
// as a restart would.
func (h *harness) build() {
	log := zaptest.NewLogger(h.t).Sugar()
	clock := util.NewStepClock(time.Unix(1700000000, 0), time.Millisecond)

	h.book = orderbook.NewIndex(clock)
	h.ledger = fill.NewLedger()
	h.queue = mempool.NewMempool()
	h.pub = &recorder{}
	h.monitor = conditional.NewMonitor(conditional.DefaultConfig(), h.queue, h.store, h.pub, nil, clock, log)
	h.pub.monitor = h.monitor

	m := match.New(match.DefaultConfig(), match.Deps{
		Book:     h.book,
		Ledger:   h.ledger,
		Verifier: h.verifier,
		Assets:   h.assets,
		Custody:  h.custody,
		Store:    h.store,
		Clock:    clock,
		Logger:   log,
	})
	h.ex = New(h.cfg, Deps{
		Book:           h.book,
		Ledger:         h.ledger,
		Matcher:        m,
		Verifier:       h.verifier,
		CancelVerifier: h.verifier,
		Assets:         h.assets,
		Monitor:        h.monitor,
		Queue:          h.queue,
		Store:          h.store,
		Publisher:      h.pub,
		Clock:          clock,
		Logger:         log,
	})
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

// unapproved returns a funded signer that granted no allowance.
func (h *harness) unapproved(name string) *crypto.Signer {
	s, err := crypto.GenerateKey()
	require.NoError(h.t, err)
	for _, sym := range symbols {
		require.NoError(h.t, h.custody.Deposit(s.Address(), h.token(sym), funding))
	}
	h.parties[name] = s
	return s
}

func (h *harness) order(name string, nonce int64, in string, amtIn int64, out string, amtOut int64) *order.Order {
	s := h.party(name)
	o := &order.Order{
		Creator:   s.Address(),
		SymbolIn:  in,
		SymbolOut: out,
		AmtIn:     big.NewInt(amtIn),
		AmtOut:    big.NewInt(amtOut),
		Nonce:     big.NewInt(nonce),
	}
	h.sign(name, o)
	return o
}

func (h *harness) sign(name string, o *order.Order) {
	require.NoError(h.t, auth.SignOrder(h.domain, h.parties[name], o))
}

func (h *harness) submit(name string, nonce int64, in string, amtIn int64, out string, amtOut int64) (order.Key, *SubmitResult) {
	o := h.order(name, nonce, in, amtIn, out, amtOut)
	res, err := h.ex.Submit(context.Background(), o)
	require.NoError(h.t, err)
	return o.Key(), res
}

func (h *harness) cancelSig(name string, nonce int64) []byte {
	s := h.party(name)
	sig, err := h.domain.SignCancel(s, &crypto.CancelEIP712{CreatedBy: s.Address(), Nonce: big.NewInt(nonce)})
	require.NoError(h.t, err)
	return sig
}

func (h *harness) status(key order.Key) order.Status {
	rec, ok := h.ex.Order(key)
	require.True(h.t, ok, "no record for %s", key)
	return rec.Status
}

func (h *harness) filled(key order.Key) string { return h.ledger.Cumulative(key).String() }

func (h *harness) resting(key order.Key) (string, bool) {
	e, ok := h.book.Get(key)
	if !ok {
		return "", false
	}
	return e.Remaining.String(), true
}

// delta is the change of a party's balance since funding.
func (h *harness) delta(name, symbol string) int64 {
	bal := h.custody.Balance(h.parties[name].Address(), h.token(symbol))
	return new(big.Int).Sub(bal, funding).Int64()
}

func scaled(num, den int64) *big.Int {
	p := new(big.Int).Mul(big.NewInt(num), order.PriceFactor)
	return p.Quo(p, big.NewInt(den))
}
