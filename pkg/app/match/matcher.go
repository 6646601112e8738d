// Package match settles resting orders against each other, either as an
// operator-chosen bilateral execution or as an automatically detected ring.
//
// Matcher methods are not safe for concurrent use; the caller serializes them.
package match

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/smashdex/pkg/app/core/asset"
	"github.com/uhyunpark/smashdex/pkg/app/core/custody"
	"github.com/uhyunpark/smashdex/pkg/app/core/fill"
	"github.com/uhyunpark/smashdex/pkg/app/core/order"
	"github.com/uhyunpark/smashdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/smashdex/pkg/auth"
	"github.com/uhyunpark/smashdex/pkg/metrics"
	"github.com/uhyunpark/smashdex/pkg/storage"
	"github.com/uhyunpark/smashdex/pkg/util"
)

const (
	KindBilateral = "bilateral"
	KindRing      = "ring"
)

type Config struct {
	// MaxHops bounds the number of resting orders in a ring.
	MaxHops int
	// MaxCandidates bounds the feasible rings collected at one depth.
	MaxCandidates int
	// MaxRounds bounds how many rings one new order may drain.
	MaxRounds      int
	CustodyTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxHops:        5,
		MaxCandidates:  32,
		MaxRounds:      16,
		CustodyTimeout: 5 * time.Second,
	}
}

type Matcher struct {
	cfg      Config
	book     *orderbook.Index
	ledger   *fill.Ledger
	verifier auth.Verifier
	assets   asset.Resolver
	custody  custody.Custody
	store    storage.Store
	metrics  *metrics.Metrics
	clock    util.Clock
	log      *zap.SugaredLogger
}

type Deps struct {
	Book     *orderbook.Index
	Ledger   *fill.Ledger
	Verifier auth.Verifier
	Assets   asset.Resolver
	Custody  custody.Custody
	// Store journals fill records before custody settles. Nil keeps fills
	// in memory only.
	Store    storage.Store
	Metrics  *metrics.Metrics
	Clock    util.Clock
	Logger   *zap.SugaredLogger
}

func New(cfg Config, d Deps) *Matcher {
	def := DefaultConfig()
	if cfg.MaxHops < 2 {
		cfg.MaxHops = def.MaxHops
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = def.MaxRounds
	}
	if cfg.CustodyTimeout <= 0 {
		cfg.CustodyTimeout = def.CustodyTimeout
	}
	if d.Clock == nil {
		d.Clock = util.RealClock{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	return &Matcher{
		cfg:      cfg,
		book:     d.Book,
		ledger:   d.Ledger,
		verifier: d.Verifier,
		assets:   d.Assets,
		custody:  d.Custody,
		store:    d.Store,
		metrics:  d.Metrics,
		clock:    d.Clock,
		log:      d.Logger,
	}
}

// Leg is one order's part in an execution.
type Leg struct {
	Key        order.Key    `json:"-"`
	Order      *order.Order `json:"-"`
	Role       string       `json:"role"`
	Gave       *big.Int     `json:"gave"`
	Received   *big.Int     `json:"received"`
	Cumulative *big.Int     `json:"cumulative"`
	Remaining  *big.Int     `json:"remaining"`
	Removed    bool         `json:"removed"`
}

// Trade prices one leg on its canonical pair.
type Trade struct {
	Pair        order.Pair `json:"pair"`
	Price       *big.Int   `json:"price"`
	BaseAmount  *big.Int   `json:"baseAmount"`
	QuoteAmount *big.Int   `json:"quoteAmount"`
	Key         order.Key  `json:"-"`
}

// Execution is one committed atomic settlement.
type Execution struct {
	Kind      string             `json:"kind"`
	Legs      []Leg              `json:"legs"`
	Transfers []custody.Transfer `json:"transfers"`
	Trades    []Trade            `json:"trades"`
	At        time.Time          `json:"at"`
}

// leg is a planned, not yet applied, part of an execution.
type leg struct {
	entry    *orderbook.Entry
	role     string
	give     *big.Int
	payee    int // index of the leg that receives what this one gives
	receives *big.Int
	// priced legs produce a Trade; a bilateral taker mirrors its maker's trade
	priced bool
}

// settle applies a planned execution: ledger increments first, then the
// fill journal, then the custody transfers under a timeout, then book
// updates. Funds never move before the new cumulative fills are durable. A
// journal or custody failure rolls the ledger back and leaves the book
// untouched.
func (m *Matcher) settle(ctx context.Context, kind string, legs []leg) (*Execution, error) {
	transfers := make([]custody.Transfer, 0, len(legs))
	incs := make([]fill.Increment, 0, len(legs))
	keys := make([]order.Key, 0, len(legs))
	for _, l := range legs {
		o := l.entry.Order
		token, err := m.assets.Resolve(o.SymbolIn)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, custody.Transfer{
			From:   o.Creator,
			To:     legs[l.payee].entry.Order.Creator,
			Symbol: o.SymbolIn,
			Token:  token,
			Amount: new(big.Int).Set(l.give),
		})
		incs = append(incs, fill.Increment{Key: o.Key(), Amount: l.give, Declared: o.AmtIn, Role: l.role})
		keys = append(keys, o.Key())
	}

	before := m.ledger.Records(keys...)
	undo, err := m.ledger.RecordFills(incs)
	if err != nil {
		return nil, err
	}
	if err := m.journal(m.ledger.Records(keys...)); err != nil {
		undo()
		m.metrics.SettlementFailed("journal")
		m.log.Errorw("fill_journal_failed", "kind", kind, "legs", len(legs), "err", err)
		return nil, fmt.Errorf("%s fill journal failed: %w", kind, err)
	}

	sctx, cancel := context.WithTimeout(ctx, m.cfg.CustodyTimeout)
	err = m.custody.Settle(sctx, transfers)
	cancel()
	if err != nil {
		undo()
		if jerr := m.journal(before); jerr != nil {
			// the stored cumulatives now overstate the fills, which can only
			// under-fill these orders after a restart
			m.log.Errorw("fill_journal_rollback_failed", "kind", kind, "err", jerr)
		}
		m.metrics.SettlementFailed("custody")
		m.log.Warnw("settlement_rolled_back", "kind", kind, "legs", len(legs), "err", err)
		return nil, fmt.Errorf("%s settlement failed: %w", kind, err)
	}

	exec := &Execution{Kind: kind, Transfers: transfers, At: m.clock.Now()}
	for _, l := range legs {
		o := l.entry.Order
		key := o.Key()
		rem := m.ledger.Remaining(key, o.AmtIn)
		removed, err := m.book.UpdateRemaining(key, rem)
		if err != nil {
			// the entry was verified resting before settlement
			m.log.Errorw("book_update_failed", "order", key.String(), "err", err)
		}

		pair, price := order.TradePrice(o.SymbolIn, l.give, o.SymbolOut, l.receives)
		base, quote := l.give, l.receives
		if o.SymbolIn != pair.Base {
			base, quote = l.receives, l.give
		}
		exec.Legs = append(exec.Legs, Leg{
			Key:        key,
			Order:      o,
			Role:       l.role,
			Gave:       new(big.Int).Set(l.give),
			Received:   new(big.Int).Set(l.receives),
			Cumulative: m.ledger.Cumulative(key),
			Remaining:  rem,
			Removed:    removed,
		})
		if !l.priced {
			continue
		}
		m.book.RecordTrade(pair, price)
		exec.Trades = append(exec.Trades, Trade{
			Pair:        pair,
			Price:       price,
			BaseAmount:  new(big.Int).Set(base),
			QuoteAmount: new(big.Int).Set(quote),
			Key:         key,
		})
	}
	m.metrics.SetResting(m.book.Len())
	return exec, nil
}

// journal writes fill records in one synced batch.
func (m *Matcher) journal(recs []fill.Record) error {
	if m.store == nil {
		return nil
	}
	b := m.store.NewBatch()
	defer b.Close()
	for _, r := range recs {
		if err := b.PutFill(r); err != nil {
			return err
		}
	}
	return b.Commit()
}
