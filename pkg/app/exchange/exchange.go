// Package exchange is the single write entry point of the matching core. It
// admits signed orders into the book, runs ring detection on every insertion,
// settles operator-directed bilateral fills, cancels orders, activates
// triggered conditional orders, and persists and publishes every change.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/smashdex/pkg/app/conditional"
	"github.com/uhyunpark/smashdex/pkg/app/core/asset"
	"github.com/uhyunpark/smashdex/pkg/app/core/fill"
	"github.com/uhyunpark/smashdex/pkg/app/core/mempool"
	"github.com/uhyunpark/smashdex/pkg/app/core/order"
	"github.com/uhyunpark/smashdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/smashdex/pkg/app/match"
	"github.com/uhyunpark/smashdex/pkg/auth"
	"github.com/uhyunpark/smashdex/pkg/events"
	"github.com/uhyunpark/smashdex/pkg/metrics"
	"github.com/uhyunpark/smashdex/pkg/storage"
	"github.com/uhyunpark/smashdex/pkg/util"
)

// Publisher is the part of events.Notifier the exchange uses.
type Publisher interface {
	Publish(evts ...events.Event)
}

// ErrHalted is returned by every write after a state change could not be
// persisted. Restart the node to resume from the store.
var ErrHalted = errors.New("exchange halted")

type Config struct {
	// ActivationBatch bounds how many queued activations one drain takes.
	ActivationBatch int
	// DirectMatch crosses every inserted order against resting mirrored
	// orders on its own pair before ring detection runs.
	DirectMatch bool
}

func DefaultConfig() Config {
	return Config{ActivationBatch: 64}
}

type Deps struct {
	Book           *orderbook.Index
	Ledger         *fill.Ledger
	Matcher        *match.Matcher
	Verifier       auth.Verifier
	CancelVerifier auth.CancelVerifier
	Assets         asset.Resolver
	Monitor        *conditional.Monitor
	Queue          *mempool.Mempool
	Store          storage.Store
	Publisher      Publisher
	Metrics        *metrics.Metrics
	Clock          util.Clock
	Logger         *zap.SugaredLogger
}

type Exchange struct {
	cfg            Config
	book           *orderbook.Index
	ledger         *fill.Ledger
	matcher        *match.Matcher
	verifier       auth.Verifier
	cancelVerifier auth.CancelVerifier
	assets         asset.Resolver
	monitor        *conditional.Monitor
	queue          *mempool.Mempool
	store          storage.Store
	pub            Publisher
	metrics        *metrics.Metrics
	clock          util.Clock
	log            *zap.SugaredLogger

	// mu serializes every mutation of the book, the ledger and custody.
	mu sync.Mutex
	// halted is the persistence failure that stopped all writes. Guarded by mu.
	halted error

	// recMu guards records so that queries never wait on mu.
	recMu   sync.RWMutex
	records map[order.Key]*order.Record
}

func New(cfg Config, d Deps) *Exchange {
	if cfg.ActivationBatch <= 0 {
		cfg.ActivationBatch = DefaultConfig().ActivationBatch
	}
	if d.Store == nil {
		d.Store = storage.NewMemoryStore()
	}
	if d.Queue == nil {
		d.Queue = mempool.NewMempool()
	}
	if d.Clock == nil {
		d.Clock = util.RealClock{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	return &Exchange{
		cfg:            cfg,
		book:           d.Book,
		ledger:         d.Ledger,
		matcher:        d.Matcher,
		verifier:       d.Verifier,
		cancelVerifier: d.CancelVerifier,
		assets:         d.Assets,
		monitor:        d.Monitor,
		queue:          d.Queue,
		store:          d.Store,
		pub:            d.Publisher,
		metrics:        d.Metrics,
		clock:          d.Clock,
		log:            d.Logger,
		records:        make(map[order.Key]*order.Record),
	}
}

// Restore rebuilds the ledger, the book, the order records and the
// conditional registrations from the store. Call it before serving.
func (e *Exchange) Restore() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	fills, err := e.store.LoadFills()
	if err != nil {
		return fmt.Errorf("load fills: %w", err)
	}
	e.ledger.Restore(fills)

	recs, err := e.store.LoadOrders()
	if err != nil {
		return fmt.Errorf("load orders: %w", err)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })

	resting := 0
	e.recMu.Lock()
	for _, rec := range recs {
		key := rec.Order.Key()
		e.records[key] = rec
		if !rec.Status.Active() {
			continue
		}
		// fills are journaled ahead of the order records
		cum := e.ledger.Cumulative(key)
		rec.Filled = cum
		rec.Status = order.StatusFor(cum, rec.Order.AmtIn)
		rem := e.ledger.Remaining(key, rec.Order.AmtIn)
		if rem.Sign() <= 0 {
			continue
		}
		if _, err := e.book.Insert(&orderbook.Entry{
			Order:     rec.Order.Clone(),
			Remaining: rem,
			Seq:       rec.Seq,
			CreatedAt: rec.CreatedAt,
		}); err != nil {
			e.recMu.Unlock()
			return fmt.Errorf("restore %s: %w", key, err)
		}
		resting++
	}
	e.recMu.Unlock()

	seq, err := e.store.Seq()
	if err != nil {
		return fmt.Errorf("load seq: %w", err)
	}
	e.book.SetNextSeq(seq)

	dormant := 0
	if e.monitor != nil {
		if dormant, err = e.monitor.Restore(); err != nil {
			return fmt.Errorf("restore conditionals: %w", err)
		}
		// an activation that reached the book before its registration was
		// cleared is live; drop the registration
		for _, entry := range e.book.All() {
			key := entry.Key()
			if _, ok := e.monitor.Get(key); !ok {
				continue
			}
			if err := e.monitor.Activated(key); err != nil {
				return fmt.Errorf("reconcile conditional %s: %w", key, err)
			}
			dormant--
		}
	}

	e.metrics.SetResting(e.book.Len())
	e.log.Infow("state_restored",
		"fills", len(fills),
		"orders", len(recs),
		"resting", resting,
		"dormant", dormant,
		"next_seq", e.book.NextSeq(),
	)
	return nil
}

// Run drains the activation queue until ctx is done.
func (e *Exchange) Run(ctx context.Context) {
	e.log.Infow("activation_worker_started")
	for {
		select {
		case <-ctx.Done():
			e.log.Infow("activation_worker_stopped")
			return
		case <-e.queue.Ready():
			e.DrainActivations(ctx)
		}
	}
}

func (e *Exchange) publish(evts ...events.Event) {
	if e.pub != nil && len(evts) > 0 {
		e.pub.Publish(evts...)
	}
}

func (e *Exchange) record(key order.Key) *order.Record {
	e.recMu.RLock()
	defer e.recMu.RUnlock()
	return e.records[key].Clone()
}

// persist writes the fill and order records of keys in one batch. A failed
// write halts the exchange and the returned error wraps ErrHalted.
func (e *Exchange) persist(keys ...order.Key) error {
	recs := make([]*order.Record, 0, len(keys))
	e.recMu.RLock()
	for _, key := range keys {
		if rec, ok := e.records[key]; ok {
			recs = append(recs, rec.Clone())
		}
	}
	e.recMu.RUnlock()
	return e.write(keys, recs)
}

func (e *Exchange) write(keys []order.Key, recs []*order.Record) error {
	b := e.store.NewBatch()
	defer b.Close()

	err := func() error {
		seen := make(map[order.Key]struct{}, len(keys))
		for _, key := range keys {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			if cum := e.ledger.Cumulative(key); cum.Sign() > 0 {
				if err := b.PutFill(fill.Record{Key: key, Cumulative: cum}); err != nil {
					return err
				}
			}
		}
		for _, rec := range recs {
			if err := b.PutOrder(rec); err != nil {
				return err
			}
		}
		if err := b.SetSeq(e.book.NextSeq()); err != nil {
			return err
		}
		return b.Commit()
	}()
	if err != nil {
		e.log.Errorw("persist_failed", "orders", len(keys), "err", err)
		return e.halt(err)
	}
	return nil
}

// halt stops all further writes. Caller holds e.mu.
func (e *Exchange) halt(cause error) error {
	if e.halted == nil {
		e.halted = cause
		e.metrics.SettlementFailed("persist")
		e.log.Errorw("exchange_halted", "err", cause)
	}
	return fmt.Errorf("%w: %v", ErrHalted, cause)
}

// writable reports the halt error, if any. Caller holds e.mu.
func (e *Exchange) writable() error {
	if e.halted != nil {
		return fmt.Errorf("%w: %v", ErrHalted, e.halted)
	}
	return nil
}
