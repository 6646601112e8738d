// Package conditional holds stop-limit orders dormant until a trade on their
// pair crosses the trigger price, then hands them to the activation queue.
package conditional

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/smashdex/pkg/app/core/mempool"
	"github.com/uhyunpark/smashdex/pkg/app/core/order"
	"github.com/uhyunpark/smashdex/pkg/events"
	"github.com/uhyunpark/smashdex/pkg/metrics"
	"github.com/uhyunpark/smashdex/pkg/storage"
	"github.com/uhyunpark/smashdex/pkg/util"
)

var (
	ErrAlreadyRegistered = errors.New("conditional order already registered")
	ErrNotFound          = errors.New("conditional order not found")
)

type State int

const (
	StateDormant State = iota
	StateTriggered
	StateActive
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDormant:
		return "dormant"
	case StateTriggered:
		return "triggered"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *State) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	for _, c := range []State{StateDormant, StateTriggered, StateActive, StateFailed} {
		if c.String() == str {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown conditional state %q", str)
}

// Registration is a stop-limit order waiting for its trigger.
type Registration struct {
	Order *order.Order `json:"order"`
	Pair  order.Pair   `json:"pair"`
	// Trigger is quote per base on Pair, scaled by order.PriceFactor.
	Trigger *big.Int   `json:"trigger"`
	Above   bool       `json:"above"`
	Parent  *order.Key `json:"parent,omitempty"`
	State   State      `json:"state"`
	// Attempts counts failed activations.
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (r *Registration) Key() order.Key { return r.Order.Key() }

// Crossed reports whether a canonical-pair price satisfies the trigger.
func (r *Registration) Crossed(price *big.Int) bool {
	if r.Above {
		return price.Cmp(r.Trigger) >= 0
	}
	return price.Cmp(r.Trigger) <= 0
}

// Record is the order-lifecycle view of a registration.
func (r *Registration) Record() *order.Record {
	return &order.Record{
		Order:     r.Order.Clone(),
		Status:    order.StatusDormant,
		Filled:    new(big.Int),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (r *Registration) clone() *Registration {
	cp := *r
	cp.Order = r.Order.Clone()
	cp.Trigger = new(big.Int).Set(r.Trigger)
	if r.Parent != nil {
		p := *r.Parent
		cp.Parent = &p
	}
	return &cp
}

// Publisher is the part of events.Notifier the monitor uses.
type Publisher interface {
	Publish(evts ...events.Event)
}

type Config struct {
	MaxActivationAttempts int
}

func DefaultConfig() Config {
	return Config{MaxActivationAttempts: 3}
}

type Monitor struct {
	cfg     Config
	queue   *mempool.Mempool
	store   storage.Store
	pub     Publisher
	metrics *metrics.Metrics
	clock   util.Clock
	log     *zap.SugaredLogger

	mu     sync.Mutex
	regs   map[order.Key]*Registration
	byPair map[order.Pair]map[order.Key]struct{}
}

// NewMonitor wires a monitor. store, pub and m may be nil.
func NewMonitor(cfg Config, queue *mempool.Mempool, store storage.Store, pub Publisher, m *metrics.Metrics, clock util.Clock, log *zap.SugaredLogger) *Monitor {
	if cfg.MaxActivationAttempts <= 0 {
		cfg.MaxActivationAttempts = DefaultConfig().MaxActivationAttempts
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Monitor{
		cfg:     cfg,
		queue:   queue,
		store:   store,
		pub:     pub,
		metrics: m,
		clock:   clock,
		log:     log,
		regs:    make(map[order.Key]*Registration),
		byPair:  make(map[order.Pair]map[order.Key]struct{}),
	}
}

// Register stores o dormant until trigger is crossed. A sell (giving the base
// of its pair) fires at or below trigger, a buy at or above.
func (m *Monitor) Register(o *order.Order, trigger *big.Int, parent *order.Key) (*Registration, error) {
	if trigger == nil || trigger.Sign() <= 0 {
		return nil, fmt.Errorf("%w: trigger price must be positive, got %v", order.ErrInvalidOrder, trigger)
	}
	now := m.clock.Now()
	reg := &Registration{
		Order:     o.Clone(),
		Pair:      o.Pair(),
		Trigger:   new(big.Int).Set(trigger),
		Above:     !o.IsAsk(),
		Parent:    parent,
		State:     StateDormant,
		CreatedAt: now,
		UpdatedAt: now,
	}
	reg.Order.TriggerPrice = new(big.Int).Set(trigger)
	key := reg.Key()

	m.mu.Lock()
	if _, ok := m.regs[key]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, key)
	}
	if err := m.persist(reg); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.add(reg)
	out := reg.clone()
	m.mu.Unlock()

	m.log.Infow("conditional_registered",
		"key", key.String(),
		"pair", reg.Pair.String(),
		"trigger", reg.Trigger.String(),
		"above", reg.Above,
	)
	m.publish(events.NewOrderEvent(events.OrderDormant, out.Record()))
	return out, nil
}

// OnTrade checks dormant registrations on pair against price (quote per base
// of pair, scaled). A non-canonical pair has its price inverted first.
// It returns the keys that fired.
func (m *Monitor) OnTrade(pair order.Pair, price *big.Int) []order.Key {
	if price == nil || price.Sign() <= 0 {
		return nil
	}
	canonical := order.CanonicalPair(pair.Base, pair.Quote)
	if canonical != pair {
		price = order.InvertPrice(price)
	}

	m.mu.Lock()
	var fired []*Registration
	for key := range m.byPair[canonical] {
		reg := m.regs[key]
		if reg.State != StateDormant || !reg.Crossed(price) {
			continue
		}
		reg.State = StateTriggered
		reg.UpdatedAt = m.clock.Now()
		if err := m.persist(reg); err != nil {
			m.log.Warnw("conditional_persist_failed", "key", key.String(), "err", err)
		}
		fired = append(fired, reg.clone())
	}
	m.mu.Unlock()

	sort.Slice(fired, func(i, j int) bool { return fired[i].CreatedAt.Before(fired[j].CreatedAt) })
	keys := make([]order.Key, 0, len(fired))
	for _, reg := range fired {
		src := mempool.SourceTrigger
		if reg.Attempts > 0 {
			src = mempool.SourceRetry
		}
		m.queue.Push(mempool.Activation{
			Order:    reg.Order,
			Source:   src,
			Attempt:  reg.Attempts + 1,
			QueuedAt: m.clock.Now(),
		})
		m.log.Infow("conditional_triggered",
			"key", reg.Key().String(),
			"pair", canonical.String(),
			"price", price.String(),
			"trigger", reg.Trigger.String(),
		)
		keys = append(keys, reg.Key())
	}
	return keys
}

// Deliver makes the monitor an events.Subscriber: trade events drive OnTrade.
func (m *Monitor) Deliver(_ context.Context, e events.Event) error {
	if e.Type != events.Trade || e.Trade == nil {
		return nil
	}
	m.OnTrade(e.Trade.Pair, e.Trade.Price)
	return nil
}

// Activated removes a registration whose order entered the book.
func (m *Monitor) Activated(key order.Key) error {
	m.mu.Lock()
	reg, ok := m.regs[key]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	reg.State = StateActive
	if err := m.drop(reg); err != nil {
		m.mu.Unlock()
		return err
	}
	out := reg.clone()
	m.mu.Unlock()

	rec := out.Record()
	rec.Status = order.StatusOpen
	m.log.Infow("conditional_activated", "key", key.String())
	m.publish(events.NewOrderEvent(events.OrderActivated, rec))
	return nil
}

// ActivationFailed returns a triggered registration to dormant so the next
// crossing retries it. After MaxActivationAttempts it is dropped and
// reported as failed.
func (m *Monitor) ActivationFailed(key order.Key, cause error) (failed bool, err error) {
	m.mu.Lock()
	reg, ok := m.regs[key]
	if !ok {
		m.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	reg.Attempts++
	reg.UpdatedAt = m.clock.Now()
	if reg.Attempts >= m.cfg.MaxActivationAttempts {
		reg.State = StateFailed
		err = m.drop(reg)
		failed = true
	} else {
		reg.State = StateDormant
		err = m.persist(reg)
	}
	attempts := reg.Attempts
	m.mu.Unlock()

	m.log.Warnw("conditional_activation_failed",
		"key", key.String(),
		"attempts", attempts,
		"failed", failed,
		"err", cause,
	)
	return failed, err
}

// Cancel removes a dormant registration.
func (m *Monitor) Cancel(key order.Key) (*Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.regs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if reg.State != StateDormant {
		return nil, fmt.Errorf("conditional order %s is %s", key, reg.State)
	}
	if err := m.drop(reg); err != nil {
		return nil, err
	}
	return reg.clone(), nil
}

func (m *Monitor) Get(key order.Key) (*Registration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.regs[key]
	if !ok {
		return nil, false
	}
	return reg.clone(), true
}

// ByCreator returns a creator's registrations, oldest first.
func (m *Monitor) ByCreator(creator common.Address) []*Registration {
	m.mu.Lock()
	var out []*Registration
	for key, reg := range m.regs {
		if key.Creator == creator {
			out = append(out, reg.clone())
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.regs)
}

// Restore loads persisted registrations. Registrations caught mid-activation
// go back to dormant.
func (m *Monitor) Restore() (int, error) {
	if m.store == nil {
		return 0, nil
	}
	var loaded []*Registration
	err := m.store.LoadConditionals(func(data []byte) error {
		var reg Registration
		if err := json.Unmarshal(data, &reg); err != nil {
			return fmt.Errorf("failed to unmarshal conditional: %w", err)
		}
		loaded = append(loaded, &reg)
		return nil
	})
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	for _, reg := range loaded {
		if reg.State == StateTriggered {
			reg.State = StateDormant
		}
		m.add(reg)
	}
	m.mu.Unlock()
	return len(loaded), nil
}

func (m *Monitor) add(reg *Registration) {
	key := reg.Key()
	m.regs[key] = reg
	set, ok := m.byPair[reg.Pair]
	if !ok {
		set = make(map[order.Key]struct{})
		m.byPair[reg.Pair] = set
	}
	set[key] = struct{}{}
	m.metrics.SetDormant(len(m.regs))
}

// drop deletes reg from memory and storage. Caller holds m.mu.
func (m *Monitor) drop(reg *Registration) error {
	key := reg.Key()
	if m.store != nil {
		b := m.store.NewBatch()
		defer b.Close()
		if err := b.DeleteConditional(key); err != nil {
			return err
		}
		if err := b.Commit(); err != nil {
			return fmt.Errorf("failed to delete conditional %s: %w", key, err)
		}
	}
	delete(m.regs, key)
	if set := m.byPair[reg.Pair]; set != nil {
		delete(set, key)
		if len(set) == 0 {
			delete(m.byPair, reg.Pair)
		}
	}
	m.metrics.SetDormant(len(m.regs))
	return nil
}

// persist writes reg. Caller holds m.mu.
func (m *Monitor) persist(reg *Registration) error {
	if m.store == nil {
		return nil
	}
	b := m.store.NewBatch()
	defer b.Close()
	if err := b.PutConditional(reg.Key(), reg); err != nil {
		return err
	}
	if err := b.Commit(); err != nil {
		return fmt.Errorf("failed to persist conditional %s: %w", reg.Key(), err)
	}
	return nil
}

func (m *Monitor) publish(e events.Event) {
	if m.pub != nil {
		m.pub.Publish(e)
	}
}
