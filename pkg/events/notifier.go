package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/uhyunpark/smashdex/pkg/metrics"
	"github.com/uhyunpark/smashdex/pkg/util"
)

// Subscriber receives events. Returning an error triggers a retry unless
// the error is wrapped with backoff.Permanent.
type Subscriber interface {
	Deliver(ctx context.Context, e Event) error
}

type SubscriberFunc func(ctx context.Context, e Event) error

func (f SubscriberFunc) Deliver(ctx context.Context, e Event) error { return f(ctx, e) }

type Config struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// QueueLimit caps a subscriber's backlog; the oldest events are dropped
	// beyond it. Zero means unbounded. Lossless subscribers are exempt.
	QueueLimit int
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:      5,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		QueueLimit:      100_000,
	}
}

// Notifier delivers every published event to every subscriber, in publish
// order, at least once. Each subscriber has its own queue and worker so a
// slow sink never blocks matching or the other sinks.
type Notifier struct {
	cfg     Config
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
	clock   util.Clock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	seq    uint64
	subs   []*subscription
	closed bool
}

type subscription struct {
	name string
	sub  Subscriber

	// lossless subscriptions ignore QueueLimit
	lossless bool

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
}

// SubscribeOption adjusts a subscription.
type SubscribeOption func(*subscription)

// Lossless exempts a subscriber from QueueLimit. In-process consumers whose
// state is driven by the stream, such as the conditional monitor, use it.
func Lossless() SubscribeOption {
	return func(s *subscription) { s.lossless = true }
}

func NewNotifier(cfg Config, log *zap.SugaredLogger, m *metrics.Metrics, clock util.Clock) *Notifier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{cfg: cfg, log: log, metrics: m, clock: clock, ctx: ctx, cancel: cancel}
}

// Subscribe registers a sink and starts its worker. Events published before
// the call are not replayed.
func (n *Notifier) Subscribe(name string, sub Subscriber, opts ...SubscribeOption) {
	s := &subscription{name: name, sub: sub}
	for _, opt := range opts {
		opt(s)
	}
	s.cond = sync.NewCond(&s.mu)

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.subs = append(n.subs, s)
	n.wg.Add(1)
	go n.run(s)
}

// Publish stamps and enqueues events. It never blocks on delivery.
func (n *Notifier) Publish(evts ...Event) {
	if len(evts) == 0 {
		return
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	now := n.clock.Now()
	for i := range evts {
		n.seq++
		evts[i].Seq = n.seq
		if evts[i].Time.IsZero() {
			evts[i].Time = now
		}
	}
	subs := n.subs
	// enqueue under n.mu so every subscriber sees the same order
	for _, s := range subs {
		s.push(evts, n.cfg.QueueLimit, n.log)
	}
	n.mu.Unlock()
}

func (s *subscription) push(evts []Event, limit int, log *zap.SugaredLogger) {
	s.mu.Lock()
	s.queue = append(s.queue, evts...)
	if limit > 0 && !s.lossless && len(s.queue) > limit {
		drop := len(s.queue) - limit
		log.Warnw("event_queue_overflow", "subscriber", s.name, "dropped", drop)
		s.queue = s.queue[drop:]
	}
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *subscription) next() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.queue) == 0 {
		return Event{}, false
	}
	e := s.queue[0]
	s.queue[0] = Event{}
	s.queue = s.queue[1:]
	return e, true
}

func (n *Notifier) run(s *subscription) {
	defer n.wg.Done()
	for {
		e, ok := s.next()
		if !ok {
			return
		}
		n.deliver(s, e)
	}
}

func (n *Notifier) deliver(s *subscription, e Event) {
	b := backoff.NewExponentialBackOff()
	if n.cfg.InitialInterval > 0 {
		b.InitialInterval = n.cfg.InitialInterval
	}
	if n.cfg.MaxInterval > 0 {
		b.MaxInterval = n.cfg.MaxInterval
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, n.cfg.MaxRetries), n.ctx)

	permanent := false
	err := backoff.RetryNotify(func() error {
		err := s.sub.Deliver(n.ctx, e)
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			permanent = true
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		n.metrics.EventDeliveryFailed(s.name)
		n.log.Debugw("event_delivery_retry", "subscriber", s.name, "event", e.Type, "seq", e.Seq, "wait", wait, "err", err)
	})
	if err == nil {
		return
	}

	n.metrics.EventDeliveryFailed(s.name)
	if permanent {
		n.log.Warnw("event_dropped", "subscriber", s.name, "event", e.Type, "seq", e.Seq, "err", err)
		return
	}
	n.log.Errorw("event_delivery_failed", "subscriber", s.name, "event", e.Type, "seq", e.Seq, "err", err)
}

// Backlog reports the number of queued events per subscriber.
func (n *Notifier) Backlog() map[string]int {
	n.mu.Lock()
	subs := n.subs
	n.mu.Unlock()
	out := make(map[string]int, len(subs))
	for _, s := range subs {
		s.mu.Lock()
		out[s.name] = len(s.queue)
		s.mu.Unlock()
	}
	return out
}

// Close stops accepting events, waits for the queues to drain and stops the
// workers. Retries still pending when ctx expires are abandoned.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	subs := n.subs
	n.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cond.Broadcast()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		n.cancel()
		return nil
	case <-ctx.Done():
		n.cancel()
		<-done
		return ctx.Err()
	}
}
