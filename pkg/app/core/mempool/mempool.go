// Package mempool holds orders waiting to enter the book outside the
// request path, such as triggered conditional orders.
package mempool

import (
	"sync"
	"time"

	"github.com/uhyunpark/smashdex/pkg/app/core/order"
)

// Source classifies why an order was queued.
type Source int

const (
	SourceTrigger Source = iota // stop-limit trigger crossed
	SourceRetry                 // earlier activation attempt failed
)

func (s Source) String() string {
	switch s {
	case SourceTrigger:
		return "trigger"
	case SourceRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// Activation is one queued insertion.
type Activation struct {
	Order    *order.Order
	Source   Source
	Attempt  int
	QueuedAt time.Time
}

func (a Activation) Key() order.Key { return a.Order.Key() }

// Mempool is a FIFO of pending activations. Push never blocks; Ready
// signals the draining worker.
type Mempool struct {
	mu    sync.Mutex
	queue []Activation
	ready chan struct{}
}

func NewMempool() *Mempool {
	return &Mempool{ready: make(chan struct{}, 1)}
}

// Push enqueues a copy of the activation's order.
func (m *Mempool) Push(a Activation) {
	a.Order = a.Order.Clone()
	m.mu.Lock()
	m.queue = append(m.queue, a)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled after every Push. A single signal may cover many pushes.
func (m *Mempool) Ready() <-chan struct{} { return m.ready }

// Select removes and returns up to max activations in admission order.
// max <= 0 takes everything.
func (m *Mempool) Select(max int) []Activation {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.queue)
	if max > 0 && max < n {
		n = max
	}
	out := make([]Activation, n)
	copy(out, m.queue[:n])
	m.queue = m.queue[n:]
	if len(m.queue) == 0 {
		m.queue = nil
	}
	return out
}

// Len returns pending activations.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
