package match

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/smashdex/pkg/app/core/order"
	"github.com/uhyunpark/smashdex/pkg/app/core/orderbook"
)

// RingResult lists the rings one new order took part in, in execution order.
type RingResult struct {
	Executions []*Execution
	// Remaining is the new order's unfilled input after the last ring.
	Remaining *big.Int
}

// DetectAndExecute searches for rings that close through the resting entry
// newKey and executes them one at a time until none is left, the entry is
// drained, or MaxRounds is reached. ErrNoRingFound means nothing executed.
//
// If a later round fails after earlier rings committed, the result is
// returned together with the error.
func (m *Matcher) DetectAndExecute(ctx context.Context, newKey order.Key) (*RingResult, error) {
	res := &RingResult{}
	for round := 0; round < m.cfg.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return m.partial(res, err)
		}
		entry, ok := m.book.Get(newKey)
		if !ok {
			break
		}
		res.Remaining = entry.Remaining

		cand := m.search(entry)
		if cand == nil {
			break
		}
		exec, err := m.executeRing(ctx, cand)
		if err != nil {
			return m.partial(res, err)
		}
		res.Executions = append(res.Executions, exec)
		res.Remaining = exec.Legs[0].Remaining
		if res.Remaining.Sign() == 0 {
			break
		}
	}
	if len(res.Executions) == 0 {
		return nil, ErrNoRingFound
	}
	return res, nil
}

func (m *Matcher) partial(res *RingResult, err error) (*RingResult, error) {
	if len(res.Executions) == 0 {
		return nil, err
	}
	return res, err
}

// candidate is a closed cycle: path[0] is the new entry, path[j] gives what
// path[j-1] wants, and the last edge gives what path[0] wants.
type candidate struct {
	path []*orderbook.Entry
	cons []*big.Int
	seqs []uint64
}

type frame struct {
	edges []*orderbook.Entry
	next  int
}

// search runs an iterative-deepening, explicit-stack DFS over the resting
// book for the shortest feasible rings through newEntry and picks one.
func (m *Matcher) search(newEntry *orderbook.Entry) *candidate {
	start, target := newEntry.Order.SymbolOut, newEntry.Order.SymbolIn
	newKey := newEntry.Key()

	outgoing := make(map[string][]*orderbook.Entry)
	edgesFrom := func(symbol string) []*orderbook.Entry {
		if es, ok := outgoing[symbol]; ok {
			return es
		}
		var es []*orderbook.Entry
		for _, e := range m.book.Outgoing(symbol) {
			if e.Key() != newKey && e.Remaining.Sign() > 0 {
				es = append(es, e)
			}
		}
		outgoing[symbol] = es
		return es
	}

	for depth := 2; depth <= m.cfg.MaxHops; depth++ {
		var found []*candidate

		path := []*orderbook.Entry{}
		visited := map[string]bool{target: true, start: true}
		creators := map[common.Address]bool{newEntry.Order.Creator: true}
		stack := []*frame{{edges: edgesFrom(start)}}

		for len(stack) > 0 && len(found) < m.cfg.MaxCandidates {
			top := stack[len(stack)-1]
			if top.next >= len(top.edges) {
				stack = stack[:len(stack)-1]
				if n := len(path); n > 0 {
					last := path[n-1]
					path = path[:n-1]
					delete(visited, last.Order.SymbolOut)
					delete(creators, last.Order.Creator)
				}
				continue
			}
			e := top.edges[top.next]
			top.next++

			if creators[e.Order.Creator] {
				continue
			}
			out := e.Order.SymbolOut
			if out == target {
				if len(path)+1 == depth {
					ring := append([]*orderbook.Entry{newEntry}, path...)
					ring = append(ring, e)
					if c := m.plan(ring); c != nil {
						found = append(found, c)
					}
				}
				continue
			}
			if len(path)+1 >= depth || visited[out] {
				continue
			}
			path = append(path, e)
			visited[out] = true
			creators[e.Order.Creator] = true
			stack = append(stack, &frame{edges: edgesFrom(out)})
		}

		if len(found) > 0 {
			sort.SliceStable(found, func(i, j int) bool { return lessSeqs(found[i].seqs, found[j].seqs) })
			return found[0]
		}
	}
	return nil
}

// lessSeqs compares ascending sequence lists lexicographically, so the ring
// holding the earliest order wins.
func lessSeqs(a, b []uint64) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// plan checks feasibility and computes per-edge consumption, or returns nil.
func (m *Matcher) plan(ring []*orderbook.Entry) *candidate {
	// feasible iff the product of rates AmtOut/AmtIn is at most one
	prodIn, prodOut := big.NewInt(1), big.NewInt(1)
	for _, e := range ring {
		prodIn.Mul(prodIn, e.Order.AmtIn)
		prodOut.Mul(prodOut, e.Order.AmtOut)
	}
	if prodOut.Cmp(prodIn) > 0 {
		return nil
	}

	cons := Throughput(ring)
	if cons == nil {
		return nil
	}

	seqs := make([]uint64, len(ring))
	for i, e := range ring {
		seqs[i] = e.Seq
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return &candidate{path: ring, cons: cons, seqs: seqs}
}

// Throughput returns the input each edge of the ring consumes, or nil when
// some edge would consume nothing. The bottleneck edge, the first one with
// the smallest remaining/P ratio where P is the product of rates from
// ring[0] up to it, consumes its whole remaining. Every following edge
// consumes the truncated rate-scaled amount its predecessor asks for.
func Throughput(ring []*orderbook.Entry) []*big.Int {
	n := len(ring)
	prefix := big.NewRat(1, 1)
	var best *big.Rat
	b := 0
	for j, e := range ring {
		ratio := new(big.Rat).SetFrac(e.Remaining, big.NewInt(1))
		ratio.Quo(ratio, prefix)
		if best == nil || ratio.Cmp(best) < 0 {
			best, b = ratio, j
		}
		prefix.Mul(prefix, new(big.Rat).SetFrac(e.Order.AmtOut, e.Order.AmtIn))
	}

	cons := make([]*big.Int, n)
	cons[b] = new(big.Int).Set(ring[b].Remaining)
	for step := 0; step < n-1; step++ {
		j := (b + step) % n
		next := new(big.Int).Mul(cons[j], ring[j].Order.AmtOut)
		next.Quo(next, ring[j].Order.AmtIn)
		cons[(j+1)%n] = next
	}
	for _, c := range cons {
		if c.Sign() <= 0 {
			return nil
		}
	}
	return cons
}

func (m *Matcher) executeRing(ctx context.Context, c *candidate) (*Execution, error) {
	n := len(c.path)
	keys := make([]order.Key, n)
	for i, e := range c.path {
		keys[i] = e.Key()
	}

	legs := make([]leg, n)
	for j, e := range c.path {
		// re-read: another settlement may have consumed this edge since the search
		cur, ok := m.book.Get(keys[j])
		if !ok {
			return nil, m.fault(keys, j, "edge no longer resting")
		}
		ledgerRem := m.ledger.Remaining(keys[j], e.Order.AmtIn)
		if c.cons[j].Cmp(cur.Remaining) > 0 || c.cons[j].Cmp(ledgerRem) > 0 {
			return nil, m.fault(keys, j, fmt.Sprintf("consumption %s exceeds remaining %s (ledger %s)", c.cons[j], cur.Remaining, ledgerRem))
		}
		role := "ring"
		if j == 0 {
			role = "taker"
		}
		legs[j] = leg{
			entry:    cur,
			role:     role,
			give:     c.cons[j],
			payee:    (j - 1 + n) % n,
			receives: c.cons[(j+1)%n],
			priced:   true,
		}
	}

	exec, err := m.settle(ctx, KindRing, legs)
	if err != nil {
		return nil, err
	}

	m.metrics.RingExecuted(n)
	m.log.Infow("ring_executed",
		"size", n,
		"new_order", keys[0].String(),
		"remaining", exec.Legs[0].Remaining.String(),
	)
	return exec, nil
}

func (m *Matcher) fault(keys []order.Key, leg int, reason string) error {
	err := &CycleExecutionError{Path: keys, Leg: leg, Reason: reason}
	m.metrics.SettlementFailed("cycle_fault")
	m.log.Errorw("cycle_execution_fault", "err", err)
	return err
}

// IsNoRing reports whether err is the benign no-ring outcome.
func IsNoRing(err error) bool { return errors.Is(err, ErrNoRingFound) }
