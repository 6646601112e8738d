package custody

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type holding struct {
	owner common.Address
	token common.Address
}

// Holding is one owner's position in one token.
type Holding struct {
	Token     common.Address `json:"token"`
	Balance   *big.Int       `json:"balance"`
	Allowance *big.Int       `json:"allowance"`
}

// Memory is an in-process custody ledger. Owners deposit balances and grant
// the exchange an allowance per token; settlement debits both.
type Memory struct {
	mu         sync.RWMutex
	balances   map[holding]*big.Int
	allowances map[holding]*big.Int
}

func NewMemory() *Memory {
	return &Memory{
		balances:   make(map[holding]*big.Int),
		allowances: make(map[holding]*big.Int),
	}
}

// Deposit credits amount of token to owner.
func (m *Memory) Deposit(owner, token common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("deposit amount must be positive: %v", amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h := holding{owner, token}
	m.balances[h] = new(big.Int).Add(get(m.balances, h), amount)
	return nil
}

// Approve sets the amount of token the exchange may move for owner.
func (m *Memory) Approve(owner, token common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("allowance must be non-negative: %v", amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowances[holding{owner, token}] = new(big.Int).Set(amount)
	return nil
}

func (m *Memory) Balance(owner, token common.Address) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return get(m.balances, holding{owner, token})
}

func (m *Memory) Allowance(owner, token common.Address) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return get(m.allowances, holding{owner, token})
}

// Holdings lists every token owner has a balance or allowance in, sorted by token.
func (m *Memory) Holdings(owner common.Address) []Holding {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tokens := make(map[common.Address]struct{})
	for h := range m.balances {
		if h.owner == owner {
			tokens[h.token] = struct{}{}
		}
	}
	for h := range m.allowances {
		if h.owner == owner {
			tokens[h.token] = struct{}{}
		}
	}

	out := make([]Holding, 0, len(tokens))
	for token := range tokens {
		h := holding{owner, token}
		out = append(out, Holding{Token: token, Balance: get(m.balances, h), Allowance: get(m.allowances, h)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token.Hex() < out[j].Token.Hex() })
	return out
}

// Settle validates the aggregate debit of every (owner, token) against both
// balance and allowance, then applies all transfers.
func (m *Memory) Settle(ctx context.Context, transfers []Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	debits := make(map[holding]*big.Int)
	order := make([]holding, 0, len(transfers))
	for _, t := range transfers {
		if t.Amount == nil || t.Amount.Sign() <= 0 {
			return fmt.Errorf("transfer amount must be positive: %v", t.Amount)
		}
		h := holding{t.From, t.Token}
		if _, ok := debits[h]; !ok {
			debits[h] = new(big.Int)
			order = append(order, h)
		}
		debits[h].Add(debits[h], t.Amount)
	}

	for _, h := range order {
		need := debits[h]
		if approved := get(m.allowances, h); approved.Cmp(need) < 0 {
			return &InsufficientAuthorizationError{Owner: h.owner, Token: h.token, Required: need, Approved: approved}
		}
		if bal := get(m.balances, h); bal.Cmp(need) < 0 {
			return &InsufficientBalanceError{Owner: h.owner, Token: h.token, Required: need, Available: bal}
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("settlement aborted: %w", err)
	}

	for _, t := range transfers {
		from := holding{t.From, t.Token}
		to := holding{t.To, t.Token}
		m.balances[from] = new(big.Int).Sub(get(m.balances, from), t.Amount)
		m.allowances[from] = new(big.Int).Sub(get(m.allowances, from), t.Amount)
		m.balances[to] = new(big.Int).Add(get(m.balances, to), t.Amount)
	}
	return nil
}

func get(m map[holding]*big.Int, h holding) *big.Int {
	if v, ok := m[h]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}
