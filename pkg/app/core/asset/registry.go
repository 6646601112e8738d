package asset

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// UnknownAssetError is returned when a symbol has no registered custody identifier.
type UnknownAssetError struct {
	Symbol string
}

func (e *UnknownAssetError) Error() string {
	return fmt.Sprintf("unknown asset %q", e.Symbol)
}

// Resolver maps a symbol to the identifier the custody ledger knows it by.
type Resolver interface {
	Resolve(symbol string) (common.Address, error)
}

// Asset is one registry entry.
type Asset struct {
	Symbol string         `json:"symbol" toml:"symbol"`
	Token  common.Address `json:"token" toml:"token"`
}

// Registry is an in-memory symbol -> token mapping. Entries are immutable once registered.
type Registry struct {
	mu     sync.RWMutex
	assets map[string]common.Address
}

func NewRegistry() *Registry {
	return &Registry{assets: make(map[string]common.Address)}
}

// Register adds a symbol. Re-registering the same mapping is a no-op;
// remapping an existing symbol is an error.
func (r *Registry) Register(symbol string, token common.Address) error {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return fmt.Errorf("cannot register empty symbol")
	}
	if token == (common.Address{}) {
		return fmt.Errorf("cannot register %s with zero token address", symbol)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.assets[symbol]; ok {
		if existing == token {
			return nil
		}
		return fmt.Errorf("asset %s already registered to %s", symbol, existing.Hex())
	}
	r.assets[symbol] = token
	return nil
}

func (r *Registry) Resolve(symbol string) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	token, ok := r.assets[symbol]
	if !ok {
		return common.Address{}, &UnknownAssetError{Symbol: symbol}
	}
	return token, nil
}

// List returns all assets sorted by symbol.
func (r *Registry) List() []Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Asset, 0, len(r.assets))
	for s, t := range r.assets {
		out = append(out, Asset{Symbol: s, Token: t})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.assets)
}
