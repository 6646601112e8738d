package order

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// ErrInvalidOrder is wrapped by every structural validation failure.
var ErrInvalidOrder = errors.New("invalid order")

// Key identifies an order for accounting: (creator, nonce).
// Nonce is kept in canonical decimal form so Key stays comparable.
type Key struct {
	Creator common.Address
	Nonce   string
}

func NewKey(creator common.Address, nonce *big.Int) Key {
	return Key{Creator: creator, Nonce: nonce.String()}
}

// ParseKey parses a decimal nonce string into a Key.
func ParseKey(creator common.Address, nonce string) (Key, error) {
	n, ok := new(big.Int).SetString(nonce, 10)
	if !ok || n.Sign() < 0 {
		return Key{}, fmt.Errorf("%w: nonce %q", ErrInvalidOrder, nonce)
	}
	return NewKey(creator, n), nil
}

func (k Key) String() string { return k.Creator.Hex() + "-" + k.Nonce }

func (k Key) NonceInt() *big.Int {
	n, _ := new(big.Int).SetString(k.Nonce, 10)
	return n
}

// Order is a signed offer to give AmtIn of SymbolIn for AmtOut of SymbolOut.
type Order struct {
	Creator   common.Address `json:"createdBy"`
	SymbolIn  string         `json:"symbolIn"`
	SymbolOut string         `json:"symbolOut"`
	AmtIn     *big.Int       `json:"amtIn"`
	AmtOut    *big.Int       `json:"amtOut"`
	Nonce     *big.Int       `json:"nonce"`
	Signature []byte         `json:"signature"`

	// TriggerPrice makes the order a stop-limit order (quote per base, scaled by PriceFactor).
	TriggerPrice *big.Int `json:"triggerPrice,omitempty"`
	// Conditional is registered as a dormant stop-limit order once this order fills completely.
	Conditional *Order `json:"conditionalOrder,omitempty"`
}

func (o *Order) Key() Key { return NewKey(o.Creator, o.Nonce) }

// Validate checks the structural invariants of an order. It does not check authorization.
func (o *Order) Validate() error {
	if o == nil {
		return fmt.Errorf("%w: nil order", ErrInvalidOrder)
	}
	if o.Creator == (common.Address{}) {
		return fmt.Errorf("%w: missing creator", ErrInvalidOrder)
	}
	if strings.TrimSpace(o.SymbolIn) == "" || strings.TrimSpace(o.SymbolOut) == "" {
		return fmt.Errorf("%w: missing symbol (in=%q out=%q)", ErrInvalidOrder, o.SymbolIn, o.SymbolOut)
	}
	if o.SymbolIn == o.SymbolOut {
		return fmt.Errorf("%w: symbolIn and symbolOut are both %s", ErrInvalidOrder, o.SymbolIn)
	}
	if o.AmtIn == nil || o.AmtIn.Sign() <= 0 {
		return fmt.Errorf("%w: amtIn must be positive, got %v", ErrInvalidOrder, o.AmtIn)
	}
	if o.AmtOut == nil || o.AmtOut.Sign() <= 0 {
		return fmt.Errorf("%w: amtOut must be positive, got %v", ErrInvalidOrder, o.AmtOut)
	}
	if o.Nonce == nil || o.Nonce.Sign() < 0 {
		return fmt.Errorf("%w: nonce must be non-negative, got %v", ErrInvalidOrder, o.Nonce)
	}
	if o.TriggerPrice != nil && o.TriggerPrice.Sign() <= 0 {
		return fmt.Errorf("%w: trigger price must be positive, got %s", ErrInvalidOrder, o.TriggerPrice)
	}
	if c := o.Conditional; c != nil {
		if c.Conditional != nil {
			return fmt.Errorf("%w: conditional order cannot carry its own conditional", ErrInvalidOrder)
		}
		if c.TriggerPrice == nil {
			return fmt.Errorf("%w: conditional order needs a trigger price", ErrInvalidOrder)
		}
		if c.Creator != o.Creator {
			return fmt.Errorf("%w: conditional creator %s differs from parent %s", ErrInvalidOrder, c.Creator.Hex(), o.Creator.Hex())
		}
		if c.Key() == o.Key() {
			return fmt.Errorf("%w: conditional order reuses parent nonce %s", ErrInvalidOrder, o.Nonce)
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("conditional: %w", err)
		}
	}
	return nil
}

// Digest is the keccak256 of the signed content fields. Two orders with the
// same key but different digests are conflicting declarations.
func (o *Order) Digest() common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(o.Creator.Bytes())
	for _, s := range []string{o.SymbolIn, o.SymbolOut} {
		h.Write(big.NewInt(int64(len(s))).FillBytes(make([]byte, 4)))
		h.Write([]byte(s))
	}
	for _, n := range []*big.Int{o.AmtIn, o.AmtOut, o.Nonce} {
		h.Write(common.LeftPadBytes(n.Bytes(), 32))
	}
	var out common.Hash
	h.Sum(out[:0])
	return out
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	cp.AmtIn = cloneInt(o.AmtIn)
	cp.AmtOut = cloneInt(o.AmtOut)
	cp.Nonce = cloneInt(o.Nonce)
	cp.TriggerPrice = cloneInt(o.TriggerPrice)
	cp.Signature = append([]byte(nil), o.Signature...)
	cp.Conditional = o.Conditional.Clone()
	return &cp
}

func cloneInt(n *big.Int) *big.Int {
	if n == nil {
		return nil
	}
	return new(big.Int).Set(n)
}

// Record is the lifecycle view of an order: the live book holds the open ones,
// the rest is history.
type Record struct {
	Order     *Order    `json:"order"`
	Status    Status    `json:"status"`
	Filled    *big.Int  `json:"filled"`
	Seq       uint64    `json:"seq"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (r *Record) Remaining() *big.Int {
	rem := new(big.Int).Sub(r.Order.AmtIn, r.Filled)
	if rem.Sign() < 0 {
		return new(big.Int)
	}
	return rem
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Order = r.Order.Clone()
	cp.Filled = cloneInt(r.Filled)
	return &cp
}
