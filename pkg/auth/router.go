package auth

import (
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/uhyunpark/smashdex/pkg/app/core/order"
	"github.com/uhyunpark/smashdex/pkg/crypto"
)

// Router picks a scheme by signature length. BLS may be nil.
type Router struct {
	ECDSA Verifier
	BLS   Verifier
}

func (r *Router) Verify(o *order.Order) (common.Address, error) {
	switch len(o.Signature) {
	case crypto.SignatureLength:
		return r.ECDSA.Verify(o)
	case crypto.BLSSignatureLength:
		if r.BLS == nil {
			return common.Address{}, deny(o.Creator, "bls signatures are not enabled")
		}
		return r.BLS.Verify(o)
	case 0:
		return common.Address{}, deny(o.Creator, "missing signature")
	default:
		return common.Address{}, deny(o.Creator, "unsupported signature length %d", len(o.Signature))
	}
}

// Cached remembers successful verdicts. The matchers re-verify both sides of
// every execution, so most lookups hit.
type Cached struct {
	inner Verifier
	cache *lru.Cache[string, common.Address]
}

func NewCached(inner Verifier, size int) (*Cached, error) {
	c, err := lru.New[string, common.Address](size)
	if err != nil {
		return nil, err
	}
	return &Cached{inner: inner, cache: c}, nil
}

func (c *Cached) Verify(o *order.Order) (common.Address, error) {
	d := o.Digest()
	key := string(d[:]) + string(o.Signature)
	if addr, ok := c.cache.Get(key); ok {
		return addr, nil
	}
	addr, err := c.inner.Verify(o)
	if err != nil {
		return common.Address{}, err
	}
	c.cache.Add(key, addr)
	return addr, nil
}

func (c *Cached) Len() int { return c.cache.Len() }
