package auth

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/smashdex/pkg/app/core/order"
	"github.com/uhyunpark/smashdex/pkg/crypto"
)

func newOrder(creator common.Address) *order.Order {
	return &order.Order{
		Creator:   creator,
		SymbolIn:  "SC",
		SymbolOut: "DC",
		AmtIn:     big.NewInt(600),
		AmtOut:    big.NewInt(400),
		Nonce:     big.NewInt(1),
	}
}

func signed(t *testing.T, v *EIP712Verifier) (*crypto.Signer, *order.Order) {
	t.Helper()
	s, err := crypto.GenerateKey()
	require.NoError(t, err)
	o := newOrder(s.Address())
	require.NoError(t, SignOrder(v.Domain(), s, o))
	return s, o
}

func TestEIP712Verifier(t *testing.T) {
	v := NewEIP712Verifier(crypto.DefaultDomain())

	t.Run("valid", func(t *testing.T) {
		s, o := signed(t, v)
		addr, err := v.Verify(o)
		require.NoError(t, err)
		assert.Equal(t, s.Address(), addr)
	})

	t.Run("wallet v value", func(t *testing.T) {
		_, o := signed(t, v)
		o.Signature[64] += 27
		_, err := v.Verify(o)
		require.NoError(t, err)
	})

	t.Run("tampered amount", func(t *testing.T) {
		_, o := signed(t, v)
		o.AmtOut = big.NewInt(1)
		_, err := v.Verify(o)
		var authErr *AuthorizationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, o.Creator, authErr.Creator)
	})

	t.Run("claimed creator differs", func(t *testing.T) {
		_, o := signed(t, v)
		o.Creator = common.HexToAddress("0xbeef")
		_, err := v.Verify(o)
		var authErr *AuthorizationError
		require.ErrorAs(t, err, &authErr)
	})

	t.Run("other domain", func(t *testing.T) {
		_, o := signed(t, v)
		d := crypto.DefaultDomain()
		d.ChainID = big.NewInt(1)
		_, err := NewEIP712Verifier(d).Verify(o)
		var authErr *AuthorizationError
		require.ErrorAs(t, err, &authErr)
	})

	t.Run("missing signature", func(t *testing.T) {
		_, o := signed(t, v)
		o.Signature = nil
		_, err := v.Verify(o)
		var authErr *AuthorizationError
		require.ErrorAs(t, err, &authErr)
	})
}

func TestVerifyCancel(t *testing.T) {
	v := NewEIP712Verifier(crypto.DefaultDomain())
	s, err := crypto.GenerateKey()
	require.NoError(t, err)

	sig, err := v.Domain().SignCancel(s, &crypto.CancelEIP712{CreatedBy: s.Address(), Nonce: big.NewInt(9)})
	require.NoError(t, err)

	require.NoError(t, v.VerifyCancel(s.Address(), big.NewInt(9), sig))

	var authErr *AuthorizationError
	require.ErrorAs(t, v.VerifyCancel(s.Address(), big.NewInt(10), sig), &authErr)
	require.ErrorAs(t, v.VerifyCancel(common.HexToAddress("0x01"), big.NewInt(9), sig), &authErr)
}

func TestBLSVerifier(t *testing.T) {
	domain := crypto.DefaultDomain()
	v := NewBLSVerifier(domain)
	bs, err := crypto.NewBLSSignerFromSeed(bytes.Repeat([]byte{3}, 32))
	require.NoError(t, err)

	creator := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	o := newOrder(creator)
	digest, err := OrderDigest(crypto.NewEIP712Signer(domain), o)
	require.NoError(t, err)
	o.Signature = bs.Sign(digest)

	_, err = v.Verify(o)
	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr, "unregistered creator")

	require.NoError(t, v.RegisterKey(creator, bs.PubkeyBytes()))
	addr, err := v.Verify(o)
	require.NoError(t, err)
	assert.Equal(t, creator, addr)

	o.AmtIn = big.NewInt(601)
	_, err = v.Verify(o)
	require.ErrorAs(t, err, &authErr)
}

func TestRouter(t *testing.T) {
	ecdsa := NewEIP712Verifier(crypto.DefaultDomain())
	r := &Router{ECDSA: ecdsa}

	_, o := signed(t, ecdsa)
	_, err := r.Verify(o)
	require.NoError(t, err)

	var authErr *AuthorizationError
	o.Signature = make([]byte, crypto.BLSSignatureLength)
	_, err = r.Verify(o)
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Reason, "not enabled")

	o.Signature = make([]byte, 10)
	_, err = r.Verify(o)
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Reason, "unsupported")
}

type countingVerifier struct {
	inner Verifier
	calls int
}

func (c *countingVerifier) Verify(o *order.Order) (common.Address, error) {
	c.calls++
	return c.inner.Verify(o)
}

func TestCached(t *testing.T) {
	ecdsa := NewEIP712Verifier(crypto.DefaultDomain())
	counter := &countingVerifier{inner: ecdsa}
	c, err := NewCached(counter, 16)
	require.NoError(t, err)

	_, o := signed(t, ecdsa)
	for i := 0; i < 3; i++ {
		_, err := c.Verify(o)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, counter.calls)
	assert.Equal(t, 1, c.Len())

	// failures are not cached
	bad := o.Clone()
	bad.AmtOut = big.NewInt(5)
	for i := 0; i < 2; i++ {
		_, err := c.Verify(bad)
		require.Error(t, err)
	}
	assert.Equal(t, 3, counter.calls)
}
