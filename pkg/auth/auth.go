// Package auth decides whether an order (or a cancel request) was endorsed by
// the identity it names as creator.
package auth

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/smashdex/pkg/app/core/order"
	"github.com/uhyunpark/smashdex/pkg/crypto"
)

// AuthorizationError is returned when a token does not endorse the claimed creator.
type AuthorizationError struct {
	Creator common.Address
	Reason  string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization failed for %s: %s", e.Creator.Hex(), e.Reason)
}

func deny(creator common.Address, format string, args ...any) error {
	return &AuthorizationError{Creator: creator, Reason: fmt.Sprintf(format, args...)}
}

// Verifier checks an order's authorization token. Implementations have no side effects.
type Verifier interface {
	Verify(o *order.Order) (common.Address, error)
}

// CancelVerifier checks a signed cancel request for (creator, nonce).
type CancelVerifier interface {
	VerifyCancel(creator common.Address, nonce *big.Int, sig []byte) error
}

func typedOrder(o *order.Order) *crypto.OrderEIP712 {
	return &crypto.OrderEIP712{
		CreatedBy: o.Creator,
		SymbolIn:  o.SymbolIn,
		SymbolOut: o.SymbolOut,
		AmtIn:     o.AmtIn,
		AmtOut:    o.AmtOut,
		Nonce:     o.Nonce,
	}
}

// SignOrder fills in o.Signature with an EIP-712 signature from signer.
func SignOrder(domain *crypto.EIP712Signer, signer *crypto.Signer, o *order.Order) error {
	sig, err := domain.SignOrder(signer, typedOrder(o))
	if err != nil {
		return err
	}
	o.Signature = sig
	return nil
}

// OrderDigest is the EIP-712 digest both the ECDSA and BLS schemes sign.
func OrderDigest(domain *crypto.EIP712Signer, o *order.Order) ([]byte, error) {
	return domain.HashOrder(typedOrder(o))
}
