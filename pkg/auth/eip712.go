package auth

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/smashdex/pkg/app/core/order"
	"github.com/uhyunpark/smashdex/pkg/crypto"
)

// EIP712Verifier accepts 65-byte secp256k1 signatures over the EIP-712 order digest.
type EIP712Verifier struct {
	signer *crypto.EIP712Signer
}

func NewEIP712Verifier(domain crypto.EIP712Domain) *EIP712Verifier {
	return &EIP712Verifier{signer: crypto.NewEIP712Signer(domain)}
}

func (v *EIP712Verifier) Domain() *crypto.EIP712Signer { return v.signer }

func (v *EIP712Verifier) Verify(o *order.Order) (common.Address, error) {
	if len(o.Signature) == 0 {
		return common.Address{}, deny(o.Creator, "missing signature")
	}
	if len(o.Signature) != crypto.SignatureLength {
		return common.Address{}, deny(o.Creator, "signature must be %d bytes, got %d", crypto.SignatureLength, len(o.Signature))
	}
	if o.AmtIn == nil || o.AmtOut == nil || o.Nonce == nil {
		return common.Address{}, deny(o.Creator, "order is incomplete")
	}

	recovered, err := v.signer.RecoverOrderSigner(typedOrder(o), o.Signature)
	if err != nil {
		return common.Address{}, deny(o.Creator, "%v", err)
	}
	if recovered != o.Creator {
		return common.Address{}, deny(o.Creator, "signature recovers to %s", recovered.Hex())
	}
	return recovered, nil
}

func (v *EIP712Verifier) VerifyCancel(creator common.Address, nonce *big.Int, sig []byte) error {
	if len(sig) != crypto.SignatureLength {
		return deny(creator, "cancel signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	recovered, err := v.signer.RecoverCancelSigner(&crypto.CancelEIP712{CreatedBy: creator, Nonce: nonce}, sig)
	if err != nil {
		return deny(creator, "%v", err)
	}
	if recovered != creator {
		return deny(creator, "cancel signature recovers to %s", recovered.Hex())
	}
	return nil
}
