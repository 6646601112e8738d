package auth

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/smashdex/pkg/app/core/order"
	"github.com/uhyunpark/smashdex/pkg/crypto"
)

// BLSVerifier accepts 96-byte BLS signatures over the EIP-712 order digest,
// checked against a public key registered for the creator.
type BLSVerifier struct {
	signer *crypto.EIP712Signer

	mu   sync.RWMutex
	keys map[common.Address]*crypto.BLSPubKey
}

func NewBLSVerifier(domain crypto.EIP712Domain) *BLSVerifier {
	return &BLSVerifier{
		signer: crypto.NewEIP712Signer(domain),
		keys:   make(map[common.Address]*crypto.BLSPubKey),
	}
}

// RegisterKey binds a compressed BLS public key to an address.
func (v *BLSVerifier) RegisterKey(addr common.Address, pub []byte) error {
	pk, err := crypto.ParseBLSPubKey(pub)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.keys[addr] = pk
	v.mu.Unlock()
	return nil
}

func (v *BLSVerifier) Keys() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.keys)
}

func (v *BLSVerifier) Verify(o *order.Order) (common.Address, error) {
	if len(o.Signature) != crypto.BLSSignatureLength {
		return common.Address{}, deny(o.Creator, "bls signature must be %d bytes, got %d", crypto.BLSSignatureLength, len(o.Signature))
	}

	v.mu.RLock()
	pk, ok := v.keys[o.Creator]
	v.mu.RUnlock()
	if !ok {
		return common.Address{}, deny(o.Creator, "no bls key registered")
	}

	digest, err := OrderDigest(v.signer, o)
	if err != nil {
		return common.Address{}, deny(o.Creator, "%v", err)
	}
	if !crypto.VerifyBLS(pk, o.Signature, digest) {
		return common.Address{}, deny(o.Creator, "bls signature does not verify")
	}
	return o.Creator, nil
}
