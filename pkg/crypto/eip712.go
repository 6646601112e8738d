package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain binds signatures to one exchange instance on one network.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain returns the SmashDEX domain for a local dev chain.
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "SmashDEX",
		Version:           "1",
		ChainID:           big.NewInt(31337),
		VerifyingContract: common.Address{},
	}
}

// OrderEIP712 is the typed-data view of an order:
// Order(address createdBy,string symbolIn,string symbolOut,uint256 amtIn,uint256 amtOut,uint256 nonce)
type OrderEIP712 struct {
	CreatedBy common.Address
	SymbolIn  string
	SymbolOut string
	AmtIn     *big.Int
	AmtOut    *big.Int
	Nonce     *big.Int
}

// CancelEIP712 authorizes cancellation of one order:
// CancelOrder(address createdBy,uint256 nonce)
type CancelEIP712 struct {
	CreatedBy common.Address
	Nonce     *big.Int
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var orderType = []apitypes.Type{
	{Name: "createdBy", Type: "address"},
	{Name: "symbolIn", Type: "string"},
	{Name: "symbolOut", Type: "string"},
	{Name: "amtIn", Type: "uint256"},
	{Name: "amtOut", Type: "uint256"},
	{Name: "nonce", Type: "uint256"},
}

var cancelType = []apitypes.Type{
	{Name: "createdBy", Type: "address"},
	{Name: "nonce", Type: "uint256"},
}

// EIP712Signer hashes, signs and recovers typed order data for one domain.
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

func (e *EIP712Signer) typedData(primary string, fields []apitypes.Type, msg apitypes.TypedDataMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			primary:        fields,
		},
		PrimaryType: primary,
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: msg,
	}
}

// digest computes keccak256("\x19\x01" || domainSeparator || hashStruct(message)).
func digest(typedData apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

func orderMessage(o *OrderEIP712) apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"createdBy": o.CreatedBy.Hex(),
		"symbolIn":  o.SymbolIn,
		"symbolOut": o.SymbolOut,
		"amtIn":     o.AmtIn.String(),
		"amtOut":    o.AmtOut.String(),
		"nonce":     o.Nonce.String(),
	}
}

// HashOrder returns the 32-byte digest a wallet signs for the order.
func (e *EIP712Signer) HashOrder(o *OrderEIP712) ([]byte, error) {
	if o.AmtIn == nil || o.AmtOut == nil || o.Nonce == nil {
		return nil, fmt.Errorf("order has nil amount or nonce")
	}
	return digest(e.typedData("Order", orderType, orderMessage(o)))
}

// HashCancel returns the 32-byte digest a wallet signs to cancel an order.
func (e *EIP712Signer) HashCancel(c *CancelEIP712) ([]byte, error) {
	if c.Nonce == nil {
		return nil, fmt.Errorf("cancel has nil nonce")
	}
	return digest(e.typedData("CancelOrder", cancelType, apitypes.TypedDataMessage{
		"createdBy": c.CreatedBy.Hex(),
		"nonce":     c.Nonce.String(),
	}))
}

func (e *EIP712Signer) SignOrder(signer *Signer, o *OrderEIP712) ([]byte, error) {
	hash, err := e.HashOrder(o)
	if err != nil {
		return nil, fmt.Errorf("failed to hash order: %w", err)
	}
	return signer.Sign(hash)
}

func (e *EIP712Signer) SignCancel(signer *Signer, c *CancelEIP712) ([]byte, error) {
	hash, err := e.HashCancel(c)
	if err != nil {
		return nil, fmt.Errorf("failed to hash cancel: %w", err)
	}
	return signer.Sign(hash)
}

// RecoverOrderSigner recovers the address that signed an order.
func (e *EIP712Signer) RecoverOrderSigner(o *OrderEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashOrder(o)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash order: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// RecoverCancelSigner recovers the address that signed a cancel request.
func (e *EIP712Signer) RecoverCancelSigner(c *CancelEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashCancel(c)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash cancel: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// OrderToJSON renders the typed data in the eth_signTypedData_v4 layout wallets expect.
func (e *EIP712Signer) OrderToJSON(o *OrderEIP712) (string, error) {
	td := e.typedData("Order", orderType, orderMessage(o))
	b, err := json.MarshalIndent(td, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(b), nil
}
