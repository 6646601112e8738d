package order

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Payload is the wire form of an Order: big integers as decimal strings,
// the signature as 0x-prefixed hex.
type Payload struct {
	CreatedBy        string   `json:"createdBy"`
	SymbolIn         string   `json:"symbolIn"`
	SymbolOut        string   `json:"symbolOut"`
	AmtIn            string   `json:"amtIn"`
	AmtOut           string   `json:"amtOut"`
	Nonce            string   `json:"nonce"`
	Signature        string   `json:"signature"`
	TriggerPrice     string   `json:"triggerPrice,omitempty"`
	ConditionalOrder *Payload `json:"conditionalOrder,omitempty"`
}

// ToOrder parses the payload. Validation of the resulting order is left to Order.Validate.
func (p *Payload) ToOrder() (*Order, error) {
	if !common.IsHexAddress(p.CreatedBy) {
		return nil, fmt.Errorf("%w: invalid createdBy %q", ErrInvalidOrder, p.CreatedBy)
	}

	amtIn, err := parseInt("amtIn", p.AmtIn)
	if err != nil {
		return nil, err
	}
	amtOut, err := parseInt("amtOut", p.AmtOut)
	if err != nil {
		return nil, err
	}
	nonce, err := parseInt("nonce", p.Nonce)
	if err != nil {
		return nil, err
	}

	sig, err := DecodeSignature(p.Signature)
	if err != nil {
		return nil, err
	}

	o := &Order{
		Creator:   common.HexToAddress(p.CreatedBy),
		SymbolIn:  p.SymbolIn,
		SymbolOut: p.SymbolOut,
		AmtIn:     amtIn,
		AmtOut:    amtOut,
		Nonce:     nonce,
		Signature: sig,
	}

	if p.TriggerPrice != "" {
		if o.TriggerPrice, err = parseInt("triggerPrice", p.TriggerPrice); err != nil {
			return nil, err
		}
	}

	if p.ConditionalOrder != nil {
		if o.Conditional, err = p.ConditionalOrder.ToOrder(); err != nil {
			return nil, fmt.Errorf("conditionalOrder: %w", err)
		}
	}

	return o, nil
}

// FromOrder converts an Order to its wire form.
func FromOrder(o *Order) *Payload {
	if o == nil {
		return nil
	}
	p := &Payload{
		CreatedBy: o.Creator.Hex(),
		SymbolIn:  o.SymbolIn,
		SymbolOut: o.SymbolOut,
		AmtIn:     o.AmtIn.String(),
		AmtOut:    o.AmtOut.String(),
		Nonce:     o.Nonce.String(),
		Signature: EncodeSignature(o.Signature),
	}
	if o.TriggerPrice != nil {
		p.TriggerPrice = o.TriggerPrice.String()
	}
	p.ConditionalOrder = FromOrder(o.Conditional)
	return p
}

// DecodeSignature decodes a hex signature with or without the 0x prefix.
func DecodeSignature(sig string) ([]byte, error) {
	sig = strings.TrimPrefix(sig, "0x")
	if sig == "" {
		return nil, fmt.Errorf("%w: missing signature", ErrInvalidOrder)
	}
	b, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex signature: %v", ErrInvalidOrder, err)
	}
	return b, nil
}

func EncodeSignature(sig []byte) string {
	if len(sig) == 0 {
		return ""
	}
	return "0x" + hex.EncodeToString(sig)
}

func parseInt(field, s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: invalid %s %q", ErrInvalidOrder, field, s)
	}
	return n, nil
}
