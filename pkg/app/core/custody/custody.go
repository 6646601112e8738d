// Package custody moves assets between parties on behalf of the exchange.
package custody

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Transfer moves Amount of Token from From to To. Symbol is informational.
type Transfer struct {
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Symbol string         `json:"symbol"`
	Token  common.Address `json:"token"`
	Amount *big.Int       `json:"amount"`
}

// Custody settles a set of transfers atomically: either every transfer is
// applied or none is.
type Custody interface {
	Settle(ctx context.Context, transfers []Transfer) error
}

type InsufficientBalanceError struct {
	Owner     common.Address
	Token     common.Address
	Required  *big.Int
	Available *big.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: %s holds %s of %s, needs %s",
		e.Owner.Hex(), e.Available, e.Token.Hex(), e.Required)
}

// InsufficientAuthorizationError is returned when the owner has not approved
// the exchange to move enough of the token.
type InsufficientAuthorizationError struct {
	Owner    common.Address
	Token    common.Address
	Required *big.Int
	Approved *big.Int
}

func (e *InsufficientAuthorizationError) Error() string {
	return fmt.Sprintf("insufficient authorization: %s approved %s of %s, needs %s",
		e.Owner.Hex(), e.Approved, e.Token.Hex(), e.Required)
}
