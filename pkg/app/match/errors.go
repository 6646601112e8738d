package match

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/uhyunpark/smashdex/pkg/app/core/order"
)

var (
	// ErrNoRingFound is the normal outcome when no closed chain of resting
	// orders can absorb the new order.
	ErrNoRingFound = errors.New("no ring found")

	ErrOrderNotFound = errors.New("order not resting")

	// ErrZeroFill is returned when integer truncation leaves one side of an
	// execution with nothing to receive.
	ErrZeroFill = errors.New("execution rounds to zero")
)

// AssetMismatchError reports a bilateral pair whose assets are not mirrors.
type AssetMismatchError struct {
	MakerIn, MakerOut string
	TakerIn, TakerOut string
}

func (e *AssetMismatchError) Error() string {
	return fmt.Sprintf("asset mismatch: maker gives %s for %s, taker gives %s for %s",
		e.MakerIn, e.MakerOut, e.TakerIn, e.TakerOut)
}

// PriceMismatchError reports a direct execution that would give the taker
// less than its signed rate.
type PriceMismatchError struct {
	Taker    order.Key
	Gives    *big.Int
	Receives *big.Int
	AmtIn    *big.Int
	AmtOut   *big.Int
}

func (e *PriceMismatchError) Error() string {
	return fmt.Sprintf("price mismatch: taker %s would give %s for %s, below its rate %s for %s",
		e.Taker, e.Gives, e.Receives, e.AmtIn, e.AmtOut)
}

// CycleExecutionError is an internal-consistency fault: a computed ring leg
// no longer fits the state it is about to be applied to.
type CycleExecutionError struct {
	Path   []order.Key
	Leg    int
	Reason string
}

func (e *CycleExecutionError) Error() string {
	keys := make([]string, len(e.Path))
	for i, k := range e.Path {
		keys[i] = k.String()
	}
	return fmt.Sprintf("cycle execution aborted at leg %d: %s [%s]", e.Leg, e.Reason, strings.Join(keys, " -> "))
}
