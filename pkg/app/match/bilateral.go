package match

import (
	"context"
	"fmt"
	"math/big"

	"github.com/uhyunpark/smashdex/pkg/app/core/fill"
	"github.com/uhyunpark/smashdex/pkg/app/core/order"
	"github.com/uhyunpark/smashdex/pkg/app/core/orderbook"
)

// ExecuteDirect settles fillAmtIn of the maker's input against a mirrored
// taker. The taker gives fillAmtIn*maker.AmtOut/maker.AmtIn (truncated) of
// its input in return.
func (m *Matcher) ExecuteDirect(ctx context.Context, makerKey, takerKey order.Key, fillAmtIn *big.Int) (*Execution, error) {
	maker, ok := m.book.Get(makerKey)
	if !ok {
		return nil, fmt.Errorf("%w: maker %s", ErrOrderNotFound, makerKey)
	}
	taker, ok := m.book.Get(takerKey)
	if !ok {
		return nil, fmt.Errorf("%w: taker %s", ErrOrderNotFound, takerKey)
	}

	if _, err := m.verifier.Verify(maker.Order); err != nil {
		return nil, err
	}
	if _, err := m.verifier.Verify(taker.Order); err != nil {
		return nil, err
	}

	mo, to := maker.Order, taker.Order
	if mo.SymbolOut != to.SymbolIn || to.SymbolOut != mo.SymbolIn {
		return nil, &AssetMismatchError{MakerIn: mo.SymbolIn, MakerOut: mo.SymbolOut, TakerIn: to.SymbolIn, TakerOut: to.SymbolOut}
	}

	derived, err := m.planDirect(maker, taker, fillAmtIn)
	if err != nil {
		return nil, err
	}

	exec, err := m.settle(ctx, KindBilateral, []leg{
		{entry: maker, role: "maker", give: fillAmtIn, payee: 1, receives: derived, priced: true},
		{entry: taker, role: "taker", give: derived, payee: 0, receives: fillAmtIn},
	})
	if err != nil {
		return nil, err
	}

	m.metrics.BilateralExecuted()
	m.log.Infow("bilateral_executed",
		"maker", makerKey.String(),
		"taker", takerKey.String(),
		"fill_amt_in", fillAmtIn.String(),
		"derived", derived.String(),
	)
	return exec, nil
}

// planDirect checks amounts and returns what the taker gives.
func (m *Matcher) planDirect(maker, taker *orderbook.Entry, fillAmtIn *big.Int) (*big.Int, error) {
	mo, to := maker.Order, taker.Order

	if fillAmtIn == nil || fillAmtIn.Sign() <= 0 {
		return nil, fmt.Errorf("%w: got %v", fill.ErrInvalidAmount, fillAmtIn)
	}
	makerRem := m.ledger.Remaining(mo.Key(), mo.AmtIn)
	if fillAmtIn.Cmp(makerRem) > 0 {
		return nil, &fill.OverfillError{
			Key: mo.Key(), Role: "maker",
			Requested: new(big.Int).Set(fillAmtIn), Remaining: makerRem, Declared: new(big.Int).Set(mo.AmtIn),
		}
	}

	derived := new(big.Int).Mul(fillAmtIn, mo.AmtOut)
	derived.Quo(derived, mo.AmtIn)

	takerRem := m.ledger.Remaining(to.Key(), to.AmtIn)
	if derived.Cmp(takerRem) > 0 {
		return nil, &fill.OverfillError{
			Key: to.Key(), Role: "taker",
			Requested: derived, Remaining: takerRem, Declared: new(big.Int).Set(to.AmtIn),
		}
	}
	if derived.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s of %s buys nothing at maker rate %s/%s",
			ErrZeroFill, fillAmtIn, mo.SymbolIn, mo.AmtOut, mo.AmtIn)
	}

	// taker gives derived and receives fillAmtIn: fillAmtIn/derived >= to.AmtOut/to.AmtIn
	lhs := new(big.Int).Mul(fillAmtIn, to.AmtIn)
	rhs := new(big.Int).Mul(derived, to.AmtOut)
	if lhs.Cmp(rhs) < 0 {
		return nil, &PriceMismatchError{Taker: to.Key(), Gives: derived, Receives: new(big.Int).Set(fillAmtIn), AmtIn: to.AmtIn, AmtOut: to.AmtOut}
	}
	return derived, nil
}
