package order

import "math/big"

// PricePrecision is the number of fractional digits in a price.
const PricePrecision = 18

// PriceFactor scales prices to fixed point (1e18).
var PriceFactor = new(big.Int).Exp(big.NewInt(10), big.NewInt(PricePrecision), nil)

// Pair is a canonical trading pair: Base is the lexicographically smaller symbol.
type Pair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

func CanonicalPair(a, b string) Pair {
	if a < b {
		return Pair{Base: a, Quote: b}
	}
	return Pair{Base: b, Quote: a}
}

func (p Pair) String() string { return p.Base + "/" + p.Quote }

// Pair returns the canonical pair the order trades on.
func (o *Order) Pair() Pair { return CanonicalPair(o.SymbolIn, o.SymbolOut) }

// IsAsk reports whether the order gives the base asset of its pair.
func (o *Order) IsAsk() bool { return o.SymbolIn == o.Pair().Base }

// LimitPrice is the order's rate in quote per base, scaled by PriceFactor.
// Asks price at AmtOut/AmtIn, bids at AmtIn/AmtOut.
func (o *Order) LimitPrice() *big.Int {
	if o.IsAsk() {
		return ScaledRatio(o.AmtOut, o.AmtIn)
	}
	return ScaledRatio(o.AmtIn, o.AmtOut)
}

// ScaledRatio returns num*PriceFactor/den, truncated.
func ScaledRatio(num, den *big.Int) *big.Int {
	if den.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(num, PriceFactor)
	return out.Quo(out, den)
}

// TradePrice prices an exchange of giveAmt of give for getAmt of the other
// asset on the canonical pair of (give, get).
func TradePrice(give string, giveAmt *big.Int, get string, getAmt *big.Int) (Pair, *big.Int) {
	p := CanonicalPair(give, get)
	if give == p.Base {
		return p, ScaledRatio(getAmt, giveAmt)
	}
	return p, ScaledRatio(giveAmt, getAmt)
}

// InvertPrice converts a base/quote price into a quote/base price.
func InvertPrice(price *big.Int) *big.Int {
	if price.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(PriceFactor, PriceFactor)
	return out.Quo(out, price)
}
