package market

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// InstrumentRules is the exchange's trading constraints for one symbol,
// fetched once per run and never mutated.
type InstrumentRules struct {
	StepSize          decimal.Decimal
	QuantityPrecision int
	TickSize          decimal.Decimal
	PricePrecision    int
	MinNotional       decimal.Decimal
}

// Sizing is the outcome of adjusting a raw quantity to the rules.
type Sizing struct {
	Quantity float64
	Notional float64
	Accepted bool
	Reason   string
}

// Quantize floors raw to a whole multiple of StepSize, rounds it to the
// quantity precision and checks the notional at price against
// MinNotional. The result is never larger than raw, and quantizing an
// accepted quantity again returns it unchanged.
func (r InstrumentRules) Quantize(raw, price float64) Sizing {
	if raw <= 0 || math.IsNaN(raw) || math.IsInf(raw, 0) {
		return Sizing{Reason: "zero quantity"}
	}

	q := decimal.NewFromFloat(raw)
	adj := q.Sub(q.Mod(r.StepSize))
	// rounding to precision must never push us over the raw amount
	if rounded := adj.Round(int32(r.quantityPlaces())); rounded.LessThanOrEqual(q) {
		adj = rounded
	}

	qty, _ := adj.Float64()
	notional := adj.Mul(decimal.NewFromFloat(price))
	n, _ := notional.Float64()

	s := Sizing{Quantity: qty, Notional: n}
	switch {
	case !adj.IsPositive():
		s.Quantity = 0
		s.Reason = "zero quantity"
	case notional.LessThan(r.MinNotional):
		s.Reason = fmt.Sprintf("notional %s below minimum %s",
			notional.StringFixed(int32(r.pricePlaces())), r.MinNotional.String())
	default:
		s.Accepted = true
	}
	return s
}

// RoundPrice rounds p to the price precision.
func (r InstrumentRules) RoundPrice(p float64) float64 {
	f, _ := decimal.NewFromFloat(p).Round(int32(r.pricePlaces())).Float64()
	return f
}

// FormatQuantity renders q with as many decimals as the step size needs,
// so a step of 0.5 shows 2.5 rather than 3.
func (r InstrumentRules) FormatQuantity(q float64) string {
	return decimal.NewFromFloat(q).StringFixed(int32(r.quantityPlaces()))
}

func (r InstrumentRules) FormatPrice(p float64) string {
	return decimal.NewFromFloat(p).StringFixed(int32(r.pricePlaces()))
}

// Precision rounds -log10 of the size, which drops digits for steps that
// are not powers of ten. Display and rounding use whichever is finer.
func (r InstrumentRules) quantityPlaces() int {
	return max(r.QuantityPrecision, decimalPlaces(r.StepSize))
}

func (r InstrumentRules) pricePlaces() int {
	return max(r.PricePrecision, decimalPlaces(r.TickSize))
}

// decimalPlaces counts the significant fractional digits of d: 0.5 has
// one, 0.00001000 has five, 10 has none.
func decimalPlaces(d decimal.Decimal) int {
	c := new(big.Int).Abs(d.Coefficient())
	exp := d.Exponent()
	ten := big.NewInt(10)
	for exp < 0 && c.Sign() != 0 {
		q, m := new(big.Int).QuoRem(c, ten, new(big.Int))
		if m.Sign() != 0 {
			break
		}
		c = q
		exp++
	}
	if exp >= 0 {
		return 0
	}
	return int(-exp)
}

func (r InstrumentRules) String() string {
	return fmt.Sprintf("step=%s (%d dp) tick=%s (%d dp) minNotional=%s",
		r.StepSize, r.QuantityPrecision, r.TickSize, r.PricePrecision, r.MinNotional)
}
