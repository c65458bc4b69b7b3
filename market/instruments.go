// market/instruments.go
package market

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Filter types as published by the exchange for a spot symbol.
const (
	FilterLotSize     = "LOT_SIZE"
	FilterPrice       = "PRICE_FILTER"
	FilterNotional    = "NOTIONAL"
	FilterMinNotional = "MIN_NOTIONAL" // legacy name for NOTIONAL
)

var (
	ErrMissingFilter = errors.New("missing exchange filter")
	ErrInvalidFilter = errors.New("invalid exchange filter")
)

// Filter is one raw trading constraint, values kept as the exchange sent
// them (decimal strings).
type Filter struct {
	Type   string
	Params map[string]string
}

// SymbolInfo is the raw exchange metadata for one instrument.
type SymbolInfo struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
	Filters    []Filter
}

func (s SymbolInfo) filter(kind string) (Filter, bool) {
	for _, f := range s.Filters {
		if f.Type == kind {
			return f, true
		}
	}
	return Filter{}, false
}

// ParseRules derives the immutable InstrumentRules for a run. It fails with
// ErrMissingFilter when LOT_SIZE, PRICE_FILTER or the notional filter is
// absent.
func ParseRules(info SymbolInfo) (InstrumentRules, error) {
	lot, ok := info.filter(FilterLotSize)
	if !ok {
		return InstrumentRules{}, fmt.Errorf("%w: %s for %s", ErrMissingFilter, FilterLotSize, info.Symbol)
	}
	px, ok := info.filter(FilterPrice)
	if !ok {
		return InstrumentRules{}, fmt.Errorf("%w: %s for %s", ErrMissingFilter, FilterPrice, info.Symbol)
	}
	notional, ok := info.filter(FilterNotional)
	if !ok {
		notional, ok = info.filter(FilterMinNotional)
	}
	if !ok {
		return InstrumentRules{}, fmt.Errorf("%w: %s for %s", ErrMissingFilter, FilterNotional, info.Symbol)
	}

	step, err := positiveParam(lot, "stepSize")
	if err != nil {
		return InstrumentRules{}, err
	}
	tick, err := positiveParam(px, "tickSize")
	if err != nil {
		return InstrumentRules{}, err
	}
	minNotional, err := decimalParam(notional, "minNotional")
	if err != nil {
		return InstrumentRules{}, err
	}
	if minNotional.IsNegative() {
		return InstrumentRules{}, fmt.Errorf("%w: %s.minNotional is negative", ErrInvalidFilter, notional.Type)
	}

	return InstrumentRules{
		StepSize:          step,
		QuantityPrecision: Precision(step),
		TickSize:          tick,
		PricePrecision:    Precision(tick),
		MinNotional:       minNotional,
	}, nil
}

func decimalParam(f Filter, key string) (decimal.Decimal, error) {
	raw, ok := f.Params[key]
	if !ok || raw == "" {
		return decimal.Zero, fmt.Errorf("%w: %s.%s missing", ErrMissingFilter, f.Type, key)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s.%s=%q: %v", ErrInvalidFilter, f.Type, key, raw, err)
	}
	return d, nil
}

func positiveParam(f Filter, key string) (decimal.Decimal, error) {
	d, err := decimalParam(f, key)
	if err != nil {
		return d, err
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s.%s must be positive", ErrInvalidFilter, f.Type, key)
	}
	return d, nil
}

// Precision is the number of decimal places implied by a step or tick
// size: round(-log10(size)), never negative.
func Precision(size decimal.Decimal) int {
	f, _ := size.Float64()
	if f <= 0 {
		return 0
	}
	p := int(math.Round(-math.Log10(f)))
	if p < 0 {
		return 0
	}
	return p
}
