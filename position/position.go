// Package position holds the single long spot position a runner manages
// and the stores that persist it across restarts.
package position

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidTransition = errors.New("invalid position transition")

// Position is either Flat (all fields zero) or open (all fields positive,
// HighWaterPrice >= EntryPrice).
type Position struct {
	HeldQuantity   float64 `yaml:"held_quantity" json:"held_quantity"`
	EntryPrice     float64 `yaml:"entry_price" json:"entry_price"`
	HighWaterPrice float64 `yaml:"high_water_price" json:"high_water_price"`
}

func Flat() Position { return Position{} }

func (p Position) IsFlat() bool {
	return p.HeldQuantity == 0 && p.EntryPrice == 0 && p.HighWaterPrice == 0
}

// Valid reports whether p satisfies the position invariant.
func (p Position) Valid() bool {
	if p.IsFlat() {
		return true
	}
	for _, v := range []float64{p.HeldQuantity, p.EntryPrice, p.HighWaterPrice} {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return p.HighWaterPrice >= p.EntryPrice
}

// Open moves Flat to InPosition from a confirmed buy. The entry price is
// the average fill price cost/qty.
func (p *Position) Open(executedQty, cumulativeCost float64) error {
	if !p.IsFlat() {
		return fmt.Errorf("%w: open while holding %v", ErrInvalidTransition, p.HeldQuantity)
	}
	if executedQty <= 0 || cumulativeCost <= 0 {
		return fmt.Errorf("%w: open with qty=%v cost=%v", ErrInvalidTransition, executedQty, cumulativeCost)
	}

	entry := cumulativeCost / executedQty
	*p = Position{
		HeldQuantity:   executedQty,
		EntryPrice:     entry,
		HighWaterPrice: entry,
	}
	return nil
}

// Observe raises the high-water mark to price if it is higher and reports
// whether it changed. It is a no-op while flat.
func (p *Position) Observe(price float64) bool {
	if p.IsFlat() || price <= p.HighWaterPrice {
		return false
	}
	p.HighWaterPrice = price
	return true
}

// Close moves InPosition to Flat from a confirmed sell and returns the
// realized pnl, revenue - entry*soldQty.
func (p *Position) Close(soldQty, revenue float64) (float64, error) {
	if p.IsFlat() {
		return 0, fmt.Errorf("%w: close while flat", ErrInvalidTransition)
	}
	if soldQty <= 0 {
		return 0, fmt.Errorf("%w: close with qty=%v", ErrInvalidTransition, soldQty)
	}

	pnl := revenue - p.EntryPrice*soldQty
	*p = Flat()
	return pnl, nil
}

// UnrealizedPnL values the held quantity at price.
func (p Position) UnrealizedPnL(price float64) float64 {
	if p.IsFlat() {
		return 0
	}
	return (price - p.EntryPrice) * p.HeldQuantity
}

func (p Position) String() string {
	if p.IsFlat() {
		return "flat"
	}
	return fmt.Sprintf("long %g @ %g (high %g)", p.HeldQuantity, p.EntryPrice, p.HighWaterPrice)
}
