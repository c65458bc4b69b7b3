package risk

import "fmt"

// TrailingStop exits a long position once price falls a fixed fraction
// below the highest price seen since entry.
type TrailingStop struct {
	Fraction float64
}

func NewTrailingStop(fraction float64) (TrailingStop, error) {
	if fraction <= 0 || fraction >= 1 {
		return TrailingStop{}, fmt.Errorf("trailing stop fraction must be in (0,1), got %v", fraction)
	}
	return TrailingStop{Fraction: fraction}, nil
}

// StopPrice is highWater*(1-fraction).
func StopPrice(highWater, fraction float64) float64 {
	return highWater * (1 - fraction)
}

// Triggered is strict: a price equal to the stop does not fire.
func Triggered(price, highWater, fraction float64) bool {
	return price < StopPrice(highWater, fraction)
}

func (t TrailingStop) StopPrice(highWater float64) float64 {
	return StopPrice(highWater, t.Fraction)
}

func (t TrailingStop) Triggered(price, highWater float64) bool {
	return Triggered(price, highWater, t.Fraction)
}

// Distance is how far price sits above the stop, as a fraction of price.
// Negative once the stop has been crossed.
func (t TrailingStop) Distance(price, highWater float64) float64 {
	if price <= 0 {
		return 0
	}
	return (price - t.StopPrice(highWater)) / price
}
