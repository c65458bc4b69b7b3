package risk

import "math"

// Inputs for sizing a market entry.
type Inputs struct {
	Capital      float64 // 0 means use the whole free quote balance
	FreeQuote    float64
	RiskFraction float64 // share of the budget spent per entry
	Price        float64
}

type Result struct {
	Budget      float64 // quote currency to spend
	RawQuantity float64 // before exchange rounding
}

// Calculate returns the quote budget and the unrounded base quantity it
// buys at Price. The budget never exceeds the free quote balance.
func Calculate(in Inputs) Result {
	if in.Price <= 0 || in.FreeQuote <= 0 || in.RiskFraction <= 0 {
		return Result{}
	}

	avail := in.FreeQuote
	if in.Capital > 0 {
		avail = math.Min(in.Capital, in.FreeQuote)
	}
	frac := math.Min(in.RiskFraction, 1)

	budget := avail * frac
	return Result{
		Budget:      budget,
		RawQuantity: budget / in.Price,
	}
}
