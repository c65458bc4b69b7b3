package strategies

// NoopStrategy never opens a position. The runner still manages an
// already-open position with its trailing stop.
type NoopStrategy struct{}

func (NoopStrategy) Name() string { return "noop" }

func (NoopStrategy) Evaluate(closes []float64) Signal {
	_ = closes
	return Hold
}

func (NoopStrategy) Warmup() int { return 0 }
