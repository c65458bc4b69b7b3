package strategies

import (
	"fmt"

	"github.com/rustyeddy/spottrader/indicators"
)

// Average selects the moving average a Crossover compares.
type Average string

const (
	SMA Average = "SMA"
	EMA Average = "EMA"
)

// Crossover compares a fast and a slow moving average.
// - Buy only on the close where fast moves above slow
// - Sell only on the close where fast moves below slow
// - Hold while the crossed state persists, so each cross fires once
type Crossover struct {
	FastPeriod int
	SlowPeriod int
	Average    Average // empty means SMA
}

func NewCrossover(fast, slow int) (*Crossover, error) {
	if fast <= 0 || slow <= 0 || fast >= slow {
		return nil, fmt.Errorf("require 0 < fast < slow (got %d/%d)", fast, slow)
	}
	return &Crossover{FastPeriod: fast, SlowPeriod: slow, Average: SMA}, nil
}

// NewEMACrossover is NewCrossover over exponential averages.
func NewEMACrossover(fast, slow int) (*Crossover, error) {
	c, err := NewCrossover(fast, slow)
	if err != nil {
		return nil, err
	}
	c.Average = EMA
	return c, nil
}

func (c *Crossover) Name() string {
	avg := c.Average
	if avg == "" {
		avg = SMA
	}
	return fmt.Sprintf("%s(%d/%d)", avg, c.FastPeriod, c.SlowPeriod)
}

// Warmup is slow+1: the previous slow average needs one extra close.
func (c *Crossover) Warmup() int {
	return c.SlowPeriod + 1
}

func (c *Crossover) pair(closes []float64, period int) (float64, float64, error) {
	if c.Average == EMA {
		return indicators.EMAPair(closes, period)
	}
	return indicators.MAPair(closes, period)
}

func (c *Crossover) Evaluate(closes []float64) Signal {
	if len(closes) < c.Warmup() {
		return Hold
	}

	curFast, prevFast, err := c.pair(closes, c.FastPeriod)
	if err != nil {
		return Hold
	}
	curSlow, prevSlow, err := c.pair(closes, c.SlowPeriod)
	if err != nil {
		return Hold
	}

	switch {
	case curFast > curSlow && prevFast <= prevSlow:
		return Buy
	case curFast < curSlow && prevFast >= prevSlow:
		return Sell
	default:
		return Hold
	}
}
