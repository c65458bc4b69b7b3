package strategies

import (
	"fmt"
	"strings"
)

// Signal is the decision a SignalSource makes for the latest close.
type Signal int

const (
	Hold Signal = iota
	Buy
	Sell
)

func (s Signal) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "HOLD"
	}
}

// SignalSource is the minimal interface a live strategy must implement.
// It is called once per polling cycle with the recent closes, oldest first.
// Implementations must be pure: the same series always yields the same
// signal, and nothing is retained between calls.
type SignalSource interface {
	Name() string
	Evaluate(closes []float64) Signal
	// Warmup returns how many closes are needed before a non-Hold signal
	// is possible.
	Warmup() int
}

// ByName builds a signal source from its configured name.
func ByName(name string, fast, slow int) (SignalSource, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "noop", "none":
		return NoopStrategy{}, nil

	case "sma-cross", "smacross", "crossover", "":
		c, err := NewCrossover(fast, slow)
		if err != nil {
			return nil, err
		}
		return c, nil

	case "ema-cross", "emacross":
		c, err := NewEMACrossover(fast, slow)
		if err != nil {
			return nil, err
		}
		return c, nil

	default:
		return nil, fmt.Errorf("unknown strategy %q (supported: sma-cross, ema-cross, noop)", name)
	}
}
