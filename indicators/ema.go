package indicators

import "fmt"

// ExponentialMA is a streaming Exponential Moving Average, seeded with the
// simple average of the first period values.
type ExponentialMA struct {
	period     int
	multiplier float64
	ema        float64
	count      int
	warmupSum  float64
}

// NewEMA creates a new Exponential Moving Average indicator with the given period
func NewEMA(period int) *ExponentialMA {
	return &ExponentialMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *ExponentialMA) Name() string {
	return fmt.Sprintf("EMA(%d)", e.period)
}

func (e *ExponentialMA) Warmup() int {
	return e.period
}

func (e *ExponentialMA) Reset() {
	e.ema = 0
	e.count = 0
	e.warmupSum = 0
}

func (e *ExponentialMA) Update(v float64) {
	if e.count < e.period {
		e.warmupSum += v
		e.count++
		if e.count == e.period {
			e.ema = e.warmupSum / float64(e.period)
		}
		return
	}
	e.ema = (v-e.ema)*e.multiplier + e.ema
}

func (e *ExponentialMA) Ready() bool {
	return e.count >= e.period
}

func (e *ExponentialMA) Value() float64 {
	if !e.Ready() {
		return 0
	}
	return e.ema
}

// EMA replays values through an ExponentialMA and returns the final value.
func EMA(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(values) < period {
		return 0, fmt.Errorf("not enough values: need %d, got %d", period, len(values))
	}
	e := NewEMA(period)
	for _, v := range values {
		e.Update(v)
	}
	return e.Value(), nil
}

// EMAPair is MAPair for the exponential average.
func EMAPair(values []float64, period int) (current, previous float64, err error) {
	if period <= 0 {
		return 0, 0, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(values) < period+1 {
		return 0, 0, fmt.Errorf("not enough values: need %d, got %d", period+1, len(values))
	}
	e := NewEMA(period)
	for _, v := range values[:len(values)-1] {
		e.Update(v)
	}
	previous = e.Value()
	e.Update(values[len(values)-1])
	return e.Value(), previous, nil
}
