package indicators

import (
	"fmt"
)

// MA calculates the Simple Moving Average of the last period values.
func MA(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(values) < period {
		return 0, fmt.Errorf("not enough values: need %d, got %d", period, len(values))
	}

	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period), nil
}

// MAPair returns the moving average at the latest value and at the value
// before it. The caller gets both ends of a one-step window, which is what a
// crossover needs.
func MAPair(values []float64, period int) (current, previous float64, err error) {
	if len(values) < period+1 {
		return 0, 0, fmt.Errorf("not enough values: need %d, got %d", period+1, len(values))
	}
	if current, err = MA(values, period); err != nil {
		return 0, 0, err
	}
	if previous, err = MA(values[:len(values)-1], period); err != nil {
		return 0, 0, err
	}
	return current, previous, nil
}
