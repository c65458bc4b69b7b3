package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCloses() []float64 {
	return []float64{102, 105, 106, 108, 110, 111, 113, 114, 116, 118}
}

func TestMA(t *testing.T) {
	ma, err := MA(testCloses(), 5)
	assert.NoError(t, err)
	// Last 5 closes: 111,113,114,116,118 => 572/5 = 114.4
	assert.InDelta(t, 114.4, ma, 0.001)
}

func TestMAErrors(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		period int
	}{
		{"zero period", testCloses(), 0},
		{"negative period", testCloses(), -3},
		{"short series", []float64{1, 2}, 3},
		{"empty series", nil, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MA(tt.values, tt.period)
			assert.Error(t, err)
		})
	}
}

func TestMAPair(t *testing.T) {
	cur, prev, err := MAPair([]float64{10, 10, 10, 9, 12}, 3)
	require.NoError(t, err)
	assert.InDelta(t, 31.0/3.0, cur, 1e-9)
	assert.InDelta(t, 29.0/3.0, prev, 1e-9)

	_, _, err = MAPair([]float64{1, 2, 3}, 3)
	assert.Error(t, err)
}
