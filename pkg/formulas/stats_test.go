package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.InDelta(t, 2.0, Mean([]float64{1, 2, 3}), 1e-12)
}

func TestStdDev(t *testing.T) {
	assert.Equal(t, 0.0, StdDev([]float64{5}))
	assert.InDelta(t, 1.0, StdDev([]float64{1, 2, 3}), 1e-12)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 0.0, Median(nil))
	assert.InDelta(t, 2.0, Median([]float64{3, 1, 2}), 1e-12)
	assert.InDelta(t, 2.5, Median([]float64{4, 1, 2, 3}), 1e-12)
}

func TestCorrelation(t *testing.T) {
	assert.InDelta(t, 1.0, Correlation([]float64{1, 2, 3}, []float64{2, 4, 6}), 1e-12)
	assert.InDelta(t, -1.0, Correlation([]float64{1, 2, 3}, []float64{6, 4, 2}), 1e-12)
	// Constant series has undefined correlation; mapped to 0.
	assert.Equal(t, 0.0, Correlation([]float64{1, 1, 1}, []float64{2, 4, 6}))
	assert.Equal(t, 0.0, Correlation([]float64{1, 2}, []float64{1}))
}

func TestCalculateReturns(t *testing.T) {
	returns := CalculateReturns([]float64{100, 110, 99})
	assert.InDelta(t, 0.10, returns[0], 1e-12)
	assert.InDelta(t, -0.10, returns[1], 1e-12)
	assert.Empty(t, CalculateReturns([]float64{100}))
}

func TestAnnualizedVolatility(t *testing.T) {
	assert.Equal(t, 0.0, AnnualizedVolatility([]float64{0.01}))

	daily := []float64{0.01, -0.01, 0.02, -0.02}
	expected := StdDev(daily) * math.Sqrt(252)
	assert.InDelta(t, expected, AnnualizedVolatility(daily), 1e-12)
}
