package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marketgrid/signalbench/internal/domain"
)

func trendingBars(n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	price := 100.0
	for i := range bars {
		// Alternate up and down moves so returns have dispersion.
		if i%2 == 0 {
			price *= 1.02
		} else {
			price *= 0.99
		}
		bars[i] = domain.Bar{
			Day:   domain.DayOrdinal(i),
			Open:  price,
			High:  price * 1.01,
			Low:   price * 0.99,
			Close: price,
		}
	}
	return bars
}

func TestComputeAux_NoHistoryPolicies(t *testing.T) {
	bars := trendingBars(30)

	for _, method := range []domain.SizingMethod{
		domain.SizingEqualWeight,
		domain.SizingFixedNotional,
		domain.SizingPercentRisk,
		domain.SizingKellyCriterion,
	} {
		aux := ComputeAux(domain.SizingPolicy{Method: method}, bars, 29)
		assert.Zero(t, aux.RealizedVol, string(method))
		assert.Zero(t, aux.Atr, string(method))
	}
}

func TestComputeAux_RealizedVol(t *testing.T) {
	bars := trendingBars(80)

	aux := ComputeAux(domain.SizingPolicy{
		Method:            domain.SizingVolatilityTarget,
		RealizedVolWindow: 20,
	}, bars, 79)
	assert.Greater(t, aux.RealizedVol, 0.0)

	// Window defaults when unset.
	def := ComputeAux(domain.SizingPolicy{Method: domain.SizingVolatilityTarget}, bars, 79)
	assert.Greater(t, def.RealizedVol, 0.0)
	assert.NotEqual(t, aux.RealizedVol, def.RealizedVol)
}

func TestComputeAux_RealizedVolShortHistory(t *testing.T) {
	bars := trendingBars(1)

	aux := ComputeAux(domain.SizingPolicy{
		Method:            domain.SizingVolatilityTarget,
		RealizedVolWindow: 20,
	}, bars, 0)
	assert.Zero(t, aux.RealizedVol, "One bar yields no returns")
}

func TestComputeAux_Atr(t *testing.T) {
	bars := trendingBars(40)

	aux := ComputeAux(domain.SizingPolicy{
		Method:    domain.SizingAtrBased,
		AtrWindow: 14,
	}, bars, 39)
	assert.Greater(t, aux.Atr, 0.0)
}

func TestComputeAux_AtrShortHistory(t *testing.T) {
	bars := trendingBars(5)

	aux := ComputeAux(domain.SizingPolicy{
		Method:    domain.SizingAtrBased,
		AtrWindow: 14,
	}, bars, 4)
	assert.Zero(t, aux.Atr, "Fewer than window+1 bars yields no ATR")
}
