package formulas

import (
	"github.com/markcheno/go-talib"
)

// Atr computes the Average True Range over the given window using go-talib.
// Returns the last ATR value, or 0 when there is not enough history
// (talib needs window+1 bars to produce a value).
func Atr(highs, lows, closes []float64, window int) float64 {
	if window <= 0 {
		return 0
	}
	n := len(closes)
	if n != len(highs) || n != len(lows) || n < window+1 {
		return 0
	}

	atr := talib.Atr(highs, lows, closes, window)
	if len(atr) == 0 {
		return 0
	}
	return atr[len(atr)-1]
}
