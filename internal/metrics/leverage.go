package metrics

import (
	"github.com/marketgrid/signalbench/internal/domain"
	"github.com/marketgrid/signalbench/pkg/formulas"
)

// LeverageStats summarizes the leverage taken at entry across the trade log.
type LeverageStats struct {
	Mean           float64          `json:"mean"`
	Max            float64          `json:"max"`
	Median         float64          `json:"median"`
	StdDev         float64          `json:"std_dev"`
	PnLCorrelation float64          `json:"pnl_correlation"`
	Buckets        []LeverageBucket `json:"buckets"`
}

// LeverageBucket groups trades by leverage band with their mean return.
type LeverageBucket struct {
	Label     string  `json:"label"`
	Count     int     `json:"count"`
	AvgPnLPct float64 `json:"avg_pnl_pct"`
}

// bucketUpper holds the exclusive-lower/inclusive-upper band edges; the last
// band is open-ended.
var bucketUpper = []struct {
	label string
	upper float64
}{
	{"<=1", 1},
	{"1-2", 2},
	{"2-3", 3},
	{"3-5", 5},
	{">5", 0},
}

func computeLeverageStats(trades []domain.Trade) LeverageStats {
	if len(trades) == 0 {
		return LeverageStats{Buckets: []LeverageBucket{}}
	}

	leverages := make([]float64, len(trades))
	pnlPcts := make([]float64, len(trades))
	counts := make([]int, len(bucketUpper))
	sums := make([]float64, len(bucketUpper))

	for i, t := range trades {
		leverages[i] = t.LeverageAtEntry
		pnlPcts[i] = t.PnLPct

		b := bucketIndex(t.LeverageAtEntry)
		counts[b]++
		sums[b] += t.PnLPct
	}

	_, max := minMax(leverages)

	buckets := make([]LeverageBucket, len(bucketUpper))
	for i, def := range bucketUpper {
		avg := 0.0
		if counts[i] > 0 {
			avg = sums[i] / float64(counts[i])
		}
		buckets[i] = LeverageBucket{Label: def.label, Count: counts[i], AvgPnLPct: avg}
	}

	return LeverageStats{
		Mean:           formulas.Mean(leverages),
		Max:            max,
		Median:         formulas.Median(leverages),
		StdDev:         formulas.StdDev(leverages),
		PnLCorrelation: formulas.Correlation(leverages, pnlPcts),
		Buckets:        buckets,
	}
}

func bucketIndex(leverage float64) int {
	for i, def := range bucketUpper[:len(bucketUpper)-1] {
		if leverage <= def.upper {
			return i
		}
	}
	return len(bucketUpper) - 1
}
