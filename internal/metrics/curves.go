package metrics

import (
	"github.com/marketgrid/signalbench/internal/domain"
)

// EquityPoint is one step of the realized equity curve.
type EquityPoint struct {
	Day   domain.DayOrdinal `json:"-"`
	Date  string            `json:"date"`
	Value float64           `json:"portfolio_value"`
}

// CapitalPoint is one day of the invested-capital series.
type CapitalPoint struct {
	Day      domain.DayOrdinal `json:"-"`
	Date     string            `json:"date"`
	Invested float64           `json:"invested_capital"`
}

// EquityCurve builds the realized equity series from the trade log: one point
// per distinct exit day, holding the portfolio value after the last trade
// closed that day. Trades arrive already ordered by exit day.
func EquityCurve(trades []domain.Trade, initialCapital float64) []EquityPoint {
	curve := make([]EquityPoint, 0, len(trades))

	for _, t := range trades {
		point := EquityPoint{
			Day:   t.ExitDay,
			Date:  t.ExitDay.Time().Format("2006-01-02"),
			Value: t.PortfolioValueAfter,
		}
		if n := len(curve); n > 0 && curve[n-1].Day == t.ExitDay {
			curve[n-1] = point
		} else {
			curve = append(curve, point)
		}
	}

	return curve
}

// InvestedCapitalCurve reconstructs how much notional was deployed on each
// day spanned by the trade log. Capital enters on the entry day and leaves
// the day after exit, so a position still counts on its exit day.
func InvestedCapitalCurve(trades []domain.Trade) []CapitalPoint {
	if len(trades) == 0 {
		return []CapitalPoint{}
	}

	deltas := make(map[domain.DayOrdinal]float64)
	minDay := trades[0].EntryDay
	maxDay := trades[0].ExitDay

	for _, t := range trades {
		deltas[t.EntryDay] += t.Notional
		deltas[t.ExitDay+1] -= t.Notional
		if t.EntryDay < minDay {
			minDay = t.EntryDay
		}
		if t.ExitDay > maxDay {
			maxDay = t.ExitDay
		}
	}

	curve := make([]CapitalPoint, 0, maxDay-minDay+2)
	invested := 0.0
	for day := minDay; day <= maxDay+1; day++ {
		invested += deltas[day]
		// Float drift can leave a tiny negative residue after the last exit.
		if invested < 0 {
			invested = 0
		}
		curve = append(curve, CapitalPoint{
			Day:      day,
			Date:     day.Time().Format("2006-01-02"),
			Invested: invested,
		})
	}

	return curve
}
