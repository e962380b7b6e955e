// Package pricing builds the per-request price index: immutable, date-sorted
// OHLC arrays per ticker with binary-search day lookup.
package pricing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/marketgrid/signalbench/internal/domain"
)

// ErrUnknownTicker is returned when a queried ticker has no bars in the index.
var ErrUnknownTicker = errors.New("unknown ticker")

// Index maps tickers to their sorted bar histories.
// Immutable after Build; safe for concurrent readers.
type Index struct {
	instruments map[string]*domain.Instrument
}

// Build groups bars by ticker, stable-sorts each group by day, and rejects
// duplicate days within a ticker. OHLC range violations (low > open/close or
// high < open/close) are warned, not rejected.
func Build(bars []TickerBar, log zerolog.Logger) (*Index, error) {
	grouped := make(map[string][]domain.Bar)
	order := make([]string, 0)

	for _, tb := range bars {
		if _, seen := grouped[tb.Ticker]; !seen {
			order = append(order, tb.Ticker)
		}
		grouped[tb.Ticker] = append(grouped[tb.Ticker], tb.Bar)
	}

	instruments := make(map[string]*domain.Instrument, len(grouped))
	for _, ticker := range order {
		rows := grouped[ticker]
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].Day < rows[j].Day
		})

		for i := 1; i < len(rows); i++ {
			if rows[i].Day == rows[i-1].Day {
				return nil, fmt.Errorf("duplicate day %d for ticker %s", rows[i].Day, ticker)
			}
		}

		for _, b := range rows {
			if b.Low > b.Open || b.Low > b.Close || b.High < b.Open || b.High < b.Close {
				log.Warn().
					Str("ticker", ticker).
					Int64("day", int64(b.Day)).
					Float64("open", b.Open).
					Float64("high", b.High).
					Float64("low", b.Low).
					Float64("close", b.Close).
					Msg("OHLC range violation")
			}
		}

		instruments[ticker] = &domain.Instrument{Ticker: ticker, Bars: rows}
	}

	return &Index{instruments: instruments}, nil
}

// TickerBar is one input row for Build.
type TickerBar struct {
	Ticker string
	Bar    domain.Bar
}

// Instrument returns the instrument for a ticker.
func (idx *Index) Instrument(ticker string) (*domain.Instrument, error) {
	inst, ok := idx.instruments[ticker]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
	}
	return inst, nil
}

// LookupFrom returns the first row index i where Bars[i].Day >= day,
// or -1 if no such row exists.
func (idx *Index) LookupFrom(ticker string, day domain.DayOrdinal) (int, error) {
	inst, err := idx.Instrument(ticker)
	if err != nil {
		return -1, err
	}

	bars := inst.Bars
	i := sort.Search(len(bars), func(i int) bool {
		return bars[i].Day >= day
	})
	if i == len(bars) {
		return -1, nil
	}
	return i, nil
}

// Bar returns row i for a ticker.
func (idx *Index) Bar(ticker string, i int) (domain.Bar, error) {
	inst, err := idx.Instrument(ticker)
	if err != nil {
		return domain.Bar{}, err
	}
	if i < 0 || i >= len(inst.Bars) {
		return domain.Bar{}, fmt.Errorf("bar index %d out of range for %s", i, ticker)
	}
	return inst.Bars[i], nil
}

// Len returns the number of bars for a ticker, 0 if unknown.
func (idx *Index) Len(ticker string) int {
	inst, ok := idx.instruments[ticker]
	if !ok {
		return 0
	}
	return len(inst.Bars)
}

// Tickers returns all tickers present in the index.
func (idx *Index) Tickers() []string {
	tickers := make([]string, 0, len(idx.instruments))
	for t := range idx.instruments {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers
}
