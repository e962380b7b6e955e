package pricing

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketgrid/signalbench/internal/domain"
)

func bar(day int64, close float64) TickerBar {
	return TickerBar{
		Ticker: "X",
		Bar: domain.Bar{
			Day:   domain.DayOrdinal(day),
			Open:  close,
			High:  close,
			Low:   close,
			Close: close,
		},
	}
}

func TestBuild_SortsOutOfOrderBars(t *testing.T) {
	idx, err := Build([]TickerBar{bar(3, 103), bar(1, 101), bar(2, 102)}, zerolog.Nop())
	require.NoError(t, err)

	inst, err := idx.Instrument("X")
	require.NoError(t, err)
	require.Len(t, inst.Bars, 3)
	assert.Equal(t, domain.DayOrdinal(1), inst.Bars[0].Day)
	assert.Equal(t, domain.DayOrdinal(3), inst.Bars[2].Day)
}

func TestBuild_RejectsDuplicateDays(t *testing.T) {
	_, err := Build([]TickerBar{bar(1, 100), bar(1, 101)}, zerolog.Nop())
	assert.Error(t, err, "Duplicate days within a ticker must be rejected")
}

func TestBuild_GroupsByTicker(t *testing.T) {
	bars := []TickerBar{
		bar(1, 100),
		{Ticker: "Y", Bar: domain.Bar{Day: 1, Open: 50, High: 50, Low: 50, Close: 50}},
		bar(2, 101),
	}
	idx, err := Build(bars, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, []string{"X", "Y"}, idx.Tickers())
	assert.Equal(t, 2, idx.Len("X"))
	assert.Equal(t, 1, idx.Len("Y"))
}

func TestInstrument_UnknownTicker(t *testing.T) {
	idx, err := Build([]TickerBar{bar(1, 100)}, zerolog.Nop())
	require.NoError(t, err)

	_, err = idx.Instrument("MISSING")
	assert.ErrorIs(t, err, ErrUnknownTicker)
}

func TestLookupFrom(t *testing.T) {
	idx, err := Build([]TickerBar{bar(10, 100), bar(12, 101), bar(15, 102)}, zerolog.Nop())
	require.NoError(t, err)

	tests := []struct {
		name string
		day  int64
		want int
	}{
		{"exact match", 12, 1},
		{"between days snaps forward", 13, 2},
		{"before first day", 1, 0},
		{"after last day", 16, -1},
		{"last day", 15, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := idx.LookupFrom("X", domain.DayOrdinal(tt.day))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = idx.LookupFrom("MISSING", 10)
	assert.Error(t, err)
}
