package simulation

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/marketgrid/signalbench/internal/domain"
	"github.com/marketgrid/signalbench/internal/pricing"
	"github.com/marketgrid/signalbench/internal/sizing"
)

// Simulator runs one backtest: it walks the signal stream chronologically,
// sizes and opens positions, resolves their exits, and maintains portfolio
// and open-notional accounting. Single-threaded and deterministic; run
// simulations in parallel across Simulator instances, never within one.
type Simulator struct {
	idx *pricing.Index
	cfg domain.SimulationConfig
	log zerolog.Logger
}

// New creates a simulator over a read-only price index.
func New(idx *pricing.Index, cfg domain.SimulationConfig, log zerolog.Logger) *Simulator {
	return &Simulator{
		idx: idx,
		cfg: cfg,
		log: log.With().Str("component", "simulator").Logger(),
	}
}

// openPosition is a position whose exit is already resolved but whose P&L
// has not yet been applied to the portfolio. Positions close lazily when the
// signal stream passes their exit day, so overlapping positions count toward
// open notional in the meantime.
type openPosition struct {
	ticker          string
	seq             int
	entryDay        domain.DayOrdinal
	entryPrice      float64
	exitDay         domain.DayOrdinal
	exitPrice       float64
	reason          domain.ExitReason
	shares          int64
	notional        float64
	leverageAtEntry float64
}

// Run executes the simulation over the given signals.
// Signals are consumed in ascending day, stable input order on ties.
// Per-signal failures (unknown ticker, insufficient data, leverage refusal)
// are skipped and never abort the run; an empty trade log is a valid outcome.
func (s *Simulator) Run(signals []domain.Signal) *domain.SimulationResult {
	ordered := orderSignals(signals)

	portfolioValue := s.cfg.InitialCapital
	openNotional := 0.0
	open := make([]openPosition, 0)
	activeExit := make(map[string]domain.DayOrdinal)
	trades := make([]domain.Trade, 0, len(ordered))
	warnings := make([]string, 0)
	seq := 0

	closeDue := func(before domain.DayOrdinal, all bool) {
		due := open[:0:0]
		remaining := open[:0]
		for _, p := range open {
			if all || p.exitDay < before {
				due = append(due, p)
			} else {
				remaining = append(remaining, p)
			}
		}
		open = remaining

		sort.SliceStable(due, func(i, j int) bool {
			if due[i].exitDay != due[j].exitDay {
				return due[i].exitDay < due[j].exitDay
			}
			return due[i].seq < due[j].seq
		})

		for _, p := range due {
			var pnl, pnlPct float64
			if s.cfg.Direction == domain.Long {
				pnl = (p.exitPrice - p.entryPrice) * float64(p.shares)
				pnlPct = (p.exitPrice - p.entryPrice) / p.entryPrice * 100
			} else {
				pnl = (p.entryPrice - p.exitPrice) * float64(p.shares)
				pnlPct = (p.entryPrice - p.exitPrice) / p.entryPrice * 100
			}

			portfolioValue += pnl
			openNotional -= p.notional

			trades = append(trades, domain.Trade{
				Ticker:              p.ticker,
				Direction:           s.cfg.Direction,
				EntryDay:            p.entryDay,
				EntryPrice:          p.entryPrice,
				ExitDay:             p.exitDay,
				ExitPrice:           p.exitPrice,
				Shares:              p.shares,
				Notional:            p.notional,
				PnL:                 pnl,
				PnLPct:              pnlPct,
				ExitReason:          p.reason,
				DaysHeld:            int(p.exitDay - p.entryDay),
				PortfolioValueAfter: portfolioValue,
				LeverageAtEntry:     p.leverageAtEntry,
			})
		}
	}

	for _, sig := range ordered {
		// Apply P&L of positions whose exit lies before this signal.
		closeDue(sig.Day, false)

		// Per-instrument gate.
		if s.cfg.OneTradePerInstrument {
			if exitDay, ok := activeExit[sig.Ticker]; ok {
				if exitDay >= sig.Day {
					s.log.Debug().
						Str("ticker", sig.Ticker).
						Int64("day", int64(sig.Day)).
						Msg("Signal skipped: instrument already active")
					continue
				}
				delete(activeExit, sig.Ticker)
			}
		}

		inst, err := s.idx.Instrument(sig.Ticker)
		if err != nil {
			s.log.Debug().Str("ticker", sig.Ticker).Msg("Signal skipped: no price data")
			continue
		}

		entryIndex, err := s.idx.LookupFrom(sig.Ticker, sig.Day)
		if err != nil || entryIndex < 0 {
			s.log.Debug().
				Str("ticker", sig.Ticker).
				Int64("day", int64(sig.Day)).
				Msg("Signal skipped: entry day beyond price history")
			continue
		}

		outcome, ok := ResolveExit(
			inst.Bars,
			entryIndex,
			s.cfg.ExitRules.HoldingPeriodDays,
			s.cfg.ExitRules.StopLossPct,
			s.cfg.ExitRules.TakeProfitPct,
			s.cfg.Direction,
		)
		if !ok {
			s.log.Debug().
				Str("ticker", sig.Ticker).
				Int64("day", int64(sig.Day)).
				Msg("Signal skipped: insufficient forward data")
			continue
		}

		entryBar := inst.Bars[entryIndex]
		entryPrice := entryBar.Close
		aux := sizing.ComputeAux(s.cfg.Sizing, inst.Bars, entryIndex)

		shares := sizing.Shares(
			s.cfg.Sizing,
			entryPrice,
			portfolioValue,
			openNotional,
			s.cfg.AllowLeverage,
			aux,
			s.log,
		)
		if shares <= 0 {
			continue
		}

		notional := float64(shares) * entryPrice

		// Without leverage the full intended notional must fit in what is
		// left of the portfolio; partial fills are refused, not downsized.
		if !s.cfg.AllowLeverage && openNotional+notional > portfolioValue {
			warnings = append(warnings,
				fmt.Sprintf("Skipped %s@%d: would require leverage", sig.Ticker, sig.Day))
			continue
		}

		leverage := 0.0
		if portfolioValue > 0 {
			leverage = notional / portfolioValue
		} else {
			warnings = append(warnings,
				fmt.Sprintf("Leverage undefined for %s@%d: non-positive portfolio value", sig.Ticker, sig.Day))
		}

		openNotional += notional
		open = append(open, openPosition{
			ticker:          sig.Ticker,
			seq:             seq,
			entryDay:        entryBar.Day,
			entryPrice:      entryPrice,
			exitDay:         inst.Bars[outcome.ExitIndex].Day,
			exitPrice:       outcome.ExitPrice,
			reason:          outcome.Reason,
			shares:          shares,
			notional:        notional,
			leverageAtEntry: leverage,
		})
		seq++

		if s.cfg.OneTradePerInstrument {
			activeExit[sig.Ticker] = inst.Bars[outcome.ExitIndex].Day
		}
	}

	// Flush remaining positions in exit order.
	closeDue(0, true)

	return &domain.SimulationResult{
		Trades:              trades,
		FinalPortfolioValue: portfolioValue,
		LeverageWarnings:    warnings,
	}
}

// orderSignals sorts by (day ascending, original input index ascending).
func orderSignals(signals []domain.Signal) []domain.Signal {
	ordered := make([]domain.Signal, len(signals))
	copy(ordered, signals)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Day < ordered[j].Day
	})
	return ordered
}
