// Package journal computes performance metrics over the reconciled trade
// ledger for the cockpit's journal views.
package journal

import (
	"sort"
	"time"

	"fxcockpit/internal/domain"
)

// Performance holds journal-level performance metrics computed from closed
// trades. Open trades are counted but excluded from PnL-derived figures.
type Performance struct {
	TotalTrades int
	OpenTrades  int
	Wins        int
	Losses      int
	WinRate     float64
	TotalPnL    float64
	AverageWin  float64
	AverageLoss float64
	// ProfitFactor is AverageWin / |AverageLoss|; 0 when no losses exist.
	ProfitFactor         float64
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageDuration      time.Duration
	MonthlyPnL           map[string]float64 // keyed by "2006-01" of the exit month
}

// Summarize calculates performance metrics from ledger trades. The input
// slice is not modified.
func Summarize(trades []*domain.Trade) *Performance {
	perf := &Performance{
		MonthlyPnL: make(map[string]float64),
	}
	if len(trades) == 0 {
		return perf
	}

	closed := make([]*domain.Trade, 0, len(trades))
	for _, t := range trades {
		perf.TotalTrades++
		if !t.IsClosed() {
			perf.OpenTrades++
			continue
		}
		closed = append(closed, t)
	}
	if len(closed) == 0 {
		return perf
	}

	sort.Slice(closed, func(i, j int) bool {
		return closed[i].ExitTime.Before(closed[j].ExitTime)
	})

	var consecutiveWins, consecutiveLosses int
	var totalDuration time.Duration
	var durationsKnown int

	for _, t := range closed {
		pnl := t.RealizedPnL
		if pnl > 0 {
			perf.Wins++
			consecutiveWins++
			consecutiveLosses = 0
			perf.AverageWin = (perf.AverageWin*float64(perf.Wins-1) + pnl) / float64(perf.Wins)
		} else {
			perf.Losses++
			consecutiveLosses++
			consecutiveWins = 0
			perf.AverageLoss = (perf.AverageLoss*float64(perf.Losses-1) + pnl) / float64(perf.Losses)
		}
		if consecutiveWins > perf.MaxConsecutiveWins {
			perf.MaxConsecutiveWins = consecutiveWins
		}
		if consecutiveLosses > perf.MaxConsecutiveLosses {
			perf.MaxConsecutiveLosses = consecutiveLosses
		}

		perf.TotalPnL += pnl
		perf.MonthlyPnL[t.ExitTime.Format("2006-01")] += pnl

		if t.DurationMinutes != nil {
			totalDuration += time.Duration(*t.DurationMinutes) * time.Minute
			durationsKnown++
		}
	}

	perf.WinRate = float64(perf.Wins) / float64(len(closed))
	if perf.AverageLoss != 0 {
		perf.ProfitFactor = perf.AverageWin / -perf.AverageLoss
	}
	if durationsKnown > 0 {
		perf.AverageDuration = totalDuration / time.Duration(durationsKnown)
	}

	return perf
}

// MonthlyReturn is one month's realized PnL.
type MonthlyReturn struct {
	Month time.Time
	PnL   float64
}

// SortedMonthlyPnL returns the monthly PnL map as a slice ordered by month.
func (p *Performance) SortedMonthlyPnL() []MonthlyReturn {
	returns := make([]MonthlyReturn, 0, len(p.MonthlyPnL))
	for month, pnl := range p.MonthlyPnL {
		date, err := time.Parse("2006-01", month)
		if err != nil {
			continue
		}
		returns = append(returns, MonthlyReturn{Month: date, PnL: pnl})
	}
	sort.Slice(returns, func(i, j int) bool {
		return returns[i].Month.Before(returns[j].Month)
	})
	return returns
}
