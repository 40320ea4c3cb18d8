// Package reconcile merges the terminal's open-position snapshot and deal
// history into the canonical trade ledger. Every write is a deterministic
// function of (tradeID, snapshot), never an increment, so re-running a pass
// against an unchanged snapshot leaves the ledger byte-identical and the
// order of deals within a batch does not matter.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"fxcockpit/internal/domain"
	"fxcockpit/internal/ports"
)

// MarketData is the slice of the gateway the engine consumes.
type MarketData interface {
	Positions(ctx context.Context) ([]domain.Position, error)
	Deals(ctx context.Context, from, to time.Time) ([]domain.Deal, error)
}

// Result reports the outcome of one sync pass. Skipped counts per-record
// data problems (zero volume, orphan exits) that did not abort the pass.
type Result struct {
	Updated int
	Skipped int
}

// Engine runs sync passes against the ledger. At most one pass runs at a
// time; concurrent callers queue.
type Engine struct {
	market      MarketData
	ledger      ports.LedgerStore
	logger      ports.Logger
	clk         clock.Clock
	historyFrom time.Time

	mu sync.Mutex // single-flight guard for Sync
}

// Config holds configuration for the reconciliation engine.
type Config struct {
	Market      MarketData
	Ledger      ports.LedgerStore
	Logger      ports.Logger
	Clock       clock.Clock // Defaults to the real clock
	HistoryFrom time.Time   // Start of the deal-history fetch window
}

// NewEngine creates a reconciliation engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Market == nil || cfg.Ledger == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for reconciliation engine")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	historyFrom := cfg.HistoryFrom
	if historyFrom.IsZero() {
		historyFrom = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &Engine{
		market:      cfg.Market,
		ledger:      cfg.Ledger,
		logger:      cfg.Logger,
		clk:         clk,
		historyFrom: historyFrom,
	}, nil
}

// Sync executes one reconciliation pass: fetch open positions and deal
// history, then upsert the ledger. A transport failure on either fetch
// aborts the whole pass; per-record data problems are skipped and counted.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	positions, err := e.market.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync: fetching positions: %w", err)
	}
	deals, err := e.market.Deals(ctx, e.historyFrom, e.clk.Now())
	if err != nil {
		return nil, fmt.Errorf("sync: fetching deals: %w", err)
	}

	res := &Result{}
	if err := e.applyPositions(ctx, positions, res); err != nil {
		return nil, err
	}
	if err := e.applyDeals(ctx, deals, res); err != nil {
		return nil, err
	}

	e.logger.Info(ctx, "Sync pass completed", map[string]interface{}{
		"positions": len(positions), "deals": len(deals),
		"updated": res.Updated, "skipped": res.Skipped,
	})
	return res, nil
}

// applyPositions upserts one ledger row per open position. This path only
// refreshes entry-side fields: a position that vanished from the snapshot is
// never auto-closed here, closure happens exclusively through an exit deal.
func (e *Engine) applyPositions(ctx context.Context, positions []domain.Position, res *Result) error {
	for i := range positions {
		pos := &positions[i]
		if !validVolume(pos.Volume) {
			e.logger.Warn(ctx, "Skipping position with invalid volume", map[string]interface{}{
				"positionID": pos.PositionID, "ticket": pos.Ticket, "volume": pos.Volume,
			})
			res.Skipped++
			continue
		}

		id := pos.TradeID()
		trade, err := e.ledger.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("sync: reading trade %s: %w", id, err)
		}
		if trade == nil {
			trade = &domain.Trade{TradeID: id, CreatedAt: e.clk.Now()}
		}

		trade.Symbol = pos.Symbol
		trade.Direction = pos.Direction
		trade.EntryPrice = pos.OpenPrice
		trade.Size = pos.Volume
		trade.EntryTime = pos.OpenTime
		trade.EntryTicket = pos.Ticket

		if err := e.ledger.Upsert(ctx, trade); err != nil {
			return fmt.Errorf("sync: upserting trade %s: %w", id, err)
		}
		res.Updated++
	}
	return nil
}

// exitAggregate folds all exit deals for one trade id within a batch into a
// deterministic summary: realized PnL is the sum over all exit events
// (partial closes), exit price/ticket/time come from the latest exit. Ties
// on time break by ticket so the result is independent of batch order.
type exitAggregate struct {
	pnl    float64
	latest domain.Deal
	count  int
}

func (a *exitAggregate) add(d domain.Deal) {
	a.pnl += d.Profit + d.Swap + d.Commission
	if a.count == 0 || d.Time.After(a.latest.Time) ||
		(d.Time.Equal(a.latest.Time) && d.Ticket > a.latest.Ticket) {
		a.latest = d
	}
	a.count++
}

// applyDeals merges a fetched deal batch. Entry deals refresh entry fields
// (late or duplicate delivery never creates a second row). Exit deals close
// the trade; an exit whose entry is neither in the ledger nor in the same
// batch is an orphan and is skipped.
func (e *Engine) applyDeals(ctx context.Context, deals []domain.Deal, res *Result) error {
	entriesByID := make(map[string]domain.Deal)
	exitsByID := make(map[string]*exitAggregate)

	for _, d := range deals {
		switch d.Kind {
		case domain.DealEntry:
			if !validVolume(d.Volume) {
				e.logger.Warn(ctx, "Skipping entry deal with invalid volume", map[string]interface{}{
					"ticket": d.Ticket, "volume": d.Volume,
				})
				res.Skipped++
				continue
			}
			// Keep the earliest entry per id so duplicates are harmless.
			if prev, ok := entriesByID[d.TradeID()]; !ok || d.Time.Before(prev.Time) {
				entriesByID[d.TradeID()] = d
			}
		case domain.DealExit:
			if !validVolume(d.Volume) {
				e.logger.Warn(ctx, "Skipping exit deal with invalid volume", map[string]interface{}{
					"ticket": d.Ticket, "volume": d.Volume,
				})
				res.Skipped++
				continue
			}
			agg, ok := exitsByID[d.TradeID()]
			if !ok {
				agg = &exitAggregate{}
				exitsByID[d.TradeID()] = agg
			}
			agg.add(d)
		}
	}

	for id, entry := range entriesByID {
		trade, err := e.ledger.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("sync: reading trade %s: %w", id, err)
		}
		if trade == nil {
			trade = &domain.Trade{TradeID: id, CreatedAt: e.clk.Now()}
		}
		applyEntry(trade, entry)
		if err := e.ledger.Upsert(ctx, trade); err != nil {
			return fmt.Errorf("sync: upserting trade %s: %w", id, err)
		}
		res.Updated++
	}

	for id, agg := range exitsByID {
		trade, err := e.ledger.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("sync: reading trade %s: %w", id, err)
		}
		if trade == nil {
			// Both legs arrived in this batch but the entry was filtered out
			// above, or the row truly never existed. Synthesize from the
			// batch entry when one is available.
			entry, ok := entriesByID[id]
			if !ok {
				e.logger.Warn(ctx, "Orphan exit deal, no entry context available", map[string]interface{}{
					"tradeID": id, "ticket": agg.latest.Ticket,
				})
				res.Skipped += agg.count
				continue
			}
			trade = &domain.Trade{TradeID: id, CreatedAt: e.clk.Now()}
			applyEntry(trade, entry)
		}

		// An already-recorded exit is only overwritten by a later one.
		if trade.IsClosed() && agg.latest.Time.Before(trade.ExitTime) {
			continue
		}

		trade.ExitPrice = agg.latest.Price
		trade.ExitTicket = agg.latest.Ticket
		trade.ExitTime = agg.latest.Time
		trade.RealizedPnL = agg.pnl
		if trade.EntryTime.Before(trade.ExitTime) {
			mins := int64(trade.ExitTime.Sub(trade.EntryTime) / time.Minute)
			trade.DurationMinutes = &mins
		} else {
			trade.DurationMinutes = nil
		}

		if err := e.ledger.Upsert(ctx, trade); err != nil {
			return fmt.Errorf("sync: upserting trade %s: %w", id, err)
		}
		res.Updated++
	}

	return nil
}

func applyEntry(trade *domain.Trade, d domain.Deal) {
	trade.Symbol = d.Symbol
	trade.Direction = d.Direction
	trade.EntryPrice = d.Price
	trade.Size = d.Volume
	trade.EntryTime = d.Time
	trade.EntryTicket = d.Ticket
}

// validVolume guards against corrupt broker records: zero, negative or NaN
// volumes never reach the ledger.
func validVolume(v float64) bool {
	return v > 0 && !math.IsNaN(v)
}
