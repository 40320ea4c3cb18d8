// Package marketdata is the typed façade over the terminal connection:
// quotes, bars, deal history, open positions and the market-open heuristic.
// Every method ensures a connection first and reports ports.ErrUnavailable
// when one cannot be established, never synthetic data.
package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"fxcockpit/internal/domain"
	"fxcockpit/internal/ports"
	"fxcockpit/internal/terminal"
)

// A market is considered closed once the latest tick is older than this.
const maxTickAge = 5 * time.Minute

// Gateway exposes terminal market data as domain value objects.
type Gateway struct {
	manager *terminal.Manager
	logger  ports.Logger
	clk     clock.Clock
}

// NewGateway creates a gateway over an existing connection manager.
func NewGateway(manager *terminal.Manager, logger ports.Logger, clk clock.Clock) (*Gateway, error) {
	if manager == nil {
		return nil, fmt.Errorf("connection manager is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Gateway{manager: manager, logger: logger, clk: clk}, nil
}

// ensureConnected attempts initialization when the manager is not connected.
func (g *Gateway) ensureConnected(ctx context.Context) error {
	if g.manager.IsConnected() {
		return nil
	}
	if !g.manager.Initialize(ctx) {
		return ports.ErrUnavailable
	}
	return nil
}

// CurrentPrice returns the most recent quote for the configured instrument.
func (g *Gateway) CurrentPrice(ctx context.Context) (*domain.Tick, error) {
	if err := g.ensureConnected(ctx); err != nil {
		return nil, fmt.Errorf("current price: %w", err)
	}
	tick, err := g.manager.Tick(ctx)
	if err != nil {
		return nil, fmt.Errorf("current price: %w: %w", ports.ErrUnavailable, err)
	}
	return tick, nil
}

// HistoricalBars returns up to count bars for the timeframe, oldest first.
// Failures yield an empty slice, never an error: "no data" is a normal
// answer for consumers drawing charts or computing statistics.
func (g *Gateway) HistoricalBars(ctx context.Context, tf domain.Timeframe, count int) []domain.Bar {
	if err := g.ensureConnected(ctx); err != nil {
		g.logger.Warn(ctx, "Historical bars unavailable, returning empty set", map[string]interface{}{"timeframe": tf, "count": count})
		return []domain.Bar{}
	}
	bars, err := g.manager.Bars(ctx, tf, count)
	if err != nil {
		g.logger.Error(ctx, err, "Historical bars fetch failed", map[string]interface{}{"timeframe": tf, "count": count})
		return []domain.Bar{}
	}
	return bars
}

// Deals returns the broker's deal history within [from, to].
func (g *Gateway) Deals(ctx context.Context, from, to time.Time) ([]domain.Deal, error) {
	if err := g.ensureConnected(ctx); err != nil {
		return nil, fmt.Errorf("deal history: %w", err)
	}
	deals, err := g.manager.Deals(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("deal history: %w: %w", ports.ErrUnavailable, err)
	}
	return deals, nil
}

// Positions returns all currently open positions.
func (g *Gateway) Positions(ctx context.Context) ([]domain.Position, error) {
	if err := g.ensureConnected(ctx); err != nil {
		return nil, fmt.Errorf("open positions: %w", err)
	}
	positions, err := g.manager.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("open positions: %w: %w", ports.ErrUnavailable, err)
	}
	return positions, nil
}

// IsMarketOpen reports whether the market is effectively open, derived from
// the age of the latest tick. Fail-closed: any failure to obtain a tick
// means closed, since a stale or absent feed is the normal off-hours state.
func (g *Gateway) IsMarketOpen(ctx context.Context) bool {
	if err := g.ensureConnected(ctx); err != nil {
		return false
	}
	tick, err := g.manager.Tick(ctx)
	if err != nil {
		g.logger.Debug(ctx, "Market status check failed, treating as closed", map[string]interface{}{"error": err.Error()})
		return false
	}

	age := tick.Age(g.clk.Now())
	if age > maxTickAge {
		g.logger.Debug(ctx, "Market considered closed", map[string]interface{}{"tickAge": age.String()})
		return false
	}
	return true
}

// Symbol returns the resolved instrument name served by the gateway.
func (g *Gateway) Symbol() string {
	return g.manager.Symbol()
}
