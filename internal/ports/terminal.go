package ports

import (
	"context"
	"time"

	"fxcockpit/internal/domain"
)

// TerminalInfo describes the terminal process a driver is attached to.
type TerminalInfo struct {
	Connected bool   // Whether the terminal itself is connected to its trade server
	Path      string // Install path of the terminal executable
	Server    string // Trade server the terminal account points at
	Company   string // Broker company name
	Build     int    // Terminal build number
}

// TerminalDriver abstracts the native terminal API. The native API is
// synchronous, stateful and not safe for concurrent use: implementations are
// NOT required to be goroutine-safe. All calls must be funneled through the
// connection manager's serialized lane.
type TerminalDriver interface {
	// Connect attaches to a running terminal. A non-empty path launches the
	// terminal executable at that path first (native semantics).
	Connect(ctx context.Context, path string) error
	// Disconnect releases the connection. Safe to call when not connected.
	Disconnect(ctx context.Context) error
	// TerminalInfo returns metadata about the attached terminal.
	TerminalInfo(ctx context.Context) (*TerminalInfo, error)
	// SelectSymbol makes the symbol visible for quote/history requests.
	SelectSymbol(ctx context.Context, symbol string) error
	// Symbols returns the full instrument list known to the terminal.
	Symbols(ctx context.Context) ([]string, error)
	// SymbolTick returns the most recent quote for the symbol.
	SymbolTick(ctx context.Context, symbol string) (*domain.Tick, error)
	// Rates returns up to count bars for the symbol and timeframe, ordered by
	// time ascending.
	Rates(ctx context.Context, symbol string, tf domain.Timeframe, count int) ([]domain.Bar, error)
	// HistoryDeals returns the deal history within [from, to].
	HistoryDeals(ctx context.Context, from, to time.Time) ([]domain.Deal, error)
	// Positions returns all currently open positions.
	Positions(ctx context.Context) ([]domain.Position, error)
}
