package ports

import (
	"context"

	"fxcockpit/internal/domain"
)

// LedgerStore is the durable keyed table of reconciled trades. Get and
// Upsert are atomic per key; Upsert replaces the whole row for the trade id
// (a deterministic write, never an increment).
type LedgerStore interface {
	// Get retrieves a trade by its stable identifier.
	// Returns nil, nil if no row exists for the id.
	Get(ctx context.Context, tradeID string) (*domain.Trade, error)
	// Upsert inserts or fully replaces the row keyed by trade.TradeID.
	Upsert(ctx context.Context, trade *domain.Trade) error
}

// TradeStats summarizes journal performance for the read API.
type TradeStats struct {
	TotalTrades        int     // All ledger rows
	ClosedTrades       int     // Rows with a recorded exit
	Wins               int     // Closed rows with positive realized PnL
	Losses             int     // Closed rows with non-positive realized PnL
	WinRate            float64 // Wins / ClosedTrades (0 when no closed trades)
	TotalPnL           float64 // Sum of realized PnL over closed rows
	AvgDurationMinutes float64 // Mean duration over rows where it is known
}

// TradeJournal is the read/manual-entry surface consumed by the API layer.
type TradeJournal interface {
	// List returns trades ordered by entry time descending.
	List(ctx context.Context, limit, offset int) ([]*domain.Trade, error)
	// Stats aggregates performance statistics over the ledger.
	Stats(ctx context.Context) (*TradeStats, error)
}
