package domain

import "time"

// Position is a currently open exposure as reported live by the terminal.
// Positions are transient reconciliation input: they are re-fetched on every
// sync pass and never persisted themselves.
type Position struct {
	PositionID int64     // Broker position identifier, stable across partial fills
	Ticket     int64     // Ticket of the opening order
	Symbol     string    // Trading symbol (e.g. "USDJPY")
	Direction  Direction // LONG or SHORT
	Volume     float64   // Position size in lots
	OpenPrice  float64   // Price at which the position was opened
	OpenTime   time.Time // Timestamp when the position was opened
	Profit     float64   // Current floating profit
	Swap       float64   // Accumulated swap
}

// TradeID returns the stable ledger identifier for the position: the
// position id when present, otherwise the originating ticket.
func (p *Position) TradeID() string {
	return stableID(p.PositionID, p.Ticket)
}
