package domain

import (
	"strconv"
	"time"
)

// Deal is an immutable historical execution record reported by the terminal.
// Deals may be delivered in arbitrary order and may repeat across fetches.
type Deal struct {
	Ticket     int64     // Deal ticket number
	PositionID int64     // Position this deal belongs to (0 if unknown)
	Symbol     string    // Trading symbol
	Kind       DealKind  // ENTRY or EXIT
	Direction  Direction // LONG or SHORT
	Volume     float64   // Executed volume in lots
	Price      float64   // Execution price
	Time       time.Time // Execution timestamp
	Profit     float64   // Realized profit portion (exit deals)
	Swap       float64   // Swap portion
	Commission float64   // Commission portion
}

// TradeID returns the stable ledger identifier for the deal: the position id
// when present, otherwise the deal's own ticket. This rule must match
// Position.TradeID so both paths address the same ledger row.
func (d *Deal) TradeID() string {
	return stableID(d.PositionID, d.Ticket)
}

func stableID(positionID, ticket int64) string {
	if positionID != 0 {
		return strconv.FormatInt(positionID, 10)
	}
	return strconv.FormatInt(ticket, 10)
}
