package domain

import "time"

// Trade is the ledger entity: one reconciled row per stable position
// identifier, the system of record for the journal. Rows are created when an
// entry deal or an open position is first observed, mutated only by the
// reconciliation engine, and never deleted by it.
//
// Zero values mark open trades: ExitPrice == 0 and ExitTime.IsZero() mean the
// trade has not been closed. DurationMinutes is nil until a valid
// entry-before-exit pair is known.
type Trade struct {
	TradeID         string    // Stable identifier (position id, else originating ticket)
	Symbol          string    // Trading symbol
	Direction       Direction // LONG or SHORT
	EntryPrice      float64   // Price at entry
	ExitPrice       float64   // Price at exit (0 while open)
	Size            float64   // Position size in lots
	EntryTime       time.Time // Entry timestamp
	ExitTime        time.Time // Exit timestamp (zero while open)
	DurationMinutes *int64    // Whole minutes between entry and exit, nil if unknown
	RealizedPnL     float64   // profit + swap + commission summed over exit deals
	EntryTicket     int64     // Ticket of the opening deal/order (0 if unknown)
	ExitTicket      int64     // Ticket of the latest closing deal (0 while open)
	CreatedAt       time.Time // First time the row was observed
}

// IsClosed reports whether an exit has been recorded for the trade.
func (t *Trade) IsClosed() bool {
	return !t.ExitTime.IsZero()
}
