package domain

import "time"

// Tick is a single quote snapshot for a symbol. Ticks are produced per
// request and never persisted.
type Tick struct {
	Symbol string    // Symbol the quote belongs to
	Time   time.Time // Time of the last quote
	Bid    float64   // Current bid price
	Ask    float64   // Current ask price
	Last   float64   // Last trade price (0 for pure quote feeds)
	Volume uint64    // Tick volume
}

// Age returns how old the tick is relative to now.
func (t *Tick) Age(now time.Time) time.Duration {
	return now.Sub(t.Time)
}
