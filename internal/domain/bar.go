package domain

import "time"

// Bar represents a single OHLC bar for one timeframe unit.
type Bar struct {
	Time       time.Time // Start time of the bar
	Open       float64   // Opening price
	High       float64   // Highest price
	Low        float64   // Lowest price
	Close      float64   // Closing price
	TickVolume int64     // Number of ticks within the bar
}
