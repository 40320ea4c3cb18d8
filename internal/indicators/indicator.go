// Package indicators provides technical indicators computed over bar
// history, used by the cockpit's chart overlays.
package indicators

import (
	"context"

	"fxcockpit/internal/domain"
)

// Indicator is a technical indicator computed from bar data.
type Indicator interface {
	// Calculate computes the indicator value for the given bars, oldest first.
	Calculate(ctx context.Context, bars []domain.Bar) (float64, error)

	// RequiredBars returns the minimum number of bars needed for calculation.
	RequiredBars() int

	// Name returns the name of the indicator.
	Name() string
}

// IndicatorConfig holds common configuration for indicators.
type IndicatorConfig struct {
	Period int
}

// BaseIndicator provides common functionality for indicators.
type BaseIndicator struct {
	Config IndicatorConfig
}

// RequiredBars returns the minimum number of bars needed for calculation.
func (b *BaseIndicator) RequiredBars() int {
	return b.Config.Period
}
