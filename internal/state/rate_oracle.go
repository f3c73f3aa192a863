package state

import (
	fpmath "CoverLedger/internal/math"
	"fmt"
)

// RateOracle holds the weekly premium rate per category, in RateScale units.
type RateOracle struct {
	rates map[CategoryID]int64
}

func NewRateOracle() *RateOracle {
	return &RateOracle{
		rates: make(map[CategoryID]int64),
	}
}

// ValidateRate checks 0 <= rate <= RateScale (at most 100% per epoch).
func ValidateRate(rate int64) error {
	if rate < 0 {
		return fmt.Errorf("rate must be >= 0, got %d", rate)
	}
	if rate > fpmath.RateScale {
		return fmt.Errorf("rate must be <= %d, got %d", fpmath.RateScale, rate)
	}
	return nil
}

func (ro *RateOracle) SetPremiumRate(category CategoryID, rate int64) error {
	if err := ValidateRate(rate); err != nil {
		return fmt.Errorf("invalid premium rate for category %d: %w", category, err)
	}
	ro.rates[category] = rate
	return nil
}

// PremiumRate returns the rate for category, 0 when unset.
func (ro *RateOracle) PremiumRate(category CategoryID) int64 {
	return ro.rates[category]
}

// All returns a copy of every rate (for snapshot creation)
func (ro *RateOracle) All() map[CategoryID]int64 {
	out := make(map[CategoryID]int64, len(ro.rates))
	for k, v := range ro.rates {
		out[k] = v
	}
	return out
}
