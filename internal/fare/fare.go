// Package fare implements the deterministic pricing model. Amounts are
// currency-agnostic minor units carried as fixed-point decimals so that
// the same inputs always produce the same fare.
package fare

import "github.com/shopspring/decimal"

// Pricing holds the flag-fall and per-kilometer rates.
type Pricing struct {
	Base  decimal.Decimal
	PerKm decimal.Decimal
}

// DefaultPricing matches the RWF tariff: 500 base + 800/km.
func DefaultPricing() Pricing {
	return Pricing{
		Base:  decimal.NewFromInt(500),
		PerKm: decimal.NewFromInt(800),
	}
}

// Price computes base + perKm * distance, rounded half-up to 2 places.
func (p Pricing) Price(distanceKm decimal.Decimal) decimal.Decimal {
	if distanceKm.IsNegative() {
		distanceKm = decimal.Zero
	}
	// Round is half-away-from-zero, which is half-up for non-negative fares.
	return p.Base.Add(p.PerKm.Mul(distanceKm)).Round(2)
}

// PriceFloat is a convenience for callers holding a float64 distance.
func (p Pricing) PriceFloat(distanceKm float64) decimal.Decimal {
	return p.Price(decimal.NewFromFloat(distanceKm))
}
