package service

import (
	catalogdomain "github.com/smallbiznis/meterline/internal/catalog/domain"
	"github.com/shopspring/decimal"
)

// CalculateUsageCost walks the tier schedule, consuming the total period
// usage into successive bands. The input is the whole usage curve, not
// just the overage; free bands carry a zero unit price. The result is
// rounded to two decimals, half up on the cent.
func CalculateUsageCost(totalQuantity float64, tiers []catalogdomain.PricingTier) float64 {
	if totalQuantity <= 0 || len(tiers) == 0 {
		return 0
	}

	remaining := decimal.NewFromFloat(totalQuantity)
	cost := decimal.Zero
	prevBound := decimal.Zero

	for _, tier := range tiers {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}

		var inBand decimal.Decimal
		if tier.UpTo == nil {
			inBand = remaining
		} else {
			bound := decimal.NewFromFloat(*tier.UpTo)
			capacity := bound.Sub(prevBound)
			inBand = decimal.Min(remaining, capacity)
			prevBound = bound
		}

		if inBand.GreaterThan(decimal.Zero) {
			cost = cost.Add(inBand.Mul(decimal.NewFromFloat(tier.UnitPrice)))
			cost = cost.Add(decimal.NewFromFloat(tier.FlatFee))
		}
		remaining = remaining.Sub(inBand)
	}

	return round2(cost)
}

// round2 rounds half up to the cent.
func round2(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}
