// Package pricing recomputes the sell price of merged records from cost,
// margin, shipping, the MAP floor, and the tenant's rounding rule.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/Relay-Inventory/relay-inventory-service/pkg/canonical"
)

// MapFloorMax is the only map_floor_behavior understood by schema v1.
const MapFloorMax = "max(price, map_price)"

// MapPolicy controls Minimum Advertised Price enforcement.
type MapPolicy struct {
	Enforce          bool
	MapFloorBehavior string
}

// RoundingRule rounds candidate prices to a configured increment.
// An increment of zero or less leaves the candidate unrounded.
type RoundingRule struct {
	Mode      string
	Increment decimal.Decimal
}

// Rules is the full pricing policy for one tenant.
type Rules struct {
	BaseMarginPct        decimal.Decimal
	MinPrice             decimal.Decimal
	ShippingHandlingFlat decimal.Decimal
	MapPolicy            MapPolicy
	Rounding             RoundingRule
}

func roundPrice(value decimal.Decimal, rounding RoundingRule) decimal.Decimal {
	if !rounding.Increment.IsPositive() {
		return value
	}
	increments := value.Div(rounding.Increment).Round(0)
	return increments.Mul(rounding.Increment)
}

// ComputePrice derives the candidate price for a record with a known cost.
func ComputePrice(cost decimal.Decimal, rules Rules, mapPrice *decimal.Decimal) decimal.Decimal {
	landed := cost.Add(rules.ShippingHandlingFlat)
	candidate := landed.Mul(decimal.NewFromInt(1).Add(rules.BaseMarginPct))
	if candidate.LessThan(rules.MinPrice) {
		candidate = rules.MinPrice
	}
	candidate = roundPrice(candidate, rules.Rounding)
	if rules.MapPolicy.Enforce && mapPrice != nil && rules.MapPolicy.MapFloorBehavior == MapFloorMax {
		if mapPrice.GreaterThan(candidate) {
			candidate = *mapPrice
		}
	}
	return candidate
}

// Apply reprices every record that carries a cost; records without cost pass
// through unchanged. Applying twice is a no-op on the price field.
func Apply(records []canonical.Record, rules Rules) []canonical.Record {
	priced := make([]canonical.Record, 0, len(records))
	for _, record := range records {
		if record.Cost == nil {
			priced = append(priced, record)
			continue
		}
		repriced := record.Clone()
		repriced.Price = ComputePrice(*record.Cost, rules, record.MAPPrice)
		priced = append(priced, repriced)
	}
	return priced
}
