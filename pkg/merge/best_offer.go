// Package merge selects one offer per canonical SKU across all vendors.
package merge

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/Relay-Inventory/relay-inventory-service/pkg/canonical"
)

// LandedCostConfig controls the cost basis used to rank offers.
type LandedCostConfig struct {
	IncludeShippingHandling bool
	ShippingHandlingFlat    decimal.Decimal
}

// BestOfferConfig configures the best-offer strategy.
type BestOfferConfig struct {
	LandedCost           LandedCostConfig
	FallbackLeadTimeDays int
}

// landedCost is the merge ranking basis: cost plus flat shipping when
// configured, zero when the record has no cost.
func landedCost(record *canonical.Record, cfg LandedCostConfig) decimal.Decimal {
	if record.Cost == nil {
		return decimal.Zero
	}
	if cfg.IncludeShippingHandling {
		return record.Cost.Add(cfg.ShippingHandlingFlat)
	}
	return *record.Cost
}

// BestOffer groups records by sku and keeps the preferred offer per group:
// in-stock first, then lowest landed cost. The sort is stable, so the winner
// is deterministic for a deterministic input order, and output preserves
// first-seen group order.
func BestOffer(records []canonical.Record, cfg BestOfferConfig) []canonical.Record {
	groups := make(map[string][]canonical.Record)
	var order []string
	for _, record := range records {
		if _, seen := groups[record.SKU]; !seen {
			order = append(order, record.SKU)
		}
		groups[record.SKU] = append(groups[record.SKU], record)
	}

	merged := make([]canonical.Record, 0, len(order))
	for _, sku := range order {
		group := groups[sku]
		sort.SliceStable(group, func(i, j int) bool {
			iStock, jStock := group[i].InStock(), group[j].InStock()
			if iStock != jStock {
				return iStock
			}
			return landedCost(&group[i], cfg.LandedCost).
				LessThan(landedCost(&group[j], cfg.LandedCost))
		})
		selected := group[0]
		if selected.LeadTimeDays == nil {
			selected = selected.Clone()
			fallback := cfg.FallbackLeadTimeDays
			selected.LeadTimeDays = &fallback
		}
		merged = append(merged, selected)
	}
	return merged
}
