package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Relay-Inventory/relay-inventory-service/pkg/canonical"
)

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func centRules(margin, minPrice, shipping string, enforceMAP bool) Rules {
	return Rules{
		BaseMarginPct:        dec(margin),
		MinPrice:             dec(minPrice),
		ShippingHandlingFlat: dec(shipping),
		MapPolicy:            MapPolicy{Enforce: enforceMAP, MapFloorBehavior: MapFloorMax},
		Rounding:             RoundingRule{Mode: "nearest", Increment: dec("0.01")},
	}
}

func TestComputePriceMarginAndShipping(t *testing.T) {
	price := ComputePrice(dec("12"), centRules("0.2", "0", "1", false), nil)
	assert.Equal(t, "15.60", price.StringFixed(2))
}

func TestComputePriceMinPriceFloor(t *testing.T) {
	price := ComputePrice(dec("10"), centRules("0.2", "25", "5", true), nil)
	assert.Equal(t, "25.00", price.StringFixed(2))
}

func TestComputePriceMapFloorRaisesCandidate(t *testing.T) {
	mapPrice := dec("40")
	price := ComputePrice(dec("20"), centRules("0.1", "10", "0", true), &mapPrice)
	assert.Equal(t, "40.00", price.StringFixed(2))
}

func TestComputePriceMapIgnoredWhenNotEnforced(t *testing.T) {
	mapPrice := dec("40")
	price := ComputePrice(dec("20"), centRules("0.1", "10", "0", false), &mapPrice)
	assert.Equal(t, "22.00", price.StringFixed(2))
}

func TestComputePriceRoundingIncrement(t *testing.T) {
	rules := centRules("0.2", "0", "9.99", true)
	rules.Rounding.Increment = dec("0.99")
	mapPrice := dec("25")
	price := ComputePrice(dec("10"), rules, &mapPrice)
	assert.Equal(t, "25.00", price.StringFixed(2))
}

func TestComputePriceZeroIncrementSkipsRounding(t *testing.T) {
	rules := centRules("0.1", "0", "0", false)
	rules.Rounding.Increment = decimal.Zero
	price := ComputePrice(dec("9.99"), rules, nil)
	assert.Equal(t, "10.989", price.String())
}

func TestApplyPassesThroughRecordsWithoutCost(t *testing.T) {
	record := canonical.Record{
		SKU:      "SKU1",
		VendorID: "v",
		Price:    dec("3.33"),
	}
	priced := Apply([]canonical.Record{record}, centRules("0.5", "0", "0", false))
	require.Len(t, priced, 1)
	assert.Equal(t, "3.33", priced[0].Price.StringFixed(2))
}

func TestApplyIsIdempotentOnPrice(t *testing.T) {
	cost := dec("12")
	mapPrice := dec("18")
	records := []canonical.Record{
		{SKU: "SKU1", VendorID: "a", QuantityAvailable: 1, Cost: &cost, MAPPrice: &mapPrice, Price: decimal.Zero},
		{SKU: "SKU2", VendorID: "b", QuantityAvailable: 0, Price: dec("7.77")},
	}
	rules := centRules("0.2", "5", "1", true)

	once := Apply(records, rules)
	twice := Apply(once, rules)
	require.Len(t, twice, 2)
	for i := range once {
		assert.True(t, once[i].Price.Equal(twice[i].Price),
			"second pricing pass must be a no-op (got %s then %s)", once[i].Price, twice[i].Price)
	}
}
