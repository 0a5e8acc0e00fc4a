package canonical

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordValidateTrimsAndNormalizes(t *testing.T) {
	condition := "  NEW "
	record := Record{
		SKU:       "  SKU-1  ",
		VendorID:  " vendor-a ",
		Price:     decimal.Zero,
		Condition: &condition,
		UpdatedAt: time.Now(),
	}
	require.NoError(t, record.Validate())
	assert.Equal(t, "SKU-1", record.SKU)
	assert.Equal(t, "vendor-a", record.VendorID)
	assert.Equal(t, "new", *record.Condition)
}

func TestRecordValidateRejections(t *testing.T) {
	negative := decimal.NewFromInt(-1)
	badCondition := "mint"
	badLead := -1
	cases := []struct {
		name   string
		record Record
	}{
		{"empty sku", Record{SKU: "  ", VendorID: "v", Price: decimal.Zero}},
		{"empty vendor", Record{SKU: "s", VendorID: "", Price: decimal.Zero}},
		{"negative quantity", Record{SKU: "s", VendorID: "v", QuantityAvailable: -1, Price: decimal.Zero}},
		{"negative price", Record{SKU: "s", VendorID: "v", Price: negative}},
		{"negative cost", Record{SKU: "s", VendorID: "v", Price: decimal.Zero, Cost: &negative}},
		{"negative lead time", Record{SKU: "s", VendorID: "v", Price: decimal.Zero, LeadTimeDays: &badLead}},
		{"unknown condition", Record{SKU: "s", VendorID: "v", Price: decimal.Zero, Condition: &badCondition}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			record := tc.record
			assert.Error(t, record.Validate())
		})
	}
}

func TestRecordRowSerializesOptionals(t *testing.T) {
	cost := decimal.RequireFromString("10.5")
	lead := 3
	record := Record{
		SKU:               "SKU-1",
		VendorID:          "vendor-a",
		QuantityAvailable: 4,
		Cost:              &cost,
		LeadTimeDays:      &lead,
		Price:             decimal.RequireFromString("12.60"),
		UpdatedAt:         time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	row := record.Row()
	assert.Equal(t, "SKU-1", row["sku"])
	assert.Equal(t, "4", row["quantity_available"])
	assert.Equal(t, "10.5", row["cost"])
	assert.Equal(t, "3", row["lead_time_days"])
	assert.Equal(t, "", row["msrp"])
	assert.Equal(t, "2020-01-01T12:00:00Z", row["updated_at"])
	for _, column := range Columns {
		_, ok := row[column]
		assert.True(t, ok, "row missing canonical column %s", column)
	}
}

func TestRecordCloneIsDeep(t *testing.T) {
	cost := decimal.NewFromInt(5)
	record := Record{SKU: "s", VendorID: "v", Price: decimal.Zero, Cost: &cost}
	clone := record.Clone()
	newCost := decimal.NewFromInt(9)
	clone.Cost = &newCost
	clone.SKU = "other"
	assert.Equal(t, "s", record.SKU)
	assert.True(t, record.Cost.Equal(decimal.NewFromInt(5)))
}
