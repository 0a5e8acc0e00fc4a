// Package canonical defines the canonical inventory record schema and the
// deterministic CSV codec used for every artifact the service writes.
package canonical

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Condition values accepted on a record, always stored lowercased.
const (
	ConditionNew    = "new"
	ConditionUsed   = "used"
	ConditionRefurb = "refurb"
)

// Columns is the canonical column order for normalized and merged CSV output.
var Columns = []string{
	"sku",
	"vendor_sku",
	"vendor_id",
	"quantity_available",
	"lead_time_days",
	"cost",
	"map_price",
	"price",
	"msrp",
	"condition",
	"brand",
	"title",
	"updated_at",
}

// Record is the canonical inventory tuple. Optional fields are pointers;
// a nil pointer serializes as an empty CSV cell.
type Record struct {
	SKU               string
	VendorSKU         *string
	VendorID          string
	QuantityAvailable int
	LeadTimeDays      *int
	Cost              *decimal.Decimal
	MAPPrice          *decimal.Decimal
	Price             decimal.Decimal
	MSRP              *decimal.Decimal
	Condition         *string
	Brand             *string
	Title             *string
	UpdatedAt         time.Time
}

// Validate normalizes the record in place and reports the first invariant
// violation. SKU and vendor_id are trimmed, condition is lowercased.
func (r *Record) Validate() error {
	r.SKU = strings.TrimSpace(r.SKU)
	if r.SKU == "" {
		return fmt.Errorf("sku is required")
	}
	r.VendorID = strings.TrimSpace(r.VendorID)
	if r.VendorID == "" {
		return fmt.Errorf("vendor_id is required")
	}
	if r.QuantityAvailable < 0 {
		return fmt.Errorf("quantity_available must be >= 0")
	}
	if r.LeadTimeDays != nil && *r.LeadTimeDays < 0 {
		return fmt.Errorf("lead_time_days must be >= 0")
	}
	for _, field := range []struct {
		name  string
		value *decimal.Decimal
	}{
		{"cost", r.Cost},
		{"map_price", r.MAPPrice},
		{"msrp", r.MSRP},
	} {
		if field.value != nil && field.value.IsNegative() {
			return fmt.Errorf("%s must be >= 0", field.name)
		}
	}
	if r.Price.IsNegative() {
		return fmt.Errorf("price must be >= 0")
	}
	if r.Condition != nil {
		normalized := strings.ToLower(strings.TrimSpace(*r.Condition))
		switch normalized {
		case ConditionNew, ConditionUsed, ConditionRefurb:
			r.Condition = &normalized
		default:
			return fmt.Errorf("condition must be new, used, or refurb")
		}
	}
	return nil
}

// InStock reports whether the record has available quantity.
func (r *Record) InStock() bool {
	return r.QuantityAvailable > 0
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() Record {
	out := *r
	out.VendorSKU = cloneString(r.VendorSKU)
	out.LeadTimeDays = cloneInt(r.LeadTimeDays)
	out.Cost = cloneDecimal(r.Cost)
	out.MAPPrice = cloneDecimal(r.MAPPrice)
	out.MSRP = cloneDecimal(r.MSRP)
	out.Condition = cloneString(r.Condition)
	out.Brand = cloneString(r.Brand)
	out.Title = cloneString(r.Title)
	return out
}

// Row flattens the record into a string map keyed by canonical column names,
// ready for the CSV encoder. Nil optionals become empty cells.
func (r *Record) Row() map[string]string {
	row := map[string]string{
		"sku":                r.SKU,
		"vendor_sku":         derefString(r.VendorSKU),
		"vendor_id":          r.VendorID,
		"quantity_available": fmt.Sprintf("%d", r.QuantityAvailable),
		"lead_time_days":     "",
		"cost":               "",
		"map_price":          "",
		"price":              r.Price.String(),
		"msrp":               "",
		"condition":          derefString(r.Condition),
		"brand":              derefString(r.Brand),
		"title":              derefString(r.Title),
		"updated_at":         r.UpdatedAt.UTC().Format(InstantFormat),
	}
	if r.LeadTimeDays != nil {
		row["lead_time_days"] = fmt.Sprintf("%d", *r.LeadTimeDays)
	}
	if r.Cost != nil {
		row["cost"] = r.Cost.String()
	}
	if r.MAPPrice != nil {
		row["map_price"] = r.MAPPrice.String()
	}
	if r.MSRP != nil {
		row["msrp"] = r.MSRP.String()
	}
	return row
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := d.Copy()
	return &v
}
