// Package config holds the versioned tenant configuration document and the
// service's environment settings.
package config

import (
	"fmt"
	"strings"
)

// SupportedSchemaVersion is the only tenant config schema this build runs.
const SupportedSchemaVersion = 1

// Missing-required-vendor policies.
const (
	MissingVendorFail     = "fail"
	MissingVendorWarnOnly = "warn_only"
)

// MergeBestOffer is the only merge strategy in schema v1.
const MergeBestOffer = "best_offer"

// InboundConfig locates a vendor's drop folder in the object store.
type InboundConfig struct {
	Type     string `yaml:"type" json:"type"`
	S3Prefix string `yaml:"s3_prefix,omitempty" json:"s3_prefix,omitempty"`
}

// ParserConfig carries per-vendor parse options.
type ParserConfig struct {
	Format           string            `yaml:"format" json:"format"`
	Delimiter        string            `yaml:"delimiter,omitempty" json:"delimiter,omitempty"`
	Encoding         string            `yaml:"encoding,omitempty" json:"encoding,omitempty"`
	ColumnMap        map[string]string `yaml:"column_map,omitempty" json:"column_map,omitempty"`
	DefaultCondition string            `yaml:"default_condition,omitempty" json:"default_condition,omitempty"`
}

// SkuMapConfig references a vendor's sku remap table.
type SkuMapConfig struct {
	Type      string `yaml:"type" json:"type"`
	S3Key     string `yaml:"s3_key,omitempty" json:"s3_key,omitempty"`
	LocalPath string `yaml:"local_path,omitempty" json:"local_path,omitempty"`
}

// VendorConfig describes one vendor feed.
type VendorConfig struct {
	VendorID string        `yaml:"vendor_id" json:"vendor_id"`
	Inbound  InboundConfig `yaml:"inbound" json:"inbound"`
	Parser   ParserConfig  `yaml:"parser" json:"parser"`
	SkuMap   *SkuMapConfig `yaml:"sku_map,omitempty" json:"sku_map,omitempty"`
	Required bool          `yaml:"required,omitempty" json:"required,omitempty"`
}

// MapPolicyConfig controls MAP floor enforcement.
type MapPolicyConfig struct {
	Enforce          bool   `yaml:"enforce" json:"enforce"`
	MapFloorBehavior string `yaml:"map_floor_behavior,omitempty" json:"map_floor_behavior,omitempty"`
}

// RoundingConfig rounds candidate prices to an increment.
type RoundingConfig struct {
	Mode      string  `yaml:"mode,omitempty" json:"mode,omitempty"`
	Increment Decimal `yaml:"increment" json:"increment"`
}

// PricingConfig is the tenant pricing policy.
type PricingConfig struct {
	BaseMarginPct        Decimal         `yaml:"base_margin_pct" json:"base_margin_pct"`
	MinPrice             Decimal         `yaml:"min_price" json:"min_price"`
	ShippingHandlingFlat Decimal         `yaml:"shipping_handling_flat" json:"shipping_handling_flat"`
	MapPolicy            MapPolicyConfig `yaml:"map_policy" json:"map_policy"`
	Rounding             RoundingConfig  `yaml:"rounding" json:"rounding"`
}

// BestOfferLandedCost selects the cost basis for offer ranking.
type BestOfferLandedCost struct {
	IncludeShippingHandling bool `yaml:"include_shipping_handling" json:"include_shipping_handling"`
}

// BestOfferConfig tunes the best-offer merge.
type BestOfferConfig struct {
	SortBy               []string            `yaml:"sort_by,omitempty" json:"sort_by,omitempty"`
	LandedCost           BestOfferLandedCost `yaml:"landed_cost" json:"landed_cost"`
	FallbackLeadTimeDays int                 `yaml:"fallback_lead_time_days,omitempty" json:"fallback_lead_time_days,omitempty"`
}

// MergeConfig selects and configures the merge strategy.
type MergeConfig struct {
	Strategy  string           `yaml:"strategy" json:"strategy"`
	BestOffer *BestOfferConfig `yaml:"best_offer,omitempty" json:"best_offer,omitempty"`
}

// OutputConfig shapes the merged artifact.
type OutputConfig struct {
	Format  string   `yaml:"format,omitempty" json:"format,omitempty"`
	Columns []string `yaml:"columns" json:"columns"`
}

// ErrorPolicy decides when parse errors fail a run.
type ErrorPolicy struct {
	MaxInvalidRows               int     `yaml:"max_invalid_rows" json:"max_invalid_rows"`
	MaxInvalidRowPct             float64 `yaml:"max_invalid_row_pct" json:"max_invalid_row_pct"`
	FailOnMissingRequiredColumns bool    `yaml:"fail_on_missing_required_columns" json:"fail_on_missing_required_columns"`
	MissingRequiredVendorPolicy  string  `yaml:"missing_required_vendor_policy,omitempty" json:"missing_required_vendor_policy,omitempty"`
}

// TenantConfig is the full per-tenant document, versioned append-only in the
// tenant store.
type TenantConfig struct {
	SchemaVersion   int            `yaml:"schema_version" json:"schema_version"`
	TenantID        string         `yaml:"tenant_id" json:"tenant_id"`
	Timezone        string         `yaml:"timezone,omitempty" json:"timezone,omitempty"`
	DefaultCurrency string         `yaml:"default_currency,omitempty" json:"default_currency,omitempty"`
	Vendors         []VendorConfig `yaml:"vendors" json:"vendors"`
	Pricing         PricingConfig  `yaml:"pricing" json:"pricing"`
	Merge           MergeConfig    `yaml:"merge" json:"merge"`
	Output          OutputConfig   `yaml:"output" json:"output"`
	ErrorPolicy     ErrorPolicy    `yaml:"error_policy" json:"error_policy"`
}

// ApplyDefaults fills optional fields that the document leaves empty.
func (c *TenantConfig) ApplyDefaults() {
	if c.SchemaVersion == 0 {
		c.SchemaVersion = SupportedSchemaVersion
	}
	if c.ErrorPolicy.MissingRequiredVendorPolicy == "" {
		c.ErrorPolicy.MissingRequiredVendorPolicy = MissingVendorFail
	}
	if c.Pricing.MapPolicy.MapFloorBehavior == "" {
		c.Pricing.MapPolicy.MapFloorBehavior = "max(price, map_price)"
	}
	if c.Pricing.Rounding.Mode == "" {
		c.Pricing.Rounding.Mode = "nearest"
	}
	if c.Merge.BestOffer != nil && c.Merge.BestOffer.FallbackLeadTimeDays == 0 {
		c.Merge.BestOffer.FallbackLeadTimeDays = 7
	}
	for i := range c.Vendors {
		if c.Vendors[i].Parser.Encoding == "" {
			c.Vendors[i].Parser.Encoding = "utf-8"
		}
		if c.Vendors[i].Parser.Delimiter == "" {
			c.Vendors[i].Parser.Delimiter = ","
		}
	}
}

// Validate checks structural invariants beyond what the JSON schema covers.
func (c *TenantConfig) Validate() error {
	if strings.TrimSpace(c.TenantID) == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if len(c.Vendors) == 0 {
		return fmt.Errorf("at least one vendor is required")
	}
	seen := make(map[string]bool, len(c.Vendors))
	for _, vendor := range c.Vendors {
		if strings.TrimSpace(vendor.VendorID) == "" {
			return fmt.Errorf("vendor_id is required on every vendor")
		}
		if seen[vendor.VendorID] {
			return fmt.Errorf("duplicate vendor_id %q", vendor.VendorID)
		}
		seen[vendor.VendorID] = true
	}
	if c.Merge.Strategy != MergeBestOffer {
		return fmt.Errorf("unsupported merge strategy %q", c.Merge.Strategy)
	}
	if c.Merge.BestOffer == nil {
		return fmt.Errorf("merge.best_offer is required for strategy %q", MergeBestOffer)
	}
	switch c.ErrorPolicy.MissingRequiredVendorPolicy {
	case MissingVendorFail, MissingVendorWarnOnly:
	default:
		return fmt.Errorf("missing_required_vendor_policy must be %q or %q",
			MissingVendorFail, MissingVendorWarnOnly)
	}
	return nil
}
