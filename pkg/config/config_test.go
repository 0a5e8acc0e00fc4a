package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTenantYAML = `
schema_version: 1
tenant_id: tenant-a
timezone: UTC
default_currency: USD
vendors:
  - vendor_id: vendor-a
    required: true
    inbound:
      type: s3
      s3_prefix: vendor-a/
    parser:
      format: csv
      column_map:
        sku: item_number
    sku_map:
      type: s3
      s3_key: maps/vendor-a.csv
  - vendor_id: vendor-b
    inbound:
      type: s3
      s3_prefix: vendor-b/
    parser:
      format: csv
      encoding: latin-1
pricing:
  base_margin_pct: "0.2"
  min_price: "5"
  shipping_handling_flat: "1.50"
  map_policy:
    enforce: true
    map_floor_behavior: max(price, map_price)
  rounding:
    mode: nearest
    increment: "0.01"
merge:
  strategy: best_offer
  best_offer:
    landed_cost:
      include_shipping_handling: true
    fallback_lead_time_days: 5
output:
  format: csv
  columns: [sku, quantity_available, price]
error_policy:
  max_invalid_rows: 2
  max_invalid_row_pct: 0.5
  fail_on_missing_required_columns: true
  missing_required_vendor_policy: warn_only
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenant_config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTenantConfig(t *testing.T) {
	cfg, err := LoadTenantConfig(writeTempConfig(t, sampleTenantYAML))
	require.NoError(t, err)

	assert.Equal(t, "tenant-a", cfg.TenantID)
	require.Len(t, cfg.Vendors, 2)
	assert.True(t, cfg.Vendors[0].Required)
	assert.Equal(t, "item_number", cfg.Vendors[0].Parser.ColumnMap["sku"])
	assert.Equal(t, "maps/vendor-a.csv", cfg.Vendors[0].SkuMap.S3Key)
	assert.Equal(t, "latin-1", cfg.Vendors[1].Parser.Encoding)
	assert.Equal(t, "0.2", cfg.Pricing.BaseMarginPct.String())
	assert.Equal(t, "1.5", cfg.Pricing.ShippingHandlingFlat.String())
	assert.Equal(t, 5, cfg.Merge.BestOffer.FallbackLeadTimeDays)
	assert.Equal(t, 2, cfg.ErrorPolicy.MaxInvalidRows)
	assert.Equal(t, MissingVendorWarnOnly, cfg.ErrorPolicy.MissingRequiredVendorPolicy)
}

func TestLoadTenantConfigDefaults(t *testing.T) {
	cfg, err := LoadTenantConfig(writeTempConfig(t, sampleTenantYAML))
	require.NoError(t, err)
	// vendor-a omitted encoding; default fills it.
	assert.Equal(t, "utf-8", cfg.Vendors[0].Parser.Encoding)
	assert.Equal(t, ",", cfg.Vendors[0].Parser.Delimiter)
}

func TestLoadTenantConfigRejectsWrongSchemaVersion(t *testing.T) {
	content := "schema_version: 2\ntenant_id: t\n"
	_, err := LoadTenantConfig(writeTempConfig(t, content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported schema_version")
}

func TestParseTenantConfigSchemaViolations(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(string) string
	}{
		{"bad merge strategy", func(doc string) string {
			return replaceOnce(doc, "strategy: best_offer", "strategy: take_all")
		}},
		{"bad vendor policy", func(doc string) string {
			return replaceOnce(doc, "missing_required_vendor_policy: warn_only",
				"missing_required_vendor_policy: shrug")
		}},
		{"bad condition default", func(doc string) string {
			return replaceOnce(doc, "format: csv\n      encoding: latin-1",
				"format: csv\n      default_condition: pristine")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTenantConfig([]byte(tc.mutate(sampleTenantYAML)))
			assert.Error(t, err)
		})
	}
}

func TestParseTenantConfigRejectsDuplicateVendors(t *testing.T) {
	doc := replaceOnce(sampleTenantYAML, "vendor_id: vendor-b", "vendor_id: vendor-a")
	_, err := ParseTenantConfig([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate vendor_id")
}

func replaceOnce(doc, old, new string) string {
	if !strings.Contains(doc, old) {
		panic("fixture fragment not found: " + old)
	}
	return strings.Replace(doc, old, new, 1)
}
