// Package engine composes parse, sku remap, merge, and pricing over one
// tenant's vendor inputs. It is pure: no I/O, no clock reads, no goroutines.
// Concurrency and storage live in the worker.
package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/Relay-Inventory/relay-inventory-service/pkg/canonical"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/config"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/merge"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/parsing"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/pricing"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/skumap"
)

// skuMapSuffix distinguishes a vendor's sku-map blob from its inventory blob
// in the engine's input map.
const skuMapSuffix = "::sku_map"

// SkuMapInputKey names the input-map slot for a vendor's sku map bytes.
func SkuMapInputKey(vendorID string) string {
	return vendorID + skuMapSuffix
}

// DecodeError reports vendor bytes that could not be decoded with the
// configured encoding, or an encoding the engine does not support.
type DecodeError struct {
	VendorID string
	Encoding string
	Message  string
}

func (e *DecodeError) Error() string { return e.Message }

// MissingRequiredColumnsError propagates a vendor file whose required
// headers are absent when the tenant's policy fails the run on it.
type MissingRequiredColumnsError struct {
	VendorID string
	Err      *parsing.MissingColumnsError
}

func (e *MissingRequiredColumnsError) Error() string {
	return fmt.Sprintf("vendor %s: %s", e.VendorID, e.Err.Error())
}

func (e *MissingRequiredColumnsError) Unwrap() error { return e.Err }

// Summary aggregates per-run counts for the run report.
type Summary struct {
	RunID              string         `json:"run_id"`
	VendorCount        int            `json:"vendor_count"`
	VendorRecordCounts map[string]int `json:"vendor_record_counts"`
	RecordCount        int            `json:"record_count"`
	InvalidRows        int            `json:"invalid_rows"`
	TotalRows          int            `json:"total_rows"`
}

// Result is the engine's full output for one run.
type Result struct {
	NormalizedByVendor map[string][]map[string]string
	MergedRows         []map[string]string
	Errors             []parsing.ParseError
	Summary            Summary
}

var supportedEncodings = map[string]string{
	"utf-8":      "utf-8",
	"utf8":       "utf-8",
	"latin-1":    "latin-1",
	"iso-8859-1": "latin-1",
	"iso8859-1":  "latin-1",
}

func normalizeEncoding(encoding string) string {
	normalized := strings.ToLower(strings.TrimSpace(encoding))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	if canonicalName, ok := supportedEncodings[normalized]; ok {
		return canonicalName
	}
	return normalized
}

func decodeBytes(raw []byte, encoding, vendorID string) (string, error) {
	switch normalizeEncoding(encoding) {
	case "utf-8":
		if !utf8.Valid(raw) {
			return "", &DecodeError{
				VendorID: vendorID,
				Encoding: encoding,
				Message:  fmt.Sprintf("invalid utf-8 byte sequence in input for vendor %s", vendorID),
			}
		}
		return string(raw), nil
	case "latin-1":
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
		if err != nil {
			return "", &DecodeError{
				VendorID: vendorID,
				Encoding: encoding,
				Message:  fmt.Sprintf("latin-1 decode failed for vendor %s: %v", vendorID, err),
			}
		}
		return string(decoded), nil
	default:
		return "", &DecodeError{
			VendorID: vendorID,
			Encoding: encoding,
			Message:  fmt.Sprintf("unsupported encoding %q for vendor %s", encoding, vendorID),
		}
	}
}

func parseVendorInput(
	vendor config.VendorConfig,
	raw []byte,
	now time.Time,
	cfg *config.TenantConfig,
	inputs map[string][]byte,
) ([]canonical.Record, []parsing.ParseError, error) {
	encoding := vendor.Parser.Encoding
	if encoding == "" {
		encoding = "utf-8"
	}
	text, err := decodeBytes(raw, encoding, vendor.VendorID)
	if err != nil {
		return nil, nil, err
	}

	records, rowErrors, err := parsing.Parse(strings.NewReader(text), parsing.Options{
		VendorID:         vendor.VendorID,
		ColumnMap:        vendor.Parser.ColumnMap,
		DefaultCondition: vendor.Parser.DefaultCondition,
		Now:              now,
	})
	if err != nil {
		var missing *parsing.MissingColumnsError
		if errors.As(err, &missing) {
			if cfg.ErrorPolicy.FailOnMissingRequiredColumns {
				return nil, nil, &MissingRequiredColumnsError{VendorID: vendor.VendorID, Err: missing}
			}
			return nil, []parsing.ParseError{{
				RowNumber: 0,
				Reason:    missing.Error(),
				RowData:   map[string]string{"vendor": vendor.VendorID},
			}}, nil
		}
		return nil, nil, err
	}

	if vendor.SkuMap != nil && (vendor.SkuMap.S3Key != "" || vendor.SkuMap.LocalPath != "") {
		mapBytes, ok := inputs[SkuMapInputKey(vendor.VendorID)]
		if !ok {
			rowErrors = append(rowErrors, parsing.ParseError{
				RowNumber: 0,
				Reason:    "missing sku map",
				RowData:   map[string]string{"vendor": vendor.VendorID},
			})
		} else {
			mapText, err := decodeBytes(mapBytes, encoding, vendor.VendorID)
			if err != nil {
				return nil, nil, err
			}
			table, err := skumap.LoadText(mapText)
			if err != nil {
				return nil, nil, err
			}
			records = table.Apply(records)
		}
	}

	return records, rowErrors, nil
}

// Run executes the full pipeline over all configured vendors.
// inputs maps vendor_id to inventory bytes and SkuMapInputKey(vendor_id) to
// the vendor's sku-map bytes when one is configured.
func Run(
	inputs map[string][]byte,
	cfg *config.TenantConfig,
	runID string,
	now time.Time,
) (*Result, error) {
	normalizedByVendor := make(map[string][]map[string]string, len(cfg.Vendors))
	vendorCounts := make(map[string]int, len(cfg.Vendors))
	var errs []parsing.ParseError
	var allRecords []canonical.Record
	totalRows := 0

	for _, vendor := range cfg.Vendors {
		raw, ok := inputs[vendor.VendorID]
		if !ok {
			errs = append(errs, parsing.ParseError{
				RowNumber: 0,
				Reason:    "missing inbound file",
				RowData:   map[string]string{"vendor": vendor.VendorID},
			})
			normalizedByVendor[vendor.VendorID] = nil
			vendorCounts[vendor.VendorID] = 0
			continue
		}

		records, vendorErrs, err := parseVendorInput(vendor, raw, now, cfg, inputs)
		if err != nil {
			return nil, err
		}
		errs = append(errs, vendorErrs...)
		allRecords = append(allRecords, records...)
		vendorCounts[vendor.VendorID] = len(records)
		totalRows += len(records) + len(vendorErrs)

		rows := make([]map[string]string, 0, len(records))
		for i := range records {
			rows = append(rows, records[i].Row())
		}
		normalizedByVendor[vendor.VendorID] = rows
	}

	if cfg.Merge.Strategy != config.MergeBestOffer || cfg.Merge.BestOffer == nil {
		return nil, fmt.Errorf("unsupported merge strategy %q", cfg.Merge.Strategy)
	}
	merged := merge.BestOffer(allRecords, merge.BestOfferConfig{
		LandedCost: merge.LandedCostConfig{
			IncludeShippingHandling: cfg.Merge.BestOffer.LandedCost.IncludeShippingHandling,
			ShippingHandlingFlat:    cfg.Pricing.ShippingHandlingFlat.Decimal,
		},
		FallbackLeadTimeDays: cfg.Merge.BestOffer.FallbackLeadTimeDays,
	})
	priced := pricing.Apply(merged, pricing.Rules{
		BaseMarginPct:        cfg.Pricing.BaseMarginPct.Decimal,
		MinPrice:             cfg.Pricing.MinPrice.Decimal,
		ShippingHandlingFlat: cfg.Pricing.ShippingHandlingFlat.Decimal,
		MapPolicy: pricing.MapPolicy{
			Enforce:          cfg.Pricing.MapPolicy.Enforce,
			MapFloorBehavior: cfg.Pricing.MapPolicy.MapFloorBehavior,
		},
		Rounding: pricing.RoundingRule{
			Mode:      cfg.Pricing.Rounding.Mode,
			Increment: cfg.Pricing.Rounding.Increment.Decimal,
		},
	})

	mergedRows := make([]map[string]string, 0, len(priced))
	for i := range priced {
		mergedRows = append(mergedRows, priced[i].Row())
	}

	return &Result{
		NormalizedByVendor: normalizedByVendor,
		MergedRows:         mergedRows,
		Errors:             errs,
		Summary: Summary{
			RunID:              runID,
			VendorCount:        len(cfg.Vendors),
			VendorRecordCounts: vendorCounts,
			RecordCount:        len(priced),
			InvalidRows:        len(errs),
			TotalRows:          totalRows,
		},
	}, nil
}
