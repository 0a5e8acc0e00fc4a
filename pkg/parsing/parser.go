// Package parsing maps vendor CSV files onto canonical inventory records.
// Rows that fail coercion are collected as ParseErrors instead of aborting
// the file; only missing required headers fail the whole file.
package parsing

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Relay-Inventory/relay-inventory-service/pkg/canonical"
)

// ParseError describes one rejected input row. RowNumber is 1-based with the
// header as row 1, so the first data row is 2. Whole-file errors use row 0.
type ParseError struct {
	RowNumber int               `json:"row_number"`
	Reason    string            `json:"reason"`
	RowData   map[string]string `json:"row_data"`
}

// MissingColumnsError reports required source headers absent from a vendor
// file. Its message always carries the "missing columns:" marker the engine
// dispatches on.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing columns: %s", strings.Join(e.Columns, ", "))
}

// Options configure one vendor's parse.
type Options struct {
	VendorID string
	// ColumnMap maps canonical field names to source headers. Unmapped
	// fields default to the canonical name itself.
	ColumnMap map[string]string
	// DefaultCondition fills the condition field when the source omits it.
	DefaultCondition string
	// Now stamps records whose source has no updated_at value.
	Now time.Time
}

func (o Options) source(field string) string {
	if mapped, ok := o.ColumnMap[field]; ok && mapped != "" {
		return mapped
	}
	return field
}

// Parse reads a decoded CSV stream and returns the records that coerced
// cleanly plus one ParseError per rejected row.
func Parse(r io.Reader, opts Options) ([]canonical.Record, []ParseError, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, &MissingColumnsError{Columns: requiredSources(opts)}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	headerIndex := make(map[string]int, len(header))
	for i, name := range header {
		headerIndex[name] = i
	}

	var missing []string
	for _, source := range requiredSources(opts) {
		if _, ok := headerIndex[source]; !ok {
			missing = append(missing, source)
		}
	}
	if len(missing) > 0 {
		return nil, nil, &MissingColumnsError{Columns: missing}
	}

	var records []canonical.Record
	var errs []ParseError
	rowNumber := 1
	for {
		cells, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNumber++
		if err != nil {
			errs = append(errs, ParseError{
				RowNumber: rowNumber,
				Reason:    err.Error(),
				RowData:   map[string]string{},
			})
			continue
		}
		row := rowMap(header, cells)
		record, err := coerceRow(row, opts)
		if err != nil {
			errs = append(errs, ParseError{RowNumber: rowNumber, Reason: err.Error(), RowData: row})
			continue
		}
		records = append(records, record)
	}
	return records, errs, nil
}

func requiredSources(opts Options) []string {
	return []string{opts.source("sku"), opts.source("quantity_available")}
}

func rowMap(header, cells []string) map[string]string {
	row := make(map[string]string, len(header))
	for i, name := range header {
		if i < len(cells) {
			row[name] = cells[i]
		} else {
			row[name] = ""
		}
	}
	return row
}

func coerceRow(row map[string]string, opts Options) (canonical.Record, error) {
	get := func(field string) string {
		return row[opts.source(field)]
	}

	quantity, err := parseInt(get("quantity_available"))
	if err != nil {
		return canonical.Record{}, err
	}
	leadTime, err := parseInt(get("lead_time_days"))
	if err != nil {
		return canonical.Record{}, err
	}
	cost, err := parseDecimal(get("cost"))
	if err != nil {
		return canonical.Record{}, err
	}
	mapPrice, err := parseDecimal(get("map_price"))
	if err != nil {
		return canonical.Record{}, err
	}
	msrp, err := parseDecimal(get("msrp"))
	if err != nil {
		return canonical.Record{}, err
	}
	price, err := parseDecimal(get("price"))
	if err != nil {
		return canonical.Record{}, err
	}
	updatedAt, err := parseInstant(get("updated_at"))
	if err != nil {
		return canonical.Record{}, err
	}

	record := canonical.Record{
		SKU:          get("sku"),
		VendorID:     opts.VendorID,
		Cost:         cost,
		MAPPrice:     mapPrice,
		MSRP:         msrp,
		LeadTimeDays: leadTime,
		UpdatedAt:    opts.Now,
	}
	if quantity != nil {
		record.QuantityAvailable = *quantity
	}
	if price != nil {
		record.Price = *price
	} else {
		record.Price = decimal.Zero
	}
	if vendorSKU := get("vendor_sku"); vendorSKU != "" {
		record.VendorSKU = &vendorSKU
	}
	condition := get("condition")
	if condition == "" {
		condition = opts.DefaultCondition
	}
	if condition != "" {
		record.Condition = &condition
	}
	if brand := get("brand"); brand != "" {
		record.Brand = &brand
	}
	if title := get("title"); title != "" {
		record.Title = &title
	}
	if updatedAt != nil {
		record.UpdatedAt = *updatedAt
	}
	if err := record.Validate(); err != nil {
		return canonical.Record{}, err
	}
	return record, nil
}

func parseDecimal(value string) (*decimal.Decimal, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid decimal: %s", value)
	}
	return &parsed, nil
}

func parseInt(value string) (*int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid int: %s", value)
	}
	return &parsed, nil
}

var instantLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006-01-02T15:04:05",
}

func parseInstant(value string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	for _, layout := range instantLayouts {
		parsed, err := time.ParseInLocation(layout, trimmed, time.UTC)
		if err == nil {
			return &parsed, nil
		}
	}
	return nil, fmt.Errorf("invalid datetime: %s", value)
}
