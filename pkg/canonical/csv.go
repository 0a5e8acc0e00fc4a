package canonical

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// InstantFormat is the serialized form of every instant column: RFC 3339
// seconds precision, always UTC with the Z suffix.
const InstantFormat = "2006-01-02T15:04:05Z"

// ExtrasAction controls how the encoder treats row keys outside the field set.
type ExtrasAction string

const (
	// ExtrasRaise fails encoding when a row carries an unknown key.
	ExtrasRaise ExtrasAction = "raise"
	// ExtrasIgnore silently drops unknown keys.
	ExtrasIgnore ExtrasAction = "ignore"
)

// decimalColumns and instantColumns name the typed canonical fields the
// encoder normalizes. Values that do not parse are passed through unchanged.
var decimalColumns = map[string]bool{
	"cost":      true,
	"map_price": true,
	"price":     true,
	"msrp":      true,
}

var instantColumns = map[string]bool{
	"updated_at": true,
}

// instantParseLayouts are the accepted input forms for instant cells, tried
// in order. Naive instants are taken as UTC.
var instantParseLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// EncodeCSV renders rows to deterministic CSV bytes: header first, decimal
// columns at scale 2 (half-up), instant columns as UTC RFC 3339 with Z,
// rows sorted by (sku, vendor_id) when vendor_id is in the field set and by
// sku alone otherwise, RFC 4180 minimal quoting, \n line endings.
// Encoding the same logical rows twice yields byte-identical output.
func EncodeCSV(rows []map[string]string, fields []string, extras ExtrasAction) ([]byte, error) {
	fieldSet := make(map[string]bool, len(fields))
	for _, field := range fields {
		fieldSet[field] = true
	}

	normalized := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		if extras == ExtrasRaise {
			for key := range row {
				if !fieldSet[key] {
					return nil, fmt.Errorf("row contains field not in field list: %q", key)
				}
			}
		}
		out := make(map[string]string, len(fields))
		for _, field := range fields {
			out[field] = normalizeCell(field, row[field])
		}
		normalized = append(normalized, out)
	}

	withVendor := fieldSet["vendor_id"]
	sort.SliceStable(normalized, func(i, j int) bool {
		if normalized[i]["sku"] != normalized[j]["sku"] {
			return normalized[i]["sku"] < normalized[j]["sku"]
		}
		if withVendor {
			return normalized[i]["vendor_id"] < normalized[j]["vendor_id"]
		}
		return false
	})

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(fields); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	cells := make([]string, len(fields))
	for _, row := range normalized {
		for i, field := range fields {
			cells[i] = row[field]
		}
		if err := writer.Write(cells); err != nil {
			return nil, fmt.Errorf("write row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeCSV reads encoder output (or any headed CSV) into string-valued row
// maps keyed by the header.
func DecodeCSV(data []byte) ([]map[string]string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	var rows []map[string]string
	for {
		cells, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		row := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(cells) {
				row[name] = cells[i]
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func normalizeCell(field, value string) string {
	switch {
	case decimalColumns[field]:
		return normalizeDecimalCell(value)
	case instantColumns[field]:
		return normalizeInstantCell(value)
	default:
		return value
	}
}

func normalizeDecimalCell(value string) string {
	if value == "" {
		return value
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return value
	}
	return parsed.StringFixed(2)
}

func normalizeInstantCell(value string) string {
	if value == "" {
		return value
	}
	for _, layout := range instantParseLayouts {
		parsed, err := time.ParseInLocation(layout, value, time.UTC)
		if err == nil {
			return parsed.UTC().Format(InstantFormat)
		}
	}
	return value
}
