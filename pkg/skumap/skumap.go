// Package skumap applies tenant-managed vendor_sku to canonical-sku mappings.
package skumap

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/Relay-Inventory/relay-inventory-service/pkg/canonical"
)

// Map is a static vendor_sku -> canonical sku translation table.
type Map struct {
	mapping map[string]string
}

// Len returns the number of mapped SKUs.
func (m *Map) Len() int {
	return len(m.mapping)
}

// Apply rewrites each record's sku through the map, passing unmapped records
// through untouched. Input order is preserved.
func (m *Map) Apply(records []canonical.Record) []canonical.Record {
	out := make([]canonical.Record, 0, len(records))
	for _, record := range records {
		if mapped, ok := m.mapping[record.SKU]; ok && mapped != "" {
			remapped := record.Clone()
			remapped.SKU = mapped
			out = append(out, remapped)
			continue
		}
		out = append(out, record)
	}
	return out
}

// Load reads a two-column CSV (vendor_sku,sku). Rows with an empty side are
// skipped.
func Load(r io.Reader) (*Map, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err == io.EOF {
		return &Map{mapping: map[string]string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sku map header: %w", err)
	}
	vendorIdx, skuIdx := -1, -1
	for i, name := range header {
		switch name {
		case "vendor_sku":
			vendorIdx = i
		case "sku":
			skuIdx = i
		}
	}
	if vendorIdx < 0 || skuIdx < 0 {
		return nil, fmt.Errorf("sku map requires vendor_sku and sku columns")
	}
	mapping := make(map[string]string)
	for {
		cells, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read sku map row: %w", err)
		}
		if vendorIdx >= len(cells) || skuIdx >= len(cells) {
			continue
		}
		vendorSKU := strings.TrimSpace(cells[vendorIdx])
		sku := strings.TrimSpace(cells[skuIdx])
		if vendorSKU != "" && sku != "" {
			mapping[vendorSKU] = sku
		}
	}
	return &Map{mapping: mapping}, nil
}

// LoadText parses sku map content already decoded to a string.
func LoadText(text string) (*Map, error) {
	return Load(strings.NewReader(text))
}
