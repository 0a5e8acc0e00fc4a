//go:build property
// +build property

// Property-based tests for the deterministic CSV codec.
package canonical_test

import (
	"bytes"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Relay-Inventory/relay-inventory-service/pkg/canonical"
)

func rowsFrom(skus, vendors []string) []map[string]string {
	n := len(skus)
	if len(vendors) < n {
		n = len(vendors)
	}
	rows := make([]map[string]string, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, map[string]string{
			"sku":       skus[i],
			"vendor_id": vendors[i],
		})
	}
	return rows
}

// TestEncodeCSVDeterminismProperty verifies encode(R, F) == encode(R, F) for
// arbitrary row sets.
func TestEncodeCSVDeterminismProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	fields := []string{"sku", "vendor_id"}
	properties.Property("encoding is byte-stable", prop.ForAll(
		func(skus []string, vendors []string) bool {
			rows := rowsFrom(skus, vendors)
			first, err1 := canonical.EncodeCSV(rows, fields, canonical.ExtrasIgnore)
			second, err2 := canonical.EncodeCSV(rows, fields, canonical.ExtrasIgnore)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return bytes.Equal(first, second)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestEncodeCSVSortProperty verifies output rows are (sku, vendor_id)
// ascending whenever vendor_id is in the field set.
func TestEncodeCSVSortProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	fields := []string{"sku", "vendor_id"}
	properties.Property("rows are sorted by (sku, vendor_id)", prop.ForAll(
		func(skus []string, vendors []string) bool {
			rows := rowsFrom(skus, vendors)
			out, err := canonical.EncodeCSV(rows, fields, canonical.ExtrasIgnore)
			if err != nil {
				return false
			}
			decoded, err := canonical.DecodeCSV(out)
			if err != nil {
				return false
			}
			return sort.SliceIsSorted(decoded, func(i, j int) bool {
				if decoded[i]["sku"] != decoded[j]["sku"] {
					return decoded[i]["sku"] < decoded[j]["sku"]
				}
				return decoded[i]["vendor_id"] < decoded[j]["vendor_id"]
			})
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
