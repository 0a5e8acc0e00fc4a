// The local-run binary executes the parse, merge, and price pipeline over
// local vendor files, without any AWS dependency. Operators use it to
// preview a tenant config change before dispatching a real run.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Relay-Inventory/relay-inventory-service/pkg/canonical"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/config"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/engine"
)

type vendorFiles map[string]string

func (v vendorFiles) String() string { return fmt.Sprintf("%v", map[string]string(v)) }

func (v vendorFiles) Set(value string) error {
	vendorID, path, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("vendor file must be vendor_id=path")
	}
	v[vendorID] = path
	return nil
}

func main() {
	files := vendorFiles{}
	configPath := flag.String("config", "", "Path to tenant config YAML")
	outputDir := flag.String("output-dir", "outputs", "Directory for generated CSVs")
	flag.Var(files, "vendor-file", "Vendor file mapping (vendor_id=path), repeatable")
	flag.Parse()

	if err := run(*configPath, files, *outputDir); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath string, files vendorFiles, outputDir string) error {
	if configPath == "" {
		return fmt.Errorf("provide -config")
	}
	cfg, err := config.LoadTenantConfig(configPath)
	if err != nil {
		return err
	}

	inputs := map[string][]byte{}
	for _, vendor := range cfg.Vendors {
		path, ok := files[vendor.VendorID]
		if !ok {
			return fmt.Errorf("missing vendor file for %s", vendor.VendorID)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read vendor file %s: %w", path, err)
		}
		inputs[vendor.VendorID] = raw
		if vendor.SkuMap != nil && vendor.SkuMap.LocalPath != "" {
			mapBytes, err := os.ReadFile(vendor.SkuMap.LocalPath)
			if err != nil {
				return fmt.Errorf("read sku map %s: %w", vendor.SkuMap.LocalPath, err)
			}
			inputs[engine.SkuMapInputKey(vendor.VendorID)] = mapBytes
		}
	}

	result, err := engine.Run(inputs, cfg, "local", time.Now().UTC())
	if err != nil {
		return err
	}

	for vendorID, rows := range result.NormalizedByVendor {
		data, err := canonical.EncodeCSV(rows, canonical.Columns, canonical.ExtrasRaise)
		if err != nil {
			return err
		}
		path := filepath.Join(outputDir, "normalized", vendorID+"_normalized.csv")
		if err := writeFile(path, data); err != nil {
			return err
		}
	}

	outputColumns := cfg.Output.Columns
	if len(outputColumns) == 0 {
		outputColumns = canonical.Columns
	}
	merged, err := canonical.EncodeCSV(result.MergedRows, outputColumns, canonical.ExtrasIgnore)
	if err != nil {
		return err
	}
	if err := writeFile(filepath.Join(outputDir, "merged_inventory.csv"), merged); err != nil {
		return err
	}

	fmt.Printf("vendors=%d records=%d invalid_rows=%d total_rows=%d\n",
		result.Summary.VendorCount, result.Summary.RecordCount,
		result.Summary.InvalidRows, result.Summary.TotalRows)
	for _, parseErr := range result.Errors {
		fmt.Printf("row %d: %s\n", parseErr.RowNumber, parseErr.Reason)
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
