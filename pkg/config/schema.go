package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed tenant_schema.json
var tenantSchemaJSON []byte

var tenantSchema = mustCompileTenantSchema()

func mustCompileTenantSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tenant-config-v1.json", bytes.NewReader(tenantSchemaJSON)); err != nil {
		panic(fmt.Sprintf("tenant schema resource: %v", err))
	}
	schema, err := compiler.Compile("tenant-config-v1.json")
	if err != nil {
		panic(fmt.Sprintf("tenant schema compile: %v", err))
	}
	return schema
}

// ValidateSchema checks a config document against the embedded JSON schema.
// ParseTenantConfig calls it on the JSON rendering of the already bound and
// defaulted TenantConfig.
func ValidateSchema(doc any) error {
	if err := tenantSchema.Validate(doc); err != nil {
		return fmt.Errorf("tenant config schema: %w", err)
	}
	return nil
}

// ValidateSchemaJSON validates a JSON-encoded config document.
func ValidateSchemaJSON(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("tenant config is not valid JSON: %w", err)
	}
	return ValidateSchema(doc)
}
