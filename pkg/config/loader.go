package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadTenantConfig reads a tenant configuration YAML from disk, validates it
// against the embedded schema, applies defaults, and checks invariants.
func LoadTenantConfig(path string) (*TenantConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tenant config %q: %w", path, err)
	}
	return ParseTenantConfig(data)
}

// ParseTenantConfig binds YAML (or JSON, which YAML accepts) bytes to a
// validated TenantConfig.
func ParseTenantConfig(data []byte) (*TenantConfig, error) {
	var cfg TenantConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse tenant config: %w", err)
	}
	cfg.ApplyDefaults()
	if cfg.SchemaVersion != SupportedSchemaVersion {
		return nil, fmt.Errorf("unsupported schema_version %d", cfg.SchemaVersion)
	}

	// Schema validation runs over the JSON rendering so YAML and API input
	// are held to the same contract.
	raw, err := json.Marshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("render tenant config: %w", err)
	}
	if err := ValidateSchemaJSON(raw); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
