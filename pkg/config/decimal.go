package config

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Decimal wraps shopspring decimal so tenant config documents can carry
// exact money values in both YAML and JSON.
type Decimal struct {
	decimal.Decimal
}

// Dec builds a config decimal from a literal, for tests and defaults.
func Dec(value string) Decimal {
	return Decimal{decimal.RequireFromString(value)}
}

// UnmarshalYAML accepts scalar YAML nodes ("0.2", 0.2, 5).
func (d *Decimal) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("decimal value must be a scalar, got %v", node.Kind)
	}
	parsed, err := decimal.NewFromString(node.Value)
	if err != nil {
		return fmt.Errorf("invalid decimal %q: %w", node.Value, err)
	}
	d.Decimal = parsed
	return nil
}

// MarshalYAML emits the decimal as a plain string scalar.
func (d Decimal) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}
