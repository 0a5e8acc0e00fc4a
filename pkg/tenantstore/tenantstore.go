// Package tenantstore persists versioned tenant configurations, keyed by
// (tenant_id, config_version). Versions are append-only.
package tenantstore

import (
	"context"

	"github.com/Relay-Inventory/relay-inventory-service/pkg/config"
)

// Record is one immutable tenant config version.
type Record struct {
	TenantID      string
	ConfigVersion int
	Config        config.TenantConfig
}

// Store is the tenant persistence surface. Get and GetLatest return nil when
// the tenant (or version) does not exist.
type Store interface {
	Put(ctx context.Context, record *Record) error
	Get(ctx context.Context, tenantID string, configVersion int) (*Record, error)
	GetLatest(ctx context.Context, tenantID string) (*Record, error)
}
