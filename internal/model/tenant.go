package model

import (
	"time"

	"github.com/google/uuid"
)

// Tenant lives in the root store (public schema). SchemaName pins the tenant
// to a named storage binding; when empty the route derives the dedicated
// binding from the tenant id.
type Tenant struct {
	AutoTimeModel

	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name       string    `gorm:"type:varchar(255);not null;unique"`
	SchemaName string    `gorm:"type:varchar(63)"`

	// VaultURL is the base URL of the tenant's secrets vault. Nil disables
	// vault-backed keyrings for the tenant.
	VaultURL *string `gorm:"type:varchar(255)"`
}

// TableName returns the table name for Tenant
func (Tenant) TableName() string {
	return "tenants"
}

func (Tenant) IsSharedModel() bool {
	return true
}

// TenantAPIKey is the root-store join row used by the first authentication
// tier: it maps an api-key id to its owning tenant and carries the expiry so
// expired keys are rejected before any tenant store is touched.
type TenantAPIKey struct {
	AutoTimeModel

	APIKeyID uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index"`
	Tenant   Tenant    `gorm:"foreignKey:TenantID"`
	Expires  time.Time `gorm:"not null"`
}

func (TenantAPIKey) TableName() string {
	return "tenant_api_keys"
}

func (TenantAPIKey) IsSharedModel() bool {
	return true
}
