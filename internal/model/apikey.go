package model

import (
	"time"

	"github.com/google/uuid"
)

// APIKey is the tenant-store record of a bearer credential. Only the digest
// of the secret is stored; the digest algorithm is selected by the token
// version prefix.
type APIKey struct {
	AutoTimeModel

	ID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name    string    `gorm:"type:varchar(255);not null;uniqueIndex:,expression:lower(name)"`
	Hash    []byte    `gorm:"type:bytea;not null;unique"`
	Expires time.Time `gorm:"not null"`

	LastUsed             *time.Time
	PermissionsChangedAt *time.Time

	Keyrings []APIKeyKeyring `gorm:"foreignKey:APIKeyID"`
}

// TableName returns the table name for APIKey
func (APIKey) TableName() string {
	return "api_keys"
}

func (APIKey) IsSharedModel() bool {
	return false
}

// APIKeyKeyring grants one api key a set of capabilities on one keyring.
// The keyring reference is soft: a grant for a deleted keyring is a
// tolerated but meaningless record.
type APIKeyKeyring struct {
	AutoTimeModel

	APIKeyID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	KeyringID uuid.UUID `gorm:"type:uuid;primaryKey"`
	Keyring   Keyring   `gorm:"foreignKey:KeyringID"`

	Encrypt bool `gorm:"not null;default:true"`
	Decrypt bool `gorm:"not null;default:false"`
	Rewrap  bool `gorm:"not null;default:true"`
	Sign    bool `gorm:"not null;default:true"`
	Verify  bool `gorm:"not null;default:true"`
	HMAC    bool `gorm:"not null;default:true"`
	Random  bool `gorm:"not null;default:true"`
	Hash    bool `gorm:"not null;default:true"`
}

// TableName returns the table name for APIKeyKeyring
func (APIKeyKeyring) TableName() string {
	return "api_keys_keyrings"
}

func (APIKeyKeyring) IsSharedModel() bool {
	return false
}
