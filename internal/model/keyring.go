package model

import (
	"math/big"

	"github.com/google/uuid"
)

// DefaultCountRotation is the generation-op count that triggers a rotation
// when no per-keyring threshold is set, per NIST SP 800-38D usage limits.
var DefaultCountRotation = new(big.Int).Lsh(big.NewInt(1), 32)

// Keyring is the tenant-owned policy object naming one class of key
// material: algorithm family, rotation policy and retention windows.
type Keyring struct {
	AutoTimeModel

	ID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name string    `gorm:"type:varchar(255);not null;uniqueIndex:,expression:lower(name)"`

	// KeyType tags the algorithm family; KeySize is not used by every family.
	KeyType string `gorm:"type:varchar(50);not null"`
	KeySize *int

	// Hash is used to derive the generation-op keys from the stored key
	// material; some families use it during key generation too.
	Hash string `gorm:"type:varchar(20);not null"`

	// PlaintextExport is a write-once security setting.
	PlaintextExport bool `gorm:"not null;default:false"`

	TimeRotation bool `gorm:"not null;default:true"`

	// CountRotation is a big-endian unsigned big integer persisted as raw
	// bytes; the underlying store has no arbitrary-width integer type.
	CountRotation []byte `gorm:"type:bytea"`

	// GenerationVersions counts trailing generations (0-based from the
	// latest) usable for new encryptions; RetrievalVersions counts trailing
	// generations still valid for decryption. Generations beyond
	// max(GenerationVersions, RetrievalVersions) are eligible for pruning.
	GenerationVersions int `gorm:"not null;default:0"`
	RetrievalVersions  int `gorm:"not null;default:2"`

	DataKeys []DataKey `gorm:"foreignKey:KeyringID"`
}

// TableName returns the table name for Keyring
func (Keyring) TableName() string {
	return "keyrings"
}

func (Keyring) IsSharedModel() bool {
	return false
}

// CountRotationInt decodes the raw rotation threshold, falling back to the
// default when unset.
func (k Keyring) CountRotationInt() *big.Int {
	if len(k.CountRotation) == 0 {
		return new(big.Int).Set(DefaultCountRotation)
	}

	return new(big.Int).SetBytes(k.CountRotation)
}

// RetentionWindow is the number of trailing generations that must never be
// pruned.
func (k Keyring) RetentionWindow() int {
	if k.GenerationVersions > k.RetrievalVersions {
		return k.GenerationVersions
	}

	return k.RetrievalVersions
}
