package model

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// DataKey is one generation of key material under a keyring. The secret
// bytes live only in the external vault; the row holds the reference and the
// usage counter.
type DataKey struct {
	AutoTimeModel

	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	KeyringID uuid.UUID `gorm:"type:uuid;not null;index"`
	Keyring   Keyring   `gorm:"foreignKey:KeyringID"`

	// VaultSecretID references the vault secret holding the private
	// material. Nil means the generation is disabled.
	VaultSecretID *uuid.UUID `gorm:"type:uuid;unique"`

	// GenerationCount is a monotonic usage counter stored as big-endian raw
	// bytes. Concurrent increments can lose updates; the store offers no
	// multi-statement transactions for this path and the counter is a
	// rotation heuristic, not an exact ledger.
	GenerationCount []byte `gorm:"type:bytea;not null"`

	LastUsed *time.Time
}

// TableName returns the table name for DataKey
func (DataKey) TableName() string {
	return "datakeys"
}

func (DataKey) IsSharedModel() bool {
	return false
}

// GenerationCountInt decodes the raw counter; empty bytes decode to zero.
func (d DataKey) GenerationCountInt() *big.Int {
	return new(big.Int).SetBytes(d.GenerationCount)
}

// EncodeGenerationCount renders a counter value back to its raw-byte form.
// Zero encodes as a single zero byte so the column stays non-null.
func EncodeGenerationCount(v *big.Int) []byte {
	if v == nil || v.Sign() == 0 {
		return []byte{0}
	}

	return v.Bytes()
}
