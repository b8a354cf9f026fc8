package model_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/keyward/keyward/internal/model"
)

func TestKeyringTable(t *testing.T) {
	t.Run("Should have table name keyrings", func(t *testing.T) {
		assert.Equal(t, "keyrings", model.Keyring{}.TableName())
	})

	t.Run("Should be a tenant table", func(t *testing.T) {
		assert.False(t, model.Keyring{}.IsSharedModel())
	})
}

func TestCountRotationDefault(t *testing.T) {
	k := model.Keyring{}

	assert.Zero(t, k.CountRotationInt().Cmp(new(big.Int).Lsh(big.NewInt(1), 32)))
}

func TestCountRotationDecodesRawBytes(t *testing.T) {
	k := model.Keyring{CountRotation: []byte{0x01, 0x00}}

	assert.Equal(t, int64(256), k.CountRotationInt().Int64())
}

func TestRetentionWindow(t *testing.T) {
	tests := []struct {
		name       string
		generation int
		retrieval  int
		want       int
	}{
		{"retrieval dominates", 0, 2, 2},
		{"generation dominates", 5, 2, 5},
		{"equal", 3, 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := model.Keyring{
				GenerationVersions: tt.generation,
				RetrievalVersions:  tt.retrieval,
			}

			assert.Equal(t, tt.want, k.RetentionWindow())
		})
	}
}
