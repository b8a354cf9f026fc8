package kdf_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/kdf"
)

func intPtr(i int) *int { return &i }

func TestNormalizeHash(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    kdf.Hash
		wantErr bool
	}{
		{"plain sha256", "sha256", kdf.SHA256, false},
		{"dashed", "SHA-384", kdf.SHA384, false},
		{"underscored", "sha_512", kdf.SHA512, false},
		{"sha2 prefix", "sha2-256", kdf.SHA256, false},
		{"legacy sha1", "sha-1", kdf.SHA1, false},
		{"padded", "  sha256  ", kdf.SHA256, false},
		{"unknown", "md5", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := kdf.NormalizeHash(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, kdf.ErrUnsupportedHash)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHashSize(t *testing.T) {
	assert.Equal(t, 20, kdf.SHA1.Size())
	assert.Equal(t, 32, kdf.SHA256.Size())
	assert.Equal(t, 48, kdf.SHA384.Size())
	assert.Equal(t, 64, kdf.SHA512.Size())
}

func TestGenerateThenDeriveRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		keyType kdf.KeyType
		hash    string
		keySize *int
	}{
		{"ecdsa p256", kdf.KeyTypeECDSA, "sha256", nil},
		{"ecdh p384", kdf.KeyTypeECDH, "sha384", nil},
		{"rsa 2048", kdf.KeyTypeRSA, "sha256", intPtr(2048)},
		{"ed25519", kdf.KeyTypeOKP, "sha256", nil},
		{"hmac", kdf.KeyTypeHMAC, "sha256", nil},
		{"aes 256", kdf.KeyTypeAES, "sha512", nil},
		{"ml-kem 768", kdf.KeyTypeMLKEM, "sha384", nil},
		{"ml-dsa 65", kdf.KeyTypeMLDSA, "sha384", nil},
		{"slh-dsa 128s", kdf.KeyTypeSLHDSA, "sha256", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair, err := kdf.Generate(tt.keyType, tt.hash, tt.keySize)
			require.NoError(t, err)
			require.NotEmpty(t, pair.Private)

			salt, err := kdf.NewSalt(tt.hash)
			require.NoError(t, err)

			material, err := kdf.Derive(kdf.Params{
				KeyType:     tt.keyType,
				KeySize:     tt.keySize,
				Hash:        tt.hash,
				PrivateKey:  pair.Private,
				PublicKey:   pair.Public,
				Salt:        salt,
				MacInfo:     []byte("mac"),
				BitStrength: 256,
			})
			require.NoError(t, err)

			assert.Len(t, material.EncryptionKey, 32)
			assert.NotEqual(t, material.EncryptionKey, material.MACKey)
		})
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	pair, err := kdf.Generate(kdf.KeyTypeHMAC, "sha256", nil)
	require.NoError(t, err)

	params := kdf.Params{
		KeyType:     kdf.KeyTypeHMAC,
		Hash:        "sha256",
		PrivateKey:  pair.Private,
		Salt:        []byte("fixed-salt"),
		MacInfo:     []byte("mac-info"),
		BitStrength: 128,
	}

	first, err := kdf.Derive(params)
	require.NoError(t, err)

	second, err := kdf.Derive(params)
	require.NoError(t, err)

	assert.Equal(t, first.EncryptionKey, second.EncryptionKey)
	assert.Equal(t, first.MACKey, second.MACKey)
}

func TestDeriveSaltSeparatesKeys(t *testing.T) {
	pair, err := kdf.Generate(kdf.KeyTypeHMAC, "sha256", nil)
	require.NoError(t, err)

	params := kdf.Params{
		KeyType:     kdf.KeyTypeHMAC,
		Hash:        "sha256",
		PrivateKey:  pair.Private,
		Salt:        []byte("salt-one"),
		MacInfo:     []byte("mac-info"),
		BitStrength: 256,
	}

	first, err := kdf.Derive(params)
	require.NoError(t, err)

	params.Salt = []byte("salt-two")

	second, err := kdf.Derive(params)
	require.NoError(t, err)

	assert.NotEqual(t, first.EncryptionKey, second.EncryptionKey)
}

func TestDeriveRejectsBadInput(t *testing.T) {
	pair, err := kdf.Generate(kdf.KeyTypeAES, "sha256", nil)
	require.NoError(t, err)

	t.Run("unknown key type", func(t *testing.T) {
		_, err := kdf.Derive(kdf.Params{
			KeyType:     "DES",
			Hash:        "sha256",
			PrivateKey:  pair.Private,
			BitStrength: 128,
		})
		assert.ErrorIs(t, err, kdf.ErrUnsupportedKeyType)
	})

	t.Run("unknown hash", func(t *testing.T) {
		_, err := kdf.Derive(kdf.Params{
			KeyType:     kdf.KeyTypeAES,
			Hash:        "crc32",
			PrivateKey:  pair.Private,
			BitStrength: 128,
		})
		assert.ErrorIs(t, err, kdf.ErrUnsupportedHash)
	})

	t.Run("bad bit strength", func(t *testing.T) {
		_, err := kdf.Derive(kdf.Params{
			KeyType:     kdf.KeyTypeAES,
			Hash:        "sha256",
			PrivateKey:  pair.Private,
			BitStrength: 100,
		})
		assert.ErrorIs(t, err, kdf.ErrUnsupportedStrength)
		assert.ErrorContains(t, err, "100")
	})

	t.Run("missing private key", func(t *testing.T) {
		_, err := kdf.Derive(kdf.Params{
			KeyType:     kdf.KeyTypeAES,
			Hash:        "sha256",
			BitStrength: 128,
		})
		assert.ErrorIs(t, err, kdf.ErrMissingPrivateKey)
	})
}

func TestGenerateRejectsUnsupportedSizes(t *testing.T) {
	_, err := kdf.Generate(kdf.KeyTypeRSA, "sha256", intPtr(1024))
	assert.ErrorIs(t, err, kdf.ErrUnsupportedKeySize)

	_, err = kdf.Generate(kdf.KeyTypeMLDSA, "sha256", intPtr(99))
	assert.ErrorIs(t, err, kdf.ErrUnsupportedKeySize)

	_, err = kdf.Generate(kdf.KeyTypeSLHDSA, "sha256", intPtr(384))
	assert.ErrorIs(t, err, kdf.ErrUnsupportedKeySize)
}

func TestGenerateSLHDSAParamSets(t *testing.T) {
	tests := []struct {
		hash string
		want string
	}{
		{"sha256", "SLH-DSA-SHA2-128s"},
		{"sha384", "SLH-DSA-SHA2-192s"},
		{"sha512", "SLH-DSA-SHA2-256s"},
	}

	for _, tt := range tests {
		t.Run(tt.hash, func(t *testing.T) {
			pair, err := kdf.Generate(kdf.KeyTypeSLHDSA, tt.hash, nil)
			require.NoError(t, err)

			var jwk struct {
				Crv string `json:"crv"`
			}
			require.NoError(t, json.Unmarshal(pair.Private, &jwk))
			assert.Equal(t, tt.want, jwk.Crv)
		})
	}
}

func TestNewSaltMatchesDigestLength(t *testing.T) {
	salt, err := kdf.NewSalt("sha384")
	require.NoError(t, err)
	assert.Len(t, salt, 48)
}
