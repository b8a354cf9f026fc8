package manager_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/kdf"
	"github.com/keyward/keyward/internal/manager"
	"github.com/keyward/keyward/internal/model"
)

func hashPermissions(allowed bool) auth.Permissions {
	return auth.NewPermissions([]model.APIKeyKeyring{{
		Keyring: model.Keyring{Name: "any"},
		Hash:    allowed,
	}})
}

func TestDigestKnownValue(t *testing.T) {
	hm := manager.NewHashManager()

	digest, err := hm.Digest(hashPermissions(true), "sha256", []byte("Hello world"))
	require.NoError(t, err)
	assert.Equal(t,
		"64ec88ca00b268e5ba1a35678a1b5316d212f4f366b2477232534a8aeca37f3c", digest)
}

func TestDigestAcceptsLegacyAliases(t *testing.T) {
	hm := manager.NewHashManager()

	canonical, err := hm.Digest(hashPermissions(true), "sha-512", []byte("input"))
	require.NoError(t, err)

	alias, err := hm.Digest(hashPermissions(true), "SHA2-512", []byte("input"))
	require.NoError(t, err)
	assert.Equal(t, canonical, alias)
}

func TestDigestRejectsUnknownAlgorithm(t *testing.T) {
	hm := manager.NewHashManager()

	_, err := hm.Digest(hashPermissions(true), "md5", []byte("input"))
	assert.ErrorIs(t, err, kdf.ErrUnsupportedHash)
}

func TestDigestDeniedWithoutGrant(t *testing.T) {
	hm := manager.NewHashManager()

	_, err := hm.Digest(hashPermissions(false), "sha256", []byte("input"))
	assert.ErrorIs(t, err, manager.ErrNotPermitted)
}

func TestDigestReaderMatchesDigest(t *testing.T) {
	hm := manager.NewHashManager()

	direct, err := hm.Digest(hashPermissions(true), "sha384", []byte("streamed content"))
	require.NoError(t, err)

	streamed, err := hm.DigestReader(
		hashPermissions(true), "sha384", bytes.NewReader([]byte("streamed content")))
	require.NoError(t, err)
	assert.Equal(t, direct, streamed)
}
