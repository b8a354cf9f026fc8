package manager_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/envelope"
	"github.com/keyward/keyward/internal/ident"
	"github.com/keyward/keyward/internal/kdf"
	"github.com/keyward/keyward/internal/manager"
	"github.com/keyward/keyward/internal/model"
	"github.com/keyward/keyward/internal/repo"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	sealed, err := env.crypto.Encrypt(env.ctx, env.permissions, manager.EncryptRequest{
		KeyringName:  env.keyring.Name,
		Algorithm:    envelope.AESGCM,
		BitStrength:  256,
		Plaintext:    []byte("the quick brown fox"),
		OutputFormat: ident.FormatBase64URL,
	})
	require.NoError(t, err)

	plaintext, err := env.crypto.Decrypt(env.ctx, env.permissions, manager.DecryptRequest{
		KeyringName: env.keyring.Name,
		Value:       sealed,
		InputFormat: ident.FormatBase64URL,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("the quick brown fox"), plaintext)
}

func TestEncryptSchedulesCounterIncrement(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.crypto.Encrypt(env.ctx, env.permissions, manager.EncryptRequest{
		KeyringName:  env.keyring.Name,
		Algorithm:    envelope.AESCBC,
		BitStrength:  128,
		Plaintext:    []byte("payload"),
		OutputFormat: ident.FormatHex,
	})
	require.NoError(t, err)

	require.Len(t, env.enqueuer.tasks, 1)
	assert.Equal(t, config.TypeGenerationCountTask, env.enqueuer.tasks[0].Type())
}

func TestEncryptDeniedWithoutGrant(t *testing.T) {
	env := newTestEnv(t)

	restricted := auth.NewPermissions([]model.APIKeyKeyring{{
		KeyringID: env.keyring.ID,
		Keyring:   env.keyring,
		Decrypt:   true,
	}})

	_, err := env.crypto.Encrypt(env.ctx, restricted, manager.EncryptRequest{
		KeyringName:  env.keyring.Name,
		Algorithm:    envelope.AESGCM,
		BitStrength:  256,
		Plaintext:    []byte("payload"),
		OutputFormat: ident.FormatHex,
	})
	assert.ErrorIs(t, err, manager.ErrNotPermitted)

	_, err = env.crypto.Encrypt(env.ctx, env.permissions, manager.EncryptRequest{
		KeyringName:  "unknown keyring",
		Algorithm:    envelope.AESGCM,
		BitStrength:  256,
		Plaintext:    []byte("payload"),
		OutputFormat: ident.FormatHex,
	})
	assert.ErrorIs(t, err, manager.ErrNotPermitted)
}

func TestDecryptRejectsRetiredGeneration(t *testing.T) {
	env := newTestEnv(t)

	sealed, err := env.crypto.Encrypt(env.ctx, env.permissions, manager.EncryptRequest{
		KeyringName:  env.keyring.Name,
		Algorithm:    envelope.AESGCM,
		BitStrength:  256,
		Plaintext:    []byte("payload"),
		OutputFormat: ident.FormatHex,
	})
	require.NoError(t, err)

	// Three newer generations push the sealing one past the retrieval
	// window of two.
	for range 3 {
		env.addGeneration(t)
	}

	_, err = env.crypto.Decrypt(env.ctx, env.permissions, manager.DecryptRequest{
		KeyringName: env.keyring.Name,
		Value:       sealed,
		InputFormat: ident.FormatHex,
	})
	assert.ErrorIs(t, err, manager.ErrGenerationRetired)
}

func TestDecryptRejectsForeignKeyring(t *testing.T) {
	env := newTestEnv(t)

	foreign := model.DataKey{
		ID:              uuid.New(),
		KeyringID:       uuid.New(),
		GenerationCount: []byte{0},
	}
	env.repo.Keys = append(env.repo.Keys, foreign)

	material := kdf.Material{
		EncryptionKey: randomBytes(t, 32),
		MACKey:        randomBytes(t, 32),
		Hash:          kdf.SHA256,
	}

	sealed, err := envelope.Seal(
		ident.FromUUID(foreign.ID), envelope.AESGCM, 256, material, []byte("payload"))
	require.NoError(t, err)

	value, err := sealed.Serialize(ident.FormatHex)
	require.NoError(t, err)

	_, err = env.crypto.Decrypt(env.ctx, env.permissions, manager.DecryptRequest{
		KeyringName: env.keyring.Name,
		Value:       value,
		InputFormat: ident.FormatHex,
	})
	assert.ErrorIs(t, err, manager.ErrWrongKeyring)
}

func TestRewrapMovesToNewestGeneration(t *testing.T) {
	env := newTestEnv(t)

	sealed, err := env.crypto.Encrypt(env.ctx, env.permissions, manager.EncryptRequest{
		KeyringName:  env.keyring.Name,
		Algorithm:    envelope.AESCTR,
		BitStrength:  192,
		Plaintext:    []byte("durable record"),
		OutputFormat: ident.FormatBase64,
	})
	require.NoError(t, err)

	newest := env.addGeneration(t)

	rewrapped, err := env.crypto.Rewrap(env.ctx, env.permissions, manager.DecryptRequest{
		KeyringName: env.keyring.Name,
		Value:       sealed,
		InputFormat: ident.FormatBase64,
	}, ident.FormatBase64)
	require.NoError(t, err)
	require.NotEqual(t, sealed, rewrapped)

	parsed, err := envelope.Parse(rewrapped, ident.FormatBase64)
	require.NoError(t, err)
	assert.Equal(t, newest.ID, parsed.DataKeyID.UUID())

	plaintext, err := env.crypto.Decrypt(env.ctx, env.permissions, manager.DecryptRequest{
		KeyringName: env.keyring.Name,
		Value:       rewrapped,
		InputFormat: ident.FormatBase64,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("durable record"), plaintext)
}

func TestMACIsDeterministicPerInput(t *testing.T) {
	env := newTestEnv(t)

	first, err := env.crypto.MAC(env.ctx, env.permissions, env.keyring.Name, []byte("message"), ident.FormatHex)
	require.NoError(t, err)

	second, err := env.crypto.MAC(env.ctx, env.permissions, env.keyring.Name, []byte("message"), ident.FormatHex)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := env.crypto.MAC(env.ctx, env.permissions, env.keyring.Name, []byte("other"), ident.FormatHex)
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestEncryptSurfacesStoreOutage(t *testing.T) {
	env := newTestEnv(t)

	outage := errors.New("dial tcp: connect: connection refused")
	env.repo.KeyringLookupErr = outage

	// A downed store must not masquerade as a missing keyring.
	_, err := env.crypto.Encrypt(env.ctx, env.permissions, manager.EncryptRequest{
		KeyringName:  env.keyring.Name,
		Algorithm:    envelope.AESGCM,
		BitStrength:  256,
		Plaintext:    []byte("payload"),
		OutputFormat: ident.FormatHex,
	})
	assert.ErrorIs(t, err, outage)
	assert.NotErrorIs(t, err, manager.ErrKeyringNotFound)
}

func TestForTenantSurfacesStoreOutage(t *testing.T) {
	env := newTestEnv(t)

	outage := errors.New("dial tcp: connect: connection refused")
	env.repo.TenantLookupErr = outage

	_, err := env.vaults.ForTenant(env.ctx)
	assert.ErrorIs(t, err, outage)
	assert.NotErrorIs(t, err, repo.ErrTenantNotFound)
}

func TestEncryptFailsWhenGenerationDisabled(t *testing.T) {
	env := newTestEnv(t)

	env.repo.Keys[0].VaultSecretID = nil

	_, err := env.crypto.Encrypt(env.ctx, env.permissions, manager.EncryptRequest{
		KeyringName:  env.keyring.Name,
		Algorithm:    envelope.AESGCM,
		BitStrength:  256,
		Plaintext:    []byte("payload"),
		OutputFormat: ident.FormatHex,
	})
	assert.ErrorIs(t, err, manager.ErrVaultDisabled)
}
