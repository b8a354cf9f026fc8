package manager_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/kdf"
	"github.com/keyward/keyward/internal/manager"
	"github.com/keyward/keyward/internal/model"
	"github.com/keyward/keyward/test/testutils"
	kwcontext "github.com/keyward/keyward/utils/context"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	return testutils.RandomBytes(t, n)
}

type recordingEnqueuer struct {
	tasks []*asynq.Task
}

func (r *recordingEnqueuer) EnqueueTask(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{ID: uuid.NewString()}, nil
}

// testEnv wires a crypto manager against the fake vault and repo with one
// keyring holding one vault-backed generation.
type testEnv struct {
	ctx         context.Context
	repo        *testutils.FakeRepo
	vault       *testutils.FakeVault
	vaults      *manager.VaultProvider
	enqueuer    *recordingEnqueuer
	crypto      *manager.CryptoManager
	keyring     model.Keyring
	dataKey     model.DataKey
	permissions auth.Permissions
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	accessToken := testutils.MintAccessToken(t)
	fv := testutils.NewFakeVault(t, accessToken)

	tenant := model.Tenant{
		ID:         uuid.New(),
		Name:       "acme",
		SchemaName: "tenant_acme",
		VaultURL:   &fv.API.URL,
	}

	keyring := model.Keyring{
		ID:                uuid.New(),
		Name:              "payments",
		KeyType:           string(kdf.KeyTypeHMAC),
		Hash:              "sha256",
		RetrievalVersions: 2,
	}

	env := &testEnv{
		ctx:     kwcontext.CreateTenantContext(t.Context(), tenant.ID.String()),
		vault:   fv,
		keyring: keyring,
	}

	env.repo = &testutils.FakeRepo{Tenant: tenant, Keyrings: []model.Keyring{keyring}}

	env.vaults = manager.NewVaultProvider(config.Vault{
		IdentityURL: fv.Identity.URL,
		APIURL:      fv.API.URL,
		AccessToken: commoncfg.SourceRef{
			Source: commoncfg.EmbeddedSourceValue,
			Value:  accessToken,
		},
	}, env.repo)

	env.dataKey = env.addGeneration(t)

	env.enqueuer = &recordingEnqueuer{}
	env.crypto = manager.NewCryptoManager(env.repo, env.vaults, env.enqueuer)

	env.permissions = auth.NewPermissions([]model.APIKeyKeyring{{
		APIKeyID:  uuid.New(),
		KeyringID: keyring.ID,
		Keyring:   keyring,
		Encrypt:   true,
		Decrypt:   true,
		Rewrap:    true,
		HMAC:      true,
		Random:    true,
		Hash:      true,
	}})

	return env
}

// addGeneration uploads fresh key material and prepends the resulting data
// key, making it the keyring's newest generation.
func (env *testEnv) addGeneration(t *testing.T) model.DataKey {
	t.Helper()

	pair, err := kdf.Generate(kdf.KeyType(env.keyring.KeyType), env.keyring.Hash, env.keyring.KeySize)
	require.NoError(t, err)

	salt, err := kdf.NewSalt(env.keyring.Hash)
	require.NoError(t, err)

	note, err := manager.EncodeSecretNote(pair.Public, salt, randomBytes(t, 16))
	require.NoError(t, err)

	client, err := env.vaults.ForTenant(env.ctx)
	require.NoError(t, err)

	id := uuid.New()

	secretID, err := client.CreateSecret(env.ctx,
		env.repo.Tenant.ID.String()+"/"+env.keyring.ID.String()+"/"+id.String(),
		string(pair.Private), note)
	require.NoError(t, err)

	key := model.DataKey{
		ID:              id,
		KeyringID:       env.keyring.ID,
		VaultSecretID:   &secretID,
		GenerationCount: []byte{0},
	}

	env.repo.Keys = append([]model.DataKey{key}, env.repo.Keys...)

	return key
}
