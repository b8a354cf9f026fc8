package rotation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/ident"
	"github.com/keyward/keyward/internal/kdf"
	"github.com/keyward/keyward/internal/manager"
	"github.com/keyward/keyward/internal/model"
	"github.com/keyward/keyward/internal/repo"
	"github.com/keyward/keyward/internal/rotation"
	"github.com/keyward/keyward/test/testutils"
	"github.com/keyward/keyward/utils/base62"
	kwcontext "github.com/keyward/keyward/utils/context"
)

// fastRetries keeps the fixed-window retry delays out of test runtime.
var fastRetries = config.Rotation{
	StoreRetryWindow: time.Millisecond,
	VaultRetryWindow: time.Millisecond,
	StoreAttempts:    2,
	VaultAttempts:    2,
}

type rotationEnv struct {
	repo    *testutils.FakeRepo
	vault   *testutils.FakeVault
	vaults  *manager.VaultProvider
	engine  *rotation.Engine
	tenant  model.Tenant
	keyring model.Keyring
}

func newRotationEnv(t *testing.T) *rotationEnv {
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
		ID:      uuid.New(),
		Name:    "payments",
		KeyType: string(kdf.KeyTypeAES),
		Hash:    "sha256",
	}

	r := &testutils.FakeRepo{Tenant: tenant, Keyrings: []model.Keyring{keyring}}

	vaults := manager.NewVaultProvider(config.Vault{
		IdentityURL: fv.Identity.URL,
		APIURL:      fv.API.URL,
		AccessToken: commoncfg.SourceRef{
			Source: commoncfg.EmbeddedSourceValue,
			Value:  accessToken,
		},
	}, r)

	return &rotationEnv{
		repo:    r,
		vault:   fv,
		vaults:  vaults,
		engine:  rotation.New(r, vaults, fastRetries),
		tenant:  tenant,
		keyring: keyring,
	}
}

func TestRotateProducesNewGeneration(t *testing.T) {
	env := newRotationEnv(t)

	dataKeyID, err := env.engine.Rotate(t.Context(), env.tenant.ID.String(), env.keyring.ID.String())
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, dataKeyID)

	require.Len(t, env.repo.Keys, 1)
	dataKey := env.repo.Keys[0]
	assert.Equal(t, dataKeyID, dataKey.ID)
	assert.Equal(t, env.keyring.ID, dataKey.KeyringID)
	assert.Equal(t, []byte{0}, dataKey.GenerationCount)
	require.NotNil(t, dataKey.VaultSecretID)

	// The uploaded secret holds an encrypted private JWK plus a note
	// carrying the public derivation parameters.
	require.Len(t, env.vault.Secrets, 1)

	require.Len(t, env.repo.Workflows, 1)
	wf := env.repo.Workflows[0]
	assert.Equal(t, rotation.StepDone, wf.Step)
	assert.Equal(t, env.tenant.SchemaName, wf.SchemaName)
	assert.NotEmpty(t, wf.Salt)
	assert.NotEmpty(t, wf.PrivateJWK)
}

func TestRotatedGenerationDerivesWorkingKeys(t *testing.T) {
	env := newRotationEnv(t)

	ctx := t.Context()

	_, err := env.engine.Rotate(ctx, env.tenant.ID.String(), env.keyring.ID.String())
	require.NoError(t, err)

	dataKey := env.repo.Keys[0]

	client, err := env.vaults.ForTenant(tenantContext(ctx, env.tenant))
	require.NoError(t, err)

	secret, err := client.GetSecret(ctx, *dataKey.VaultSecretID)
	require.NoError(t, err)

	publicKey, salt, macInfo, err := manager.DecodeSecretNote(secret.Note)
	require.NoError(t, err)

	material, err := kdf.Derive(kdf.Params{
		KeyType:     kdf.KeyType(env.keyring.KeyType),
		Hash:        env.keyring.Hash,
		PrivateKey:  []byte(secret.Value),
		PublicKey:   publicKey,
		Salt:        salt,
		MacInfo:     macInfo,
		BitStrength: 256,
	})
	require.NoError(t, err)
	assert.Len(t, material.EncryptionKey, 32)
}

func TestRotateAcceptsAlternateIdentifierShapes(t *testing.T) {
	env := newRotationEnv(t)

	tenantID := ident.FromUUID(env.tenant.ID).Base64URL()
	keyringID := ident.FromUUID(env.keyring.ID).Hex()

	_, err := env.engine.Rotate(t.Context(), tenantID, keyringID)
	require.NoError(t, err)
	assert.Len(t, env.repo.Keys, 1)
}

func TestRotateRejectsMalformedPayload(t *testing.T) {
	env := newRotationEnv(t)

	_, err := env.engine.Rotate(t.Context(), "not an id", env.keyring.ID.String())
	assert.ErrorIs(t, err, ident.ErrInvalidIdentifier)
	assert.Empty(t, env.repo.Workflows)
}

func TestRotateFailsTerminallyOnMissingKeyring(t *testing.T) {
	env := newRotationEnv(t)

	_, err := env.engine.Rotate(t.Context(), env.tenant.ID.String(), uuid.NewString())
	require.ErrorIs(t, err, rotation.ErrStepFailed)
	require.ErrorIs(t, err, repo.ErrNotFound)

	require.Len(t, env.repo.Workflows, 1)
	wf := env.repo.Workflows[0]
	assert.Equal(t, rotation.StepFailed, wf.Step)
	assert.NotEmpty(t, wf.FailureReason)
	assert.Empty(t, env.repo.Keys)
}

func TestRotateFailsTerminallyOnUnsupportedKeyType(t *testing.T) {
	env := newRotationEnv(t)

	env.repo.Keyrings[0].KeyType = "ROT13"

	_, err := env.engine.Rotate(t.Context(), env.tenant.ID.String(), env.keyring.ID.String())
	require.ErrorIs(t, err, kdf.ErrUnsupportedKeyType)

	wf := env.repo.Workflows[0]
	assert.Equal(t, rotation.StepFailed, wf.Step)
}

func TestRotateDerivesDedicatedSchemaBinding(t *testing.T) {
	env := newRotationEnv(t)

	// No pinned schema on the tenant row: the route resolves to the
	// dedicated binding derived from the tenant id.
	env.repo.Tenant.SchemaName = ""

	_, err := env.engine.Rotate(t.Context(), env.tenant.ID.String(), env.keyring.ID.String())
	require.NoError(t, err)

	want, err := base62.EncodeSchemaNameBase62(env.tenant.ID.String())
	require.NoError(t, err)

	require.Len(t, env.repo.Workflows, 1)
	assert.Equal(t, want, env.repo.Workflows[0].SchemaName)
}

func TestRotateResumesAfterTransientStoreOutage(t *testing.T) {
	env := newRotationEnv(t)

	env.repo.TenantLookupErr = errors.New("dial tcp: connect: connection refused")

	_, err := env.engine.Rotate(t.Context(), env.tenant.ID.String(), env.keyring.ID.String())
	require.ErrorIs(t, err, rotation.ErrStepFailed)

	// The outage must not close the workflow: the step stays pending so a
	// redelivery can pick the checkpoint back up.
	require.Len(t, env.repo.Workflows, 1)
	wf := env.repo.Workflows[0]
	assert.Equal(t, rotation.StepResolveTenantRoute, wf.Step)
	assert.False(t, wf.Finished())
	assert.NotEmpty(t, wf.FailureReason)

	env.repo.TenantLookupErr = nil

	dataKeyID, err := env.engine.Rotate(t.Context(), env.tenant.ID.String(), env.keyring.ID.String())
	require.NoError(t, err)

	// The redelivery re-entered the checkpoint instead of forking a
	// second workflow row.
	require.Len(t, env.repo.Workflows, 1)
	assert.Equal(t, rotation.StepDone, env.repo.Workflows[0].Step)
	require.Len(t, env.repo.Keys, 1)
	assert.Equal(t, dataKeyID, env.repo.Keys[0].ID)
}

func TestResumeReentersCheckpointedWorkflow(t *testing.T) {
	env := newRotationEnv(t)

	// A crashed run checkpointed right before the vault upload.
	dataKeyID := uuid.New()
	pair, err := kdf.Generate(kdf.KeyTypeAES, "sha256", nil)
	require.NoError(t, err)

	salt, err := kdf.NewSalt("sha256")
	require.NoError(t, err)

	wf := model.RotationWorkflow{
		ID:         uuid.New(),
		TenantID:   env.tenant.ID,
		KeyringID:  env.keyring.ID,
		Step:       rotation.StepUploadToVault,
		SchemaName: env.tenant.SchemaName,
		Salt:       salt,
		MacInfo:    testutils.RandomBytes(t, 16),
		PrivateJWK: pair.Private,
		PublicJWK:  pair.Public,
		DataKeyID:  &dataKeyID,
	}
	env.repo.Workflows = append(env.repo.Workflows, wf)

	require.NoError(t, env.engine.Resume(t.Context(), wf.ID))

	require.Len(t, env.repo.Keys, 1)
	assert.Equal(t, dataKeyID, env.repo.Keys[0].ID)
	assert.Equal(t, rotation.StepDone, env.repo.Workflows[0].Step)
	assert.Len(t, env.vault.Secrets, 1)
}

func TestResumeRejectsFinishedWorkflow(t *testing.T) {
	env := newRotationEnv(t)

	wf := model.RotationWorkflow{
		ID:        uuid.New(),
		TenantID:  env.tenant.ID,
		KeyringID: env.keyring.ID,
		Step:      rotation.StepDone,
	}
	env.repo.Workflows = append(env.repo.Workflows, wf)

	err := env.engine.Resume(t.Context(), wf.ID)
	assert.ErrorIs(t, err, rotation.ErrWorkflowFinished)

	err = env.engine.Resume(t.Context(), uuid.New())
	assert.ErrorIs(t, err, rotation.ErrWorkflowNotFound)
}

func TestRecordDataKeyTolerantOfResumeReplay(t *testing.T) {
	env := newRotationEnv(t)

	// The data key row already exists: the crash happened between the
	// insert and the final checkpoint.
	dataKeyID := uuid.New()
	secretID := uuid.New()
	env.repo.Keys = []model.DataKey{{
		ID:              dataKeyID,
		KeyringID:       env.keyring.ID,
		VaultSecretID:   &secretID,
		GenerationCount: []byte{0},
	}}

	wf := model.RotationWorkflow{
		ID:            uuid.New(),
		TenantID:      env.tenant.ID,
		KeyringID:     env.keyring.ID,
		Step:          rotation.StepRecordDataKey,
		SchemaName:    env.tenant.SchemaName,
		DataKeyID:     &dataKeyID,
		VaultSecretID: &secretID,
	}
	env.repo.Workflows = append(env.repo.Workflows, wf)

	require.NoError(t, env.engine.Resume(t.Context(), wf.ID))
	assert.Len(t, env.repo.Keys, 1)
	assert.Equal(t, rotation.StepDone, env.repo.Workflows[0].Step)
}

func tenantContext(ctx context.Context, tenant model.Tenant) context.Context {
	return kwcontext.CreateTenantContext(ctx, tenant.ID.String())
}
