package manager

import (
	"context"
	"crypto/hmac"
	"errors"
	"math/big"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/keyward/keyward/internal/async/tasks"
	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/envelope"
	"github.com/keyward/keyward/internal/errs"
	"github.com/keyward/keyward/internal/ident"
	"github.com/keyward/keyward/internal/kdf"
	"github.com/keyward/keyward/internal/log"
	"github.com/keyward/keyward/internal/model"
	"github.com/keyward/keyward/internal/repo"
	kwcontext "github.com/keyward/keyward/utils/context"
)

var (
	ErrNotPermitted      = errors.New("operation not permitted on keyring")
	ErrKeyringNotFound   = errors.New("keyring not found")
	ErrNoDataKey         = errors.New("keyring has no key generation")
	ErrGenerationRetired = errors.New("data key generation retired")
	ErrWrongKeyring      = errors.New("data key does not belong to keyring")
)

// TaskEnqueuer schedules background work. Nil disables best-effort side
// effects such as the usage counter increment.
type TaskEnqueuer interface {
	EnqueueTask(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// CryptoManager performs the envelope operations. Keys are derived fresh
// per call and never cached across requests.
type CryptoManager struct {
	repo     repo.Repo
	vaults   *VaultProvider
	enqueuer TaskEnqueuer
}

func NewCryptoManager(r repo.Repo, vaults *VaultProvider, enqueuer TaskEnqueuer) *CryptoManager {
	return &CryptoManager{
		repo:     r,
		vaults:   vaults,
		enqueuer: enqueuer,
	}
}

// EncryptRequest is one encryption work item.
type EncryptRequest struct {
	KeyringName  string
	Algorithm    envelope.Algorithm
	BitStrength  int
	Plaintext    []byte
	OutputFormat ident.Format
}

// Encrypt seals plaintext under the keyring's newest eligible generation and
// returns the serialized envelope. The generation's usage counter increment
// is scheduled as a best-effort background task.
func (m *CryptoManager) Encrypt(
	ctx context.Context,
	permissions auth.Permissions,
	req EncryptRequest,
) (string, error) {
	grant, ok := permissions.ByName(req.KeyringName)
	if !ok || !grant.Encrypt {
		return "", errs.Wrapf(ErrNotPermitted, "encrypt")
	}

	keyring, dataKey, err := m.currentGeneration(ctx, grant.KeyringID.UUID())
	if err != nil {
		return "", err
	}

	material, err := m.deriveMaterial(ctx, keyring, dataKey, req.BitStrength)
	if err != nil {
		return "", err
	}

	sealed, err := envelope.Seal(
		ident.FromUUID(dataKey.ID), req.Algorithm, req.BitStrength, material, req.Plaintext)
	if err != nil {
		return "", err
	}

	out, err := sealed.Serialize(req.OutputFormat)
	if err != nil {
		return "", err
	}

	m.scheduleCountIncrement(ctx, keyring, dataKey)

	return out, nil
}

// DecryptRequest addresses an envelope produced by Encrypt.
type DecryptRequest struct {
	KeyringName string
	Value       string
	InputFormat ident.Format
}

// Decrypt parses the envelope, re-derives the generation's material and
// opens it. The signature is verified before any decryption happens.
func (m *CryptoManager) Decrypt(
	ctx context.Context,
	permissions auth.Permissions,
	req DecryptRequest,
) ([]byte, error) {
	grant, ok := permissions.ByName(req.KeyringName)
	if !ok || !grant.Decrypt {
		return nil, errs.Wrapf(ErrNotPermitted, "decrypt")
	}

	parsed, err := envelope.Parse(req.Value, req.InputFormat)
	if err != nil {
		return nil, err
	}

	keyring, dataKey, err := m.retrievableGeneration(
		ctx, grant.KeyringID.UUID(), parsed.DataKeyID.UUID())
	if err != nil {
		return nil, err
	}

	material, err := m.deriveMaterial(ctx, keyring, dataKey, parsed.BitStrength)
	if err != nil {
		return nil, err
	}

	return parsed.Open(material)
}

// Rewrap re-encrypts an existing envelope under the keyring's newest
// generation without the caller ever seeing the plaintext.
func (m *CryptoManager) Rewrap(
	ctx context.Context,
	permissions auth.Permissions,
	req DecryptRequest,
	outputFormat ident.Format,
) (string, error) {
	grant, ok := permissions.ByName(req.KeyringName)
	if !ok || !grant.Rewrap {
		return "", errs.Wrapf(ErrNotPermitted, "rewrap")
	}

	parsed, err := envelope.Parse(req.Value, req.InputFormat)
	if err != nil {
		return "", err
	}

	keyring, oldKey, err := m.retrievableGeneration(
		ctx, grant.KeyringID.UUID(), parsed.DataKeyID.UUID())
	if err != nil {
		return "", err
	}

	oldMaterial, err := m.deriveMaterial(ctx, keyring, oldKey, parsed.BitStrength)
	if err != nil {
		return "", err
	}

	plaintext, err := parsed.Open(oldMaterial)
	if err != nil {
		return "", err
	}

	_, newKey, err := m.currentGeneration(ctx, keyring.ID)
	if err != nil {
		return "", err
	}

	newMaterial, err := m.deriveMaterial(ctx, keyring, newKey, parsed.BitStrength)
	if err != nil {
		return "", err
	}

	sealed, err := envelope.Seal(
		ident.FromUUID(newKey.ID), parsed.Algorithm, parsed.BitStrength, newMaterial, plaintext)
	if err != nil {
		return "", err
	}

	m.scheduleCountIncrement(ctx, keyring, newKey)

	return sealed.Serialize(outputFormat)
}

// MAC computes the keyring's HMAC over the input using the derived MAC key
// of the newest generation.
func (m *CryptoManager) MAC(
	ctx context.Context,
	permissions auth.Permissions,
	keyringName string,
	input []byte,
	outputFormat ident.Format,
) (string, error) {
	grant, ok := permissions.ByName(keyringName)
	if !ok || !grant.HMAC {
		return "", errs.Wrapf(ErrNotPermitted, "hmac")
	}

	keyring, dataKey, err := m.currentGeneration(ctx, grant.KeyringID.UUID())
	if err != nil {
		return "", err
	}

	material, err := m.deriveMaterial(ctx, keyring, dataKey, 256)
	if err != nil {
		return "", err
	}

	return ident.EncodeBytes(macSum(material, input), outputFormat)
}

// currentGeneration loads the keyring and its newest data key.
func (m *CryptoManager) currentGeneration(
	ctx context.Context,
	keyringID uuid.UUID,
) (*model.Keyring, *model.DataKey, error) {
	keyring := &model.Keyring{ID: keyringID}

	found, err := m.repo.First(ctx, keyring, *repo.NewQuery())
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, nil, err
	}

	if !found {
		return nil, nil, errs.Wrapf(ErrKeyringNotFound, keyringID.String())
	}

	var keys []model.DataKey

	_, err = m.repo.List(ctx, &model.DataKey{}, &keys,
		*repo.NewQuery().
			Where(repo.KeyringIDField, keyringID).
			Order(repo.CreatedField, repo.Desc).
			SetLimit(1),
	)
	if err != nil {
		return nil, nil, err
	}

	if len(keys) == 0 {
		return nil, nil, errs.Wrapf(ErrNoDataKey, keyringID.String())
	}

	return keyring, &keys[0], nil
}

// retrievableGeneration loads a specific data key and checks it belongs to
// the keyring and still sits within the retrieval window.
func (m *CryptoManager) retrievableGeneration(
	ctx context.Context,
	keyringID, dataKeyID uuid.UUID,
) (*model.Keyring, *model.DataKey, error) {
	keyring := &model.Keyring{ID: keyringID}

	found, err := m.repo.First(ctx, keyring, *repo.NewQuery())
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, nil, err
	}

	if !found {
		return nil, nil, errs.Wrapf(ErrKeyringNotFound, keyringID.String())
	}

	dataKey := &model.DataKey{ID: dataKeyID}

	found, err = m.repo.First(ctx, dataKey, *repo.NewQuery())
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, nil, err
	}

	if !found {
		return nil, nil, errs.Wrapf(ErrNoDataKey, dataKeyID.String())
	}

	if dataKey.KeyringID != keyringID {
		return nil, nil, ErrWrongKeyring
	}

	var window []model.DataKey

	_, err = m.repo.List(ctx, &model.DataKey{}, &window,
		*repo.NewQuery().
			Where(repo.KeyringIDField, keyringID).
			Order(repo.CreatedField, repo.Desc).
			SetLimit(keyring.RetrievalVersions+1),
	)
	if err != nil {
		return nil, nil, err
	}

	for _, candidate := range window {
		if candidate.ID == dataKeyID {
			return keyring, dataKey, nil
		}
	}

	return nil, nil, errs.Wrapf(ErrGenerationRetired, dataKeyID.String())
}

// deriveMaterial fetches the generation's stored material from the vault
// and rebuilds the working keys.
func (m *CryptoManager) deriveMaterial(
	ctx context.Context,
	keyring *model.Keyring,
	dataKey *model.DataKey,
	bitStrength int,
) (kdf.Material, error) {
	if dataKey.VaultSecretID == nil {
		return kdf.Material{}, ErrVaultDisabled
	}

	client, err := m.vaults.ForTenant(ctx)
	if err != nil {
		return kdf.Material{}, err
	}

	secret, err := client.GetSecret(ctx, *dataKey.VaultSecretID)
	if err != nil {
		return kdf.Material{}, err
	}

	publicKey, salt, macInfo, err := DecodeSecretNote(secret.Note)
	if err != nil {
		return kdf.Material{}, err
	}

	return kdf.Derive(kdf.Params{
		KeyType:     kdf.KeyType(keyring.KeyType),
		KeySize:     keyring.KeySize,
		Hash:        keyring.Hash,
		PrivateKey:  []byte(secret.Value),
		PublicKey:   publicKey,
		Salt:        salt,
		MacInfo:     macInfo,
		BitStrength: bitStrength,
	})
}

// scheduleCountIncrement enqueues the compare-and-swap counter bump and, if
// the counter crosses the keyring's rotation threshold, a rotation. Both
// are best effort; failures are logged and dropped. Concurrent encryptions
// can lose increments, which is accepted weak consistency.
func (m *CryptoManager) scheduleCountIncrement(
	ctx context.Context,
	keyring *model.Keyring,
	dataKey *model.DataKey,
) {
	if m.enqueuer == nil {
		return
	}

	tenantID, err := kwcontext.ExtractTenantID(ctx)
	if err != nil {
		log.Warn(ctx, "skipping counter increment without tenant", log.ErrorAttr(err))
		return
	}

	next := new(big.Int).Add(dataKey.GenerationCountInt(), big.NewInt(1))

	task, err := tasks.NewGenerationCountTask(tasks.GenerationCountPayload{
		TenantID:  tenantID,
		DataKeyID: dataKey.ID,
		Expected:  dataKey.GenerationCount,
		Next:      model.EncodeGenerationCount(next),
	})
	if err == nil {
		_, err = m.enqueuer.EnqueueTask(ctx, task)
	}

	if err != nil {
		log.Warn(ctx, "failed to schedule counter increment", log.ErrorAttr(err))
	}

	threshold := keyring.CountRotationInt()
	if threshold.Sign() > 0 && next.Cmp(threshold) >= 0 {
		rotation, err := tasks.NewRotationTask(tasks.RotationPayload{
			TenantID:  tenantID,
			KeyringID: keyring.ID.String(),
		})
		if err == nil {
			_, err = m.enqueuer.EnqueueTask(ctx, rotation)
		}

		if err != nil {
			log.Warn(ctx, "failed to schedule count-triggered rotation", log.ErrorAttr(err))
		}
	}
}

func macSum(material kdf.Material, input []byte) []byte {
	mac := hmac.New(material.Hash.New(), material.MACKey)
	mac.Write(input)

	return mac.Sum(nil)
}
