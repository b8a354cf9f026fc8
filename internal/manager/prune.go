package manager

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/keyward/keyward/internal/log"
	"github.com/keyward/keyward/internal/model"
	"github.com/keyward/keyward/internal/repo"
)

// PruneManager removes key generations that have aged out of every keyring
// window. The vault secret is deleted before the row so a crash in between
// leaves a disabled row rather than a dangling secret.
type PruneManager struct {
	repo   repo.Repo
	vaults *VaultProvider
}

func NewPruneManager(r repo.Repo, vaults *VaultProvider) *PruneManager {
	return &PruneManager{repo: r, vaults: vaults}
}

// PruneTenant sweeps every keyring of the tenant bound to the context and
// returns the number of generations removed.
func (m *PruneManager) PruneTenant(ctx context.Context) (int, error) {
	var keyrings []model.Keyring

	pruned := 0

	offset := 0
	for {
		n, err := m.repo.List(ctx, &model.Keyring{}, &keyrings,
			*repo.NewQuery().SetOffset(offset))
		if err != nil {
			return pruned, err
		}

		for i := range keyrings {
			removed, err := m.pruneKeyring(ctx, &keyrings[i])
			pruned += removed

			if err != nil {
				return pruned, err
			}
		}

		offset += len(keyrings)
		if offset >= n || len(keyrings) == 0 {
			break
		}
	}

	return pruned, nil
}

func (m *PruneManager) pruneKeyring(ctx context.Context, keyring *model.Keyring) (int, error) {
	var keys []model.DataKey

	// The newest retention-window generations always survive; everything the
	// query returns past that offset is expired.
	_, err := m.repo.List(ctx, &model.DataKey{}, &keys,
		*repo.NewQuery().
			Where(repo.KeyringIDField, keyring.ID).
			Order(repo.CreatedField, repo.Desc).
			SetOffset(keyring.RetentionWindow()+1).
			SetLimit(repo.DefaultLimit),
	)
	if err != nil {
		return 0, err
	}

	if len(keys) == 0 {
		return 0, nil
	}

	secretIDs := make([]uuid.UUID, 0, len(keys))

	for _, key := range keys {
		if key.VaultSecretID != nil {
			secretIDs = append(secretIDs, *key.VaultSecretID)
		}
	}

	if len(secretIDs) > 0 {
		client, err := m.vaults.ForTenant(ctx)
		if err != nil {
			return 0, err
		}

		err = client.DeleteSecrets(ctx, secretIDs)
		if err != nil {
			return 0, err
		}
	}

	pruned := 0

	for _, key := range keys {
		deleted, err := m.repo.Delete(ctx, &model.DataKey{},
			*repo.NewQuery().Where(repo.IDField, key.ID))
		if err != nil {
			return pruned, err
		}

		if deleted {
			pruned++
		}
	}

	if pruned > 0 {
		log.Info(ctx, "pruned expired key generations",
			slog.String("keyringId", keyring.ID.String()),
			slog.Int("count", pruned))
	}

	return pruned, nil
}
