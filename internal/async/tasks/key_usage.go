package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/errs"
	"github.com/keyward/keyward/internal/model"
	"github.com/keyward/keyward/internal/repo"
	kwcontext "github.com/keyward/keyward/utils/context"
)

// KeyUsageToucher stamps an api key's last-used timestamp off the request
// path.
type KeyUsageToucher struct {
	repo repo.Repo
}

func NewKeyUsageToucher(r repo.Repo) *KeyUsageToucher {
	return &KeyUsageToucher{repo: r}
}

func (s *KeyUsageToucher) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload KeyUsagePayload

	err := json.Unmarshal(task.Payload(), &payload)
	if err != nil {
		return errs.Wrap(ErrInvalidPayload, err)
	}

	ctx = kwcontext.CreateTenantContext(ctx, payload.TenantID)

	now := time.Now().UTC()
	apiKey := &model.APIKey{ID: payload.APIKeyID, LastUsed: &now}

	_, err = s.repo.Patch(ctx, apiKey,
		*repo.NewQuery().
			Where(repo.IDField, payload.APIKeyID).
			Update(repo.LastUsedField),
	)

	return err
}

func (s *KeyUsageToucher) TaskType() string {
	return config.TypeKeyUsageTask
}
