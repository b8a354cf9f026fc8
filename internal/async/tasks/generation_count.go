package tasks

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/errs"
	"github.com/keyward/keyward/internal/log"
	"github.com/keyward/keyward/internal/model"
	"github.com/keyward/keyward/internal/repo"
	kwcontext "github.com/keyward/keyward/utils/context"
)

// GenerationCounter applies the usage-counter compare-and-swap. A guard
// mismatch means a concurrent increment won; the loss is accepted, not
// retried.
type GenerationCounter struct {
	repo repo.Repo
}

func NewGenerationCounter(r repo.Repo) *GenerationCounter {
	return &GenerationCounter{repo: r}
}

func (s *GenerationCounter) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload GenerationCountPayload

	err := json.Unmarshal(task.Payload(), &payload)
	if err != nil {
		return errs.Wrap(ErrInvalidPayload, err)
	}

	ctx = kwcontext.CreateTenantContext(ctx, payload.TenantID)

	now := time.Now().UTC()
	dataKey := &model.DataKey{
		ID:              payload.DataKeyID,
		GenerationCount: payload.Next,
		LastUsed:        &now,
	}

	updated, err := s.repo.Patch(ctx, dataKey,
		*repo.NewQuery().
			Where(repo.IDField, payload.DataKeyID).
			WhereOp(repo.GenerationCountField, repo.Equal, payload.Expected).
			Update(repo.GenerationCountField, repo.LastUsedField),
	)
	if err != nil {
		return err
	}

	if !updated {
		log.Debug(ctx, "generation counter increment lost to concurrent update",
			slog.String("dataKeyId", payload.DataKeyID.String()))
	}

	return nil
}

func (s *GenerationCounter) TaskType() string {
	return config.TypeGenerationCountTask
}
