package tasks

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/errs"
	"github.com/keyward/keyward/internal/log"
	"github.com/keyward/keyward/internal/model"
	"github.com/keyward/keyward/internal/repo"
	kwcontext "github.com/keyward/keyward/utils/context"
)

// TenantPruner sweeps one tenant's expired key generations.
type TenantPruner interface {
	PruneTenant(ctx context.Context) (int, error)
}

// Pruner walks all tenants and prunes generations outside every retention
// window. One failing tenant does not stop the sweep.
type Pruner struct {
	pruner TenantPruner
	repo   repo.Repo
}

func NewPruner(pruner TenantPruner, r repo.Repo) *Pruner {
	return &Pruner{pruner: pruner, repo: r}
}

func (s *Pruner) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	log.Info(ctx, "Starting key generation prune sweep")

	offset := 0
	pruned := 0

	var sweepErr error

	for {
		var tenants []model.Tenant

		total, err := s.repo.List(ctx, &model.Tenant{}, &tenants,
			*repo.NewQuery().SetOffset(offset))
		if err != nil {
			return errs.Wrap(ErrRunningTask, err)
		}

		for _, tenant := range tenants {
			tenantCtx := kwcontext.CreateTenantContext(ctx, tenant.ID.String())

			n, err := s.pruner.PruneTenant(tenantCtx)
			pruned += n

			if err != nil {
				sweepErr = err

				log.Error(ctx, "prune sweep failed for tenant", err,
					slog.String("tenantId", tenant.ID.String()))
			}
		}

		offset += len(tenants)
		if offset >= total || len(tenants) == 0 {
			break
		}
	}

	log.Info(ctx, "Prune sweep completed", slog.Int("pruned", pruned))

	if sweepErr != nil {
		return errs.Wrap(ErrRunningTask, sweepErr)
	}

	return nil
}

func (s *Pruner) TaskType() string {
	return config.TypePruneTask
}
