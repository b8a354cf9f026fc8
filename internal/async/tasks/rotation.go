package tasks

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/errs"
	"github.com/keyward/keyward/internal/log"
)

// RotationRunner starts a fresh rotation workflow.
type RotationRunner interface {
	Rotate(ctx context.Context, tenantID, keyringID string) (uuid.UUID, error)
}

// Rotator processes on-demand rotation tasks: count-triggered rotations and
// operator-enqueued ones share this path.
type Rotator struct {
	engine RotationRunner
}

func NewRotator(engine RotationRunner) *Rotator {
	return &Rotator{engine: engine}
}

func (s *Rotator) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload RotationPayload

	err := json.Unmarshal(task.Payload(), &payload)
	if err != nil {
		return errs.Wrap(ErrInvalidPayload, err)
	}

	dataKeyID, err := s.engine.Rotate(ctx, payload.TenantID, payload.KeyringID)
	if err != nil {
		log.Error(ctx, "rotation task failed", err)
		return err
	}

	log.Info(ctx, "rotation task produced new generation",
		slog.String("dataKeyId", dataKeyID.String()))

	return nil
}

func (s *Rotator) TaskType() string {
	return config.TypeRotationTask
}
