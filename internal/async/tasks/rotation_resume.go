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
	"github.com/keyward/keyward/internal/model"
	"github.com/keyward/keyward/internal/repo"
)

// RotationResumer re-enters a checkpointed workflow.
type RotationResumer interface {
	Resume(ctx context.Context, workflowID uuid.UUID) error
}

// Resumer handles both shapes of the resume task: a payload names one
// workflow, an empty payload (the periodic sweep) picks up every unfinished
// one.
type Resumer struct {
	engine RotationResumer
	repo   repo.Repo
}

func NewRotationResumer(engine RotationResumer, r repo.Repo) *Resumer {
	return &Resumer{engine: engine, repo: r}
}

func (s *Resumer) ProcessTask(ctx context.Context, task *asynq.Task) error {
	if len(task.Payload()) == 0 {
		return s.sweep(ctx)
	}

	var payload RotationResumePayload

	err := json.Unmarshal(task.Payload(), &payload)
	if err != nil {
		return errs.Wrap(ErrInvalidPayload, err)
	}

	// A workflow that completed before this task ran is not a failure.
	wf := model.RotationWorkflow{ID: payload.WorkflowID}
	if found, _ := s.repo.First(ctx, &wf, *repo.NewQuery()); found && wf.Finished() {
		return nil
	}

	return s.engine.Resume(ctx, payload.WorkflowID)
}

func (s *Resumer) TaskType() string {
	return config.TypeRotationResumeTask
}

func (s *Resumer) sweep(ctx context.Context) error {
	offset := 0

	for {
		var workflows []model.RotationWorkflow

		total, err := s.repo.List(ctx, &model.RotationWorkflow{}, &workflows,
			*repo.NewQuery().SetOffset(offset))
		if err != nil {
			return err
		}

		for _, wf := range workflows {
			if wf.Finished() {
				continue
			}

			err := s.engine.Resume(ctx, wf.ID)
			if err != nil {
				log.Error(ctx, "failed to resume rotation workflow", err,
					slog.String("workflowId", wf.ID.String()))
			}
		}

		offset += len(workflows)
		if offset >= total || len(workflows) == 0 {
			return nil
		}
	}
}
