package tasks

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/errs"
)

var (
	ErrInvalidPayload = errors.New("invalid task payload")
	ErrRunningTask    = errors.New("running task")
)

// RotationPayload starts a rotation workflow. The identifiers are accepted
// in any supported shape and validated by the workflow's first step.
type RotationPayload struct {
	TenantID  string `json:"tenantId"`
	KeyringID string `json:"keyringId"`
}

// RotationResumePayload re-enters a checkpointed workflow after a crash.
type RotationResumePayload struct {
	WorkflowID uuid.UUID `json:"workflowId"`
}

// GenerationCountPayload is the compare-and-swap increment of a data key's
// usage counter. Expected carries the prior raw counter value; the update
// applies only if the row still holds it.
type GenerationCountPayload struct {
	TenantID  string    `json:"tenantId"`
	DataKeyID uuid.UUID `json:"dataKeyId"`
	Expected  []byte    `json:"expected"`
	Next      []byte    `json:"next"`
}

// KeyUsagePayload touches an api key's last-used timestamp.
type KeyUsagePayload struct {
	TenantID string    `json:"tenantId"`
	APIKeyID uuid.UUID `json:"apiKeyId"`
}

func NewRotationTask(payload RotationPayload) (*asynq.Task, error) {
	return newTask(config.TypeRotationTask, payload)
}

func NewRotationResumeTask(payload RotationResumePayload) (*asynq.Task, error) {
	return newTask(config.TypeRotationResumeTask, payload)
}

func NewGenerationCountTask(payload GenerationCountPayload) (*asynq.Task, error) {
	return newTask(config.TypeGenerationCountTask, payload)
}

func NewKeyUsageTask(payload KeyUsagePayload) (*asynq.Task, error) {
	return newTask(config.TypeKeyUsageTask, payload)
}

func NewPruneTask() *asynq.Task {
	return asynq.NewTask(config.TypePruneTask, nil)
}

func newTask(taskType string, payload any) (*asynq.Task, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.Wrap(ErrInvalidPayload, err)
	}

	return asynq.NewTask(taskType, encoded), nil
}
