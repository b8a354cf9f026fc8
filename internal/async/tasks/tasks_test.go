package tasks_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/async/tasks"
	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/model"
	"github.com/keyward/keyward/internal/rotation"
	"github.com/keyward/keyward/test/testutils"
)

type fakeEngine struct {
	rotated   [][2]string
	resumed   []uuid.UUID
	rotateErr error
	resumeErr error
}

func (f *fakeEngine) Rotate(_ context.Context, tenantID, keyringID string) (uuid.UUID, error) {
	f.rotated = append(f.rotated, [2]string{tenantID, keyringID})
	return uuid.New(), f.rotateErr
}

func (f *fakeEngine) Resume(_ context.Context, workflowID uuid.UUID) error {
	f.resumed = append(f.resumed, workflowID)
	return f.resumeErr
}

type fakePruner struct {
	calls int
	err   error
}

func (f *fakePruner) PruneTenant(context.Context) (int, error) {
	f.calls++
	return 2, f.err
}

func TestRotatorRunsWorkflowFromPayload(t *testing.T) {
	engine := &fakeEngine{}
	handler := tasks.NewRotator(engine)

	assert.Equal(t, config.TypeRotationTask, handler.TaskType())

	task, err := tasks.NewRotationTask(tasks.RotationPayload{
		TenantID:  "tenant-a",
		KeyringID: "keyring-a",
	})
	require.NoError(t, err)

	require.NoError(t, handler.ProcessTask(t.Context(), task))
	require.Len(t, engine.rotated, 1)
	assert.Equal(t, [2]string{"tenant-a", "keyring-a"}, engine.rotated[0])
}

func TestRotatorRejectsMalformedPayload(t *testing.T) {
	handler := tasks.NewRotator(&fakeEngine{})

	err := handler.ProcessTask(t.Context(), asynq.NewTask(config.TypeRotationTask, []byte("{")))
	assert.ErrorIs(t, err, tasks.ErrInvalidPayload)
}

func TestRotatorPropagatesEngineFailure(t *testing.T) {
	wantErr := errors.New("boom")
	handler := tasks.NewRotator(&fakeEngine{rotateErr: wantErr})

	task, err := tasks.NewRotationTask(tasks.RotationPayload{TenantID: "t", KeyringID: "k"})
	require.NoError(t, err)

	assert.ErrorIs(t, handler.ProcessTask(t.Context(), task), wantErr)
}

func TestResumerTargetsWorkflowFromPayload(t *testing.T) {
	engine := &fakeEngine{}
	handler := tasks.NewRotationResumer(engine, &testutils.FakeRepo{})

	workflowID := uuid.New()
	task, err := tasks.NewRotationResumeTask(tasks.RotationResumePayload{WorkflowID: workflowID})
	require.NoError(t, err)

	require.NoError(t, handler.ProcessTask(t.Context(), task))
	assert.Equal(t, []uuid.UUID{workflowID}, engine.resumed)
}

func TestResumerSweepSkipsFinishedWorkflows(t *testing.T) {
	pending := uuid.New()
	repo := &testutils.FakeRepo{
		Workflows: []model.RotationWorkflow{
			{ID: uuid.New(), Step: rotation.StepDone},
			{ID: pending, Step: rotation.StepUploadToVault},
			{ID: uuid.New(), Step: rotation.StepFailed},
		},
	}

	engine := &fakeEngine{}
	handler := tasks.NewRotationResumer(engine, repo)

	require.NoError(t, handler.ProcessTask(t.Context(), asynq.NewTask(config.TypeRotationResumeTask, nil)))
	assert.Equal(t, []uuid.UUID{pending}, engine.resumed)
}

func TestResumerSkipsAlreadyFinishedWorkflow(t *testing.T) {
	finished := uuid.New()
	repo := &testutils.FakeRepo{
		Workflows: []model.RotationWorkflow{{ID: finished, Step: rotation.StepDone}},
	}

	engine := &fakeEngine{}
	handler := tasks.NewRotationResumer(engine, repo)

	task, err := tasks.NewRotationResumeTask(tasks.RotationResumePayload{WorkflowID: finished})
	require.NoError(t, err)

	require.NoError(t, handler.ProcessTask(t.Context(), task))
	assert.Empty(t, engine.resumed)
}

func TestResumerSweepSurvivesResumeFailure(t *testing.T) {
	repo := &testutils.FakeRepo{
		Workflows: []model.RotationWorkflow{
			{ID: uuid.New(), Step: rotation.StepGenerateSalt},
			{ID: uuid.New(), Step: rotation.StepUploadToVault},
		},
	}

	engine := &fakeEngine{resumeErr: rotation.ErrWorkflowFinished}
	handler := tasks.NewRotationResumer(engine, repo)

	require.NoError(t, handler.ProcessTask(t.Context(), asynq.NewTask(config.TypeRotationResumeTask, nil)))
	assert.Len(t, engine.resumed, 2)
}

func TestGenerationCounterAppliesGuardedIncrement(t *testing.T) {
	dataKeyID := uuid.New()
	repo := &testutils.FakeRepo{
		Tenant: model.Tenant{ID: uuid.New(), SchemaName: "tenant_acme"},
		Keys: []model.DataKey{
			{ID: dataKeyID, GenerationCount: model.EncodeGenerationCount(big.NewInt(7))},
		},
	}

	handler := tasks.NewGenerationCounter(repo)
	assert.Equal(t, config.TypeGenerationCountTask, handler.TaskType())

	task, err := tasks.NewGenerationCountTask(tasks.GenerationCountPayload{
		TenantID:  repo.Tenant.SchemaName,
		DataKeyID: dataKeyID,
		Expected:  model.EncodeGenerationCount(big.NewInt(7)),
		Next:      model.EncodeGenerationCount(big.NewInt(8)),
	})
	require.NoError(t, err)

	require.NoError(t, handler.ProcessTask(t.Context(), task))
	assert.EqualValues(t, 8, repo.Keys[0].GenerationCountInt().Int64())
	assert.NotNil(t, repo.Keys[0].LastUsed)
}

func TestGenerationCounterAcceptsLostRace(t *testing.T) {
	dataKeyID := uuid.New()
	repo := &testutils.FakeRepo{
		Tenant: model.Tenant{ID: uuid.New(), SchemaName: "tenant_acme"},
		Keys: []model.DataKey{
			// Another worker already moved the counter past the guard value.
			{ID: dataKeyID, GenerationCount: model.EncodeGenerationCount(big.NewInt(9))},
		},
	}

	handler := tasks.NewGenerationCounter(repo)

	task, err := tasks.NewGenerationCountTask(tasks.GenerationCountPayload{
		TenantID:  repo.Tenant.SchemaName,
		DataKeyID: dataKeyID,
		Expected:  model.EncodeGenerationCount(big.NewInt(7)),
		Next:      model.EncodeGenerationCount(big.NewInt(8)),
	})
	require.NoError(t, err)

	require.NoError(t, handler.ProcessTask(t.Context(), task))
	assert.EqualValues(t, 9, repo.Keys[0].GenerationCountInt().Int64())
}

func TestKeyUsageToucherStampsLastUsed(t *testing.T) {
	apiKeyID := uuid.New()
	stale := testutils.Touch(time.Now().Add(-time.Hour).UTC())
	repo := &testutils.FakeRepo{
		Tenant:  model.Tenant{ID: uuid.New(), SchemaName: "tenant_acme"},
		APIKeys: []model.APIKey{{ID: apiKeyID, Name: "reader", LastUsed: stale}},
	}

	handler := tasks.NewKeyUsageToucher(repo)
	assert.Equal(t, config.TypeKeyUsageTask, handler.TaskType())

	task, err := tasks.NewKeyUsageTask(tasks.KeyUsagePayload{
		TenantID: repo.Tenant.SchemaName,
		APIKeyID: apiKeyID,
	})
	require.NoError(t, err)

	require.NoError(t, handler.ProcessTask(t.Context(), task))
	require.NotNil(t, repo.APIKeys[0].LastUsed)
	assert.True(t, repo.APIKeys[0].LastUsed.After(*stale))
}

func TestPrunerSweepsEveryTenant(t *testing.T) {
	repo := &testutils.FakeRepo{
		Tenant: model.Tenant{ID: uuid.New(), SchemaName: "tenant_acme"},
	}

	pruner := &fakePruner{}
	handler := tasks.NewPruner(pruner, repo)
	assert.Equal(t, config.TypePruneTask, handler.TaskType())

	require.NoError(t, handler.ProcessTask(t.Context(), tasks.NewPruneTask()))
	assert.Equal(t, 1, pruner.calls)
}

func TestPrunerReportsTenantFailure(t *testing.T) {
	repo := &testutils.FakeRepo{
		Tenant: model.Tenant{ID: uuid.New(), SchemaName: "tenant_acme"},
	}

	pruner := &fakePruner{err: errors.New("vault unreachable")}
	handler := tasks.NewPruner(pruner, repo)

	err := handler.ProcessTask(t.Context(), tasks.NewPruneTask())
	assert.ErrorIs(t, err, tasks.ErrRunningTask)
	assert.Equal(t, 1, pruner.calls)
}
