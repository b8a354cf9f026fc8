package rotation

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/errs"
	"github.com/keyward/keyward/internal/ident"
	"github.com/keyward/keyward/internal/kdf"
	"github.com/keyward/keyward/internal/log"
	"github.com/keyward/keyward/internal/manager"
	"github.com/keyward/keyward/internal/metrics"
	"github.com/keyward/keyward/internal/model"
	"github.com/keyward/keyward/internal/repo"
	"github.com/keyward/keyward/internal/vault"
	"github.com/keyward/keyward/utils/base62"
	kwcontext "github.com/keyward/keyward/utils/context"
)

// Steps of the rotation pipeline, strictly sequential. Each completed step
// checkpoints the workflow row so a crashed run resumes where it stopped.
// The step names themselves live with the model since they are persisted
// column values.
const (
	StepParsePayload        = model.StepParsePayload
	StepResolveTenantRoute  = model.StepResolveTenantRoute
	StepFetchKeyringPolicy  = model.StepFetchKeyringPolicy
	StepGenerateSalt        = model.StepGenerateSalt
	StepGenerateKeyMaterial = model.StepGenerateKeyMaterial
	StepUploadToVault       = model.StepUploadToVault
	StepRecordDataKey       = model.StepRecordDataKey
	StepDone                = model.StepDone
	StepFailed              = model.StepFailed
)

const eventFail = "fail"

var pipeline = []string{
	StepParsePayload,
	StepResolveTenantRoute,
	StepFetchKeyringPolicy,
	StepGenerateSalt,
	StepGenerateKeyMaterial,
	StepUploadToVault,
	StepRecordDataKey,
}

var (
	ErrWorkflowNotFound = errors.New("rotation workflow not found")
	ErrWorkflowFinished = errors.New("rotation workflow already finished")
	ErrStepFailed       = errors.New("rotation step failed")
)

const macInfoSize = 16

// Engine drives rotation workflows: fresh runs and crash resumes share one
// step pipeline.
type Engine struct {
	repo   repo.Repo
	vaults *manager.VaultProvider
	cfg    config.Rotation
}

func New(r repo.Repo, vaults *manager.VaultProvider, cfg config.Rotation) *Engine {
	return &Engine{
		repo:   r,
		vaults: vaults,
		cfg:    cfg,
	}
}

// run is the in-memory state of one workflow execution. Everything a later
// step needs from an earlier one is either checkpointed on the row or
// re-fetchable, so a resume can enter at any step.
type run struct {
	wf      *model.RotationWorkflow
	keyring model.Keyring
}

func (r *run) tenantContext(ctx context.Context) context.Context {
	return kwcontext.CreateTenantContext(ctx, r.wf.TenantID.String())
}

// Rotate validates the payload, creates the checkpoint row and runs the
// pipeline to completion. It returns the new generation's data key id.
func (e *Engine) Rotate(ctx context.Context, tenantID, keyringID string) (uuid.UUID, error) {
	tid, err := ident.Parse(tenantID)
	if err != nil {
		metrics.RotationSteps.WithLabelValues(StepParsePayload, "failure").Inc()
		return uuid.Nil, errs.Wrapf(err, "tenant id")
	}

	kid, err := ident.Parse(keyringID)
	if err != nil {
		metrics.RotationSteps.WithLabelValues(StepParsePayload, "failure").Inc()
		return uuid.Nil, errs.Wrapf(err, "keyring id")
	}

	metrics.RotationSteps.WithLabelValues(StepParsePayload, "success").Inc()

	// A retried delivery must not fork a second workflow: re-enter the
	// pending checkpoint for this keyring when one exists.
	pending := &model.RotationWorkflow{}

	found, err := e.repo.First(ctx, pending, *repo.NewQuery().
		Where(repo.TenantIDField, tid.UUID()).
		Where(repo.KeyringIDField, kid.UUID()).
		WhereOp(repo.StepField, repo.NotEqual, StepDone).
		WhereOp(repo.StepField, repo.NotEqual, StepFailed))
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return uuid.Nil, err
	}

	if found {
		err = e.execute(log.InjectRotation(ctx, tenantID, keyringID), &run{wf: pending})
		if err != nil {
			return uuid.Nil, err
		}

		return *pending.DataKeyID, nil
	}

	wf := &model.RotationWorkflow{
		ID:        uuid.New(),
		TenantID:  tid.UUID(),
		KeyringID: kid.UUID(),
		Step:      StepResolveTenantRoute,
	}

	err = e.repo.Create(ctx, wf)
	if err != nil {
		return uuid.Nil, err
	}

	r := &run{wf: wf}

	err = e.execute(log.InjectRotation(ctx, tenantID, keyringID), r)
	if err != nil {
		return uuid.Nil, err
	}

	return *wf.DataKeyID, nil
}

// Resume re-enters a checkpointed workflow at its pending step.
func (e *Engine) Resume(ctx context.Context, workflowID uuid.UUID) error {
	wf := &model.RotationWorkflow{ID: workflowID}

	found, err := e.repo.First(ctx, wf, *repo.NewQuery())
	if err != nil || !found {
		return errs.Wrapf(ErrWorkflowNotFound, workflowID.String())
	}

	switch wf.Step {
	case StepDone, StepFailed:
		return errs.Wrapf(ErrWorkflowFinished, wf.Step)
	}

	ctx = log.InjectRotation(ctx, wf.TenantID.String(), wf.KeyringID.String())

	return e.execute(ctx, &run{wf: wf})
}

// newMachine builds the transition table: each step advances to its
// successor, any step may fail terminally.
func newMachine(current string) *fsm.FSM {
	states := append(append([]string{}, pipeline...), StepDone)

	events := make(fsm.Events, 0, len(states))
	for i := range len(states) - 1 {
		events = append(events, fsm.EventDesc{
			Name: states[i],
			Src:  []string{states[i]},
			Dst:  states[i+1],
		})
	}

	events = append(events, fsm.EventDesc{Name: eventFail, Src: pipeline, Dst: StepFailed})

	return fsm.NewFSM(current, events, fsm.Callbacks{})
}

func (e *Engine) execute(ctx context.Context, r *run) error {
	machine := newMachine(r.wf.Step)

	for {
		step := machine.Current()
		if step == StepDone {
			return nil
		}

		err := e.runStep(ctx, r, step)
		if err != nil {
			metrics.RotationSteps.WithLabelValues(step, "failure").Inc()
			log.Error(ctx, "rotation step failed", err)

			r.wf.FailureReason = err.Error()

			// A transient failure leaves the step pending for the next
			// delivery; only the terminal failure classes close the
			// workflow.
			if nonRetryable(err) {
				r.wf.Step = StepFailed
				_ = machine.Event(ctx, eventFail)
			}

			e.checkpoint(ctx, r.wf)

			return errs.Wrapf(errs.Wrap(ErrStepFailed, err), step)
		}

		metrics.RotationSteps.WithLabelValues(step, "success").Inc()

		err = machine.Event(ctx, step)
		if err != nil {
			return err
		}

		r.wf.Step = machine.Current()
		e.checkpoint(ctx, r.wf)
	}
}

// checkpoint persists the row best-effort: a lost checkpoint costs a redone
// step on resume, never a wrong result.
func (e *Engine) checkpoint(ctx context.Context, wf *model.RotationWorkflow) {
	_, err := e.repo.Patch(ctx, wf, *repo.NewQuery().Where(repo.IDField, wf.ID))
	if err != nil {
		log.Warn(ctx, "failed to checkpoint rotation workflow", log.ErrorAttr(err))
	}
}

func (e *Engine) runStep(ctx context.Context, r *run, step string) error {
	switch step {
	case StepResolveTenantRoute:
		return e.retryStore(ctx, func() error { return e.resolveTenantRoute(ctx, r) })
	case StepFetchKeyringPolicy:
		return e.retryStore(ctx, func() error { return e.fetchKeyringPolicy(ctx, r) })
	case StepGenerateSalt:
		return e.generateSalt(r)
	case StepGenerateKeyMaterial:
		return e.generateKeyMaterial(ctx, r)
	case StepUploadToVault:
		return e.retryVault(ctx, func() error { return e.uploadToVault(ctx, r) })
	case StepRecordDataKey:
		return e.retryStore(ctx, func() error { return e.recordDataKey(ctx, r) })
	default:
		return errs.Wrapf(ErrStepFailed, "unknown step "+step)
	}
}

func (e *Engine) resolveTenantRoute(ctx context.Context, r *run) error {
	tenant := &model.Tenant{ID: r.wf.TenantID}

	found, err := e.repo.First(ctx, tenant, *repo.NewQuery())
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}

	if !found {
		return errs.Wrapf(repo.ErrTenantNotFound, r.wf.TenantID.String())
	}

	if tenant.SchemaName == "" {
		// The tenant has no pinned schema: derive the dedicated binding
		// from its id.
		schemaName, err := base62.EncodeSchemaNameBase62(tenant.ID.String())
		if err != nil {
			return errs.Wrap(repo.ErrTenantNotFound, err)
		}

		tenant.SchemaName = schemaName
	}

	r.wf.SchemaName = tenant.SchemaName

	return nil
}

func (e *Engine) fetchKeyringPolicy(ctx context.Context, r *run) error {
	keyring := &model.Keyring{ID: r.wf.KeyringID}

	found, err := e.repo.First(r.tenantContext(ctx), keyring, *repo.NewQuery())
	if err != nil {
		return err
	}

	if !found {
		return errs.Wrapf(repo.ErrNotFound, "keyring "+r.wf.KeyringID.String())
	}

	r.keyring = *keyring

	return nil
}

// ensureKeyring reloads the policy when a resume entered past the fetch
// step.
func (e *Engine) ensureKeyring(ctx context.Context, r *run) error {
	if r.keyring.ID != uuid.Nil {
		return nil
	}

	return e.retryStore(ctx, func() error { return e.fetchKeyringPolicy(ctx, r) })
}

func (e *Engine) generateSalt(r *run) error {
	salt, err := kdf.NewSalt(r.keyring.Hash)
	if err != nil {
		return err
	}

	macInfo := make([]byte, macInfoSize)

	_, err = rand.Read(macInfo)
	if err != nil {
		return err
	}

	r.wf.Salt = salt
	r.wf.MacInfo = macInfo

	return nil
}

func (e *Engine) generateKeyMaterial(ctx context.Context, r *run) error {
	err := e.ensureKeyring(ctx, r)
	if err != nil {
		return err
	}

	pair, err := kdf.Generate(kdf.KeyType(r.keyring.KeyType), r.keyring.Hash, r.keyring.KeySize)
	if err != nil {
		return err
	}

	dataKeyID := uuid.New()

	r.wf.PrivateJWK = pair.Private
	r.wf.PublicJWK = pair.Public
	r.wf.DataKeyID = &dataKeyID

	return nil
}

func (e *Engine) uploadToVault(ctx context.Context, r *run) error {
	client, err := e.vaults.ForTenant(r.tenantContext(ctx))
	if err != nil {
		return err
	}

	note, err := manager.EncodeSecretNote(r.wf.PublicJWK, r.wf.Salt, r.wf.MacInfo)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("%s/%s/%s", r.wf.TenantID, r.wf.KeyringID, r.wf.DataKeyID)

	secretID, err := client.CreateSecret(ctx, key, string(r.wf.PrivateJWK), note)
	if err != nil {
		return err
	}

	r.wf.VaultSecretID = &secretID

	return nil
}

func (e *Engine) recordDataKey(ctx context.Context, r *run) error {
	dataKey := &model.DataKey{
		ID:              *r.wf.DataKeyID,
		KeyringID:       r.wf.KeyringID,
		VaultSecretID:   r.wf.VaultSecretID,
		GenerationCount: []byte{0},
	}

	err := e.repo.Create(r.tenantContext(ctx), dataKey)
	// A resumed run may have recorded the row before crashing.
	if errors.Is(err, repo.ErrUniqueConstraint) {
		return nil
	}

	return err
}

// Store and vault retries use a fixed delay equal to the service's
// rate-limit window; the window resets on a fixed schedule, so exponential
// backoff gains nothing.
func (e *Engine) retryStore(ctx context.Context, fn func() error) error {
	return newRetrier(ctx, e.cfg.StoreRetryWindow, e.cfg.StoreAttempts).Do(fn)
}

func (e *Engine) retryVault(ctx context.Context, fn func() error) error {
	return newRetrier(ctx, e.cfg.VaultRetryWindow, e.cfg.VaultAttempts).Do(fn)
}

func newRetrier(ctx context.Context, delay time.Duration, attempts int) *retry.Retrier {
	return retry.New(
		retry.RetryIf(func(err error) bool { return !nonRetryable(err) }),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.Attempts(uint(attempts)),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
}

// nonRetryable marks the terminal failure classes: bad input, unsupported
// algorithm parameters, missing records and vault misconfiguration. Anything
// else is assumed transient.
func nonRetryable(err error) bool {
	return errors.Is(err, ident.ErrInvalidIdentifier) ||
		errors.Is(err, kdf.ErrUnsupportedKeyType) ||
		errors.Is(err, kdf.ErrUnsupportedKeySize) ||
		errors.Is(err, kdf.ErrUnsupportedHash) ||
		errors.Is(err, kdf.ErrKeyGeneration) ||
		errors.Is(err, repo.ErrNotFound) ||
		errors.Is(err, repo.ErrTenantNotFound) ||
		errors.Is(err, vault.ErrNoProject) ||
		errors.Is(err, vault.ErrInvalidAccessToken) ||
		errors.Is(err, manager.ErrVaultDisabled) ||
		errors.Is(err, manager.ErrInvalidSecretNote)
}
