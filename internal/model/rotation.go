package model

import (
	"github.com/google/uuid"
)

// Values persisted in the Step column. The pipeline executes them in the
// order listed; done and failed are terminal.
const (
	StepParsePayload        = "parse_payload"
	StepResolveTenantRoute  = "resolve_tenant_route"
	StepFetchKeyringPolicy  = "fetch_keyring_policy"
	StepGenerateSalt        = "generate_salt"
	StepGenerateKeyMaterial = "generate_key_material"
	StepUploadToVault       = "upload_to_vault"
	StepRecordDataKey       = "record_data_key"
	StepDone                = "done"
	StepFailed              = "failed"
)

// RotationWorkflow is the durable checkpoint row for one key-rotation run.
// It lives in the root store because the early steps execute before the
// tenant route is resolved. Step holds the next step to execute; a worker
// picking the row up re-enters the pipeline there.
type RotationWorkflow struct {
	AutoTimeModel

	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;index"`
	KeyringID uuid.UUID `gorm:"type:uuid;not null;index"`

	Step          string `gorm:"type:varchar(50);not null"`
	FailureReason string `gorm:"type:text"`

	// Checkpointed intermediate results, so a resumed run does not redo
	// completed side effects.
	SchemaName    string     `gorm:"type:varchar(63)"`
	Salt          []byte     `gorm:"type:bytea"`
	PrivateJWK    []byte     `gorm:"type:bytea"`
	PublicJWK     []byte     `gorm:"type:bytea"`
	MacInfo       []byte     `gorm:"type:bytea"`
	VaultSecretID *uuid.UUID `gorm:"type:uuid"`
	DataKeyID     *uuid.UUID `gorm:"type:uuid"`
}

// TableName returns the table name for RotationWorkflow
func (RotationWorkflow) TableName() string {
	return "rotation_workflows"
}

func (RotationWorkflow) IsSharedModel() bool {
	return true
}

// Finished reports whether the workflow reached a terminal step.
func (w RotationWorkflow) Finished() bool {
	return w.Step == StepDone || w.Step == StepFailed
}
