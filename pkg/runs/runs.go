// Package runs persists run records: one per dispatched synchronization run,
// keyed by run_id, carrying the lifecycle state machine's status and stage.
package runs

import (
	"context"
	"time"
)

// Status is the run lifecycle state.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Stage is the pipeline position of a run. Stages are strictly ordered and
// writes may never regress.
type Stage string

const (
	StageQueue        Stage = "QUEUE"
	StageFetchInputs  Stage = "FETCH_INPUTS"
	StageNormalize    Stage = "NORMALIZE"
	StageMergePrice   Stage = "MERGE_PRICE"
	StageWriteOutputs Stage = "WRITE_OUTPUTS"
	StageComplete     Stage = "COMPLETE"
)

var stageOrder = []Stage{
	StageQueue,
	StageFetchInputs,
	StageNormalize,
	StageMergePrice,
	StageWriteOutputs,
	StageComplete,
}

// Index returns the stage's position in the pipeline order, or -1 for an
// unknown stage.
func (s Stage) Index() int {
	for i, stage := range stageOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

// Max returns the later of two stages.
func (s Stage) Max(other Stage) Stage {
	if other.Index() > s.Index() {
		return other
	}
	return s
}

// Run-level error codes written to failed run records.
const (
	ErrCodeMissingTenantConfig      = "missing_tenant_config"
	ErrCodeUnsupportedSchemaVersion = "unsupported_schema_version"
	ErrCodeRequiredVendorMissing    = "REQUIRED_VENDOR_MISSING"
	ErrCodeOptionalVendorMissing    = "OPTIONAL_VENDOR_MISSING"
	ErrCodeDecodeError              = "DECODE_ERROR"
	ErrCodeMissingRequiredColumns   = "missing_required_columns"
	ErrCodeInvalidInput             = "invalid_input"
	ErrCodeNoRowsParsed             = "no_rows_parsed"
	ErrCodeValidationErrors         = "validation_errors"
	ErrCodePoisonJob                = "POISON_JOB"
)

// Job is the queue message body that dispatches one run.
type Job struct {
	RunID         string   `json:"run_id"`
	TenantID      string   `json:"tenant_id"`
	Vendors       []string `json:"vendors"`
	ConfigVersion int      `json:"config_version"`
}

// Record is the persisted state of one run.
type Record struct {
	RunID             string            `json:"run_id" dynamodbav:"run_id"`
	TenantID          string            `json:"tenant_id" dynamodbav:"tenant_id"`
	ConfigVersion     int               `json:"config_version" dynamodbav:"config_version"`
	Status            Status            `json:"status" dynamodbav:"status"`
	Stage             Stage             `json:"stage,omitempty" dynamodbav:"stage,omitempty"`
	RequestedAt       time.Time         `json:"requested_at" dynamodbav:"requested_at"`
	StartedAt         *time.Time        `json:"started_at,omitempty" dynamodbav:"started_at,omitempty"`
	FinishedAt        *time.Time        `json:"finished_at,omitempty" dynamodbav:"finished_at,omitempty"`
	FailedStage       Stage             `json:"failed_stage,omitempty" dynamodbav:"failed_stage,omitempty"`
	ErrorCode         string            `json:"error_code,omitempty" dynamodbav:"error_code,omitempty"`
	ErrorMessage      string            `json:"error_message,omitempty" dynamodbav:"error_message,omitempty"`
	ErrorsArtifactKey string            `json:"errors_artifact_key,omitempty" dynamodbav:"errors_artifact_key,omitempty"`
	ErrorReportKey    string            `json:"error_report_key,omitempty" dynamodbav:"error_report_key,omitempty"`
	Artifacts         map[string]string `json:"artifacts,omitempty" dynamodbav:"artifacts,omitempty"`
}

// Update is a partial run-record write. Nil fields are untouched;
// ClearFields names attributes to remove outright.
type Update struct {
	Stage             *Stage
	StartedAt         *time.Time
	FinishedAt        *time.Time
	FailedStage       *Stage
	ErrorCode         *string
	ErrorMessage      *string
	ErrorsArtifactKey *string
	ErrorReportKey    *string
	Artifacts         map[string]string
	ClearFields       []string
}

// Store is the run persistence surface. UpdateStatus applies a partial
// update; stage monotonicity is the caller's concern (the worker clamps
// before writing).
type Store interface {
	Create(ctx context.Context, record *Record) error
	UpdateStatus(ctx context.Context, runID string, status Status, update Update) error
	Get(ctx context.Context, runID string) (*Record, error)
	FindRunningByTenant(ctx context.Context, tenantID string) (*Record, error)
}
