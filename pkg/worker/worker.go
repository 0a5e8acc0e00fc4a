// Package worker executes inventory-sync run jobs: it claims queue messages,
// drives the staged pipeline over the object store, and owns every run-record
// transition. The pipeline math itself lives in pkg/engine; everything impure
// is here.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/Relay-Inventory/relay-inventory-service/pkg/canonical"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/config"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/engine"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/faults"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/metrics"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/observability"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/queue"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/runs"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/storage"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/tenantstore"
)

// Options wire a Worker's collaborators. Queue may be nil for direct RunJob
// invocation (local tooling and tests).
type Options struct {
	Blobs    storage.BlobStore
	Runs     runs.Store
	Tenants  tenantstore.Store
	Queue    queue.JobQueue
	Metrics  metrics.Sink
	Obs      *observability.Provider
	Logger   *slog.Logger
	Settings config.WorkerSettings
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Worker is one queue-consumer process.
type Worker struct {
	blobs    storage.BlobStore
	runs     runs.Store
	tenants  tenantstore.Store
	queue    queue.JobQueue
	sink     metrics.Sink
	obs      *observability.Provider
	logger   *slog.Logger
	settings config.WorkerSettings
	now      func() time.Time
}

// New builds a Worker.
func New(opts Options) *Worker {
	w := &Worker{
		blobs:    opts.Blobs,
		runs:     opts.Runs,
		tenants:  opts.Tenants,
		queue:    opts.Queue,
		sink:     opts.Metrics,
		obs:      opts.Obs,
		logger:   opts.Logger,
		settings: opts.Settings,
		now:      opts.Now,
	}
	if w.sink == nil {
		w.sink = metrics.NopSink{}
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.now == nil {
		w.now = time.Now
	}
	return w
}

// updateRunStatus writes a partial run-record update, clamping stage
// regressions to the currently persisted stage and never overwriting an
// existing started_at.
func (w *Worker) updateRunStatus(ctx context.Context, runID string, status runs.Status, update runs.Update) error {
	if update.Stage != nil || update.StartedAt != nil {
		record, err := w.runs.Get(ctx, runID)
		if err != nil {
			return faults.Retryable(err)
		}
		if record != nil {
			if update.Stage != nil && record.Stage.Index() >= 0 {
				clamped := record.Stage.Max(*update.Stage)
				update.Stage = &clamped
			}
			if update.StartedAt != nil && record.StartedAt != nil {
				update.StartedAt = nil
			}
		}
	}
	if err := w.runs.UpdateStatus(ctx, runID, status, update); err != nil {
		return faults.Retryable(err)
	}
	return nil
}

func runPrefix(runID, tenantID string) string {
	return fmt.Sprintf("%s/tenants/%s", runID, tenantID)
}

// ensureRunPrefix guards the run-scoped artifact namespace.
func ensureRunPrefix(runID, key string) error {
	if !strings.HasPrefix(key, runID+"/") {
		return fmt.Errorf("artifact key must be under %s/ prefix: %s", runID, key)
	}
	return nil
}

func inboundCopyKey(runID, tenantID, vendorID, sourceKey string) string {
	filename := path.Base(sourceKey)
	if filename == "." || filename == "/" || filename == "" {
		filename = "inbound"
	}
	return fmt.Sprintf("%s/inbound/%s/%s", runPrefix(runID, tenantID), vendorID, filename)
}

// writeErrorReport uploads the error entries as errors.json and returns its
// key.
func (w *Worker) writeErrorReport(ctx context.Context, runID, tenantID string, entries []map[string]any) (string, error) {
	errorsKey := fmt.Sprintf("%s/reports/errors.json", runPrefix(runID, tenantID))
	if err := ensureRunPrefix(runID, errorsKey); err != nil {
		return "", err
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	if err := w.blobs.UploadText(ctx, errorsKey, string(payload)); err != nil {
		return "", faults.Retryable(err)
	}
	return errorsKey, nil
}

// failRun drives every terminal-failure write: it guarantees an error
// artifact exists, persists the failure fields with finished_at, emits
// RunFailed=1, and returns the NonRetryableError the queue loop dispatches
// on.
func (w *Worker) failRun(
	ctx context.Context,
	job runs.Job,
	stage runs.Stage,
	code string,
	message string,
	artifacts map[string]string,
	errorsKey string,
) error {
	if errorsKey == "" {
		key, err := w.writeErrorReport(ctx, job.RunID, job.TenantID, []map[string]any{{
			"error_code":    code,
			"error_message": message,
		}})
		if err != nil {
			return err
		}
		errorsKey = key
	}
	if artifacts == nil {
		artifacts = map[string]string{}
	}
	if _, ok := artifacts["errors"]; !ok {
		artifacts["errors"] = errorsKey
	}
	finishedAt := w.now().UTC()
	if err := w.updateRunStatus(ctx, job.RunID, runs.StatusFailed, runs.Update{
		Stage:             &stage,
		FinishedAt:        &finishedAt,
		FailedStage:       &stage,
		ErrorCode:         &code,
		ErrorMessage:      &message,
		ErrorsArtifactKey: &errorsKey,
		ErrorReportKey:    &errorsKey,
		Artifacts:         artifacts,
	}); err != nil {
		return err
	}
	w.sink.RecordRunFailure(ctx, job.TenantID, true)
	return faults.NonRetryable(code, message)
}

// vendorFetch is one vendor's input-manifest entry.
type vendorFetch = map[string]any

// RunJob executes the staged pipeline for one claimed job. Errors are either
// retryable (infrastructure; the run record stays RUNNING) or non-retryable
// (the record is already terminal when the error returns).
func (w *Worker) RunJob(ctx context.Context, job runs.Job) error {
	w.logger.InfoContext(ctx, "run_started", "run_id", job.RunID, "tenant_id", job.TenantID)
	if w.obs != nil {
		w.obs.RunStarted(ctx, job.TenantID)
	}

	startedAt := w.now().UTC()
	fetchStage := runs.StageFetchInputs
	if err := w.updateRunStatus(ctx, job.RunID, runs.StatusRunning, runs.Update{
		Stage:     &fetchStage,
		StartedAt: &startedAt,
	}); err != nil {
		return err
	}

	tenantRecord, err := w.tenants.Get(ctx, job.TenantID, job.ConfigVersion)
	if err != nil {
		return faults.Retryable(err)
	}
	if tenantRecord == nil {
		return w.failRun(ctx, job, runs.StageFetchInputs,
			runs.ErrCodeMissingTenantConfig, "missing tenant config", nil, "")
	}
	cfg := tenantRecord.Config
	cfg.ApplyDefaults()

	artifacts := map[string]string{}
	var warnings []string
	var missingVendorErrors []map[string]any
	startTime := w.now()
	stageTimes := map[string]float64{}
	prefix := runPrefix(job.RunID, job.TenantID)
	reportsPrefix := prefix + "/reports"

	// Pinned config snapshot, so a run's inputs remain auditable after later
	// config versions land.
	snapshotKey := reportsPrefix + "/config_snapshot.json"
	if err := ensureRunPrefix(job.RunID, snapshotKey); err != nil {
		return err
	}
	snapshot, err := json.Marshal(map[string]any{
		"run_id":         job.RunID,
		"tenant_id":      job.TenantID,
		"config_version": job.ConfigVersion,
		"tenant_config":  &cfg,
	})
	if err != nil {
		return err
	}
	if err := w.blobs.UploadText(ctx, snapshotKey, string(snapshot)); err != nil {
		return faults.Retryable(err)
	}
	artifacts["config_snapshot"] = snapshotKey

	vendorInputs := map[string][]byte{}
	vendorLatest := map[string]vendorFetch{}
	ingestStart := w.now()
	for _, vendor := range cfg.Vendors {
		inboundPrefix := vendor.Inbound.S3Prefix
		latest, err := w.blobs.ListLatest(ctx, inboundPrefix)
		if err != nil {
			return faults.Retryable(err)
		}
		if latest == nil {
			vendorLatest[vendor.VendorID] = vendorFetch{
				"status":          "missing",
				"s3_prefix":       inboundPrefix,
				"required":        vendor.Required,
				"expected_prefix": inboundPrefix,
				"reason":          "no_objects_found",
			}
			continue
		}
		vendorLatest[vendor.VendorID] = vendorFetch{
			"status":          "found",
			"s3_prefix":       inboundPrefix,
			"required":        vendor.Required,
			"expected_prefix": inboundPrefix,
			"s3_key":          latest.Key,
			"etag":            latest.ETag,
			"size":            latest.Size,
			"last_modified":   latest.LastModified.UTC().Format(time.RFC3339),
			"selection":       "latest_by_last_modified",
		}
		raw, err := w.blobs.DownloadBytes(ctx, latest.Key)
		if err != nil {
			return faults.Retryable(err)
		}
		vendorInputs[vendor.VendorID] = raw

		copyKey := inboundCopyKey(job.RunID, job.TenantID, vendor.VendorID, latest.Key)
		if err := ensureRunPrefix(job.RunID, copyKey); err != nil {
			return err
		}
		if err := w.blobs.UploadBytes(ctx, copyKey, raw); err != nil {
			return faults.Retryable(err)
		}
		vendorLatest[vendor.VendorID]["run_copy_key"] = copyKey
		artifacts["inbound_"+vendor.VendorID] = copyKey

		if vendor.SkuMap != nil && vendor.SkuMap.S3Key != "" {
			skuBytes, err := w.blobs.DownloadBytes(ctx, vendor.SkuMap.S3Key)
			if err != nil {
				return faults.Retryable(err)
			}
			vendorInputs[engine.SkuMapInputKey(vendor.VendorID)] = skuBytes
		}
	}
	stageTimes["ingest_seconds"] = w.now().Sub(ingestStart).Seconds()

	var missingRequired, missingOptional []config.VendorConfig
	for _, vendor := range cfg.Vendors {
		if _, ok := vendorInputs[vendor.VendorID]; ok {
			continue
		}
		if vendor.Required {
			missingRequired = append(missingRequired, vendor)
		} else {
			missingOptional = append(missingOptional, vendor)
		}
	}

	if len(missingRequired) > 0 && cfg.ErrorPolicy.MissingRequiredVendorPolicy != config.MissingVendorWarnOnly {
		expected := make([]string, 0, len(missingRequired))
		for _, vendor := range missingRequired {
			expected = append(expected,
				fmt.Sprintf("%s (expected prefix %s)", vendor.VendorID, vendor.Inbound.S3Prefix))
		}
		message := "required vendor inbound missing: " + strings.Join(expected, ", ")
		return w.failRun(ctx, job, runs.StageFetchInputs,
			runs.ErrCodeRequiredVendorMissing, message, artifacts, "")
	}

	for _, vendor := range missingOptional {
		missingVendorErrors = append(missingVendorErrors, map[string]any{
			"error_code": runs.ErrCodeOptionalVendorMissing,
			"error_message": fmt.Sprintf(
				"optional vendor inbound missing for %s (expected prefix %s)",
				vendor.VendorID, vendor.Inbound.S3Prefix),
			"vendor_id":       vendor.VendorID,
			"expected_prefix": vendor.Inbound.S3Prefix,
		})
		warnings = append(warnings, "optional_vendor_missing:"+vendor.VendorID)
	}
	if len(missingRequired) > 0 && cfg.ErrorPolicy.MissingRequiredVendorPolicy == config.MissingVendorWarnOnly {
		for _, vendor := range missingRequired {
			missingVendorErrors = append(missingVendorErrors, map[string]any{
				"error_code": runs.ErrCodeRequiredVendorMissing,
				"error_message": fmt.Sprintf(
					"required vendor inbound missing for %s (expected prefix %s)",
					vendor.VendorID, vendor.Inbound.S3Prefix),
				"vendor_id":       vendor.VendorID,
				"expected_prefix": vendor.Inbound.S3Prefix,
			})
			warnings = append(warnings, "required_vendor_missing:"+vendor.VendorID)
		}
	}

	manifestKey := reportsPrefix + "/input_manifest.json"
	if err := ensureRunPrefix(job.RunID, manifestKey); err != nil {
		return err
	}
	manifest, err := json.Marshal(map[string]any{
		"run_id":         job.RunID,
		"tenant_id":      job.TenantID,
		"config_version": job.ConfigVersion,
		"generated_at":   w.now().UTC().Format(time.RFC3339),
		"vendors":        vendorLatest,
	})
	if err != nil {
		return err
	}
	if err := w.blobs.UploadText(ctx, manifestKey, string(manifest)); err != nil {
		return faults.Retryable(err)
	}
	artifacts["input_manifest"] = manifestKey

	if cfg.SchemaVersion != config.SupportedSchemaVersion {
		message := fmt.Sprintf("unsupported schema_version %d", cfg.SchemaVersion)
		return w.failRun(ctx, job, runs.StageFetchInputs,
			runs.ErrCodeUnsupportedSchemaVersion, message, artifacts, "")
	}

	engineStart := w.now()
	normalizeStage := runs.StageNormalize
	if err := w.updateRunStatus(ctx, job.RunID, runs.StatusRunning, runs.Update{Stage: &normalizeStage}); err != nil {
		return err
	}
	engineResult, err := engine.Run(vendorInputs, &cfg, job.RunID, engineStart.UTC())
	if err != nil {
		var decodeErr *engine.DecodeError
		var missingCols *engine.MissingRequiredColumnsError
		switch {
		case errors.As(err, &decodeErr):
			message := fmt.Sprintf("decode error for vendor %s: %s", decodeErr.VendorID, decodeErr.Message)
			return w.failRun(ctx, job, runs.StageNormalize,
				runs.ErrCodeDecodeError, message, artifacts, "")
		case errors.As(err, &missingCols):
			return w.failRun(ctx, job, runs.StageNormalize,
				runs.ErrCodeMissingRequiredColumns, err.Error(), artifacts, "")
		default:
			return w.failRun(ctx, job, runs.StageNormalize,
				runs.ErrCodeInvalidInput, err.Error(), artifacts, "")
		}
	}
	stageTimes["engine_seconds"] = w.now().Sub(engineStart).Seconds()

	mergeStage := runs.StageMergePrice
	if err := w.updateRunStatus(ctx, job.RunID, runs.StatusRunning, runs.Update{Stage: &mergeStage}); err != nil {
		return err
	}

	for vendorID, normalizedRows := range engineResult.NormalizedByVendor {
		if _, ok := vendorInputs[vendorID]; !ok {
			continue
		}
		normalizedKey := fmt.Sprintf("%s/normalized/%s/normalized.csv", prefix, vendorID)
		if err := ensureRunPrefix(job.RunID, normalizedKey); err != nil {
			return err
		}
		normalizedBytes, err := canonical.EncodeCSV(normalizedRows, canonical.Columns, canonical.ExtrasRaise)
		if err != nil {
			return err
		}
		if err := w.blobs.UploadBytes(ctx, normalizedKey, normalizedBytes); err != nil {
			return faults.Retryable(err)
		}
		artifacts["normalized_"+vendorID] = normalizedKey
	}

	errorKey := ""
	errorEntries := append([]map[string]any{}, missingVendorErrors...)
	for _, parseErr := range engineResult.Errors {
		errorEntries = append(errorEntries, map[string]any{
			"row_number": parseErr.RowNumber,
			"reason":     parseErr.Reason,
			"row_data":   parseErr.RowData,
		})
	}
	if len(errorEntries) > 0 {
		key, err := w.writeErrorReport(ctx, job.RunID, job.TenantID, errorEntries)
		if err != nil {
			return err
		}
		errorKey = key
		artifacts["errors"] = errorKey
	}

	invalidRows := len(engineResult.Errors)
	totalRows := engineResult.Summary.TotalRows
	if totalRows == 0 && len(missingVendorErrors) == 0 {
		err := w.failRun(ctx, job, runs.StageMergePrice,
			runs.ErrCodeNoRowsParsed, "no rows parsed", artifacts, errorKey)
		w.logger.InfoContext(ctx, "run_failed",
			"run_id", job.RunID, "tenant_id", job.TenantID, "error_report_key", errorKey)
		return err
	}
	exceedsRowCount := invalidRows > cfg.ErrorPolicy.MaxInvalidRows
	exceedsRowPct := totalRows > 0 &&
		float64(invalidRows)/float64(totalRows) > cfg.ErrorPolicy.MaxInvalidRowPct
	if invalidRows > 0 && (exceedsRowCount || exceedsRowPct) {
		err := w.failRun(ctx, job, runs.StageMergePrice,
			runs.ErrCodeValidationErrors, "validation errors", artifacts, errorKey)
		w.logger.InfoContext(ctx, "run_failed",
			"run_id", job.RunID, "tenant_id", job.TenantID, "error_report_key", errorKey)
		return err
	}
	if invalidRows > 0 {
		warnings = append(warnings, "invalid_rows_within_threshold")
	}

	outputStart := w.now()
	outputsStage := runs.StageWriteOutputs
	if err := w.updateRunStatus(ctx, job.RunID, runs.StatusRunning, runs.Update{Stage: &outputsStage}); err != nil {
		return err
	}
	outputKey := prefix + "/outputs/merged_inventory.csv"
	if err := ensureRunPrefix(job.RunID, outputKey); err != nil {
		return err
	}
	outputColumns := cfg.Output.Columns
	if len(outputColumns) == 0 {
		outputColumns = canonical.Columns
	}
	outputBytes, err := canonical.EncodeCSV(engineResult.MergedRows, outputColumns, canonical.ExtrasIgnore)
	if err != nil {
		return err
	}
	if err := w.blobs.UploadBytes(ctx, outputKey, outputBytes); err != nil {
		return faults.Retryable(err)
	}
	artifacts["merged_inventory"] = outputKey
	stageTimes["output_seconds"] = w.now().Sub(outputStart).Seconds()

	summaryKey := reportsPrefix + "/run_summary.json"
	if err := ensureRunPrefix(job.RunID, summaryKey); err != nil {
		return err
	}
	completedAt := w.now().UTC()
	if warnings == nil {
		warnings = []string{}
	}
	summary, err := json.Marshal(map[string]any{
		"run_id":               job.RunID,
		"tenant_id":            job.TenantID,
		"config_version":       job.ConfigVersion,
		"vendor_count":         engineResult.Summary.VendorCount,
		"record_count":         engineResult.Summary.RecordCount,
		"vendor_record_counts": engineResult.Summary.VendorRecordCounts,
		"invalid_rows":         engineResult.Summary.InvalidRows,
		"total_rows":           engineResult.Summary.TotalRows,
		"warnings":             warnings,
		"duration_seconds":     completedAt.Sub(startTime).Seconds(),
		"stage_times":          stageTimes,
		"completed_at":         completedAt.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if err := w.blobs.UploadText(ctx, summaryKey, string(summary)); err != nil {
		return faults.Retryable(err)
	}
	artifacts["run_summary"] = summaryKey

	completeStage := runs.StageComplete
	finishedAt := w.now().UTC()
	if err := w.updateRunStatus(ctx, job.RunID, runs.StatusSucceeded, runs.Update{
		Stage:      &completeStage,
		FinishedAt: &finishedAt,
		Artifacts:  artifacts,
		ClearFields: []string{
			"failed_stage",
			"error_code",
			"error_message",
			"errors_artifact_key",
			"error_report_key",
		},
	}); err != nil {
		return err
	}
	w.sink.RecordRunFailure(ctx, job.TenantID, false)
	if w.obs != nil {
		w.obs.RunFinished(ctx, job.TenantID, false, finishedAt.Sub(startTime))
	}
	w.logger.InfoContext(ctx, "run_succeeded",
		"run_id", job.RunID, "tenant_id", job.TenantID, "artifact_count", len(artifacts))
	return nil
}
