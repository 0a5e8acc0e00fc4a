package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Relay-Inventory/relay-inventory-service/pkg/faults"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/queue"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/runs"
)

// startHeartbeat extends the message's visibility immediately and then keeps
// extending it on a timer until the returned stop function is called.
// Heartbeat errors are logged, never fatal to the job.
func (w *Worker) startHeartbeat(ctx context.Context, receiptHandle string) func() {
	if w.queue == nil || w.settings.VisibilityTimeout <= 0 {
		return func() {}
	}
	if err := w.queue.ChangeVisibility(ctx, receiptHandle, w.settings.VisibilityTimeout); err != nil {
		w.logger.WarnContext(ctx, "queue_visibility_error", "error", err)
	}
	if w.settings.HeartbeatInterval <= 0 {
		return func() {}
	}

	heartbeatCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(w.settings.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatCtx.Done():
				return
			case <-ticker.C:
				if err := w.queue.ChangeVisibility(heartbeatCtx, receiptHandle, w.settings.VisibilityTimeout); err != nil {
					w.logger.WarnContext(heartbeatCtx, "queue_visibility_error", "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.sink.RecordWorkerError(ctx, "queue_delete_error")
		w.logger.WarnContext(ctx, "queue_delete_error", "error", err)
	}
}

// findActiveTenantRun returns the run_id of another RUNNING run for the
// tenant, or "" when the tenant is idle.
func (w *Worker) findActiveTenantRun(ctx context.Context, tenantID, excludeRunID string) (string, error) {
	record, err := w.runs.FindRunningByTenant(ctx, tenantID)
	if err != nil {
		return "", faults.Retryable(err)
	}
	if record != nil && record.RunID != excludeRunID {
		return record.RunID, nil
	}
	return "", nil
}

// ProcessMessage runs the claim protocol for one delivery: duplicate
// detection, poison handling, the per-tenant lock probe, then the job itself
// under a visibility heartbeat. It decides the message's fate — deleted on
// terminal outcomes, left to reappear on retryable ones.
func (w *Worker) ProcessMessage(ctx context.Context, message *queue.Message) error {
	if w.queue == nil {
		return fmt.Errorf("queue not configured")
	}

	var job runs.Job
	if err := json.Unmarshal(message.Body, &job); err != nil || job.RunID == "" || job.TenantID == "" {
		// A body that cannot name a run can never be processed: leave it for
		// the queue's redrive policy to dead-letter.
		w.sink.RecordWorkerError(ctx, "malformed_job")
		w.logger.ErrorContext(ctx, "malformed_job",
			"receive_count", message.ReceiveCount, "error", err)
		return nil
	}

	record, err := w.runs.Get(ctx, job.RunID)
	if err != nil {
		w.sink.RecordWorkerError(ctx, "run_store_error")
		w.logger.WarnContext(ctx, "run_store_error", "run_id", job.RunID, "error", err)
		return faults.Retryable(err)
	}

	if record != nil && (record.Status == runs.StatusRunning || record.Status == runs.StatusSucceeded) {
		w.logger.InfoContext(ctx, "run_already_processed",
			"run_id", job.RunID, "tenant_id", job.TenantID, "status", string(record.Status))
		w.deleteMessage(ctx, message.ReceiptHandle)
		return nil
	}
	if record != nil && record.Status == runs.StatusFailed && record.ErrorCode == runs.ErrCodePoisonJob {
		w.logger.InfoContext(ctx, "poison_job_already_failed",
			"run_id", job.RunID, "tenant_id", job.TenantID, "receive_count", message.ReceiveCount)
		return nil
	}

	if message.ReceiveCount >= w.settings.PoisonMaxReceives {
		queueStage := runs.StageQueue
		finishedAt := w.now().UTC()
		code := runs.ErrCodePoisonJob
		errorMessage := fmt.Sprintf("Job exceeded max receives (%d/%d)",
			message.ReceiveCount, w.settings.PoisonMaxReceives)
		if err := w.updateRunStatus(ctx, job.RunID, runs.StatusFailed, runs.Update{
			Stage:        &queueStage,
			FailedStage:  &queueStage,
			FinishedAt:   &finishedAt,
			ErrorCode:    &code,
			ErrorMessage: &errorMessage,
		}); err != nil {
			return err
		}
		w.sink.RecordWorkerError(ctx, "poison_job")
		w.logger.ErrorContext(ctx, "poison_job_detected",
			"run_id", job.RunID, "tenant_id", job.TenantID, "receive_count", message.ReceiveCount)
		return nil
	}

	activeRunID, err := w.findActiveTenantRun(ctx, job.TenantID, job.RunID)
	if err != nil {
		return err
	}
	if activeRunID != "" {
		w.logger.InfoContext(ctx, "tenant_run_in_progress",
			"run_id", job.RunID, "tenant_id", job.TenantID, "active_run_id", activeRunID)
		if err := w.queue.ChangeVisibility(ctx, message.ReceiptHandle, w.settings.TenantBackoff); err != nil {
			w.sink.RecordWorkerError(ctx, "queue_visibility_error")
			w.logger.WarnContext(ctx, "queue_visibility_error", "error", err)
		}
		return nil
	}

	if record != nil && record.Status == runs.StatusFailed {
		w.logger.InfoContext(ctx, "run_already_processed",
			"run_id", job.RunID, "tenant_id", job.TenantID, "status", string(record.Status))
		w.deleteMessage(ctx, message.ReceiptHandle)
		return nil
	}

	stopHeartbeat := w.startHeartbeat(ctx, message.ReceiptHandle)
	defer stopHeartbeat()

	err = w.RunJob(ctx, job)
	switch {
	case err == nil:
		w.deleteMessage(ctx, message.ReceiptHandle)
		return nil
	case faults.IsNonRetryable(err):
		// Terminal status is already written; the message must not come back.
		w.deleteMessage(ctx, message.ReceiptHandle)
		finishedAt := w.now().UTC()
		errorMessage := err.Error()
		if updateErr := w.updateRunStatus(ctx, job.RunID, runs.StatusFailed, runs.Update{
			FinishedAt:   &finishedAt,
			ErrorMessage: &errorMessage,
		}); updateErr != nil {
			w.logger.WarnContext(ctx, "run_status_update_error",
				"run_id", job.RunID, "error", updateErr)
		}
		if w.obs != nil {
			w.obs.RunFinished(ctx, job.TenantID, true, 0)
		}
		w.logger.InfoContext(ctx, "run_failed",
			"run_id", job.RunID, "tenant_id", job.TenantID, "error", err.Error())
		return nil
	default:
		// Retryable: leave the message; visibility will lapse and the next
		// delivery resumes the still-RUNNING record.
		w.sink.RecordWorkerError(ctx, "run_retryable_error")
		w.logger.WarnContext(ctx, "run_retryable_error",
			"run_id", job.RunID, "tenant_id", job.TenantID, "error", err.Error())
		return err
	}
}

// Run is the worker's receive loop. Up to Concurrency jobs execute in
// parallel; the loop itself is the only receiver. It returns when ctx is
// canceled and all in-flight jobs have drained.
func (w *Worker) Run(ctx context.Context) error {
	if w.queue == nil {
		return fmt.Errorf("queue not configured")
	}
	concurrency := w.settings.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	slots := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for ctx.Err() == nil {
		message, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.sink.RecordWorkerError(ctx, "queue_receive_error")
			w.logger.WarnContext(ctx, "queue_receive_error", "error", err)
			continue
		}
		if message == nil {
			continue
		}
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(msg *queue.Message) {
			defer wg.Done()
			defer func() { <-slots }()
			_ = w.ProcessMessage(ctx, msg)
		}(message)
	}
	wg.Wait()
	return ctx.Err()
}
