package worker_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Relay-Inventory/relay-inventory-service/pkg/config"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/runs"
)

func jobBody(t *testing.T, job runs.Job) []byte {
	t.Helper()
	body, err := json.Marshal(&job)
	require.NoError(t, err)
	return body
}

func TestProcessMessagePoisonJobNotDeleted(t *testing.T) {
	f := newFixture(t)
	job := f.createRun(t, "run-1")
	handle := f.queue.Push(jobBody(t, job), 5)
	message, err := f.queue.Receive(context.Background())
	require.NoError(t, err)

	require.NoError(t, f.worker.ProcessMessage(context.Background(), message))

	record := f.getRun(t, "run-1")
	assert.Equal(t, runs.StatusFailed, record.Status)
	assert.Equal(t, runs.ErrCodePoisonJob, record.ErrorCode)
	assert.Equal(t, runs.StageQueue, record.Stage)
	assert.Equal(t, runs.StageQueue, record.FailedStage)
	require.NotNil(t, record.FinishedAt)
	assert.False(t, f.queue.Deleted(handle), "poison message must be left for the redrive policy")

	_, workerErrors := f.sink.Snapshot()
	assert.Contains(t, workerErrors, "poison_job")
}

func TestProcessMessagePoisonRedeliveryIsNoOp(t *testing.T) {
	f := newFixture(t)
	job := f.createRun(t, "run-1")
	first := f.queue.Push(jobBody(t, job), 5)
	message, _ := f.queue.Receive(context.Background())
	require.NoError(t, f.worker.ProcessMessage(context.Background(), message))
	firstRecord := f.getRun(t, "run-1")

	second := f.queue.Push(jobBody(t, job), 6)
	redelivery, _ := f.queue.Receive(context.Background())
	require.NoError(t, f.worker.ProcessMessage(context.Background(), redelivery))

	assert.Equal(t, firstRecord, f.getRun(t, "run-1"), "redelivery must not re-transition the record")
	assert.False(t, f.queue.Deleted(first))
	assert.False(t, f.queue.Deleted(second))
}

func TestProcessMessageTenantLockBacksOff(t *testing.T) {
	f := newFixture(t)
	f.putTenant(t, testConfig(config.ErrorPolicy{
		FailOnMissingRequiredColumns: true,
		MissingRequiredVendorPolicy:  config.MissingVendorFail,
	}))
	// R1 holds the tenant.
	require.NoError(t, f.runs.Create(context.Background(), &runs.Record{
		RunID:         "run-1",
		TenantID:      "tenant-a",
		ConfigVersion: 1,
		Status:        runs.StatusRunning,
		RequestedAt:   frozenNow,
	}))
	job2 := f.createRun(t, "run-2")
	handle := f.queue.Push(jobBody(t, job2), 1)
	message, _ := f.queue.Receive(context.Background())

	require.NoError(t, f.worker.ProcessMessage(context.Background(), message))

	record := f.getRun(t, "run-2")
	assert.Equal(t, runs.StatusQueued, record.Status, "deferred run must not start")
	assert.False(t, f.queue.Deleted(handle))
	changes := f.queue.VisibilityChanges(handle)
	require.Len(t, changes, 1)
	assert.Equal(t, 30*time.Second, changes[0])

	// R1 terminates; the redelivery proceeds.
	require.NoError(t, f.runs.UpdateStatus(context.Background(), "run-1", runs.StatusSucceeded, runs.Update{}))
	f.putVendorCSV("vendor-a/input.csv", "sku,quantity_available,cost\nSKU1,1,10\n")
	retry := f.queue.Push(jobBody(t, job2), 2)
	redelivery, _ := f.queue.Receive(context.Background())
	require.NoError(t, f.worker.ProcessMessage(context.Background(), redelivery))

	assert.Equal(t, runs.StatusSucceeded, f.getRun(t, "run-2").Status)
	assert.True(t, f.queue.Deleted(retry))
}

func TestProcessMessageDuplicateDeliveryOfSucceededRunDeletes(t *testing.T) {
	f := newFixture(t)
	job := f.createRun(t, "run-1")
	require.NoError(t, f.runs.UpdateStatus(context.Background(), "run-1", runs.StatusSucceeded, runs.Update{}))
	handle := f.queue.Push(jobBody(t, job), 2)
	message, _ := f.queue.Receive(context.Background())

	require.NoError(t, f.worker.ProcessMessage(context.Background(), message))

	assert.True(t, f.queue.Deleted(handle))
	assert.Equal(t, runs.StatusSucceeded, f.getRun(t, "run-1").Status)
}

func TestProcessMessageDuplicateDeliveryOfRunningRunDeletes(t *testing.T) {
	f := newFixture(t)
	job := f.createRun(t, "run-1")
	require.NoError(t, f.runs.UpdateStatus(context.Background(), "run-1", runs.StatusRunning, runs.Update{}))
	handle := f.queue.Push(jobBody(t, job), 2)
	message, _ := f.queue.Receive(context.Background())

	require.NoError(t, f.worker.ProcessMessage(context.Background(), message))
	assert.True(t, f.queue.Deleted(handle))
}

func TestProcessMessageMalformedBodyLeftForRedrive(t *testing.T) {
	f := newFixture(t)
	handle := f.queue.Push([]byte("{not json"), 1)
	message, _ := f.queue.Receive(context.Background())

	require.NoError(t, f.worker.ProcessMessage(context.Background(), message))

	assert.False(t, f.queue.Deleted(handle))
	_, workerErrors := f.sink.Snapshot()
	assert.Contains(t, workerErrors, "malformed_job")
}

func TestProcessMessageSuccessDeletesAndExtendsVisibility(t *testing.T) {
	f := newFixture(t)
	f.putTenant(t, testConfig(config.ErrorPolicy{
		FailOnMissingRequiredColumns: true,
		MissingRequiredVendorPolicy:  config.MissingVendorFail,
	}))
	f.putVendorCSV("vendor-a/input.csv", "sku,quantity_available,cost\nSKU1,1,10\n")
	job := f.createRun(t, "run-1")
	handle := f.queue.Push(jobBody(t, job), 1)
	message, _ := f.queue.Receive(context.Background())

	require.NoError(t, f.worker.ProcessMessage(context.Background(), message))

	assert.True(t, f.queue.Deleted(handle))
	assert.Equal(t, runs.StatusSucceeded, f.getRun(t, "run-1").Status)
	changes := f.queue.VisibilityChanges(handle)
	require.NotEmpty(t, changes, "claim must extend visibility immediately")
	assert.Equal(t, 300*time.Second, changes[0])
}

func TestProcessMessageNonRetryableFailureDeletesMessage(t *testing.T) {
	f := newFixture(t)
	// No tenant config: RunJob fails terminally.
	job := f.createRun(t, "run-1")
	handle := f.queue.Push(jobBody(t, job), 1)
	message, _ := f.queue.Receive(context.Background())

	require.NoError(t, f.worker.ProcessMessage(context.Background(), message))

	assert.True(t, f.queue.Deleted(handle))
	assert.Equal(t, runs.StatusFailed, f.getRun(t, "run-1").Status)
}

func TestProcessMessageRetryableFailureLeavesMessageAndRunningRecord(t *testing.T) {
	f := newFixture(t)
	f.putTenant(t, testConfig(config.ErrorPolicy{
		FailOnMissingRequiredColumns: true,
		MissingRequiredVendorPolicy:  config.MissingVendorFail,
	}))
	f.putVendorCSV("vendor-a/input.csv", "sku,quantity_available,cost\nSKU1,1,10\n")
	f.failUploads()
	job := f.createRun(t, "run-1")
	handle := f.queue.Push(jobBody(t, job), 1)
	message, _ := f.queue.Receive(context.Background())

	err := f.worker.ProcessMessage(context.Background(), message)
	require.Error(t, err)

	assert.False(t, f.queue.Deleted(handle), "retryable failures leave the message for redelivery")
	record := f.getRun(t, "run-1")
	assert.Equal(t, runs.StatusRunning, record.Status, "record stays RUNNING until redelivery progresses it")
	_, workerErrors := f.sink.Snapshot()
	assert.Contains(t, workerErrors, "run_retryable_error")
}
