package runs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateStatusPartialWritesAndClearFields(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &Record{
		RunID:    "run-1",
		TenantID: "tenant-a",
		Status:   StatusQueued,
	}))

	stage := StageFetchInputs
	failed := StageFetchInputs
	code := ErrCodeMissingTenantConfig
	message := "missing tenant config"
	errKey := "run-1/tenants/tenant-a/reports/errors.json"
	finished := time.Date(2021, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpdateStatus(ctx, "run-1", StatusFailed, Update{
		Stage:             &stage,
		FailedStage:       &failed,
		FinishedAt:        &finished,
		ErrorCode:         &code,
		ErrorMessage:      &message,
		ErrorsArtifactKey: &errKey,
		ErrorReportKey:    &errKey,
	}))

	record, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, record.Status)
	assert.Equal(t, ErrCodeMissingTenantConfig, record.ErrorCode)
	require.NotNil(t, record.FinishedAt)

	require.NoError(t, store.UpdateStatus(ctx, "run-1", StatusSucceeded, Update{
		ClearFields: []string{
			"failed_stage", "error_code", "error_message",
			"errors_artifact_key", "error_report_key",
		},
	}))
	record, err = store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, record.Status)
	assert.Empty(t, record.ErrorCode)
	assert.Empty(t, record.ErrorMessage)
	assert.Empty(t, record.FailedStage)
	assert.Empty(t, record.ErrorsArtifactKey)
	assert.Empty(t, record.ErrorReportKey)
}

func TestFindRunningByTenant(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &Record{RunID: "r1", TenantID: "t1", Status: StatusRunning}))
	require.NoError(t, store.Create(ctx, &Record{RunID: "r2", TenantID: "t1", Status: StatusQueued}))
	require.NoError(t, store.Create(ctx, &Record{RunID: "r3", TenantID: "t2", Status: StatusRunning}))

	record, err := store.FindRunningByTenant(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "r1", record.RunID)

	record, err = store.FindRunningByTenant(ctx, "t3")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestStageOrderingHelpers(t *testing.T) {
	assert.Less(t, StageQueue.Index(), StageFetchInputs.Index())
	assert.Less(t, StageFetchInputs.Index(), StageNormalize.Index())
	assert.Less(t, StageNormalize.Index(), StageMergePrice.Index())
	assert.Less(t, StageMergePrice.Index(), StageWriteOutputs.Index())
	assert.Less(t, StageWriteOutputs.Index(), StageComplete.Index())
	assert.Equal(t, -1, Stage("BOGUS").Index())

	assert.Equal(t, StageMergePrice, StageMergePrice.Max(StageNormalize))
	assert.Equal(t, StageMergePrice, StageNormalize.Max(StageMergePrice))

	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusSucceeded.Terminal())
	assert.False(t, StatusRunning.Terminal())
}
