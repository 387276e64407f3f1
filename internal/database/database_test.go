package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"toolbridge/internal/database"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func createDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.GetMigrator(db).Migrate())
	return db
}

func createRun(t *testing.T, db *gorm.DB, state string) uuid.UUID {
	t.Helper()

	run := &database.Run{
		Id:            uuid.New(),
		Tool:          "page-binarize",
		WorkspacePath: "doc-1",
		State:         state,
		CreationTime:  time.Now().UTC(),
	}
	require.NoError(t, db.Create(run).Error)
	return run.Id
}

func TestUpdateRunState(t *testing.T) {
	db := createDB(t)
	ctx := context.Background()
	runId := createRun(t, db, "RUNNING")

	require.NoError(t, database.UpdateRunState(ctx, db, runId, "COMPLETED", nil))

	var run database.Run
	require.NoError(t, db.First(&run, "id = ?", runId).Error)
	assert.Equal(t, "COMPLETED", run.State)
	assert.True(t, run.CompletionTime.Valid, "terminal states record a completion time")
	assert.False(t, run.Error.Valid)
}

func TestUpdateRunStateWithError(t *testing.T) {
	db := createDB(t)
	ctx := context.Background()
	runId := createRun(t, db, "RUNNING")

	require.NoError(t, database.UpdateRunState(ctx, db, runId, "INTERRUPTED", errors.New("exit status 2")))

	var run database.Run
	require.NoError(t, db.First(&run, "id = ?", runId).Error)
	assert.Equal(t, "INTERRUPTED", run.State)
	assert.True(t, run.Error.Valid)
	assert.Equal(t, "exit status 2", run.Error.String)
}

func TestUpdateRunStateNonTerminal(t *testing.T) {
	db := createDB(t)
	ctx := context.Background()
	runId := createRun(t, db, "PENDING")

	require.NoError(t, database.UpdateRunState(ctx, db, runId, "RUNNING", nil))

	var run database.Run
	require.NoError(t, db.First(&run, "id = ?", runId).Error)
	assert.False(t, run.CompletionTime.Valid)
}

func TestCancelRequestFlag(t *testing.T) {
	db := createDB(t)
	ctx := context.Background()
	runId := createRun(t, db, "RUNNING")

	requested, err := database.CancelRequested(ctx, db, runId)
	require.NoError(t, err)
	assert.False(t, requested)

	require.NoError(t, database.RequestRunCancel(ctx, db, runId))

	requested, err = database.CancelRequested(ctx, db, runId)
	require.NoError(t, err)
	assert.True(t, requested)
}

func TestSetRunFileGroups(t *testing.T) {
	db := createDB(t)
	ctx := context.Background()
	runId := createRun(t, db, "RUNNING")

	require.NoError(t, database.SetRunFileGroups(ctx, db, runId, "PROC", "PROC_a1b2"))

	var run database.Run
	require.NoError(t, db.First(&run, "id = ?", runId).Error)
	assert.Equal(t, "PROC", run.InputGroup)
	assert.Equal(t, "PROC_a1b2", run.OutputGroup)
}

func TestSaveRunLog(t *testing.T) {
	db := createDB(t)
	ctx := context.Background()
	runId := createRun(t, db, "RUNNING")

	database.SaveRunLog(ctx, db, runId, 1, "stdout", "processing page 1")
	database.SaveRunLog(ctx, db, runId, 2, "stderr", "low contrast warning")

	var logs []database.RunLog
	require.NoError(t, db.Where("run_id = ?", runId).Order("seq").Find(&logs).Error)
	require.Len(t, logs, 2)
	assert.Equal(t, "stdout", logs[0].Stream)
	assert.Equal(t, "low contrast warning", logs[1].Line)
}

func TestUpdateRunProgress(t *testing.T) {
	db := createDB(t)
	ctx := context.Background()
	runId := createRun(t, db, "RUNNING")

	require.NoError(t, database.UpdateRunProgress(ctx, db, runId, 0.75))

	var run database.Run
	require.NoError(t, db.First(&run, "id = ?", runId).Error)
	assert.Equal(t, 0.75, run.Progress)
}
