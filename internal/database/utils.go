package database

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func UpdateRunState(ctx context.Context, txn *gorm.DB, runId uuid.UUID, state string, runErr error) error {
	updates := map[string]any{"state": state}
	if state == "CANCELED" || state == "INTERRUPTED" || state == "COMPLETED" {
		updates["completion_time"] = time.Now().UTC()
	}
	if runErr != nil {
		updates["error"] = sql.NullString{String: runErr.Error(), Valid: true}
	}

	if err := txn.WithContext(ctx).Model(&Run{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error updating run state", "run_id", runId, "state", state, "error", err)
		return err
	}
	return nil
}

func UpdateRunProgress(ctx context.Context, txn *gorm.DB, runId uuid.UUID, fraction float64) error {
	if err := txn.WithContext(ctx).Model(&Run{Id: runId}).UpdateColumn("progress", fraction).Error; err != nil {
		slog.Error("error updating run progress", "run_id", runId, "error", err)
		return err
	}
	return nil
}

func SetRunFileGroups(ctx context.Context, txn *gorm.DB, runId uuid.UUID, input, output string) error {
	updates := map[string]any{"input_group": input, "output_group": output}
	if err := txn.WithContext(ctx).Model(&Run{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error recording run file groups", "run_id", runId, "error", err)
		return err
	}
	return nil
}

func RequestRunCancel(ctx context.Context, txn *gorm.DB, runId uuid.UUID) error {
	if err := txn.WithContext(ctx).Model(&Run{Id: runId}).UpdateColumn("cancel_requested", true).Error; err != nil {
		slog.Error("error requesting run cancellation", "run_id", runId, "error", err)
		return err
	}
	return nil
}

func CancelRequested(ctx context.Context, txn *gorm.DB, runId uuid.UUID) (bool, error) {
	var run Run
	if err := txn.WithContext(ctx).Select("cancel_requested").First(&run, "id = ?", runId).Error; err != nil {
		return false, err
	}
	return run.CancelRequested, nil
}

func SaveRunLog(ctx context.Context, txn *gorm.DB, runId uuid.UUID, seq int, stream, line string) {
	entry := RunLog{RunId: runId, Seq: seq, Stream: stream, Line: line}
	if err := txn.WithContext(ctx).Create(&entry).Error; err != nil {
		slog.Error("error saving run log line", "run_id", runId, "error", err)
	}
}
