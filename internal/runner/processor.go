package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"toolbridge/internal/database"
	"toolbridge/internal/marshal"
	"toolbridge/internal/messaging"
	"toolbridge/internal/registry"
	"toolbridge/internal/storage"
	"toolbridge/internal/workspace"
	"toolbridge/pkg/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const cancelPollInterval = 2 * time.Second

// RunProcessor consumes queued run tasks and drives each through the
// orchestrator, recording state, progress and output in the database.
type RunProcessor struct {
	db       *gorm.DB
	registry *registry.Registry
	receiver messaging.Receiver

	platformRoot string
	snapshotRoot string

	// archive is optional; when set, completed output file groups are
	// uploaded to the archive bucket.
	archive       storage.ObjectStore
	archiveBucket string
}

func NewRunProcessor(db *gorm.DB, reg *registry.Registry, receiver messaging.Receiver, platformRoot, snapshotRoot string, archive storage.ObjectStore, archiveBucket string) *RunProcessor {
	return &RunProcessor{
		db:            db,
		registry:      reg,
		receiver:      receiver,
		platformRoot:  platformRoot,
		snapshotRoot:  snapshotRoot,
		archive:       archive,
		archiveBucket: archiveBucket,
	}
}

func (proc *RunProcessor) Start() {
	slog.Info("starting run processor")

	for task := range proc.receiver.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *RunProcessor) Stop() {
	slog.Info("stopping run processor")

	proc.receiver.Close()
}

func (proc *RunProcessor) ProcessTask(task messaging.Task) {
	if task.Type() != messaging.RunQueue {
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	var payload messaging.RunTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		slog.Error("error unmarshalling run task", "error", err)
		if err := task.Reject(); err != nil { // Discard malformed message
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err := proc.processRunTask(context.Background(), payload); err != nil {
		slog.Error("error processing run task", "run_id", payload.RunId, "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
		return
	}

	slog.Info("successfully processed run task", "run_id", payload.RunId)
	if err := task.Ack(); err != nil {
		slog.Error("error acknowledging message from queue", "error", err)
	}
}

// processRunTask executes one run to a terminal state. Only infrastructure
// failures (e.g. the run record cannot be loaded) return an error; a run
// that ends interrupted is still a processed task.
func (proc *RunProcessor) processRunTask(ctx context.Context, payload messaging.RunTaskPayload) error {
	var run database.Run
	if err := proc.db.WithContext(ctx).First(&run, "id = ?", payload.RunId).Error; err != nil {
		return fmt.Errorf("error fetching run %s: %w", payload.RunId, err)
	}

	if RunState(run.State).Terminal() {
		slog.Info("run already terminal, skipping", "run_id", run.Id, "state", run.State)
		return nil
	}

	adapter, ok := proc.registry.Get(run.Tool)
	if !ok {
		return database.UpdateRunState(ctx, proc.db, run.Id, string(StateInterrupted), fmt.Errorf("unknown processor %s", run.Tool))
	}

	if run.CancelRequested {
		return database.UpdateRunState(ctx, proc.db, run.Id, string(StateCanceled), nil)
	}

	payloadMap, err := proc.marshalParameters(ctx, run, adapter)
	if err != nil {
		// Marshalling and description errors are fatal for this run
		// only, before anything is dispatched.
		return database.UpdateRunState(ctx, proc.db, run.Id, string(StateInterrupted), err)
	}

	ws := &workspace.Workspace{
		Root:         filepath.Join(proc.platformRoot, filepath.FromSlash(run.WorkspacePath)),
		PlatformRoot: proc.platformRoot,
		SnapshotDir:  filepath.Join(proc.snapshotRoot, filepath.FromSlash(run.WorkspacePath)),
		Ancestry:     splitAncestry(run.Ancestry),
	}

	if groups, err := ws.FileGroups(); err == nil {
		database.SetRunFileGroups(ctx, proc.db, run.Id, groups.Input, groups.Output) //nolint:errcheck
	}

	if err := database.UpdateRunState(ctx, proc.db, run.Id, string(StateRunning), nil); err != nil {
		return err
	}

	canceler := &Canceler{}
	stopPolling := proc.pollCancellation(ctx, run.Id, canceler)
	defer stopPolling()

	outcome := NewOrchestrator(proc.registry.Backend(adapter)).Execute(ctx, RunSpec{
		RunID:     run.Id,
		Tool:      run.Tool,
		Image:     adapter.Image,
		Workspace: ws,
		Payload:   payloadMap,
		Canceler:  canceler,
		Callbacks: proc.callbacks(ctx, run.Id),
	})

	if outcome.Err != nil {
		slog.Error("run ended with error", "run_id", run.Id, "state", outcome.State, "error", outcome.Err)
	}
	if err := database.UpdateRunState(ctx, proc.db, run.Id, string(outcome.State), outcome.Err); err != nil {
		return err
	}

	if outcome.State == StateCompleted {
		proc.archiveOutput(ctx, run, ws)
	}

	return nil
}

func (proc *RunProcessor) marshalParameters(ctx context.Context, run database.Run, adapter registry.Adapter) (map[string]any, error) {
	desc, err := proc.registry.Describe(ctx, run.Tool)
	if err != nil {
		return nil, fmt.Errorf("error describing processor %s: %w", run.Tool, err)
	}

	if len(run.Payload) == 0 {
		return map[string]any{}, nil
	}

	var submitted map[string]models.ParameterValue
	if err := json.Unmarshal(run.Payload, &submitted); err != nil {
		return nil, fmt.Errorf("error unmarshalling submitted parameters: %w", err)
	}

	values := make(map[string]marshal.Value, len(submitted))
	for name, pv := range submitted {
		value, err := ParameterValue(pv)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", name, err)
		}
		values[name] = value
	}

	return marshal.Payload(desc, values, adapter.SubmitOverrides)
}

// ParameterValue converts the wire form of a submitted value into the
// marshaller's typed value.
func ParameterValue(pv models.ParameterValue) (marshal.Value, error) {
	switch pv.Kind {
	case "string":
		if pv.String == nil {
			return marshal.Value{}, fmt.Errorf("string value missing")
		}
		return marshal.String(*pv.String), nil
	case "selection":
		return marshal.Selection(pv.Selection...), nil
	case "integer":
		if pv.Integer == nil {
			return marshal.Value{}, fmt.Errorf("integer value missing")
		}
		return marshal.Integer(*pv.Integer), nil
	case "decimal":
		if pv.Decimal == nil {
			return marshal.Value{}, fmt.Errorf("decimal value missing")
		}
		return marshal.Decimal(*pv.Decimal), nil
	case "boolean":
		if pv.Boolean == nil {
			return marshal.Value{}, fmt.Errorf("boolean value missing")
		}
		return marshal.Boolean(*pv.Boolean), nil
	default:
		return marshal.Value{}, fmt.Errorf("unsupported value kind %q", pv.Kind)
	}
}

func (proc *RunProcessor) callbacks(ctx context.Context, runId uuid.UUID) Callbacks {
	var seq int
	var mu sync.Mutex
	logLine := func(stream string) func(string) {
		return func(line string) {
			mu.Lock()
			seq++
			n := seq
			mu.Unlock()
			database.SaveRunLog(ctx, proc.db, runId, n, stream, line)
		}
	}

	return Callbacks{
		OnOutput: logLine("stdout"),
		OnError:  logLine("stderr"),
		OnProgress: func(fraction float64) {
			database.UpdateRunProgress(ctx, proc.db, runId, fraction) //nolint:errcheck
		},
	}
}

// pollCancellation mirrors the database cancel flag into the in-process
// canceler until the returned stop function is called.
func (proc *RunProcessor) pollCancellation(ctx context.Context, runId uuid.UUID, canceler *Canceler) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cancelPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				requested, err := database.CancelRequested(ctx, proc.db, runId)
				if err != nil {
					slog.Error("error polling cancellation flag", "run_id", runId, "error", err)
					continue
				}
				if requested {
					canceler.Cancel()
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

// EnsureArchive creates the archive bucket up front so the first completed
// run does not fail its upload. A no-op without an archive configured.
func (proc *RunProcessor) EnsureArchive(ctx context.Context) error {
	if proc.archive == nil || proc.archiveBucket == "" {
		return nil
	}
	return proc.archive.CreateBucket(ctx, proc.archiveBucket)
}

// RestoreOutput downloads a run's archived output file group into dest,
// named after the group. Fails when dest already holds that group.
func (proc *RunProcessor) RestoreOutput(ctx context.Context, runId uuid.UUID, dest string) error {
	if proc.archive == nil || proc.archiveBucket == "" {
		return fmt.Errorf("no archive configured")
	}

	var run database.Run
	if err := proc.db.WithContext(ctx).First(&run, "id = ?", runId).Error; err != nil {
		return fmt.Errorf("error fetching run %s: %w", runId, err)
	}
	if run.OutputGroup == "" {
		return fmt.Errorf("run %s has no recorded output group", runId)
	}

	prefix := run.Id.String() + "/" + run.OutputGroup
	target := filepath.Join(dest, run.OutputGroup)
	if err := proc.archive.DownloadDir(ctx, proc.archiveBucket, prefix, target, false); err != nil {
		return fmt.Errorf("error restoring output of run %s: %w", runId, err)
	}
	slog.Info("restored archived run output", "run_id", runId, "dest", target)
	return nil
}

func (proc *RunProcessor) archiveOutput(ctx context.Context, run database.Run, ws *workspace.Workspace) {
	if proc.archive == nil || proc.archiveBucket == "" {
		return
	}

	groups, err := ws.FileGroups()
	if err != nil {
		slog.Error("error deriving file groups for archiving", "run_id", run.Id, "error", err)
		return
	}

	prefix := run.Id.String() + "/" + groups.Output
	if err := proc.archive.UploadDir(ctx, proc.archiveBucket, prefix, ws.SnapshotTarget(groups.Output)); err != nil {
		slog.Error("error archiving run output", "run_id", run.Id, "error", err)
		return
	}
	slog.Info("archived run output", "run_id", run.Id, "bucket", proc.archiveBucket, "prefix", prefix)
}

func splitAncestry(joined string) []string {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
