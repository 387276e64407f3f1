package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"toolbridge/internal/backend"
	"toolbridge/internal/workspace"

	"github.com/google/uuid"
)

// Progress checkpoints, monotonically increasing. The final checkpoint
// fires only when a run completes.
const (
	progressPrepared      = 0.05
	progressResolved      = 0.1
	progressDispatched    = 0.75
	progressPostProcessed = 0.95
	progressDone          = 1.0
)

// RunSpec is everything one run needs. Each run owns its own spec; nothing
// here is shared across concurrent runs.
type RunSpec struct {
	RunID     uuid.UUID
	Tool      string
	Image     string
	Workspace *workspace.Workspace
	Payload   map[string]any
	Canceler  *Canceler
	Callbacks Callbacks
}

// Outcome is the terminal result of a run.
type Outcome struct {
	State RunState
	Err   error
}

// Orchestrator drives one run from submitted parameters to workspace
// update as a single synchronous call, streaming progress via callbacks.
type Orchestrator struct {
	backend backend.Backend
}

func NewOrchestrator(b backend.Backend) *Orchestrator {
	return &Orchestrator{backend: b}
}

func (o *Orchestrator) Execute(ctx context.Context, run RunSpec) Outcome {
	cb := run.Callbacks

	// Serialization failure is soft: the run proceeds without a logged
	// payload and the tool falls back to its own defaults.
	var payload []byte
	if run.Payload != nil {
		data, err := json.Marshal(run.Payload)
		if err != nil {
			slog.Error("could not serialize invocation payload, proceeding without it", "run_id", run.RunID, "error", err)
		} else {
			payload = data
		}
	}
	cb.progress(progressPrepared)

	if run.Canceler.Canceled() {
		return Outcome{State: StateCanceled}
	}

	ws := run.Workspace
	groups, err := ws.FileGroups()
	if err != nil {
		return Outcome{State: StateInterrupted, Err: err}
	}
	relPath, err := ws.RelPath()
	if err != nil {
		return Outcome{State: StateInterrupted, Err: err}
	}
	metsPath, err := ws.METSPath()
	if err != nil {
		return Outcome{State: StateInterrupted, Err: err}
	}
	cb.progress(progressResolved)

	inv := backend.Invocation{
		CorrelationKey: run.RunID,
		Tool:           run.Tool,
		Image:          run.Image,
		WorkspacePath:  ws.Root,
		WorkspaceRel:   relPath,
		InputGroup:     groups.Input,
		OutputGroup:    groups.Output,
		Payload:        payload,
	}
	sink := backend.Sink{Output: cb.OnOutput, Error: cb.OnError}
	result, dispatchErr := o.backend.Dispatch(ctx, inv, sink, run.Canceler)
	cb.progress(progressDispatched)

	// Cancellation observed at this checkpoint wins over any dispatch
	// outcome, including a natural zero exit that beat the stop command.
	if run.Canceler.Canceled() {
		return Outcome{State: StateCanceled}
	}
	if dispatchErr != nil {
		return Outcome{State: StateInterrupted, Err: dispatchErr}
	}
	if result.ExitCode != 0 {
		return Outcome{
			State: StateInterrupted,
			Err:   fmt.Errorf("%w: exit status %d: %s", backend.ErrDispatch, result.ExitCode, result.Errors),
		}
	}

	// Post-processing: every step runs for diagnostics, the first failure
	// is sticky and never overwritten by a later success.
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	staging := ws.StagingDir(groups.Output)
	target := ws.SnapshotTarget(groups.Output)
	relGroup := path.Join(relPath, groups.Output)

	keep(workspace.RewriteArtifacts(staging, groups.Output, relGroup))
	keep(workspace.Relocate(staging, target))
	keep(workspace.RewriteMETS(metsPath, groups.Output, relGroup))
	cb.progress(progressPostProcessed)

	if firstErr != nil {
		return Outcome{State: StateInterrupted, Err: fmt.Errorf("post-processing: %w", firstErr)}
	}

	cb.progress(progressDone)
	return Outcome{State: StateCompleted}
}
