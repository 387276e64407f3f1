package backend

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrDispatch indicates a failed invocation: a non-zero exit or a failed
// HTTP call. Captured diagnostics are surfaced verbatim.
var ErrDispatch = errors.New("processor dispatch failed")

// Invocation carries everything a backend needs to run one processor once.
// Built fresh per run, never reused.
type Invocation struct {
	// CorrelationKey identifies this run to the backend and any remote
	// worker events.
	CorrelationKey uuid.UUID

	// Tool is the processor's executable identifier.
	Tool string

	// Image is the container image reference (local backend only).
	Image string

	// WorkspacePath is the absolute workspace directory on this host.
	WorkspacePath string

	// WorkspaceRel is the workspace path relative to the platform root,
	// used by remote workers that mount the platform tree themselves.
	WorkspaceRel string

	InputGroup  string
	OutputGroup string

	// Payload is the serialized invocation payload. May be nil when
	// payload serialization soft-failed; the run proceeds without it.
	Payload []byte
}

// Result is the outcome of a completed dispatch.
type Result struct {
	ExitCode int
	Output   string
	Errors   string
}

// Sink receives the processor's streamed output. Callbacks fire within the
// blocking Dispatch call and are never invoked concurrently.
type Sink struct {
	Output func(string)
	Error  func(string)
}

func (s Sink) emitOutput(line string) {
	if s.Output != nil {
		s.Output(line)
	}
}

func (s Sink) emitError(line string) {
	if s.Error != nil {
		s.Error(line)
	}
}

// StopRegistrar lets a backend register a best-effort stop action for an
// in-flight dispatch. The action may race with natural completion.
type StopRegistrar interface {
	RegisterStop(func())
}

// Backend dispatches one invocation and blocks until the external process or
// HTTP call fully completes. Implementations hold no mutable state shared
// across runs; construct a fresh handle per run.
type Backend interface {
	Dispatch(ctx context.Context, inv Invocation, sink Sink, stop StopRegistrar) (Result, error)
}

// DescriptionSource obtains a processor's raw self-description.
type DescriptionSource interface {
	Describe(ctx context.Context, tool string) ([]byte, error)
}
