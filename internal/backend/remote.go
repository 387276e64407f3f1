package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// RemoteBackend hands the invocation to a remote worker over HTTP. Progress
// and log events from the worker arrive out of band; only the synchronous
// outcome of the start request is reported here.
type RemoteBackend struct {
	client *resty.Client
}

func NewRemoteBackend(baseURL string) *RemoteBackend {
	return &RemoteBackend{
		client: resty.New().SetBaseURL(baseURL).SetTimeout(30 * time.Second),
	}
}

// StartRequest is the structured run request sent to the remote worker.
type StartRequest struct {
	CorrelationKey uuid.UUID `json:"correlation_key"`
	Tool           string    `json:"tool"`
	WorkspaceRel   string    `json:"workspace"`
	InputGroup     string    `json:"input_group"`
	OutputGroup    string    `json:"output_group"`
	Parameters     string    `json:"parameters,omitempty"`
}

// Ping checks the worker's liveness endpoint. Used before every run and as a
// pre-flight check when a remote processor is first exposed.
func (b *RemoteBackend) Ping(ctx context.Context) error {
	res, err := b.client.R().SetContext(ctx).Get("/")
	if err != nil {
		return fmt.Errorf("remote worker unreachable: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("remote worker liveness check returned status %d", res.StatusCode())
	}
	return nil
}

func (b *RemoteBackend) Dispatch(ctx context.Context, inv Invocation, sink Sink, stop StopRegistrar) (Result, error) {
	if err := b.Ping(ctx); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDispatch, err)
	}

	req := StartRequest{
		CorrelationKey: inv.CorrelationKey,
		Tool:           inv.Tool,
		WorkspaceRel:   inv.WorkspaceRel,
		InputGroup:     inv.InputGroup,
		OutputGroup:    inv.OutputGroup,
		Parameters:     string(inv.Payload),
	}

	res, err := b.client.R().
		SetContext(ctx).
		SetBody(req).
		Post("/processors/run")
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDispatch, err)
	}

	result := Result{Output: string(res.Body())}
	if res.IsError() {
		result.ExitCode = 1
		result.Errors = string(res.Body())
		sink.emitError(result.Errors)
		return result, nil
	}

	sink.emitOutput(result.Output)
	return result, nil
}

// Describe fetches the tool's self-description from the worker's
// description endpoint, preceded by a liveness ping.
func (b *RemoteBackend) Describe(ctx context.Context, tool string) ([]byte, error) {
	if err := b.Ping(ctx); err != nil {
		return nil, err
	}

	res, err := b.client.R().SetContext(ctx).Get("/processors/" + tool)
	if err != nil {
		return nil, fmt.Errorf("describing tool %s: %w", tool, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("describing tool %s: remote worker returned status %d", tool, res.StatusCode())
	}
	return res.Body(), nil
}
