package backend

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
)

const (
	workspaceMount  = "/data"
	resourcesMount  = "/resources"
	defaultGraceSec = 10
)

// DockerBackend runs a processor as a local container through the docker
// CLI. The workspace is volume-mounted and the serialized payload is passed
// as a single flag.
type DockerBackend struct {
	// Binary is the container CLI, "docker" by default.
	Binary string

	// Image is the container image to run.
	Image string

	// User is an optional "uid:gid" override from the platform-configured
	// identity.
	User string

	// ResourcesDir is an optional host directory mounted read-only for
	// tools needing pre-staged models.
	ResourcesDir string

	// GraceSeconds is how long a stopped container may shut down before
	// the hard kill.
	GraceSeconds int
}

func (b *DockerBackend) binary() string {
	if b.Binary == "" {
		return "docker"
	}
	return b.Binary
}

func (b *DockerBackend) grace() int {
	if b.GraceSeconds <= 0 {
		return defaultGraceSec
	}
	return b.GraceSeconds
}

func (b *DockerBackend) containerName(inv Invocation) string {
	return "proc-" + inv.CorrelationKey.String()
}

// runArgs builds the container-run token list for one invocation.
func (b *DockerBackend) runArgs(inv Invocation) []string {
	args := []string{"run", "--rm", "--name", b.containerName(inv)}
	if b.User != "" {
		args = append(args, "-u", b.User)
	}
	if b.ResourcesDir != "" {
		args = append(args, "-v", b.ResourcesDir+":"+resourcesMount+":ro")
	}
	args = append(args,
		"-v", inv.WorkspacePath+":"+workspaceMount,
		"-w", workspaceMount,
		inv.Image,
		inv.Tool,
		"-I", inv.InputGroup,
		"-O", inv.OutputGroup,
	)
	if len(inv.Payload) > 0 {
		args = append(args, "-p", string(inv.Payload))
	}
	return args
}

// stopArgs builds the paired stop command: ask the container to shut down
// within the grace period, docker falls back to a hard kill after it.
func (b *DockerBackend) stopArgs(inv Invocation) []string {
	return []string{"stop", "-t", strconv.Itoa(b.grace()), b.containerName(inv)}
}

func (b *DockerBackend) Dispatch(ctx context.Context, inv Invocation, sink Sink, stop StopRegistrar) (Result, error) {
	cmd := exec.CommandContext(ctx, b.binary(), b.runArgs(inv)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("%w: opening stdout pipe: %v", ErrDispatch, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("%w: opening stderr pipe: %v", ErrDispatch, err)
	}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("%w: starting container: %v", ErrDispatch, err)
	}

	if stop != nil {
		stopCmd := b.stopArgs(inv)
		stop.RegisterStop(func() {
			if err := exec.Command(b.binary(), stopCmd...).Run(); err != nil {
				slog.Warn("container stop command failed", "container", b.containerName(inv), "error", err)
			}
		})
	}

	// Both streams are read concurrently but emission is serialized so
	// callbacks never run in parallel.
	var emitMu sync.Mutex
	emitOut := func(line string) {
		emitMu.Lock()
		defer emitMu.Unlock()
		sink.emitOutput(line)
	}
	emitErr := func(line string) {
		emitMu.Lock()
		defer emitMu.Unlock()
		sink.emitError(line)
	}

	var outBuf, errBuf bytes.Buffer
	var outStreamErr, errStreamErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		outStreamErr = streamLines(stdout, &outBuf, emitOut)
	}()
	go func() {
		defer wg.Done()
		errStreamErr = streamLines(stderr, &errBuf, emitErr)
	}()
	wg.Wait()

	// A scan failure truncates a stream; surface the loss in the captured
	// diagnostics instead of dropping it silently.
	for _, streamErr := range []error{outStreamErr, errStreamErr} {
		if streamErr != nil {
			msg := fmt.Sprintf("container output truncated: %v", streamErr)
			errBuf.WriteString(msg + "\n")
			emitErr(msg)
		}
	}

	result := Result{Output: outBuf.String(), Errors: errBuf.String()}

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("%w: %v", ErrDispatch, err)
	}

	return result, nil
}

// Describe invokes the tool with the describe flag and returns its
// self-description from stdout.
func (b *DockerBackend) Describe(ctx context.Context, tool string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, b.binary(), "run", "--rm", b.Image, tool, "--describe").Output()
	if err != nil {
		return nil, fmt.Errorf("describing tool %s: %w", tool, err)
	}
	return out, nil
}

func streamLines(r io.Reader, capture *bytes.Buffer, emit func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		capture.WriteString(line)
		capture.WriteByte('\n')
		emit(line)
	}
	if err := scanner.Err(); err != nil {
		// Drain the rest so the container process is not blocked on a
		// full pipe.
		_, _ = io.Copy(io.Discard, r)
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}
