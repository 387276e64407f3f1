package backend

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInvocation() Invocation {
	return Invocation{
		CorrelationKey: uuid.MustParse("2b1f6e3a-9a3d-4c47-8f10-5a6f4dceb001"),
		Tool:           "page-binarize",
		Image:          "toolbridge/processors:latest",
		WorkspacePath:  "/srv/workspaces/doc-1",
		WorkspaceRel:   "doc-1",
		InputGroup:     "PROC_a1b2",
		OutputGroup:    "PROC_a1b2_c3d4",
		Payload:        []byte(`{"method":"otsu"}`),
	}
}

func TestDockerRunArgs(t *testing.T) {
	b := &DockerBackend{}

	args := b.runArgs(testInvocation())
	assert.Equal(t, []string{
		"run", "--rm", "--name", "proc-2b1f6e3a-9a3d-4c47-8f10-5a6f4dceb001",
		"-v", "/srv/workspaces/doc-1:/data",
		"-w", "/data",
		"toolbridge/processors:latest",
		"page-binarize",
		"-I", "PROC_a1b2",
		"-O", "PROC_a1b2_c3d4",
		"-p", `{"method":"otsu"}`,
	}, args)
}

func TestDockerRunArgsUserAndResources(t *testing.T) {
	b := &DockerBackend{User: "1000:1000", ResourcesDir: "/srv/models"}
	inv := testInvocation()
	inv.Payload = nil

	args := b.runArgs(inv)
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-u 1000:1000")
	assert.Contains(t, joined, "-v /srv/models:/resources:ro")
	assert.NotContains(t, joined, "-p", "no payload flag without a payload")
}

func TestDockerStopArgs(t *testing.T) {
	b := &DockerBackend{}
	assert.Equal(t, []string{"stop", "-t", "10", "proc-2b1f6e3a-9a3d-4c47-8f10-5a6f4dceb001"}, b.stopArgs(testInvocation()))

	b = &DockerBackend{GraceSeconds: 30}
	assert.Equal(t, []string{"stop", "-t", "30", "proc-2b1f6e3a-9a3d-4c47-8f10-5a6f4dceb001"}, b.stopArgs(testInvocation()))
}

func TestDockerDispatchCapturesOutput(t *testing.T) {
	// Substituting echo for the container CLI turns the run command into a
	// single printed line.
	b := &DockerBackend{Binary: "echo"}

	var emitted []string
	sink := Sink{Output: func(line string) { emitted = append(emitted, line) }}

	result, err := b.Dispatch(context.Background(), testInvocation(), sink, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Output, "page-binarize")
	require.Len(t, emitted, 1)
	assert.Contains(t, emitted[0], "PROC_a1b2_c3d4")
}

func TestDockerDispatchNonZeroExit(t *testing.T) {
	b := &DockerBackend{Binary: "false"}

	result, err := b.Dispatch(context.Background(), testInvocation(), Sink{}, nil)
	require.NoError(t, err, "a failing tool is a result, not a dispatch error")
	assert.NotEqual(t, 0, result.ExitCode)
}

func TestDockerDispatchStartFailure(t *testing.T) {
	b := &DockerBackend{Binary: "/nonexistent/container-cli"}

	_, err := b.Dispatch(context.Background(), testInvocation(), Sink{}, nil)
	assert.ErrorIs(t, err, ErrDispatch)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestDockerDispatchSerializesCallbacks(t *testing.T) {
	// Both streams emit at once; the callbacks append to a shared slice
	// without locking and must still observe every line.
	b := &DockerBackend{Binary: writeScript(t, `
i=0
while [ $i -lt 100 ]; do
  echo "out $i"
  echo "err $i" >&2
  i=$((i+1))
done
`)}

	var lines []string
	sink := Sink{
		Output: func(line string) { lines = append(lines, line) },
		Error:  func(line string) { lines = append(lines, line) },
	}

	result, err := b.Dispatch(context.Background(), testInvocation(), sink, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Len(t, lines, 200)
	assert.Contains(t, result.Output, "out 99")
	assert.Contains(t, result.Errors, "err 99")
}

func TestDockerDispatchOverlongLineIsSurfaced(t *testing.T) {
	// A single line past the scanner cap aborts the stdout stream; the
	// truncation must show up in the captured diagnostics.
	b := &DockerBackend{Binary: writeScript(t, `
head -c 2097152 /dev/zero | tr '\0' 'a'
echo
echo after
`)}

	var errLines []string
	sink := Sink{Error: func(line string) { errLines = append(errLines, line) }}

	result, err := b.Dispatch(context.Background(), testInvocation(), sink, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Errors, "container output truncated")
	assert.NotContains(t, result.Output, "after")
	require.NotEmpty(t, errLines)
	assert.Contains(t, errLines[len(errLines)-1], "container output truncated")
}
