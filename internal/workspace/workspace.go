package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPrecondition indicates that a run cannot start because a workspace path
// could not be resolved. Fatal, nothing is dispatched.
var ErrPrecondition = errors.New("workspace precondition failed")

// GroupPrefix is the fixed prefix all derived file-group names share.
const GroupPrefix = "PROC"

// DefaultMETSName is the conventional name of the top-level METS descriptor.
const DefaultMETSName = "mets.xml"

// FileGroupPair names the workspace file groups a processor reads and
// writes. Created at run start, read-only afterwards.
type FileGroupPair struct {
	Input  string
	Output string
}

// Workspace is the platform's versioned directory tree for one run. The
// ancestry is the ordered sequence of snapshot identifiers leading to the
// current snapshot.
type Workspace struct {
	// Root is the absolute path of the workspace directory.
	Root string

	// PlatformRoot is the directory all workspaces live under; workspace
	// paths are reported relative to it.
	PlatformRoot string

	// SnapshotDir is where completed output file groups are placed.
	SnapshotDir string

	// Ancestry is the sequence of snapshot identifiers, oldest first.
	Ancestry []string

	// METSName overrides DefaultMETSName when set.
	METSName string
}

// FileGroups derives the input/output file-group pair from the workspace
// ancestry. The output group carries the full ancestry, the input group the
// ancestry up to the previous snapshot; a workspace with a single snapshot
// reads from the bare prefix group.
func (w *Workspace) FileGroups() (FileGroupPair, error) {
	if len(w.Ancestry) == 0 {
		return FileGroupPair{}, fmt.Errorf("%w: workspace has no snapshot ancestry", ErrPrecondition)
	}
	return FileGroupPair{
		Input:  groupName(w.Ancestry[:len(w.Ancestry)-1]),
		Output: groupName(w.Ancestry),
	}, nil
}

func groupName(ancestry []string) string {
	if len(ancestry) == 0 {
		return GroupPrefix
	}
	return GroupPrefix + "_" + strings.Join(ancestry, "_")
}

// RelPath resolves the workspace path relative to the platform root.
func (w *Workspace) RelPath() (string, error) {
	rel, err := filepath.Rel(w.PlatformRoot, w.Root)
	if err != nil {
		return "", fmt.Errorf("%w: workspace %s is not under platform root %s: %v", ErrPrecondition, w.Root, w.PlatformRoot, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: workspace %s is not under platform root %s", ErrPrecondition, w.Root, w.PlatformRoot)
	}
	return filepath.ToSlash(rel), nil
}

// METSPath resolves the top-level METS descriptor of the workspace.
func (w *Workspace) METSPath() (string, error) {
	name := w.METSName
	if name == "" {
		name = DefaultMETSName
	}
	path := filepath.Join(w.Root, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: METS descriptor %s: %v", ErrPrecondition, path, err)
	}
	return path, nil
}

// StagingDir is the directory inside the workspace the tool writes its
// output file group to before relocation.
func (w *Workspace) StagingDir(group string) string {
	return filepath.Join(w.Root, group)
}

// SnapshotTarget is the final location of the output file group.
func (w *Workspace) SnapshotTarget(group string) string {
	return filepath.Join(w.SnapshotDir, group)
}
