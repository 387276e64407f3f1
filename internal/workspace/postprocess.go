package workspace

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// RewriteArtifacts replaces references to the output file-group name with
// its workspace-relative path in every XML artifact the tool emitted under
// dir.
func RewriteArtifacts(dir, group, relPath string) error {
	return filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walking output dir %s: %w", dir, err)
		}
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(path), ".xml") {
			return nil
		}
		return rewriteFile(path, group, relPath)
	})
}

// RewriteMETS applies the same file-group rewrite inside the top-level METS
// descriptor.
func RewriteMETS(metsPath, group, relPath string) error {
	return rewriteFile(metsPath, group, relPath)
}

func rewriteFile(path, old, new string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	rewritten := bytes.ReplaceAll(data, []byte(old), []byte(new))
	if bytes.Equal(rewritten, data) {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, rewritten, info.Mode()); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Relocate atomically moves the tool's output directory into the snapshot
// location, overwriting any stale placeholder already there. Last writer
// wins, callers must not issue overlapping runs against one workspace.
func Relocate(stagingDir, target string) error {
	if _, err := os.Stat(stagingDir); err != nil {
		return fmt.Errorf("staged output %s: %w", stagingDir, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
		return fmt.Errorf("creating snapshot dir for %s: %w", target, err)
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("removing stale snapshot %s: %w", target, err)
	}
	if err := os.Rename(stagingDir, target); err != nil {
		return fmt.Errorf("moving output to snapshot %s: %w", target, err)
	}
	return nil
}
