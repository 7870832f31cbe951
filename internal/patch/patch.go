// Package patch applies an ordered set of patch files to the source tree.
// Order is lexicographic by filename so runs are reproducible. An empty or
// missing patch directory is a valid no-op; a patch that fails to apply is
// fatal with no fuzzy recovery, because each run starts from a pristine
// checkout and patches are written against that state.
package patch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joshschmelzle/wlanpi-kernel/internal/execx"
	"github.com/joshschmelzle/wlanpi-kernel/internal/logfields"
)

// List returns the absolute paths of *.patch files in dir, sorted
// lexicographically. A missing or empty directory yields an empty list.
func List(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read patches directory: %w", err)
	}

	var patches []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".patch") {
			continue
		}
		abs, err := filepath.Abs(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		patches = append(patches, abs)
	}
	sort.Strings(patches)
	return patches, nil
}

// Applier applies patches to a source tree via git apply.
type Applier struct {
	Runner execx.Runner
	SrcDir string
	Log    io.Writer // sink for tool stdout/stderr; nil uses the process streams
}

// Apply applies each patch in order. The first failure aborts; remaining
// patches are not attempted.
func (a *Applier) Apply(ctx context.Context, patches []string) error {
	if len(patches) == 0 {
		slog.Info("No patches to apply, skipping")
		return nil
	}
	for _, p := range patches {
		slog.Info("Applying patch", logfields.Path(p))
		if err := a.Runner.Run(ctx, execx.Options{Dir: a.SrcDir, Stdout: a.Log, Stderr: a.Log}, "git", "apply", p); err != nil {
			return fmt.Errorf("apply patch %s: %w", filepath.Base(p), err)
		}
	}
	slog.Info("All patches applied", slog.Int("count", len(patches)))
	return nil
}
