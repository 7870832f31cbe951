// Package workspace manages the on-disk working area for builds. The
// kernel source tree is expensive to clone, so the default mode is a
// persistent directory reused across runs; ephemeral timestamped
// workspaces are available for throwaway builds.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joshschmelzle/wlanpi-kernel/internal/logfields"
)

// Manager handles workspace operations (both persistent and ephemeral).
type Manager struct {
	baseDir    string
	dir        string
	persistent bool
}

// NewPersistent returns a manager using a fixed directory that survives
// Cleanup, enabling incremental source fetches.
func NewPersistent(baseDir string) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return &Manager{baseDir: baseDir, dir: baseDir, persistent: true}
}

// NewEphemeral returns a manager that creates a timestamped directory
// under baseDir and removes it on Cleanup.
func NewEphemeral(baseDir string) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return &Manager{baseDir: baseDir}
}

// Create ensures the workspace directory exists.
func (m *Manager) Create() error {
	if m.persistent {
		if err := os.MkdirAll(m.dir, 0o750); err != nil {
			return fmt.Errorf("create persistent workspace: %w", err)
		}
		slog.Info("Using persistent workspace", logfields.Path(m.dir))
		return nil
	}

	dir := filepath.Join(m.baseDir, fmt.Sprintf("kernelbuilder-%s", time.Now().Format("20060102-150405")))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	m.dir = dir
	slog.Info("Created workspace", logfields.Path(dir))
	return nil
}

// Path returns the workspace directory.
func (m *Manager) Path() string {
	return m.dir
}

// Subdir creates (if needed) and returns a subdirectory of the workspace.
func (m *Manager) Subdir(name string) (string, error) {
	if m.dir == "" {
		return "", fmt.Errorf("workspace not created")
	}
	sub := filepath.Join(m.dir, name)
	if err := os.MkdirAll(sub, 0o750); err != nil {
		return "", fmt.Errorf("create subdirectory %s: %w", name, err)
	}
	return sub, nil
}

// Cleanup removes ephemeral workspaces; persistent workspaces are kept
// for the next run.
func (m *Manager) Cleanup() error {
	if m.dir == "" || m.persistent {
		return nil
	}
	if err := os.RemoveAll(m.dir); err != nil {
		return fmt.Errorf("cleanup workspace: %w", err)
	}
	slog.Info("Cleaned up workspace", logfields.Path(m.dir))
	m.dir = ""
	return nil
}
