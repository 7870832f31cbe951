// Package execx runs external build collaborators (make, git apply,
// dpkg-deb) with logging and directory/environment control. The pipeline
// never reimplements these tools, only sequences them.
package execx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/joshschmelzle/wlanpi-kernel/internal/logfields"
)

// Options controls where and how a command runs.
type Options struct {
	Dir    string   // working directory; empty means process cwd
	Env    []string // appended to the inherited environment
	Stdout io.Writer
	Stderr io.Writer
}

// Runner abstracts command execution so stages can be exercised in tests
// without a real toolchain on PATH.
type Runner interface {
	// Run executes the command and fails on any nonzero exit.
	Run(ctx context.Context, opts Options, name string, args ...string) error

	// Output executes the command and returns its trimmed stdout.
	Output(ctx context.Context, opts Options, name string, args ...string) (string, error)
}

// ExecRunner is the production Runner backed by os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, opts Options, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	slog.Debug("Running command", logfields.Command(commandLine(name, args)), logfields.Path(opts.Dir))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w", commandLine(name, args), err)
	}
	return nil
}

func (ExecRunner) Output(ctx context.Context, opts Options, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.Stderr = opts.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	slog.Debug("Running command for output", logfields.Command(commandLine(name, args)), logfields.Path(opts.Dir))
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", commandLine(name, args), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func commandLine(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
