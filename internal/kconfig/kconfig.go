// Package kconfig composes the resolved kernel build configuration: base
// defconfig profile, mandatory custom fragment merged on top, then a
// normalization pass so all dependent options are consistent. The heavy
// lifting is the kernel's own Kconfig machinery; this package only
// sequences it.
package kconfig

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joshschmelzle/wlanpi-kernel/internal/execx"
	"github.com/joshschmelzle/wlanpi-kernel/internal/logfields"
)

// Composer produces the .config consumed by the build stage.
type Composer struct {
	Runner   execx.Runner
	SrcDir   string
	Profile  string // defconfig make target, e.g. bcm2711_defconfig
	Fragment string // custom override fragment (required)
	Env      []string
	Log      io.Writer // sink for tool stdout/stderr; nil uses the process streams
}

// Compose loads the base profile, merges the override fragment and
// normalizes the result with olddefconfig. The fragment's absence is an
// explicit fatal error, in contrast to the patch stage's tolerant-empty
// policy. Normalization is idempotent: re-running olddefconfig on an
// already-resolved .config leaves it unchanged.
func (c *Composer) Compose(ctx context.Context) error {
	fragment, err := filepath.Abs(c.Fragment)
	if err != nil {
		return fmt.Errorf("resolve fragment path: %w", err)
	}
	if _, err := os.Stat(fragment); err != nil {
		return fmt.Errorf("custom config fragment not found: %s", c.Fragment)
	}

	slog.Info("Loading base config profile", slog.String("profile", c.Profile))
	if err := c.make(ctx, c.Profile); err != nil {
		return fmt.Errorf("load defconfig profile %s: %w", c.Profile, err)
	}

	slog.Info("Merging config fragment", logfields.Path(fragment))
	if err := c.Runner.Run(ctx, c.opts(), "scripts/kconfig/merge_config.sh", "-m", "-O", ".", ".config", fragment); err != nil {
		return fmt.Errorf("merge config fragment: %w", err)
	}

	slog.Info("Normalizing merged config")
	if err := c.make(ctx, "olddefconfig"); err != nil {
		return fmt.Errorf("normalize config: %w", err)
	}
	return nil
}

func (c *Composer) make(ctx context.Context, target string) error {
	return c.Runner.Run(ctx, c.opts(), "make", target)
}

func (c *Composer) opts() execx.Options {
	opts := execx.Options{Dir: c.SrcDir, Env: c.Env}
	if c.Log != nil {
		opts.Stdout = c.Log
		opts.Stderr = c.Log
	}
	return opts
}
