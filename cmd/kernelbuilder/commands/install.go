package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joshschmelzle/wlanpi-kernel/internal/bootcfg"
	"github.com/joshschmelzle/wlanpi-kernel/internal/config"
	"github.com/joshschmelzle/wlanpi-kernel/internal/execx"
	"github.com/joshschmelzle/wlanpi-kernel/internal/fsutil"
	"github.com/joshschmelzle/wlanpi-kernel/internal/logfields"
)

// InstallCmd applies built artifacts to the local system the way the
// generated postinst script does: copy image and device trees into the
// firmware directory, regenerate module dependencies, and point the boot
// config's kernel= line at the new image.
type InstallCmd struct {
	Src    string `help:"Kernel source tree containing built artifacts (defaults to <workspace>/linux)"`
	Depmod bool   `help:"Run depmod for the installed kernel release" default:"true"`
}

func (i *InstallCmd) Run(_ *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if _, err := config.NormalizeConfig(cfg); err != nil {
		return err
	}

	src := i.Src
	if src == "" {
		src = filepath.Join(cfg.Build.Workspace, "linux")
	}

	image := filepath.Join(src, "arch", cfg.Build.Arch, "boot", cfg.Build.Image)
	if !fsutil.Exists(image) {
		return fmt.Errorf("kernel image not found (run build first): %s", image)
	}

	if err := os.MkdirAll(cfg.Output.FirmwareDir, 0o755); err != nil {
		return fmt.Errorf("create firmware directory: %w", err)
	}

	dst := filepath.Join(cfg.Output.FirmwareDir, cfg.Output.ImageName)
	slog.Info("Installing kernel image", logfields.Artifact(dst))
	if err := fsutil.CopyFile(image, dst); err != nil {
		return fmt.Errorf("install kernel image: %w", err)
	}

	for _, glob := range cfg.Build.DTBs {
		if err := installGlob(src, glob, cfg.Output.FirmwareDir); err != nil {
			return err
		}
	}
	for _, glob := range cfg.Build.Overlays {
		if err := installGlob(src, glob, filepath.Join(cfg.Output.FirmwareDir, "overlays")); err != nil {
			return err
		}
	}

	ctx := context.Background()
	runner := execx.ExecRunner{}

	if i.Depmod {
		release, err := runner.Output(ctx, execx.Options{Dir: src}, "make", "-s", "kernelrelease")
		if err != nil {
			return err
		}
		if err := runner.Run(ctx, execx.Options{}, "depmod", release); err != nil {
			slog.Warn("depmod failed", logfields.Error(err))
		}
	}

	slog.Info("Updating boot config", logfields.Path(cfg.Output.BootConfig))
	if err := bootcfg.Update(cfg.Output.BootConfig, "kernel", cfg.Output.ImageName); err != nil {
		return err
	}

	fmt.Printf("Installed %s to %s\n", cfg.Output.ImageName, cfg.Output.FirmwareDir)
	return nil
}

func installGlob(src, glob, dstDir string) error {
	matches, err := filepath.Glob(filepath.Join(src, glob))
	if err != nil {
		return fmt.Errorf("glob %s: %w", glob, err)
	}
	for _, m := range matches {
		if err := fsutil.CopyFile(m, filepath.Join(dstDir, filepath.Base(m))); err != nil {
			return fmt.Errorf("install %s: %w", filepath.Base(m), err)
		}
	}
	return nil
}
