// Package debpkg assembles verified build artifacts into Debian packages.
// Each package is staged into a throwaway directory tree mirroring the
// install layout, fed to dpkg-deb, and the stage is removed on every exit
// path so failed runs never leave partial staging trees behind.
package debpkg

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joshschmelzle/wlanpi-kernel/internal/config"
	"github.com/joshschmelzle/wlanpi-kernel/internal/execx"
	"github.com/joshschmelzle/wlanpi-kernel/internal/fsutil"
	"github.com/joshschmelzle/wlanpi-kernel/internal/kbuild"
	"github.com/joshschmelzle/wlanpi-kernel/internal/logfields"
	"github.com/joshschmelzle/wlanpi-kernel/internal/version"
)

// Packager turns BuildArtifacts plus a version identifier into .deb files.
type Packager struct {
	Runner    execx.Runner
	StageRoot string // parent directory for per-package staging trees
	OutputDir string
	Log       io.Writer // sink for tool stdout/stderr; nil uses the process streams
}

// KernelPackage describes the runtime package: image, device trees and
// the module tree.
type KernelPackage struct {
	Meta        config.PackageConfig
	Arch        string
	Version     version.Identifier
	Artifacts   kbuild.Artifacts
	FirmwareDir string
	ImageName   string
	BootConfig  string
}

// HeadersPackage describes the optional developer headers package. It
// declares a version-pinned dependency on the runtime package.
type HeadersPackage struct {
	Meta          config.PackageConfig
	Arch          string
	Version       version.Identifier
	Artifacts     kbuild.Artifacts
	KernelPkgName string
}

// BuildKernel stages and archives the runtime package, returning the
// produced .deb path.
func (p *Packager) BuildKernel(ctx context.Context, pkg KernelPackage) (out string, err error) {
	stage := filepath.Join(p.StageRoot, pkg.Meta.Name)
	if err := resetStage(stage); err != nil {
		return "", err
	}
	defer cleanupStage(stage)

	// Payload staged under /opt/<name>; postinst copies it into the
	// firmware directory at install time.
	payload := filepath.Join(stage, "opt", pkg.Meta.Name)
	if err := fsutil.CopyFile(pkg.Artifacts.Image, filepath.Join(payload, pkg.ImageName)); err != nil {
		return "", fmt.Errorf("stage kernel image: %w", err)
	}
	for _, dtb := range pkg.Artifacts.DTBs {
		if err := fsutil.CopyFile(dtb, filepath.Join(payload, filepath.Base(dtb))); err != nil {
			return "", fmt.Errorf("stage dtb: %w", err)
		}
	}
	for _, overlay := range pkg.Artifacts.Overlays {
		if err := fsutil.CopyFile(overlay, filepath.Join(payload, "overlays", filepath.Base(overlay))); err != nil {
			return "", fmt.Errorf("stage overlay: %w", err)
		}
	}

	if pkg.Artifacts.ModulesRoot != "" {
		src := filepath.Join(pkg.Artifacts.ModulesRoot, "lib", "modules")
		dst := filepath.Join(stage, "lib", "modules")
		if err := fsutil.CopyDir(src, dst); err != nil {
			return "", fmt.Errorf("stage module tree: %w", err)
		}
		// modules_install leaves build/source symlinks into the build
		// tree; they would dangle on the target.
		_ = os.Remove(filepath.Join(dst, pkg.Artifacts.Release, "build"))
		_ = os.Remove(filepath.Join(dst, pkg.Artifacts.Release, "source"))
	}

	meta := metadataFor(pkg.Meta, pkg.Version.String(), pkg.Arch)
	postinst, err := RenderPostinst(PostinstParams{
		FirmwareDir:   pkg.FirmwareDir,
		SourceDir:     "/opt/" + pkg.Meta.Name,
		ImageName:     pkg.ImageName,
		KernelVersion: pkg.Artifacts.Release,
		BootConfig:    pkg.BootConfig,
		RunDepmod:     pkg.Artifacts.ModulesRoot != "",
	})
	if err != nil {
		return "", err
	}
	if err := writeMaintainerFiles(stage, meta, postinst); err != nil {
		return "", err
	}

	return p.archive(ctx, stage, meta)
}

// BuildHeaders stages and archives the headers package.
func (p *Packager) BuildHeaders(ctx context.Context, pkg HeadersPackage) (out string, err error) {
	if pkg.Artifacts.HeadersRoot == "" {
		return "", fmt.Errorf("headers package requested but no header tree was exported")
	}

	stage := filepath.Join(p.StageRoot, pkg.Meta.Name)
	if err := resetStage(stage); err != nil {
		return "", err
	}
	defer cleanupStage(stage)

	headersDir := fmt.Sprintf("/usr/src/%s-%s", pkg.Meta.Name, pkg.Artifacts.Release)
	if err := fsutil.CopyDir(pkg.Artifacts.HeadersRoot, filepath.Join(stage, headersDir)); err != nil {
		return "", fmt.Errorf("stage header tree: %w", err)
	}

	meta := metadataFor(pkg.Meta, pkg.Version.String(), pkg.Arch)
	meta.Depends = append(meta.Depends, fmt.Sprintf("%s (= %s)", pkg.KernelPkgName, pkg.Version.String()))

	postinst, err := RenderHeadersPostinst(HeadersPostinstParams{
		KernelVersion: pkg.Artifacts.Release,
		HeadersDir:    headersDir,
	})
	if err != nil {
		return "", err
	}
	if err := writeMaintainerFiles(stage, meta, postinst); err != nil {
		return "", err
	}

	return p.archive(ctx, stage, meta)
}

func metadataFor(meta config.PackageConfig, ver, arch string) Metadata {
	return Metadata{
		Name:        meta.Name,
		Version:     ver,
		Arch:        arch,
		Maintainer:  meta.Maintainer,
		Section:     meta.Section,
		Priority:    meta.Priority,
		Description: meta.Description,
		Depends:     append([]string{}, meta.Depends...),
		Conflicts:   append([]string{}, meta.Conflicts...),
		Replaces:    append([]string{}, meta.Replaces...),
		Provides:    append([]string{}, meta.Provides...),
	}
}

func writeMaintainerFiles(stage string, meta Metadata, postinst string) error {
	debian := filepath.Join(stage, "DEBIAN")
	if err := os.MkdirAll(debian, 0o755); err != nil {
		return fmt.Errorf("create DEBIAN dir: %w", err)
	}

	control, err := RenderControl(meta)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(debian, "control"), []byte(control), 0o644); err != nil {
		return fmt.Errorf("write control: %w", err)
	}
	if err := os.WriteFile(filepath.Join(debian, "postinst"), []byte(postinst), 0o755); err != nil {
		return fmt.Errorf("write postinst: %w", err)
	}
	return nil
}

func (p *Packager) archive(ctx context.Context, stage string, meta Metadata) (string, error) {
	if err := os.MkdirAll(p.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	out := filepath.Join(p.OutputDir, fmt.Sprintf("%s_%s_%s.deb", meta.Name, meta.Version, meta.Arch))

	slog.Info("Building package archive", logfields.Package(meta.Name), logfields.Version(meta.Version))
	if err := p.Runner.Run(ctx, execx.Options{Stdout: p.Log, Stderr: p.Log}, "dpkg-deb", "--build", "--root-owner-group", stage, out); err != nil {
		return "", fmt.Errorf("dpkg-deb %s: %w", meta.Name, err)
	}
	slog.Info("Package archive written", logfields.Artifact(out))
	return out, nil
}

func resetStage(stage string) error {
	// Staging must start empty, never accumulate across runs.
	if err := os.RemoveAll(stage); err != nil {
		return fmt.Errorf("clean staging directory: %w", err)
	}
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	return nil
}

func cleanupStage(stage string) {
	if err := os.RemoveAll(stage); err != nil {
		slog.Warn("Failed to remove staging directory", logfields.Path(stage), logfields.Error(err))
	}
}
