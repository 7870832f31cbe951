// Package kbuild drives the native kernel build: image, modules, module
// installation and device trees, each verified before the next stage may
// consume it. Parallelism is delegated entirely to make's job server,
// sized to the host CPU count.
package kbuild

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"

	"github.com/joshschmelzle/wlanpi-kernel/internal/execx"
	"github.com/joshschmelzle/wlanpi-kernel/internal/fsutil"
	"github.com/joshschmelzle/wlanpi-kernel/internal/logfields"
)

// Artifacts is the verified output of a completed build, produced here
// and consumed read-only by the packaging stage.
type Artifacts struct {
	Release     string   // kernel release string, e.g. 6.12.1-v8+
	Image       string   // absolute path of the primary image
	DTBs        []string // device-tree blobs
	Overlays    []string // device-tree overlays
	ModulesRoot string   // staging root containing lib/modules/<release>
	HeadersRoot string   // optional developer header tree
}

// Builder invokes the kernel's make targets against a configured tree.
type Builder struct {
	Runner       execx.Runner
	SrcDir       string
	Arch         string
	CrossCompile string
	Image        string // image make target and artifact filename
	Jobs         int    // 0 means runtime.NumCPU()
	DTBGlobs     []string
	OverlayGlobs []string
	BuildUser    string
	BuildHost    string
	Log          io.Writer // sink for tool stdout/stderr; nil uses the process streams
}

// BuildImage compiles the primary kernel image and verifies it exists.
func (b *Builder) BuildImage(ctx context.Context) (string, error) {
	slog.Info("Building kernel image", slog.String("target", b.Image), slog.Int("jobs", b.jobs()))
	if err := b.make(ctx, b.Image); err != nil {
		return "", fmt.Errorf("build image: %w", err)
	}

	image := filepath.Join(b.SrcDir, "arch", b.Arch, "boot", b.Image)
	if !fsutil.Exists(image) {
		return "", fmt.Errorf("expected kernel image missing after build: %s", image)
	}
	slog.Info("Kernel image built", logfields.Artifact(image))
	return image, nil
}

// BuildModules compiles loadable modules.
func (b *Builder) BuildModules(ctx context.Context) error {
	slog.Info("Building kernel modules", slog.Int("jobs", b.jobs()))
	if err := b.make(ctx, "modules"); err != nil {
		return fmt.Errorf("build modules: %w", err)
	}
	return nil
}

// InstallModules installs modules into stageDir and verifies the module
// tree exists under lib/modules.
func (b *Builder) InstallModules(ctx context.Context, stageDir string) (string, error) {
	abs, err := filepath.Abs(stageDir)
	if err != nil {
		return "", fmt.Errorf("resolve module stage path: %w", err)
	}
	slog.Info("Installing modules", logfields.Path(abs))
	if err := b.make(ctx, "modules_install", "INSTALL_MOD_PATH="+abs); err != nil {
		return "", fmt.Errorf("install modules: %w", err)
	}

	installed, err := filepath.Glob(filepath.Join(abs, "lib", "modules", "*"))
	if err != nil {
		return "", err
	}
	if len(installed) == 0 {
		return "", fmt.Errorf("expected module tree missing after install: %s", filepath.Join(abs, "lib", "modules"))
	}
	return abs, nil
}

// BuildDTBs compiles device-tree descriptors and resolves the configured
// blob and overlay globs. Every configured glob must match at least one
// file.
func (b *Builder) BuildDTBs(ctx context.Context) (dtbs, overlays []string, err error) {
	if len(b.DTBGlobs) == 0 && len(b.OverlayGlobs) == 0 {
		slog.Info("No device trees configured, skipping dtbs")
		return nil, nil, nil
	}

	slog.Info("Building device trees", slog.Int("jobs", b.jobs()))
	if err := b.make(ctx, "dtbs"); err != nil {
		return nil, nil, fmt.Errorf("build dtbs: %w", err)
	}

	dtbs, err = b.resolveGlobs(b.DTBGlobs)
	if err != nil {
		return nil, nil, fmt.Errorf("device-tree blobs: %w", err)
	}
	overlays, err = b.resolveGlobs(b.OverlayGlobs)
	if err != nil {
		return nil, nil, fmt.Errorf("device-tree overlays: %w", err)
	}
	slog.Info("Device trees built", slog.Int("dtbs", len(dtbs)), slog.Int("overlays", len(overlays)))
	return dtbs, overlays, nil
}

// Release queries the build system's own version string. It depends on
// the resolved configuration and source revision, so it is only valid
// after the image build has completed.
func (b *Builder) Release(ctx context.Context) (string, error) {
	opts := b.opts()
	opts.Stdout = nil
	release, err := b.Runner.Output(ctx, opts, "make", "-s", "kernelrelease")
	if err != nil {
		return "", fmt.Errorf("query kernel release: %w", err)
	}
	if release == "" {
		return "", fmt.Errorf("kernel release query returned empty string")
	}
	return release, nil
}

// headerPaths are the tree subsets exported for out-of-tree module builds.
var headerPaths = []string{
	"Makefile",
	"Module.symvers",
	".config",
	"scripts",
	"include",
}

// ExportHeaders copies the public headers, build scripts and resolved
// config into stageDir for the headers package.
func (b *Builder) ExportHeaders(ctx context.Context, stageDir string) (string, error) {
	abs, err := filepath.Abs(stageDir)
	if err != nil {
		return "", fmt.Errorf("resolve headers stage path: %w", err)
	}
	slog.Info("Exporting header tree", logfields.Path(abs))
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("create headers stage: %w", err)
	}

	paths := append([]string{}, headerPaths...)
	paths = append(paths, filepath.Join("arch", b.Arch, "include"), filepath.Join("arch", b.Arch, "Makefile"))

	for _, rel := range paths {
		src := filepath.Join(b.SrcDir, rel)
		info, err := os.Stat(src)
		if err != nil {
			if os.IsNotExist(err) && rel == "Module.symvers" {
				continue // only produced when modules are enabled
			}
			return "", fmt.Errorf("header source %s: %w", rel, err)
		}
		dst := filepath.Join(abs, rel)
		if info.IsDir() {
			err = fsutil.CopyDir(src, dst)
		} else {
			err = fsutil.CopyFile(src, dst)
		}
		if err != nil {
			return "", fmt.Errorf("copy %s: %w", rel, err)
		}
	}
	return abs, nil
}

func (b *Builder) make(ctx context.Context, target string, extra ...string) error {
	args := append([]string{"-j" + strconv.Itoa(b.jobs()), target}, extra...)
	return b.Runner.Run(ctx, b.opts(), "make", args...)
}

func (b *Builder) jobs() int {
	if b.Jobs > 0 {
		return b.Jobs
	}
	return runtime.NumCPU()
}

func (b *Builder) opts() execx.Options {
	env := []string{"ARCH=" + b.Arch}
	if b.CrossCompile != "" {
		env = append(env, "CROSS_COMPILE="+b.CrossCompile)
	}
	if b.BuildUser != "" {
		env = append(env, "KBUILD_BUILD_USER="+b.BuildUser)
	}
	if b.BuildHost != "" {
		env = append(env, "KBUILD_BUILD_HOST="+b.BuildHost)
	}
	opts := execx.Options{Dir: b.SrcDir, Env: env}
	if b.Log != nil {
		opts.Stdout = b.Log
		opts.Stderr = b.Log
	}
	return opts
}

func (b *Builder) resolveGlobs(globs []string) ([]string, error) {
	var files []string
	for _, g := range globs {
		matches, err := filepath.Glob(filepath.Join(b.SrcDir, g))
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", g, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("expected artifacts missing after build: %s", g)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}
