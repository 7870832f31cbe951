package pipeline

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshschmelzle/wlanpi-kernel/internal/config"
	"github.com/joshschmelzle/wlanpi-kernel/internal/execx"
)

const fakeRelease = "6.12.1-v8+"

// fakeKernelTree wires a FakeRunner whose handler materializes the
// artifacts each make target is expected to produce, so the verification
// checks in the build stage see a realistic tree.
func fakeKernelTree(t *testing.T, srcDir string, produceImage bool) *execx.FakeRunner {
	t.Helper()
	return &execx.FakeRunner{
		Handler: func(c execx.Call) (string, error) {
			if c.Name != "make" {
				return "", nil
			}
			switch {
			case len(c.Args) == 2 && c.Args[0] == "-s" && c.Args[1] == "kernelrelease":
				return fakeRelease, nil
			case hasTarget(c.Args, "Image"):
				if produceImage {
					writeFile(t, filepath.Join(srcDir, "arch", "arm64", "boot", "Image"), "kernel")
				}
			case hasTarget(c.Args, "modules_install"):
				for _, arg := range c.Args {
					if root, ok := strings.CutPrefix(arg, "INSTALL_MOD_PATH="); ok {
						writeFile(t, filepath.Join(root, "lib", "modules", fakeRelease, "modules.dep"), "")
					}
				}
			case hasTarget(c.Args, "dtbs"):
				writeFile(t, filepath.Join(srcDir, "arch", "arm64", "boot", "dts", "broadcom", "bcm2711-rpi-4-b.dtb"), "dtb")
				writeFile(t, filepath.Join(srcDir, "arch", "arm64", "boot", "dts", "overlays", "disable-bt.dtbo"), "dtbo")
			}
			return "", nil
		},
	}
}

func hasTarget(args []string, target string) bool {
	for _, a := range args {
		if a == target {
			return true
		}
	}
	return false
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func testConfig(t *testing.T, workDir string) *config.Config {
	t.Helper()
	fragment := filepath.Join(workDir, "custom.config")
	writeFile(t, fragment, "CONFIG_CFG80211=m\n")

	return &config.Config{
		Kernel: config.KernelConfig{
			URL:        "https://example.com/linux.git",
			Branch:     "wlanpi-6.12",
			Defconfig:  "bcm2711_defconfig",
			Fragment:   fragment,
			PatchesDir: filepath.Join(workDir, "patches"), // absent: tolerated as empty
		},
		Build: config.BuildConfig{
			Arch:     "arm64",
			Image:    "Image",
			Jobs:     4,
			DTBs:     []string{"arch/arm64/boot/dts/broadcom/*.dtb"},
			Overlays: []string{"arch/arm64/boot/dts/overlays/*.dtbo"},
		},
		Packages: config.PackagesConfig{
			Kernel: config.PackageConfig{Name: "wlanpi-kernel"},
		},
		Output: config.OutputConfig{
			Directory:   filepath.Join(workDir, "output"),
			FirmwareDir: "/boot/firmware",
			ImageName:   "wlanpi-kernel8.img",
			BootConfig:  "/boot/firmware/config.txt",
		},
	}
}

// postSyncStages returns the pipeline with the source sync stage removed,
// so tests can run against a pre-populated local tree.
func postSyncStages() []StageDef {
	return DefaultStages()[1:]
}

func TestPipelineProducesKernelPackage(t *testing.T) {
	workDir := t.TempDir()
	srcDir := filepath.Join(workDir, "linux")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))

	runner := fakeKernelTree(t, srcDir, true)
	st := &State{
		Cfg:     testConfig(t, workDir),
		Runner:  runner,
		BuildID: "test-build",
		WorkDir: workDir,
		SrcDir:  srcDir,
		Clock:   func() time.Time { return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC) },
	}

	require.NoError(t, Run(context.Background(), st, postSyncStages()))

	require.Len(t, st.Packages, 1)
	assert.Equal(t, "wlanpi-kernel_6.12.1-v8+-20250101_arm64.deb", filepath.Base(st.Packages[0]))
	assert.Equal(t, fakeRelease, st.Artifacts.Release)
	assert.Equal(t, "6.12.1-v8+-20250101", st.Version.String())
	assert.Len(t, st.Artifacts.DTBs, 1)
	assert.Len(t, st.Artifacts.Overlays, 1)

	lines := runner.Lines()
	require.NotEmpty(t, lines)
	assert.Equal(t, "make bcm2711_defconfig", lines[0], "configuration must precede everything else")
	assert.Contains(t, lines, "make -j4 Image")
	assert.Contains(t, lines, "make -j4 modules")
	assert.Equal(t, "dpkg-deb", runner.Calls[len(runner.Calls)-1].Name, "packaging runs last")
}

func TestPipelineAbortsBeforePackagingWhenImageMissing(t *testing.T) {
	workDir := t.TempDir()
	srcDir := filepath.Join(workDir, "linux")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))

	runner := fakeKernelTree(t, srcDir, false)
	st := &State{
		Cfg:     testConfig(t, workDir),
		Runner:  runner,
		WorkDir: workDir,
		SrcDir:  srcDir,
	}

	err := Run(context.Background(), st, postSyncStages())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected kernel image missing after build")

	for _, c := range runner.Calls {
		assert.NotEqual(t, "dpkg-deb", c.Name, "no archive may be produced after a failed build")
	}
	entries, _ := os.ReadDir(st.Cfg.Output.Directory)
	assert.Empty(t, entries)
}

func TestPipelineBuildsHeadersPackage(t *testing.T) {
	workDir := t.TempDir()
	srcDir := filepath.Join(workDir, "linux")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))

	// Minimal exportable header tree.
	writeFile(t, filepath.Join(srcDir, "Makefile"), "VERSION = 6\n")
	writeFile(t, filepath.Join(srcDir, ".config"), "CONFIG_ARM64=y\n")
	writeFile(t, filepath.Join(srcDir, "scripts", "basic", "fixdep.c"), "")
	writeFile(t, filepath.Join(srcDir, "include", "linux", "module.h"), "")
	writeFile(t, filepath.Join(srcDir, "arch", "arm64", "include", "asm", "io.h"), "")
	writeFile(t, filepath.Join(srcDir, "arch", "arm64", "Makefile"), "")

	cfg := testConfig(t, workDir)
	cfg.Build.Headers = true
	cfg.Packages.Headers = &config.PackageConfig{Name: "wlanpi-kernel-headers"}

	runner := fakeKernelTree(t, srcDir, true)
	st := &State{
		Cfg:     cfg,
		Runner:  runner,
		WorkDir: workDir,
		SrcDir:  srcDir,
		Clock:   func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) },
	}

	require.NoError(t, Run(context.Background(), st, postSyncStages()))

	require.Len(t, st.Packages, 2)
	assert.Equal(t, "wlanpi-kernel_6.12.1-v8+-20250101_arm64.deb", filepath.Base(st.Packages[0]))
	assert.Equal(t, "wlanpi-kernel-headers_6.12.1-v8+-20250101_arm64.deb", filepath.Base(st.Packages[1]))
	assert.NotEmpty(t, st.Artifacts.HeadersRoot)
}

func TestPipelineRoutesToolOutputToRunLog(t *testing.T) {
	workDir := t.TempDir()
	srcDir := filepath.Join(workDir, "linux")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))

	cfg := testConfig(t, workDir)
	patchesDir := filepath.Join(workDir, "patches")
	cfg.Kernel.PatchesDir = patchesDir
	writeFile(t, filepath.Join(patchesDir, "0001-first.patch"), "--- a\n+++ b\n")

	var sink bytes.Buffer
	runner := fakeKernelTree(t, srcDir, true)
	st := &State{Cfg: cfg, Runner: runner, WorkDir: workDir, SrcDir: srcDir, Log: &sink}

	require.NoError(t, Run(context.Background(), st, postSyncStages()))

	require.NotEmpty(t, runner.Calls)
	for _, c := range runner.Calls {
		assert.Same(t, &sink, c.Stderr, "%s must write stderr to the run log", c.Line())
		if !(c.Name == "make" && hasTarget(c.Args, "kernelrelease")) {
			assert.Same(t, &sink, c.Stdout, "%s must write stdout to the run log", c.Line())
		}
	}
}

func TestPipelineAppliesPatchesBetweenConfigureAndBuild(t *testing.T) {
	workDir := t.TempDir()
	srcDir := filepath.Join(workDir, "linux")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))

	cfg := testConfig(t, workDir)
	patchesDir := filepath.Join(workDir, "patches")
	cfg.Kernel.PatchesDir = patchesDir
	writeFile(t, filepath.Join(patchesDir, "0002-later.patch"), "--- a\n+++ b\n")
	writeFile(t, filepath.Join(patchesDir, "0001-first.patch"), "--- a\n+++ b\n")

	runner := fakeKernelTree(t, srcDir, true)
	st := &State{Cfg: cfg, Runner: runner, WorkDir: workDir, SrcDir: srcDir}

	require.NoError(t, Run(context.Background(), st, postSyncStages()))

	var applied []string
	firstBuild := -1
	lastConfig := -1
	for i, c := range runner.Calls {
		switch {
		case c.Name == "git" && len(c.Args) > 1 && c.Args[0] == "apply":
			applied = append(applied, filepath.Base(c.Args[1]))
			assert.Greater(t, i, lastConfig, "patches apply after configuration")
		case c.Name == "make" && hasTarget(c.Args, "olddefconfig"):
			lastConfig = i
		case c.Name == "make" && hasTarget(c.Args, "Image") && firstBuild == -1:
			firstBuild = i
		}
	}
	assert.Equal(t, []string{"0001-first.patch", "0002-later.patch"}, applied)
	require.GreaterOrEqual(t, firstBuild, 0)
	assert.Less(t, lastConfig, firstBuild)
}
