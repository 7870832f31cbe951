package debpkg

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshschmelzle/wlanpi-kernel/internal/config"
	"github.com/joshschmelzle/wlanpi-kernel/internal/execx"
	"github.com/joshschmelzle/wlanpi-kernel/internal/kbuild"
	"github.com/joshschmelzle/wlanpi-kernel/internal/version"
)

func fixtureArtifacts(t *testing.T) kbuild.Artifacts {
	t.Helper()
	dir := t.TempDir()

	image := filepath.Join(dir, "Image")
	require.NoError(t, os.WriteFile(image, []byte("kernel"), 0o644))

	dtb := filepath.Join(dir, "bcm2711-rpi-4-b.dtb")
	require.NoError(t, os.WriteFile(dtb, []byte("dtb"), 0o644))

	overlay := filepath.Join(dir, "disable-bt.dtbo")
	require.NoError(t, os.WriteFile(overlay, []byte("dtbo"), 0o644))

	modRoot := filepath.Join(dir, "modstage")
	modDir := filepath.Join(modRoot, "lib", "modules", "6.12.1-v8+")
	require.NoError(t, os.MkdirAll(filepath.Join(modDir, "kernel"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(modDir, "modules.dep"), nil, 0o644))

	return kbuild.Artifacts{
		Release:     "6.12.1-v8+",
		Image:       image,
		DTBs:        []string{dtb},
		Overlays:    []string{overlay},
		ModulesRoot: modRoot,
	}
}

func kernelPackageFixture(t *testing.T) KernelPackage {
	t.Helper()
	return KernelPackage{
		Meta:        config.PackageConfig{Name: "wlanpi-kernel", Description: "WLAN Pi kernel"},
		Arch:        "arm64",
		Version:     version.New("6.12.1-v8+", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		Artifacts:   fixtureArtifacts(t),
		FirmwareDir: "/boot/firmware",
		ImageName:   "wlanpi-kernel8.img",
		BootConfig:  "/boot/firmware/config.txt",
	}
}

func TestBuildKernelStagesAndArchives(t *testing.T) {
	stageRoot := t.TempDir()
	outDir := t.TempDir()

	var staged []string
	runner := &execx.FakeRunner{
		Handler: func(c execx.Call) (string, error) {
			// Inspect the staging tree while dpkg-deb would see it.
			stage := c.Args[2]
			for _, rel := range []string{
				"opt/wlanpi-kernel/wlanpi-kernel8.img",
				"opt/wlanpi-kernel/bcm2711-rpi-4-b.dtb",
				"opt/wlanpi-kernel/overlays/disable-bt.dtbo",
				"lib/modules/6.12.1-v8+/modules.dep",
				"DEBIAN/control",
				"DEBIAN/postinst",
			} {
				if _, err := os.Stat(filepath.Join(stage, rel)); err == nil {
					staged = append(staged, rel)
				}
			}
			return "", nil
		},
	}

	p := Packager{Runner: runner, StageRoot: stageRoot, OutputDir: outDir}
	out, err := p.BuildKernel(context.Background(), kernelPackageFixture(t))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(outDir, "wlanpi-kernel_6.12.1-v8+-20250101_arm64.deb"), out)
	require.Len(t, runner.Calls, 1)
	assert.Equal(t, "dpkg-deb", runner.Calls[0].Name)
	assert.Equal(t, []string{"--build", "--root-owner-group", filepath.Join(stageRoot, "wlanpi-kernel"), out}, runner.Calls[0].Args)
	assert.Len(t, staged, 6, "staged layout incomplete, saw %v", staged)

	// Staging is removed on the happy path.
	_, err = os.Stat(filepath.Join(stageRoot, "wlanpi-kernel"))
	assert.True(t, os.IsNotExist(err))
}

func TestBuildKernelCleansPreexistingStage(t *testing.T) {
	stageRoot := t.TempDir()
	stale := filepath.Join(stageRoot, "wlanpi-kernel", "opt", "wlanpi-kernel", "stale-artifact")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	var sawStale bool
	runner := &execx.FakeRunner{
		Handler: func(c execx.Call) (string, error) {
			if _, err := os.Stat(filepath.Join(c.Args[2], "opt", "wlanpi-kernel", "stale-artifact")); err == nil {
				sawStale = true
			}
			return "", nil
		},
	}

	p := Packager{Runner: runner, StageRoot: stageRoot, OutputDir: t.TempDir()}
	_, err := p.BuildKernel(context.Background(), kernelPackageFixture(t))
	require.NoError(t, err)
	assert.False(t, sawStale, "staging must start empty, never accumulate across runs")
}

func TestBuildKernelCleansStageOnArchiveFailure(t *testing.T) {
	stageRoot := t.TempDir()
	runner := &execx.FakeRunner{
		Handler: func(c execx.Call) (string, error) { return "", os.ErrPermission },
	}

	p := Packager{Runner: runner, StageRoot: stageRoot, OutputDir: t.TempDir()}
	_, err := p.BuildKernel(context.Background(), kernelPackageFixture(t))
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(stageRoot, "wlanpi-kernel"))
	assert.True(t, os.IsNotExist(statErr), "staging must be removed on the failure path too")
}

func TestBuildHeadersPinsKernelDependency(t *testing.T) {
	artifacts := fixtureArtifacts(t)
	headersRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(headersRoot, "Makefile"), []byte("x"), 0o644))
	artifacts.HeadersRoot = headersRoot

	var control string
	runner := &execx.FakeRunner{
		Handler: func(c execx.Call) (string, error) {
			data, err := os.ReadFile(filepath.Join(c.Args[2], "DEBIAN", "control"))
			if err != nil {
				return "", err
			}
			control = string(data)
			return "", nil
		},
	}

	p := Packager{Runner: runner, StageRoot: t.TempDir(), OutputDir: t.TempDir()}
	out, err := p.BuildHeaders(context.Background(), HeadersPackage{
		Meta:          config.PackageConfig{Name: "wlanpi-kernel-headers"},
		Arch:          "arm64",
		Version:       version.New("6.12.1-v8+", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		Artifacts:     artifacts,
		KernelPkgName: "wlanpi-kernel",
	})
	require.NoError(t, err)

	assert.Contains(t, filepath.Base(out), "wlanpi-kernel-headers_6.12.1-v8+-20250101_arm64.deb")
	assert.Contains(t, control, "Depends: wlanpi-kernel (= 6.12.1-v8+-20250101)\n")
}

func TestBuildHeadersRequiresExportedTree(t *testing.T) {
	p := Packager{Runner: &execx.FakeRunner{}, StageRoot: t.TempDir(), OutputDir: t.TempDir()}
	_, err := p.BuildHeaders(context.Background(), HeadersPackage{
		Meta:      config.PackageConfig{Name: "wlanpi-kernel-headers"},
		Artifacts: kbuild.Artifacts{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no header tree")
}
