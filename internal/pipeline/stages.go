package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joshschmelzle/wlanpi-kernel/internal/archive"
	"github.com/joshschmelzle/wlanpi-kernel/internal/debpkg"
	"github.com/joshschmelzle/wlanpi-kernel/internal/gitsync"
	"github.com/joshschmelzle/wlanpi-kernel/internal/kbuild"
	"github.com/joshschmelzle/wlanpi-kernel/internal/kconfig"
	"github.com/joshschmelzle/wlanpi-kernel/internal/patch"
	"github.com/joshschmelzle/wlanpi-kernel/internal/version"
)

// Stage names, in execution order.
const (
	StageSync      = "sync"
	StageConfigure = "configure"
	StagePatch     = "patch"
	StageBuild     = "build"
	StagePackage   = "package"
)

// DefaultStages returns the five-stage build pipeline:
// source sync, config composition, patching, build, packaging.
func DefaultStages() []StageDef {
	return []StageDef{
		{Name: StageSync, Fn: runSync},
		{Name: StageConfigure, Fn: runConfigure},
		{Name: StagePatch, Fn: runPatch},
		{Name: StageBuild, Fn: runBuild},
		{Name: StagePackage, Fn: runPackage},
	}
}

func runSync(ctx context.Context, st *State) error {
	srcDir := filepath.Join(st.WorkDir, "linux")
	_, err := gitsync.Sync(ctx, gitsync.Source{
		URL:    st.Cfg.Kernel.URL,
		Branch: st.Cfg.Kernel.Branch,
		Path:   srcDir,
		Depth:  st.Cfg.Build.ShallowDepth,
		Auth:   st.Cfg.Kernel.Auth,
	})
	if err != nil {
		return err
	}
	st.SrcDir = srcDir
	return nil
}

func runConfigure(ctx context.Context, st *State) error {
	composer := kconfig.Composer{
		Runner:   st.Runner,
		SrcDir:   st.SrcDir,
		Profile:  st.Cfg.Kernel.Defconfig,
		Fragment: st.Cfg.Kernel.Fragment,
		Env:      buildEnv(st),
		Log:      st.Log,
	}
	return composer.Compose(ctx)
}

func runPatch(ctx context.Context, st *State) error {
	patches, err := patch.List(st.Cfg.Kernel.PatchesDir)
	if err != nil {
		return err
	}
	applier := patch.Applier{Runner: st.Runner, SrcDir: st.SrcDir, Log: st.Log}
	return applier.Apply(ctx, patches)
}

func runBuild(ctx context.Context, st *State) error {
	builder := builderFor(st)

	image, err := builder.BuildImage(ctx)
	if err != nil {
		return err
	}
	if err := builder.BuildModules(ctx); err != nil {
		return err
	}

	modStage := filepath.Join(st.WorkDir, "modules")
	if err := os.RemoveAll(modStage); err != nil {
		return fmt.Errorf("clean module stage: %w", err)
	}
	modulesRoot, err := builder.InstallModules(ctx, modStage)
	if err != nil {
		return err
	}

	dtbs, overlays, err := builder.BuildDTBs(ctx)
	if err != nil {
		return err
	}

	release, err := builder.Release(ctx)
	if err != nil {
		return err
	}

	st.Artifacts = kbuild.Artifacts{
		Release:     release,
		Image:       image,
		DTBs:        dtbs,
		Overlays:    overlays,
		ModulesRoot: modulesRoot,
	}

	if st.Cfg.Build.Headers {
		headersStage := filepath.Join(st.WorkDir, "headers")
		if err := os.RemoveAll(headersStage); err != nil {
			return fmt.Errorf("clean headers stage: %w", err)
		}
		headersRoot, err := builder.ExportHeaders(ctx, headersStage)
		if err != nil {
			return err
		}
		st.Artifacts.HeadersRoot = headersRoot
	}
	return nil
}

func runPackage(ctx context.Context, st *State) error {
	// The version identifier is derived here, after the build completed,
	// because the release string is configuration- and revision-dependent.
	st.Version = version.New(st.Artifacts.Release, st.clock())

	packager := debpkg.Packager{
		Runner:    st.Runner,
		StageRoot: filepath.Join(st.WorkDir, "stage"),
		OutputDir: st.Cfg.Output.Directory,
		Log:       st.Log,
	}

	kernelDeb, err := packager.BuildKernel(ctx, debpkg.KernelPackage{
		Meta:        st.Cfg.Packages.Kernel,
		Arch:        st.Cfg.DebArch(),
		Version:     st.Version,
		Artifacts:   st.Artifacts,
		FirmwareDir: st.Cfg.Output.FirmwareDir,
		ImageName:   st.Cfg.Output.ImageName,
		BootConfig:  st.Cfg.Output.BootConfig,
	})
	if err != nil {
		return err
	}
	st.Packages = append(st.Packages, kernelDeb)

	if st.Cfg.Packages.Headers != nil {
		headersDeb, err := packager.BuildHeaders(ctx, debpkg.HeadersPackage{
			Meta:          *st.Cfg.Packages.Headers,
			Arch:          st.Cfg.DebArch(),
			Version:       st.Version,
			Artifacts:     st.Artifacts,
			KernelPkgName: st.Cfg.Packages.Kernel.Name,
		})
		if err != nil {
			return err
		}
		st.Packages = append(st.Packages, headersDeb)
	}

	if st.Cfg.Output.Bundle {
		bundle, err := writeBundle(st)
		if err != nil {
			return err
		}
		st.Packages = append(st.Packages, bundle)
	}
	return nil
}

func writeBundle(st *State) (string, error) {
	files := map[string]string{
		st.Cfg.Output.ImageName: st.Artifacts.Image,
	}
	for _, dtb := range st.Artifacts.DTBs {
		files[filepath.Base(dtb)] = dtb
	}
	for _, overlay := range st.Artifacts.Overlays {
		files[filepath.Join("overlays", filepath.Base(overlay))] = overlay
	}

	name := fmt.Sprintf("%s_%s_%s.tar.xz", st.Cfg.Packages.Kernel.Name, st.Version, st.Cfg.DebArch())
	path := filepath.Join(st.Cfg.Output.Directory, name)
	if err := archive.WriteBundle(path, files); err != nil {
		return "", fmt.Errorf("write artifact bundle: %w", err)
	}
	return path, nil
}

func builderFor(st *State) kbuild.Builder {
	return kbuild.Builder{
		Runner:       st.Runner,
		SrcDir:       st.SrcDir,
		Arch:         st.Cfg.Build.Arch,
		CrossCompile: st.Cfg.Build.CrossCompile,
		Image:        st.Cfg.Build.Image,
		Jobs:         st.Cfg.Build.Jobs,
		DTBGlobs:     st.Cfg.Build.DTBs,
		OverlayGlobs: st.Cfg.Build.Overlays,
		BuildUser:    st.Cfg.Build.BuildUser,
		BuildHost:    st.Cfg.Build.BuildHost,
		Log:          st.Log,
	}
}

func buildEnv(st *State) []string {
	env := []string{"ARCH=" + st.Cfg.Build.Arch}
	if st.Cfg.Build.CrossCompile != "" {
		env = append(env, "CROSS_COMPILE="+st.Cfg.Build.CrossCompile)
	}
	return env
}
