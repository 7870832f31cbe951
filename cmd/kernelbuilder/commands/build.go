package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/joshschmelzle/wlanpi-kernel/internal/config"
	"github.com/joshschmelzle/wlanpi-kernel/internal/execx"
	"github.com/joshschmelzle/wlanpi-kernel/internal/history"
	"github.com/joshschmelzle/wlanpi-kernel/internal/logfields"
	"github.com/joshschmelzle/wlanpi-kernel/internal/metrics"
	"github.com/joshschmelzle/wlanpi-kernel/internal/pipeline"
	"github.com/joshschmelzle/wlanpi-kernel/internal/workspace"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Output    string `short:"o" help:"Override output directory for packages"`
	Ephemeral bool   `help:"Use a throwaway workspace instead of the persistent source tree"`
}

func (b *BuildCmd) Run(_ *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	res, err := config.NormalizeConfig(cfg)
	if err != nil {
		return fmt.Errorf("normalize config: %w", err)
	}
	for _, w := range res.Warnings {
		slog.Warn(w)
	}
	if b.Output != "" {
		cfg.Output.Directory = b.Output
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	return RunBuild(cfg, root.Verbose, b.Ephemeral)
}

// RunBuild executes the full pipeline against a validated configuration.
func RunBuild(cfg *config.Config, verbose, ephemeral bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Output.Directory, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	// Duplicate all diagnostics to a per-run log file in the output root.
	logPath := filepath.Join(cfg.Output.Directory, fmt.Sprintf("build-%s.log", time.Now().Format("20060102-150405")))
	logFile, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("create log file: %w", err)
	}
	defer logFile.Close()

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(io.MultiWriter(os.Stderr, logFile), &slog.HandlerOptions{Level: level})))

	// External tool output (make, git apply, dpkg-deb) is teed into the
	// same log file so it holds the complete record of the run.
	toolOut := io.MultiWriter(os.Stdout, logFile)

	buildID := uuid.NewString()
	slog.Info("Starting kernel build pipeline", logfields.BuildID(buildID), logfields.Repository(cfg.Kernel.URL), logfields.Branch(cfg.Kernel.Branch))

	var ws *workspace.Manager
	if ephemeral {
		ws = workspace.NewEphemeral(cfg.Build.Workspace)
	} else {
		ws = workspace.NewPersistent(cfg.Build.Workspace)
	}
	if err := ws.Create(); err != nil {
		return err
	}
	defer func() {
		if err := ws.Cleanup(); err != nil {
			slog.Warn("Workspace cleanup failed", logfields.Error(err))
		}
	}()

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	var promRecorder *metrics.PrometheusRecorder
	if cfg.Metrics != nil && cfg.Metrics.TextfilePath != "" {
		promRecorder = metrics.NewPrometheusRecorder(prom.NewRegistry())
		recorder = promRecorder
	}

	var store *history.Store
	if cfg.History != nil {
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("open build history: %w", err)
		}
		defer store.Close()
		if err := store.RecordStart(ctx, buildID, time.Now()); err != nil {
			return fmt.Errorf("record build start: %w", err)
		}
	}

	st := &pipeline.State{
		Cfg:      cfg,
		Runner:   execx.ExecRunner{},
		BuildID:  buildID,
		WorkDir:  ws.Path(),
		Recorder: recorder,
		Log:      toolOut,
	}

	runErr := pipeline.Run(ctx, st, pipeline.DefaultStages())

	if store != nil {
		status := "success"
		if runErr != nil {
			status = "failed"
		}
		// A run that aborted before packaging has no version identifier.
		ver := ""
		if st.Artifacts.Release != "" {
			ver = st.Version.String()
		}
		if err := store.RecordFinish(context.Background(), buildID, status, st.Artifacts.Release, ver, st.Packages, time.Now()); err != nil {
			slog.Warn("Failed to record build finish", logfields.Error(err))
		}
	}
	if promRecorder != nil {
		if err := promRecorder.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
			slog.Warn("Failed to write metrics textfile", logfields.Error(err))
		}
	}

	if runErr != nil {
		slog.Error("Build pipeline failed", logfields.BuildID(buildID), logfields.Error(runErr))
		return runErr
	}

	slog.Info("Build pipeline complete", logfields.BuildID(buildID), logfields.Version(st.Version.String()))
	for _, pkg := range st.Packages {
		fmt.Println(pkg)
	}
	return nil
}
