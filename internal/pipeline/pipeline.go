// Package pipeline orders the build stages and owns the run's shared
// state. Control flows strictly top to bottom: each stage's success is a
// precondition for the next, and the first failure aborts the run.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/joshschmelzle/wlanpi-kernel/internal/config"
	"github.com/joshschmelzle/wlanpi-kernel/internal/execx"
	"github.com/joshschmelzle/wlanpi-kernel/internal/kbuild"
	"github.com/joshschmelzle/wlanpi-kernel/internal/logfields"
	"github.com/joshschmelzle/wlanpi-kernel/internal/metrics"
	"github.com/joshschmelzle/wlanpi-kernel/internal/version"
)

// State is threaded through every stage of one run.
type State struct {
	Cfg      *config.Config
	Runner   execx.Runner
	BuildID  string
	WorkDir  string // workspace root
	SrcDir   string // kernel source tree, set by the sync stage
	Recorder metrics.Recorder
	Clock    func() time.Time
	Log      io.Writer // sink for external tool stdout/stderr; every stage's collaborators write here

	Artifacts kbuild.Artifacts   // set by the build stage
	Version   version.Identifier // computed after the build completes
	Packages  []string           // produced archive paths
}

func (s *State) clock() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s *State) recorder() metrics.Recorder {
	if s.Recorder != nil {
		return s.Recorder
	}
	return metrics.NoopRecorder{}
}

// StageDef is one named pipeline stage.
type StageDef struct {
	Name string
	Fn   func(context.Context, *State) error
}

// Run executes stages in order, recording timing and aborting on the
// first failure.
func Run(ctx context.Context, st *State, stages []StageDef) error {
	rec := st.recorder()
	buildStart := time.Now()

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			rec.IncBuildOutcome("failed")
			return fmt.Errorf("stage %s: %w", stage.Name, err)
		}

		slog.Info("Stage starting", logfields.Stage(stage.Name), logfields.BuildID(st.BuildID))
		t0 := time.Now()
		err := stage.Fn(ctx, st)
		dur := time.Since(t0)
		rec.ObserveStageDuration(stage.Name, dur)

		if err != nil {
			rec.IncStageResult(stage.Name, metrics.ResultFatal)
			rec.IncBuildOutcome("failed")
			slog.Error("Stage failed", logfields.Stage(stage.Name), logfields.DurationMS(float64(dur.Milliseconds())), logfields.Error(err))
			return fmt.Errorf("stage %s: %w", stage.Name, err)
		}

		rec.IncStageResult(stage.Name, metrics.ResultSuccess)
		slog.Info("Stage complete", logfields.Stage(stage.Name), logfields.DurationMS(float64(dur.Milliseconds())))
	}

	rec.ObserveBuildDuration(time.Since(buildStart))
	rec.IncBuildOutcome("success")
	return nil
}
