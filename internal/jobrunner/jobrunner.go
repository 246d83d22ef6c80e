// Package jobrunner orchestrates the step sequence for one job: directory
// lifecycle, fail-fast execution, and artifact packing.
package jobrunner

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/matrixlab-runner/internal/artifact"
	"github.com/cuemby/matrixlab-runner/internal/config"
	"github.com/cuemby/matrixlab-runner/internal/log"
	"github.com/cuemby/matrixlab-runner/internal/metrics"
	"github.com/cuemby/matrixlab-runner/internal/pathmap"
	"github.com/cuemby/matrixlab-runner/internal/steprunner"
	"github.com/cuemby/matrixlab-runner/internal/types"
)

// Config holds the settings a JobRunner needs for every job it runs.
type Config struct {
	PathMap     pathmap.PathMap
	StepOptions steprunner.Options
	Retention   config.RetentionPolicy
}

// JobRunner executes one job's step sequence at a time; it holds no
// per-job state between calls to Run, so a single instance is shared
// safely across concurrently-running jobs (each call owns disjoint
// directories).
type JobRunner struct {
	cfg Config
}

// New creates a JobRunner.
func New(cfg Config) *JobRunner {
	return &JobRunner{cfg: cfg}
}

// Run executes req's step sequence sequentially, fail-fast, and returns the
// assembled RunResponse. The directory lifecycle (ws/out creation, marker
// files, packing, optional purge) happens regardless of whether the job
// ultimately succeeds or fails partway through.
func (jr *JobRunner) Run(ctx context.Context, req *types.RunRequest) (*types.RunResponse, error) {
	jobID := newJobID()
	logger := log.WithComponent("job_runner").With().Str("job_id", jobID).Logger()

	jp := jr.cfg.PathMap.Job(jobID)
	wsJP := jp.Sub("ws")
	outJP := jp.Sub("out")

	if err := os.MkdirAll(wsJP.LocalDir, 0o777); err != nil {
		return nil, fmt.Errorf("creating workspace directory: %w", err)
	}
	if err := os.MkdirAll(outJP.LocalDir, 0o777); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	// MkdirAll applies umask, so force world-writable explicitly: containers
	// may run as any UID depending on the image and SandboxUser policy.
	_ = os.Chmod(wsJP.LocalDir, 0o777)
	_ = os.Chmod(outJP.LocalDir, 0o777)

	if err := writeMarker(outJP.LocalDir, "_runner.txt", fmt.Sprintf("job=%s started=%s\n", jobID, time.Now().UTC().Format(time.RFC3339))); err != nil {
		return nil, fmt.Errorf("writing runner marker: %w", err)
	}

	results := make([]types.StepResult, 0, len(req.Steps))
	jobFailed := false

	for _, step := range req.Steps {
		logger.Info().Str("step", step.Name).Msg("starting step")

		start := time.Now()
		result, err := steprunner.Run(ctx, jr.cfg.StepOptions, jobID, wsJP, outJP, req, step)
		metrics.StepDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			return nil, fmt.Errorf("running step %q: %w", step.Name, err)
		}
		metrics.StepsTotal.WithLabelValues(metrics.ExitKind(result.ExitCode)).Inc()

		results = append(results, result)

		if err := writeMarker(outJP.LocalDir, "_last_step.txt", fmt.Sprintf("name=%s exit_code=%d\n", result.Name, result.ExitCode)); err != nil {
			logger.Warn().Err(err).Msg("failed to write last-step marker")
		}

		if result.ExitCode != 0 {
			logger.Warn().Str("step", step.Name).Int("exit_code", result.ExitCode).Msg("step failed, stopping job")
			jobFailed = true
			break
		}
	}

	encoded, err := artifact.Pack(outJP.LocalDir)
	if err != nil {
		return nil, fmt.Errorf("packing artifacts: %w", err)
	}
	metrics.ArtifactBytes.Observe(float64(base64.StdEncoding.DecodedLen(len(encoded))))

	if jr.cfg.Retention == config.RetentionPurge {
		if err := os.RemoveAll(jp.LocalDir); err != nil {
			logger.Warn().Err(err).Msg("failed to purge job directory")
		}
	}

	if jobFailed {
		metrics.JobsTotal.WithLabelValues("failed").Inc()
	} else {
		metrics.JobsTotal.WithLabelValues("success").Inc()
	}

	return &types.RunResponse{
		JobID:              jobID,
		Results:            results,
		ArtifactsZipBase64: &encoded,
	}, nil
}

func writeMarker(outDir, name, content string) error {
	return os.WriteFile(outDir+"/"+name, []byte(content), 0o644)
}

func newJobID() string {
	return fmt.Sprintf("job-%s", uuid.NewString())
}
