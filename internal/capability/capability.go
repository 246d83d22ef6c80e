// Package capability implements the Capability Probe: a read-only
// diagnostic that checks each declared sandbox image is present and can
// run a trivial command, independent of the /run job path.
package capability

import (
	"context"
	"time"

	"github.com/cuemby/matrixlab-runner/internal/executor"
)

// Status is the overall health of the probed sandbox set.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	// StatusError marks a probe that could not run at all, as opposed to one
	// that ran and found a sandbox image missing or unhealthy.
	StatusError Status = "error"
)

// SandboxResult is the probe outcome for a single declared image.
type SandboxResult struct {
	OK       bool   `json:"ok"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Image    string `json:"image"`
	Error    string `json:"error,omitempty"`
}

// Report is the shape returned from GET /sandboxes/health.
type Report struct {
	Status    Status                   `json:"status"`
	Sandboxes map[string]SandboxResult `json:"sandboxes"`
}

const (
	probeTimeout         = 15 * time.Second
	outputTruncateLength = 500
)

// Probe self-tests every name -> image in sandboxImages, one at a time.
func Probe(ctx context.Context, runtimeBinary string, sandboxImages map[string]string) Report {
	report := Report{
		Status:    StatusOK,
		Sandboxes: make(map[string]SandboxResult, len(sandboxImages)),
	}

	for name, image := range sandboxImages {
		result, binaryMissing := probeOne(ctx, runtimeBinary, image)
		switch {
		case binaryMissing:
			report.Status = StatusError
		case !result.OK && report.Status != StatusError:
			report.Status = StatusDegraded
		}
		report.Sandboxes[name] = result
	}

	return report
}

// probeOne self-tests a single image. The second return value is true when
// the runtime binary itself could not be invoked at all (as opposed to the
// image being absent or unhealthy), which the caller surfaces as the
// overall "error" status rather than "degraded".
func probeOne(ctx context.Context, runtimeBinary, image string) (SandboxResult, bool) {
	inspectCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	inspect, err := executor.Run(inspectCtx, probeTimeout, runtimeBinary, "image", "inspect", image)
	if err == executor.ErrBinaryNotFound {
		return SandboxResult{OK: false, Image: image, Error: "container runtime binary not found"}, true
	}
	if err != nil || inspect.ExitCode != 0 {
		return SandboxResult{OK: false, Image: image, Error: "image not found"}, false
	}

	runCtx, cancel2 := context.WithTimeout(ctx, probeTimeout)
	defer cancel2()

	run, err := executor.Run(runCtx, probeTimeout, runtimeBinary,
		"run", "--rm", "--network", "none", image, "/bin/sh", "-c", "echo ok")
	if err == executor.ErrBinaryNotFound {
		return SandboxResult{OK: false, Image: image, Error: "container runtime binary not found"}, true
	}
	if err != nil {
		return SandboxResult{OK: false, Image: image, Error: err.Error()}, false
	}

	return SandboxResult{
		OK:       run.ExitCode == 0,
		ExitCode: run.ExitCode,
		Stdout:   truncate(run.Stdout, outputTruncateLength),
		Stderr:   truncate(run.Stderr, outputTruncateLength),
		Image:    image,
	}, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
