// Package preflight verifies, in order, that the container runtime client
// binary is present, that its control socket exists, and that a no-op
// query against the daemon succeeds. Each failure carries a distinct,
// actionable message naming the missing piece.
package preflight

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/cuemby/matrixlab-runner/internal/executor"
)

// DefaultSocketPaths are checked in order; the first that exists wins.
// Covers the common Docker and Podman socket locations.
func DefaultSocketPaths() []string {
	return []string{
		"/var/run/docker.sock",
		"/run/docker.sock",
		"/run/podman/podman.sock",
	}
}

// Result is the outcome of a Preflight run.
type Result struct {
	BinaryOK bool
	SocketOK bool
	DaemonOK bool
	// SocketPath is the socket Preflight found, if any.
	SocketPath string
}

// OK reports whether all three checks passed.
func (r Result) OK() bool {
	return r.BinaryOK && r.SocketOK && r.DaemonOK
}

// Check runs the three-stage verification against runtimeBinary (e.g.
// "docker"), looking for a control socket at one of socketPaths (in
// order; DefaultSocketPaths() when nil). It returns a descriptive error
// on the first failing stage; Result reflects how far the check got.
func Check(ctx context.Context, runtimeBinary string, socketPaths ...string) (Result, error) {
	var res Result

	if len(socketPaths) == 0 {
		socketPaths = DefaultSocketPaths()
	}

	if _, err := exec.LookPath(runtimeBinary); err != nil {
		return res, fmt.Errorf(
			"preflight: container runtime binary %q not found on PATH: %w",
			runtimeBinary, err,
		)
	}
	res.BinaryOK = true

	socketPath, found := findSocket(socketPaths)
	if !found {
		return res, fmt.Errorf(
			"preflight: no container runtime control socket found (checked %v)",
			socketPaths,
		)
	}
	res.SocketOK = true
	res.SocketPath = socketPath

	infoCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := executor.Run(infoCtx, 10*time.Second, runtimeBinary, "info")
	if err != nil {
		return res, fmt.Errorf("preflight: failed to invoke %q info: %w", runtimeBinary, err)
	}
	if out.ExitCode != 0 {
		return res, fmt.Errorf(
			"preflight: %q info failed against daemon at %s (exit %d): %s",
			runtimeBinary, socketPath, out.ExitCode, out.Stderr,
		)
	}
	res.DaemonOK = true

	return res, nil
}

func findSocket(socketPaths []string) (string, bool) {
	for _, p := range socketPaths {
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}
