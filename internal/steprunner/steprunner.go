// Package steprunner composes and executes the single container invocation
// backing one Step: resource limits, mounts, network policy, image, and the
// wrapped shell script, all passed as flags to a Docker-CLI-compatible
// runtime binary via the Command Executor.
package steprunner

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cuemby/matrixlab-runner/internal/executor"
	"github.com/cuemby/matrixlab-runner/internal/log"
	"github.com/cuemby/matrixlab-runner/internal/pathmap"
	"github.com/cuemby/matrixlab-runner/internal/types"
)

// namePrefix is the stable prefix every step container is named with, so
// operators can grep `docker ps` for Runner-owned containers.
const namePrefix = "matrixlab-step"

// tmpfsSpec is the in-memory /tmp scratch area: execution disabled, capped
// at 256 MiB, matching spec.md's filesystem policy.
const tmpfsSpec = "/tmp:rw,noexec,nosuid,size=256m"

// Options configures how containers are composed and launched; it is
// derived once from Config and passed to every Step Runner invocation.
type Options struct {
	RuntimeBinary string
	PullPolicy    string
	SandboxUser   string
}

// Mounts describes the two bind mounts every step container gets, typed
// with the OCI mount shape even though the Runner never talks to an OCI
// runtime directly: it keeps mount construction uniform with the rest of
// the ecosystem and makes the workspace/output contract explicit.
type Mounts struct {
	Workspace specs.Mount
	Output    specs.Mount
}

// Run composes and executes the container for one step. jobID is used to
// derive a greppable container name; outJP is the job's (local, host) output
// directory pair and wsJP is the job's workspace pair (workspace survives
// across steps, so scripts are written there).
func Run(ctx context.Context, opts Options, jobID string, wsJP, outJP pathmap.JobPaths, req *types.RunRequest, step types.Step) (types.StepResult, error) {
	scriptPath, containerScriptPath, err := writeStepScript(wsJP.LocalDir, step)
	if err != nil {
		return types.StepResult{}, fmt.Errorf("writing step script: %w", err)
	}
	defer os.Remove(scriptPath)

	containerName := buildContainerName(jobID, step.Name)
	mounts := Mounts{
		Workspace: specs.Mount{Source: wsJP.HostDir, Destination: "/workspace", Type: "bind", Options: []string{"rw"}},
		Output:    specs.Mount{Source: outJP.HostDir, Destination: "/output", Type: "bind", Options: []string{"rw"}},
	}
	args := buildArgs(opts, req, step, mounts, containerName, containerScriptPath)

	logger := log.WithComponent("step_runner")
	logger.Debug().Str("container", containerName).Strs("args", args).Msg("launching step container")

	timeout := time.Duration(step.TimeoutSeconds) * time.Second
	res, err := executor.Run(ctx, timeout, opts.RuntimeBinary, args...)
	if err != nil {
		if err == executor.ErrBinaryNotFound {
			return types.StepResult{
				Name:     step.Name,
				ExitCode: types.ExitSpawnFailure,
				Stderr:   fmt.Sprintf("container runtime binary %q not found", opts.RuntimeBinary),
			}, nil
		}
		return types.StepResult{
			Name:     step.Name,
			ExitCode: types.ExitSpawnFailure,
			Stderr:   err.Error(),
		}, nil
	}

	if res.TimedOut {
		killStaleContainer(opts.RuntimeBinary, containerName)
		return types.StepResult{
			Name:     step.Name,
			ExitCode: types.ExitTimeout,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr + "\nTIMEOUT: step exceeded timeout_seconds and was killed",
		}, nil
	}

	return types.StepResult{
		Name:     step.Name,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}, nil
}

// killStaleContainer issues a forceful kill-by-name. Errors are logged, not
// propagated: the step has already been marked as timed out regardless of
// whether the kill itself succeeds.
func killStaleContainer(runtimeBinary, containerName string) {
	killCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := executor.Run(killCtx, 5*time.Second, runtimeBinary, "kill", containerName); err != nil {
		log.WithComponent("step_runner").Warn().Err(err).Str("container", containerName).Msg("failed to kill timed-out container")
	}
}

// mountArg renders an OCI mount spec into a Docker-CLI `-v` volume argument.
func mountArg(m specs.Mount) string {
	return fmt.Sprintf("%s:%s:%s", m.Source, m.Destination, strings.Join(m.Options, ","))
}

func buildArgs(opts Options, req *types.RunRequest, step types.Step, mounts Mounts, containerName, containerScriptPath string) []string {
	args := []string{
		"run", "--rm", "--init", "--read-only",
		"--tmpfs", tmpfsSpec,
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--ipc", "none",
		"--cpus", strconv.FormatFloat(req.CPULimit, 'f', -1, 64),
		"--memory", fmt.Sprintf("%dm", req.MemLimitMB),
		"--pids-limit", strconv.Itoa(req.PidsLimit),
		"--workdir", "/workspace",
		"-v", mountArg(mounts.Workspace),
		"-v", mountArg(mounts.Output),
		"--pull", opts.PullPolicy,
		"--name", containerName,
	}

	switch step.Network {
	case types.NetworkEgress:
		args = append(args, "--network", "bridge")
	default:
		args = append(args, "--network", "none")
	}

	if opts.SandboxUser != "" && opts.SandboxUser != "root" {
		args = append(args, "-u", opts.SandboxUser)
	}

	// bash, not /bin/sh: dash (the usual /bin/sh on debian-based sandbox
	// images) rejects `set -o pipefail`, silently breaking the strict shell
	// mode the preamble depends on for any pipeline in a user command.
	args = append(args, req.SandboxImage, "bash", containerScriptPath)
	return args
}

// writeStepScript renders the fixed preamble plus the step's command into a
// file under the job's local workspace directory and returns both the
// local (host-Runner-visible) path, used to write/remove the file, and the
// in-container path the command argument references.
func writeStepScript(localWsDir string, step types.Step) (localPath, containerPath string, err error) {
	name := fmt.Sprintf(".step-%s.sh", sanitize(step.Name, 40))
	localPath = filepath.Join(localWsDir, name)
	containerPath = "/workspace/" + name

	var b strings.Builder
	b.WriteString("set -euo pipefail\n")
	b.WriteString("mkdir -p /output\n")
	b.WriteString("export HOME=/workspace\n")
	b.WriteString("export OUTPUT_DIR=/output\n")
	for _, k := range sortedKeys(step.Env) {
		fmt.Fprintf(&b, "export %s=%s\n", shellQuote(k), shellQuote(step.Env[k]))
	}
	fmt.Fprintf(&b, "echo \"== step: %s ==\"\n", step.Name)
	b.WriteString(step.Command)
	b.WriteString("\n")

	if err := os.WriteFile(localPath, []byte(b.String()), 0o755); err != nil {
		return "", "", err
	}
	return localPath, containerPath, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// shellQuote wraps v in single quotes, escaping any embedded single quote,
// so values like "bar baz" survive the preamble's `export` line intact.
func shellQuote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}

func sanitize(name string, maxLen int) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	s := b.String()
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	if s == "" {
		s = "step"
	}
	return s
}

func buildContainerName(jobID, stepName string) string {
	jobFragment := jobID
	if len(jobFragment) > 8 {
		jobFragment = jobFragment[:8]
	}
	return fmt.Sprintf("%s-%s-%s-%s", namePrefix, jobFragment, sanitize(stepName, 20), randomSuffix())
}

func randomSuffix() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "0000"
	}
	return hex.EncodeToString(buf)
}
