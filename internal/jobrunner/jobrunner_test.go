package jobrunner

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/matrixlab-runner/internal/config"
	"github.com/cuemby/matrixlab-runner/internal/pathmap"
	"github.com/cuemby/matrixlab-runner/internal/steprunner"
	"github.com/cuemby/matrixlab-runner/internal/testutil"
	"github.com/cuemby/matrixlab-runner/internal/types"
)

func newTestRunner(t *testing.T, retention config.RetentionPolicy) *JobRunner {
	t.Helper()
	testutil.WriteFakeDocker(t)

	root := t.TempDir()
	cfg := Config{
		PathMap:     pathmap.New(root, ""),
		StepOptions: steprunner.Options{RuntimeBinary: "docker", PullPolicy: string(types.PullMissing), SandboxUser: "root"},
		Retention:   retention,
	}
	return New(cfg)
}

func unzipNames(t *testing.T, encoded *string) map[string]bool {
	t.Helper()
	require.NotNil(t, encoded)
	data, err := base64.StdEncoding.DecodeString(*encoded)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	return names
}

func TestRun_TrivialSuccessRunsAllStepsInOrder(t *testing.T) {
	jr := newTestRunner(t, config.RetentionKeep)

	req := &types.RunRequest{
		Steps: []types.Step{
			{Name: "a", Command: "true"},
			{Name: "b", Command: "true"},
		},
	}
	req.ApplyDefaults("matrixlab/sandbox:latest")

	resp, err := jr.Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "a", resp.Results[0].Name)
	assert.Equal(t, "b", resp.Results[1].Name)
	assert.Equal(t, 0, resp.Results[0].ExitCode)
	assert.Equal(t, 0, resp.Results[1].ExitCode)

	names := unzipNames(t, resp.ArtifactsZipBase64)
	assert.True(t, names["_runner.txt"])
	assert.True(t, names["_last_step.txt"])
}

func TestRun_FailFastStopsAfterFailingStep(t *testing.T) {
	jr := newTestRunner(t, config.RetentionKeep)

	req := &types.RunRequest{
		Steps: []types.Step{
			{Name: "a", Command: "true"},
			{Name: "b", Command: "exit 2"},
			{Name: "c", Command: "true"},
		},
	}
	req.ApplyDefaults("matrixlab/sandbox:latest")

	resp, err := jr.Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "b", resp.Results[1].Name)
	assert.Equal(t, 2, resp.Results[1].ExitCode)
}

func TestRun_TimeoutStepReportsExit124(t *testing.T) {
	jr := newTestRunner(t, config.RetentionKeep)

	req := &types.RunRequest{
		Steps: []types.Step{
			{Name: "slow", Command: "sleep 5", TimeoutSeconds: 1},
		},
	}
	req.ApplyDefaults("matrixlab/sandbox:latest")

	resp, err := jr.Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, types.ExitTimeout, resp.Results[0].ExitCode)
}

func TestRun_EnvPassthroughReachesStep(t *testing.T) {
	jr := newTestRunner(t, config.RetentionKeep)

	req := &types.RunRequest{
		Steps: []types.Step{
			{Name: "env", Command: `echo "$FOO" > /output/r.txt`, Env: map[string]string{"FOO": "bar baz"}},
		},
	}
	req.ApplyDefaults("matrixlab/sandbox:latest")

	resp, err := jr.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Results[0].ExitCode)
}

func TestRun_PurgeRetentionRemovesJobDirectoryAfterPacking(t *testing.T) {
	jr := newTestRunner(t, config.RetentionPurge)

	req := &types.RunRequest{
		Steps: []types.Step{{Name: "a", Command: "echo hi > /output/r.txt"}},
	}
	req.ApplyDefaults("matrixlab/sandbox:latest")

	resp, err := jr.Run(context.Background(), req)
	require.NoError(t, err)

	jp := jr.cfg.PathMap.Job(resp.JobID)
	_, statErr := os.Stat(jp.LocalDir)
	assert.True(t, os.IsNotExist(statErr), "expected job directory to be removed after purge")

	names := unzipNames(t, resp.ArtifactsZipBase64)
	assert.True(t, names["r.txt"])
}
