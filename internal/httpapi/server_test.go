package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/matrixlab-runner/internal/config"
	"github.com/cuemby/matrixlab-runner/internal/jobrunner"
	"github.com/cuemby/matrixlab-runner/internal/pathmap"
	"github.com/cuemby/matrixlab-runner/internal/preflight"
	"github.com/cuemby/matrixlab-runner/internal/steprunner"
	"github.com/cuemby/matrixlab-runner/internal/testutil"
	"github.com/cuemby/matrixlab-runner/internal/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	testutil.WriteFakeDocker(t)

	cfg := config.Default()
	cfg.LocalJobsDir = t.TempDir()
	cfg.HostJobsDir = cfg.LocalJobsDir

	pm := pathmap.New(cfg.LocalJobsDir, cfg.HostJobsDir)
	jr := jobrunner.New(jobrunner.Config{
		PathMap: pm,
		StepOptions: steprunner.Options{
			RuntimeBinary: cfg.RuntimeBinary,
			PullPolicy:    cfg.DockerPull,
			SandboxUser:   cfg.SandboxUser,
		},
		Retention: cfg.JobRetention,
	})

	pf := preflight.Result{BinaryOK: true, SocketOK: true, DaemonOK: true, SocketPath: "/var/run/docker.sock"}
	return New(cfg, jr, pf)
}

func TestHandleHealth_AlwaysOK(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleCapabilities_ReportsPreflightResult(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/capabilities", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body["endpoints"], "/run")
}

func TestHandleRun_TrivialSuccessReturnsResultsAndArtifact(t *testing.T) {
	s := newTestServer(t)

	reqBody := types.RunRequest{
		Steps: []types.Step{
			{Name: "echo", Command: "echo hello > /output/result.txt"},
		},
	}
	b, err := json.Marshal(reqBody)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader(b))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp types.RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "echo", resp.Results[0].Name)
	assert.Equal(t, 0, resp.Results[0].ExitCode)
	require.NotNil(t, resp.ArtifactsZipBase64)
}

func TestHandleRun_ValidationErrorReturns400(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader([]byte(`{"steps": []}`)))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRun_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/run", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleSandboxesHealth_ReportsDeclaredImages(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/sandboxes/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "sandboxes")
}
