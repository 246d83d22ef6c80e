// Package httpapi implements the Runner's four HTTP/JSON endpoints on top
// of the standard library's ServeMux: /health, /capabilities,
// /sandboxes/health, and /run. A fifth, ambient /metrics endpoint exposes
// Prometheus counters; it reports on the other four, it doesn't change
// their behavior.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/matrixlab-runner/internal/capability"
	"github.com/cuemby/matrixlab-runner/internal/config"
	"github.com/cuemby/matrixlab-runner/internal/jobrunner"
	"github.com/cuemby/matrixlab-runner/internal/log"
	"github.com/cuemby/matrixlab-runner/internal/metrics"
	"github.com/cuemby/matrixlab-runner/internal/preflight"
	"github.com/cuemby/matrixlab-runner/internal/types"
)

// Server bundles the dependencies the HTTP Surface dispatches requests to.
type Server struct {
	cfg       *config.Config
	jobRunner *jobrunner.JobRunner
	// startupPreflight is the result of the once-at-startup Preflight run.
	// /run relies on it rather than re-running Preflight per request.
	startupPreflight preflight.Result
	mux              *http.ServeMux
}

// New builds a Server with all four (plus /metrics) routes registered.
func New(cfg *config.Config, jr *jobrunner.JobRunner, startupPreflight preflight.Result) *Server {
	s := &Server{
		cfg:              cfg,
		jobRunner:        jr,
		startupPreflight: startupPreflight,
		mux:              http.NewServeMux(),
	}

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/capabilities", s.handleCapabilities)
	s.mux.HandleFunc("/sandboxes/health", s.handleSandboxesHealth)
	s.mux.HandleFunc("/run", s.handleRun)
	s.mux.Handle("/metrics", metrics.Handler())

	return s
}

// Handler returns the http.Handler to pass to an http.Server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts serving on addr. It never invokes Preflight itself
// (that already ran before New was called); /health in particular must
// stay a cheap liveness probe.
func (s *Server) ListenAndServe(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // job execution can run long; governed by per-step timeouts instead
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": statusFromPreflight(s.startupPreflight),
		"docker": map[string]any{
			"binary_ok":   s.startupPreflight.BinaryOK,
			"socket_ok":   s.startupPreflight.SocketOK,
			"daemon_ok":   s.startupPreflight.DaemonOK,
			"socket_path": s.startupPreflight.SocketPath,
			"runtime":     s.cfg.RuntimeBinary,
		},
		"endpoints": []string{"/health", "/capabilities", "/sandboxes/health", "/run", "/metrics"},
		"notes":     capabilityNotes(s.startupPreflight),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSandboxesHealth(w http.ResponseWriter, r *http.Request) {
	report := capability.Probe(r.Context(), s.cfg.RuntimeBinary, s.cfg.SandboxImages)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req types.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}

	req.ApplyDefaults(s.cfg.DefaultSandboxImage)
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	resp, err := s.jobRunner.Run(r.Context(), &req)
	if err != nil {
		log.WithComponent("http").Error().Err(err).Msg("job run failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func statusFromPreflight(pf preflight.Result) string {
	if pf.OK() {
		return "ok"
	}
	return "degraded"
}

func capabilityNotes(pf preflight.Result) []string {
	var notes []string
	if !pf.BinaryOK {
		notes = append(notes, "container runtime binary not found on PATH")
	}
	if pf.BinaryOK && !pf.SocketOK {
		notes = append(notes, "no container runtime control socket found")
	}
	if pf.SocketOK && !pf.DaemonOK {
		notes = append(notes, "container runtime daemon unreachable")
	}
	return notes
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
