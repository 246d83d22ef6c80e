// Package metrics exposes Prometheus counters and histograms for job
// throughput and step duration. This is ambient observability infra: it
// reports on the Runner's behavior but never changes the semantics of the
// four core HTTP endpoints.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runner_jobs_total",
			Help: "Total number of jobs processed by result",
		},
		[]string{"result"},
	)

	StepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runner_steps_total",
			Help: "Total number of steps executed by exit kind",
		},
		[]string{"exit_kind"},
	)

	StepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "runner_step_duration_seconds",
			Help:    "Wall-clock duration of step container execution",
			Buckets: prometheus.DefBuckets,
		},
	)

	ArtifactBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "runner_artifact_bytes",
			Help:    "Size in bytes of the base64-decoded artifact archive",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)
)

func init() {
	prometheus.MustRegister(JobsTotal, StepsTotal, StepDuration, ArtifactBytes)
}

// Handler returns the HTTP handler serving Prometheus text exposition.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ExitKind classifies a step's exit code for the StepsTotal label.
func ExitKind(exitCode int) string {
	switch exitCode {
	case 0:
		return "success"
	case 124:
		return "timeout"
	case 999:
		return "spawn_failure"
	default:
		return "step_failure"
	}
}
