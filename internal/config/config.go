// Package config assembles the Runner's process-wide settings once at
// start-up: built-in defaults, then an optional YAML file, then environment
// variable overrides. The result is read-only for the life of the process,
// matching the "no writable global state" rule in the concurrency model.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RetentionPolicy controls what happens to a job directory after its
// artifact archive has been packed.
type RetentionPolicy string

const (
	RetentionKeep  RetentionPolicy = "keep"
	RetentionPurge RetentionPolicy = "purge"
)

// Config holds every setting the Runner reads after start-up.
type Config struct {
	// LocalJobsDir is the path the Runner itself writes job directories
	// under.
	LocalJobsDir string `yaml:"local_jobs_dir"`

	// HostJobsDir is the path the container runtime daemon sees for the
	// same job directories. Equal to LocalJobsDir on a bare-host
	// deployment; differs when the Runner shares a control socket with
	// its host's container runtime from inside its own container.
	HostJobsDir string `yaml:"host_jobs_dir"`

	// RuntimeBinary is the CLI-compatible container runtime client
	// invoked via os/exec (e.g. "docker", "podman").
	RuntimeBinary string `yaml:"runtime_binary"`

	// DockerPull is the image pull policy passed to every step's
	// container invocation: "always", "missing", or "never".
	DockerPull string `yaml:"docker_pull"`

	// SandboxUser resolves the open question of which UID a step's
	// container runs as. Empty/"root" runs as the image default (root);
	// any other value is passed as `-u <value>`.
	SandboxUser string `yaml:"sandbox_user"`

	// JobRetention resolves the open question of artifact-directory
	// cleanup after packing.
	JobRetention RetentionPolicy `yaml:"job_retention"`

	// ListenAddr is the HTTP Surface's bind address.
	ListenAddr string `yaml:"listen_addr"`

	// DefaultSandboxImage is used when a RunRequest omits sandbox_image.
	DefaultSandboxImage string `yaml:"default_sandbox_image"`

	// SandboxImages maps a short name to a full image reference; it is
	// the set of images the Capability Probe self-tests.
	SandboxImages map[string]string `yaml:"sandbox_images"`
}

// Default returns the built-in baseline configuration.
func Default() *Config {
	return &Config{
		LocalJobsDir:        "/app/runner_tmp",
		HostJobsDir:         "",
		RuntimeBinary:       "docker",
		DockerPull:          "missing",
		SandboxUser:         "root",
		JobRetention:        RetentionKeep,
		ListenAddr:          ":8080",
		DefaultSandboxImage: "matrixlab/sandbox:latest",
		SandboxImages: map[string]string{
			"default": "matrixlab/sandbox:latest",
		},
	}
}

// Load assembles the Runner's configuration: defaults, then an optional
// YAML file at path (skipped silently if path is empty), then environment
// variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.HostJobsDir == "" {
		cfg.HostJobsDir = cfg.LocalJobsDir
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("MATRIXLAB_LOCAL_JOBS_DIR"); ok {
		cfg.LocalJobsDir = v
	}
	if v, ok := os.LookupEnv("MATRIXLAB_HOST_JOBS_DIR"); ok {
		cfg.HostJobsDir = v
	}
	if v, ok := os.LookupEnv("MATRIXLAB_DOCKER_PULL"); ok {
		cfg.DockerPull = v
	}
	if v, ok := os.LookupEnv("MATRIXLAB_RUNTIME_BIN"); ok {
		cfg.RuntimeBinary = v
	}
	if v, ok := os.LookupEnv("MATRIXLAB_SANDBOX_USER"); ok {
		cfg.SandboxUser = v
	}
	if v, ok := os.LookupEnv("MATRIXLAB_JOB_RETENTION"); ok {
		cfg.JobRetention = RetentionPolicy(v)
	}
	if v, ok := os.LookupEnv("MATRIXLAB_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
}
