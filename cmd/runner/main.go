package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/matrixlab-runner/internal/config"
	"github.com/cuemby/matrixlab-runner/internal/httpapi"
	"github.com/cuemby/matrixlab-runner/internal/jobrunner"
	"github.com/cuemby/matrixlab-runner/internal/log"
	"github.com/cuemby/matrixlab-runner/internal/pathmap"
	"github.com/cuemby/matrixlab-runner/internal/preflight"
	"github.com/cuemby/matrixlab-runner/internal/steprunner"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "runner",
	Short:   "matrixlab-runner - code-execution orchestrator",
	Long:    `runner executes a declarative, multi-step shell recipe inside fresh, resource-capped, network-restricted containers and reports per-step results plus a packed artifact bundle.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("runner version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("listen-addr", "", "HTTP listen address (overrides config/env)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Runner's HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		listenAddr, _ := cmd.Flags().GetString("listen-addr")
		if configPath == "" {
			configPath = os.Getenv("MATRIXLAB_CONFIG_FILE")
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if listenAddr != "" {
			cfg.ListenAddr = listenAddr
		}

		logger := log.WithComponent("startup")

		// Preflight runs once at process start-up and is fatal on failure,
		// per the Preflight component's contract: the process should not
		// accept jobs it cannot possibly run.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		pf, err := preflight.Check(ctx, cfg.RuntimeBinary)
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Msg("preflight failed")
			return err
		}
		logger.Info().Str("socket", pf.SocketPath).Msg("preflight ok")

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

		srv := httpapi.New(cfg, jr, pf)

		logger.Info().Str("addr", cfg.ListenAddr).Msg("runner listening")
		return srv.ListenAndServe(cfg.ListenAddr)
	},
}
