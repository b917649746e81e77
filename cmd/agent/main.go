// Command agent is the AMP auto-shutdown monitoring agent. It polls an AMP
// panel for per-instance player counts and powers off the host once the whole
// fleet has been idle long enough, unless a maintenance window or dry-run
// configuration says otherwise.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ampwatch/agent/internal/amp"
	"github.com/ampwatch/agent/internal/config"
	"github.com/ampwatch/agent/internal/executor"
	"github.com/ampwatch/agent/internal/logging"
	"github.com/ampwatch/agent/internal/metrics"
	"github.com/ampwatch/agent/internal/scheduler"
)

// version is set at build time via -ldflags.
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ampwatch",
	Short: "Idle monitor and auto-shutdown agent for AMP game servers",
	Long: "ampwatch watches a fleet of AMP game-server instances and powers off\n" +
		"the host after the whole fleet has been idle past a configured delay.",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitoring loop in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgent()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ampwatch %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (default: standard locations)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(instancesCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runAgent wires the components and blocks until a termination signal.
func runAgent() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, level, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := config.NewStore(configPath, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger.Info("Starting ampwatch",
		zap.String("version", version),
		zap.String("amp_base_url", cfg.AMPBaseURL),
		zap.Int("selected_instances", len(cfg.SelectedInstances)),
		zap.Bool("dry_run", cfg.DryRun))

	if cfg.MetricsAddr != "" {
		metrics.Serve(cfg.MetricsAddr, logger)
	}

	pollers := amp.NewPollerCache(logger)
	sched := scheduler.New(
		store,
		func(c *config.Config) scheduler.Poller { return pollers.For(c) },
		executor.NewSystem(logger),
		executor.NewDryRun(logger),
		logger,
		level,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched.Run(ctx)
	logger.Info("Agent stopped")
	return nil
}
