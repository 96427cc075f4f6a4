package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/konflux-ci/konflux-aggregator/pkg/config"
	"github.com/konflux-ci/konflux-aggregator/pkg/logger"
)

var (
	configPath string
	cfg        *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "konflux-aggregator",
		Short:        "Konflux cross-cluster resource aggregator",
		Long:         "Aggregates Konflux applications, components and releases of catalog entities across clusters",
		SilenceUsage: true,
	}

	// Add global flags for configuration
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration YAML or JSON file (required)")

	// Add commands
	rootCmd.AddCommand(NewListCommand())
	rootCmd.AddCommand(NewLatestReleasesCommand())
	rootCmd.AddCommand(NewConfigCommand())
	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewWatchCommand())
	rootCmd.AddCommand(NewVersionCommand())

	// Set up context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Set up persistent pre-run to initialize config and logger
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Skip config loading for version command
		if cmd.Name() == "version" {
			return nil
		}

		// For other commands, config is required
		if configPath == "" {
			return fmt.Errorf("config path is required for %s command", cmd.Name())
		}

		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
		cfg = loaded

		// Setup logger and update context
		ctx := logger.SetupLogger(cmd.Context(), cfg.Agent.LogLevel, cfg.Agent.LogDir)
		cmd.SetContext(ctx)
		return nil
	}

	// Execute command with context
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Command execution failed: %v\n", err)
		os.Exit(1)
	}
}
