package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/konflux-ci/konflux-aggregator/pkg/aggregator"
	"github.com/konflux-ci/konflux-aggregator/pkg/aks"
	"github.com/konflux-ci/konflux-aggregator/pkg/auth"
	"github.com/konflux-ci/konflux-aggregator/pkg/backend"
	"github.com/konflux-ci/konflux-aggregator/pkg/catalog"
	"github.com/konflux-ci/konflux-aggregator/pkg/config"
	"github.com/konflux-ci/konflux-aggregator/pkg/konflux"
	"github.com/konflux-ci/konflux-aggregator/pkg/logger"
	"github.com/konflux-ci/konflux-aggregator/pkg/query"
	"github.com/konflux-ci/konflux-aggregator/pkg/server"
	"github.com/konflux-ci/konflux-aggregator/pkg/status"
	"github.com/konflux-ci/konflux-aggregator/pkg/utils"
)

// Version information variables (set at build time)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

const defaultWatchInterval = time.Minute

// NewListCommand creates a new list command
func NewListCommand() *cobra.Command {
	var (
		filters aggregator.Filters
		pages   int
		all     bool
	)
	cmd := &cobra.Command{
		Use:   "list <applications|components|releases> <entityRef>",
		Short: "List Konflux resources of an entity",
		Long:  "Fetch Konflux resources of a catalog entity from every configured cluster and print them as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := konflux.ParseResourceKind(args[0])
			if err != nil {
				return err
			}
			ref, err := catalog.ParseEntityRef(args[1])
			if err != nil {
				return err
			}
			if all {
				pages = -1
			}
			return runList(cmd.Context(), kind, ref, filters, pages)
		},
	}

	cmd.Flags().StringVar(&filters.Subcomponent, "subcomponent", "", "Only return resources of this subcomponent")
	cmd.Flags().StringSliceVar(&filters.Clusters, "clusters", nil, "Only query these clusters")
	cmd.Flags().StringVar(&filters.Application, "application", "", "Only return resources of this application")
	cmd.Flags().IntVar(&pages, "pages", 1, "Number of pages to load")
	cmd.Flags().BoolVar(&all, "all", false, "Load every page")
	return cmd
}

// NewLatestReleasesCommand creates a new latest-releases command
func NewLatestReleasesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "latest-releases <entityRef>",
		Short: "Show the latest release per subcomponent, cluster and namespace",
		Long:  "Load every release of a catalog entity and print the most recent one of each declared subcomponent/cluster/namespace combination",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := catalog.ParseEntityRef(args[0])
			if err != nil {
				return err
			}
			return runLatestReleases(cmd.Context(), ref)
		},
	}

	return cmd
}

// NewConfigCommand creates a new config command
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config <entityRef>",
		Short: "Show the resolved Konflux configuration of an entity",
		Long:  "Merge the static cluster registry with the cluster configs of the entity's subcomponents and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := catalog.ParseEntityRef(args[0])
			if err != nil {
				return err
			}
			return runConfig(cmd.Context(), ref)
		},
	}

	return cmd
}

// NewServeCommand creates a new serve command
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the aggregated views over HTTP",
		Long:  "Run the HTTP API that serves resources, latest releases and configuration of catalog entities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	return cmd
}

// NewWatchCommand creates a new watch command
func NewWatchCommand() *cobra.Command {
	var (
		interval time.Duration
		output   string
	)
	cmd := &cobra.Command{
		Use:   "watch <entityRef>",
		Short: "Periodically write an overview of an entity to a file",
		Long:  "Refresh applications, components, releases and latest releases of an entity on an interval and write them atomically to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := catalog.ParseEntityRef(args[0])
			if err != nil {
				return err
			}
			if output == "" {
				return fmt.Errorf("--output is required")
			}
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			return runWatch(cmd.Context(), ref, interval, output)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", defaultWatchInterval, "Refresh interval")
	cmd.Flags().StringVarP(&output, "output", "o", "", "File the overview is written to")
	return cmd
}

// NewVersionCommand creates a new version command
func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display version, build commit, and build time information",
		Run: func(cmd *cobra.Command, args []string) {
			runVersion()
		},
	}

	return cmd
}

// newAggregator wires the catalog, backend client and cluster discovery
// from configuration.
func newAggregator(ctx context.Context, cfg *config.Config) (*aggregator.Aggregator, error) {
	log := logger.GetLoggerFromContext(ctx)

	store := catalog.NewStore(nil)
	if cfg.Catalog.File != "" {
		loaded, err := catalog.LoadFile(cfg.Catalog.File)
		if err != nil {
			return nil, err
		}
		store = loaded
		log.Infof("Loaded %d catalog entities from %s", len(store.Entities()), cfg.Catalog.File)
	} else {
		log.Warn("No catalog file configured; entity lookups will fail")
	}

	var opts []backend.Option
	tokens, err := auth.NewIdentityTokenProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up identity tokens: %w", err)
	}
	if tokens != nil {
		opts = append(opts, backend.WithIdentityTokenProvider(tokens))
	}
	client := backend.NewClient(backend.StaticDiscovery(cfg.Backend.BaseURL), cfg.Backend.Timeout, log, opts...)

	aggOpts := aggregator.Options{
		KonfluxSection: cfg.Konflux,
		Query:          query.Options{StaleTime: cfg.Query.StaleTime},
		MaxPages:       cfg.Query.MaxPages,
	}
	if cfg.IsAzureConfigured() {
		aggOpts.Resolver = aks.NewResolver(cfg, log)
	}
	return aggregator.New(store, client, log, aggOpts), nil
}

func runList(ctx context.Context, kind konflux.ResourceKind, ref catalog.EntityRef, filters aggregator.Filters, pages int) error {
	log := logger.GetLoggerFromContext(ctx)
	agg, err := newAggregator(ctx, cfg)
	if err != nil {
		return err
	}
	defer agg.Close()

	list, err := agg.Resources(ctx, kind, ref, filters, pages)
	if err != nil {
		return fmt.Errorf("failed to list %s of %s: %w", kind, ref, err)
	}
	reportStatus(log, list.Status)
	return printJSON(list)
}

func runLatestReleases(ctx context.Context, ref catalog.EntityRef) error {
	log := logger.GetLoggerFromContext(ctx)
	agg, err := newAggregator(ctx, cfg)
	if err != nil {
		return err
	}
	defer agg.Close()

	latest, err := agg.LatestReleases(ctx, ref)
	if err != nil {
		return fmt.Errorf("failed to get latest releases of %s: %w", ref, err)
	}
	reportStatus(log, latest.Status)
	return printJSON(latest)
}

func runConfig(ctx context.Context, ref catalog.EntityRef) error {
	agg, err := newAggregator(ctx, cfg)
	if err != nil {
		return err
	}
	defer agg.Close()

	resolved, err := agg.KonfluxConfig(ctx, ref)
	if err != nil {
		return err
	}
	return printJSON(resolved)
}

func runServe(ctx context.Context) error {
	log := logger.GetLoggerFromContext(ctx)
	agg, err := newAggregator(ctx, cfg)
	if err != nil {
		return err
	}
	defer agg.Close()

	return server.New(cfg.Server, agg, log).Run(ctx)
}

// runWatch refreshes the overview of an entity on every tick and writes it
// to the output file.
func runWatch(ctx context.Context, ref catalog.EntityRef, interval time.Duration, output string) error {
	log := logger.GetLoggerFromContext(ctx)
	agg, err := newAggregator(ctx, cfg)
	if err != nil {
		return err
	}
	defer agg.Close()

	// Clean up any stale overview from a previous session
	if utils.FileExists(output) {
		log.Info("Removing stale overview file from previous session...")
		if err := os.Remove(output); err != nil {
			log.Warnf("Failed to remove stale overview file: %v", err)
		}
	}

	log.Infof("Watching %s every %s, writing to %s", ref, interval, output)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := writeOverview(ctx, agg, ref, output); err != nil {
		log.Errorf("Failed to collect initial overview: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("Watch shutting down due to context cancellation")
			return nil
		case <-ticker.C:
			if err := writeOverview(ctx, agg, ref, output); err != nil {
				// Continue running; the previous file stays in place
				log.Errorf("Failed to collect overview at %s: %v", time.Now().Format("2006-01-02 15:04:05"), err)
			}
		}
	}
}

func writeOverview(ctx context.Context, agg *aggregator.Aggregator, ref catalog.EntityRef, output string) error {
	log := logger.GetLoggerFromContext(ctx)

	overview, err := agg.Overview(ctx, ref)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(overview, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal overview to JSON: %w", err)
	}
	if err := utils.WriteFileAtomic(output, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write overview file: %w", err)
	}

	log.Debugf("Overview of %s written to %s (%d applications, %d components, %d releases)",
		ref, output, len(overview.Applications.Data), len(overview.Components.Data), len(overview.Releases.Data))
	return nil
}

// runVersion displays version information
func runVersion() {
	fmt.Printf("Konflux Aggregator\n")
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Build Time: %s\n", BuildTime)
}

func reportStatus(log *logrus.Logger, summary status.Summary) {
	switch summary.Health {
	case status.HealthFailed:
		log.Error(summary.Message)
	case status.HealthDegraded:
		log.Warn(summary.Message)
	}
}

func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	return nil
}
