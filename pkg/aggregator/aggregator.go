package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/konflux-ci/konflux-aggregator/pkg/catalog"
	"github.com/konflux-ci/konflux-aggregator/pkg/konflux"
	"github.com/konflux-ci/konflux-aggregator/pkg/query"
	"github.com/konflux-ci/konflux-aggregator/pkg/status"
)

const (
	// DefaultMaxPages bounds LoadAll when no limit is configured.
	DefaultMaxPages = 50

	configResolveTimeout = time.Minute
)

// ClusterResolver completes cluster registry entries, e.g. by discovering
// their API URLs.
type ClusterResolver interface {
	Resolve(ctx context.Context, clusters map[string]konflux.ClusterConfig) map[string]konflux.ClusterConfig
}

// Options configures an Aggregator.
type Options struct {
	// KonfluxSection is the raw `konflux:` configuration section.
	KonfluxSection map[string]interface{}
	// Resolver is optional.
	Resolver ClusterResolver
	Query    query.Options
	MaxPages int
}

// Aggregator composes the catalog, the layered configuration and the
// paginated backend queries into the views served to users.
type Aggregator struct {
	catalog  catalog.Catalog
	section  map[string]interface{}
	resolver ClusterResolver
	queries  *query.Client[konflux.Resource]
	maxPages int
	logger   *logrus.Logger

	configs singleflight.Group
}

// New creates an aggregator. The auth provider of all queries is taken from
// the static configuration section.
func New(cat catalog.Catalog, fetcher query.PageFetcher[konflux.Resource], logger *logrus.Logger, opts Options) *Aggregator {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.Query.AuthProvider == "" {
		opts.Query.AuthProvider = konflux.ResolveConfigFromRaw(opts.KonfluxSection, nil, logger).AuthProvider
	}

	return &Aggregator{
		catalog:  cat,
		section:  opts.KonfluxSection,
		resolver: opts.Resolver,
		queries:  query.NewClient(fetcher, logger, opts.Query),
		maxPages: opts.MaxPages,
		logger:   logger,
	}
}

// Close cancels every in-flight query.
func (a *Aggregator) Close() {
	a.queries.Close()
}

// KonfluxConfig resolves the configuration of an entity: the static cluster
// registry merged with the cluster configs of the entity's subcomponents.
// Concurrent calls for the same entity share one resolution. The shared
// resolution does not end when one caller is cancelled; each caller stops
// waiting when its own context ends.
func (a *Aggregator) KonfluxConfig(ctx context.Context, ref catalog.EntityRef) (*konflux.KonfluxConfig, error) {
	ch := a.configs.DoChan(ref.String(), func() (interface{}, error) {
		resolveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), configResolveTimeout)
		defer cancel()
		return a.resolveConfig(resolveCtx, ref)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			a.logger.Debugf("Shared konflux config resolution for %s", ref)
		}
		return res.Val.(*konflux.KonfluxConfig), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Aggregator) resolveConfig(ctx context.Context, ref catalog.EntityRef) (*konflux.KonfluxConfig, error) {
	root, err := a.catalog.Entity(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %s: %w", ref, err)
	}
	related, err := a.catalog.RelatedEntities(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get entities related to %s: %w", ref, err)
	}

	subcomponents := konflux.ResolveSubcomponents(*root, related)
	a.logger.Debugf("Resolved %d subcomponent(s) for %s: %v", len(subcomponents.Names), ref, subcomponents.Names)

	configs := konflux.SubcomponentClusterConfigs(subcomponents.Entities, a.logger)
	cfg := konflux.ResolveConfigFromRaw(a.section, configs, a.logger)
	if a.resolver != nil && len(cfg.Clusters) > 0 {
		cfg.Clusters = a.resolver.Resolve(ctx, cfg.Clusters)
	}
	return cfg, nil
}

// Resources returns the accumulated resources of one kind for an entity.
// pages is the number of pages to accumulate: 0 or 1 fetches the first page
// only, a negative value loads every page up to the configured maximum.
func (a *Aggregator) Resources(ctx context.Context, kind konflux.ResourceKind, ref catalog.EntityRef, filters Filters, pages int) (*ResourceList, error) {
	q, err := a.query(kind, ref, filters)
	if err != nil {
		return nil, err
	}

	var snap query.Snapshot[konflux.Resource]
	switch {
	case pages == 0 || pages == 1:
		snap, err = q.Fetch(ctx)
	case pages < 0 || pages > a.maxPages:
		snap, err = q.LoadAll(ctx, a.maxPages)
	default:
		snap, err = q.LoadAll(ctx, pages)
	}
	if err != nil {
		return nil, err
	}
	return newResourceList(kind, snap), nil
}

// Refetch discards the cached pages of a resource query and fetches its
// first page again. It is the only way to recover a query from an error.
func (a *Aggregator) Refetch(ctx context.Context, kind konflux.ResourceKind, ref catalog.EntityRef, filters Filters) (*ResourceList, error) {
	q, err := a.query(kind, ref, filters)
	if err != nil {
		return nil, err
	}
	snap, err := q.Refetch(ctx)
	if err != nil {
		return nil, err
	}
	return newResourceList(kind, snap), nil
}

// LatestReleases loads every release page of an entity and keeps the most
// recent release per declared combination.
func (a *Aggregator) LatestReleases(ctx context.Context, ref catalog.EntityRef) (*LatestReleases, error) {
	cfg, err := a.KonfluxConfig(ctx, ref)
	if err != nil {
		return nil, err
	}
	releases, err := a.Resources(ctx, konflux.KindReleases, ref, Filters{}, -1)
	if err != nil {
		return nil, err
	}
	latest := latestReleases(cfg, releases)
	if latest.Truncated {
		a.logger.Warnf("Releases of %s were truncated at %d pages; latest releases may be incomplete", ref, releases.Pages)
	}
	return latest, nil
}

func latestReleases(cfg *konflux.KonfluxConfig, releases *ResourceList) *LatestReleases {
	combinations := konflux.DeriveCombinations(cfg.SubcomponentConfigs)
	latest := konflux.SelectLatest(combinations, cfg.SubcomponentConfigs, releases.Data)
	if latest == nil {
		latest = []konflux.Resource{}
	}
	return &LatestReleases{
		Releases:      latest,
		Combinations:  combinations,
		ClusterErrors: releases.ClusterErrors,
		Truncated:     releases.HasMore,
		Status:        status.SummarizeCounts(len(releases.Data), releases.ClusterErrors, string(konflux.KindReleases)),
	}
}

// Overview fetches applications, components and releases of an entity
// concurrently. Every kind is loaded completely.
func (a *Aggregator) Overview(ctx context.Context, ref catalog.EntityRef) (*Overview, error) {
	cfg, err := a.KonfluxConfig(ctx, ref)
	if err != nil {
		return nil, err
	}

	overview := &Overview{Entity: ref.String()}
	g, gctx := errgroup.WithContext(ctx)
	for kind, dst := range map[konflux.ResourceKind]**ResourceList{
		konflux.KindApplications: &overview.Applications,
		konflux.KindComponents:   &overview.Components,
		konflux.KindReleases:     &overview.Releases,
	} {
		g.Go(func() error {
			list, err := a.Resources(gctx, kind, ref, Filters{}, -1)
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", kind, err)
			}
			*dst = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	overview.Latest = *latestReleases(cfg, overview.Releases)
	return overview, nil
}

func (a *Aggregator) query(kind konflux.ResourceKind, ref catalog.EntityRef, filters Filters) (*query.PaginatedQuery[konflux.Resource], error) {
	if _, err := konflux.ParseResourceKind(string(kind)); err != nil {
		return nil, err
	}
	if ref.Name == "" {
		return nil, fmt.Errorf("entity ref is required")
	}
	key := query.NewKey(kind, ref.String(), filters.Subcomponent, filters.Clusters, filters.Application)
	return a.queries.Query(key), nil
}
