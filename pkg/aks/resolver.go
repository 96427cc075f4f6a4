package aks

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/containerservice/armcontainerservice/v5"
	"github.com/Azure/go-autorest/autorest/to"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/konflux-ci/konflux-aggregator/pkg/auth"
	"github.com/konflux-ci/konflux-aggregator/pkg/config"
	"github.com/konflux-ci/konflux-aggregator/pkg/konflux"
)

// ClusterResourceIDPattern matches an AKS managed cluster resource ID.
// Format: /subscriptions/{subscription-id}/resourceGroups/{resource-group}/providers/Microsoft.ContainerService/managedClusters/{cluster-name}
var ClusterResourceIDPattern = regexp.MustCompile(`^/subscriptions/([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})/resourceGroups/([a-zA-Z0-9_\-\.]+)/providers/Microsoft\.ContainerService/managedClusters/([a-zA-Z0-9_\-\.]+)$`)

// maxConcurrentLookups bounds the number of parallel ARM requests.
const maxConcurrentLookups = 4

// ManagedClusterClient is the subset of the Azure SDK managed clusters client we need.
// It exists to allow lightweight mocking in unit tests.
type ManagedClusterClient interface {
	Get(ctx context.Context, resourceGroupName, resourceName string, options *armcontainerservice.ManagedClustersClientGetOptions) (armcontainerservice.ManagedClustersClientGetResponse, error)
}

// ClientFactory creates a managed cluster client for a subscription.
type ClientFactory func(subscriptionID string) (ManagedClusterClient, error)

// ResourceID identifies an AKS managed cluster.
type ResourceID struct {
	SubscriptionID string
	ResourceGroup  string
	Name           string
}

// ParseResourceID splits an AKS managed cluster resource ID.
func ParseResourceID(id string) (ResourceID, error) {
	m := ClusterResourceIDPattern.FindStringSubmatch(id)
	if m == nil {
		return ResourceID{}, fmt.Errorf("invalid AKS resource ID %q: expected format "+
			"/subscriptions/{subscription-id}/resourceGroups/{resource-group}/providers/Microsoft.ContainerService/managedClusters/{cluster-name}", id)
	}
	return ResourceID{SubscriptionID: m[1], ResourceGroup: m[2], Name: m[3]}, nil
}

// Resolver fills in the API URL of clusters that are registered by AKS
// resource ID. Clients are created lazily, one per subscription.
type Resolver struct {
	logger    *logrus.Logger
	newClient ClientFactory

	mu      sync.Mutex
	clients map[string]ManagedClusterClient
}

// NewResolver creates a resolver that authenticates with the configured
// Azure credential. The credential is created on first use.
func NewResolver(cfg *config.Config, logger *logrus.Logger) *Resolver {
	var (
		once    sync.Once
		cred    azcore.TokenCredential
		credErr error
	)
	factory := func(subscriptionID string) (ManagedClusterClient, error) {
		once.Do(func() {
			cred, credErr = auth.NewCredentialFactory().Credential(cfg)
		})
		if credErr != nil {
			return nil, fmt.Errorf("failed to get credential: %w", credErr)
		}
		clientOptions, err := auth.ClientOptions(cfg)
		if err != nil {
			return nil, err
		}
		client, err := armcontainerservice.NewManagedClustersClient(subscriptionID, cred, &arm.ClientOptions{ClientOptions: clientOptions})
		if err != nil {
			return nil, fmt.Errorf("failed to create managed clusters client: %w", err)
		}
		return client, nil
	}
	return NewResolverWithClientFactory(logger, factory)
}

// NewResolverWithClientFactory allows injecting the client factory (primarily for tests).
func NewResolverWithClientFactory(logger *logrus.Logger, factory ClientFactory) *Resolver {
	if logger == nil {
		logger = logrus.New()
	}
	return &Resolver{
		logger:    logger,
		newClient: factory,
		clients:   map[string]ManagedClusterClient{},
	}
}

// Resolve returns a copy of clusters where every cluster with an AKS resource
// ID and no API URL has its URL discovered from the managed cluster FQDN.
// Failed lookups are logged and the cluster is kept unchanged.
func (r *Resolver) Resolve(ctx context.Context, clusters map[string]konflux.ClusterConfig) map[string]konflux.ClusterConfig {
	resolved := make(map[string]konflux.ClusterConfig, len(clusters))
	var pending []string
	for name, cluster := range clusters {
		resolved[name] = cluster
		if cluster.AKSResourceID != "" && cluster.APIURL == "" {
			pending = append(pending, name)
		}
	}
	if len(pending) == 0 {
		return resolved
	}
	sort.Strings(pending)

	urls := make([]string, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)
	for i, name := range pending {
		g.Go(func() error {
			url, err := r.apiURL(gctx, clusters[name].AKSResourceID)
			if err != nil {
				r.logger.Warnf("Failed to discover API URL for cluster %s: %v", name, err)
				return nil
			}
			urls[i] = url
			return nil
		})
	}
	_ = g.Wait()

	for i, name := range pending {
		if urls[i] == "" {
			continue
		}
		cluster := resolved[name]
		cluster.APIURL = urls[i]
		resolved[name] = cluster
		r.logger.Debugf("Discovered API URL %s for cluster %s", urls[i], name)
	}
	return resolved
}

func (r *Resolver) apiURL(ctx context.Context, resourceID string) (string, error) {
	id, err := ParseResourceID(resourceID)
	if err != nil {
		return "", err
	}
	client, err := r.client(id.SubscriptionID)
	if err != nil {
		return "", err
	}

	resp, err := client.Get(ctx, id.ResourceGroup, id.Name, nil)
	if err != nil {
		return "", fmt.Errorf("failed to get AKS managed cluster via SDK: %w", err)
	}
	var fqdn string
	if props := resp.ManagedCluster.Properties; props != nil {
		fqdn = to.String(props.Fqdn)
		if fqdn == "" {
			fqdn = to.String(props.PrivateFQDN)
		}
	}
	if fqdn == "" {
		return "", fmt.Errorf("managed cluster FQDN is empty")
	}
	return fmt.Sprintf("https://%s:443", fqdn), nil
}

func (r *Resolver) client(subscriptionID string) (ManagedClusterClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[subscriptionID]; ok {
		return c, nil
	}
	c, err := r.newClient(subscriptionID)
	if err != nil {
		return nil, err
	}
	r.clients[subscriptionID] = c
	return c, nil
}
