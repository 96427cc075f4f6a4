package konflux

import (
	"encoding/json"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// AuthProvider selects how the backend authenticates against member clusters.
type AuthProvider string

const (
	AuthProviderServiceAccount       AuthProvider = "serviceAccount"
	AuthProviderOIDC                 AuthProvider = "oidc"
	AuthProviderImpersonationHeaders AuthProvider = "impersonationHeaders"

	// DefaultAuthProvider is used whenever no provider is configured.
	DefaultAuthProvider = AuthProviderServiceAccount
)

var validAuthProviders = map[AuthProvider]bool{
	AuthProviderServiceAccount:       true,
	AuthProviderOIDC:                 true,
	AuthProviderImpersonationHeaders: true,
}

// IsValid reports whether p is one of the supported providers.
func (p AuthProvider) IsValid() bool {
	return validAuthProviders[p]
}

// ClusterConfig describes one cluster known to the installation.
type ClusterConfig struct {
	Name                string `json:"name" mapstructure:"-"`
	APIURL              string `json:"apiUrl,omitempty" mapstructure:"apiUrl"`
	UIURL               string `json:"uiUrl,omitempty" mapstructure:"uiUrl"`
	ServiceAccountToken string `json:"-" mapstructure:"serviceAccountToken"`
	// AKSResourceID lets the API URL be discovered from an AKS managed cluster.
	AKSResourceID string `json:"aksResourceId,omitempty" mapstructure:"aksResourceId"`
}

// SubcomponentClusterConfig says that a subcomponent's workloads live in
// Cluster/Namespace, scoped to Applications.
type SubcomponentClusterConfig struct {
	Subcomponent string   `json:"subcomponent"`
	Cluster      string   `json:"cluster"`
	Namespace    string   `json:"namespace"`
	Applications []string `json:"applications"`
}

// KonfluxConfig is the resolved configuration shared read-only by all fetchers.
type KonfluxConfig struct {
	Clusters            map[string]ClusterConfig    `json:"clusters"`
	SubcomponentConfigs []SubcomponentClusterConfig `json:"subcomponentConfigs"`
	AuthProvider        AuthProvider                `json:"authProvider"`
}

// ClusterNames returns the configured cluster names in no particular order.
func (c *KonfluxConfig) ClusterNames() []string {
	names := make([]string, 0, len(c.Clusters))
	for name := range c.Clusters {
		names = append(names, name)
	}
	return names
}

// Combination is one (subcomponent, cluster, namespace) partition to query.
type Combination struct {
	Subcomponent string `json:"subcomponent"`
	Cluster      string `json:"cluster"`
	Namespace    string `json:"namespace"`
}

// Key returns the dedup key subcomponent:cluster:namespace.
func (c Combination) Key() string {
	return fmt.Sprintf("%s:%s:%s", c.Subcomponent, c.Cluster, c.Namespace)
}

// ResourceKind is a resource type served by the backend.
type ResourceKind string

const (
	KindApplications ResourceKind = "applications"
	KindComponents   ResourceKind = "components"
	KindReleases     ResourceKind = "releases"
)

// ParseResourceKind validates a resource kind name.
func ParseResourceKind(s string) (ResourceKind, error) {
	switch k := ResourceKind(s); k {
	case KindApplications, KindComponents, KindReleases:
		return k, nil
	default:
		return "", fmt.Errorf("unknown resource kind %q. Valid kinds are: applications, components, releases", s)
	}
}

// ClusterError is a non-fatal failure of one cluster/namespace reported
// alongside otherwise successful data.
type ClusterError struct {
	Cluster      string `json:"cluster"`
	Namespace    string `json:"namespace"`
	ErrorType    string `json:"errorType"`
	Message      string `json:"message"`
	StatusCode   *int   `json:"statusCode,omitempty"`
	ResourceType string `json:"resourceType,omitempty"`
}

// ResourcePage is one backend response page. An absent or empty
// ContinuationToken means no further pages exist; an empty token cannot be
// sent back to resume.
type ResourcePage[T any] struct {
	Data              []T            `json:"data"`
	ClusterErrors     []ClusterError `json:"clusterErrors,omitempty"`
	ContinuationToken string         `json:"continuationToken,omitempty"`
}

// HasMore reports whether another page can be requested.
func (p *ResourcePage[T]) HasMore() bool {
	return p.ContinuationToken != ""
}

// AggregatedResource is the result accumulated across all fetched pages.
type AggregatedResource[T any] struct {
	Data          []T            `json:"data"`
	ClusterErrors []ClusterError `json:"clusterErrors"`
}

// ClusterInfo attributes a resource to the cluster it was read from.
type ClusterInfo struct {
	Name      string `json:"name"`
	KonfluxUI string `json:"konfluxUI,omitempty"`
}

// Resource is any Application, Component or Release returned by the backend.
// Spec and status are kept raw so that callers can decode the kind they need.
type Resource struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec    json.RawMessage `json:"spec,omitempty"`
	Status  json.RawMessage `json:"status,omitempty"`
	Cluster ClusterInfo     `json:"cluster"`
}

// Partition returns the cluster and namespace the resource was read from.
func (r Resource) Partition() (cluster, namespace string) {
	return r.Cluster.Name, r.ObjectMeta.Namespace
}

// CreatedAt returns the creation timestamp, zero when absent.
func (r Resource) CreatedAt() time.Time {
	return r.CreationTimestamp.Time
}

// Partitioned is implemented by items that LatestItemSelector can attribute.
type Partitioned interface {
	Partition() (cluster, namespace string)
	CreatedAt() time.Time
}
