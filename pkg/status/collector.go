package status

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Azure/go-autorest/autorest/to"

	"github.com/konflux-ci/konflux-aggregator/pkg/konflux"
)

// Summarize computes the cluster health of an aggregated result. The
// all-failed flag is derived from (item count, cluster error count) only.
func Summarize[T any](resource konflux.AggregatedResource[T], resourceType string) Summary {
	return SummarizeCounts(len(resource.Data), resource.ClusterErrors, resourceType)
}

// SummarizeCounts is Summarize for callers that already hold the item count.
func SummarizeCounts(itemCount int, clusterErrors []konflux.ClusterError, resourceType string) Summary {
	summary := Summary{
		Health:      HealthOK,
		ItemCount:   itemCount,
		LastUpdated: time.Now(),
	}
	if len(clusterErrors) == 0 {
		return summary
	}

	summary.FailedClusters = groupByCluster(clusterErrors)
	summary.AllClustersFailed = itemCount == 0
	summary.SomeClustersFailed = !summary.AllClustersFailed
	if summary.AllClustersFailed {
		summary.Health = HealthFailed
	} else {
		summary.Health = HealthDegraded
	}
	summary.Message = message(summary, resourceType)
	return summary
}

// groupByCluster folds cluster errors into one entry per cluster, in the
// order clusters first appear.
func groupByCluster(clusterErrors []konflux.ClusterError) []ClusterSummary {
	index := map[string]int{}
	var clusters []ClusterSummary
	for _, ce := range clusterErrors {
		i, ok := index[ce.Cluster]
		if !ok {
			i = len(clusters)
			index[ce.Cluster] = i
			clusters = append(clusters, ClusterSummary{Cluster: ce.Cluster})
		}
		c := &clusters[i]
		c.Namespaces = appendUnique(c.Namespaces, ce.Namespace)
		c.ErrorTypes = appendUnique(c.ErrorTypes, ce.ErrorType)
		if c.StatusCode == 0 {
			c.StatusCode = to.Int(ce.StatusCode)
		}
	}
	for i := range clusters {
		sort.Strings(clusters[i].Namespaces)
	}
	return clusters
}

func appendUnique(values []string, v string) []string {
	if v == "" {
		return values
	}
	for _, existing := range values {
		if existing == v {
			return values
		}
	}
	return append(values, v)
}

// message renders the templated user-facing text. Raw upstream error text is
// never included.
func message(s Summary, resourceType string) string {
	if resourceType == "" {
		resourceType = "resources"
	}
	names := make([]string, 0, len(s.FailedClusters))
	for _, c := range s.FailedClusters {
		names = append(names, c.Cluster)
	}
	clusterList := strings.Join(names, ", ")

	if s.AllClustersFailed {
		return fmt.Sprintf("Failed to load %s: all queried clusters reported errors (%s). Try again later or contact your administrator.", resourceType, clusterList)
	}
	return fmt.Sprintf("Some %s could not be loaded because %d cluster(s) reported errors (%s). The results shown may be incomplete.", resourceType, len(names), clusterList)
}
