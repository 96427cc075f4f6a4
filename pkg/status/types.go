package status

import (
	"time"
)

// Health is the overall outcome of one aggregated query across clusters.
type Health string

const (
	// HealthOK means every cluster answered.
	HealthOK Health = "ok"
	// HealthDegraded means some clusters failed but data is available.
	HealthDegraded Health = "degraded"
	// HealthFailed means clusters failed and no data is available at all.
	HealthFailed Health = "failed"
)

// ClusterSummary represents the health of the queries against a single cluster
type ClusterSummary struct {
	Cluster    string   `json:"cluster"`
	Namespaces []string `json:"namespaces"`
	ErrorTypes []string `json:"errorTypes"`
	// StatusCode is the first HTTP status reported by the cluster, if any.
	StatusCode int `json:"statusCode,omitempty"`
}

// Summary describes the cluster-level outcome of an aggregated query. It is
// computed by the caller from the data and cluster errors; the fetcher never
// decides whether a failure is total.
type Summary struct {
	Health             Health           `json:"health"`
	AllClustersFailed  bool             `json:"allClustersFailed"`
	SomeClustersFailed bool             `json:"someClustersFailed"`
	ItemCount          int              `json:"itemCount"`
	FailedClusters     []ClusterSummary `json:"failedClusters,omitempty"`
	Message            string           `json:"message,omitempty"`
	LastUpdated        time.Time        `json:"lastUpdated"`
}
