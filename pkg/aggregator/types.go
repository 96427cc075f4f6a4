package aggregator

import (
	"time"

	"github.com/konflux-ci/konflux-aggregator/pkg/konflux"
	"github.com/konflux-ci/konflux-aggregator/pkg/query"
	"github.com/konflux-ci/konflux-aggregator/pkg/status"
)

// Filters narrows a resource query.
type Filters struct {
	Subcomponent string   `json:"subcomponent,omitempty"`
	Clusters     []string `json:"clusters,omitempty"`
	Application  string   `json:"application,omitempty"`
}

// ResourceList is the accumulated result of one resource query.
type ResourceList struct {
	Kind          konflux.ResourceKind   `json:"kind"`
	Data          []konflux.Resource     `json:"data"`
	ClusterErrors []konflux.ClusterError `json:"clusterErrors"`
	HasMore       bool                   `json:"hasMore"`
	State         query.State            `json:"state"`
	Pages         int                    `json:"pages"`
	FetchedAt     time.Time              `json:"fetchedAt"`
	Status        status.Summary         `json:"status"`
}

// LatestReleases is the most recent release of every declared
// (subcomponent, cluster, namespace) combination.
type LatestReleases struct {
	Releases      []konflux.Resource     `json:"releases"`
	Combinations  []konflux.Combination  `json:"combinations"`
	ClusterErrors []konflux.ClusterError `json:"clusterErrors"`
	// Truncated is set when release pages were left unloaded because of the
	// page limit; newer releases may exist on them.
	Truncated bool           `json:"truncated"`
	Status    status.Summary `json:"status"`
}

// Overview holds every resource kind of an entity, fetched concurrently.
type Overview struct {
	Entity       string         `json:"entity"`
	Applications *ResourceList  `json:"applications"`
	Components   *ResourceList  `json:"components"`
	Releases     *ResourceList  `json:"releases"`
	Latest       LatestReleases `json:"latestReleases"`
}

func newResourceList(kind konflux.ResourceKind, snap query.Snapshot[konflux.Resource]) *ResourceList {
	return &ResourceList{
		Kind:          kind,
		Data:          snap.Data,
		ClusterErrors: snap.ClusterErrors,
		HasMore:       snap.HasMore,
		State:         snap.State,
		Pages:         snap.PageCount,
		FetchedAt:     snap.FetchedAt,
		Status:        status.Summarize(snap.AggregatedResource, string(kind)),
	}
}
