package query

import (
	"sort"
	"strings"

	"github.com/konflux-ci/konflux-aggregator/pkg/konflux"
)

// Key is the identity of a paginated query. Two queries with equal keys are
// the same logical query and share one cache entry.
type Key struct {
	Kind         konflux.ResourceKind
	EntityRef    string
	Subcomponent string
	Clusters     []string
	Application  string
}

// NewKey builds a key with a sorted copy of the cluster filter, so that the
// filter order never changes the identity.
func NewKey(kind konflux.ResourceKind, entityRef, subcomponent string, clusters []string, application string) Key {
	sorted := append([]string(nil), clusters...)
	sort.Strings(sorted)
	return Key{
		Kind:         kind,
		EntityRef:    entityRef,
		Subcomponent: subcomponent,
		Clusters:     sorted,
		Application:  application,
	}
}

// String returns the stable hash of the key.
func (k Key) String() string {
	clusters := append([]string(nil), k.Clusters...)
	sort.Strings(clusters)
	return strings.Join([]string{
		string(k.Kind),
		k.EntityRef,
		k.Subcomponent,
		strings.Join(clusters, ","),
		k.Application,
	}, "|")
}
