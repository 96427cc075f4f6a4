package konflux

// SelectLatest picks the most recently created item of every combination.
// An item belongs to a combination when its cluster and namespace match the
// combination and a subcomponent config declares that cluster/namespace for
// the combination's subcomponent. Equal or missing timestamps keep the first
// candidate in input order. Combinations without candidates are omitted.
func SelectLatest[T Partitioned](combinations []Combination, configs []SubcomponentClusterConfig, items []T) []T {
	declared := make(map[string]struct{}, len(configs))
	for _, c := range configs {
		declared[Combination{Subcomponent: c.Subcomponent, Cluster: c.Cluster, Namespace: c.Namespace}.Key()] = struct{}{}
	}

	latest := make([]T, 0, len(combinations))
	for _, combination := range combinations {
		if _, ok := declared[combination.Key()]; !ok {
			continue
		}

		found := false
		var best T
		for _, item := range items {
			cluster, namespace := item.Partition()
			if cluster != combination.Cluster || namespace != combination.Namespace {
				continue
			}
			if !found || item.CreatedAt().After(best.CreatedAt()) {
				best = item
				found = true
			}
		}
		if found {
			latest = append(latest, best)
		}
	}
	return latest
}
