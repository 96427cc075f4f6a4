package konflux

// DeriveCombinations expands subcomponent configs into unique
// (subcomponent, cluster, namespace) partitions. The first occurrence of a
// triple wins and encounter order is preserved.
func DeriveCombinations(configs []SubcomponentClusterConfig) []Combination {
	seen := make(map[string]struct{}, len(configs))
	combinations := make([]Combination, 0, len(configs))
	for _, c := range configs {
		combination := Combination{
			Subcomponent: c.Subcomponent,
			Cluster:      c.Cluster,
			Namespace:    c.Namespace,
		}
		key := combination.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		combinations = append(combinations, combination)
	}
	return combinations
}
