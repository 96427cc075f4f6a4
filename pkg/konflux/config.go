package konflux

import (
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
)

// StaticKonfluxSection is the statically configured `konflux:` section.
type StaticKonfluxSection struct {
	AuthProvider AuthProvider             `mapstructure:"authProvider"`
	Clusters     map[string]ClusterConfig `mapstructure:"clusters"`
}

// ParseClusterSection decodes a raw `konflux:` configuration section.
// A nil section returns (nil, nil): absence is not an error.
func ParseClusterSection(raw map[string]interface{}) (*StaticKonfluxSection, error) {
	if raw == nil {
		return nil, nil
	}

	section := &StaticKonfluxSection{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      section,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create konflux section decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid konflux configuration: %w", err)
	}

	if section.AuthProvider != "" && !section.AuthProvider.IsValid() {
		return nil, fmt.Errorf("invalid konflux.authProvider: %s. Valid values are: serviceAccount, oidc, impersonationHeaders", section.AuthProvider)
	}

	for name, cluster := range section.Clusters {
		if name == "" {
			return nil, fmt.Errorf("konflux.clusters contains an entry with an empty name")
		}
		cluster.Name = name
		section.Clusters[name] = cluster
	}

	return section, nil
}

// ResolveConfig merges the static cluster registry with the subcomponent
// configs derived from catalog entities. It never fails.
func ResolveConfig(static *StaticKonfluxSection, subcomponentConfigs []SubcomponentClusterConfig) *KonfluxConfig {
	cfg := &KonfluxConfig{
		Clusters:            map[string]ClusterConfig{},
		SubcomponentConfigs: []SubcomponentClusterConfig{},
		AuthProvider:        DefaultAuthProvider,
	}
	if subcomponentConfigs != nil {
		cfg.SubcomponentConfigs = append(cfg.SubcomponentConfigs, subcomponentConfigs...)
	}
	if static == nil {
		return cfg
	}

	for name, cluster := range static.Clusters {
		cluster.Name = name
		cfg.Clusters[name] = cluster
	}
	if static.AuthProvider != "" {
		cfg.AuthProvider = static.AuthProvider
	}
	return cfg
}

// ResolveConfigFromRaw parses the raw section and resolves it. Parse errors
// are logged and the minimal configuration is returned instead.
func ResolveConfigFromRaw(raw map[string]interface{}, subcomponentConfigs []SubcomponentClusterConfig, logger *logrus.Logger) *KonfluxConfig {
	static, err := ParseClusterSection(raw)
	if err != nil {
		if logger != nil {
			logger.Errorf("Failed to parse konflux configuration, falling back to defaults: %v", err)
		}
		return ResolveConfig(nil, subcomponentConfigs)
	}
	return ResolveConfig(static, subcomponentConfigs)
}

// SortedClusterNames returns the cluster registry names in ascending order.
func (c *KonfluxConfig) SortedClusterNames() []string {
	names := c.ClusterNames()
	sort.Strings(names)
	return names
}
