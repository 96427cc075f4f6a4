package konflux

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/konflux-ci/konflux-aggregator/pkg/catalog"
)

// ClusterConfigAnnotation holds inline YAML describing where an entity's
// workloads run.
const ClusterConfigAnnotation = "konflux-ci.dev/cluster-config"

// ComponentClusterConfig is one entry of the cluster-config annotation.
type ComponentClusterConfig struct {
	Cluster      string   `yaml:"cluster"`
	Namespace    string   `yaml:"namespace"`
	Applications []string `yaml:"applications"`
}

// AnnotationStatus tags the outcome of parsing the cluster-config annotation.
type AnnotationStatus int

const (
	// AnnotationOK means at least one valid entry was found.
	AnnotationOK AnnotationStatus = iota
	// AnnotationEmpty means the annotation is absent or holds no valid entries.
	AnnotationEmpty
	// AnnotationMalformed means the annotation could not be decoded.
	AnnotationMalformed
)

func (s AnnotationStatus) String() string {
	switch s {
	case AnnotationOK:
		return "ok"
	case AnnotationEmpty:
		return "empty"
	case AnnotationMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// AnnotationResult is the tagged result of ParseClusterConfigAnnotation.
type AnnotationResult struct {
	Status  AnnotationStatus
	Configs []ComponentClusterConfig
	// Dropped counts entries discarded for missing cluster, namespace or applications.
	Dropped int
	Err     error
}

// ParseClusterConfigAnnotation parses the cluster-config annotation of an
// entity. It never panics and never returns an error directly; callers
// inspect the result status.
func ParseClusterConfigAnnotation(entity catalog.Entity) AnnotationResult {
	raw, ok := entity.Annotation(ClusterConfigAnnotation)
	if !ok || strings.TrimSpace(raw) == "" {
		return AnnotationResult{Status: AnnotationEmpty}
	}

	var entries []ComponentClusterConfig
	if err := yaml.Unmarshal([]byte(raw), &entries); err != nil {
		return AnnotationResult{
			Status: AnnotationMalformed,
			Err:    fmt.Errorf("failed to parse %s annotation on %s: %w", ClusterConfigAnnotation, entity.Ref(), err),
		}
	}

	result := AnnotationResult{Status: AnnotationEmpty}
	for _, entry := range entries {
		if !isValidClusterConfig(entry) {
			result.Dropped++
			continue
		}
		result.Configs = append(result.Configs, entry)
	}
	if len(result.Configs) > 0 {
		result.Status = AnnotationOK
	}
	return result
}

func isValidClusterConfig(c ComponentClusterConfig) bool {
	if strings.TrimSpace(c.Cluster) == "" || strings.TrimSpace(c.Namespace) == "" {
		return false
	}
	for _, app := range c.Applications {
		if strings.TrimSpace(app) != "" {
			return true
		}
	}
	return false
}

// SubcomponentClusterConfigs parses the cluster-config annotation of each
// subcomponent entity. Malformed annotations are logged and skipped.
func SubcomponentClusterConfigs(entities []catalog.Entity, logger *logrus.Logger) []SubcomponentClusterConfig {
	configs := []SubcomponentClusterConfig{}
	for _, entity := range entities {
		result := ParseClusterConfigAnnotation(entity)
		switch result.Status {
		case AnnotationMalformed:
			if logger != nil {
				logger.Warnf("Skipping cluster config of %s: %v", entity.Ref(), result.Err)
			}
			continue
		case AnnotationEmpty:
			if logger != nil {
				logger.Debugf("No cluster config found on %s", entity.Ref())
			}
			continue
		}

		if result.Dropped > 0 && logger != nil {
			logger.Debugf("Dropped %d incomplete cluster config entries on %s", result.Dropped, entity.Ref())
		}
		for _, c := range result.Configs {
			configs = append(configs, SubcomponentClusterConfig{
				Subcomponent: entity.Metadata.Name,
				Cluster:      c.Cluster,
				Namespace:    c.Namespace,
				Applications: append([]string(nil), c.Applications...),
			})
		}
	}
	return configs
}
