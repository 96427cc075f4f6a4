package catalog

import (
	"fmt"
	"strings"
)

const (
	// DefaultNamespace is assumed for refs and entities without a namespace.
	DefaultNamespace = "default"
	// DefaultKind is assumed for refs without a kind.
	DefaultKind = "component"

	// RelationPartOf marks an entity as a part of the target entity.
	RelationPartOf = "partOf"
	// RelationHasPart is the inverse of RelationPartOf.
	RelationHasPart = "hasPart"
)

// Entity is a catalog entity in the Backstage descriptor format.
type Entity struct {
	APIVersion string         `yaml:"apiVersion" json:"apiVersion"`
	Kind       string         `yaml:"kind" json:"kind"`
	Metadata   EntityMetadata `yaml:"metadata" json:"metadata"`
	Spec       map[string]any `yaml:"spec,omitempty" json:"spec,omitempty"`
	Relations  []Relation     `yaml:"relations,omitempty" json:"relations,omitempty"`
}

// EntityMetadata holds the identifying fields and annotations of an entity.
type EntityMetadata struct {
	Name        string            `yaml:"name" json:"name"`
	Namespace   string            `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Title       string            `yaml:"title,omitempty" json:"title,omitempty"`
	Annotations map[string]string `yaml:"annotations,omitempty" json:"annotations,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// Relation is a typed edge from an entity to another entity.
type Relation struct {
	Type      string `yaml:"type" json:"type"`
	TargetRef string `yaml:"targetRef" json:"targetRef"`
}

// EntityRef identifies an entity as kind:namespace/name.
type EntityRef struct {
	Kind      string
	Namespace string
	Name      string
}

// String formats the ref in its canonical lowercase-kind form.
func (r EntityRef) String() string {
	return fmt.Sprintf("%s:%s/%s", strings.ToLower(r.Kind), r.Namespace, r.Name)
}

// Equal compares refs the way the catalog does: kind and namespace are
// case-insensitive, names are not.
func (r EntityRef) Equal(other EntityRef) bool {
	return strings.EqualFold(r.Kind, other.Kind) &&
		strings.EqualFold(r.Namespace, other.Namespace) &&
		r.Name == other.Name
}

// ParseEntityRef parses "[kind:][namespace/]name", filling in defaults.
func ParseEntityRef(ref string) (EntityRef, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return EntityRef{}, fmt.Errorf("entity ref is empty")
	}

	out := EntityRef{Kind: DefaultKind, Namespace: DefaultNamespace}
	rest := ref
	if idx := strings.Index(rest, ":"); idx != -1 {
		out.Kind = rest[:idx]
		rest = rest[idx+1:]
	}
	if idx := strings.Index(rest, "/"); idx != -1 {
		out.Namespace = rest[:idx]
		rest = rest[idx+1:]
	}
	out.Name = rest

	if out.Kind == "" || out.Namespace == "" || out.Name == "" {
		return EntityRef{}, fmt.Errorf("invalid entity ref %q. Expected format: [kind:][namespace/]name", ref)
	}
	return out, nil
}

// Ref returns the entity's own ref.
func (e Entity) Ref() EntityRef {
	namespace := e.Metadata.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return EntityRef{Kind: e.Kind, Namespace: namespace, Name: e.Metadata.Name}
}

// Annotation returns the annotation value and whether it is set.
func (e Entity) Annotation(key string) (string, bool) {
	if e.Metadata.Annotations == nil {
		return "", false
	}
	v, ok := e.Metadata.Annotations[key]
	return v, ok
}

// HasRelation reports whether the entity has a relation of the given type to target.
func (e Entity) HasRelation(relationType string, target EntityRef) bool {
	for _, rel := range e.Relations {
		if rel.Type != relationType {
			continue
		}
		ref, err := ParseEntityRef(rel.TargetRef)
		if err != nil {
			continue
		}
		if ref.Equal(target) {
			return true
		}
	}
	return false
}
