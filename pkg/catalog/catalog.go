package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrEntityNotFound is returned when a ref does not resolve to an entity.
var ErrEntityNotFound = errors.New("entity not found")

// Catalog is the entity lookup used to resolve subcomponents.
type Catalog interface {
	// Entity returns the entity identified by ref.
	Entity(ctx context.Context, ref EntityRef) (*Entity, error)
	// RelatedEntities returns every entity holding a relation to ref.
	RelatedEntities(ctx context.Context, ref EntityRef) ([]Entity, error)
}

// Store is an in-memory catalog, typically loaded from descriptor files.
type Store struct {
	mu       sync.RWMutex
	entities []Entity
}

// NewStore builds a store from already-parsed entities. Relations implied by
// spec.subcomponentOf are added the way the catalog processor does.
func NewStore(entities []Entity) *Store {
	s := &Store{}
	s.entities = withImpliedRelations(entities)
	return s
}

// LoadFile reads a multi-document YAML catalog file.
func LoadFile(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("catalog file path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file %s: %w", path, err)
	}
	entities, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog file %s: %w", path, err)
	}
	return NewStore(entities), nil
}

// Parse decodes every YAML document in data into an entity. Empty documents
// are skipped.
func Parse(data []byte) ([]Entity, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var entities []Entity
	for i := 0; ; i++ {
		var entity Entity
		err := decoder.Decode(&entity)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if entity.Kind == "" && entity.Metadata.Name == "" {
			continue
		}
		if entity.Metadata.Name == "" {
			return nil, fmt.Errorf("document %d: metadata.name is required", i)
		}
		if entity.Kind == "" {
			return nil, fmt.Errorf("document %d: kind is required", i)
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

// Entity implements Catalog.
func (s *Store) Entity(ctx context.Context, ref EntityRef) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.entities {
		if s.entities[i].Ref().Equal(ref) {
			entity := s.entities[i]
			return &entity, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", ref, ErrEntityNotFound)
}

// RelatedEntities implements Catalog.
func (s *Store) RelatedEntities(ctx context.Context, ref EntityRef) ([]Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var related []Entity
	for _, entity := range s.entities {
		if entity.Ref().Equal(ref) {
			continue
		}
		for _, rel := range entity.Relations {
			target, err := ParseEntityRef(rel.TargetRef)
			if err == nil && target.Equal(ref) {
				related = append(related, entity)
				break
			}
		}
	}
	return related, nil
}

// Entities returns a copy of all entities in the store.
func (s *Store) Entities() []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entity(nil), s.entities...)
}

// withImpliedRelations adds partOf/hasPart pairs for spec.subcomponentOf.
func withImpliedRelations(entities []Entity) []Entity {
	out := make([]Entity, len(entities))
	copy(out, entities)

	for i := range out {
		parent, ok := out[i].Spec["subcomponentOf"].(string)
		if !ok || parent == "" {
			continue
		}
		parentRef, err := ParseEntityRef(parent)
		if err != nil {
			continue
		}
		// subcomponentOf refs default to the child's kind and namespace.
		parentRef = defaultsFrom(parent, parentRef, out[i].Ref())

		if !out[i].HasRelation(RelationPartOf, parentRef) {
			out[i].Relations = append(append([]Relation(nil), out[i].Relations...),
				Relation{Type: RelationPartOf, TargetRef: parentRef.String()})
		}
		for j := range out {
			if out[j].Ref().Equal(parentRef) && !out[j].HasRelation(RelationHasPart, out[i].Ref()) {
				out[j].Relations = append(append([]Relation(nil), out[j].Relations...),
					Relation{Type: RelationHasPart, TargetRef: out[i].Ref().String()})
			}
		}
	}
	return out
}

func defaultsFrom(raw string, ref EntityRef, owner EntityRef) EntityRef {
	if !strings.Contains(raw, ":") {
		ref.Kind = owner.Kind
	}
	if !strings.Contains(raw, "/") {
		ref.Namespace = owner.Namespace
	}
	return ref
}
