package konflux

import (
	"github.com/konflux-ci/konflux-aggregator/pkg/catalog"
)

// GuestEntityName is the placeholder entity name the catalog uses; it is
// never treated as a subcomponent.
const GuestEntityName = "guest"

// Subcomponents is the result of ResolveSubcomponents.
type Subcomponents struct {
	Entities []catalog.Entity
	Names    []string
}

// ResolveSubcomponents returns the related entities that are part of root.
// A root without subcomponents is its own single subcomponent, so the result
// is never empty.
func ResolveSubcomponents(root catalog.Entity, related []catalog.Entity) Subcomponents {
	rootRef := root.Ref()

	var out Subcomponents
	for _, entity := range related {
		if entity.Metadata.Name == GuestEntityName {
			continue
		}
		if !entity.HasRelation(catalog.RelationPartOf, rootRef) {
			continue
		}
		out.Entities = append(out.Entities, entity)
		out.Names = append(out.Names, entity.Metadata.Name)
	}

	if len(out.Entities) == 0 {
		return Subcomponents{
			Entities: []catalog.Entity{root},
			Names:    []string{root.Metadata.Name},
		}
	}
	return out
}
