package evaluator

import (
	"fmt"

	"github.com/nidhogg/schema-evolver/internal/rubric"
	"github.com/nidhogg/schema-evolver/internal/schema"
)

// coverage scores |required ∩ present| / |required| for entities and
// relationships separately and averages the two ratios.
func coverage(s *schema.Schema, cat rubric.Catalog) finding {
	var f finding

	entities := 0
	for _, label := range cat.Entities {
		if s.HasLabel(label) {
			entities++
			continue
		}
		f.gaps = append(f.gaps, gap{category: "entity", description: "Missing entity: " + label})
	}

	rels := 0
	for _, spec := range cat.Relationships {
		key := schema.RelationshipKey{Type: spec.Type, FromLabel: spec.FromLabel, ToLabel: spec.ToLabel}
		if s.HasRelationship(key) {
			rels++
			continue
		}
		f.gaps = append(f.gaps, gap{category: "relationship", description: "Missing relationship: " + key.String()})
	}

	entityRatio := ratio(entities, len(cat.Entities))
	relRatio := ratio(rels, len(cat.Relationships))
	f.score = 10 * (entityRatio + relRatio) / 2
	f.details = []string{
		fmt.Sprintf("entities %d/%d", entities, len(cat.Entities)),
		fmt.Sprintf("relationships %d/%d", rels, len(cat.Relationships)),
	}
	return f
}
