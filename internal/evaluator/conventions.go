package evaluator

import (
	"fmt"
	"regexp"

	"github.com/nidhogg/schema-evolver/internal/schema"
)

var (
	pascalCase = regexp.MustCompile(`^[A-Z][A-Za-z0-9]*$`)
	upperSnake = regexp.MustCompile(`^[A-Z][A-Z0-9]*(_[A-Z0-9]+)*$`)
	camelCase  = regexp.MustCompile(`^[a-z][A-Za-z0-9]*$`)
)

// usability scores naming conventions and human-readable identifiers.
func (e *Evaluator) usability(s *schema.Schema) finding {
	var f finding

	names, conforming := 0, 0
	check := func(re *regexp.Regexp, name string) {
		names++
		if re.MatchString(name) {
			conforming++
		}
	}
	for _, n := range s.Nodes {
		check(pascalCase, n.Label)
		for _, p := range n.SortedProperties() {
			check(camelCase, p)
		}
	}
	for _, r := range s.Relationships {
		check(upperSnake, r.Type)
		for p := range r.Properties {
			check(camelCase, p)
		}
	}
	if conforming < names || names == 0 {
		f.gaps = append(f.gaps, gap{"naming",
			fmt.Sprintf("Naming conventions (only %d/%d names conform)", conforming, names)})
	}

	total := len(s.Nodes)
	identified := 0
	for _, n := range s.Nodes {
		if n.HasAny(e.rubric.Usability.IdentifierProperties) {
			identified++
		}
	}
	if identified < total || total == 0 {
		f.gaps = append(f.gaps, gap{"identifier",
			fmt.Sprintf("Human-readable identifiers (only %d/%d nodes)", identified, total)})
	}

	f.score = 10 * (0.5*ratio(conforming, names) + 0.5*ratio(identified, total))
	f.details = []string{
		fmt.Sprintf("conforming names %d/%d", conforming, names),
		fmt.Sprintf("identified nodes %d/%d", identified, total),
	}
	return f
}

// extensibility scores generic extension points, relationship properties
// and label connectivity.
func (e *Evaluator) extensibility(s *schema.Schema) finding {
	var f finding

	total := len(s.Nodes)
	extensible := 0
	for _, n := range s.Nodes {
		if n.HasAny(e.rubric.Extensibility.ExtensionProperties) {
			extensible++
		}
	}
	if extensible < total || total == 0 {
		f.gaps = append(f.gaps, gap{"extension_point",
			fmt.Sprintf("Extension points (only %d/%d nodes)", extensible, total)})
	}

	rels := len(s.Relationships)
	withProps := 0
	connected := map[string]bool{}
	for _, r := range s.Relationships {
		if len(r.Properties) > 0 {
			withProps++
		}
		connected[r.FromLabel] = true
		connected[r.ToLabel] = true
	}
	if withProps < rels || rels == 0 {
		f.gaps = append(f.gaps, gap{"relationship_properties",
			fmt.Sprintf("Relationship properties (only %d/%d relationships)", withProps, rels)})
	}

	linked := 0
	for _, n := range s.Nodes {
		if connected[n.Label] {
			linked++
		}
	}
	if linked < total || total == 0 {
		f.gaps = append(f.gaps, gap{"connectivity",
			fmt.Sprintf("Connected labels (only %d/%d labels)", linked, total)})
	}

	f.score = 10 * (0.5*ratio(extensible, total) + 0.25*ratio(withProps, rels) + 0.25*ratio(linked, total))
	f.details = []string{
		fmt.Sprintf("extensible nodes %d/%d", extensible, total),
		fmt.Sprintf("relationships with properties %d/%d", withProps, rels),
		fmt.Sprintf("connected labels %d/%d", linked, total),
	}
	return f
}
