package evaluator

import (
	"fmt"
	"strings"

	"github.com/nidhogg/schema-evolver/internal/schema"
)

// dataQuality is the metadata-density check. A node counts toward a group
// only if it carries every field of that group.
func (e *Evaluator) dataQuality(s *schema.Schema) finding {
	q := e.rubric.Quality
	var f finding

	total := len(s.Nodes)
	prov, ver := 0, 0
	for _, n := range s.Nodes {
		if n.HasAll(q.ProvenanceFields) {
			prov++
		}
		if n.HasAll(q.VersioningFields) {
			ver++
		}
	}
	if prov < total || total == 0 {
		f.gaps = append(f.gaps, gap{"provenance",
			fmt.Sprintf("Provenance tracking (only %d/%d nodes)", prov, total)})
	}
	if ver < total || total == 0 {
		f.gaps = append(f.gaps, gap{"versioning",
			fmt.Sprintf("Versioning metadata (only %d/%d nodes)", ver, total)})
	}

	f.score = 10 * (0.5*ratio(prov, total) + 0.5*ratio(ver, total))
	f.details = []string{
		fmt.Sprintf("provenance (%s) %d/%d nodes", strings.Join(q.ProvenanceFields, ", "), prov, total),
		fmt.Sprintf("versioning (%s) %d/%d nodes", strings.Join(q.VersioningFields, ", "), ver, total),
	}
	return f
}
