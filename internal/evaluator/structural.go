package evaluator

import (
	"fmt"
	"math"

	"github.com/nidhogg/schema-evolver/internal/schema"
)

func (e *Evaluator) performance(s *schema.Schema) finding {
	t := e.rubric.Performance
	var f finding

	composite := len(s.IndexesOfKind(schema.IndexComposite))
	fulltext := len(s.IndexesOfKind(schema.IndexFulltext))
	vector := len(s.IndexesOfKind(schema.IndexVector))

	for _, c := range []struct {
		category string
		name     string
		have     int
		want     int
	}{
		{"composite_index", "Composite indexes", composite, t.MinCompositeIndexes},
		{"fulltext_index", "Fulltext indexes", fulltext, t.MinFulltextIndexes},
		{"vector_index", "Vector indexes", vector, t.MinVectorIndexes},
	} {
		if c.have < c.want {
			f.gaps = append(f.gaps, gap{c.category, fmt.Sprintf("%s (only %d/%d)", c.name, c.have, c.want)})
		}
	}

	labels := len(s.Nodes)
	keyed := 0
	for _, n := range s.Nodes {
		if hasKeyConstraint(s, n.Label) {
			keyed++
		}
	}
	if keyed < labels || labels == 0 {
		f.gaps = append(f.gaps, gap{"uniqueness_constraint",
			fmt.Sprintf("Uniqueness constraints (only %d/%d labels)", keyed, labels)})
	}

	score := 10 * (0.3*saturate(composite, t.MinCompositeIndexes) +
		0.3*saturate(fulltext, t.MinFulltextIndexes) +
		0.2*saturate(vector, t.MinVectorIndexes) +
		0.2*ratio(keyed, labels))
	capped := composite == 0 || fulltext == 0 || vector == 0
	if capped {
		score = math.Min(score, t.MissingCategoryCap)
	}
	f.score = score
	f.details = []string{
		fmt.Sprintf("composite indexes %d/%d", composite, t.MinCompositeIndexes),
		fmt.Sprintf("fulltext indexes %d/%d", fulltext, t.MinFulltextIndexes),
		fmt.Sprintf("vector indexes %d/%d", vector, t.MinVectorIndexes),
		fmt.Sprintf("keyed labels %d/%d", keyed, labels),
	}
	if capped {
		f.details = append(f.details, fmt.Sprintf("missing index category caps score at %.1f", t.MissingCategoryCap))
	}
	return f
}

func (e *Evaluator) scalability(s *schema.Schema) finding {
	t := e.rubric.Scalability
	var f finding

	labels := len(s.Nodes)
	covered := 0
	for _, n := range s.Nodes {
		if hasAnyIndexOrConstraint(s, n.Label) {
			covered++
		}
	}
	if covered < labels || labels == 0 {
		f.gaps = append(f.gaps, gap{"index_coverage",
			fmt.Sprintf("Indexed labels (only %d/%d labels)", covered, labels)})
	}

	composite := len(s.IndexesOfKind(schema.IndexComposite))
	if composite < t.MinCompositeIndexes {
		f.gaps = append(f.gaps, gap{"composite_index",
			fmt.Sprintf("Composite indexes for scale (only %d/%d)", composite, t.MinCompositeIndexes)})
	}

	size := s.RetrievalConfig.ChunkSize
	inRange := size >= t.MinChunkSize && size <= t.MaxChunkSize
	if !inRange {
		f.gaps = append(f.gaps, gap{"chunk_size",
			fmt.Sprintf("Chunk size within [%d, %d] (got %d)", t.MinChunkSize, t.MaxChunkSize, size)})
	}

	score := 10 * (0.5*ratio(covered, labels) +
		0.25*saturate(composite, t.MinCompositeIndexes) +
		0.25*boolScore(inRange))
	if composite == 0 {
		score = math.Min(score, t.MissingCompositeCap)
	}
	f.score = score
	f.details = []string{
		fmt.Sprintf("indexed labels %d/%d", covered, labels),
		fmt.Sprintf("composite indexes %d/%d", composite, t.MinCompositeIndexes),
		fmt.Sprintf("chunk size %d in range: %t", size, inRange),
	}
	return f
}

func hasKeyConstraint(s *schema.Schema, label string) bool {
	for _, c := range s.Constraints {
		if c.NodeLabel == label && (c.Kind == schema.ConstraintUniqueness || c.Kind == schema.ConstraintNodeKey) {
			return true
		}
	}
	return false
}

func hasAnyIndexOrConstraint(s *schema.Schema, label string) bool {
	for _, idx := range s.Indexes {
		if idx.NodeLabel == label {
			return true
		}
	}
	for _, c := range s.Constraints {
		if c.NodeLabel == label {
			return true
		}
	}
	return false
}
