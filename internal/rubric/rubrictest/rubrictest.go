// Package rubrictest builds schemas and fragments that satisfy a rubric in
// full. It is intended for tests only.
package rubrictest

import (
	"github.com/nidhogg/schema-evolver/internal/rubric"
	"github.com/nidhogg/schema-evolver/internal/schema"
)

const (
	EmbeddingDimension = 1536
	ChunkSize          = 512
	ChunkOverlap       = 64
)

// Labels returns every label required by the rubric's catalogs, domain first.
func Labels(r rubric.Rubric) []string {
	var out []string
	seen := map[string]bool{}
	for _, l := range append(append([]string{}, r.Domain.Entities...), r.CrossDomain.Entities...) {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out
}

// CompleteFragments returns one fragment per brief. Merged in brief order
// they produce a schema scoring 10 on every dimension of r.
func CompleteFragments(r rubric.Rubric) map[schema.BriefType]*schema.Fragment {
	labels := Labels(r)

	domain := &schema.Fragment{}
	for _, l := range labels {
		props := map[string]string{"name": "string"}
		for _, p := range r.Usability.IdentifierProperties {
			props[p] = "string"
		}
		for _, p := range r.Extensibility.ExtensionProperties {
			props[p] = "map"
		}
		domain.Nodes = append(domain.Nodes, schema.Node{Label: l, Properties: props})
	}
	for _, cat := range []rubric.Catalog{r.Domain, r.CrossDomain} {
		for _, rel := range cat.Relationships {
			domain.Relationships = append(domain.Relationships, schema.Relationship{
				Type: rel.Type, FromLabel: rel.FromLabel, ToLabel: rel.ToLabel,
				Properties: map[string]string{"weight": "float"},
			})
		}
	}

	retrieval := &schema.Fragment{}
	vectorLabels := pick(labels, max(r.Retrieval.MinVectorIndexes, r.Retrieval.MinGranularityLevels, r.Performance.MinVectorIndexes))
	for _, l := range vectorLabels {
		props := map[string]string{}
		for _, p := range r.Retrieval.MetadataProperties {
			props[p] = "string"
		}
		props["embedding"] = "vector"
		retrieval.Nodes = append(retrieval.Nodes, schema.Node{Label: l, Properties: props})
		retrieval.Indexes = append(retrieval.Indexes, schema.Index{
			Kind: schema.IndexVector, NodeLabel: l, Properties: []string{"embedding"},
			Dimension: EmbeddingDimension, Similarity: schema.SimilarityCosine,
		})
	}
	size, overlap, dim := ChunkSize, ChunkOverlap, EmbeddingDimension
	retrieval.RetrievalConfigPatch = &schema.RetrievalConfigPatch{
		ChunkSize: &size, ChunkOverlap: &overlap, EmbeddingDimension: &dim,
	}

	performance := &schema.Fragment{}
	composite := max(r.Performance.MinCompositeIndexes, r.Scalability.MinCompositeIndexes)
	for _, l := range pick(labels, composite) {
		performance.Indexes = append(performance.Indexes, schema.Index{
			Kind: schema.IndexComposite, NodeLabel: l, Properties: []string{"name", "createdAt"},
		})
	}
	for _, l := range pick(labels, r.Performance.MinFulltextIndexes) {
		performance.Indexes = append(performance.Indexes, schema.Index{
			Kind: schema.IndexFulltext, NodeLabel: l, Properties: []string{"name"},
		})
	}
	for _, l := range labels {
		performance.Constraints = append(performance.Constraints, schema.Constraint{
			Kind: schema.ConstraintUniqueness, NodeLabel: l, Property: "name",
		})
	}

	quality := &schema.Fragment{}
	for _, l := range labels {
		props := map[string]string{}
		for _, p := range r.Quality.ProvenanceFields {
			props[p] = "string"
		}
		for _, p := range r.Quality.VersioningFields {
			props[p] = "string"
		}
		quality.Nodes = append(quality.Nodes, schema.Node{Label: l, Properties: props})
	}

	return map[schema.BriefType]*schema.Fragment{
		schema.BriefDomain:      domain,
		schema.BriefRetrieval:   retrieval,
		schema.BriefPerformance: performance,
		schema.BriefQuality:     quality,
	}
}

// CompleteSchema returns the merged form of CompleteFragments at iteration 1.
func CompleteSchema(r rubric.Rubric) *schema.Schema {
	frags := CompleteFragments(r)
	s := &schema.Schema{Version: schema.VersionFor(1), Iteration: 1}
	byLabel := map[string]int{}
	for _, b := range schema.Briefs {
		f := frags[b]
		for _, n := range f.Nodes {
			i, ok := byLabel[n.Label]
			if !ok {
				byLabel[n.Label] = len(s.Nodes)
				s.Nodes = append(s.Nodes, schema.Node{Label: n.Label, Properties: map[string]string{}})
				i = len(s.Nodes) - 1
			}
			for k, v := range n.Properties {
				s.Nodes[i].Properties[k] = v
			}
		}
		s.Relationships = append(s.Relationships, f.Relationships...)
		s.Indexes = append(s.Indexes, f.Indexes...)
		s.Constraints = append(s.Constraints, f.Constraints...)
		if p := f.RetrievalConfigPatch; p != nil {
			s.RetrievalConfig = schema.RetrievalConfig{
				ChunkSize: *p.ChunkSize, ChunkOverlap: *p.ChunkOverlap, EmbeddingDimension: *p.EmbeddingDimension,
			}
		}
	}
	return s
}

func pick(labels []string, n int) []string {
	if n > len(labels) {
		n = len(labels)
	}
	return labels[:n]
}
