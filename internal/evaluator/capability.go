package evaluator

import (
	"fmt"

	"github.com/nidhogg/schema-evolver/internal/schema"
)

// retrieval is the capability check for retrieval effectiveness: vector
// index count, embedding granularity, retrieval metadata and a coherent
// retrieval config.
func (e *Evaluator) retrieval(s *schema.Schema) finding {
	t := e.rubric.Retrieval
	var f finding

	vectors := s.IndexesOfKind(schema.IndexVector)
	levels := distinctLabels(vectors)
	if len(vectors) < t.MinVectorIndexes {
		f.gaps = append(f.gaps, gap{"vector_index",
			fmt.Sprintf("Vector indexes (only %d/%d)", len(vectors), t.MinVectorIndexes)})
	}
	if levels < t.MinGranularityLevels {
		f.gaps = append(f.gaps, gap{"embedding_granularity",
			fmt.Sprintf("Multi-granularity embeddings (only %d/%d levels)", levels, t.MinGranularityLevels)})
	}

	present := 0
	for _, prop := range t.MetadataProperties {
		if anyNodeHas(s, prop) {
			present++
			continue
		}
		f.gaps = append(f.gaps, gap{"retrieval_metadata", "Retrieval metadata property: " + prop})
	}

	configOK, why := retrievalConfigValid(s.RetrievalConfig, vectors)
	if !configOK {
		f.gaps = append(f.gaps, gap{"retrieval_config", "Valid retrieval config (" + why + ")"})
	}

	f.score = 10 * (0.4*saturate(len(vectors), t.MinVectorIndexes) +
		0.3*saturate(levels, t.MinGranularityLevels) +
		0.2*ratio(present, len(t.MetadataProperties)) +
		0.1*boolScore(configOK))
	f.details = []string{
		fmt.Sprintf("vector indexes %d/%d", len(vectors), t.MinVectorIndexes),
		fmt.Sprintf("granularity levels %d/%d", levels, t.MinGranularityLevels),
		fmt.Sprintf("metadata properties %d/%d", present, len(t.MetadataProperties)),
		fmt.Sprintf("retrieval config valid: %t", configOK),
	}
	return f
}

func retrievalConfigValid(rc schema.RetrievalConfig, vectors []schema.Index) (bool, string) {
	switch {
	case rc.ChunkSize <= 0:
		return false, "chunk size must be positive"
	case rc.ChunkOverlap < 0 || rc.ChunkOverlap >= rc.ChunkSize:
		return false, "chunk overlap must lie in [0, chunk size)"
	case rc.EmbeddingDimension <= 0:
		return false, "embedding dimension must be positive"
	}
	for _, v := range vectors {
		if v.Dimension != rc.EmbeddingDimension {
			return false, fmt.Sprintf("vector index on %s has dimension %d, want %d",
				v.NodeLabel, v.Dimension, rc.EmbeddingDimension)
		}
	}
	return true, ""
}

func distinctLabels(indexes []schema.Index) int {
	seen := make(map[string]bool, len(indexes))
	for _, idx := range indexes {
		seen[idx.NodeLabel] = true
	}
	return len(seen)
}

func anyNodeHas(s *schema.Schema, prop string) bool {
	for _, n := range s.Nodes {
		if _, ok := n.Properties[prop]; ok {
			return true
		}
	}
	return false
}

func boolScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
