package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nidhogg/schema-evolver/internal/schema"
)

const systemPrompt = `You are a graph schema designer for a knowledge-graph retrieval system.
You answer with one JSON object shaped as a partial schema fragment:
{"nodes":[{"label":"","properties":{"name":"type"}}],
 "relationships":[{"type":"","from_label":"","to_label":"","properties":{}}],
 "indexes":[{"kind":"composite|vector|fulltext|single","node_label":"","properties":[""],"dimension":0,"similarity":"cosine|euclidean"}],
 "constraints":[{"kind":"uniqueness|existence|nodeKey","node_label":"","property":""}],
 "retrieval_config_patch":{"chunk_size":0,"chunk_overlap":0,"embedding_dimension":0}}
Omit keys you do not contribute. Labels are PascalCase, relationship types UPPER_SNAKE_CASE, properties camelCase.`

var briefFocus = map[schema.BriefType]string{
	schema.BriefDomain: "Focus on domain content: node labels for documents, their sections and chunks, " +
		"extracted entities, concepts, people, organizations and topics, cross-domain labels for domains, " +
		"ontologies and mappings, and the relationships between them. Give every node a human-readable name " +
		"and generic attributes or tags, and give relationships at least one property.",
	schema.BriefRetrieval: "Focus on retrieval augmentation: vector indexes at several granularities " +
		"(document, section, chunk), embedding metadata properties (embedding, embeddingModel, chunkIndex, " +
		"tokenCount) and a coherent retrieval config whose embedding dimension matches every vector index.",
	schema.BriefPerformance: "Focus on query performance and scale: composite and fulltext indexes on the " +
		"most queried labels and a uniqueness constraint on every label's identifier.",
	schema.BriefQuality: "Focus on data quality: add provenance properties (source, extractedAt, " +
		"confidenceScore) and versioning properties (version, createdAt, updatedAt) to every node label.",
}

func buildPrompt(req *Request) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Domain: %s\nRound: %d\nBrief: %s\n\n", req.Domain, req.Iteration, req.Brief)
	b.WriteString(briefFocus[req.Brief])
	b.WriteString("\n")

	if req.PriorSchema != nil {
		prior, err := json.Marshal(req.PriorSchema)
		if err != nil {
			return "", fmt.Errorf("marshal prior schema: %w", err)
		}
		b.WriteString("\nCurrent schema:\n")
		b.Write(prior)
		b.WriteString("\n")
	}
	if len(req.MissingComponents) > 0 {
		b.WriteString("\nAddress these gaps from the last evaluation:\n")
		for _, mc := range req.MissingComponents {
			fmt.Fprintf(&b, "- [%s] %s (%s)\n", mc.Priority, mc.Description, mc.Dimension)
		}
	}
	b.WriteString("\nReturn only the JSON fragment.")
	return b.String(), nil
}

// extractJSON trims code fences and surrounding prose from a model reply.
func extractJSON(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "", false
	}
	return s[start : end+1], true
}
