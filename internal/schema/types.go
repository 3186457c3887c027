package schema

import "fmt"

// BriefType identifies one of the four independent generation requests per round.
type BriefType string

const (
	BriefDomain      BriefType = "domain"
	BriefRetrieval   BriefType = "retrieval"
	BriefPerformance BriefType = "performance"
	BriefQuality     BriefType = "quality"
)

// Briefs lists every brief in merge order.
var Briefs = []BriefType{BriefDomain, BriefRetrieval, BriefPerformance, BriefQuality}

// FacetStatus records how a brief's facet was produced for a schema version.
type FacetStatus string

const (
	FacetGenerated FacetStatus = "generated"
	FacetUnchanged FacetStatus = "unchanged"
	FacetEmpty     FacetStatus = "empty"
)

// IndexKind is the storage-engine index category.
type IndexKind string

const (
	IndexComposite IndexKind = "composite"
	IndexVector    IndexKind = "vector"
	IndexFulltext  IndexKind = "fulltext"
	IndexSingle    IndexKind = "single"
)

// ConstraintKind is the storage-engine constraint category.
type ConstraintKind string

const (
	ConstraintUniqueness ConstraintKind = "uniqueness"
	ConstraintExistence  ConstraintKind = "existence"
	ConstraintNodeKey    ConstraintKind = "nodeKey"
)

// Schema is one immutable, versioned design produced by a round.
type Schema struct {
	Version         string                    `json:"version"`
	Iteration       int                       `json:"iteration"`
	Nodes           []Node                    `json:"nodes"`
	Relationships   []Relationship            `json:"relationships"`
	Indexes         []Index                   `json:"indexes"`
	Constraints     []Constraint              `json:"constraints"`
	RetrievalConfig RetrievalConfig           `json:"retrieval_config"`
	Facets          map[BriefType]FacetStatus `json:"facets,omitempty"`
}

// Node is a labelled entity type with semantic-typed properties.
type Node struct {
	Label      string            `json:"label"`
	Properties map[string]string `json:"properties"`
}

// Relationship is a typed, directed edge between two node labels.
type Relationship struct {
	Type       string            `json:"type"`
	FromLabel  string            `json:"from_label"`
	ToLabel    string            `json:"to_label"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Index describes one storage-engine index.
type Index struct {
	Kind       IndexKind `json:"kind"`
	NodeLabel  string    `json:"node_label"`
	Properties []string  `json:"properties"`
	Dimension  int       `json:"dimension,omitempty"`
	Similarity string    `json:"similarity,omitempty"`
}

// Constraint describes one storage-engine constraint.
type Constraint struct {
	Kind      ConstraintKind `json:"kind"`
	NodeLabel string         `json:"node_label"`
	Property  string         `json:"property"`
}

// RetrievalConfig controls chunking and embedding for retrieval.
type RetrievalConfig struct {
	ChunkSize          int `json:"chunk_size"`
	ChunkOverlap       int `json:"chunk_overlap"`
	EmbeddingDimension int `json:"embedding_dimension"`
}

// RetrievalConfigPatch is a partial retrieval config carried by a fragment.
type RetrievalConfigPatch struct {
	ChunkSize          *int `json:"chunk_size,omitempty"`
	ChunkOverlap       *int `json:"chunk_overlap,omitempty"`
	EmbeddingDimension *int `json:"embedding_dimension,omitempty"`
}

// Fragment is the partial schema returned by one generation brief.
type Fragment struct {
	Nodes                []Node                `json:"nodes,omitempty"`
	Relationships        []Relationship        `json:"relationships,omitempty"`
	Indexes              []Index               `json:"indexes,omitempty"`
	Constraints          []Constraint          `json:"constraints,omitempty"`
	RetrievalConfigPatch *RetrievalConfigPatch `json:"retrieval_config_patch,omitempty"`
}

// IsEmpty reports whether the fragment contributes nothing.
func (f *Fragment) IsEmpty() bool {
	return f == nil || (len(f.Nodes) == 0 && len(f.Relationships) == 0 &&
		len(f.Indexes) == 0 && len(f.Constraints) == 0 && f.RetrievalConfigPatch == nil)
}

// VersionFor returns the version identifier stamped on a round's schema.
func VersionFor(iteration int) string {
	return fmt.Sprintf("v%d", iteration)
}
