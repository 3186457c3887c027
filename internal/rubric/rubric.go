// Package rubric holds the immutable scoring configuration consumed by the
// evaluator: dimension weights, required catalogs and structural targets.
package rubric

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

// ErrInvalid marks a rubric that must be rejected before any evaluation runs.
var ErrInvalid = errors.New("invalid rubric configuration")

// Dimension is one weighted quality axis scored 0-10.
type Dimension string

const (
	DomainCompleteness     Dimension = "domain_completeness"
	RetrievalEffectiveness Dimension = "retrieval_effectiveness"
	Performance            Dimension = "performance"
	DataQuality            Dimension = "data_quality"
	CrossDomainSupport     Dimension = "cross_domain_support"
	Usability              Dimension = "usability"
	Scalability            Dimension = "scalability"
	Extensibility          Dimension = "extensibility"
)

// AllDimensions lists every dimension a rubric must weight.
var AllDimensions = []Dimension{
	DomainCompleteness, RetrievalEffectiveness, Performance, DataQuality,
	CrossDomainSupport, Usability, Scalability, Extensibility,
}

// weightTolerance is the float slack allowed when checking Σ weights == 1.
const weightTolerance = 1e-9

// DimensionWeight pairs a dimension with its weight. Order is evaluation order.
type DimensionWeight struct {
	Dimension Dimension `json:"dimension"`
	Weight    float64   `json:"weight"`
}

// RelationshipSpec names a required (type, from, to) triple.
type RelationshipSpec struct {
	Type      string `json:"type"`
	FromLabel string `json:"from_label"`
	ToLabel   string `json:"to_label"`
}

// Catalog is a required set of entities and relationships.
type Catalog struct {
	Entities      []string           `json:"entities"`
	Relationships []RelationshipSpec `json:"relationships"`
}

// RetrievalTargets drive the retrieval-effectiveness capability check.
type RetrievalTargets struct {
	MinVectorIndexes     int      `json:"min_vector_indexes"`
	MinGranularityLevels int      `json:"min_granularity_levels"`
	MetadataProperties   []string `json:"metadata_properties"`
}

// PerformanceTargets drive the performance structural check.
type PerformanceTargets struct {
	MinCompositeIndexes int     `json:"min_composite_indexes"`
	MinFulltextIndexes  int     `json:"min_fulltext_indexes"`
	MinVectorIndexes    int     `json:"min_vector_indexes"`
	MissingCategoryCap  float64 `json:"missing_category_cap"`
}

// ScalabilityTargets drive the scalability structural check.
type ScalabilityTargets struct {
	MinCompositeIndexes int     `json:"min_composite_indexes"`
	MinChunkSize        int     `json:"min_chunk_size"`
	MaxChunkSize        int     `json:"max_chunk_size"`
	MissingCompositeCap float64 `json:"missing_composite_cap"`
}

// QualityTargets name the metadata field groups counted by the density check.
type QualityTargets struct {
	ProvenanceFields []string `json:"provenance_fields"`
	VersioningFields []string `json:"versioning_fields"`
}

// UsabilityTargets name the human-readable identifier properties.
type UsabilityTargets struct {
	IdentifierProperties []string `json:"identifier_properties"`
}

// ExtensibilityTargets name the generic extension-point properties.
type ExtensibilityTargets struct {
	ExtensionProperties []string `json:"extension_properties"`
}

// Rubric is the full scoring configuration. Treat as read-only once built.
type Rubric struct {
	Dimensions           []DimensionWeight    `json:"dimensions"`
	Domain               Catalog              `json:"domain"`
	CrossDomain          Catalog              `json:"cross_domain"`
	Retrieval            RetrievalTargets     `json:"retrieval"`
	Performance          PerformanceTargets   `json:"performance"`
	Scalability          ScalabilityTargets   `json:"scalability"`
	Quality              QualityTargets       `json:"quality"`
	Usability            UsabilityTargets     `json:"usability"`
	Extensibility        ExtensibilityTargets `json:"extensibility"`
	MediumPriorityWeight float64              `json:"medium_priority_weight"`
}

// Default returns the built-in rubric.
func Default() Rubric {
	return Rubric{
		Dimensions: []DimensionWeight{
			{RetrievalEffectiveness, 0.20},
			{DomainCompleteness, 0.18},
			{Performance, 0.15},
			{DataQuality, 0.15},
			{CrossDomainSupport, 0.12},
			{Usability, 0.07},
			{Scalability, 0.07},
			{Extensibility, 0.06},
		},
		Domain: Catalog{
			Entities: []string{"Document", "Section", "Chunk", "Entity", "Concept", "Person", "Organization", "Topic"},
			Relationships: []RelationshipSpec{
				{"HAS_SECTION", "Document", "Section"},
				{"HAS_CHUNK", "Section", "Chunk"},
				{"MENTIONS", "Chunk", "Entity"},
				{"ABOUT", "Document", "Topic"},
				{"AUTHORED_BY", "Document", "Person"},
				{"AFFILIATED_WITH", "Person", "Organization"},
				{"INSTANCE_OF", "Entity", "Concept"},
				{"RELATED_TO", "Concept", "Concept"},
			},
		},
		CrossDomain: Catalog{
			Entities: []string{"Domain", "Ontology", "Mapping"},
			Relationships: []RelationshipSpec{
				{"BELONGS_TO", "Concept", "Domain"},
				{"DEFINED_IN", "Concept", "Ontology"},
				{"MAPS_TO", "Mapping", "Concept"},
				{"BRIDGES", "Topic", "Domain"},
			},
		},
		Retrieval: RetrievalTargets{
			MinVectorIndexes:     3,
			MinGranularityLevels: 3,
			MetadataProperties:   []string{"embedding", "embeddingModel", "chunkIndex", "tokenCount"},
		},
		Performance: PerformanceTargets{
			MinCompositeIndexes: 2,
			MinFulltextIndexes:  2,
			MinVectorIndexes:    3,
			MissingCategoryCap:  6.0,
		},
		Scalability: ScalabilityTargets{
			MinCompositeIndexes: 2,
			MinChunkSize:        256,
			MaxChunkSize:        2048,
			MissingCompositeCap: 6.0,
		},
		Quality: QualityTargets{
			ProvenanceFields: []string{"source", "extractedAt", "confidenceScore"},
			VersioningFields: []string{"version", "createdAt", "updatedAt"},
		},
		Usability: UsabilityTargets{
			IdentifierProperties: []string{"name", "title"},
		},
		Extensibility: ExtensibilityTargets{
			ExtensionProperties: []string{"attributes", "tags"},
		},
		MediumPriorityWeight: 0.12,
	}
}

// Load reads a JSON rubric from path and validates it.
func Load(path string) (Rubric, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rubric{}, fmt.Errorf("read rubric %s: %w", path, err)
	}
	var r Rubric
	if err := json.Unmarshal(data, &r); err != nil {
		return Rubric{}, fmt.Errorf("parse rubric %s: %w", path, err)
	}
	if err := r.Validate(); err != nil {
		return Rubric{}, err
	}
	return r, nil
}

// Weight returns the weight of a dimension, or 0 if it is not weighted.
func (r Rubric) Weight(d Dimension) float64 {
	for _, dw := range r.Dimensions {
		if dw.Dimension == d {
			return dw.Weight
		}
	}
	return 0
}

// Validate rejects rubrics whose weights do not form a distribution over
// all eight dimensions, or whose targets cannot be scored.
func (r Rubric) Validate() error {
	seen := make(map[Dimension]bool, len(r.Dimensions))
	var sum float64
	for _, dw := range r.Dimensions {
		if !isKnown(dw.Dimension) {
			return fmt.Errorf("%w: unknown dimension %q", ErrInvalid, dw.Dimension)
		}
		if seen[dw.Dimension] {
			return fmt.Errorf("%w: dimension %q weighted twice", ErrInvalid, dw.Dimension)
		}
		if dw.Weight < 0 || math.IsNaN(dw.Weight) {
			return fmt.Errorf("%w: dimension %q has invalid weight %v", ErrInvalid, dw.Dimension, dw.Weight)
		}
		seen[dw.Dimension] = true
		sum += dw.Weight
	}
	for _, d := range AllDimensions {
		if !seen[d] {
			return fmt.Errorf("%w: dimension %q has no weight", ErrInvalid, d)
		}
	}
	if math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("%w: weights sum to %.6f, want 1.0", ErrInvalid, sum)
	}

	if len(r.Domain.Entities) == 0 || len(r.Domain.Relationships) == 0 {
		return fmt.Errorf("%w: domain catalog must name entities and relationships", ErrInvalid)
	}
	if len(r.CrossDomain.Entities) == 0 || len(r.CrossDomain.Relationships) == 0 {
		return fmt.Errorf("%w: cross-domain catalog must name entities and relationships", ErrInvalid)
	}
	if r.Retrieval.MinVectorIndexes < 1 || r.Retrieval.MinGranularityLevels < 1 || len(r.Retrieval.MetadataProperties) == 0 {
		return fmt.Errorf("%w: retrieval targets must be positive", ErrInvalid)
	}
	if r.Performance.MinCompositeIndexes < 1 || r.Performance.MinFulltextIndexes < 1 || r.Performance.MinVectorIndexes < 1 {
		return fmt.Errorf("%w: performance targets must be positive", ErrInvalid)
	}
	if r.Scalability.MinCompositeIndexes < 1 || r.Scalability.MinChunkSize < 1 || r.Scalability.MaxChunkSize < r.Scalability.MinChunkSize {
		return fmt.Errorf("%w: scalability targets are inconsistent", ErrInvalid)
	}
	if !inScoreRange(r.Performance.MissingCategoryCap) || !inScoreRange(r.Scalability.MissingCompositeCap) {
		return fmt.Errorf("%w: score caps must lie in [0, 10]", ErrInvalid)
	}
	if len(r.Quality.ProvenanceFields) == 0 || len(r.Quality.VersioningFields) == 0 {
		return fmt.Errorf("%w: quality field groups must not be empty", ErrInvalid)
	}
	if len(r.Usability.IdentifierProperties) == 0 || len(r.Extensibility.ExtensionProperties) == 0 {
		return fmt.Errorf("%w: usability and extensibility properties must not be empty", ErrInvalid)
	}
	return nil
}

func isKnown(d Dimension) bool {
	for _, k := range AllDimensions {
		if k == d {
			return true
		}
	}
	return false
}

func inScoreRange(v float64) bool {
	return v >= 0 && v <= 10
}
