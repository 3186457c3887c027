package schema

import (
	"errors"
	"fmt"
)

// Vector similarity functions accepted in vector index definitions.
const (
	SimilarityCosine    = "cosine"
	SimilarityEuclidean = "euclidean"
)

// ValidateFragment checks a generated fragment for structural problems.
// Referential checks are not done here; a fragment may reference labels
// declared by another brief.
func ValidateFragment(f *Fragment) error {
	if f == nil {
		return errors.New("fragment is nil")
	}
	var errs []error

	for i, n := range f.Nodes {
		if n.Label == "" {
			errs = append(errs, fmt.Errorf("nodes[%d]: label is required", i))
		}
		for name, typ := range n.Properties {
			if name == "" || typ == "" {
				errs = append(errs, fmt.Errorf("nodes[%d] %s: property name and type are required", i, n.Label))
				break
			}
		}
	}

	for i, r := range f.Relationships {
		if r.Type == "" || r.FromLabel == "" || r.ToLabel == "" {
			errs = append(errs, fmt.Errorf("relationships[%d]: type, from_label and to_label are required", i))
		}
	}

	for i, idx := range f.Indexes {
		if err := validateIndex(idx); err != nil {
			errs = append(errs, fmt.Errorf("indexes[%d]: %w", i, err))
		}
	}

	for i, c := range f.Constraints {
		switch c.Kind {
		case ConstraintUniqueness, ConstraintExistence, ConstraintNodeKey:
		default:
			errs = append(errs, fmt.Errorf("constraints[%d]: unknown kind %q", i, c.Kind))
		}
		if c.NodeLabel == "" || c.Property == "" {
			errs = append(errs, fmt.Errorf("constraints[%d]: node_label and property are required", i))
		}
	}

	if p := f.RetrievalConfigPatch; p != nil {
		if p.ChunkSize != nil && *p.ChunkSize <= 0 {
			errs = append(errs, fmt.Errorf("retrieval_config_patch: chunk_size must be positive"))
		}
		if p.ChunkOverlap != nil && *p.ChunkOverlap < 0 {
			errs = append(errs, fmt.Errorf("retrieval_config_patch: chunk_overlap must not be negative"))
		}
		if p.ChunkSize != nil && p.ChunkOverlap != nil && *p.ChunkOverlap >= *p.ChunkSize {
			errs = append(errs, fmt.Errorf("retrieval_config_patch: chunk_overlap must be smaller than chunk_size"))
		}
		if p.EmbeddingDimension != nil && *p.EmbeddingDimension <= 0 {
			errs = append(errs, fmt.Errorf("retrieval_config_patch: embedding_dimension must be positive"))
		}
	}

	return errors.Join(errs...)
}

func validateIndex(idx Index) error {
	if idx.NodeLabel == "" {
		return errors.New("node_label is required")
	}
	if len(idx.Properties) == 0 {
		return errors.New("at least one property is required")
	}
	switch idx.Kind {
	case IndexSingle:
		if len(idx.Properties) != 1 {
			return fmt.Errorf("single index takes one property, got %d", len(idx.Properties))
		}
	case IndexComposite:
		if len(idx.Properties) < 2 {
			return fmt.Errorf("composite index needs two or more properties, got %d", len(idx.Properties))
		}
	case IndexFulltext:
	case IndexVector:
		if len(idx.Properties) != 1 {
			return fmt.Errorf("vector index takes one property, got %d", len(idx.Properties))
		}
		if idx.Dimension <= 0 {
			return errors.New("vector index dimension must be positive")
		}
		if idx.Similarity != SimilarityCosine && idx.Similarity != SimilarityEuclidean {
			return fmt.Errorf("unknown vector similarity %q", idx.Similarity)
		}
	default:
		return fmt.Errorf("unknown index kind %q", idx.Kind)
	}
	return nil
}
