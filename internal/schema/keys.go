package schema

import (
	"sort"
	"strings"
)

// RelationshipKey is the dedup key for relationships.
type RelationshipKey struct {
	Type      string
	FromLabel string
	ToLabel   string
}

// Key returns the relationship's dedup key.
func (r Relationship) Key() RelationshipKey {
	return RelationshipKey{Type: r.Type, FromLabel: r.FromLabel, ToLabel: r.ToLabel}
}

func (k RelationshipKey) String() string {
	return "(" + k.FromLabel + ")-[:" + k.Type + "]->(" + k.ToLabel + ")"
}

// Key returns the index dedup key: kind, label and ordered property list.
func (i Index) Key() string {
	return string(i.Kind) + "|" + i.NodeLabel + "|" + strings.Join(i.Properties, ",")
}

// Key returns the constraint dedup key.
func (c Constraint) Key() string {
	return string(c.Kind) + "|" + c.NodeLabel + "|" + c.Property
}

// Labels returns the declared node labels in schema order.
func (s *Schema) Labels() []string {
	out := make([]string, len(s.Nodes))
	for i, n := range s.Nodes {
		out[i] = n.Label
	}
	return out
}

// HasLabel reports whether a node label is declared.
func (s *Schema) HasLabel(label string) bool {
	for _, n := range s.Nodes {
		if n.Label == label {
			return true
		}
	}
	return false
}

// HasRelationship reports whether a relationship with the given key exists.
func (s *Schema) HasRelationship(key RelationshipKey) bool {
	for _, r := range s.Relationships {
		if r.Key() == key {
			return true
		}
	}
	return false
}

// IndexesOfKind returns the indexes of one kind in schema order.
func (s *Schema) IndexesOfKind(kind IndexKind) []Index {
	var out []Index
	for _, idx := range s.Indexes {
		if idx.Kind == kind {
			out = append(out, idx)
		}
	}
	return out
}

// SortedProperties returns a node's property names in lexical order.
func (n Node) SortedProperties() []string {
	names := make([]string, 0, len(n.Properties))
	for name := range n.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasAll reports whether the node carries every named property.
func (n Node) HasAll(props []string) bool {
	for _, p := range props {
		if _, ok := n.Properties[p]; !ok {
			return false
		}
	}
	return true
}

// HasAny reports whether the node carries at least one named property.
func (n Node) HasAny(props []string) bool {
	for _, p := range props {
		if _, ok := n.Properties[p]; ok {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the schema.
func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	out := &Schema{
		Version:         s.Version,
		Iteration:       s.Iteration,
		RetrievalConfig: s.RetrievalConfig,
	}
	if s.Nodes != nil {
		out.Nodes = make([]Node, len(s.Nodes))
		for i, n := range s.Nodes {
			out.Nodes[i] = Node{Label: n.Label, Properties: cloneProps(n.Properties)}
		}
	}
	if s.Relationships != nil {
		out.Relationships = make([]Relationship, len(s.Relationships))
		for i, r := range s.Relationships {
			r.Properties = cloneProps(r.Properties)
			out.Relationships[i] = r
		}
	}
	if s.Indexes != nil {
		out.Indexes = make([]Index, len(s.Indexes))
		for i, idx := range s.Indexes {
			idx.Properties = append([]string(nil), idx.Properties...)
			out.Indexes[i] = idx
		}
	}
	if s.Constraints != nil {
		out.Constraints = append([]Constraint(nil), s.Constraints...)
	}
	if s.Facets != nil {
		out.Facets = make(map[BriefType]FacetStatus, len(s.Facets))
		for k, v := range s.Facets {
			out.Facets[k] = v
		}
	}
	return out
}

func cloneProps(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
