package designer

import (
	"fmt"

	"github.com/nidhogg/schema-evolver/internal/schema"
)

// DiagnosticKind classifies a non-fatal merge finding.
type DiagnosticKind string

const (
	DiagnosticMergeCollision       DiagnosticKind = "merge_collision"
	DiagnosticReferentialViolation DiagnosticKind = "referential_violation"
)

// Diagnostic is one logged merge finding. It never fails a round.
type Diagnostic struct {
	Kind    DiagnosticKind   `json:"kind"`
	Brief   schema.BriefType `json:"brief,omitempty"`
	Message string           `json:"message"`
}

// Part is one brief's fragment as handed to Merge.
type Part struct {
	Brief    schema.BriefType
	Fragment *schema.Fragment
}

type merger struct {
	out     *schema.Schema
	nodes   map[string]int
	rels    map[schema.RelationshipKey]int
	indexes map[string]int
	cons    map[string]bool
	patch   [3]*int
	patchBy [3]schema.BriefType
	diags   []Diagnostic
}

// Merge unions base and then fragments in the given order into a new schema
// stamped with iteration. base is the previous round's schema, or nil on the
// first round. Its content goes in first and so wins every structural
// conflict; its retrieval config is the default that this round's patches
// override. Inputs are never aliased by the result.
func Merge(iteration int, base *schema.Schema, parts []Part) (*schema.Schema, []Diagnostic) {
	m := &merger{
		out:     &schema.Schema{Version: schema.VersionFor(iteration), Iteration: iteration},
		nodes:   map[string]int{},
		rels:    map[schema.RelationshipKey]int{},
		indexes: map[string]int{},
		cons:    map[string]bool{},
	}
	if base != nil {
		m.seed(base.Clone())
	}
	for _, p := range parts {
		if p.Fragment == nil {
			continue
		}
		for _, n := range p.Fragment.Nodes {
			m.addNode(p.Brief, n)
		}
		for _, r := range p.Fragment.Relationships {
			m.addRelationship(p.Brief, r)
		}
		for _, idx := range p.Fragment.Indexes {
			m.addIndex(p.Brief, idx)
		}
		for _, c := range p.Fragment.Constraints {
			if !m.cons[c.Key()] {
				m.cons[c.Key()] = true
				m.out.Constraints = append(m.out.Constraints, c)
			}
		}
		if p.Fragment.RetrievalConfigPatch != nil {
			m.applyPatch(p.Brief, p.Fragment.RetrievalConfigPatch)
		}
	}
	m.enforceReferences()

	rc := &m.out.RetrievalConfig
	for i, dst := range []*int{&rc.ChunkSize, &rc.ChunkOverlap, &rc.EmbeddingDimension} {
		if m.patch[i] != nil {
			*dst = *m.patch[i]
		}
	}
	return m.out, m.diags
}

// seed carries the previous schema forward as the earliest part.
func (m *merger) seed(base *schema.Schema) {
	m.out.RetrievalConfig = base.RetrievalConfig
	for _, n := range base.Nodes {
		m.addNode("", n)
	}
	for _, r := range base.Relationships {
		m.addRelationship("", r)
	}
	for _, idx := range base.Indexes {
		m.addIndex("", idx)
	}
	for _, c := range base.Constraints {
		if !m.cons[c.Key()] {
			m.cons[c.Key()] = true
			m.out.Constraints = append(m.out.Constraints, c)
		}
	}
}

func (m *merger) collide(b schema.BriefType, format string, args ...any) {
	m.diags = append(m.diags, Diagnostic{Kind: DiagnosticMergeCollision, Brief: b, Message: fmt.Sprintf(format, args...)})
}

// addNode unions by label. Properties are add-only and the first declared
// type of a property is kept.
func (m *merger) addNode(b schema.BriefType, n schema.Node) {
	i, ok := m.nodes[n.Label]
	if !ok {
		i = len(m.out.Nodes)
		m.nodes[n.Label] = i
		m.out.Nodes = append(m.out.Nodes, schema.Node{Label: n.Label, Properties: map[string]string{}})
	}
	props := m.out.Nodes[i].Properties
	for _, name := range n.SortedProperties() {
		typ := n.Properties[name]
		existing, ok := props[name]
		switch {
		case !ok:
			props[name] = typ
		case existing != typ:
			m.collide(b, "node %s property %s: keeping type %s, ignoring %s", n.Label, name, existing, typ)
		}
	}
}

func (m *merger) addRelationship(b schema.BriefType, r schema.Relationship) {
	key := r.Key()
	if i, ok := m.rels[key]; ok {
		if !sameProps(m.out.Relationships[i].Properties, r.Properties) {
			m.collide(b, "relationship %s redeclared with different properties, keeping first", key)
		}
		return
	}
	m.rels[key] = len(m.out.Relationships)
	r.Properties = copyProps(r.Properties)
	m.out.Relationships = append(m.out.Relationships, r)
}

func (m *merger) addIndex(b schema.BriefType, idx schema.Index) {
	key := idx.Key()
	if i, ok := m.indexes[key]; ok {
		first := m.out.Indexes[i]
		if first.Dimension != idx.Dimension || first.Similarity != idx.Similarity {
			m.collide(b, "%s index on %s(%v) redeclared with different options, keeping first",
				idx.Kind, idx.NodeLabel, idx.Properties)
		}
		return
	}
	m.indexes[key] = len(m.out.Indexes)
	idx.Properties = append([]string(nil), idx.Properties...)
	m.out.Indexes = append(m.out.Indexes, idx)
}

func (m *merger) applyPatch(b schema.BriefType, p *schema.RetrievalConfigPatch) {
	names := [3]string{"chunk_size", "chunk_overlap", "embedding_dimension"}
	for i, v := range [3]*int{p.ChunkSize, p.ChunkOverlap, p.EmbeddingDimension} {
		switch {
		case v == nil:
		case m.patch[i] == nil:
			val := *v
			m.patch[i] = &val
			m.patchBy[i] = b
		case *m.patch[i] != *v:
			m.collide(b, "retrieval config %s: keeping %d from %s, ignoring %d",
				names[i], *m.patch[i], m.patchBy[i], *v)
		}
	}
}

// enforceReferences drops relationships, indexes and constraints whose
// labels are not declared by any node.
func (m *merger) enforceReferences() {
	declared := func(label string) bool {
		_, ok := m.nodes[label]
		return ok
	}
	violate := func(format string, args ...any) {
		m.diags = append(m.diags, Diagnostic{Kind: DiagnosticReferentialViolation, Message: fmt.Sprintf(format, args...)})
	}

	rels := m.out.Relationships[:0]
	for _, r := range m.out.Relationships {
		if !declared(r.FromLabel) || !declared(r.ToLabel) {
			violate("dropped relationship %s: undeclared label", r.Key())
			continue
		}
		rels = append(rels, r)
	}
	m.out.Relationships = rels

	idxs := m.out.Indexes[:0]
	for _, idx := range m.out.Indexes {
		if !declared(idx.NodeLabel) {
			violate("dropped %s index on undeclared label %s", idx.Kind, idx.NodeLabel)
			continue
		}
		idxs = append(idxs, idx)
	}
	m.out.Indexes = idxs

	cons := m.out.Constraints[:0]
	for _, c := range m.out.Constraints {
		if !declared(c.NodeLabel) {
			violate("dropped %s constraint on undeclared label %s", c.Kind, c.NodeLabel)
			continue
		}
		cons = append(cons, c)
	}
	m.out.Constraints = cons
}

func sameProps(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

func copyProps(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
