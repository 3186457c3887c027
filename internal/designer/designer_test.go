package designer

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/schema-evolver/internal/evaluator"
	"github.com/nidhogg/schema-evolver/internal/generation"
	"github.com/nidhogg/schema-evolver/internal/rubric"
	"github.com/nidhogg/schema-evolver/internal/rubric/rubrictest"
	"github.com/nidhogg/schema-evolver/internal/schema"
	"go.uber.org/zap"
)

func completeParts() []Part {
	frags := rubrictest.CompleteFragments(rubric.Default())
	var parts []Part
	for _, b := range schema.Briefs {
		parts = append(parts, Part{Brief: b, Fragment: frags[b]})
	}
	return parts
}

func TestMergeMatchesCompleteSchema(t *testing.T) {
	got, diags := Merge(1, nil, completeParts())
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %+v", diags)
	}
	want := rubrictest.CompleteSchema(rubric.Default())
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("merged schema differs from fixture schema")
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	parts := completeParts()
	once, _ := Merge(1, nil, parts)
	twice, diags := Merge(1, nil, append(append([]Part{}, parts...), parts...))

	if len(once.Nodes) != len(twice.Nodes) ||
		len(once.Relationships) != len(twice.Relationships) ||
		len(once.Indexes) != len(twice.Indexes) ||
		len(once.Constraints) != len(twice.Constraints) {
		t.Fatalf("counts differ: once %d/%d/%d/%d twice %d/%d/%d/%d",
			len(once.Nodes), len(once.Relationships), len(once.Indexes), len(once.Constraints),
			len(twice.Nodes), len(twice.Relationships), len(twice.Indexes), len(twice.Constraints))
	}
	if len(diags) != 0 {
		t.Errorf("identical duplicates should not collide: %+v", diags)
	}
}

func TestMergeDropsDanglingReferences(t *testing.T) {
	parts := []Part{
		{Brief: schema.BriefDomain, Fragment: &schema.Fragment{
			Nodes: []schema.Node{{Label: "Document"}, {Label: "Chunk"}},
			Relationships: []schema.Relationship{
				{Type: "HAS_CHUNK", FromLabel: "Document", ToLabel: "Chunk"},
				{Type: "HAUNTS", FromLabel: "Ghost", ToLabel: "Document"},
			},
		}},
		{Brief: schema.BriefPerformance, Fragment: &schema.Fragment{
			Indexes:     []schema.Index{{Kind: schema.IndexSingle, NodeLabel: "Ghost", Properties: []string{"name"}}},
			Constraints: []schema.Constraint{{Kind: schema.ConstraintUniqueness, NodeLabel: "Phantom", Property: "id"}},
		}},
	}
	s, diags := Merge(2, nil, parts)

	if len(s.Relationships) != 1 || s.Relationships[0].Type != "HAS_CHUNK" {
		t.Errorf("relationships = %+v", s.Relationships)
	}
	if len(s.Indexes) != 0 || len(s.Constraints) != 0 {
		t.Errorf("dangling index/constraint survived: %+v %+v", s.Indexes, s.Constraints)
	}
	if len(diags) != 3 {
		t.Fatalf("diagnostics = %+v", diags)
	}
	for _, d := range diags {
		if d.Kind != DiagnosticReferentialViolation {
			t.Errorf("kind = %s", d.Kind)
		}
	}
	if s.Version != "v2" || s.Iteration != 2 {
		t.Errorf("stamp = %s/%d", s.Version, s.Iteration)
	}
}

func TestMergeCollisionsKeepFirst(t *testing.T) {
	size1, size2 := 512, 1024
	parts := []Part{
		{Brief: schema.BriefDomain, Fragment: &schema.Fragment{
			Nodes:         []schema.Node{{Label: "Document", Properties: map[string]string{"createdAt": "datetime"}}},
			Relationships: []schema.Relationship{{Type: "CITES", FromLabel: "Document", ToLabel: "Document", Properties: map[string]string{"weight": "float"}}},
		}},
		{Brief: schema.BriefRetrieval, Fragment: &schema.Fragment{
			Indexes:              []schema.Index{{Kind: schema.IndexVector, NodeLabel: "Document", Properties: []string{"embedding"}, Dimension: 768, Similarity: "cosine"}},
			RetrievalConfigPatch: &schema.RetrievalConfigPatch{ChunkSize: &size1},
		}},
		{Brief: schema.BriefQuality, Fragment: &schema.Fragment{
			Nodes:                []schema.Node{{Label: "Document", Properties: map[string]string{"createdAt": "string", "source": "string"}}},
			Relationships:        []schema.Relationship{{Type: "CITES", FromLabel: "Document", ToLabel: "Document"}},
			Indexes:              []schema.Index{{Kind: schema.IndexVector, NodeLabel: "Document", Properties: []string{"embedding"}, Dimension: 1536, Similarity: "cosine"}},
			RetrievalConfigPatch: &schema.RetrievalConfigPatch{ChunkSize: &size2},
		}},
	}
	s, diags := Merge(1, nil, parts)

	doc := s.Nodes[0]
	if doc.Properties["createdAt"] != "datetime" || doc.Properties["source"] != "string" {
		t.Errorf("document properties = %v", doc.Properties)
	}
	if s.Relationships[0].Properties["weight"] != "float" {
		t.Errorf("relationship lost first properties: %+v", s.Relationships[0])
	}
	if len(s.Indexes) != 1 || s.Indexes[0].Dimension != 768 {
		t.Errorf("indexes = %+v", s.Indexes)
	}
	if s.RetrievalConfig.ChunkSize != 512 {
		t.Errorf("chunk size = %d", s.RetrievalConfig.ChunkSize)
	}
	if len(diags) != 4 {
		t.Fatalf("diagnostics = %+v", diags)
	}
	for _, d := range diags {
		if d.Kind != DiagnosticMergeCollision || d.Brief != schema.BriefQuality {
			t.Errorf("diagnostic = %+v", d)
		}
	}
}

func TestMergeDoesNotAliasInputs(t *testing.T) {
	frag := &schema.Fragment{
		Nodes:   []schema.Node{{Label: "Document", Properties: map[string]string{"name": "string"}}},
		Indexes: []schema.Index{{Kind: schema.IndexSingle, NodeLabel: "Document", Properties: []string{"name"}}},
	}
	s, _ := Merge(1, nil, []Part{{Brief: schema.BriefDomain, Fragment: frag}})
	s.Nodes[0].Properties["extra"] = "string"
	s.Indexes[0].Properties[0] = "changed"
	if _, ok := frag.Nodes[0].Properties["extra"]; ok || frag.Indexes[0].Properties[0] != "name" {
		t.Fatal("merged schema aliases fragment storage")
	}
}

func TestMergeSeedsFromBase(t *testing.T) {
	size, overlap := 256, 32
	base := &schema.Schema{
		Version:   "v1",
		Iteration: 1,
		Nodes: []schema.Node{
			{Label: "Document", Properties: map[string]string{"title": "string"}},
			{Label: "Section", Properties: map[string]string{"heading": "string"}},
		},
		Relationships:   []schema.Relationship{{Type: "HAS_SECTION", FromLabel: "Document", ToLabel: "Section"}},
		Constraints:     []schema.Constraint{{Kind: schema.ConstraintUniqueness, NodeLabel: "Document", Property: "title"}},
		RetrievalConfig: schema.RetrievalConfig{ChunkSize: 512, ChunkOverlap: 64, EmbeddingDimension: 768},
	}
	parts := []Part{
		{Brief: schema.BriefDomain, Fragment: &schema.Fragment{
			Nodes: []schema.Node{{Label: "Document", Properties: map[string]string{"title": "text", "author": "string"}}},
		}},
		{Brief: schema.BriefRetrieval, Fragment: &schema.Fragment{
			RetrievalConfigPatch: &schema.RetrievalConfigPatch{ChunkSize: &size, ChunkOverlap: &overlap},
		}},
	}
	s, diags := Merge(2, base, parts)

	doc := s.Nodes[0]
	if doc.Label != "Document" || doc.Properties["title"] != "string" || doc.Properties["author"] != "string" {
		t.Errorf("document = %+v", doc)
	}
	if !s.HasLabel("Section") || len(s.Relationships) != 1 || len(s.Constraints) != 1 {
		t.Errorf("base content lost: %+v", s)
	}
	want := schema.RetrievalConfig{ChunkSize: 256, ChunkOverlap: 32, EmbeddingDimension: 768}
	if s.RetrievalConfig != want {
		t.Errorf("retrieval config = %+v", s.RetrievalConfig)
	}
	if len(diags) != 1 || diags[0].Kind != DiagnosticMergeCollision || diags[0].Brief != schema.BriefDomain {
		t.Errorf("diagnostics = %+v", diags)
	}

	s.Nodes[1].Properties["extra"] = "string"
	if _, ok := base.Nodes[1].Properties["extra"]; ok {
		t.Error("merged schema aliases base storage")
	}
}

// scriptedPort answers from per-round scripts and records requests.
type scriptedPort struct {
	mu       sync.Mutex
	frags    map[schema.BriefType]*schema.Fragment
	failures map[int]map[schema.BriefType]error
	delays   map[schema.BriefType]time.Duration
	requests []*generation.Request
}

func (p *scriptedPort) Generate(ctx context.Context, req *generation.Request) (*schema.Fragment, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	delay := p.delays[req.Brief]
	err := p.failures[req.Iteration][req.Brief]
	p.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return p.frags[req.Brief], nil
}

func TestDesignDegradedBriefKeepsPreviousFacet(t *testing.T) {
	frags := rubrictest.CompleteFragments(rubric.Default())
	port := &scriptedPort{
		frags: frags,
		failures: map[int]map[schema.BriefType]error{
			2: {schema.BriefPerformance: generation.ErrTimeout},
		},
	}
	d := New(port, "docs", 4, zap.NewNop())
	ctx := context.Background()

	round1, rep1, err := d.Design(ctx, 1, nil, nil)
	if err != nil {
		t.Fatalf("round 1: %v", err)
	}
	if len(rep1.Degraded()) != 0 {
		t.Fatalf("round 1 degraded: %+v", rep1)
	}

	// the domain brief changes in round 2 while performance fails
	changed := *frags[schema.BriefDomain]
	changed.Nodes = append(append([]schema.Node{}, changed.Nodes...), schema.Node{Label: "Glossary", Properties: map[string]string{"name": "string"}})
	port.frags = map[schema.BriefType]*schema.Fragment{
		schema.BriefDomain:      &changed,
		schema.BriefRetrieval:   frags[schema.BriefRetrieval],
		schema.BriefPerformance: frags[schema.BriefPerformance],
		schema.BriefQuality:     frags[schema.BriefQuality],
	}
	round2, rep2, err := d.Design(ctx, 2, round1, nil)
	if err != nil {
		t.Fatalf("round 2: %v", err)
	}

	if !reflect.DeepEqual(round1.Constraints, round2.Constraints) || !reflect.DeepEqual(round1.Indexes, round2.Indexes) {
		t.Error("round 2 did not retain round 1 indexes and constraints")
	}
	if !round2.HasLabel("Glossary") {
		t.Error("round 2 did not pick up the updated domain facet")
	}
	if round2.Facets[schema.BriefPerformance] != schema.FacetUnchanged {
		t.Errorf("performance facet = %s", round2.Facets[schema.BriefPerformance])
	}
	if got := rep2.Degraded(); len(got) != 1 || got[0] != schema.BriefPerformance {
		t.Errorf("degraded = %v", got)
	}
	if rep2.Briefs[2].Error == "" {
		t.Error("degraded brief error not recorded")
	}
}

func TestDesignKeepsPriorContentWhenFragmentsShrink(t *testing.T) {
	port := &scriptedPort{frags: map[schema.BriefType]*schema.Fragment{
		schema.BriefDomain: {
			Nodes: []schema.Node{
				{Label: "Document", Properties: map[string]string{"title": "string"}},
				{Label: "Section", Properties: map[string]string{"heading": "string"}},
			},
			Relationships: []schema.Relationship{{Type: "HAS_SECTION", FromLabel: "Document", ToLabel: "Section"}},
		},
		schema.BriefRetrieval: {},
		schema.BriefPerformance: {
			Constraints: []schema.Constraint{{Kind: schema.ConstraintUniqueness, NodeLabel: "Document", Property: "title"}},
		},
		schema.BriefQuality: {},
	}}
	d := New(port, "docs", 4, zap.NewNop())
	ctx := context.Background()

	v1, _, err := d.Design(ctx, 1, nil, nil)
	if err != nil {
		t.Fatalf("round 1: %v", err)
	}

	port.mu.Lock()
	port.frags = map[schema.BriefType]*schema.Fragment{
		schema.BriefDomain:      {Nodes: []schema.Node{{Label: "Topic", Properties: map[string]string{"name": "string"}}}},
		schema.BriefRetrieval:   {},
		schema.BriefPerformance: {},
		schema.BriefQuality:     {},
	}
	port.mu.Unlock()
	v2, rep, err := d.Design(ctx, 2, v1, nil)
	if err != nil {
		t.Fatalf("round 2: %v", err)
	}

	for _, label := range v1.Labels() {
		if !v2.HasLabel(label) {
			t.Errorf("v2 lost label %s", label)
		}
	}
	if !v2.HasLabel("Topic") {
		t.Error("v2 missing Topic")
	}
	if !v2.HasRelationship(schema.RelationshipKey{Type: "HAS_SECTION", FromLabel: "Document", ToLabel: "Section"}) {
		t.Error("v2 lost HAS_SECTION")
	}
	if !reflect.DeepEqual(v1.Constraints, v2.Constraints) {
		t.Errorf("constraints = %+v", v2.Constraints)
	}
	if v2.Version != "v2" || len(rep.Degraded()) != 0 || len(rep.Diagnostics) != 0 {
		t.Errorf("version=%s report=%+v", v2.Version, rep)
	}
}

func TestDesignFailedBriefContributesNothing(t *testing.T) {
	frags := rubrictest.CompleteFragments(rubric.Default())
	port := &scriptedPort{
		frags:    frags,
		failures: map[int]map[schema.BriefType]error{2: {schema.BriefDomain: generation.ErrMalformed}},
	}
	d := New(port, "docs", 4, zap.NewNop())
	ctx := context.Background()

	v1, _, err := d.Design(ctx, 1, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	v2, _, err := d.Design(ctx, 2, v1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if v2.Facets[schema.BriefDomain] != schema.FacetUnchanged {
		t.Errorf("domain facet = %s", v2.Facets[schema.BriefDomain])
	}
	v1.Facets, v2.Facets = nil, nil
	v1.Version, v1.Iteration = v2.Version, v2.Iteration
	if !reflect.DeepEqual(v1, v2) {
		t.Error("a failed brief changed the carried schema")
	}
}

func TestDesignFirstRoundFailureIsEmptyFacet(t *testing.T) {
	port := &scriptedPort{
		frags:    rubrictest.CompleteFragments(rubric.Default()),
		failures: map[int]map[schema.BriefType]error{1: {schema.BriefQuality: generation.ErrMalformed}},
	}
	d := New(port, "docs", 2, zap.NewNop())
	s, _, err := d.Design(context.Background(), 1, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.Facets[schema.BriefQuality] != schema.FacetEmpty {
		t.Errorf("quality facet = %s", s.Facets[schema.BriefQuality])
	}
	if _, ok := s.Nodes[0].Properties["source"]; ok {
		t.Error("quality properties present without a quality fragment")
	}
}

func TestDesignAllBriefsFailed(t *testing.T) {
	fail := map[schema.BriefType]error{}
	for _, b := range schema.Briefs {
		fail[b] = generation.ErrTimeout
	}
	port := &scriptedPort{failures: map[int]map[schema.BriefType]error{1: fail}}
	d := New(port, "docs", 4, zap.NewNop())

	s, rep, err := d.Design(context.Background(), 1, nil, nil)
	if !errors.Is(err, ErrAllBriefsFailed) || !errors.Is(err, generation.ErrTimeout) {
		t.Fatalf("expected ErrAllBriefsFailed wrapping ErrTimeout, got %v", err)
	}
	if s != nil || len(rep.Briefs) != 4 {
		t.Errorf("schema=%v report=%+v", s, rep)
	}
}

func TestDesignMergeOrderIgnoresCompletionOrder(t *testing.T) {
	frags := rubrictest.CompleteFragments(rubric.Default())
	port := &scriptedPort{
		frags: frags,
		delays: map[schema.BriefType]time.Duration{
			schema.BriefDomain:    20 * time.Millisecond,
			schema.BriefRetrieval: 5 * time.Millisecond,
		},
	}
	d := New(port, "docs", 4, zap.NewNop())
	s, _, err := d.Design(context.Background(), 1, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := Merge(1, nil, completeParts())
	s.Facets = nil
	if !reflect.DeepEqual(s, want) {
		t.Fatal("design result depends on brief completion order")
	}
}

func TestDesignRoutesFeedbackByBrief(t *testing.T) {
	port := &scriptedPort{frags: rubrictest.CompleteFragments(rubric.Default())}
	d := New(port, "docs", 4, zap.NewNop())

	ev, err := evaluator.New(rubric.Default(), evaluator.Thresholds{TargetScore: 9, DimensionFloor: 8})
	if err != nil {
		t.Fatal(err)
	}
	feedback := ev.Evaluate(&schema.Schema{Version: "v1", Iteration: 1})
	prev := &schema.Schema{Version: "v1", Iteration: 1}

	if _, _, err := d.Design(context.Background(), 2, prev, feedback); err != nil {
		t.Fatal(err)
	}
	for _, req := range port.requests {
		allowed := map[rubric.Dimension]bool{}
		for _, dim := range Routing[req.Brief] {
			allowed[dim] = true
		}
		if len(req.MissingComponents) == 0 {
			t.Errorf("brief %s got no feedback", req.Brief)
		}
		for _, mc := range req.MissingComponents {
			if !allowed[mc.Dimension] {
				t.Errorf("brief %s received %s feedback", req.Brief, mc.Dimension)
			}
		}
		if req.PriorSchema == nil || req.PriorSchema == prev {
			t.Errorf("brief %s should get a private copy of the prior schema", req.Brief)
		}
		if req.Domain != "docs" {
			t.Errorf("domain = %q", req.Domain)
		}
	}
}

func TestDesignCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	port := generation.PortFunc(func(ctx context.Context, req *generation.Request) (*schema.Fragment, error) {
		return nil, ctx.Err()
	})
	d := New(port, "docs", 4, zap.NewNop())
	if _, _, err := d.Design(ctx, 1, nil, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
