package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/schema-evolver/internal/designer"
	"github.com/nidhogg/schema-evolver/internal/evaluator"
	"github.com/nidhogg/schema-evolver/internal/implementer"
	"github.com/nidhogg/schema-evolver/internal/orchestrator"
	"github.com/nidhogg/schema-evolver/internal/rubric"
	"github.com/nidhogg/schema-evolver/internal/rubric/rubrictest"
	"github.com/nidhogg/schema-evolver/internal/schema"
)

func finishedState(t *testing.T) *orchestrator.EvolutionState {
	t.Helper()
	r := rubric.Default()
	ev, err := evaluator.New(r, evaluator.Thresholds{TargetScore: 9, DimensionFloor: 8})
	if err != nil {
		t.Fatal(err)
	}

	partial := rubrictest.CompleteSchema(r)
	partial.Version, partial.Iteration = "v1", 1
	partial.Indexes = nil
	full := rubrictest.CompleteSchema(r)
	full.Version, full.Iteration = "v2", 2
	full.Facets = map[schema.BriefType]schema.FacetStatus{
		schema.BriefDomain:      schema.FacetGenerated,
		schema.BriefRetrieval:   schema.FacetGenerated,
		schema.BriefPerformance: schema.FacetUnchanged,
		schema.BriefQuality:     schema.FacetGenerated,
	}

	start := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	e1, e2 := ev.Evaluate(partial), ev.Evaluate(full)
	return &orchestrator.EvolutionState{
		RunID:          "run-42",
		Domain:         "technical documentation",
		Status:         orchestrator.StatusConverged,
		Converged:      true,
		TargetScore:    9,
		DimensionFloor: 8,
		MaxIterations:  7,
		Iteration:      2,
		History: []orchestrator.IterationRecord{
			{Iteration: 1, SchemaVersion: "v1", Evaluation: e1, StartedAt: start, DurationSeconds: 3.5},
			{Iteration: 2, SchemaVersion: "v2", Evaluation: e2, StartedAt: start.Add(4 * time.Second), DurationSeconds: 2.25,
				Round: &designer.RoundReport{Briefs: []designer.BriefOutcome{
					{Brief: schema.BriefPerformance, Status: schema.FacetUnchanged, Error: "timeout"},
				}}},
		},
		BestSchema:     full,
		BestEvaluation: e2,
		LatestSchema:   full,
		Validation: &implementer.ValidationReport{
			SchemaVersion: "v2", Engine: "neo4j", Valid: false, Missing: []string{"vector_chunk_embedding"},
			Items: []implementer.ItemResult{{Kind: implementer.KindIndex, Name: "vector_chunk_embedding", Status: implementer.StatusUnsupported, Error: "unsupported"}},
		},
		StartedAt:  start,
		FinishedAt: start.Add(7 * time.Second),
	}
}

func TestWriteExportsEveryArtifact(t *testing.T) {
	dir := t.TempDir()
	paths, err := Write(dir, FromState(finishedState(t)))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	want := []string{EvolutionFile, SchemaDocFile, EvaluationFile, HistoryFile, SchemaFile, SummaryFile, ValidationFile}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v", paths)
	}
	for i, name := range want {
		if filepath.Base(paths[i]) != name {
			t.Errorf("paths[%d] = %s, want %s", i, paths[i], name)
		}
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Summary.BestVersion != "v2" || loaded.Summary.Iterations != 2 || len(loaded.History) != 2 {
		t.Errorf("summary = %+v", loaded.Summary)
	}
	if loaded.Schema.Version != "v2" || !loaded.Evaluation.ReadyForProduction {
		t.Errorf("best schema/evaluation not exported")
	}
}

func TestMarkdownDerivesFromExports(t *testing.T) {
	b := FromState(finishedState(t))
	dir := t.TempDir()
	if _, err := Write(dir, b); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if SchemaMarkdown(b) != SchemaMarkdown(loaded) || EvolutionMarkdown(b) != EvolutionMarkdown(loaded) {
		t.Error("reports rendered from memory and from the exported JSON differ")
	}

	onDisk, err := os.ReadFile(filepath.Join(dir, EvolutionFile))
	if err != nil {
		t.Fatal(err)
	}
	evo := string(onDisk)
	for _, want := range []string{
		"# Evolution run-42",
		"- Status: converged",
		"- Best schema: v2 (10.00)",
		"| 2 | v2 | 10.00 | yes |",
		"| performance",
		"| index | vector_chunk_embedding | unsupported | unsupported |",
		"Missing after validation: vector_chunk_embedding",
	} {
		if !strings.Contains(evo, want) {
			t.Errorf("EVOLUTION.md missing %q:\n%s", want, evo)
		}
	}

	doc := SchemaMarkdown(loaded)
	for _, want := range []string{"# Schema v2", "### Document", "| vector | Chunk | embedding | dimension 1536, cosine |", "| performance | unchanged |"} {
		if !strings.Contains(doc, want) {
			t.Errorf("SCHEMA.md missing %q", want)
		}
	}
}

func TestWriteAbortedRunWithoutSchema(t *testing.T) {
	st := &orchestrator.EvolutionState{RunID: "run-0", Status: orchestrator.StatusAborted, MaxIterations: 3, AbortReason: "all generation briefs failed"}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ValidationFile), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Write(dir, FromState(st)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ValidationFile)); !os.IsNotExist(err) {
		t.Error("stale validation.json must be removed")
	}
	b, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if b.Schema != nil || len(b.History) != 0 {
		t.Errorf("bundle = %+v", b)
	}
	if !strings.Contains(SchemaMarkdown(b), "No schema was produced") ||
		!strings.Contains(EvolutionMarkdown(b), "No round completed.") {
		t.Error("empty run reports")
	}
}
