// Package report exports a finished run as machine-readable JSON documents
// and renders the human-readable reports from those documents alone.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/nidhogg/schema-evolver/internal/evaluator"
	"github.com/nidhogg/schema-evolver/internal/implementer"
	"github.com/nidhogg/schema-evolver/internal/orchestrator"
	"github.com/nidhogg/schema-evolver/internal/schema"
)

// Exported file names.
const (
	SummaryFile    = "summary.json"
	SchemaFile     = "schema.json"
	EvaluationFile = "evaluation.json"
	HistoryFile    = "history.json"
	ValidationFile = "validation.json"
	SchemaDocFile  = "SCHEMA.md"
	EvolutionFile  = "EVOLUTION.md"
)

// Summary is the run-level outcome.
type Summary struct {
	RunID          string    `json:"run_id"`
	Domain         string    `json:"domain"`
	Status         string    `json:"status"`
	Converged      bool      `json:"converged"`
	TargetScore    float64   `json:"target_score"`
	DimensionFloor float64   `json:"dimension_floor"`
	MaxIterations  int       `json:"max_iterations"`
	Iterations     int       `json:"iterations"`
	BestVersion    string    `json:"best_version,omitempty"`
	BestScore      float64   `json:"best_score"`
	Blockers       []string  `json:"blockers,omitempty"`
	AbortReason    string    `json:"abort_reason,omitempty"`
	ImplementError string    `json:"implement_error,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at,omitzero"`
}

// Bundle is everything exported for a run.
type Bundle struct {
	Summary    Summary
	Schema     *schema.Schema
	Evaluation *evaluator.Result
	History    []orchestrator.IterationRecord
	Validation *implementer.ValidationReport
}

// FromState builds a bundle around the best schema of a run.
func FromState(st *orchestrator.EvolutionState) *Bundle {
	b := &Bundle{
		Summary: Summary{
			RunID:          st.RunID,
			Domain:         st.Domain,
			Status:         string(st.Status),
			Converged:      st.Converged,
			TargetScore:    st.TargetScore,
			DimensionFloor: st.DimensionFloor,
			MaxIterations:  st.MaxIterations,
			Iterations:     len(st.History),
			Blockers:       st.Blockers,
			AbortReason:    st.AbortReason,
			ImplementError: st.ImplementError,
			StartedAt:      st.StartedAt,
			FinishedAt:     st.FinishedAt,
		},
		Schema:     st.BestSchema,
		Evaluation: st.BestEvaluation,
		History:    st.History,
		Validation: st.Validation,
	}
	if st.BestEvaluation != nil {
		b.Summary.BestVersion = st.BestEvaluation.SchemaVersion
		b.Summary.BestScore = st.BestEvaluation.OverallScore
	}
	if b.History == nil {
		b.History = []orchestrator.IterationRecord{}
	}
	return b
}

type document struct {
	name string
	v    any
}

// Write exports the bundle into dir and returns the written paths. The
// markdown reports are rendered from the JSON just written, read back.
func Write(dir string, b *Bundle) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	docs := []document{
		{SummaryFile, b.Summary},
		{SchemaFile, b.Schema},
		{EvaluationFile, b.Evaluation},
		{HistoryFile, b.History},
	}
	if b.Validation != nil {
		docs = append(docs, document{ValidationFile, b.Validation})
	} else if err := os.Remove(filepath.Join(dir, ValidationFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove stale %s: %w", ValidationFile, err)
	}

	var paths []string
	for _, d := range docs {
		p := filepath.Join(dir, d.name)
		if err := writeJSON(p, d.v); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}

	exported, err := Load(dir)
	if err != nil {
		return nil, err
	}
	for name, text := range map[string]string{
		SchemaDocFile: SchemaMarkdown(exported),
		EvolutionFile: EvolutionMarkdown(exported),
	} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(text), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// Load reads an exported bundle. validation.json is optional.
func Load(dir string) (*Bundle, error) {
	b := &Bundle{}
	for name, v := range map[string]any{
		SummaryFile:    &b.Summary,
		SchemaFile:     &b.Schema,
		EvaluationFile: &b.Evaluation,
		HistoryFile:    &b.History,
	} {
		if err := readJSON(filepath.Join(dir, name), v); err != nil {
			return nil, err
		}
	}
	err := readJSON(filepath.Join(dir, ValidationFile), &b.Validation)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return b, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
