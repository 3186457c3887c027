package orchestrator

import (
	"context"
	"time"

	"github.com/nidhogg/schema-evolver/internal/designer"
	"github.com/nidhogg/schema-evolver/internal/evaluator"
	"github.com/nidhogg/schema-evolver/internal/implementer"
	"github.com/nidhogg/schema-evolver/internal/schema"
)

// Status is the run state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusConverged Status = "converged"
	StatusExhausted Status = "exhausted"
	StatusAborted   Status = "aborted"
)

// Terminal reports whether the run has ended.
func (s Status) Terminal() bool {
	return s == StatusConverged || s == StatusExhausted || s == StatusAborted
}

// IterationRecord is one round's entry in the append-only history.
type IterationRecord struct {
	Iteration       int                   `json:"iteration"`
	SchemaVersion   string                `json:"schema_version"`
	Evaluation      *evaluator.Result     `json:"evaluation"`
	StartedAt       time.Time             `json:"started_at"`
	DurationSeconds float64               `json:"duration_seconds"`
	Round           *designer.RoundReport `json:"round,omitempty"`
}

// Clone returns a deep copy.
func (r IterationRecord) Clone() IterationRecord {
	r.Evaluation = r.Evaluation.Clone()
	r.Round = r.Round.Clone()
	return r
}

// EvolutionState is everything known about one run. The Orchestrator owns
// the live value; callers only ever see copies.
type EvolutionState struct {
	RunID          string                        `json:"run_id"`
	Domain         string                        `json:"domain"`
	Status         Status                        `json:"status"`
	Converged      bool                          `json:"converged"`
	TargetScore    float64                       `json:"target_score"`
	DimensionFloor float64                       `json:"dimension_floor"`
	MaxIterations  int                           `json:"max_iterations"`
	Iteration      int                           `json:"iteration"`
	History        []IterationRecord             `json:"history"`
	BestSchema     *schema.Schema                `json:"best_schema,omitempty"`
	BestEvaluation *evaluator.Result             `json:"best_evaluation,omitempty"`
	LatestSchema   *schema.Schema                `json:"latest_schema,omitempty"`
	Blockers       []string                      `json:"blockers,omitempty"`
	Validation     *implementer.ValidationReport `json:"validation,omitempty"`
	ImplementError string                        `json:"implement_error,omitempty"`
	AbortReason    string                        `json:"abort_reason,omitempty"`
	StartedAt      time.Time                     `json:"started_at"`
	FinishedAt     time.Time                     `json:"finished_at,omitzero"`
}

// Clone returns a deep copy.
func (s *EvolutionState) Clone() *EvolutionState {
	if s == nil {
		return nil
	}
	out := *s
	out.History = make([]IterationRecord, len(s.History))
	for i, r := range s.History {
		out.History[i] = r.Clone()
	}
	out.BestSchema = s.BestSchema.Clone()
	out.BestEvaluation = s.BestEvaluation.Clone()
	out.LatestSchema = s.LatestSchema.Clone()
	out.Blockers = append([]string(nil), s.Blockers...)
	out.Validation = s.Validation.Clone()
	return &out
}

// EventKind names a lifecycle event.
type EventKind string

const (
	EventRunStarted         EventKind = "run_started"
	EventIterationCompleted EventKind = "iteration_completed"
	EventRunFinished        EventKind = "run_finished"
)

// Event is a run lifecycle notification.
type Event struct {
	RunID         string    `json:"run_id"`
	Kind          EventKind `json:"kind"`
	Status        Status    `json:"status"`
	Iteration     int       `json:"iteration,omitempty"`
	SchemaVersion string    `json:"schema_version,omitempty"`
	OverallScore  float64   `json:"overall_score,omitempty"`
	Ready         bool      `json:"ready,omitempty"`
	Message       string    `json:"message,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Scorer evaluates a schema against the run thresholds.
type Scorer interface {
	Evaluate(s *schema.Schema) *evaluator.Result
	Thresholds() evaluator.Thresholds
}

// SchemaDesigner produces one schema per round from the previous round's
// schema and evaluation.
type SchemaDesigner interface {
	Design(ctx context.Context, iteration int, prev *schema.Schema, feedback *evaluator.Result) (*schema.Schema, *designer.RoundReport, error)
}

// Recorder persists a run as it progresses.
type Recorder interface {
	StartRun(ctx context.Context, st *EvolutionState) error
	AppendIteration(ctx context.Context, runID string, rec IterationRecord, s *schema.Schema) error
	FinishRun(ctx context.Context, st *EvolutionState) error
}

// Publisher receives lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, ev *Event) error
}

// Implementer applies an accepted schema to storage.
type Implementer interface {
	Implement(ctx context.Context, s *schema.Schema) (*implementer.ValidationReport, error)
}
