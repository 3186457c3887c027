package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/schema-evolver/internal/orchestrator"
	"github.com/nidhogg/schema-evolver/internal/schema"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// RunSummary is one row of the runs table.
type RunSummary struct {
	ID          string     `json:"id"`
	Domain      string     `json:"domain"`
	Status      string     `json:"status"`
	Iterations  int        `json:"iterations"`
	BestVersion *string    `json:"best_version,omitempty"`
	BestScore   *float64   `json:"best_score,omitempty"`
	AbortReason *string    `json:"abort_reason,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// StartRun inserts the run row.
func (s *Store) StartRun(ctx context.Context, st *orchestrator.EvolutionState) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO runs (id, domain, status, target_score, dimension_floor, max_iterations, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		st.RunID, st.Domain, string(st.Status), st.TargetScore, st.DimensionFloor, st.MaxIterations, st.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", st.RunID, err)
	}
	return nil
}

// AppendIteration stores one history entry. Existing entries are never
// overwritten.
func (s *Store) AppendIteration(ctx context.Context, runID string, rec orchestrator.IterationRecord, sc *schema.Schema) error {
	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal iteration: %w", err)
	}
	schemaJSON, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO iterations (run_id, iteration, schema_version, overall_score, ready,
			duration_seconds, record, schema_doc, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id, iteration) DO NOTHING`,
		runID, rec.Iteration, rec.SchemaVersion, rec.Evaluation.OverallScore,
		rec.Evaluation.ReadyForProduction, rec.DurationSeconds, recordJSON, schemaJSON, rec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert iteration %d: %w", rec.Iteration, err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Warn("iteration already recorded",
			zap.String("run_id", runID), zap.Int("iteration", rec.Iteration))
		return nil
	}
	if _, err := tx.Exec(ctx,
		`UPDATE runs SET iterations = GREATEST(iterations, $2) WHERE id = $1`,
		runID, rec.Iteration); err != nil {
		return fmt.Errorf("update run %s: %w", runID, err)
	}
	return tx.Commit(ctx)
}

// FinishRun stores the terminal status and the full final state.
func (s *Store) FinishRun(ctx context.Context, st *orchestrator.EvolutionState) error {
	result, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	var (
		bestVersion *string
		bestScore   *float64
		abortReason *string
	)
	if st.BestEvaluation != nil {
		bestVersion, bestScore = &st.BestEvaluation.SchemaVersion, &st.BestEvaluation.OverallScore
	}
	if st.AbortReason != "" {
		abortReason = &st.AbortReason
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE runs SET status = $2, iterations = $3, best_version = $4, best_score = $5,
			abort_reason = $6, result = $7, finished_at = $8
		WHERE id = $1`,
		st.RunID, string(st.Status), len(st.History), bestVersion, bestScore, abortReason, result, st.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", st.RunID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run %s: %w", st.RunID, ErrNotFound)
	}
	return nil
}

// Runs lists the most recent runs first.
func (s *Store) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, domain, status, iterations, best_version, best_score, abort_reason, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.Domain, &r.Status, &r.Iterations, &r.BestVersion,
			&r.BestScore, &r.AbortReason, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Run returns the final state recorded for a finished run.
func (s *Store) Run(ctx context.Context, id string) (*orchestrator.EvolutionState, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT result FROM runs WHERE id = $1 AND result IS NOT NULL`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	var st orchestrator.EvolutionState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &st, nil
}

// History returns a run's iterations in order.
func (s *Store) History(ctx context.Context, runID string) ([]orchestrator.IterationRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT record FROM iterations WHERE run_id = $1 ORDER BY iteration ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list iterations: %w", err)
	}
	defer rows.Close()

	var out []orchestrator.IterationRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		var rec orchestrator.IterationRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode iteration: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
