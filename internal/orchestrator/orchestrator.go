// Package orchestrator drives the evolution loop: design a schema, score it,
// record the round, and stop on convergence, exhaustion or abort.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/schema-evolver/internal/evaluator"
	"github.com/nidhogg/schema-evolver/internal/implementer"
	"github.com/nidhogg/schema-evolver/internal/metrics"
	"github.com/nidhogg/schema-evolver/internal/schema"
	"go.uber.org/zap"
)

var (
	// ErrAborted wraps the cause of a run that stopped early.
	ErrAborted = errors.New("evolution aborted")
	// ErrOperatorAbort is the cause recorded for Abort calls.
	ErrOperatorAbort = errors.New("operator abort")
	// ErrRunning is returned by Run while another run is in progress.
	ErrRunning = errors.New("evolution already running")
)

// Options configure a run.
type Options struct {
	Domain        string
	MaxIterations int
	AutoImplement bool
}

// Orchestrator owns the EvolutionState of one run at a time.
type Orchestrator struct {
	designer    SchemaDesigner
	scorer      Scorer
	opts        Options
	recorder    Recorder
	publishers  []Publisher
	implementer Implementer
	now         func() time.Time
	newID       func() string
	logger      *zap.Logger

	mu     sync.RWMutex
	state  *EvolutionState
	cancel context.CancelCauseFunc
}

// New creates an Orchestrator.
func New(d SchemaDesigner, scorer Scorer, opts Options, logger *zap.Logger) *Orchestrator {
	if opts.MaxIterations < 1 {
		opts.MaxIterations = 1
	}
	return &Orchestrator{
		designer: d,
		scorer:   scorer,
		opts:     opts,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		logger:   logger,
		state:    &EvolutionState{Status: StatusIdle},
	}
}

// SetRecorder persists runs through r.
func (o *Orchestrator) SetRecorder(r Recorder) { o.recorder = r }

// AddPublisher registers a lifecycle event sink.
func (o *Orchestrator) AddPublisher(p Publisher) { o.publishers = append(o.publishers, p) }

// SetImplementer enables implementation of converged schemas when
// Options.AutoImplement is set.
func (o *Orchestrator) SetImplementer(im Implementer) { o.implementer = im }

// SetClock replaces the wall clock.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// SetIDGenerator replaces the run ID source.
func (o *Orchestrator) SetIDGenerator(f func() string) { o.newID = f }

// Snapshot returns a deep copy of the current or last run state.
func (o *Orchestrator) Snapshot() *EvolutionState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.Clone()
}

// Abort stops a running evolution. It reports whether a run was stopped.
func (o *Orchestrator) Abort(reason string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.cancel == nil || o.state.Status.Terminal() {
		return false
	}
	if reason == "" {
		o.cancel(ErrOperatorAbort)
	} else {
		o.cancel(fmt.Errorf("%w: %s", ErrOperatorAbort, reason))
	}
	return true
}

// Run executes one evolution. Converged and exhausted runs return a nil
// error; aborted runs return the final state and an error wrapping
// ErrAborted. The best schema found so far is kept in every case.
func (o *Orchestrator) Run(ctx context.Context) (*EvolutionState, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	th := o.scorer.Thresholds()
	o.mu.Lock()
	if o.state.Status == StatusRunning {
		o.mu.Unlock()
		return nil, ErrRunning
	}
	o.cancel = cancel
	o.state = &EvolutionState{
		RunID:          o.newID(),
		Domain:         o.opts.Domain,
		Status:         StatusRunning,
		TargetScore:    th.TargetScore,
		DimensionFloor: th.DimensionFloor,
		MaxIterations:  o.opts.MaxIterations,
		StartedAt:      o.now(),
	}
	runID := o.state.RunID
	o.mu.Unlock()

	o.logger.Info("evolution started",
		zap.String("run_id", runID),
		zap.Int("max_iterations", o.opts.MaxIterations),
		zap.Float64("target_score", th.TargetScore),
		zap.Float64("dimension_floor", th.DimensionFloor))
	if o.recorder != nil {
		if err := o.recorder.StartRun(ctx, o.Snapshot()); err != nil {
			o.logger.Warn("record run start", zap.String("run_id", runID), zap.Error(err))
		}
	}
	o.publish(ctx, &Event{RunID: runID, Kind: EventRunStarted, Status: StatusRunning})

	var (
		prev     *schema.Schema
		feedback *evaluator.Result
	)
	for it := 1; it <= o.opts.MaxIterations; it++ {
		if ctx.Err() != nil {
			return o.abort(ctx, context.Cause(ctx))
		}
		started := o.now()
		s, round, err := o.designer.Design(ctx, it, prev, feedback)
		if err != nil {
			if ctx.Err() != nil {
				err = context.Cause(ctx)
			}
			return o.abort(ctx, err)
		}
		eval := o.scorer.Evaluate(s)
		rec := IterationRecord{
			Iteration:       it,
			SchemaVersion:   s.Version,
			Evaluation:      eval,
			StartedAt:       started,
			DurationSeconds: o.now().Sub(started).Seconds(),
			Round:           round,
		}
		o.appendRecord(rec, s)
		o.observe(eval)
		o.logger.Info("round evaluated",
			zap.String("run_id", runID),
			zap.Int("iteration", it),
			zap.String("version", s.Version),
			zap.Float64("overall_score", eval.OverallScore),
			zap.Bool("ready", eval.ReadyForProduction),
			zap.Int("blockers", len(eval.Blockers)))

		if o.recorder != nil {
			if err := o.recorder.AppendIteration(ctx, runID, rec.Clone(), s.Clone()); err != nil {
				o.logger.Warn("record iteration", zap.String("run_id", runID), zap.Int("iteration", it), zap.Error(err))
			}
		}
		o.publish(ctx, &Event{
			RunID:         runID,
			Kind:          EventIterationCompleted,
			Status:        StatusRunning,
			Iteration:     it,
			SchemaVersion: s.Version,
			OverallScore:  eval.OverallScore,
			Ready:         eval.ReadyForProduction,
		})

		if eval.ReadyForProduction {
			return o.finish(ctx, StatusConverged, nil)
		}
		prev, feedback = s, eval
	}
	return o.finish(ctx, StatusExhausted, nil)
}

// appendRecord extends history and updates best/latest. A strictly higher
// overall score replaces best; a ready schema always becomes best.
func (o *Orchestrator) appendRecord(rec IterationRecord, s *schema.Schema) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.state
	st.History = append(st.History, rec.Clone())
	st.Iteration = rec.Iteration
	st.LatestSchema = s.Clone()
	if st.BestEvaluation == nil || rec.Evaluation.OverallScore > st.BestEvaluation.OverallScore || rec.Evaluation.ReadyForProduction {
		st.BestSchema = s.Clone()
		st.BestEvaluation = rec.Evaluation.Clone()
	}
}

func (o *Orchestrator) observe(eval *evaluator.Result) {
	metrics.RoundsTotal.Inc()
	metrics.OverallScore.Set(eval.OverallScore)
	for _, d := range eval.DimensionOrder {
		metrics.DimensionScore.WithLabelValues(string(d)).Set(eval.DimensionScores[d].Score)
	}
}

func (o *Orchestrator) abort(ctx context.Context, cause error) (*EvolutionState, error) {
	if cause == nil {
		cause = context.Canceled
	}
	o.logger.Warn("evolution aborted", zap.Error(cause))
	return o.finish(ctx, StatusAborted, cause)
}

// finish moves the run to a terminal status. Recording and publishing the
// outcome run detached from ctx cancellation.
func (o *Orchestrator) finish(ctx context.Context, status Status, cause error) (*EvolutionState, error) {
	o.mu.RLock()
	best := o.state.BestSchema.Clone()
	runID := o.state.RunID
	o.mu.RUnlock()

	var (
		report  *implementer.ValidationReport
		implErr error
	)
	if status == StatusConverged && o.opts.AutoImplement && o.implementer != nil {
		report, implErr = o.implementer.Implement(ctx, best)
		if implErr != nil {
			o.logger.Error("implement converged schema", zap.String("run_id", runID), zap.Error(implErr))
		}
	}

	o.mu.Lock()
	st := o.state
	st.Status = status
	st.Converged = status == StatusConverged
	st.FinishedAt = o.now()
	if st.BestEvaluation != nil {
		st.Blockers = append([]string(nil), st.BestEvaluation.Blockers...)
	}
	st.Validation = report
	if implErr != nil {
		st.ImplementError = implErr.Error()
	}
	if cause != nil {
		st.AbortReason = cause.Error()
	}
	o.cancel = nil
	final := st.Clone()
	o.mu.Unlock()

	metrics.RunsTotal.WithLabelValues(string(status)).Inc()
	fields := []zap.Field{
		zap.String("run_id", runID),
		zap.String("status", string(status)),
		zap.Int("iterations", len(final.History)),
	}
	if final.BestEvaluation != nil {
		fields = append(fields,
			zap.String("best_version", final.BestEvaluation.SchemaVersion),
			zap.Float64("best_score", final.BestEvaluation.OverallScore))
	}
	o.logger.Info("evolution finished", fields...)

	detached := context.WithoutCancel(ctx)
	if o.recorder != nil {
		if err := o.recorder.FinishRun(detached, final.Clone()); err != nil {
			o.logger.Warn("record run finish", zap.String("run_id", runID), zap.Error(err))
		}
	}
	ev := &Event{RunID: runID, Kind: EventRunFinished, Status: status, Iteration: final.Iteration, Message: final.AbortReason}
	if final.BestEvaluation != nil {
		ev.SchemaVersion = final.BestEvaluation.SchemaVersion
		ev.OverallScore = final.BestEvaluation.OverallScore
		ev.Ready = final.BestEvaluation.ReadyForProduction
	}
	o.publish(detached, ev)

	if cause != nil {
		return final, fmt.Errorf("%w: %w", ErrAborted, cause)
	}
	return final, nil
}

func (o *Orchestrator) publish(ctx context.Context, ev *Event) {
	ev.Timestamp = o.now()
	for _, p := range o.publishers {
		if err := p.Publish(ctx, ev); err != nil {
			o.logger.Warn("publish event",
				zap.String("run_id", ev.RunID),
				zap.String("kind", string(ev.Kind)),
				zap.Error(err))
		}
	}
}
