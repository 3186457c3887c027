// Package designer turns one round of design briefs into a single versioned
// schema. The four briefs are dispatched concurrently through the generation
// port and joined before a single-threaded merge.
package designer

import (
	"context"
	"errors"
	"fmt"

	"github.com/nidhogg/schema-evolver/internal/evaluator"
	"github.com/nidhogg/schema-evolver/internal/generation"
	"github.com/nidhogg/schema-evolver/internal/metrics"
	"github.com/nidhogg/schema-evolver/internal/rubric"
	"github.com/nidhogg/schema-evolver/internal/schema"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrAllBriefsFailed means no brief produced a fragment in a round.
var ErrAllBriefsFailed = errors.New("all generation briefs failed")

// Routing maps each brief to the dimensions whose missing components it
// receives as feedback.
var Routing = map[schema.BriefType][]rubric.Dimension{
	schema.BriefDomain:      {rubric.DomainCompleteness, rubric.CrossDomainSupport, rubric.Usability},
	schema.BriefRetrieval:   {rubric.RetrievalEffectiveness},
	schema.BriefPerformance: {rubric.Performance, rubric.Scalability},
	schema.BriefQuality:     {rubric.DataQuality, rubric.Extensibility},
}

// BriefOutcome records how one brief's facet was produced this round.
type BriefOutcome struct {
	Brief  schema.BriefType   `json:"brief"`
	Status schema.FacetStatus `json:"status"`
	Error  string             `json:"error,omitempty"`
}

// RoundReport is the per-round record of brief outcomes and merge findings.
type RoundReport struct {
	Briefs      []BriefOutcome `json:"briefs"`
	Diagnostics []Diagnostic   `json:"diagnostics,omitempty"`
}

// Degraded returns the briefs that did not produce a fresh fragment.
func (r *RoundReport) Degraded() []schema.BriefType {
	var out []schema.BriefType
	for _, b := range r.Briefs {
		if b.Status != schema.FacetGenerated {
			out = append(out, b.Brief)
		}
	}
	return out
}

// Clone returns a deep copy.
func (r *RoundReport) Clone() *RoundReport {
	if r == nil {
		return nil
	}
	return &RoundReport{
		Briefs:      append([]BriefOutcome(nil), r.Briefs...),
		Diagnostics: append([]Diagnostic(nil), r.Diagnostics...),
	}
}

// Designer issues briefs and merges their fragments over the previous
// round's schema. It holds no per-run state.
type Designer struct {
	port        generation.Port
	domain      string
	concurrency int
	logger      *zap.Logger
}

// New creates a Designer. concurrency bounds in-flight briefs; values
// below one mean all briefs at once.
func New(port generation.Port, domain string, concurrency int, logger *zap.Logger) *Designer {
	if concurrency < 1 {
		concurrency = len(schema.Briefs)
	}
	return &Designer{
		port:        port,
		domain:      domain,
		concurrency: concurrency,
		logger:      logger,
	}
}

type briefResult struct {
	fragment *schema.Fragment
	err      error
}

// Design runs one round. prev and feedback are nil on the first round.
// The next schema is prev plus this round's fragments, so a failed brief
// contributes nothing and leaves its previous facet in place. The returned
// report is non-nil whenever briefs were dispatched.
func (d *Designer) Design(ctx context.Context, iteration int, prev *schema.Schema, feedback *evaluator.Result) (*schema.Schema, *RoundReport, error) {
	results := make([]briefResult, len(schema.Briefs))

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, b := range schema.Briefs {
		req := d.request(b, iteration, prev, feedback)
		d.logger.Debug("dispatching brief",
			zap.String("brief", string(b)),
			zap.Int("iteration", iteration),
			zap.Int("feedback_items", len(req.MissingComponents)))
		g.Go(func() error {
			frag, err := d.port.Generate(ctx, req)
			results[i] = briefResult{fragment: frag, err: err}
			return nil
		})
	}
	_ = g.Wait()

	report := &RoundReport{}
	if err := ctx.Err(); err != nil {
		return nil, report, fmt.Errorf("design round %d: %w", iteration, err)
	}

	parts := make([]Part, 0, len(schema.Briefs))
	facets := make(map[schema.BriefType]schema.FacetStatus, len(schema.Briefs))
	var failures []error
	for i, b := range schema.Briefs {
		res := results[i]
		outcome := BriefOutcome{Brief: b}
		if res.err == nil {
			if res.fragment == nil {
				res.fragment = &schema.Fragment{}
			}
			parts = append(parts, Part{Brief: b, Fragment: res.fragment})
			outcome.Status = schema.FacetGenerated
		} else {
			failures = append(failures, fmt.Errorf("%s: %w", b, res.err))
			outcome.Error = res.err.Error()
			metrics.DegradedBriefs.WithLabelValues(string(b)).Inc()
			if carried(prev, b) {
				outcome.Status = schema.FacetUnchanged
			} else {
				outcome.Status = schema.FacetEmpty
			}
			d.logger.Warn("brief degraded",
				zap.String("brief", string(b)),
				zap.Int("iteration", iteration),
				zap.String("facet", string(outcome.Status)),
				zap.Error(res.err))
		}
		facets[b] = outcome.Status
		report.Briefs = append(report.Briefs, outcome)
	}

	if len(failures) == len(schema.Briefs) {
		return nil, report, fmt.Errorf("design round %d: %w: %w", iteration, ErrAllBriefsFailed, errors.Join(failures...))
	}

	s, diags := Merge(iteration, prev, parts)
	s.Facets = facets
	report.Diagnostics = diags
	for _, dg := range diags {
		metrics.MergeDiagnostics.WithLabelValues(string(dg.Kind)).Inc()
		d.logger.Warn("merge diagnostic",
			zap.String("kind", string(dg.Kind)),
			zap.String("brief", string(dg.Brief)),
			zap.String("message", dg.Message))
	}
	d.logger.Info("round designed",
		zap.Int("iteration", iteration),
		zap.String("version", s.Version),
		zap.Strings("labels", s.Labels()),
		zap.Int("relationships", len(s.Relationships)),
		zap.Int("indexes", len(s.Indexes)),
		zap.Int("constraints", len(s.Constraints)),
		zap.Int("diagnostics", len(diags)))
	return s, report, nil
}

// carried reports whether prev already holds content for brief b.
func carried(prev *schema.Schema, b schema.BriefType) bool {
	if prev == nil {
		return false
	}
	st := prev.Facets[b]
	return st == schema.FacetGenerated || st == schema.FacetUnchanged
}

func (d *Designer) request(b schema.BriefType, iteration int, prev *schema.Schema, feedback *evaluator.Result) *generation.Request {
	req := &generation.Request{Brief: b, Iteration: iteration, Domain: d.domain}
	if prev != nil {
		req.PriorSchema = prev.Clone()
	}
	if feedback != nil {
		req.MissingComponents = feedback.ForDimensions(Routing[b]...)
	}
	return req
}
