// Package evaluator scores a schema against a rubric. Evaluation is pure:
// the same schema always yields the same Result, suggestion order included.
package evaluator

import (
	"fmt"
	"math"
	"sort"

	"github.com/nidhogg/schema-evolver/internal/rubric"
	"github.com/nidhogg/schema-evolver/internal/schema"
)

// Thresholds are the readiness bars for one run.
type Thresholds struct {
	TargetScore    float64 `json:"target_score"`
	DimensionFloor float64 `json:"dimension_floor"`
}

// DimensionScore is one dimension's rounded score and the facts behind it.
type DimensionScore struct {
	Score   float64  `json:"score"`
	Weight  float64  `json:"weight"`
	Details []string `json:"details"`
}

// MissingComponent names one exact shortfall against the rubric.
type MissingComponent struct {
	Category    string           `json:"category"`
	Description string           `json:"description"`
	Dimension   rubric.Dimension `json:"dimension"`
	Priority    Priority         `json:"priority"`
}

// Result is the evaluation of exactly one schema version.
type Result struct {
	SchemaVersion      string                              `json:"schema_version"`
	DimensionOrder     []rubric.Dimension                  `json:"dimension_order"`
	DimensionScores    map[rubric.Dimension]DimensionScore `json:"dimension_scores"`
	OverallScore       float64                             `json:"overall_score"`
	ReadyForProduction bool                                `json:"ready_for_production"`
	Blockers           []string                            `json:"blockers"`
	MissingComponents  []MissingComponent                  `json:"missing_components"`
	Suggestions        []MissingComponent                  `json:"suggestions"`
	TargetScore        float64                             `json:"target_score"`
	DimensionFloor     float64                             `json:"dimension_floor"`
}

// MinDimension returns the lowest-scoring dimension, first in evaluation order on ties.
func (r *Result) MinDimension() (rubric.Dimension, float64) {
	var (
		minDim   rubric.Dimension
		minScore = math.Inf(1)
	)
	for _, d := range r.DimensionOrder {
		if s := r.DimensionScores[d].Score; s < minScore {
			minDim, minScore = d, s
		}
	}
	return minDim, minScore
}

// ForDimensions returns the missing components owned by any of dims, in
// evaluation order.
func (r *Result) ForDimensions(dims ...rubric.Dimension) []MissingComponent {
	want := make(map[rubric.Dimension]bool, len(dims))
	for _, d := range dims {
		want[d] = true
	}
	var out []MissingComponent
	for _, mc := range r.MissingComponents {
		if want[mc.Dimension] {
			out = append(out, mc)
		}
	}
	return out
}

// Clone returns a deep copy.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	out.DimensionOrder = append([]rubric.Dimension(nil), r.DimensionOrder...)
	out.DimensionScores = make(map[rubric.Dimension]DimensionScore, len(r.DimensionScores))
	for d, ds := range r.DimensionScores {
		ds.Details = append([]string(nil), ds.Details...)
		out.DimensionScores[d] = ds
	}
	out.Blockers = append([]string(nil), r.Blockers...)
	out.MissingComponents = append([]MissingComponent(nil), r.MissingComponents...)
	out.Suggestions = append([]MissingComponent(nil), r.Suggestions...)
	return &out
}

// gap is a shortfall before its priority is known.
type gap struct {
	category    string
	description string
}

// finding is the raw output of one dimension check.
type finding struct {
	score   float64
	details []string
	gaps    []gap
}

// Evaluator holds an immutable rubric and run thresholds.
type Evaluator struct {
	rubric     rubric.Rubric
	thresholds Thresholds
	checks     map[rubric.Dimension]func(*schema.Schema) finding
}

// New validates the rubric and thresholds and returns an Evaluator.
func New(r rubric.Rubric, th Thresholds) (*Evaluator, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if th.TargetScore < 0 || th.TargetScore > 10 || th.DimensionFloor < 0 || th.DimensionFloor > 10 {
		return nil, fmt.Errorf("%w: thresholds must lie in [0, 10]", rubric.ErrInvalid)
	}
	e := &Evaluator{rubric: r, thresholds: th}
	e.checks = map[rubric.Dimension]func(*schema.Schema) finding{
		rubric.DomainCompleteness:     func(s *schema.Schema) finding { return coverage(s, r.Domain) },
		rubric.CrossDomainSupport:     func(s *schema.Schema) finding { return coverage(s, r.CrossDomain) },
		rubric.RetrievalEffectiveness: e.retrieval,
		rubric.Performance:            e.performance,
		rubric.Scalability:            e.scalability,
		rubric.DataQuality:            e.dataQuality,
		rubric.Usability:              e.usability,
		rubric.Extensibility:          e.extensibility,
	}
	return e, nil
}

// Rubric returns the evaluator's rubric.
func (e *Evaluator) Rubric() rubric.Rubric { return e.rubric }

// Thresholds returns the evaluator's readiness thresholds.
func (e *Evaluator) Thresholds() Thresholds { return e.thresholds }

// Evaluate scores s. A nil schema is scored as empty.
func (e *Evaluator) Evaluate(s *schema.Schema) *Result {
	if s == nil {
		s = &schema.Schema{}
	}
	res := &Result{
		SchemaVersion:   s.Version,
		DimensionScores: make(map[rubric.Dimension]DimensionScore, len(e.rubric.Dimensions)),
		TargetScore:     e.thresholds.TargetScore,
		DimensionFloor:  e.thresholds.DimensionFloor,
	}

	var overall float64
	for _, dw := range e.rubric.Dimensions {
		f := e.checks[dw.Dimension](s)
		score := round2(clamp(f.score))
		res.DimensionOrder = append(res.DimensionOrder, dw.Dimension)
		res.DimensionScores[dw.Dimension] = DimensionScore{Score: score, Weight: dw.Weight, Details: f.details}
		overall += score * dw.Weight

		prio := e.priority(score, dw.Weight)
		for _, g := range f.gaps {
			res.MissingComponents = append(res.MissingComponents, MissingComponent{
				Category:    g.category,
				Description: g.description,
				Dimension:   dw.Dimension,
				Priority:    prio,
			})
		}
	}
	res.OverallScore = round2(overall)

	if res.OverallScore < e.thresholds.TargetScore {
		res.Blockers = append(res.Blockers, fmt.Sprintf("overall score %.2f below target %.2f",
			res.OverallScore, e.thresholds.TargetScore))
	}
	floorsMet := true
	for _, d := range res.DimensionOrder {
		if sc := res.DimensionScores[d].Score; sc < e.thresholds.DimensionFloor {
			floorsMet = false
			res.Blockers = append(res.Blockers, fmt.Sprintf("dimension %s score %.2f below floor %.2f",
				d, sc, e.thresholds.DimensionFloor))
		}
	}
	res.ReadyForProduction = res.OverallScore >= e.thresholds.TargetScore && floorsMet
	res.Suggestions = rank(res.MissingComponents, res.DimensionScores)
	return res
}

func (e *Evaluator) priority(score, weight float64) Priority {
	switch {
	case score < e.thresholds.DimensionFloor:
		return PriorityHigh
	case weight >= e.rubric.MediumPriorityWeight:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// rank orders suggestions by priority desc, then owning dimension score asc,
// then evaluation order.
func rank(missing []MissingComponent, scores map[rubric.Dimension]DimensionScore) []MissingComponent {
	out := append([]MissingComponent(nil), missing...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return scores[out[i].Dimension].Score < scores[out[j].Dimension].Score
	})
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 10:
		return 10
	default:
		return v
	}
}

// ratio returns n/d, or 0 when d is zero.
func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// saturate returns min(n/target, 1).
func saturate(n, target int) float64 {
	return math.Min(ratio(n, target), 1)
}
