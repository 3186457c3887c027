// Package generation defines the Generation Port, the narrow contract through
// which design briefs are turned into schema fragments, plus its adapters:
// an LLM-backed port, a fixture replay port and a retrying decorator.
package generation

import (
	"context"
	"errors"

	"github.com/nidhogg/schema-evolver/internal/evaluator"
	"github.com/nidhogg/schema-evolver/internal/schema"
)

var (
	// ErrTimeout means a generation call did not answer within its deadline.
	ErrTimeout = errors.New("generation timed out")
	// ErrMalformed means the response failed fragment parsing or validation.
	ErrMalformed = errors.New("generation returned a malformed fragment")
)

// Request is one design brief for one round.
type Request struct {
	Brief     schema.BriefType `json:"brief"`
	Iteration int              `json:"iteration"`
	Domain    string           `json:"domain"`
	// PriorSchema and MissingComponents are nil on the first round.
	PriorSchema       *schema.Schema               `json:"prior_schema,omitempty"`
	MissingComponents []evaluator.MissingComponent `json:"missing_components,omitempty"`
}

// Port produces a partial schema fragment for a brief.
type Port interface {
	Generate(ctx context.Context, req *Request) (*schema.Fragment, error)
}

// PortFunc adapts a function to Port.
type PortFunc func(ctx context.Context, req *Request) (*schema.Fragment, error)

func (f PortFunc) Generate(ctx context.Context, req *Request) (*schema.Fragment, error) {
	return f(ctx, req)
}
