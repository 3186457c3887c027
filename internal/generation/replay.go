package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/nidhogg/schema-evolver/internal/schema"
	"go.uber.org/zap"
)

// ReplayResponse is one recorded brief outcome. Error is "timeout",
// "malformed" or empty.
type ReplayResponse struct {
	Fragment *schema.Fragment `json:"fragment,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Fixture is a recorded sequence of per-round brief responses.
type Fixture struct {
	Domain string                                `json:"domain,omitempty"`
	Rounds []map[schema.BriefType]ReplayResponse `json:"rounds"`
}

// ReplayPort serves fragments from a fixture. Rounds past the end of the
// fixture repeat the final round; a brief absent from a round yields an
// empty fragment.
type ReplayPort struct {
	fixture Fixture
	logger  *zap.Logger
}

// LoadFixture reads a fixture JSON file.
func LoadFixture(path string) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var fx Fixture
	if err := json.Unmarshal(data, &fx); err != nil {
		return Fixture{}, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if len(fx.Rounds) == 0 {
		return Fixture{}, fmt.Errorf("fixture %s has no rounds", path)
	}
	return fx, nil
}

// NewReplayPort creates a port over an in-memory fixture.
func NewReplayPort(fx Fixture, logger *zap.Logger) *ReplayPort {
	return &ReplayPort{fixture: fx, logger: logger}
}

func (p *ReplayPort) Generate(ctx context.Context, req *Request) (*schema.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(p.fixture.Rounds) == 0 {
		return &schema.Fragment{}, nil
	}
	idx := req.Iteration - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.fixture.Rounds) {
		idx = len(p.fixture.Rounds) - 1
	}
	resp, ok := p.fixture.Rounds[idx][req.Brief]
	if !ok {
		return &schema.Fragment{}, nil
	}

	switch resp.Error {
	case "":
	case "timeout":
		return nil, fmt.Errorf("%w: replayed for brief %s", ErrTimeout, req.Brief)
	case "malformed":
		return nil, fmt.Errorf("%w: replayed for brief %s", ErrMalformed, req.Brief)
	default:
		return nil, fmt.Errorf("replayed failure for brief %s: %s", req.Brief, resp.Error)
	}

	if resp.Fragment == nil {
		return &schema.Fragment{}, nil
	}
	if err := schema.ValidateFragment(resp.Fragment); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	p.logger.Debug("replayed fragment",
		zap.String("brief", string(req.Brief)), zap.Int("round", idx+1))
	return resp.Fragment, nil
}
