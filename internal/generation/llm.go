package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nidhogg/schema-evolver/internal/provider"
	"github.com/nidhogg/schema-evolver/internal/schema"
	"go.uber.org/zap"
)

// Chatter is the slice of provider.Router the LLM port needs.
type Chatter interface {
	Route(ctx context.Context, route string, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// LLMPort asks a chat model for fragments. Each brief is its own route so
// briefs can be bound to different providers.
type LLMPort struct {
	chat      Chatter
	model     string
	maxTokens int
	logger    *zap.Logger
}

// NewLLMPort creates a port backed by a provider router.
func NewLLMPort(chat Chatter, model string, maxTokens int, logger *zap.Logger) *LLMPort {
	return &LLMPort{chat: chat, model: model, maxTokens: maxTokens, logger: logger}
}

func (p *LLMPort) Generate(ctx context.Context, req *Request) (*schema.Fragment, error) {
	prompt, err := buildPrompt(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.chat.Route(ctx, string(req.Brief), &provider.ChatRequest{
		Model: p.model,
		Messages: []provider.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens: p.maxTokens,
		JSONOnly:  true,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: brief %s: %v", ErrTimeout, req.Brief, err)
		}
		return nil, fmt.Errorf("generate brief %s: %w", req.Brief, err)
	}

	frag, err := ParseFragment(resp.Content)
	if err != nil {
		p.logger.Debug("unparseable reply",
			zap.String("brief", string(req.Brief)),
			zap.Int("iteration", req.Iteration),
			zap.Int("length", len(resp.Content)))
		return nil, fmt.Errorf("brief %s: %w", req.Brief, err)
	}
	return frag, nil
}

// ParseFragment decodes and validates a fragment from raw model output.
func ParseFragment(raw string) (*schema.Fragment, error) {
	body, ok := extractJSON(raw)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrMalformed)
	}
	var frag schema.Fragment
	if err := json.Unmarshal([]byte(body), &frag); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := schema.ValidateFragment(&frag); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &frag, nil
}
