package generation

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nidhogg/schema-evolver/internal/evaluator"
	"github.com/nidhogg/schema-evolver/internal/provider"
	"github.com/nidhogg/schema-evolver/internal/rubric"
	"github.com/nidhogg/schema-evolver/internal/schema"
	"go.uber.org/zap"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		Jitter:      0.5,
		MaxDelay:    5 * time.Millisecond,
		Timeout:     time.Second,
	}
}

func TestRetryingPortRecovers(t *testing.T) {
	var calls int32
	inner := PortFunc(func(ctx context.Context, req *Request) (*schema.Fragment, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, ErrMalformed
		}
		return &schema.Fragment{Nodes: []schema.Node{{Label: "Document"}}}, nil
	})
	p := NewRetryingPort(inner, fastPolicy(3), zap.NewNop())

	frag, err := p.Generate(context.Background(), &Request{Brief: schema.BriefDomain, Iteration: 1})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(frag.Nodes) != 1 || calls != 3 {
		t.Errorf("nodes=%d calls=%d", len(frag.Nodes), calls)
	}
}

func TestRetryingPortGivesUpAtAttemptCap(t *testing.T) {
	var calls int32
	inner := PortFunc(func(ctx context.Context, req *Request) (*schema.Fragment, error) {
		atomic.AddInt32(&calls, 1)
		return nil, ErrTimeout
	})
	p := NewRetryingPort(inner, fastPolicy(3), zap.NewNop())

	_, err := p.Generate(context.Background(), &Request{Brief: schema.BriefPerformance, Iteration: 2})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryingPortAttemptDeadlineIsTimeout(t *testing.T) {
	inner := PortFunc(func(ctx context.Context, req *Request) (*schema.Fragment, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	policy := fastPolicy(2)
	policy.Timeout = 10 * time.Millisecond
	p := NewRetryingPort(inner, policy, zap.NewNop())

	_, err := p.Generate(context.Background(), &Request{Brief: schema.BriefRetrieval, Iteration: 1})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestRetryingPortStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	inner := PortFunc(func(_ context.Context, req *Request) (*schema.Fragment, error) {
		atomic.AddInt32(&calls, 1)
		cancel()
		return nil, ErrMalformed
	})
	p := NewRetryingPort(inner, fastPolicy(5), zap.NewNop())

	_, err := p.Generate(ctx, &Request{Brief: schema.BriefQuality, Iteration: 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryingPortNoProviderIsPermanent(t *testing.T) {
	var calls int32
	inner := PortFunc(func(ctx context.Context, req *Request) (*schema.Fragment, error) {
		atomic.AddInt32(&calls, 1)
		return nil, provider.ErrNoProvider
	})
	p := NewRetryingPort(inner, fastPolicy(3), zap.NewNop())
	if _, err := p.Generate(context.Background(), &Request{Brief: schema.BriefDomain}); !errors.Is(err, provider.ErrNoProvider) {
		t.Fatalf("got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestParseFragment(t *testing.T) {
	raw := "Here you go:\n```json\n{\"nodes\":[{\"label\":\"Chunk\",\"properties\":{\"chunkIndex\":\"int\"}}]}\n```"
	frag, err := ParseFragment(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(frag.Nodes) != 1 || frag.Nodes[0].Label != "Chunk" {
		t.Errorf("frag = %+v", frag)
	}

	for _, bad := range []string{
		"no json here",
		`{"nodes": [`,
		`{"indexes":[{"kind":"vector","node_label":"Chunk","properties":["embedding"]}]}`,
	} {
		if _, err := ParseFragment(bad); !errors.Is(err, ErrMalformed) {
			t.Errorf("ParseFragment(%q) = %v, want ErrMalformed", bad, err)
		}
	}
}

type fakeChatter struct {
	reply   string
	err     error
	route   string
	request *provider.ChatRequest
}

func (f *fakeChatter) Route(_ context.Context, route string, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	f.route, f.request = route, req
	if f.err != nil {
		return nil, f.err
	}
	return &provider.ChatResponse{Content: f.reply}, nil
}

func TestLLMPortPromptCarriesFeedback(t *testing.T) {
	chat := &fakeChatter{reply: `{"constraints":[{"kind":"uniqueness","node_label":"Document","property":"name"}]}`}
	p := NewLLMPort(chat, "gpt-x", 2048, zap.NewNop())

	req := &Request{
		Brief:       schema.BriefPerformance,
		Iteration:   2,
		Domain:      "technical documentation",
		PriorSchema: &schema.Schema{Version: "v1", Iteration: 1, Nodes: []schema.Node{{Label: "Document"}}},
		MissingComponents: []evaluator.MissingComponent{{
			Description: "Fulltext indexes (only 0/2)", Dimension: rubric.Performance, Priority: evaluator.PriorityHigh,
		}},
	}
	frag, err := p.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(frag.Constraints) != 1 {
		t.Errorf("frag = %+v", frag)
	}
	if chat.route != "performance" || !chat.request.JSONOnly || chat.request.MaxTokens != 2048 {
		t.Errorf("route=%q req=%+v", chat.route, chat.request)
	}
	user := chat.request.Messages[1].Content
	for _, want := range []string{"technical documentation", `"version":"v1"`, "[HIGH] Fulltext indexes (only 0/2)"} {
		if !strings.Contains(user, want) {
			t.Errorf("prompt missing %q:\n%s", want, user)
		}
	}
}

func TestLLMPortMapsDeadline(t *testing.T) {
	chat := &fakeChatter{err: context.DeadlineExceeded}
	p := NewLLMPort(chat, "m", 0, zap.NewNop())
	if _, err := p.Generate(context.Background(), &Request{Brief: schema.BriefDomain}); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestReplayPort(t *testing.T) {
	fx := Fixture{Rounds: []map[schema.BriefType]ReplayResponse{
		{
			schema.BriefDomain:      {Fragment: &schema.Fragment{Nodes: []schema.Node{{Label: "Document"}}}},
			schema.BriefPerformance: {Error: "timeout"},
		},
		{
			schema.BriefDomain:    {Fragment: &schema.Fragment{Nodes: []schema.Node{{Label: "Section"}}}},
			schema.BriefRetrieval: {Error: "malformed"},
		},
	}}
	dir := t.TempDir()
	path := filepath.Join(dir, "fixture.json")
	data, _ := json.Marshal(fx)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	p := NewReplayPort(loaded, zap.NewNop())
	ctx := context.Background()

	f, err := p.Generate(ctx, &Request{Brief: schema.BriefDomain, Iteration: 1})
	if err != nil || f.Nodes[0].Label != "Document" {
		t.Fatalf("round 1 domain: %v %+v", err, f)
	}
	if _, err := p.Generate(ctx, &Request{Brief: schema.BriefPerformance, Iteration: 1}); !errors.Is(err, ErrTimeout) {
		t.Errorf("round 1 performance: %v", err)
	}
	if f, err := p.Generate(ctx, &Request{Brief: schema.BriefQuality, Iteration: 1}); err != nil || !f.IsEmpty() {
		t.Errorf("absent brief should be empty: %v %+v", err, f)
	}
	if _, err := p.Generate(ctx, &Request{Brief: schema.BriefRetrieval, Iteration: 2}); !errors.Is(err, ErrMalformed) {
		t.Errorf("round 2 retrieval: %v", err)
	}
	// past the end repeats the last round
	f, err = p.Generate(ctx, &Request{Brief: schema.BriefDomain, Iteration: 9})
	if err != nil || f.Nodes[0].Label != "Section" {
		t.Errorf("round 9 domain: %v %+v", err, f)
	}
}

func TestLoadFixtureRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	if err := os.WriteFile(path, []byte(`{"rounds":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFixture(path); err == nil {
		t.Fatal("expected error for empty fixture")
	}
}
