package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nidhogg/schema-evolver/internal/metrics"
	"github.com/nidhogg/schema-evolver/internal/provider"
	"github.com/nidhogg/schema-evolver/internal/schema"
	"go.uber.org/zap"
)

// RetryPolicy bounds the attempts made for a single brief.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	Jitter      float64 // randomization factor in [0, 1]
	MaxDelay    time.Duration
	Timeout     time.Duration // per attempt
}

// DefaultRetryPolicy is base 1s, factor 2, ±50% jitter, three attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		Jitter:      0.5,
		MaxDelay:    30 * time.Second,
		Timeout:     60 * time.Second,
	}
}

// RetryingPort retries timeouts and malformed replies with exponential
// backoff. Each attempt gets its own deadline derived from the caller's
// context, so one brief timing out never cancels another.
type RetryingPort struct {
	next   Port
	policy RetryPolicy
	logger *zap.Logger
}

// NewRetryingPort wraps next with the given policy.
func NewRetryingPort(next Port, policy RetryPolicy, logger *zap.Logger) *RetryingPort {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &RetryingPort{next: next, policy: policy, logger: logger}
}

func (p *RetryingPort) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.policy.BaseDelay
	b.Multiplier = p.policy.Multiplier
	b.RandomizationFactor = p.policy.Jitter
	if p.policy.MaxDelay > 0 {
		b.MaxInterval = p.policy.MaxDelay
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.policy.MaxAttempts-1)), ctx)
}

func (p *RetryingPort) Generate(ctx context.Context, req *Request) (*schema.Fragment, error) {
	brief := string(req.Brief)
	attempt := 0
	var frag *schema.Fragment

	op := func() error {
		attempt++
		actx, cancel := ctx, context.CancelFunc(func() {})
		if p.policy.Timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, p.policy.Timeout)
		}
		defer cancel()

		start := time.Now()
		f, err := p.next.Generate(actx, req)
		metrics.GenerationDuration.WithLabelValues(brief).Observe(time.Since(start).Seconds())

		switch {
		case err == nil:
			metrics.GenerationAttempts.WithLabelValues(brief, "ok").Inc()
			frag = f
			return nil
		case ctx.Err() != nil:
			metrics.GenerationAttempts.WithLabelValues(brief, "canceled").Inc()
			return backoff.Permanent(ctx.Err())
		case errors.Is(actx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeout):
			err = fmt.Errorf("%w: %v", ErrTimeout, err)
		case errors.Is(err, provider.ErrNoProvider):
			metrics.GenerationAttempts.WithLabelValues(brief, "error").Inc()
			return backoff.Permanent(err)
		}
		metrics.GenerationAttempts.WithLabelValues(brief, outcome(err)).Inc()
		return err
	}

	notify := func(err error, wait time.Duration) {
		p.logger.Warn("generation attempt failed, retrying",
			zap.String("brief", brief),
			zap.Int("iteration", req.Iteration),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(op, p.newBackOff(ctx), notify); err != nil {
		p.logger.Error("brief gave up",
			zap.String("brief", brief),
			zap.Int("iteration", req.Iteration),
			zap.Int("attempts", attempt),
			zap.Error(err))
		return nil, fmt.Errorf("brief %s failed after %d attempts: %w", brief, attempt, err)
	}
	return frag, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "error"
	}
}
