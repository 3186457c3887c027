// Package notify announces run outcomes on chat platforms.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nidhogg/schema-evolver/internal/orchestrator"
	"go.uber.org/zap"
)

// Channel posts plain text to one chat destination.
type Channel interface {
	Platform() string
	Post(ctx context.Context, text string) error
}

// Announcer forwards run events to chat channels. It implements
// orchestrator.Publisher.
type Announcer struct {
	channels   []Channel
	iterations bool
	logger     *zap.Logger
}

// NewAnnouncer creates an Announcer. With iterations set, every completed
// round is announced as well as the run outcome.
func NewAnnouncer(iterations bool, logger *zap.Logger, channels ...Channel) *Announcer {
	return &Announcer{channels: channels, iterations: iterations, logger: logger}
}

// Len returns the number of configured channels.
func (a *Announcer) Len() int { return len(a.channels) }

// Publish posts ev to every channel. Events that are not announced are
// ignored. Failures on one channel do not stop the others.
func (a *Announcer) Publish(ctx context.Context, ev *orchestrator.Event) error {
	switch ev.Kind {
	case orchestrator.EventRunFinished:
	case orchestrator.EventIterationCompleted:
		if !a.iterations {
			return nil
		}
	default:
		return nil
	}

	text := Format(ev)
	var errs []error
	for _, ch := range a.channels {
		if err := ch.Post(ctx, text); err != nil {
			a.logger.Warn("announce failed",
				zap.String("platform", ch.Platform()),
				zap.String("run_id", ev.RunID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", ch.Platform(), err))
		}
	}
	return errors.Join(errs...)
}

// Format renders an event as a one-line chat message.
func Format(ev *orchestrator.Event) string {
	var b strings.Builder
	switch ev.Kind {
	case orchestrator.EventIterationCompleted:
		fmt.Fprintf(&b, "Run %s round %d: schema %s scored %.2f", ev.RunID, ev.Iteration, ev.SchemaVersion, ev.OverallScore)
		if ev.Ready {
			b.WriteString(" (ready)")
		}
	case orchestrator.EventRunFinished:
		fmt.Fprintf(&b, "Run %s %s after %d rounds", ev.RunID, ev.Status, ev.Iteration)
		if ev.SchemaVersion != "" {
			fmt.Fprintf(&b, ", best schema %s at %.2f", ev.SchemaVersion, ev.OverallScore)
		}
		if ev.Message != "" {
			fmt.Fprintf(&b, ": %s", ev.Message)
		}
	default:
		fmt.Fprintf(&b, "Run %s %s", ev.RunID, ev.Kind)
	}
	return b.String()
}
