//go:build integration

package orchestrator

import (
	"context"
	"testing"
	"time"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

func TestEventBusRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}

	bus, err := NewEventBus(ctx, "redis://"+endpoint, zap.NewNop())
	if err != nil {
		t.Fatalf("event bus: %v", err)
	}
	defer bus.Close()

	o := newTestOrchestrator(&stubDesigner{}, []float64{7, 9.1}, 3)
	o.SetIDGenerator(func() string { return "run-1" })
	o.AddPublisher(bus)
	if _, err := o.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	var kinds []EventKind
	for ev := range bus.Subscribe(ctx, "run-1") {
		kinds = append(kinds, ev.Kind)
	}
	want := []EventKind{EventRunStarted, EventIterationCompleted, EventIterationCompleted, EventRunFinished}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, kinds[i], want[i])
		}
	}
}
