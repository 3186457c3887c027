//go:build integration

package implementer

import (
	"context"
	"testing"
	"time"

	"github.com/nidhogg/schema-evolver/internal/rubric"
	"github.com/nidhogg/schema-evolver/internal/rubric/rubrictest"
	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	"go.uber.org/zap"
)

func startNeo4j(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := tcneo4j.Run(ctx, "neo4j:5-community", tcneo4j.WithoutAuthentication())
	if err != nil {
		t.Fatalf("start neo4j: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })
	uri, err := container.BoltUrl(ctx)
	if err != nil {
		t.Fatalf("neo4j bolt url: %v", err)
	}
	return uri
}

func TestNeo4jImplementIsIdempotent(t *testing.T) {
	uri := startNeo4j(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	eng, err := NewNeo4jEngine(uri, "", "", "", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close(ctx)

	s := rubrictest.CompleteSchema(rubric.Default())
	im := New(eng, zap.NewNop())

	first, err := im.Implement(ctx, s)
	if err != nil {
		t.Fatalf("implement: %v", err)
	}
	if first.Count(StatusFailed) != 0 {
		t.Fatalf("failed items: %+v", first.Items)
	}
	if !first.Valid {
		t.Fatalf("missing after implement: %v (%s)", first.Missing, first.ValidationError)
	}

	second, err := im.Implement(ctx, s)
	if err != nil {
		t.Fatalf("second implement: %v", err)
	}
	if second.Count(StatusCreated) != first.Count(StatusCreated) || !second.Valid {
		t.Errorf("second run differs: %+v", second)
	}
}

func TestNeo4jCommunityRejectsNodeKey(t *testing.T) {
	uri := startNeo4j(t)
	ctx := context.Background()

	eng, err := NewNeo4jEngine(uri, "", "", "", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close(ctx)

	s := rubrictest.CompleteSchema(rubric.Default())
	s.Constraints = append(s.Constraints, s.Constraints[0])
	s.Constraints[len(s.Constraints)-1].Kind = "nodeKey"

	report, err := New(eng, zap.NewNop()).Implement(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if report.Count(StatusUnsupported) != 1 {
		t.Errorf("expected the node key constraint to be unsupported: %+v", report.Items)
	}
}
