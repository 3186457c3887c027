package implementer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/nidhogg/schema-evolver/internal/schema"
	"go.uber.org/zap"
)

// Neo4jEngine provisions constraints and indexes in Neo4j 5.
type Neo4jEngine struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

// NewNeo4jEngine creates a driver for uri. database may be empty for the
// server default.
func NewNeo4jEngine(uri, user, password, database string, logger *zap.Logger) (*Neo4jEngine, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Neo4jEngine{driver: driver, database: database, logger: logger}, nil
}

// Close shuts down the driver.
func (e *Neo4jEngine) Close(ctx context.Context) error {
	return e.driver.Close(ctx)
}

func (e *Neo4jEngine) Name() string { return "neo4j" }

// Ping verifies the Neo4j connection.
func (e *Neo4jEngine) Ping(ctx context.Context) error {
	return e.driver.VerifyConnectivity(ctx)
}

func (e *Neo4jEngine) CreateConstraint(ctx context.Context, name string, c schema.Constraint) (string, error) {
	stmt, err := ConstraintStatement(name, c)
	if err != nil {
		return "", err
	}
	return stmt, e.exec(ctx, stmt)
}

func (e *Neo4jEngine) CreateIndex(ctx context.Context, name string, idx schema.Index) (string, error) {
	stmt, err := IndexStatement(name, idx)
	if err != nil {
		return "", err
	}
	return stmt, e.exec(ctx, stmt)
}

// Validate lists constraint and index names and returns the expected ones
// that are absent, sorted.
func (e *Neo4jEngine) Validate(ctx context.Context, expected []string) ([]string, error) {
	session := e.session(ctx)
	defer session.Close(ctx)

	existing := make(map[string]bool)
	for _, q := range []string{"SHOW CONSTRAINTS YIELD name", "SHOW INDEXES YIELD name"} {
		result, err := session.Run(ctx, q, nil)
		if err != nil {
			return nil, fmt.Errorf("list schema items: %w", err)
		}
		for result.Next(ctx) {
			if v, ok := result.Record().Get("name"); ok {
				if name, ok := v.(string); ok {
					existing[name] = true
				}
			}
		}
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("list schema items: %w", err)
		}
	}

	var missing []string
	for _, name := range expected {
		if !existing[name] {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing, nil
}

func (e *Neo4jEngine) session(ctx context.Context) neo4j.SessionWithContext {
	return e.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: e.database})
}

func (e *Neo4jEngine) exec(ctx context.Context, stmt string) error {
	session := e.session(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, stmt, nil)
	if err == nil {
		_, err = result.Consume(ctx)
	}
	if err != nil {
		return classify(err)
	}
	return nil
}

// classify maps server errors for features the edition or version lacks
// onto ErrUnsupported.
func classify(err error) error {
	var nerr *neo4j.Neo4jError
	if errors.As(err, &nerr) {
		msg := strings.ToLower(nerr.Msg)
		if strings.Contains(msg, "enterprise") ||
			strings.Contains(msg, "not supported") ||
			strings.Contains(msg, "unsupported") ||
			strings.Contains(nerr.Code, "ProcedureNotFound") {
			return fmt.Errorf("%w: %s", ErrUnsupported, nerr.Msg)
		}
	}
	if neo4j.IsConnectivityError(err) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return err
}

// ConstraintStatement renders the Cypher for a constraint.
func ConstraintStatement(name string, c schema.Constraint) (string, error) {
	var require string
	switch c.Kind {
	case schema.ConstraintUniqueness:
		require = "IS UNIQUE"
	case schema.ConstraintExistence:
		require = "IS NOT NULL"
	case schema.ConstraintNodeKey:
		require = "IS NODE KEY"
	default:
		return "", fmt.Errorf("%w: constraint kind %q", ErrUnsupported, c.Kind)
	}
	return fmt.Sprintf("CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.%s %s",
		quote(name), quote(c.NodeLabel), quote(c.Property), require), nil
}

// IndexStatement renders the Cypher for an index.
func IndexStatement(name string, idx schema.Index) (string, error) {
	if len(idx.Properties) == 0 {
		return "", fmt.Errorf("index %s has no properties", name)
	}
	props := make([]string, len(idx.Properties))
	for i, p := range idx.Properties {
		props[i] = "n." + quote(p)
	}
	head := fmt.Sprintf("IF NOT EXISTS FOR (n:%s)", quote(idx.NodeLabel))

	switch idx.Kind {
	case schema.IndexSingle, schema.IndexComposite:
		return fmt.Sprintf("CREATE INDEX %s %s ON (%s)", quote(name), head, strings.Join(props, ", ")), nil
	case schema.IndexFulltext:
		return fmt.Sprintf("CREATE FULLTEXT INDEX %s %s ON EACH [%s]", quote(name), head, strings.Join(props, ", ")), nil
	case schema.IndexVector:
		if len(props) != 1 {
			return "", fmt.Errorf("%w: vector index over %d properties", ErrUnsupported, len(props))
		}
		similarity := idx.Similarity
		if similarity == "" {
			similarity = schema.SimilarityCosine
		}
		if similarity != schema.SimilarityCosine && similarity != schema.SimilarityEuclidean {
			return "", fmt.Errorf("%w: similarity %q", ErrUnsupported, similarity)
		}
		return fmt.Sprintf("CREATE VECTOR INDEX %s %s ON %s OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: '%s'}}",
			quote(name), head, props[0], idx.Dimension, similarity), nil
	default:
		return "", fmt.Errorf("%w: index kind %q", ErrUnsupported, idx.Kind)
	}
}

func quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}
