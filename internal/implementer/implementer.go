// Package implementer applies an accepted schema to a graph storage engine
// and reports what exists afterwards.
package implementer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/nidhogg/schema-evolver/internal/metrics"
	"github.com/nidhogg/schema-evolver/internal/schema"
	"go.uber.org/zap"
)

var (
	// ErrUnsupported marks an item the engine cannot create, such as an
	// enterprise-only constraint. It is recorded per item.
	ErrUnsupported = errors.New("storage engine does not support item")
	// ErrUnreachable means the engine could not be contacted at all.
	ErrUnreachable = errors.New("storage engine unreachable")
)

// ItemKind is the category of a provisioned item.
type ItemKind string

const (
	KindConstraint       ItemKind = "constraint"
	KindIndex            ItemKind = "index"
	KindVectorCollection ItemKind = "vector_collection"
)

// ItemStatus is the outcome of provisioning one item.
type ItemStatus string

const (
	StatusCreated     ItemStatus = "created"
	StatusFailed      ItemStatus = "failed"
	StatusUnsupported ItemStatus = "unsupported"
)

// ItemResult records one create attempt.
type ItemResult struct {
	Kind      ItemKind   `json:"kind"`
	Name      string     `json:"name"`
	Statement string     `json:"statement,omitempty"`
	Status    ItemStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
}

// ValidationReport summarises an Implement call.
type ValidationReport struct {
	SchemaVersion   string       `json:"schema_version"`
	Engine          string       `json:"engine"`
	Items           []ItemResult `json:"items"`
	Expected        []string     `json:"expected"`
	Missing         []string     `json:"missing,omitempty"`
	ValidationError string       `json:"validation_error,omitempty"`
	Valid           bool         `json:"valid"`
}

// Count returns the number of items with the given status.
func (r *ValidationReport) Count(status ItemStatus) int {
	n := 0
	for _, it := range r.Items {
		if it.Status == status {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (r *ValidationReport) Clone() *ValidationReport {
	if r == nil {
		return nil
	}
	c := *r
	c.Items = append([]ItemResult(nil), r.Items...)
	c.Expected = append([]string(nil), r.Expected...)
	c.Missing = append([]string(nil), r.Missing...)
	return &c
}

// Engine is the minimal storage-engine adapter. Create calls must be
// idempotent and return the statement they issued.
type Engine interface {
	Name() string
	Ping(ctx context.Context) error
	CreateConstraint(ctx context.Context, name string, c schema.Constraint) (string, error)
	CreateIndex(ctx context.Context, name string, idx schema.Index) (string, error)
	// Validate returns which of the expected item names do not exist.
	Validate(ctx context.Context, expected []string) ([]string, error)
}

// VectorProvisioner creates an external vector collection for a vector
// index. It reports whether the collection was newly created.
type VectorProvisioner interface {
	EnsureCollection(ctx context.Context, name string, dimension uint64, similarity string) (bool, error)
}

// Implementer drives an Engine over a schema.
type Implementer struct {
	engine  Engine
	vectors VectorProvisioner
	logger  *zap.Logger
}

// New creates an Implementer over engine.
func New(engine Engine, logger *zap.Logger) *Implementer {
	return &Implementer{engine: engine, logger: logger}
}

// SetVectorProvisioner enables collection provisioning for vector indexes.
func (im *Implementer) SetVectorProvisioner(v VectorProvisioner) {
	im.vectors = v
}

// Implement creates every constraint, then every index, in schema order.
// Item failures are recorded and never stop the remaining items. Losing the
// engine stops the pass: the partial report comes back with an error
// wrapping ErrUnreachable.
func (im *Implementer) Implement(ctx context.Context, s *schema.Schema) (*ValidationReport, error) {
	if err := im.engine.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, im.engine.Name(), err)
	}

	report := &ValidationReport{SchemaVersion: s.Version, Engine: im.engine.Name()}
	for _, c := range s.Constraints {
		name := ConstraintName(c)
		stmt, err := im.engine.CreateConstraint(ctx, name, c)
		im.record(report, KindConstraint, name, stmt, err)
		if errors.Is(err, ErrUnreachable) {
			return im.lost(report, name, err)
		}
	}
	for _, idx := range s.Indexes {
		name := IndexName(idx)
		stmt, err := im.engine.CreateIndex(ctx, name, idx)
		im.record(report, KindIndex, name, stmt, err)
		if errors.Is(err, ErrUnreachable) {
			return im.lost(report, name, err)
		}
	}
	if im.vectors != nil {
		im.provisionCollections(ctx, report, s)
	}

	missing, err := im.engine.Validate(ctx, report.Expected)
	if err != nil {
		report.ValidationError = err.Error()
		im.logger.Warn("validate storage engine", zap.String("engine", report.Engine), zap.Error(err))
	}
	report.Missing = missing
	report.Valid = err == nil && len(missing) == 0 && report.Count(StatusFailed) == 0

	im.logger.Info("schema implemented",
		zap.String("version", s.Version),
		zap.String("engine", report.Engine),
		zap.Int("created", report.Count(StatusCreated)),
		zap.Int("failed", report.Count(StatusFailed)),
		zap.Int("unsupported", report.Count(StatusUnsupported)),
		zap.Int("missing", len(missing)),
		zap.Bool("valid", report.Valid))
	return report, nil
}

func (im *Implementer) lost(report *ValidationReport, item string, err error) (*ValidationReport, error) {
	im.logger.Error("storage engine lost mid-implementation",
		zap.String("engine", report.Engine),
		zap.String("item", item),
		zap.Int("attempted", len(report.Items)),
		zap.Error(err))
	return report, fmt.Errorf("implement %s on %s: %w", report.SchemaVersion, report.Engine, err)
}

func (im *Implementer) provisionCollections(ctx context.Context, report *ValidationReport, s *schema.Schema) {
	for _, idx := range s.IndexesOfKind(schema.IndexVector) {
		name := CollectionName(idx)
		dim := idx.Dimension
		if dim <= 0 {
			dim = s.RetrievalConfig.EmbeddingDimension
		}
		if dim <= 0 {
			im.record(report, KindVectorCollection, name, "", fmt.Errorf("%w: no vector dimension", ErrUnsupported))
			continue
		}
		_, err := im.vectors.EnsureCollection(ctx, name, uint64(dim), idx.Similarity)
		res := ItemResult{Kind: KindVectorCollection, Name: name, Status: StatusCreated}
		if err != nil {
			res.Status, res.Error = StatusFailed, err.Error()
		}
		im.append(report, res, err)
	}
}

func (im *Implementer) record(report *ValidationReport, kind ItemKind, name, stmt string, err error) {
	res := ItemResult{Kind: kind, Name: name, Statement: stmt, Status: StatusCreated}
	switch {
	case err == nil:
		if kind != KindVectorCollection {
			report.Expected = append(report.Expected, name)
		}
	case errors.Is(err, ErrUnsupported):
		res.Status, res.Error = StatusUnsupported, err.Error()
	default:
		res.Status, res.Error = StatusFailed, err.Error()
	}
	im.append(report, res, err)
}

func (im *Implementer) append(report *ValidationReport, res ItemResult, err error) {
	report.Items = append(report.Items, res)
	metrics.ImplementedItems.WithLabelValues(string(res.Kind), string(res.Status)).Inc()
	if err != nil {
		im.logger.Warn("item not created",
			zap.String("kind", string(res.Kind)),
			zap.String("name", res.Name),
			zap.String("status", string(res.Status)),
			zap.Error(err))
		return
	}
	im.logger.Debug("item created", zap.String("kind", string(res.Kind)), zap.String("name", res.Name))
}

// ConstraintName returns the deterministic engine name of a constraint.
func ConstraintName(c schema.Constraint) string {
	return joinSnake(string(c.Kind), c.NodeLabel, c.Property)
}

// IndexName returns the deterministic engine name of an index.
func IndexName(idx schema.Index) string {
	return joinSnake(append([]string{string(idx.Kind), idx.NodeLabel}, idx.Properties...)...)
}

// CollectionName returns the vector collection name for a vector index.
func CollectionName(idx schema.Index) string {
	return joinSnake(append([]string{idx.NodeLabel}, idx.Properties...)...)
}

func joinSnake(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := snake(p); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "_")
}

// snake lower-cases an identifier, splitting camel humps and replacing any
// other character with an underscore.
func snake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsLower(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
