package main

import (
	"context"
	"fmt"

	"github.com/nidhogg/schema-evolver/internal/config"
	"github.com/nidhogg/schema-evolver/internal/designer"
	"github.com/nidhogg/schema-evolver/internal/evaluator"
	"github.com/nidhogg/schema-evolver/internal/generation"
	"github.com/nidhogg/schema-evolver/internal/implementer"
	"github.com/nidhogg/schema-evolver/internal/notify"
	"github.com/nidhogg/schema-evolver/internal/provider"
	"github.com/nidhogg/schema-evolver/internal/rubric"
	"github.com/nidhogg/schema-evolver/internal/schema"
	"github.com/nidhogg/schema-evolver/internal/vectorstore"
	"go.uber.org/zap"
)

func loadRubric(cfg *config.Config) (rubric.Rubric, error) {
	if cfg.RubricPath == "" {
		r := rubric.Default()
		return r, r.Validate()
	}
	return rubric.Load(cfg.RubricPath)
}

func newEvaluator(cfg *config.Config) (*evaluator.Evaluator, error) {
	r, err := loadRubric(cfg)
	if err != nil {
		return nil, err
	}
	return evaluator.New(r, evaluator.Thresholds{
		TargetScore:    cfg.Run.TargetScore,
		DimensionFloor: cfg.Run.DimensionFloor,
	})
}

func newRouter(cfg *config.Config, logger *zap.Logger) (*provider.Router, error) {
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		p, err := provider.New(pc.Provider(), logger)
		if err != nil {
			return nil, err
		}
		router.Register(p)
	}
	for _, b := range schema.Briefs {
		route := string(b)
		if id, ok := cfg.Generation.Routes[route]; ok {
			router.Bind(route, id)
		}
		if len(cfg.Generation.Fallbacks) > 0 {
			router.SetFallbacks(route, cfg.Generation.Fallbacks)
		}
	}
	return router, nil
}

// newPort builds the fragment source with retries applied.
func newPort(cfg *config.Config, logger *zap.Logger) (generation.Port, error) {
	var port generation.Port
	switch cfg.Generation.Mode {
	case config.ModeReplay:
		fx, err := generation.LoadFixture(cfg.Generation.Fixture)
		if err != nil {
			return nil, err
		}
		port = generation.NewReplayPort(fx, logger)
	default:
		router, err := newRouter(cfg, logger)
		if err != nil {
			return nil, err
		}
		port = generation.NewLLMPort(router, cfg.Generation.Model, cfg.Generation.MaxTokens, logger)
	}
	return generation.NewRetryingPort(port, cfg.Generation.RetryPolicy(), logger), nil
}

func newDesigner(cfg *config.Config, logger *zap.Logger) (*designer.Designer, error) {
	port, err := newPort(cfg, logger)
	if err != nil {
		return nil, err
	}
	return designer.New(port, cfg.Run.Domain, cfg.Generation.Concurrency, logger), nil
}

// newImplementer connects the storage engine and, when configured, the
// vector collection provisioner. The returned func releases both.
func newImplementer(cfg *config.Config, logger *zap.Logger) (*implementer.Implementer, func(), error) {
	n := cfg.Database.Neo4j
	if n.URI == "" {
		return nil, nil, fmt.Errorf("database.neo4j.uri is required to implement a schema")
	}
	engine, err := implementer.NewNeo4jEngine(n.URI, n.User, n.Password, n.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	im := implementer.New(engine, logger)
	closers := []func(){func() { _ = engine.Close(context.Background()) }}

	if q := cfg.Database.Qdrant; q.Host != "" {
		vc, err := vectorstore.NewClient(vectorstore.QdrantConfig{Host: q.Host, Port: q.Port})
		if err != nil {
			logger.Warn("qdrant unavailable, vector collections will not be provisioned", zap.Error(err))
		} else {
			im.SetVectorProvisioner(vc)
			closers = append(closers, func() { _ = vc.Close() })
		}
	}
	return im, func() {
		for _, c := range closers {
			c()
		}
	}, nil
}

func newAnnouncer(cfg *config.Config, logger *zap.Logger) (*notify.Announcer, error) {
	var channels []notify.Channel
	if s := cfg.Notify.Slack; s.Enabled {
		channels = append(channels, notify.NewSlackChannel(s.BotToken, s.Channel, s.APIURL, logger))
	}
	if d := cfg.Notify.Discord; d.Enabled {
		ch, err := notify.NewDiscordChannel(d.BotToken, d.Channel, logger)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return notify.NewAnnouncer(cfg.Notify.Iterations, logger, channels...), nil
}
