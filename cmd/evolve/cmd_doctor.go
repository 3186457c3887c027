package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/schema-evolver/internal/config"
	"github.com/nidhogg/schema-evolver/internal/implementer"
	"github.com/nidhogg/schema-evolver/internal/orchestrator"
	"github.com/nidhogg/schema-evolver/internal/provider"
	"github.com/nidhogg/schema-evolver/internal/store"
	"github.com/nidhogg/schema-evolver/internal/vectorstore"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose configuration and connectivity",
		Long:  "Check the config file, the rubric, every provider and every configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.Context())
		},
	}
}

type checkResult struct {
	Name   string
	Passed bool
	Detail string
}

func runDoctor(ctx context.Context) error {
	fmt.Println("\nEvolve Doctor")
	fmt.Println("=============")

	cfg, path, err := loadConfig()
	if err != nil {
		printResults([]checkResult{{Name: "Config file", Detail: err.Error()}})
		return fmt.Errorf("config check failed")
	}
	results := []checkResult{{Name: "Config file", Passed: true, Detail: path}}
	results = append(results, doctorChecks(ctx, cfg, zap.NewNop())...)

	printResults(results)
	for _, r := range results {
		if !r.Passed {
			return fmt.Errorf("%s check failed", r.Name)
		}
	}
	return nil
}

func doctorChecks(ctx context.Context, cfg *config.Config, logger *zap.Logger) []checkResult {
	var results []checkResult
	check := func(name, detail string, err error) {
		if err != nil {
			detail = err.Error()
		}
		results = append(results, checkResult{Name: name, Passed: err == nil, Detail: detail})
	}
	timeout := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(ctx, 5*time.Second)
	}

	r, err := loadRubric(cfg)
	check("Rubric", fmt.Sprintf("%d dimensions", len(r.Dimensions)), err)

	if cfg.Generation.Mode == config.ModeLLM {
		for _, pc := range cfg.Providers {
			p, err := provider.New(pc.Provider(), logger)
			if err == nil {
				c, cancel := timeout()
				err = p.HealthCheck(c)
				cancel()
			}
			check("Provider "+pc.ID, pc.Endpoint, err)
		}
	}

	if n := cfg.Database.Neo4j; n.URI != "" {
		engine, err := implementer.NewNeo4jEngine(n.URI, n.User, n.Password, n.Database, logger)
		if err == nil {
			c, cancel := timeout()
			err = engine.Ping(c)
			cancel()
			_ = engine.Close(ctx)
		}
		check("Neo4j", n.URI, err)
	}

	if dsn := cfg.Database.Postgres.DSN; dsn != "" {
		c, cancel := timeout()
		st, err := store.New(c, dsn, logger)
		cancel()
		if err == nil {
			st.Close()
		}
		check("PostgreSQL", "reachable", err)
	}

	if url := cfg.Database.Redis.URL; url != "" {
		c, cancel := timeout()
		bus, err := orchestrator.NewEventBus(c, url, logger)
		cancel()
		if err == nil {
			_ = bus.Close()
		}
		check("Redis", "reachable", err)
	}

	if q := cfg.Database.Qdrant; q.Host != "" {
		vc, err := vectorstore.NewClient(vectorstore.QdrantConfig{Host: q.Host, Port: q.Port})
		if err == nil {
			c, cancel := timeout()
			err = vc.Ping(c)
			cancel()
			_ = vc.Close()
		}
		check("Qdrant", fmt.Sprintf("%s:%d", q.Host, q.Port), err)
	}
	return results
}

func printResults(results []checkResult) {
	for _, r := range results {
		mark := "✓"
		if !r.Passed {
			mark = "✗"
		}
		fmt.Printf("  %s %-20s %s\n", mark, r.Name, r.Detail)
	}
	fmt.Println()
}
