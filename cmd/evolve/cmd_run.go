package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nidhogg/schema-evolver/internal/api"
	"github.com/nidhogg/schema-evolver/internal/config"
	"github.com/nidhogg/schema-evolver/internal/orchestrator"
	"github.com/nidhogg/schema-evolver/internal/report"
	"github.com/nidhogg/schema-evolver/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type runFlags struct {
	domain        string
	maxIterations int
	output        string
	fixture       string
	implement     bool
	noServer      bool
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one schema evolution",
		Long:  "Design, evaluate and refine a schema until it is production ready or the round budget is spent, then export the reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfigWith(f)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Server.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()
			logger.Info("config loaded", zap.String("path", path))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runEvolution(ctx, cfg, f.noServer, logger)
		},
	}
	cmd.Flags().StringVar(&f.domain, "domain", "", "Domain description, overrides run.domain")
	cmd.Flags().IntVar(&f.maxIterations, "max-iterations", 0, "Round budget, overrides run.max_iterations")
	cmd.Flags().StringVar(&f.output, "output", "", "Report directory, overrides run.output_dir")
	cmd.Flags().StringVar(&f.fixture, "replay", "", "Replay fragments from this fixture instead of calling providers")
	cmd.Flags().BoolVar(&f.implement, "implement", false, "Apply the converged schema to Neo4j")
	cmd.Flags().BoolVar(&f.noServer, "no-server", false, "Do not start the status API")
	return cmd
}

// loadConfigWith applies command-line overrides before validation.
func loadConfigWith(f runFlags) (*config.Config, string, error) {
	path := configPath()
	cfg, err := config.Read(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && f.fixture != "":
		// A replay run may start from defaults alone.
		cfg = config.Default()
	case err != nil:
		return nil, path, err
	}
	if f.domain != "" {
		cfg.Run.Domain = f.domain
	}
	if f.maxIterations != 0 {
		cfg.Run.MaxIterations = f.maxIterations
	}
	if f.output != "" {
		cfg.Run.OutputDir = f.output
	}
	if f.fixture != "" {
		cfg.Generation.Mode = config.ModeReplay
		cfg.Generation.Fixture = f.fixture
	}
	if f.implement {
		cfg.Run.AutoImplement = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

func runEvolution(ctx context.Context, cfg *config.Config, noServer bool, logger *zap.Logger) error {
	scorer, err := newEvaluator(cfg)
	if err != nil {
		return err
	}
	d, err := newDesigner(cfg, logger)
	if err != nil {
		return err
	}
	o := orchestrator.New(d, scorer, orchestrator.Options{
		Domain:        cfg.Run.Domain,
		MaxIterations: cfg.Run.MaxIterations,
		AutoImplement: cfg.Run.AutoImplement,
	}, logger)

	var archive api.Archive
	if dsn := cfg.Database.Postgres.DSN; dsn != "" {
		st, err := store.New(ctx, dsn, logger)
		if err != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(err))
		} else {
			defer st.Close()
			if err := st.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			o.SetRecorder(st)
			archive = st
		}
	}

	if url := cfg.Database.Redis.URL; url != "" {
		bus, err := orchestrator.NewEventBus(ctx, url, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without event stream", zap.Error(err))
		} else {
			defer bus.Close()
			o.AddPublisher(bus)
		}
	}

	ann, err := newAnnouncer(cfg, logger)
	if err != nil {
		return err
	}
	if ann.Len() > 0 {
		o.AddPublisher(ann)
	}

	if cfg.Run.AutoImplement {
		im, closeImpl, err := newImplementer(cfg, logger)
		if err != nil {
			return err
		}
		defer closeImpl()
		o.SetImplementer(im)
	}

	var srv *http.Server
	if !noServer && cfg.Server.Port > 0 {
		srv = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: api.NewHandler(o, archive, logger).Router(),
		}
		go func() {
			logger.Info("status API listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("server error", zap.Error(err))
			}
		}()
	}

	final, runErr := o.Run(ctx)

	paths, err := report.Write(cfg.Run.OutputDir, report.FromState(final))
	if err != nil {
		logger.Error("export reports failed", zap.Error(err))
	} else {
		logger.Info("reports exported", zap.String("dir", cfg.Run.OutputDir), zap.Strings("files", paths))
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}

	if runErr != nil {
		return runErr
	}
	if err != nil {
		return err
	}
	if !final.Converged {
		logger.Warn("run exhausted without a production-ready schema", zap.Strings("blockers", final.Blockers))
	}
	return nil
}
