// Command evolve runs the schema evolution loop and its supporting tools.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/nidhogg/schema-evolver/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Build-time variables set via ldflags.
var (
	version = "0.1.0"
	commit  = ""
)

var flagConfig string

func versionString() string {
	if commit != "" {
		return fmt.Sprintf("evolve version %s (commit: %s)", version, commit)
	}
	return fmt.Sprintf("evolve version %s-dev", version)
}

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:          "evolve",
		Short:        "Evolve a graph schema until it meets the production rubric",
		Version:      versionString(),
		SilenceUsage: true,
	}
	rootCmd.SetVersionTemplate("{{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file, JSON or YAML (env: CONFIG_PATH)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newRubricCmd())
	rootCmd.AddCommand(newDoctorCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	return config.Path()
}

func loadConfig() (*config.Config, string, error) {
	path := configPath()
	cfg, err := config.Load(path)
	return cfg, path, err
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "" || level == "debug" {
		return zap.NewDevelopment()
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	return zc.Build()
}
