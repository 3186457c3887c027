// Package config loads the evolver configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/nidhogg/schema-evolver/internal/generation"
	"github.com/nidhogg/schema-evolver/internal/provider"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when CONFIG_PATH is unset.
const DefaultPath = "configs/evolve.json"

// Generation modes.
const (
	ModeLLM    = "llm"
	ModeReplay = "replay"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config is the top-level configuration structure.
type Config struct {
	Run        RunConfig        `json:"run" yaml:"run"`
	RubricPath string           `json:"rubric_path" yaml:"rubric_path"`
	Generation GenerationConfig `json:"generation" yaml:"generation"`
	Providers  []ProviderConfig `json:"providers" yaml:"providers"`
	Database   DatabaseConfig   `json:"database" yaml:"database"`
	Server     ServerConfig     `json:"server" yaml:"server"`
	Notify     NotifyConfig     `json:"notify" yaml:"notify"`
}

type RunConfig struct {
	Domain         string  `json:"domain" yaml:"domain"`
	TargetScore    float64 `json:"target_score" yaml:"target_score"`
	DimensionFloor float64 `json:"dimension_floor" yaml:"dimension_floor"`
	MaxIterations  int     `json:"max_iterations" yaml:"max_iterations"`
	AutoImplement  bool    `json:"auto_implement" yaml:"auto_implement"`
	OutputDir      string  `json:"output_dir" yaml:"output_dir"`
}

// GenerationConfig selects and tunes the fragment source.
type GenerationConfig struct {
	Mode           string            `json:"mode" yaml:"mode"`
	Fixture        string            `json:"fixture" yaml:"fixture"`
	Model          string            `json:"model" yaml:"model"`
	MaxTokens      int               `json:"max_tokens" yaml:"max_tokens"`
	TimeoutSeconds int               `json:"timeout_seconds" yaml:"timeout_seconds"`
	MaxAttempts    int               `json:"max_attempts" yaml:"max_attempts"`
	BaseDelayMS    int               `json:"base_delay_ms" yaml:"base_delay_ms"`
	Multiplier     float64           `json:"multiplier" yaml:"multiplier"`
	Jitter         *float64          `json:"jitter" yaml:"jitter"`
	MaxDelayMS     int               `json:"max_delay_ms" yaml:"max_delay_ms"`
	Concurrency    int               `json:"concurrency" yaml:"concurrency"`
	Routes         map[string]string `json:"routes,omitempty" yaml:"routes,omitempty"` // brief -> provider ID
	Fallbacks      []string          `json:"fallbacks,omitempty" yaml:"fallbacks,omitempty"`
}

// RetryPolicy converts the retry settings.
func (g GenerationConfig) RetryPolicy() generation.RetryPolicy {
	p := generation.RetryPolicy{
		MaxAttempts: g.MaxAttempts,
		BaseDelay:   time.Duration(g.BaseDelayMS) * time.Millisecond,
		Multiplier:  g.Multiplier,
		MaxDelay:    time.Duration(g.MaxDelayMS) * time.Millisecond,
		Timeout:     time.Duration(g.TimeoutSeconds) * time.Second,
	}
	if g.Jitter != nil {
		p.Jitter = *g.Jitter
	}
	return p
}

type ProviderConfig struct {
	ID             string            `json:"id" yaml:"id"`
	Type           string            `json:"type" yaml:"type"`
	Name           string            `json:"name" yaml:"name"`
	Endpoint       string            `json:"endpoint" yaml:"endpoint"`
	APIKey         string            `json:"api_key" yaml:"api_key"`
	Models         []string          `json:"models,omitempty" yaml:"models,omitempty"`
	Extra          map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

// Provider converts to the provider package's config.
func (p ProviderConfig) Provider() provider.ProviderConfig {
	return provider.ProviderConfig{
		ID:       p.ID,
		Type:     p.Type,
		Name:     p.Name,
		Endpoint: p.Endpoint,
		APIKey:   p.APIKey,
		Models:   p.Models,
		Extra:    p.Extra,
		Timeout:  time.Duration(p.TimeoutSeconds) * time.Second,
	}
}

type DatabaseConfig struct {
	Neo4j    Neo4jConfig    `json:"neo4j" yaml:"neo4j"`
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant" yaml:"qdrant"`
}

type Neo4jConfig struct {
	URI      string `json:"uri" yaml:"uri"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database"`
}

type PostgresConfig struct {
	DSN string `json:"dsn" yaml:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url" yaml:"url"`
}

type QdrantConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

type ServerConfig struct {
	Port     int    `json:"port" yaml:"port"`
	LogLevel string `json:"log_level" yaml:"log_level"`
}

type NotifyConfig struct {
	Iterations bool          `json:"iterations" yaml:"iterations"`
	Slack      ChannelConfig `json:"slack" yaml:"slack"`
	Discord    ChannelConfig `json:"discord" yaml:"discord"`
}

type ChannelConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"bot_token" yaml:"bot_token"`
	Channel  string `json:"channel" yaml:"channel"`
	APIURL   string `json:"api_url,omitempty" yaml:"api_url,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Run.TargetScore == 0 {
		c.Run.TargetScore = 9.0
	}
	if c.Run.DimensionFloor == 0 {
		c.Run.DimensionFloor = 8.0
	}
	if c.Run.MaxIterations == 0 {
		c.Run.MaxIterations = 7
	}
	if c.Run.OutputDir == "" {
		c.Run.OutputDir = "output"
	}

	g := &c.Generation
	if g.Mode == "" {
		g.Mode = ModeLLM
	}
	if g.MaxTokens == 0 {
		g.MaxTokens = 4096
	}
	if g.TimeoutSeconds == 0 {
		g.TimeoutSeconds = 60
	}
	if g.MaxAttempts == 0 {
		g.MaxAttempts = 3
	}
	if g.BaseDelayMS == 0 {
		g.BaseDelayMS = 1000
	}
	if g.Multiplier == 0 {
		g.Multiplier = 2
	}
	if g.Jitter == nil {
		j := 0.5
		g.Jitter = &j
	}
	if g.MaxDelayMS == 0 {
		g.MaxDelayMS = 30000
	}
	if g.Concurrency == 0 {
		g.Concurrency = 4
	}

	if c.Database.Qdrant.Port == 0 && c.Database.Qdrant.Host != "" {
		c.Database.Qdrant.Port = 6334
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
}

// Validate rejects settings a run cannot start with. All problems are
// reported together.
func (c *Config) Validate() error {
	var problems []string
	bad := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Run.TargetScore < 0 || c.Run.TargetScore > 10 {
		bad("run.target_score %.2f outside [0, 10]", c.Run.TargetScore)
	}
	if c.Run.DimensionFloor < 0 || c.Run.DimensionFloor > 10 {
		bad("run.dimension_floor %.2f outside [0, 10]", c.Run.DimensionFloor)
	}
	if c.Run.MaxIterations < 1 {
		bad("run.max_iterations must be at least 1")
	}

	g := c.Generation
	if g.MaxAttempts < 1 {
		bad("generation.max_attempts must be at least 1")
	}
	if g.Multiplier < 1 {
		bad("generation.multiplier must be at least 1")
	}
	if g.Jitter != nil && (*g.Jitter < 0 || *g.Jitter > 1) {
		bad("generation.jitter %.2f outside [0, 1]", *g.Jitter)
	}
	if g.Concurrency < 0 {
		bad("generation.concurrency must not be negative")
	}
	switch g.Mode {
	case ModeLLM:
		if len(c.Providers) == 0 {
			bad("generation.mode llm requires at least one provider")
		}
	case ModeReplay:
		if g.Fixture == "" {
			bad("generation.mode replay requires generation.fixture")
		}
	default:
		bad("generation.mode %q is not llm or replay", g.Mode)
	}

	ids := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			bad("providers[%d].id is required", i)
			continue
		}
		if ids[p.ID] {
			bad("providers[%d].id %q is duplicated", i, p.ID)
		}
		ids[p.ID] = true
	}
	for brief, id := range g.Routes {
		if !ids[id] {
			bad("generation.routes[%s] names unknown provider %q", brief, id)
		}
	}

	for name, ch := range map[string]ChannelConfig{"slack": c.Notify.Slack, "discord": c.Notify.Discord} {
		if ch.Enabled && (ch.BotToken == "" || ch.Channel == "") {
			bad("notify.%s requires bot_token and channel", name)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Expand substitutes ${VAR} and ${VAR:default} with environment values.
func Expand(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}

// Read parses a JSON or YAML config file, substitutes environment variable
// references and applies defaults. It does not validate.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	resolved := []byte(Expand(string(data)))

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(resolved, &cfg)
	default:
		err = json.Unmarshal(resolved, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Path returns CONFIG_PATH or the default path.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}
