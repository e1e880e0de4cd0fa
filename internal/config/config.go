package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all aigpt configuration. Every field is read from the
// environment; Default returns the values used when nothing is set.
type Config struct {
	Home     string `env:"AIGPT_HOME"`
	Database DatabaseConfig
	Server   ServerConfig
	Core     CoreConfig
	LLM      LLMConfig
}

type DatabaseConfig struct {
	Path string `env:"AIGPT_DB"`
}

type ServerConfig struct {
	Bind string `env:"AIGPT_BIND" envDefault:"127.0.0.1"`
	Port int    `env:"AIGPT_PORT" envDefault:"37778"`
	URL  string `env:"AIGPT_URL"` // where the CLI looks for a running server
}

// CoreConfig tunes the relationship, fortune and scheduling core.
type CoreConfig struct {
	Timezone          string        `env:"AIGPT_TZ"                 envDefault:"UTC"`
	DailyCap          int           `env:"AIGPT_DAILY_CAP"          envDefault:"10"`
	Threshold         float64       `env:"AIGPT_THRESHOLD"          envDefault:"10"`
	FortuneSeed       string        `env:"AIGPT_FORTUNE_SEED"`
	TickInterval      time.Duration `env:"AIGPT_TICK_INTERVAL"      envDefault:"5m"`
	GenerationTimeout time.Duration `env:"AIGPT_GENERATION_TIMEOUT" envDefault:"30s"`
}

type LLMConfig struct {
	Provider      string `env:"AIGPT_PROVIDER"    envDefault:"none"` // "none", "ollama", "openai", "anthropic"
	Model         string `env:"AIGPT_MODEL"`                         // provider default when empty
	OllamaURL     string `env:"OLLAMA_HOST"       envDefault:"http://localhost:11434"`
	OpenAIKey     string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	AnthropicKey  string `env:"ANTHROPIC_API_KEY"`
	MaxRetries    int    `env:"AIGPT_LLM_RETRIES" envDefault:"2"`
}

// Default returns a Config with every field at its default.
func Default() Config {
	var cfg Config
	// An empty environment leaves only the envDefault values.
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Load reads .env files (working directory first, then AIGPT_HOME) and the
// process environment, then validates the result. Variables already set in
// the environment win over .env files.
func Load() (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	if home := os.Getenv("AIGPT_HOME"); home != "" {
		if err := loadDotEnv(filepath.Join(home, ".env")); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Validate checks ranges and names that the environment parser cannot.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Core.DailyCap <= 0 {
		return fmt.Errorf("AIGPT_DAILY_CAP must be positive, got %d", c.Core.DailyCap)
	}
	if c.Core.Threshold <= 0 {
		return fmt.Errorf("AIGPT_THRESHOLD must be positive, got %v", c.Core.Threshold)
	}
	if c.Core.TickInterval <= 0 {
		return fmt.Errorf("AIGPT_TICK_INTERVAL must be positive, got %v", c.Core.TickInterval)
	}
	if c.Core.GenerationTimeout <= 0 {
		return fmt.Errorf("AIGPT_GENERATION_TIMEOUT must be positive, got %v", c.Core.GenerationTimeout)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("AIGPT_PORT out of range: %d", c.Server.Port)
	}
	switch c.LLM.Provider {
	case "none", "ollama", "openai", "anthropic":
	default:
		return fmt.Errorf("unknown AIGPT_PROVIDER %q", c.LLM.Provider)
	}
	return nil
}

// Location returns the calendar location used for every day boundary.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Core.Timezone)
	if err != nil {
		return nil, fmt.Errorf("AIGPT_TZ %q: %w", c.Core.Timezone, err)
	}
	return loc, nil
}

// DBPath returns the configured database path. An empty result means the
// store default applies.
func (c *Config) DBPath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	if c.Home != "" {
		return filepath.Join(c.Home, "aigpt.db")
	}
	return ""
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// ServerURL returns the base URL of the HTTP API for clients.
func (c *Config) ServerURL() string {
	if c.Server.URL != "" {
		return c.Server.URL
	}
	return fmt.Sprintf("http://%s:%d", c.Server.Bind, c.Server.Port)
}
