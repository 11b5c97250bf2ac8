package api

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dyluth/troupe/internal/config"
	"github.com/dyluth/troupe/internal/telemetry"
	"github.com/joho/godotenv"
)

// ServerConfig is the daemon configuration, read from the environment.
type ServerConfig struct {
	Addr            string        `env:"TROUPE_ADDR" envDefault:":8001"`
	Store           string        `env:"TROUPE_STORE" envDefault:"none"`
	RedisURL        string        `env:"TROUPE_REDIS_URL" envDefault:"redis://localhost:6379/0"`
	Namespace       string        `env:"TROUPE_NAMESPACE" envDefault:"default"`
	SQLitePath      string        `env:"TROUPE_SQLITE_PATH" envDefault:"troupe.db"`
	AckWait         time.Duration `env:"TROUPE_ACK_WAIT" envDefault:"5s"`
	ShutdownTimeout time.Duration `env:"TROUPE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	OTelEnabled     bool          `env:"TROUPE_OTEL_ENABLED" envDefault:"true"`
	OTelEndpoint    string        `env:"TROUPE_OTEL_ENDPOINT"`
	OTelService     string        `env:"TROUPE_OTEL_SERVICE" envDefault:"troupe"`
}

// LoadServerConfig reads .env files (missing files are ignored) and then the
// process environment. Variables already set in the environment win.
func LoadServerConfig(envFiles ...string) (ServerConfig, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ServerConfig{}, fmt.Errorf("load env file: %w", err)
	}

	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// Validate checks the store selection and the timing knobs.
func (c *ServerConfig) Validate() error {
	if c.Addr == "" {
		return config.NewConfigError("TROUPE_ADDR", "listen address is required")
	}
	if c.AckWait <= 0 {
		return config.NewConfigError("TROUPE_ACK_WAIT", "must be positive, got %s", c.AckWait)
	}
	p := c.Persistence()
	if err := p.Validate(); err != nil {
		return err
	}
	return nil
}

// Persistence maps the store variables onto a persistence config.
func (c *ServerConfig) Persistence() *config.PersistenceConfig {
	p := &config.PersistenceConfig{Kind: c.Store, Namespace: c.Namespace}
	switch c.Store {
	case config.PersistenceRedis:
		p.RedisURL = c.RedisURL
	case config.PersistenceSQLite:
		p.SQLitePath = c.SQLitePath
	}
	return p
}

// Telemetry maps the TROUPE_OTEL_* variables onto a tracing config. Tracing
// stays off until TROUPE_OTEL_ENDPOINT is set.
func (c *ServerConfig) Telemetry() telemetry.Config {
	return telemetry.Config{
		Enabled:     c.OTelEnabled,
		Endpoint:    c.OTelEndpoint,
		ServiceName: c.OTelService,
	}
}
