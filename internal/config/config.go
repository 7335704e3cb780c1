// Package config loads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is the server configuration. Every field is read from the
// environment variable named in its env tag.
type Config struct {
	Port         string `env:"PORT" envDefault:"8080" validate:"required,numeric"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"nanoassist.db"`
	// DatabaseURL selects the Postgres backend when set.
	DatabaseURL string `env:"DATABASE_URL" validate:"omitempty,url"`

	JWTSecret    string `env:"JWT_SECRET,required" validate:"min=32"`
	CookieSecure bool   `env:"COOKIE_SECURE" envDefault:"true"`
	BcryptCost   int    `env:"BCRYPT_COST" envDefault:"12" validate:"min=4,max=14"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFile  string `env:"LOG_FILE"`

	Timezone string `env:"DASHBOARD_TIMEZONE" envDefault:"UTC"`

	BootstrapTimeout time.Duration `env:"RESOLVER_BOOTSTRAP_TIMEOUT" envDefault:"3s" validate:"gt=0"`
	RefetchDebounce  time.Duration `env:"RECORDINGS_DEBOUNCE" envDefault:"500ms" validate:"gte=0"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s" validate:"gt=0"`

	// Login attempts allowed per client per minute, with a burst of LoginBurst.
	LoginRate  float64 `env:"LOGIN_RATE_PER_MINUTE" envDefault:"10" validate:"gte=0"`
	LoginBurst float64 `env:"LOGIN_BURST" envDefault:"5" validate:"gte=1"`

	IngestAPIKeys []string `env:"INGEST_API_KEYS" envSeparator:","`

	AdminEmail    string `env:"ADMIN_EMAIL" validate:"omitempty,email"`
	AdminPassword string `env:"ADMIN_PASSWORD" validate:"required_with=AdminEmail,omitempty,min=8"`
	AdminStores   string `env:"ADMIN_STORES"`

	location *time.Location
}

// Load reads the optional dotenv files, then parses and validates the
// environment. Missing dotenv files are ignored; variables already set in
// the environment win over the files.
func Load(dotenv ...string) (*Config, error) {
	for _, path := range dotenv {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	return parse(env.Options{})
}

// FromMap parses a configuration from environ instead of the process
// environment.
func FromMap(environ map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.location, err = time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid DASHBOARD_TIMEZONE: %w", err)
	}

	keys := cfg.IngestAPIKeys[:0]
	for _, k := range cfg.IngestAPIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	cfg.IngestAPIKeys = keys
	return &cfg, nil
}

// Location is the zone chart buckets and recording date ranges are
// computed in.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// Level returns LogLevel as a slog level.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Postgres reports whether the Postgres backend is configured.
func (c *Config) Postgres() bool {
	return c.DatabaseURL != ""
}
