// Package config loads the relay's runtime settings from the environment,
// applies defaults and validates the result.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// DefaultUploadMaxBytes is the upload ceiling when UPLOAD_MAX_BYTES is unset.
const DefaultUploadMaxBytes = 10 << 20

var validate = validator.New()

// Config holds the server configuration.
type Config struct {
	Host            string        `env:"HOST"`
	Port            int           `env:"PORT,default=3000" validate:"min=1,max=65535"`
	PublicDir       string        `env:"PUBLIC_DIR,default=public" validate:"required"`
	UploadMaxBytes  int64         `env:"UPLOAD_MAX_BYTES,default=10485760" validate:"gt=0"`
	MaxMessageSize  int64         `env:"MAX_MESSAGE_SIZE,default=65536" validate:"gt=0"`
	SendBuffer      int           `env:"SEND_BUFFER,default=256" validate:"gt=0"`
	AllowedOrigins  string        `env:"ALLOWED_ORIGINS"`
	LogLevel        string        `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn warning error"`
	LogFormat       string        `env:"LOG_FORMAT,default=console" validate:"oneof=console json"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s" validate:"gt=0"`
}

// Load reads the process environment, optionally seeded from a .env file in
// the working directory. Variables already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return finish(&cfg)
}

// FromEnvSet builds a Config from an explicit set of variables.
func FromEnvSet(vars map[string]string) (*Config, error) {
	var cfg Config
	if err := env.Unmarshal(env.EnvSet(vars), &cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return finish(&cfg)
}

// finish normalizes enum-like fields and validates cfg.
func finish(cfg *Config) (*Config, error) {
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Addr returns the listen address, e.g. ":3000".
func (c *Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// UploadDir is where uploaded files are written. It lives under the public
// root so uploads can be fetched with a plain GET.
func (c *Config) UploadDir() string {
	return filepath.Join(c.PublicDir, "uploads")
}

// Origins splits ALLOWED_ORIGINS on commas and drops empty entries.
func (c *Config) Origins() []string {
	if c.AllowedOrigins == "" {
		return nil
	}
	parts := strings.Split(c.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}
