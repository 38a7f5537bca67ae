package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Create new config instance
func NewConfig() *Config {
	return &Config{}
}

// Read loads the json config file, then applies environment overrides and
// defaults. A missing file is fine, the environment alone is enough.
func (c *Config) Read(file string) error {
	// .env is optional, it only seeds the process environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env file", "err", err)
	}

	var err error
	if _, statErr := os.Stat(file); file != "" && statErr == nil {
		err = cleanenv.ReadConfig(file, c)
	} else {
		err = cleanenv.ReadEnv(c)
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	return c.Validate()
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load is the one-call form used by the entrypoints.
func Load(file string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.Read(file); err != nil {
		return nil, err
	}
	return cfg, nil
}
