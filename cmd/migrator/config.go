package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/matchforge-io/matchforge/internal/config"
)

// Sentinel errors for migrator configuration.
var (
	ErrDatabaseURLEmpty      = errors.New("DATABASE_URL cannot be empty")
	ErrMigrationsPathMissing = errors.New("migrations directory does not exist")
)

// Config holds all configuration for the migration tool.
type Config struct {
	DatabaseURL    string
	MigrationsPath string
	MigrationTable string
}

// LoadConfig loads migrator configuration from environment variables with
// fallback to defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    config.GetEnvStr("DATABASE_URL", ""),
		MigrationsPath: config.GetEnvStr("MIGRATIONS_PATH", "./migrations"),
		MigrationTable: config.GetEnvStr("MIGRATION_TABLE", "schema_migrations"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration and resolves the migrations path.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrDatabaseURLEmpty
	}

	absPath, err := filepath.Abs(c.MigrationsPath)
	if err != nil {
		return fmt.Errorf("resolve migrations path: %w", err)
	}

	c.MigrationsPath = absPath

	if _, err := os.Stat(c.MigrationsPath); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrMigrationsPathMissing, c.MigrationsPath)
	}

	return nil
}
