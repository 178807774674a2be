// Command migrator applies the relational schema migrations.
//
// Supported commands: up, down, status, drop.
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/matchforge-io/matchforge/internal/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	runner, err := NewRunner(cfg, logger)
	if err != nil {
		logger.Error("failed to create migration runner", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = runner.Close()
	}()

	if err := run(os.Args[1], runner); err != nil {
		logger.Error("migration failed", slog.String("command", os.Args[1]), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(command string, runner *Runner) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status":
		return runner.Status()
	case "drop":
		if !confirm("This will drop all tables. Are you sure? (y/N): ") {
			fmt.Println("cancelled")

			return nil
		}

		return runner.Drop()
	default:
		printUsage()

		return fmt.Errorf("unknown command: %s", command)
	}
}

func confirm(prompt string) bool {
	fmt.Print(prompt)

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}

	answer := strings.ToLower(strings.TrimSpace(line))

	return answer == "y" || answer == "yes"
}

func printUsage() {
	fmt.Println(`usage: migrator COMMAND

commands:
    up      apply all pending migrations
    down    roll back the last migration
    status  show migration status
    drop    drop all tables (requires confirmation)

environment:
    DATABASE_URL     PostgreSQL connection string (required)
    MIGRATIONS_PATH  migration files directory (default ./migrations)
    MIGRATION_TABLE  tracking table name (default schema_migrations)`)
}
