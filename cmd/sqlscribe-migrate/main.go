package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sqlscribe/sqlscribe/internal/config"
	"github.com/sqlscribe/sqlscribe/internal/migrations"
)

func main() {
	direction := flag.String("direction", "up", "up|down|status")
	steps := flag.Int("steps", 0, "migrations to apply (0 = all) or roll back (0 = one)")
	timeout := flag.Duration("timeout", 30*time.Second, "overall timeout")
	flag.Parse()

	if err := run(*direction, *steps, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "sqlscribe-migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(direction string, steps int, timeout time.Duration) error {
	cfg, err := config.LoadFromEnv("sqlscribe-migrate")
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.History.DSN == "" {
		return errors.New("SQLSCRIBE_HISTORY_DSN is required")
	}

	db, err := sql.Open("pgx", cfg.History.DSN)
	if err != nil {
		return fmt.Errorf("open history db: %w", err)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping history db: %w", err)
	}

	runner := migrations.NewRunner()
	switch direction {
	case "up":
		n, err := runner.Up(ctx, db, steps)
		if err != nil {
			return err
		}
		fmt.Printf("applied %d migration(s)\n", n)
	case "down":
		n, err := runner.Down(ctx, db, steps)
		if err != nil {
			return err
		}
		fmt.Printf("rolled back %d migration(s)\n", n)
	case "status":
		states, err := runner.Status(ctx, db)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(states)
	default:
		return fmt.Errorf("invalid direction %q", direction)
	}
	return nil
}
