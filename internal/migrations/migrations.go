// Package migrations owns the Postgres schema of the query history store.
// SQLite history creates its own table and does not use this package.
package migrations

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const versionTable = "sqlscribe_schema_migrations"

// ErrSchemaBehind is returned by RequireCurrent when migrations are pending.
var ErrSchemaBehind = errors.New("history schema is not up to date")

var fileNamePattern = regexp.MustCompile(`^([0-9]+)_([a-z0-9_]+)\.(up|down)\.sql$`)

type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

type step struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

// State describes one known migration against a database.
type State struct {
	Version   int64     `json:"version"`
	Name      string    `json:"name"`
	Applied   bool      `json:"applied"`
	AppliedAt time.Time `json:"applied_at,omitzero"`
}

// Up applies pending migrations in version order. steps <= 0 applies all.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	known, err := loadSteps(r.fsys)
	if err != nil {
		return 0, err
	}
	if err := createVersionTable(ctx, db); err != nil {
		return 0, err
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, s := range known {
		if _, done := applied[s.Version]; done {
			continue
		}
		if steps > 0 && count >= steps {
			break
		}
		err := inTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, s.Up); err != nil {
				return fmt.Errorf("apply migration %d_%s: %w", s.Version, s.Name, err)
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO `+versionTable+` (version, name) VALUES ($1, $2)`, s.Version, s.Name)
			return err
		})
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Down rolls back the newest applied migrations. steps <= 0 rolls back one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	known, err := loadSteps(r.fsys)
	if err != nil {
		return 0, err
	}
	if err := createVersionTable(ctx, db); err != nil {
		return 0, err
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return 0, err
	}

	byVersion := make(map[int64]step, len(known))
	for _, s := range known {
		byVersion[s.Version] = s
	}
	versions := make([]int64, 0, len(applied))
	for version := range applied {
		versions = append(versions, version)
	}
	slices.Sort(versions)
	slices.Reverse(versions)

	count := 0
	for _, version := range versions {
		if count >= steps {
			break
		}
		s, ok := byVersion[version]
		if !ok {
			return count, fmt.Errorf("applied migration %d is not embedded in this binary", version)
		}
		err := inTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, s.Down); err != nil {
				return fmt.Errorf("roll back migration %d_%s: %w", s.Version, s.Name, err)
			}
			_, err := tx.ExecContext(ctx, `DELETE FROM `+versionTable+` WHERE version = $1`, s.Version)
			return err
		})
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Status lists every embedded migration and whether db has it. It does not
// create the version table.
func (r *Runner) Status(ctx context.Context, db *sql.DB) ([]State, error) {
	known, err := loadSteps(r.fsys)
	if err != nil {
		return nil, err
	}
	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, versionTable).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check version table: %w", err)
	}
	applied := map[int64]time.Time{}
	if exists {
		if applied, err = appliedVersions(ctx, db); err != nil {
			return nil, err
		}
	}

	states := make([]State, 0, len(known))
	for _, s := range known {
		state := State{Version: s.Version, Name: s.Name}
		if at, ok := applied[s.Version]; ok {
			state.Applied = true
			state.AppliedAt = at.UTC()
		}
		states = append(states, state)
	}
	return states, nil
}

// RequireCurrent fails with ErrSchemaBehind when any embedded migration has
// not been applied to db.
func (r *Runner) RequireCurrent(ctx context.Context, db *sql.DB) error {
	states, err := r.Status(ctx, db)
	if err != nil {
		return err
	}
	var pending []string
	for _, state := range states {
		if !state.Applied {
			pending = append(pending, fmt.Sprintf("%d_%s", state.Version, state.Name))
		}
	}
	if len(pending) > 0 {
		return fmt.Errorf("%w: pending %s; run sqlscribe-migrate", ErrSchemaBehind, strings.Join(pending, ", "))
	}
	return nil
}

func createVersionTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+versionTable+` (
	version BIGINT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	if err != nil {
		return fmt.Errorf("create version table: %w", err)
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int64]time.Time, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, applied_at FROM `+versionTable)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[int64]time.Time)
	for rows.Next() {
		var (
			version   int64
			appliedAt time.Time
		)
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("scan applied version: %w", err)
		}
		applied[version] = appliedAt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied versions: %w", err)
	}
	return applied, nil
}

func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// loadSteps pairs the up and down files under sql/ by version. Every
// version needs both halves.
func loadSteps(fsys fs.FS) ([]step, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	byVersion := map[int64]*step{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := fileNamePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		version, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse version of %q: %w", entry.Name(), err)
		}
		body, err := fs.ReadFile(fsys, "sql/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", entry.Name(), err)
		}

		s := byVersion[version]
		if s == nil {
			s = &step{Version: version, Name: m[2]}
			byVersion[version] = s
		}
		if s.Name != m[2] {
			return nil, fmt.Errorf("migration %d has mismatched names %q and %q", version, s.Name, m[2])
		}
		if m[3] == "up" {
			s.Up = string(body)
		} else {
			s.Down = string(body)
		}
	}

	steps := make([]step, 0, len(byVersion))
	for _, s := range byVersion {
		if strings.TrimSpace(s.Up) == "" {
			return nil, fmt.Errorf("migration %d missing up SQL", s.Version)
		}
		if strings.TrimSpace(s.Down) == "" {
			return nil, fmt.Errorf("migration %d missing down SQL", s.Version)
		}
		steps = append(steps, *s)
	}
	slices.SortFunc(steps, func(a, b step) int { return cmp.Compare(a.Version, b.Version) })
	return steps, nil
}
