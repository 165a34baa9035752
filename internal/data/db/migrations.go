package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/colonyops/earn/internal/core/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrLedgerData is returned when a rollback would drop completions or credits
// that still hold rows.
var ErrLedgerData = errors.New("rollback would drop ledger data")

// ledgerTables hold user earnings and cannot be recreated from the catalog.
var ledgerTables = map[string]bool{
	"completions": true,
	"credits":     true,
}

var createTableRe = regexp.MustCompile(`(?i)CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?([A-Za-z_][A-Za-z0-9_]*)`)

// Migration is one versioned schema step with the tables its up script creates.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
	Tables  []string
}

// Ledger reports whether the migration owns a table holding earnings.
func (m Migration) Ledger() bool {
	for _, t := range m.Tables {
		if ledgerTables[t] {
			return true
		}
	}
	return false
}

// loadMigrations parses embedded SQL files into a sorted slice of migrations.
// Validates strict naming format, uniqueness, and up/down pairing.
func loadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	type half struct {
		name string
		sql  string
	}
	ups := make(map[int]half)
	downs := make(map[int]half)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fname := entry.Name()

		version, name, direction, err := parseFilename(fname)
		if err != nil {
			return nil, fmt.Errorf("invalid migration filename %q: %w", fname, err)
		}

		content, err := fs.ReadFile(migrationsFS, "migrations/"+fname)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", fname, err)
		}

		target := ups
		if direction == "down" {
			target = downs
		}
		if _, exists := target[version]; exists {
			return nil, fmt.Errorf("duplicate %s migration for version %04d", direction, version)
		}
		target[version] = half{name: name, sql: string(content)}
	}

	for version := range downs {
		if _, ok := ups[version]; !ok {
			return nil, fmt.Errorf("migration %04d has down file but no up file", version)
		}
	}

	migrations := make([]Migration, 0, len(ups))
	for version, up := range ups {
		down, ok := downs[version]
		if !ok {
			return nil, fmt.Errorf("migration %04d has up file but no down file", version)
		}
		migrations = append(migrations, Migration{
			Version: version,
			Name:    up.name,
			UpSQL:   up.sql,
			DownSQL: down.sql,
			Tables:  createdTables(up.sql),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func createdTables(upSQL string) []string {
	var tables []string
	for _, m := range createTableRe.FindAllStringSubmatch(upSQL, -1) {
		tables = append(tables, strings.ToLower(m[1]))
	}
	return tables
}

// parseFilename splits "NNNN_name.up.sql" or "NNNN_name.down.sql".
func parseFilename(filename string) (version int, name, direction string, err error) {
	switch {
	case strings.HasSuffix(filename, ".up.sql"):
		direction = "up"
	case strings.HasSuffix(filename, ".down.sql"):
		direction = "down"
	default:
		return 0, "", "", fmt.Errorf("expected .up.sql or .down.sql suffix, got %q", filename)
	}
	stem := strings.TrimSuffix(filename, "."+direction+".sql")

	num, name, ok := strings.Cut(stem, "_")
	if !ok || name == "" {
		return 0, "", "", fmt.Errorf("expected format NNNN_name.{up,down}.sql")
	}

	version, err = strconv.Atoi(num)
	if err != nil {
		return 0, "", "", fmt.Errorf("version %q is not a valid integer: %w", num, err)
	}
	if version <= 0 {
		return 0, "", "", fmt.Errorf("version must be positive, got %d", version)
	}
	return version, name, direction, nil
}

// migrateUp applies every pending migration in version order.
func migrateUp(ctx context.Context, conn *sql.DB) error {
	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	if err := ensureMigrationsTable(ctx, conn); err != nil {
		return err
	}
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}

	log := logging.Component("db")
	for _, m := range migrations {
		if _, ok := applied[m.Version]; ok {
			continue
		}
		log.Debug().Int("version", m.Version).Str("name", m.Name).Strs("tables", m.Tables).Msg("applying migration")
		if err := applyMigration(ctx, conn, m); err != nil {
			return fmt.Errorf("migration %04d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// RollbackOptions controls MigrateDown.
type RollbackOptions struct {
	Steps int
	// Force drops completions and credits even when they hold rows.
	Force bool
}

// MigrateDown reverts the last opts.Steps applied migrations, newest first.
// Unless opts.Force is set it checks every migration in the batch before
// reverting any, and fails with ErrLedgerData if one would drop a ledger
// table that still has rows.
func MigrateDown(ctx context.Context, conn *sql.DB, opts RollbackOptions) error {
	if opts.Steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", opts.Steps)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	if err := ensureMigrationsTable(ctx, conn); err != nil {
		return err
	}
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}

	var toRevert []Migration
	for i := len(migrations) - 1; i >= 0; i-- {
		if _, ok := applied[migrations[i].Version]; ok {
			toRevert = append(toRevert, migrations[i])
		}
	}
	if opts.Steps > len(toRevert) {
		return fmt.Errorf("requested %d down migrations but only %d are applied", opts.Steps, len(toRevert))
	}
	toRevert = toRevert[:opts.Steps]

	if !opts.Force {
		for _, m := range toRevert {
			for _, table := range m.Tables {
				if !ledgerTables[table] {
					continue
				}
				n, err := countRows(ctx, conn, table)
				if err != nil {
					return err
				}
				if n > 0 {
					return fmt.Errorf("revert migration %04d (%s): %w: %s has %d rows", m.Version, m.Name, ErrLedgerData, table, n)
				}
			}
		}
	}

	log := logging.Component("db")
	for _, m := range toRevert {
		log.Info().Int("version", m.Version).Str("name", m.Name).Strs("tables", m.Tables).Bool("force", opts.Force).Msg("reverting migration")
		if err := revertMigration(ctx, conn, m); err != nil {
			return fmt.Errorf("revert migration %04d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, conn *sql.DB) error {
	_, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}
	return nil
}

// appliedVersions maps each applied version to when it was applied.
func appliedVersions(ctx context.Context, conn *sql.DB) (map[int]time.Time, error) {
	rows, err := conn.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("querying applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var (
			v  int
			at int64
		)
		if err := rows.Scan(&v, &at); err != nil {
			return nil, fmt.Errorf("scanning version: %w", err)
		}
		applied[v] = time.Unix(0, at).UTC()
	}
	return applied, rows.Err()
}

// countRows is only called with names parsed from embedded migrations.
func countRows(ctx context.Context, conn *sql.DB, table string) (int64, error) {
	var n int64
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM "`+table+`"`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s rows: %w", table, err)
	}
	return n, nil
}

// applyMigration executes up SQL and records the version in one transaction.
func applyMigration(ctx context.Context, conn *sql.DB, m Migration) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		m.Version, m.Name, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}

// revertMigration executes down SQL and removes the version record in one transaction.
func revertMigration(ctx context.Context, conn *sql.DB, m Migration) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.DownSQL); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", m.Version); err != nil {
		return fmt.Errorf("removing migration record: %w", err)
	}
	return tx.Commit()
}

// MigrationStatus describes one embedded migration. Rows is the total row
// count of the tables it created and is zero while unapplied.
type MigrationStatus struct {
	Version   int        `json:"version"`
	Name      string     `json:"name"`
	Applied   bool       `json:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
	Tables    []string   `json:"tables"`
	Ledger    bool       `json:"ledger"`
	Rows      int64      `json:"rows"`
}

// Migrations lists every embedded migration with its applied state and the
// amount of data its tables hold.
func (db *DB) Migrations(ctx context.Context) ([]MigrationStatus, error) {
	migrations, err := loadMigrations()
	if err != nil {
		return nil, fmt.Errorf("loading migrations: %w", err)
	}
	applied, err := appliedVersions(ctx, db.conn)
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, 0, len(migrations))
	for _, m := range migrations {
		s := MigrationStatus{
			Version: m.Version,
			Name:    m.Name,
			Tables:  m.Tables,
			Ledger:  m.Ledger(),
		}
		if at, ok := applied[m.Version]; ok {
			s.Applied = true
			s.AppliedAt = &at
			for _, table := range m.Tables {
				n, err := countRows(ctx, db.conn, table)
				if err != nil {
					return nil, err
				}
				s.Rows += n
			}
		}
		out = append(out, s)
	}
	return out, nil
}
