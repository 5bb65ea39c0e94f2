package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/lgulliver/tusgate/pkg/config"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

const (
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"
)

// Migration is one versioned schema change
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// Migrator applies migrations to a PostgreSQL database
type Migrator struct {
	db         *sql.DB
	migrations []Migration
}

// Open connects to the configured PostgreSQL database and loads the migrations in dir
func Open(ctx context.Context, cfg *config.DatabaseConfig, migrationsFS fs.FS, dir string) (*Migrator, error) {
	migrations, err := Load(migrationsFS, dir)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return New(db, migrations), nil
}

// New creates a migrator over an open database
func New(db *sql.DB, migrations []Migration) *Migrator {
	return &Migrator{db: db, migrations: migrations}
}

// Load reads every NNN_name.sql file of dir, ordered by version
func Load(migrationsFS fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		content, err := fs.ReadFile(migrationsFS, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}

		migration, err := Parse(entry.Name(), string(content))
		if err != nil {
			return nil, err
		}
		if other, ok := seen[migration.Version]; ok {
			return nil, fmt.Errorf("migrations %s and %s share version %d", other, entry.Name(), migration.Version)
		}
		seen[migration.Version] = entry.Name()

		migrations = append(migrations, migration)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// Parse splits a migration file into its up and down statements.
// Lines before the first marker belong to the up part.
func Parse(filename, content string) (Migration, error) {
	prefix, rest, ok := strings.Cut(filename, "_")
	if !ok {
		return Migration{}, fmt.Errorf("invalid migration filename format: %s", filename)
	}

	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return Migration{}, fmt.Errorf("invalid migration version in %s", filename)
	}

	var up, down []string
	inDown := false
	for _, line := range strings.Split(content, "\n") {
		switch strings.TrimSpace(line) {
		case upMarker:
			inDown = false
			continue
		case downMarker:
			inDown = true
			continue
		}

		if inDown {
			down = append(down, line)
		} else {
			up = append(up, line)
		}
	}

	migration := Migration{
		Version: version,
		Name:    strings.TrimSuffix(rest, ".sql"),
		UpSQL:   strings.TrimSpace(strings.Join(up, "\n")),
		DownSQL: strings.TrimSpace(strings.Join(down, "\n")),
	}
	if migration.UpSQL == "" {
		return Migration{}, fmt.Errorf("migration %s has no up statements", filename)
	}

	return migration, nil
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]bool, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	versions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		versions[version] = true
	}

	return versions, rows.Err()
}

// Pending returns the migrations not applied yet
func (m *Migrator) Pending(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	return pending(m.migrations, applied), nil
}

func pending(migrations []Migration, applied map[int]bool) []Migration {
	var out []Migration
	for _, migration := range migrations {
		if !applied[migration.Version] {
			out = append(out, migration)
		}
	}
	return out
}

// Up runs all pending migrations, each in its own transaction
func (m *Migrator) Up(ctx context.Context) error {
	todo, err := m.Pending(ctx)
	if err != nil {
		return err
	}

	if len(todo) == 0 {
		log.Info().Msg("No pending migrations")
		return nil
	}

	log.Info().Int("count", len(todo)).Msg("Running pending migrations")

	for _, migration := range todo {
		err := m.inTx(ctx, migration.UpSQL,
			"INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", migration.Version, migration.Name)
		if err != nil {
			return fmt.Errorf("failed to run migration %d (%s): %w", migration.Version, migration.Name, err)
		}
		log.Info().Int("version", migration.Version).Str("name", migration.Name).Msg("Applied migration")
	}

	return nil
}

// Down rolls back the most recently applied migration
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	var target *Migration
	for i := len(m.migrations) - 1; i >= 0; i-- {
		if applied[m.migrations[i].Version] {
			target = &m.migrations[i]
			break
		}
	}

	if target == nil {
		log.Info().Msg("No migrations to roll back")
		return nil
	}
	if target.DownSQL == "" {
		return fmt.Errorf("migration %d (%s) cannot be rolled back", target.Version, target.Name)
	}

	err = m.inTx(ctx, target.DownSQL, "DELETE FROM schema_migrations WHERE version = $1", target.Version)
	if err != nil {
		return fmt.Errorf("failed to roll back migration %d (%s): %w", target.Version, target.Name, err)
	}

	log.Info().Int("version", target.Version).Str("name", target.Name).Msg("Rolled back migration")
	return nil
}

// inTx executes a migration statement and its bookkeeping atomically
func (m *Migrator) inTx(ctx context.Context, statement, bookkeeping string, args ...interface{}) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, statement); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("failed to update migration record: %w", err)
	}

	return tx.Commit()
}

// Close closes the database connection
func (m *Migrator) Close() error {
	return m.db.Close()
}
