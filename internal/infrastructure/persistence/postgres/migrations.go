package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/codekids/codekids-hub/internal/domain/achievement"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// seedVersion has no up file. Its SQL is rendered from the achievement
// catalog so the table never drifts from the code.
const seedVersion = 4

// advisoryLockID serialises Migrate across instances starting together.
const advisoryLockID = 0x636b6d67

// Migration is one schema step. Files are named NNN_name.up.sql and
// NNN_name.down.sql.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// GetMigrations returns the embedded migrations in version order.
func GetMigrations() []Migration {
	migs, err := LoadMigrations(migrationFiles, "migrations")
	if err != nil {
		// The embedded files are fixed at build time.
		panic(err)
	}
	for i := range migs {
		if migs[i].Version == seedVersion {
			migs[i].UpSQL = SeedAchievementTypesSQL(achievement.DefaultCatalog())
		}
	}
	return migs
}

// LoadMigrations reads NNN_name.{up,down}.sql files from dir.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	byVersion := map[int]*Migration{}
	for _, e := range entries {
		base, direction, ok := splitMigrationName(e.Name())
		if !ok {
			continue
		}
		num, name, _ := strings.Cut(base, "_")
		version, err := strconv.Atoi(num)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("%w: bad file name %q", ErrMigrationFailed, e.Name())
		}

		body, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		} else if m.Name != name {
			return nil, fmt.Errorf("%w: version %d has two names (%s, %s)", ErrMigrationFailed, version, m.Name, name)
		}
		if direction == "up" {
			m.UpSQL = string(body)
		} else {
			m.DownSQL = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func splitMigrationName(file string) (base, direction string, ok bool) {
	stem, found := strings.CutSuffix(file, ".sql")
	if !found {
		return "", "", false
	}
	for _, d := range []string{"up", "down"} {
		if b, found := strings.CutSuffix(stem, "."+d); found {
			return b, d, true
		}
	}
	return "", "", false
}

// SeedAchievementTypesSQL renders an idempotent insert of the catalog.
func SeedAchievementTypesSQL(catalog []achievement.Type) string {
	var b strings.Builder
	b.WriteString("INSERT INTO achievement_types (type, title, description, icon_url, points, category) VALUES\n")
	for i, t := range catalog {
		if i > 0 {
			b.WriteString(",\n")
		}
		fmt.Fprintf(&b, "    (%s, %s, %s, %s, %d, %s)",
			quote(string(t.Key)), quote(t.Title), quote(t.Description), quote(t.Icon), t.Points, quote(string(t.Category)))
	}
	b.WriteString("\nON CONFLICT (type) DO NOTHING;\n")
	return b.String()
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migrator applies migrations and records them in schema_migrations. Each
// step runs in its own transaction together with its bookkeeping row.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: GetMigrations()}
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	if _, err := m.conn.Exec(ctx, createMigrationsTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}
	rows, err := m.conn.Query(ctx, "SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	out := map[int]time.Time{}
	for rows.Next() {
		var v int
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, err
		}
		out[v] = at
	}
	return out, rows.Err()
}

// Migrate applies every pending migration in order.
func (m *Migrator) Migrate(ctx context.Context) error {
	done, err := m.applied(ctx)
	if err != nil {
		return err
	}
	for _, mig := range m.migrations {
		if _, ok := done[mig.Version]; ok {
			continue
		}
		if mig.UpSQL == "" {
			return fmt.Errorf("%w: %03d_%s has no up SQL", ErrMigrationFailed, mig.Version, mig.Name)
		}
		err := m.step(ctx, mig.UpSQL, func(tx pgx.Tx) (bool, error) {
			var exists bool
			err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)", mig.Version).Scan(&exists)
			if err != nil || exists {
				return false, err
			}
			_, err = tx.Exec(ctx, "INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", mig.Version, mig.Name)
			return true, err
		})
		if err != nil {
			return fmt.Errorf("%w: %03d_%s: %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
	}
	return nil
}

// Rollback reverts the newest applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	done, err := m.applied(ctx)
	if err != nil {
		return err
	}
	latest := 0
	for v := range done {
		latest = max(latest, v)
	}
	if latest == 0 {
		return nil
	}

	for _, mig := range m.migrations {
		if mig.Version != latest {
			continue
		}
		if mig.DownSQL == "" {
			return fmt.Errorf("%w: %03d_%s has no down SQL", ErrMigrationFailed, mig.Version, mig.Name)
		}
		return m.step(ctx, mig.DownSQL, func(tx pgx.Tx) (bool, error) {
			tag, err := tx.Exec(ctx, "DELETE FROM schema_migrations WHERE version = $1", mig.Version)
			return tag.RowsAffected() == 1, err
		})
	}
	return fmt.Errorf("%w: applied version %d is unknown to this build", ErrMigrationFailed, latest)
}

// step takes the advisory lock, runs book to claim the step and then runs
// sql. A step another instance already claimed is skipped.
func (m *Migrator) step(ctx context.Context, sql string, book func(pgx.Tx) (bool, error)) error {
	return m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockID); err != nil {
			return err
		}
		claimed, err := book(tx)
		if err != nil || !claimed {
			return err
		}
		_, err = tx.Exec(ctx, sql)
		return err
	})
}

// Status lists every known migration with its applied time.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	done, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)
	for i := range out {
		out[i].AppliedAt, out[i].IsApplied = done[out[i].Version]
	}
	return out, nil
}
