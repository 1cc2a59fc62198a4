// Package migrate implements the gateway's forward-only SQL migration
// engine, ported from the original service's sqlx-based migrators
// (gateway/src/db/migrations.rs) with its baseline-detection algorithm for
// coexisting with pre-existing, non-migration-created databases.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/mesh-intelligence/panoptikon-gw/internal/apierr"
)

//go:embed sql/index/*.sql sql/storage/*.sql sql/user_data/*.sql
var migrationFS embed.FS

// Lineage identifies which of the three per-tenant SQLite files a set of
// migrations applies to.
type Lineage string

const (
	LineageIndex    Lineage = "index"
	LineageStorage  Lineage = "storage"
	LineageUserData Lineage = "user_data"
)

// Migration is one forward-only schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrationsTable is shared across all three lineages; each physical
// SQLite file only ever contains migrations from one lineage, so a single
// table name never collides.
const migrationsTable = `
CREATE TABLE IF NOT EXISTS _schema_migrations (
    version INTEGER PRIMARY KEY,
    description TEXT NOT NULL,
    applied_at TEXT NOT NULL
)`

// Migrations returns the ordered migration set for a lineage, loaded from
// the embedded .sql files the way sqlx::migrate! embeds its migrations
// directory at compile time in the original.
func Migrations(lineage Lineage) ([]Migration, error) {
	dir := "sql/" + string(lineage)
	entries, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return nil, fmt.Errorf("migrate: reading embedded migrations for %s: %w", lineage, err)
	}

	var out []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, desc, err := parseMigrationName(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("migrate: %s/%s: %w", dir, entry.Name(), err)
		}
		data, err := migrationFS.ReadFile(path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("migrate: reading %s/%s: %w", dir, entry.Name(), err)
		}
		out = append(out, Migration{Version: version, Description: desc, SQL: string(data)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func parseMigrationName(name string) (int, string, error) {
	base := strings.TrimSuffix(name, ".sql")
	parts := strings.SplitN(base, "_", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("migration filename %q must be <version>_<description>.sql", name)
	}
	version, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", fmt.Errorf("migration filename %q has non-numeric version: %w", name, err)
	}
	return version, strings.ReplaceAll(parts[1], "_", " "), nil
}

// Run applies every pending migration for lineage to the already-open
// connection conn, running ensureBaselineIfNeeded first. It is the Go
// rendering of migrate_path in the original.
func Run(ctx context.Context, conn *sql.Conn, lineage Lineage, inMemory bool) error {
	migrations, err := Migrations(lineage)
	if err != nil {
		return err
	}

	if !inMemory {
		if err := ensureBaselineIfNeeded(ctx, conn, migrations); err != nil {
			return apierr.Wrap(apierr.KindMigrationFailed, "baseline detection failed", err)
		}
	}

	if _, err := conn.ExecContext(ctx, migrationsTable); err != nil {
		return apierr.Wrap(apierr.KindMigrationFailed, "creating migrations table", err)
	}

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return apierr.Wrap(apierr.KindMigrationFailed, "reading applied migrations", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := applyOne(ctx, conn, m); err != nil {
			return apierr.Wrap(apierr.KindMigrationFailed,
				fmt.Sprintf("applying %s migration version %d", lineage, m.Version), err)
		}
	}
	return nil
}

func applyOne(ctx context.Context, conn *sql.Conn, m Migration) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("executing migration body: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO _schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`,
		m.Version, m.Description, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("recording migration version %d: %w", m.Version, err)
	}

	return tx.Commit()
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM _schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}
