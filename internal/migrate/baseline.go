package migrate

import (
	"context"
	"database/sql"
	"time"
)

// ensureBaselineIfNeeded lets the migration engine coexist with a database
// file that already has user tables but was never touched by this engine
// (e.g. created by an older, pre-migration build, or a hand-authored test
// fixture). If the database has no user tables at all, there is nothing to
// baseline and migrations simply start from version 1. If it has user
// tables and the migrations table already has applied rows, it has already
// been baselined or migrated normally; nothing to do. Otherwise, the first
// migration is recorded as already applied without running its SQL, since
// that SQL would conflict with the tables the database already has, and
// migrations resume from the second version forward.
//
// Ported from ensure_baseline_if_needed in the original Rust migrator.
func ensureBaselineIfNeeded(ctx context.Context, conn *sql.Conn, migrations []Migration) error {
	hasTables, err := hasUserTables(ctx, conn)
	if err != nil {
		return err
	}
	if !hasTables {
		return nil
	}

	migrationsTableExists, err := tableExists(ctx, conn, "_schema_migrations")
	if err != nil {
		return err
	}

	if migrationsTableExists {
		count, err := appliedCount(ctx, conn)
		if err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
	}

	if _, err := conn.ExecContext(ctx, migrationsTable); err != nil {
		return err
	}

	if len(migrations) == 0 {
		return nil
	}

	first := migrations[0]
	_, err = conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO _schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`,
		first.Version, first.Description, time.Now().UTC().Format(time.RFC3339))
	return err
}

func hasUserTables(ctx context.Context, conn *sql.Conn) (bool, error) {
	var count int
	err := conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'table'
		  AND name NOT LIKE 'sqlite_%'
		  AND name != '_schema_migrations'
	`).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func tableExists(ctx context.Context, conn *sql.Conn, name string) (bool, error) {
	var count int
	err := conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func appliedCount(ctx context.Context, conn *sql.Conn) (int, error) {
	var count int
	err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM _schema_migrations`).Scan(&count)
	return count, err
}
