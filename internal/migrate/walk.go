package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mesh-intelligence/panoptikon-gw/internal/apierr"
)

// Paths locates the three per-tenant database files for a db key, the Go
// rendering of DbPaths in the original.
type Paths struct {
	IndexFile    string
	StorageFile  string
	UserDataFile string
}

func dbPaths(dataRoot, dbKey string) Paths {
	return Paths{
		IndexFile:    filepath.Join(dataRoot, "index", dbKey, "index.db"),
		StorageFile:  filepath.Join(dataRoot, "index", dbKey, "storage.db"),
		UserDataFile: filepath.Join(dataRoot, "user_data", dbKey+".db"),
	}
}

// MigrateOne migrates all three databases belonging to a single db key,
// creating parent directories as needed. Used for on-demand database
// creation as well as at startup.
func MigrateOne(ctx context.Context, dataRoot, dbKey string) error {
	paths := dbPaths(dataRoot, dbKey)

	if err := os.MkdirAll(filepath.Dir(paths.IndexFile), 0o755); err != nil {
		return fmt.Errorf("migrate: creating index dir for %s: %w", dbKey, err)
	}
	if err := os.MkdirAll(filepath.Dir(paths.UserDataFile), 0o755); err != nil {
		return fmt.Errorf("migrate: creating user_data dir for %s: %w", dbKey, err)
	}

	if err := migratePath(ctx, paths.IndexFile, LineageIndex); err != nil {
		return err
	}
	if err := migratePath(ctx, paths.StorageFile, LineageStorage); err != nil {
		return err
	}
	if err := migratePath(ctx, paths.UserDataFile, LineageUserData); err != nil {
		return err
	}
	return nil
}

func migratePath(ctx context.Context, file string, lineage Lineage) error {
	db, err := sql.Open("sqlite3", "file:"+file)
	if err != nil {
		return apierr.Wrap(apierr.KindMigrationFailed, "opening "+file, err)
	}
	defer db.Close()

	conn, err := db.Conn(ctx)
	if err != nil {
		return apierr.Wrap(apierr.KindMigrationFailed, "connecting to "+file, err)
	}
	defer conn.Close()

	return Run(ctx, conn, lineage, false)
}

// MigrateAll walks the db-key directories under dataRoot/index and migrates
// each key's index, storage and user_data databases; a user_data/*.db file
// with no matching index directory is not visited. A failure on one db key is recorded and does not
// prevent the rest from being migrated, matching migrate_all_databases_on_disk
// in the original and the Migration Engine's fault-isolation invariant in
// the core spec.
func MigrateAll(ctx context.Context, dataRoot string) map[string]error {
	failures := make(map[string]error)

	indexRoot := filepath.Join(dataRoot, "index")
	entries, err := os.ReadDir(indexRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return failures
		}
		failures["*"] = fmt.Errorf("migrate: reading %s: %w", indexRoot, err)
		return failures
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dbKey := entry.Name()
		if err := MigrateOne(ctx, dataRoot, dbKey); err != nil {
			failures[dbKey] = err
		}
	}
	return failures
}

// MigrateInMemory applies migrations to an already-open in-memory test
// connection for a single lineage, skipping baseline detection since a
// fresh in-memory database never has pre-existing user tables. Mirrors
// migrate_in_memory in the original.
func MigrateInMemory(ctx context.Context, conn *sql.Conn, lineage Lineage) error {
	return Run(ctx, conn, lineage, true)
}
