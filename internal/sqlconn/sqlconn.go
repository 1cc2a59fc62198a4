// Package sqlconn is the Connection Factory: it resolves a database key to
// its on-disk files and opens a *sql.DB with the attach/pragma matrix for
// one of three access modes, ported from gateway/src/db/connection.rs.
package sqlconn

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/mesh-intelligence/panoptikon-gw/internal/apierr"
)

// Paths locates the three per-tenant database files for a db key.
type Paths struct {
	IndexFile    string
	StorageFile  string
	UserDataFile string
}

// Resolve computes Paths for a db key under dataRoot, creating the parent
// directories the way db_paths() does in the original.
func Resolve(dataRoot, dbKey string) (Paths, error) {
	p := Paths{
		IndexFile:    filepath.Join(dataRoot, "index", dbKey, "index.db"),
		StorageFile:  filepath.Join(dataRoot, "index", dbKey, "storage.db"),
		UserDataFile: filepath.Join(dataRoot, "user_data", dbKey+".db"),
	}
	if err := os.MkdirAll(filepath.Dir(p.IndexFile), 0o755); err != nil {
		return Paths{}, fmt.Errorf("sqlconn: creating index dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.UserDataFile), 0o755); err != nil {
		return Paths{}, fmt.Errorf("sqlconn: creating user_data dir: %w", err)
	}
	return p, nil
}

// Mode selects which of the three attach/pragma matrices a connection is
// opened with.
type Mode int

const (
	// ReadOnly attaches storage and user_data both read-only.
	ReadOnly Mode = iota
	// UserDataWrite opens index as the main database read-write and
	// attaches storage and user_data read-write (user_data in WAL mode).
	// The index is not held read-only in this mode.
	UserDataWrite
	// IndexWrite attaches storage read-write and does not attach
	// user_data at all; used only by the Writer Actor.
	IndexWrite
)

// forceReadOnly mirrors the original's READONLY environment variable,
// which downgrades every write-capable mode to pure read-only regardless
// of what the caller requested.
func forceReadOnly() bool {
	v := os.Getenv("READONLY")
	return v == "1" || v == "true"
}

// Open opens a connection to the given paths in the requested Mode.
func Open(ctx context.Context, paths Paths, mode Mode) (*sql.DB, error) {
	if forceReadOnly() {
		mode = ReadOnly
	}

	switch mode {
	case IndexWrite:
		return openIndexWrite(ctx, paths)
	case UserDataWrite:
		return openAttached(ctx, paths, true)
	default:
		return openAttached(ctx, paths, false)
	}
}

func openIndexWrite(ctx context.Context, paths Paths) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file:"+paths.IndexFile+"?_pragma=busy_timeout(5000)&_txlock=immediate")
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "opening index db for write", err)
	}
	// ATTACH is connection-scoped; a pool handing out a second, unattached
	// connection would silently lose the storage attachment.
	db.SetMaxOpenConns(1)

	if err := execAll(ctx, db,
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("ATTACH DATABASE '%s' AS storage", escapeSQLString(paths.StorageFile)),
		"PRAGMA foreign_keys=ON",
		"PRAGMA case_sensitive_like=ON",
	); err != nil {
		_ = db.Close()
		return nil, apierr.Wrap(apierr.KindInternal, "configuring index-write connection", err)
	}
	return db, nil
}

func openAttached(ctx context.Context, paths Paths, userDataWritable bool) (*sql.DB, error) {
	indexDSN := "file:" + paths.IndexFile
	if !userDataWritable {
		indexDSN += "?mode=ro"
	}

	db, err := sql.Open("sqlite3", indexDSN)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "opening index db", err)
	}
	// Same reasoning as openIndexWrite: ATTACH only lives on the connection
	// that issued it, so the pool can never grow past one connection.
	db.SetMaxOpenConns(1)

	stmts := []string{
		fmt.Sprintf("ATTACH DATABASE '%s' AS storage", escapeSQLString(paths.StorageFile)),
	}

	if userDataWritable {
		stmts = append(stmts,
			fmt.Sprintf("ATTACH DATABASE '%s' AS user_data", escapeSQLString(paths.UserDataFile)),
			"PRAGMA user_data.journal_mode=WAL",
		)
	} else {
		stmts = append(stmts,
			fmt.Sprintf("ATTACH DATABASE '%s' AS user_data", escapeSQLString(paths.UserDataFile)),
		)
	}

	stmts = append(stmts, "PRAGMA foreign_keys=ON", "PRAGMA case_sensitive_like=ON")

	if err := execAll(ctx, db, stmts...); err != nil {
		_ = db.Close()
		return nil, apierr.Wrap(apierr.KindInternal, "configuring read connection", err)
	}
	return db, nil
}

func execAll(ctx context.Context, db *sql.DB, stmts ...string) error {
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("%s: %w", s, err)
		}
	}
	return nil
}

func escapeSQLString(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
