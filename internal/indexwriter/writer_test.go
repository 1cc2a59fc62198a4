package indexwriter

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/mesh-intelligence/panoptikon-gw/internal/migrate"
	"github.com/mesh-intelligence/panoptikon-gw/internal/sqlconn"
)

func newTestWriter(t *testing.T) *Writer {
	t.Helper()
	root := t.TempDir()
	ctx := context.Background()

	if err := migrate.MigrateOne(ctx, root, "lib"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	paths, err := sqlconn.Resolve(root, "lib")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	cfg := DefaultConfig()
	cfg.IdleTimeout = 50 * time.Millisecond
	cfg.IdleCheckInterval = 10 * time.Millisecond

	w := New("lib", paths, cfg, nil)
	t.Cleanup(w.Stop)
	return w
}

func TestSubmitInsertsAndCommits(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()

	scanIDVal, err := w.Submit(ctx, AddFileScan("/media"))
	if err != nil {
		t.Fatalf("add scan: %v", err)
	}
	scanID := scanIDVal.(int64)

	_, err = w.Submit(ctx, UpdateFileData(FileScanData{
		SHA256:       "abc123",
		MD5:          "md5abc",
		MimeType:     "image/jpeg",
		FileSize:     1024,
		LastModified: time.Now(),
		Path:         "/media/a.jpg",
	}, scanID))
	if err != nil {
		t.Fatalf("update file data: %v", err)
	}

	_, err = w.Submit(ctx, func(ctx context.Context, tx *sql.Tx) (any, error) {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE path = '/media/a.jpg'`).Scan(&count); err != nil {
			return nil, err
		}
		if count != 1 {
			t.Fatalf("expected 1 file row, got %d", count)
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestDeleteFileByPathCascadesOrphanItem(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()

	scanIDVal, _ := w.Submit(ctx, AddFileScan("/media"))
	scanID := scanIDVal.(int64)

	_, err := w.Submit(ctx, UpdateFileData(FileScanData{
		SHA256: "onlycopy", MD5: "m", MimeType: "image/jpeg", FileSize: 1,
		LastModified: time.Now(), Path: "/media/only.jpg",
	}, scanID))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := w.Submit(ctx, DeleteFileByPath("/media/only.jpg")); err != nil {
		t.Fatalf("delete: %v", err)
	}

	_, err = w.Submit(ctx, func(ctx context.Context, tx *sql.Tx) (any, error) {
		var itemCount, fileCount int
		tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE sha256 = 'onlycopy'`).Scan(&itemCount)
		tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE path = '/media/only.jpg'`).Scan(&fileCount)
		if itemCount != 0 || fileCount != 0 {
			t.Fatalf("expected orphan cleanup, got items=%d files=%d", itemCount, fileCount)
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestIdleCheckClosesConnectionAfterTimeout(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()

	if _, err := w.Submit(ctx, AddFileScan("/media")); err != nil {
		t.Fatalf("submit: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	// Submitting again after the idle window must reopen transparently.
	if _, err := w.Submit(ctx, AddFileScan("/media")); err != nil {
		t.Fatalf("submit after idle close: %v", err)
	}
}

func TestRollbackOnOpErrorDropsNoRows(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()

	_, err := w.Submit(ctx, func(ctx context.Context, tx *sql.Tx) (any, error) {
		if _, err := tx.ExecContext(ctx, `INSERT INTO folders (time_added, path, included) VALUES ('now', '/x', 1)`); err != nil {
			return nil, err
		}
		return nil, context.DeadlineExceeded
	})
	if err == nil {
		t.Fatal("expected op error to propagate")
	}

	_, err = w.Submit(ctx, func(ctx context.Context, tx *sql.Tx) (any, error) {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM folders WHERE path = '/x'`).Scan(&count); err != nil {
			return nil, err
		}
		if count != 0 {
			t.Fatalf("expected rollback, found %d rows", count)
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}
