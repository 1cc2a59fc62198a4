package jobqueue

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/mesh-intelligence/panoptikon-gw/internal/filescan"
	"github.com/mesh-intelligence/panoptikon-gw/internal/indexwriter"
	"github.com/mesh-intelligence/panoptikon-gw/internal/migrate"
	"github.com/mesh-intelligence/panoptikon-gw/internal/sqlconn"
)

func newRunnerWriter(t *testing.T) (*indexwriter.Writer, sqlconn.Paths) {
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
	w := indexwriter.New("lib", paths, indexwriter.DefaultConfig(), nil)
	t.Cleanup(w.Stop)
	return w, paths
}

func countFiles(t *testing.T, paths sqlconn.Paths, path string) int {
	t.Helper()
	conn, err := sqlconn.Open(context.Background(), paths, sqlconn.ReadOnly)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	var count int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM files WHERE path = ?`, path).Scan(&count); err != nil && err != sql.ErrNoRows {
		t.Fatalf("query: %v", err)
	}
	return count
}

func TestRunFolderUpdatePrunesFilesOutsideTheNewFolderShape(t *testing.T) {
	w, paths := newRunnerWriter(t)

	scanIDVal, err := w.Submit(context.Background(), indexwriter.AddFileScan("/seed"))
	if err != nil {
		t.Fatalf("add scan: %v", err)
	}
	scanID := scanIDVal.(int64)

	for _, f := range []struct{ path, sha string }{
		{"/keep/a.jpg", "sha-keep"},
		{"/excluded/b.jpg", "sha-excluded"},
	} {
		if _, err := w.Submit(context.Background(), indexwriter.UpdateFileData(indexwriter.FileScanData{
			SHA256: f.sha, MD5: "m-" + f.sha, MimeType: "image/jpeg", FileSize: 1,
			LastModified: time.Now(), Path: f.path,
		}, scanID)); err != nil {
			t.Fatalf("seed %s: %v", f.path, err)
		}
	}

	if _, err := w.Submit(context.Background(), indexwriter.AddFolderToDatabase("/keep", true)); err != nil {
		t.Fatalf("add included folder: %v", err)
	}
	if _, err := w.Submit(context.Background(), indexwriter.AddFolderToDatabase("/excluded", false)); err != nil {
		t.Fatalf("add excluded folder: %v", err)
	}

	keepDir := t.TempDir()

	runner := &DefaultRunner{
		WriterFor:  func(ctx context.Context, dbKey string) (filescan.WriterHandle, error) { return w, nil },
		ScanConfig: func(dbKey string) filescan.ExtensionSet { return filescan.ExtensionSet{Images: true} },
	}

	err = runner.Run(context.Background(), Job{
		Kind: KindFolderUpdate,
		Params: JobParams{
			DBKey:    "lib",
			Metadata: map[string]string{"path": keepDir},
		},
	})
	if err != nil {
		t.Fatalf("run folder update: %v", err)
	}

	if countFiles(t, paths, "/keep/a.jpg") != 1 {
		t.Fatal("expected the file under the included folder to remain")
	}
	if countFiles(t, paths, "/excluded/b.jpg") != 0 {
		t.Fatal("expected the file under the excluded folder to be pruned")
	}
}

func TestRunFolderRescanDoesNotReconcileFolders(t *testing.T) {
	w, paths := newRunnerWriter(t)

	scanIDVal, _ := w.Submit(context.Background(), indexwriter.AddFileScan("/seed"))
	scanID := scanIDVal.(int64)
	if _, err := w.Submit(context.Background(), indexwriter.UpdateFileData(indexwriter.FileScanData{
		SHA256: "sha-stray", MD5: "m", MimeType: "image/jpeg", FileSize: 1,
		LastModified: time.Now(), Path: "/stray/c.jpg",
	}, scanID)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rescanDir := t.TempDir()
	runner := &DefaultRunner{
		WriterFor:  func(ctx context.Context, dbKey string) (filescan.WriterHandle, error) { return w, nil },
		ScanConfig: func(dbKey string) filescan.ExtensionSet { return filescan.ExtensionSet{Images: true} },
	}

	if err := runner.Run(context.Background(), Job{
		Kind:   KindFolderRescan,
		Params: JobParams{DBKey: "lib", Metadata: map[string]string{"path": rescanDir}},
	}); err != nil {
		t.Fatalf("run folder rescan: %v", err)
	}

	if countFiles(t, paths, "/stray/c.jpg") != 1 {
		t.Fatal("a plain rescan must not prune files outside any configured folder")
	}
}
