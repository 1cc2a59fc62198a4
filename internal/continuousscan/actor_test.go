package continuousscan

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mesh-intelligence/panoptikon-gw/internal/filescan"
	"github.com/mesh-intelligence/panoptikon-gw/internal/indexwriter"
	"github.com/mesh-intelligence/panoptikon-gw/internal/migrate"
	"github.com/mesh-intelligence/panoptikon-gw/internal/sqlconn"
)

func newTestWriter(t *testing.T) (*indexwriter.Writer, sqlconn.Paths) {
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
	return indexwriter.New("lib", paths, indexwriter.DefaultConfig(), nil), paths
}

func fileRowExists(t *testing.T, paths sqlconn.Paths, path string) bool {
	t.Helper()
	conn, err := sqlconn.Open(context.Background(), paths, sqlconn.ReadOnly)
	if err != nil {
		t.Fatalf("open read-only: %v", err)
	}
	defer conn.Close()

	var count int
	err = conn.QueryRow(`SELECT COUNT(*) FROM files WHERE path = ?`, path).Scan(&count)
	if err != nil && err != sql.ErrNoRows {
		t.Fatalf("query: %v", err)
	}
	return count > 0
}

func TestActorPollLoopIndexesNewFiles(t *testing.T) {
	writer, paths := newTestWriter(t)
	defer writer.Stop()

	mediaDir := t.TempDir()
	photo := filepath.Join(mediaDir, "photo.jpg")
	if err := os.WriteFile(photo, []byte("bytes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	a := NewActor(Config{
		DBKey:            "lib",
		IncludeRoots:     []string{mediaDir},
		Extensions:       filescan.ExtensionSet{Images: true},
		PollIntervalSecs: 1,
		NumWorkers:       1,
	}, writer, nil)
	defer a.Stop()

	deadline := time.Now().Add(3 * time.Second)
	var found bool
	for time.Now().Before(deadline) {
		if fileRowExists(t, paths, photo) {
			found = true
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !found {
		t.Fatal("expected polling actor to index the newly created file")
	}
}

func TestStaleEpochWorkerResultIsDropped(t *testing.T) {
	writer, paths := newTestWriter(t)
	defer writer.Stop()

	a := NewActor(Config{
		DBKey:        "lib",
		IncludeRoots: []string{t.TempDir()},
		Extensions:   filescan.ExtensionSet{Images: true},
		NumWorkers:   1,
	}, writer, nil)
	defer a.Stop()

	if err := a.Pause(context.Background()); err != nil {
		t.Fatalf("pause: %v", err)
	}

	stalePath := filepath.Join(t.TempDir(), "stale.jpg")
	a.mailbox <- actorMsg{workerResult: &workResult{
		epoch:  0,
		upsert: true,
		path:   stalePath,
		data: indexwriter.FileScanData{
			Path: stalePath, SHA256: "deadbeef", FileSize: 4, LastModified: time.Now(),
		},
	}}

	time.Sleep(100 * time.Millisecond)
	if fileRowExists(t, paths, stalePath) {
		t.Fatal("expected a worker result computed before pause to be dropped, not written")
	}
}

func TestRemoveEventDeletesOnlyAfterReStatConfirmsGone(t *testing.T) {
	writer, paths := newTestWriter(t)
	defer writer.Stop()

	mediaDir := t.TempDir()
	photo := filepath.Join(mediaDir, "photo.jpg")
	if err := os.WriteFile(photo, []byte("bytes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	a := NewActor(Config{
		DBKey:        "lib",
		IncludeRoots: []string{mediaDir},
		Extensions:   filescan.ExtensionSet{Images: true},
		NumWorkers:   1,
	}, writer, nil)
	defer a.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && !fileRowExists(t, paths, photo) {
		a.mailbox <- actorMsg{fsEvent: &fsnotify.Event{Name: photo, Op: fsnotify.Create}}
		time.Sleep(50 * time.Millisecond)
	}
	if !fileRowExists(t, paths, photo) {
		t.Fatal("expected initial create event to index the file")
	}

	if err := os.Remove(photo); err != nil {
		t.Fatalf("remove: %v", err)
	}
	a.mailbox <- actorMsg{fsEvent: &fsnotify.Event{Name: photo, Op: fsnotify.Remove}}

	deadline = time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && fileRowExists(t, paths, photo) {
		time.Sleep(50 * time.Millisecond)
	}
	if fileRowExists(t, paths, photo) {
		t.Fatal("expected a confirmed-gone remove event to delete the file row")
	}
}

func TestRemoveEventReStatSurvivesQuickRecreate(t *testing.T) {
	writer, paths := newTestWriter(t)
	defer writer.Stop()

	mediaDir := t.TempDir()
	photo := filepath.Join(mediaDir, "photo.jpg")
	if err := os.WriteFile(photo, []byte("bytes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	a := NewActor(Config{
		DBKey:        "lib",
		IncludeRoots: []string{mediaDir},
		Extensions:   filescan.ExtensionSet{Images: true},
		NumWorkers:   1,
	}, writer, nil)
	defer a.Stop()

	// The file is still present when the remove event is handled (an atomic
	// editor save: unlink+recreate under the same path), so the worker's
	// re-stat must resolve this to an upsert, not a delete.
	a.mailbox <- actorMsg{fsEvent: &fsnotify.Event{Name: photo, Op: fsnotify.Remove}}

	deadline := time.Now().Add(3 * time.Second)
	var found bool
	for time.Now().Before(deadline) {
		if fileRowExists(t, paths, photo) {
			found = true
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !found {
		t.Fatal("expected a remove event on a still-present path to upsert, not silently drop")
	}
}

func TestActorPauseThenResumeDoesNotBlock(t *testing.T) {
	writer, _ := newTestWriter(t)
	defer writer.Stop()

	a := NewActor(Config{
		DBKey:        "lib",
		IncludeRoots: []string{t.TempDir()},
		Extensions:   filescan.ExtensionSet{Images: true},
		NumWorkers:   1,
	}, writer, nil)
	defer a.Stop()

	if err := a.Pause(context.Background()); err != nil {
		t.Fatalf("pause: %v", err)
	}
	a.Resume()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := a.Pause(ctx); err != nil {
		t.Fatalf("pause after resume: %v", err)
	}
}
