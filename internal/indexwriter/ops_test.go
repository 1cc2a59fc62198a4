package indexwriter

import (
	"context"
	"database/sql"
	"testing"
	"time"
)

func mustInsertFile(t *testing.T, w *Writer, path, sha256 string) {
	t.Helper()
	scanIDVal, err := w.Submit(context.Background(), AddFileScan("/media"))
	if err != nil {
		t.Fatalf("add scan: %v", err)
	}
	_, err = w.Submit(context.Background(), UpdateFileData(FileScanData{
		SHA256: sha256, MD5: "md5-" + sha256, MimeType: "image/jpeg", FileSize: 1,
		LastModified: time.Now(), Path: path,
	}, scanIDVal.(int64)))
	if err != nil {
		t.Fatalf("insert %s: %v", path, err)
	}
}

func TestSetBlurhashUpdatesMatchingItems(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()
	mustInsertFile(t, w, "/media/a.jpg", "sha-a")

	changed, err := w.Submit(ctx, SetBlurhash("sha-a", "LKO2?U%2Tw=w]~RBVZRi};RPxuwH"))
	if err != nil {
		t.Fatalf("set blurhash: %v", err)
	}
	if changed.(bool) != true {
		t.Fatal("expected the matching item's row to be affected")
	}

	_, err = w.Submit(ctx, func(ctx context.Context, tx *sql.Tx) (any, error) {
		var got string
		if err := tx.QueryRowContext(ctx, `SELECT blurhash FROM items WHERE sha256 = 'sha-a'`).Scan(&got); err != nil {
			return nil, err
		}
		if got != "LKO2?U%2Tw=w]~RBVZRi};RPxuwH" {
			t.Fatalf("blurhash not persisted, got %q", got)
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestUpsertSetterIsIdempotent(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()

	id1, err := w.Submit(ctx, UpsertSetter("clip-vit-b32"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	id2, err := w.Submit(ctx, UpsertSetter("clip-vit-b32"))
	if err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	if id1.(int64) != id2.(int64) {
		t.Fatalf("expected the same setter id on repeated upsert, got %d and %d", id1, id2)
	}
}

func TestInsertItemDataAndEmbeddingRoundTrip(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()
	mustInsertFile(t, w, "/media/b.jpg", "sha-b")

	setterID, err := w.Submit(ctx, UpsertSetter("clip-vit-b32"))
	if err != nil {
		t.Fatalf("upsert setter: %v", err)
	}
	_ = setterID

	logIDVal, err := w.Submit(ctx, func(ctx context.Context, tx *sql.Tx) (any, error) {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO data_extraction_log (start_time, type, setter, batch_size)
			VALUES ('2026-01-01T00:00:00Z', 'clip', 'clip-vit-b32', 8)
		`)
		if err != nil {
			return nil, err
		}
		return res.LastInsertId()
	})
	if err != nil {
		t.Fatalf("insert extraction log: %v", err)
	}

	dataID, err := w.Submit(ctx, InsertItemData(ItemDataEntry{
		ItemSHA256: "sha-b",
		SetterName: "clip-vit-b32",
		JobID:      logIDVal.(int64),
		DataType:   "clip",
		Index:      0,
	}))
	if err != nil {
		t.Fatalf("insert item_data: %v", err)
	}

	stored, err := w.Submit(ctx, InsertEmbedding(dataID.(int64), []byte{1, 2, 3, 4}))
	if err != nil {
		t.Fatalf("insert embedding: %v", err)
	}
	if stored.(bool) != true {
		t.Fatal("expected the embedding row to be inserted")
	}
}

func TestUpsertTagCreatesTagOnceAndUpdatesConfidence(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()
	mustInsertFile(t, w, "/media/c.jpg", "sha-c")

	var itemID int64
	if _, err := w.Submit(ctx, func(ctx context.Context, tx *sql.Tx) (any, error) {
		return nil, tx.QueryRowContext(ctx, `SELECT id FROM items WHERE sha256 = 'sha-c'`).Scan(&itemID)
	}); err != nil {
		t.Fatalf("lookup item id: %v", err)
	}

	if _, err := w.Submit(ctx, UpsertTag("character", "frieren", "wd14", itemID, 0.8)); err != nil {
		t.Fatalf("tag: %v", err)
	}
	if _, err := w.Submit(ctx, UpsertTag("character", "frieren", "wd14", itemID, 0.95)); err != nil {
		t.Fatalf("retag: %v", err)
	}

	_, err := w.Submit(ctx, func(ctx context.Context, tx *sql.Tx) (any, error) {
		var count int
		var confidence float64
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tags_setters WHERE namespace = 'character' AND name = 'frieren'`).Scan(&count); err != nil {
			return nil, err
		}
		if count != 1 {
			t.Fatalf("expected exactly one tags_setters row, got %d", count)
		}
		if err := tx.QueryRowContext(ctx, `
			SELECT ti.confidence FROM tags_items ti
			JOIN tags_setters ts ON ts.id = ti.tag_id
			WHERE ti.item_id = ? AND ts.namespace = 'character' AND ts.name = 'frieren'
		`, itemID).Scan(&confidence); err != nil {
			return nil, err
		}
		if confidence != 0.95 {
			t.Fatalf("expected confidence refreshed to 0.95, got %v", confidence)
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestStoreFramesAndDeleteOrphanedFrames(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()
	mustInsertFile(t, w, "/media/d.mp4", "sha-d")

	n, err := w.Submit(ctx, StoreFrames([]StoredFrame{
		{SHA256: "sha-d", MimeType: "video/mp4", ProcessVersion: 1, IndexInFile: 0, TimestampSeconds: 0, Data: []byte{1}},
		{SHA256: "sha-d", MimeType: "video/mp4", ProcessVersion: 1, IndexInFile: 1, TimestampSeconds: 1.5, Data: []byte{2}},
		{SHA256: "orphan-sha", MimeType: "video/mp4", ProcessVersion: 1, IndexInFile: 0, TimestampSeconds: 0, Data: []byte{3}},
	}))
	if err != nil {
		t.Fatalf("store frames: %v", err)
	}
	if n.(int) != 3 {
		t.Fatalf("expected 3 frames stored, got %v", n)
	}

	deleted, err := w.Submit(ctx, DeleteOrphanedFrames())
	if err != nil {
		t.Fatalf("sweep orphans: %v", err)
	}
	if deleted.(int64) != 1 {
		t.Fatalf("expected exactly the orphan-sha frame pruned, got %v", deleted)
	}

	_, err = w.Submit(ctx, func(ctx context.Context, tx *sql.Tx) (any, error) {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM storage.stored_frames WHERE sha256 = 'sha-d'`).Scan(&count); err != nil {
			return nil, err
		}
		if count != 2 {
			t.Fatalf("expected sha-d's frames to survive the sweep, got %d", count)
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestDeleteFilesUnderExcludedAndNotUnderIncludedFolders(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()
	mustInsertFile(t, w, "/keep/a.jpg", "sha-keep")
	mustInsertFile(t, w, "/excluded/b.jpg", "sha-excluded")
	mustInsertFile(t, w, "/stray/c.jpg", "sha-stray")

	if _, err := w.Submit(ctx, AddFolderToDatabase("/keep", true)); err != nil {
		t.Fatalf("add included folder: %v", err)
	}
	if _, err := w.Submit(ctx, AddFolderToDatabase("/excluded", false)); err != nil {
		t.Fatalf("add excluded folder: %v", err)
	}

	if _, err := w.Submit(ctx, DeleteFilesUnderExcludedFolders()); err != nil {
		t.Fatalf("delete under excluded: %v", err)
	}
	if _, err := w.Submit(ctx, DeleteFilesNotUnderIncludedFolders()); err != nil {
		t.Fatalf("delete not under included: %v", err)
	}

	_, err := w.Submit(ctx, func(ctx context.Context, tx *sql.Tx) (any, error) {
		for path, want := range map[string]int{
			"/keep/a.jpg":     1,
			"/excluded/b.jpg": 0,
			"/stray/c.jpg":    0,
		} {
			var count int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE path = ?`, path).Scan(&count); err != nil {
				return nil, err
			}
			if count != want {
				t.Fatalf("path %s: expected %d rows, got %d", path, want, count)
			}
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}
