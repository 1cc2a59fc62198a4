package indexwriter

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"
)

// This file is a 1:1 port of the named SQL operations in
// gateway/src/db/{files,file_scans,folders,storage}.rs, each expressed as
// a WriteOp constructor so callers build requests by name instead of by
// hand-writing SQL at the call site.

// FileUpsertResult reports which rows a file-data write touched, mirroring
// FileUpsertResult in the original.
type FileUpsertResult struct {
	ItemInserted bool
	FileUpdated  bool
	FileDeleted  bool
	FileInserted bool
}

// FileScanData is what the File-Scan Service hands to UpdateFileData after
// hashing a candidate file.
type FileScanData struct {
	SHA256        string
	LastModified  time.Time
	Path          string
	NewFileHash   bool
	FileSize      int64
	MD5           string
	MimeType      string
}

// UpdateFileData inserts or updates the item+file rows for a scanned path.
// Ported from update_file_data: if the file's content hash changed, the old
// file row is deleted and a new item/file pair inserted (content changes are
// never updated in place); if the path is new entirely, a fresh item/file
// pair is inserted; if neither, only last_seen/scan_id/available are
// refreshed.
func UpdateFileData(data FileScanData, scanID int64) WriteOp {
	return func(ctx context.Context, tx *sql.Tx) (any, error) {
		now := time.Now().UTC().Format(time.RFC3339)
		result := FileUpsertResult{}

		var existingSHA256 sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT sha256 FROM files WHERE path = ?`, data.Path).Scan(&existingSHA256)
		switch {
		case err == sql.ErrNoRows:
			// brand new path
		case err != nil:
			return nil, fmt.Errorf("checking existing file: %w", err)
		case existingSHA256.String == data.SHA256:
			// unchanged content, just refresh bookkeeping
			_, err := tx.ExecContext(ctx,
				`UPDATE files SET last_seen = ?, scan_id = ?, available = 1 WHERE path = ?`,
				now, scanID, data.Path)
			if err != nil {
				return nil, fmt.Errorf("refreshing unchanged file: %w", err)
			}
			return result, nil
		default:
			// content changed under the same path: delete-then-insert, never
			// update the sha256 of an existing row in place.
			if err := deleteFileRow(ctx, tx, data.Path, &result); err != nil {
				return nil, err
			}
		}

		itemID, err := upsertItemForHash(ctx, tx, data, now, &result)
		if err != nil {
			return nil, err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO files (sha256, item_id, path, filename, scan_id, last_modified, last_seen, available)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		`, data.SHA256, itemID, data.Path, filepath.Base(data.Path), scanID,
			data.LastModified.UTC().Format(time.RFC3339), now)
		if err != nil {
			return nil, fmt.Errorf("inserting file row: %w", err)
		}
		result.FileInserted = true

		return result, nil
	}
}

func upsertItemForHash(ctx context.Context, tx *sql.Tx, data FileScanData, now string, result *FileUpsertResult) (int64, error) {
	var itemID int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM items WHERE sha256 = ?`, data.SHA256).Scan(&itemID)
	if err == nil {
		return itemID, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("looking up item by hash: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO items (sha256, md5, type, size, time_added) VALUES (?, ?, ?, ?, ?)
	`, data.SHA256, data.MD5, data.MimeType, data.FileSize, now)
	if err != nil {
		return 0, fmt.Errorf("inserting item: %w", err)
	}
	result.ItemInserted = true
	return res.LastInsertId()
}

func deleteFileRow(ctx context.Context, tx *sql.Tx, path string, result *FileUpsertResult) error {
	var itemID int64
	err := tx.QueryRowContext(ctx, `SELECT item_id FROM files WHERE path = ?`, path).Scan(&itemID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("finding item for deleted file: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("deleting stale file row: %w", err)
	}
	result.FileDeleted = true

	if itemID != 0 {
		if _, err := deleteItemIfOrphanTx(ctx, tx, itemID); err != nil {
			return err
		}
	}
	return nil
}

// DeleteFileByPath removes a file row by its path and cascades to delete
// its item if orphaned, all in one transaction, matching
// delete_file_by_path + delete_item_if_orphan in the original.
func DeleteFileByPath(path string) WriteOp {
	return func(ctx context.Context, tx *sql.Tx) (any, error) {
		var itemID int64
		err := tx.QueryRowContext(ctx, `SELECT item_id FROM files WHERE path = ?`, path).Scan(&itemID)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("finding item for %s: %w", path, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path); err != nil {
			return nil, fmt.Errorf("deleting file %s: %w", path, err)
		}

		return deleteItemIfOrphanTx(ctx, tx, itemID)
	}
}

// DeleteItemIfOrphan deletes an item row iff it has no remaining file rows.
func DeleteItemIfOrphan(itemID int64) WriteOp {
	return func(ctx context.Context, tx *sql.Tx) (any, error) {
		return deleteItemIfOrphanTx(ctx, tx, itemID)
	}
}

func deleteItemIfOrphanTx(ctx context.Context, tx *sql.Tx, itemID int64) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`DELETE FROM items WHERE id = ? AND NOT EXISTS (SELECT 1 FROM files WHERE item_id = ?)`,
		itemID, itemID)
	if err != nil {
		return false, fmt.Errorf("deleting orphan item %d: %w", itemID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RenameFilePath updates a file row's path in place on an atomic filesystem
// rename, avoiding the delete+recreate churn a naive remove-then-create
// would cause. Matches rename_file_path.
func RenameFilePath(oldPath, newPath string, scanID int64) WriteOp {
	return func(ctx context.Context, tx *sql.Tx) (any, error) {
		now := time.Now().UTC().Format(time.RFC3339)
		res, err := tx.ExecContext(ctx, `
			UPDATE files SET path = ?, filename = ?, scan_id = ?, available = 1, last_modified = ?
			WHERE path = ?
		`, newPath, filepath.Base(newPath), scanID, now, oldPath)
		if err != nil {
			return nil, fmt.Errorf("renaming %s -> %s: %w", oldPath, newPath, err)
		}
		n, _ := res.RowsAffected()
		return n > 0, nil
	}
}

// AddFileScan inserts a new open file_scans row and returns its id.
func AddFileScan(path string) WriteOp {
	return func(ctx context.Context, tx *sql.Tx) (any, error) {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO file_scans (start_time, path) VALUES (?, ?)`,
			time.Now().UTC().Format(time.RFC3339Nano), path)
		if err != nil {
			return nil, fmt.Errorf("adding file scan for %s: %w", path, err)
		}
		return res.LastInsertId()
	}
}

// FileScanUpdate carries the accumulated stats for CloseFileScan/UpdateFileScan.
type FileScanUpdate struct {
	TotalAvailable    int
	NewItems          int
	UnchangedFiles    int
	NewFiles          int
	ModifiedFiles     int
	MarkedUnavailable int
	Errors            int
	FalseChanges      int
	MetadataTime      float64
	HashingTime       float64
	ThumbgenTime      float64
	BlurhashTime      float64
}

// UpdateFileScan writes accumulated stats to an in-progress scan row
// without closing it, letting progress be visible mid-scan.
func UpdateFileScan(scanID int64, u FileScanUpdate) WriteOp {
	return func(ctx context.Context, tx *sql.Tx) (any, error) {
		_, err := tx.ExecContext(ctx, `
			UPDATE file_scans SET
				total_available = ?, new_items = ?, unchanged_files = ?, new_files = ?,
				modified_files = ?, marked_unavailable = ?, errors = ?, false_changes = ?,
				metadata_time = ?, hashing_time = ?, thumbgen_time = ?, blurhash_time = ?
			WHERE id = ?
		`, u.TotalAvailable, u.NewItems, u.UnchangedFiles, u.NewFiles, u.ModifiedFiles,
			u.MarkedUnavailable, u.Errors, u.FalseChanges, round2(u.MetadataTime), round2(u.HashingTime),
			round2(u.ThumbgenTime), round2(u.BlurhashTime), scanID)
		if err != nil {
			return nil, fmt.Errorf("updating file scan %d: %w", scanID, err)
		}
		return nil, nil
	}
}

// CloseFileScan sets end_time on a scan row, closing it. After this call
// the scan row no longer satisfies the "open" predicate (end_time IS NULL).
func CloseFileScan(scanID int64, u FileScanUpdate) WriteOp {
	return func(ctx context.Context, tx *sql.Tx) (any, error) {
		_, err := tx.ExecContext(ctx, `
			UPDATE file_scans SET
				end_time = ?, total_available = ?, new_items = ?, unchanged_files = ?, new_files = ?,
				modified_files = ?, marked_unavailable = ?, errors = ?, false_changes = ?,
				metadata_time = ?, hashing_time = ?, thumbgen_time = ?, blurhash_time = ?
			WHERE id = ?
		`, time.Now().UTC().Format(time.RFC3339), u.TotalAvailable, u.NewItems, u.UnchangedFiles,
			u.NewFiles, u.ModifiedFiles, u.MarkedUnavailable, u.Errors, u.FalseChanges,
			round2(u.MetadataTime), round2(u.HashingTime), round2(u.ThumbgenTime), round2(u.BlurhashTime), scanID)
		if err != nil {
			return nil, fmt.Errorf("closing file scan %d: %w", scanID, err)
		}
		return nil, nil
	}
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}

// MarkUnavailableFiles flips available=0 on every file row under path with
// a scan_id other than currentScanID (or none), i.e. files that weren't re-confirmed
// during the current scan pass.
func MarkUnavailableFiles(path string, currentScanID int64) WriteOp {
	return func(ctx context.Context, tx *sql.Tx) (any, error) {
		res, err := tx.ExecContext(ctx, `
			UPDATE files SET available = 0
			WHERE path LIKE ? AND (scan_id IS NULL OR scan_id != ?) AND available = 1
		`, path+"%", currentScanID)
		if err != nil {
			return nil, fmt.Errorf("marking unavailable files under %s: %w", path, err)
		}
		n, _ := res.RowsAffected()
		return n, nil
	}
}

// AddFolderToDatabase records a scanned root folder, ignoring duplicates.
func AddFolderToDatabase(path string, included bool) WriteOp {
	return func(ctx context.Context, tx *sql.Tx) (any, error) {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO folders (time_added, path, included) VALUES (?, ?, ?)`,
			time.Now().UTC().Format(time.RFC3339), path, included)
		if err != nil {
			return nil, fmt.Errorf("adding folder %s: %w", path, err)
		}
		return nil, nil
	}
}

// DeleteFoldersNotInList removes folder rows not present in keep, the way
// the config editor reconciles the included/excluded root lists.
func DeleteFoldersNotInList(keep []string, included bool) WriteOp {
	return func(ctx context.Context, tx *sql.Tx) (any, error) {
		if len(keep) == 0 {
			_, err := tx.ExecContext(ctx, `DELETE FROM folders WHERE included = ?`, included)
			return nil, err
		}

		placeholders := make([]string, len(keep))
		args := make([]any, 0, len(keep)+1)
		args = append(args, included)
		for i, p := range keep {
			placeholders[i] = "?"
			args = append(args, p)
		}
		query := fmt.Sprintf(`DELETE FROM folders WHERE included = ? AND path NOT IN (%s)`, join(placeholders, ","))
		_, err := tx.ExecContext(ctx, query, args...)
		return nil, err
	}
}

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

// DeleteItemsWithoutFiles sweeps the whole items table for orphans, used by
// the data-deletion job after it removes a folder's files rather than
// per-file during a scan.
func DeleteItemsWithoutFiles() WriteOp {
	return func(ctx context.Context, tx *sql.Tx) (any, error) {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM items WHERE NOT EXISTS (SELECT 1 FROM files WHERE files.item_id = items.id)`)
		if err != nil {
			return nil, fmt.Errorf("sweeping orphan items: %w", err)
		}
		n, _ := res.RowsAffected()
		return n, nil
	}
}

// DeleteFilesUnderPrefix removes every file row whose path starts with
// prefix, used when a root folder is removed from the included set.
func DeleteFilesUnderPrefix(prefix string) WriteOp {
	return func(ctx context.Context, tx *sql.Tx) (any, error) {
		rows, err := tx.QueryContext(ctx, `SELECT path, item_id FROM files WHERE path LIKE ?`, prefix+"%")
		if err != nil {
			return nil, fmt.Errorf("listing files under %s: %w", prefix, err)
		}
		type rec struct {
			path   string
			itemID int64
		}
		var recs []rec
		for rows.Next() {
			var r rec
			if err := rows.Scan(&r.path, &r.itemID); err != nil {
				rows.Close()
				return nil, err
			}
			recs = append(recs, r)
		}
		rows.Close()

		for _, r := range recs {
			if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, r.path); err != nil {
				return nil, fmt.Errorf("deleting %s: %w", r.path, err)
			}
			if _, err := deleteItemIfOrphanTx(ctx, tx, r.itemID); err != nil {
				return nil, err
			}
		}
		return len(recs), nil
	}
}

// StoredThumbnail is a single thumbnail row written through the storage
// attachment by the Writer Actor, ported from StoredImage/store_thumbnails.
type StoredThumbnail struct {
	SHA256         string
	MimeType       string
	ProcessVersion int
	IndexInFile    int
	Data           []byte
}

// StoreThumbnails writes a batch of thumbnails for one item.
func StoreThumbnails(thumbs []StoredThumbnail) WriteOp {
	return func(ctx context.Context, tx *sql.Tx) (any, error) {
		for _, t := range thumbs {
			_, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO storage.stored_thumbnails
					(sha256, mime_type, process_version, index_in_file, data)
				VALUES (?, ?, ?, ?, ?)
			`, t.SHA256, t.MimeType, t.ProcessVersion, t.IndexInFile, t.Data)
			if err != nil {
				return nil, fmt.Errorf("storing thumbnail %d for %s: %w", t.IndexInFile, t.SHA256, err)
			}
		}
		return len(thumbs), nil
	}
}

// DeleteOrphanedThumbnails removes thumbnail rows whose sha256 no longer
// has a corresponding item. Neither the file scan's pruning phase nor any
// job calls it.
func DeleteOrphanedThumbnails() WriteOp {
	return func(ctx context.Context, tx *sql.Tx) (any, error) {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM storage.stored_thumbnails
			WHERE sha256 NOT IN (SELECT sha256 FROM items)
		`)
		if err != nil {
			return nil, fmt.Errorf("sweeping orphan thumbnails: %w", err)
		}
		n, _ := res.RowsAffected()
		return n, nil
	}
}

// SetBlurhash writes the computed blurhash string for every item sharing a
// content hash. Ported from set_blurhash.
func SetBlurhash(sha256, blurhash string) WriteOp {
	return func(ctx context.Context, tx *sql.Tx) (any, error) {
		res, err := tx.ExecContext(ctx, `UPDATE items SET blurhash = ? WHERE sha256 = ?`, blurhash, sha256)
		if err != nil {
			return nil, fmt.Errorf("setting blurhash for %s: %w", sha256, err)
		}
		n, _ := res.RowsAffected()
		return n > 0, nil
	}
}

// UpsertSetter records the name of a tagger/captioner/embedder, returning its
// id. Ported from upsert_setter, minus the RETURNING clause the driver
// doesn't expose through database/sql.
func UpsertSetter(name string) WriteOp {
	return func(ctx context.Context, tx *sql.Tx) (any, error) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO setters (name) VALUES (?) ON CONFLICT(name) DO UPDATE SET name = excluded.name`,
			name); err != nil {
			return nil, fmt.Errorf("upserting setter %s: %w", name, err)
		}
		var id int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM setters WHERE name = ?`, name).Scan(&id); err != nil {
			return nil, fmt.Errorf("reading setter id for %s: %w", name, err)
		}
		return id, nil
	}
}

// ItemDataEntry describes one row of extraction output to attach to an item,
// ported from the add_item_data arguments.
type ItemDataEntry struct {
	ItemSHA256    string
	SetterName    string
	JobID         int64
	DataType      string
	Index         int64
	SourceDataID  int64 // 0 means no source, i.e. this is an origin row
	IsPlaceholder bool
}

// InsertItemData inserts one item_data row linking an item, a setter, and an
// extraction job, returning the new row's id. Ported from add_item_data.
func InsertItemData(e ItemDataEntry) WriteOp {
	return func(ctx context.Context, tx *sql.Tx) (any, error) {
		var isOrigin any
		var sourceID any
		if e.SourceDataID != 0 {
			sourceID = e.SourceDataID
		} else {
			isOrigin = int64(1)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO item_data (job_id, item_id, setter_id, data_type, idx, is_origin, source_id, is_placeholder)
			SELECT ?, items.id, setters.id, ?, ?, ?, ?, ?
			FROM items JOIN setters ON setters.name = ?
			WHERE items.sha256 = ?
		`, e.JobID, e.DataType, e.Index, isOrigin, sourceID, e.IsPlaceholder, e.SetterName, e.ItemSHA256)
		if err != nil {
			return nil, fmt.Errorf("inserting item_data for %s: %w", e.ItemSHA256, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return nil, fmt.Errorf("inserting item_data for %s: no matching item/setter", e.ItemSHA256)
		}
		return res.LastInsertId()
	}
}

// InsertEmbedding attaches a vector to an already-inserted item_data row.
// Ported from add_embedding.
func InsertEmbedding(dataID int64, embedding []byte) WriteOp {
	return func(ctx context.Context, tx *sql.Tx) (any, error) {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO embeddings (id, embedding)
			SELECT item_data.id, ? FROM item_data WHERE item_data.id = ?
		`, embedding, dataID)
		if err != nil {
			return nil, fmt.Errorf("inserting embedding for item_data %d: %w", dataID, err)
		}
		n, _ := res.RowsAffected()
		return n > 0, nil
	}
}

// UpsertTag attaches one namespace/name tag, owned by setter, to an item,
// creating the tags_setters row if it doesn't exist yet. Ported from
// upsert_tag + add_tag_to_item, adapted to this schema's setter-scoped
// tags_setters table rather than the original's global tags table.
func UpsertTag(namespace, name, setter string, itemID int64, confidence float64) WriteOp {
	return func(ctx context.Context, tx *sql.Tx) (any, error) {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO tags_setters (namespace, name, setter) VALUES (?, ?, ?)`,
			namespace, name, setter); err != nil {
			return nil, fmt.Errorf("upserting tag %s:%s: %w", namespace, name, err)
		}
		var tagID int64
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM tags_setters WHERE namespace = ? AND name = ? AND setter = ?`,
			namespace, name, setter).Scan(&tagID); err != nil {
			return nil, fmt.Errorf("reading tag id for %s:%s: %w", namespace, name, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tags_items (item_id, tag_id, confidence) VALUES (?, ?, ?)
			ON CONFLICT(item_id, tag_id) DO UPDATE SET confidence = excluded.confidence
		`, itemID, tagID, confidence); err != nil {
			return nil, fmt.Errorf("tagging item %d with %s:%s: %w", itemID, namespace, name, err)
		}
		return tagID, nil
	}
}

// StoredFrame is a single extracted video frame written through the storage
// attachment, mirroring StoredThumbnail's shape against the frames table.
type StoredFrame struct {
	SHA256           string
	MimeType         string
	ProcessVersion   int
	IndexInFile      int
	TimestampSeconds float64
	Data             []byte
}

// StoreFrames writes a batch of extracted frames for one item, the frame
// counterpart of StoreThumbnails.
func StoreFrames(frames []StoredFrame) WriteOp {
	return func(ctx context.Context, tx *sql.Tx) (any, error) {
		for _, f := range frames {
			_, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO storage.stored_frames
					(sha256, mime_type, process_version, index_in_file, timestamp_seconds, data)
				VALUES (?, ?, ?, ?, ?, ?)
			`, f.SHA256, f.MimeType, f.ProcessVersion, f.IndexInFile, f.TimestampSeconds, f.Data)
			if err != nil {
				return nil, fmt.Errorf("storing frame %d for %s: %w", f.IndexInFile, f.SHA256, err)
			}
		}
		return len(frames), nil
	}
}

// DeleteOrphanedFrames removes frame rows whose sha256 no longer has a
// corresponding item. Ported from delete_orphaned_frames.
func DeleteOrphanedFrames() WriteOp {
	return func(ctx context.Context, tx *sql.Tx) (any, error) {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM storage.stored_frames
			WHERE sha256 NOT IN (SELECT sha256 FROM items)
		`)
		if err != nil {
			return nil, fmt.Errorf("sweeping orphan frames: %w", err)
		}
		n, _ := res.RowsAffected()
		return n, nil
	}
}

// DeleteFilesUnderExcludedFolders removes every file row that falls under a
// folder explicitly marked excluded. Ported from
// delete_files_under_excluded_folders.
func DeleteFilesUnderExcludedFolders() WriteOp {
	return func(ctx context.Context, tx *sql.Tx) (any, error) {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM files
			WHERE EXISTS (
				SELECT 1 FROM folders
				WHERE folders.included = 0 AND files.path LIKE folders.path || '%'
			)
		`)
		if err != nil {
			return nil, fmt.Errorf("deleting files under excluded folders: %w", err)
		}
		n, _ := res.RowsAffected()
		return n, nil
	}
}

// DeleteFilesNotUnderIncludedFolders removes every file row that doesn't
// fall under any currently-included folder. Ported from
// delete_files_not_under_included_folders.
func DeleteFilesNotUnderIncludedFolders() WriteOp {
	return func(ctx context.Context, tx *sql.Tx) (any, error) {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM files
			WHERE NOT EXISTS (
				SELECT 1 FROM folders
				WHERE folders.included = 1 AND files.path LIKE folders.path || '%'
			)
		`)
		if err != nil {
			return nil, fmt.Errorf("deleting files not under included folders: %w", err)
		}
		n, _ := res.RowsAffected()
		return n, nil
	}
}

// DeleteJobData removes all extraction_log/extracted_text rows produced by
// a given data-extraction log id, used by JobDataDeletion jobs.
func DeleteJobData(logID int64) WriteOp {
	return func(ctx context.Context, tx *sql.Tx) (any, error) {
		if _, err := tx.ExecContext(ctx, `DELETE FROM extracted_text WHERE log_id = ?`, logID); err != nil {
			return nil, fmt.Errorf("deleting extracted_text for log %d: %w", logID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM extraction_log_items WHERE log_id = ?`, logID); err != nil {
			return nil, fmt.Errorf("deleting extraction_log_items for log %d: %w", logID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM data_extraction_log WHERE id = ?`, logID); err != nil {
			return nil, fmt.Errorf("deleting data_extraction_log %d: %w", logID, err)
		}
		return nil, nil
	}
}
