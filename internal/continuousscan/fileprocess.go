package continuousscan

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mesh-intelligence/panoptikon-gw/internal/indexwriter"
)

// statAndHash is the worker-side half of processing one path: stat plus a
// content hash, deliberately not touching any write connection since only
// the actor goroutine is allowed to submit writes.
func statAndHash(path string) (indexwriter.FileScanData, error) {
	info, err := os.Stat(path)
	if err != nil {
		return indexwriter.FileScanData{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return indexwriter.FileScanData{}, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return indexwriter.FileScanData{}, err
	}

	return indexwriter.FileScanData{
		Path:         path,
		SHA256:       hex.EncodeToString(h.Sum(nil)),
		FileSize:     size,
		LastModified: info.ModTime(),
		MimeType:     mimeFromExt(filepath.Ext(path)),
	}, nil
}

var extMime = map[string]string{
	".jpg": "image/jpeg", ".jpeg": "image/jpeg", ".png": "image/png",
	".gif": "image/gif", ".webp": "image/webp", ".mp4": "video/mp4",
	".mkv": "video/x-matroska", ".mp3": "audio/mpeg", ".flac": "audio/flac",
	".pdf": "application/pdf", ".html": "text/html", ".htm": "text/html",
}

func mimeFromExt(ext string) string {
	if m, ok := extMime[strings.ToLower(ext)]; ok {
		return m
	}
	return "application/octet-stream"
}
