// Package dbkey sanitizes and validates the per-tenant database key used to
// locate a tenant's index.db, storage.db, and user_data.db files on disk.
package dbkey

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// reserved names a raw key must not collide with after sanitization, since
// they are used as path components elsewhere under DATA_FOLDER.
var reserved = map[string]bool{
	"index":     true,
	"storage":   true,
	"user_data": true,
	"con":       true,
	"nul":       true,
}

// Sanitize normalizes a raw tenant identifier into a key that is safe to use
// as a path component. Disallowed characters cause the key to be replaced
// entirely by a stable hash of the original value, rather than stripped,
// so that two different unsafe inputs never collide on the same sanitized
// output.
func Sanitize(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("dbkey: empty key")
	}

	lower := strings.ToLower(raw)
	if isSafe(lower) && !reserved[lower] {
		return lower, nil
	}

	return "u-" + fnv1aHex(raw)[:12], nil
}

func isSafe(s string) bool {
	if strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

func fnv1aHex(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("%016x", h.Sum64())
}
