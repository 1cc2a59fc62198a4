// Package apierr defines the error taxonomy shared across the gateway's
// write-coordination core, ported from the original service's ApiError
// classification so every component reports failures the same way.
package apierr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for logging, retry policy, and HTTP mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindConfigInvalid
	KindMigrationFailed
	KindExtensionLoadFailed
	KindWriteConflict
	KindBusy
	KindDatabaseCorrupt
	KindIOLost
	KindCancelled
	KindFilterRejected
	KindNotFound
	KindBadRequest
)

func (k Kind) String() string {
	switch k {
	case KindConfigInvalid:
		return "config_invalid"
	case KindMigrationFailed:
		return "migration_failed"
	case KindExtensionLoadFailed:
		return "extension_load_failed"
	case KindWriteConflict:
		return "write_conflict"
	case KindBusy:
		return "busy"
	case KindDatabaseCorrupt:
		return "database_corrupt"
	case KindIOLost:
		return "io_lost"
	case KindCancelled:
		return "cancelled"
	case KindFilterRejected:
		return "filter_rejected"
	case KindNotFound:
		return "not_found"
	case KindBadRequest:
		return "bad_request"
	default:
		return "internal"
	}
}

// Error is the shared error type. It wraps an underlying cause while
// attaching a Kind that callers can switch on without string matching.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error wrapping an existing cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err (or any error it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Sentinel errors for the conditions callers most commonly need to test
// with errors.Is without unwrapping into the Kind taxonomy.
var (
	ErrBusy          = New(KindBusy, "writer mailbox full or deadline exceeded")
	ErrCancelled     = New(KindCancelled, "operation cancelled")
	ErrWriteConflict = New(KindWriteConflict, "concurrent write conflict")
)

// StatusCode maps a Kind to the HTTP status code an API layer consuming this
// core should report. The core itself has no HTTP surface; this mapping is
// exercised only by tests and by hosts that embed this package.
func StatusCode(k Kind) int {
	switch k {
	case KindConfigInvalid, KindBadRequest, KindFilterRejected:
		return 400
	case KindNotFound:
		return 404
	case KindBusy:
		return 429
	case KindCancelled:
		return 499
	case KindMigrationFailed, KindExtensionLoadFailed, KindDatabaseCorrupt, KindIOLost, KindInternal:
		return 500
	case KindWriteConflict:
		return 409
	default:
		return 500
	}
}
