package storage

import (
	"errors"
	"fmt"

	"github.com/orneryd/mindstore/pkg/ids"
)

// Common errors
var (
	ErrNotFound          = errors.New("not found")
	ErrPathAlreadyExists = errors.New("path already exists")
	ErrMalformedRecord   = errors.New("malformed record")
	ErrCategoryNotFound  = errors.New("category not found")
	ErrNoSuchTarget      = errors.New("no such target")
	ErrBrokenEdge        = errors.New("broken edge: target not found")
	ErrCreateFailed      = errors.New("create failed")
	ErrRelocateFailed    = errors.New("relocate failed")
	ErrInvalidHandle     = errors.New("invalid handle")
	ErrInvalidName       = errors.New("invalid name")
	ErrUnsupported       = errors.New("unsupported operation")
	ErrStorageClosed     = errors.New("storage closed")

	// ErrAllocatorUnavailable is re-exported so callers need not import ids.
	ErrAllocatorUnavailable = ids.ErrAllocatorUnavailable
)

// MalformedRecordError describes why a record could not be decoded.
// It matches ErrMalformedRecord with errors.Is.
type MalformedRecordError struct {
	// Path is the root-relative file the record came from, when known.
	Path string
	// Field is the offending field, empty when the record is not an object.
	Field  string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	where := ""
	if e.Path != "" {
		where = " " + e.Path
	}
	if e.Field == "" {
		return fmt.Sprintf("malformed record%s: %s", where, e.Reason)
	}
	return fmt.Sprintf("malformed record%s: field %q: %s", where, e.Field, e.Reason)
}

// Is reports whether target is ErrMalformedRecord.
func (e *MalformedRecordError) Is(target error) bool {
	return target == ErrMalformedRecord
}

func malformed(field, format string, args ...any) *MalformedRecordError {
	return &MalformedRecordError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// withPath stamps the record path onto a decode error.
func withPath(err error, path string) error {
	var m *MalformedRecordError
	if errors.As(err, &m) && m.Path == "" {
		m.Path = path
	}
	return err
}
