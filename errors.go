// Package grounddb is the root package of the GroundDB document data layer:
// schema-validated CRUD over a directory tree of Markdown/JSON/JSONL files,
// indexed and queried through an embedded SQL engine.
package grounddb

import "fmt"

// ErrCode is the stable identifier attached to every error the Store, View
// engine, migration engine, and CLI surface can return.
type ErrCode int

const (
	// InternalErr is an unclassified internal failure.
	InternalErr ErrCode = iota

	// SchemaErr indicates a malformed or inconsistent schema.yaml.
	SchemaErr

	// ValidationErr indicates a document violates its collection's
	// field/type/enum/required/additional-properties rules.
	ValidationErr

	// PathConflictErr indicates the target path already exists under
	// on_conflict: error.
	PathConflictErr

	// NotFoundErr indicates a document or view is missing.
	NotFoundErr

	// ReferenceErr indicates a broken reference at write time, or that an
	// on_delete: error relation blocked a delete.
	ReferenceErr

	// MigrationRequiredErr indicates an unsafe schema change was detected
	// at boot and startup was aborted.
	MigrationRequiredErr

	// QueryErr indicates a SQL parse/execution failure or an unsupported
	// view shape.
	QueryErr

	// IoErr indicates a filesystem failure not otherwise classified.
	IoErr

	// IndexErr indicates system-index corruption or failure.
	IndexErr

	// CancelledErr indicates an operation hit its deadline.
	CancelledErr

	// BusyErr indicates a reentrant call from a subscription callback.
	BusyErr
)

var codeNames = map[ErrCode]string{
	InternalErr:          "InternalError",
	SchemaErr:            "SchemaError",
	ValidationErr:        "ValidationError",
	PathConflictErr:      "PathConflict",
	NotFoundErr:          "NotFound",
	ReferenceErr:         "ReferenceError",
	MigrationRequiredErr: "MigrationRequired",
	QueryErr:             "QueryError",
	IoErr:                "IoError",
	IndexErr:             "IndexError",
	CancelledErr:         "Cancelled",
	BusyErr:              "Busy",
}

// String returns the stable, CLI-facing name of the error kind (e.g.
// "ValidationError"), matching the identifiers in spec §7.
func (c ErrCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "InternalError"
}

// Error is the error type returned throughout GroundDB. It carries a stable
// Code alongside a human-readable Message and, where there is one, the
// underlying cause (Err).
type Error struct {
	Code    ErrCode
	Message string
	// Err wraps an underlying cause (e.g. an *os.PathError or sql error)
	// when one exists, so callers can still use errors.Is/As.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a *Error with a formatted message.
func Errorf(code ErrCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a *Error that carries an underlying cause.
func Wrap(code ErrCode, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func codeOf(err error) (ErrCode, bool) {
	if e, ok := err.(*Error); ok {
		return e.Code, true
	}
	return InternalErr, false
}

// IsNotFound returns true if err is a *Error with NotFoundErr.
func IsNotFound(err error) bool { c, ok := codeOf(err); return ok && c == NotFoundErr }

// IsValidation returns true if err is a *Error with ValidationErr.
func IsValidation(err error) bool { c, ok := codeOf(err); return ok && c == ValidationErr }

// IsPathConflict returns true if err is a *Error with PathConflictErr.
func IsPathConflict(err error) bool { c, ok := codeOf(err); return ok && c == PathConflictErr }

// IsReference returns true if err is a *Error with ReferenceErr.
func IsReference(err error) bool { c, ok := codeOf(err); return ok && c == ReferenceErr }

// IsMigrationRequired returns true if err is a *Error with MigrationRequiredErr.
func IsMigrationRequired(err error) bool { c, ok := codeOf(err); return ok && c == MigrationRequiredErr }

// IsBusy returns true if err is a *Error with BusyErr.
func IsBusy(err error) bool { c, ok := codeOf(err); return ok && c == BusyErr }

// IsCancelled returns true if err is a *Error with CancelledErr.
func IsCancelled(err error) bool { c, ok := codeOf(err); return ok && c == CancelledErr }
