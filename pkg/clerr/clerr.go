// Package clerr defines the typed error taxonomy shared by every component,
// replacing message-substring-sniffing ("exceptions for control flow") with
// sentinel-wrapped, errors.Is/As-friendly values.
package clerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way the control plane reports it outward.
type Kind string

const (
	// KindNotFound covers missing clusters, templates, and backups.
	KindNotFound Kind = "not_found"
	// KindValidation covers bad limits or missing required fields.
	KindValidation Kind = "validation"
	// KindAuthorization covers permission-gated operations.
	KindAuthorization Kind = "authorization"
	// KindRuntimeExternal covers a classified container-driver failure.
	KindRuntimeExternal Kind = "runtime_external"
	// KindIntegrityViolation covers store constraint/foreign-key failures.
	KindIntegrityViolation Kind = "integrity_violation"
	// KindInterrupted covers cancellation via context or signal.
	KindInterrupted Kind = "interrupted"
)

// Error is the common typed error carried across component boundaries.
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

// Is allows errors.Is(err, clerr.NotFound) style matching against a Kind
// sentinel constructed with New(kind, "").
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New constructs a typed error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a typed error of the given kind wrapping a lower-level cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// NotFound, Validation, ... are zero-value sentinels usable with errors.Is.
var (
	NotFound           = &Error{Kind: KindNotFound}
	Validation         = &Error{Kind: KindValidation}
	Authorization      = &Error{Kind: KindAuthorization}
	RuntimeExternal    = &Error{Kind: KindRuntimeExternal}
	IntegrityViolation = &Error{Kind: KindIntegrityViolation}
	Interrupted        = &Error{Kind: KindInterrupted}
)

// KindOf extracts the Kind of err, if it (or something it wraps) is an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Truncate bounds a message to n bytes, the way persisted error messages
// are bounded to 500 bytes per spec.
func Truncate(msg string, n int) string {
	if len(msg) <= n {
		return msg
	}
	return msg[:n]
}
