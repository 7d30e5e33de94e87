// Package casgerr defines the structured error kinds shared across every
// casg component (spec §7). Each kind is a sentinel wrapped with
// github.com/pkg/errors so callers can both pattern-match with errors.Is
// and retrieve the full cause chain.
package casgerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies one of the error categories from spec §7.
type Kind int

const (
	// KindNotFound means a requested hash/accession/taxon/manifest is absent.
	KindNotFound Kind = iota
	// KindCorrupted means a hash mismatch, bad format magic, or failed
	// Merkle verification was observed. Fatal for the affected artifact.
	KindCorrupted
	// KindVersionMismatch means a processing state's manifest hash/version
	// does not match the manifest currently being processed.
	KindVersionMismatch
	// KindLockContention means another process holds a workspace lock.
	KindLockContention
	// KindIoError wraps local I/O failures, including out-of-memory and
	// disk-full conditions.
	KindIoError
	// KindNetworkError wraps transport-level failures during download.
	KindNetworkError
	// KindInvalidInput means malformed configuration, an unknown
	// source/dataset, or a malformed reference string.
	KindInvalidInput
	// KindCancelled means cooperative cancellation was observed at a batch
	// boundary.
	KindCancelled
	// KindInternal is reserved for invariant violations that indicate a bug
	// rather than an expected failure mode. The core does not panic for
	// any other kind.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindCorrupted:
		return "corrupted"
	case KindVersionMismatch:
		return "version_mismatch"
	case KindLockContention:
		return "lock_contention"
	case KindIoError:
		return "io_error"
	case KindNetworkError:
		return "network_error"
	case KindInvalidInput:
		return "invalid_input"
	case KindCancelled:
		return "cancelled"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a structured error: a Kind, a human message, and an optional
// cause chain.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause chain to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so
// errors.Is(err, casgerr.New(KindNotFound, "")) pattern-matches by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and message to an existing cause, preserving the cause
// chain. The cause is wrapped with github.com/pkg/errors.WithStack, so
// formatting the result's Cause with %+v prints the stack at the point Wrap
// was called; the *Error itself formats as its Error() text.
func Wrap(cause error, kind Kind, message string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: errors.WithStack(cause)}
}

// Wrapf is like Wrap with a formatted message.
func Wrapf(cause error, kind Kind, format string, args ...any) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: errors.WithStack(cause)}
}

// Is reports whether err is (or wraps) a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// NotFound, Corrupted, etc are convenience constructors used throughout the
// codebase in place of spelling out New(Kind..., ...) at every call site.
func NotFound(format string, args ...any) *Error {
	return Newf(KindNotFound, format, args...)
}

func Corrupted(format string, args ...any) *Error {
	return Newf(KindCorrupted, format, args...)
}

func VersionMismatch(format string, args ...any) *Error {
	return Newf(KindVersionMismatch, format, args...)
}

func LockContention(format string, args ...any) *Error {
	return Newf(KindLockContention, format, args...)
}

func InvalidInput(format string, args ...any) *Error {
	return Newf(KindInvalidInput, format, args...)
}

func Cancelled(format string, args ...any) *Error {
	return Newf(KindCancelled, format, args...)
}

func IoError(cause error, format string, args ...any) *Error {
	return Wrapf(cause, KindIoError, format, args...)
}

func NetworkError(cause error, format string, args ...any) *Error {
	return Wrapf(cause, KindNetworkError, format, args...)
}

func Internal(format string, args ...any) *Error {
	return Newf(KindInternal, format, args...)
}
