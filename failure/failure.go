package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline error so callers can decide whether to retry,
// fail fast, or surface the error as-is.
type Kind string

const (
	// InvalidRequest is bad caller input. Fails fast, never retried.
	InvalidRequest Kind = "invalid_request"

	// Submission is a backend-level failure while enqueueing a generation
	// job (unreachable backend, rejected request). Retryable per policy
	// unless marked fatal.
	Submission Kind = "submission_error"

	// Artifact is a failure materializing a finished job's output
	// (expired reference, download error). Retryable per policy.
	Artifact Kind = "artifact_error"

	// UpstreamFormat means the language model returned output we could not
	// parse into the requested shape. Not retried automatically — the
	// caller must resubmit.
	UpstreamFormat Kind = "upstream_format_error"

	// Assembly is a fatal muxing/encoding failure. Indicates a logic or
	// environment defect, never retried.
	Assembly Kind = "assembly_error"

	// Cancelled is a caller-initiated abort (task cancel, sync timeout).
	Cancelled Kind = "cancelled"

	// NotFound is a lookup of an unknown task id.
	NotFound Kind = "not_found"

	// Internal covers everything else.
	Internal Kind = "internal_error"
)

// Error is the error type carried across pipeline stages.
type Error struct {
	Kind  Kind
	Fatal bool // structural failure: never retry even if the kind usually is retryable
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a failure with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// WrapFatal wraps err as a failure the retry loop must treat as terminal.
func WrapFatal(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Fatal: true, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Fatalf builds a failure that the retry loop must treat as terminal
// regardless of kind (malformed workflow, invalid parameters).
func Fatalf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Fatal: true, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, or Internal if err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the scheduler's retry loop may resubmit after
// this error. Only transient backend conditions qualify.
func Retryable(err error) bool {
	var fe *Error
	if !errors.As(err, &fe) {
		return false
	}
	if fe.Fatal {
		return false
	}
	return fe.Kind == Submission || fe.Kind == Artifact
}
