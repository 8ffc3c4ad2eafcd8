// Package errs defines the sentinel error taxonomy shared by every
// component, so callers can classify a failure with errors.Is after it has
// crossed a persistence boundary (task.error, event records) and back.
package errs

import "errors"

// Transient subprocess errors. Retried by the Worker under its per-task
// attempt budget.
var (
	ErrTimeout    = errors.New("timeout")
	ErrCLIFailed  = errors.New("cli failed")
)

// Configuration errors. Never retried: the task that hits one fails at
// once. They are detected per task when a Worker runs it; providers are
// not checked before the project starts.
var (
	ErrCLINotFound      = errors.New("cli not found")
	ErrInvalidProviders = errors.New("invalid provider configuration")
)

// Encoding errors. Fatal for the task that produced them; never retried.
var ErrEncoding = errors.New("encoding error")

// Graph errors. Fatal for the whole project (planning_error).
var (
	ErrCycleDetected     = errors.New("cycle detected")
	ErrUnknownDependency = errors.New("unknown dependency")
)

// State errors.
var ErrSchemaInvalid = errors.New("state schema invalid")

// Atomic-task deadline: the hard ceiling a QA task cannot exceed.
var ErrAtomicDeadlineExceeded = errors.New("atomic deadline exceeded")

// Resource admission denial. Logged, not escalated on its own; the
// outermost deadline is what eventually bounds a stuck queue.
var ErrResourceDenied = errors.New("resource allocation denied")

// Kind is the structured classification attached to a persisted Task.Error
// or event record, independent of the Go error value itself (errors do not
// survive a JSON round-trip, their string classification does).
type Kind string

const (
	KindTimeout                Kind = "timeout"
	KindCLIFailed              Kind = "cli_failed"
	KindCLINotFound            Kind = "cli_not_found"
	KindEncoding               Kind = "encoding_error"
	KindCycleDetected           Kind = "cycle_detected"
	KindUnknownDependency      Kind = "unknown_dependency"
	KindSchemaInvalid          Kind = "schema_invalid"
	KindAtomicDeadlineExceeded Kind = "atomic_deadline_exceeded"
	KindPlanningError          Kind = "planning_error"
)

// KindOf maps a sentinel error to its persisted classification. Unknown
// errors classify as KindCLIFailed, the most general transient bucket.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrCLINotFound):
		return KindCLINotFound
	case errors.Is(err, ErrEncoding):
		return KindEncoding
	case errors.Is(err, ErrCycleDetected):
		return KindCycleDetected
	case errors.Is(err, ErrUnknownDependency):
		return KindUnknownDependency
	case errors.Is(err, ErrSchemaInvalid):
		return KindSchemaInvalid
	case errors.Is(err, ErrAtomicDeadlineExceeded):
		return KindAtomicDeadlineExceeded
	default:
		return KindCLIFailed
	}
}

// Retryable reports whether an error of this kind is eligible for the
// Worker's retry budget: transient subprocess failures only.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindCLIFailed:
		return true
	default:
		return false
	}
}
