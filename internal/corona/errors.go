// Package corona declares the closed error taxonomy (§7) shared by every
// other package in this module. It has no internal dependencies so that
// leaf packages (syncmgr, scheduler, autonomy, session) and the top-level
// wiring package (internal/core) can both depend on it without cycles.
package corona

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed error taxonomy of §7. Every error the core
// returns to a caller is, or wraps, one of these sentinels — check with
// [errors.Is].
type ErrorKind struct {
	name string
}

func (e *ErrorKind) Error() string { return e.name }

// The closed set of error kinds (§7). Never add a new sentinel without
// updating this list and the testable-properties in DESIGN.md.
var (
	// ErrPortTimeout: a port future exceeded its deadline (default 2s,
	// §5). Locally recovered — the Sync Manager issues a SpeechDelay
	// correction on its next tick.
	ErrPortTimeout = &ErrorKind{"corona: port timeout"}

	// ErrTransitionAborted: a requested emotion/voice transition failed
	// partway. State is guaranteed unchanged; callers may retry.
	ErrTransitionAborted = &ErrorKind{"corona: transition aborted"}

	// ErrAdmissionDenied: a task could not be admitted at this time. The
	// task remains queued; this is not a user-facing error.
	ErrAdmissionDenied = &ErrorKind{"corona: admission denied"}

	// ErrDeadlineExceeded: a task missed its deadline, triggering the
	// graceful-stop protocol.
	ErrDeadlineExceeded = &ErrorKind{"corona: deadline exceeded"}

	// ErrResourceExhausted: a task exceeded its memory/CPU allocation,
	// triggering abort for that task only.
	ErrResourceExhausted = &ErrorKind{"corona: resource exhausted"}

	// ErrRejected: invalid input (unknown emotion, out-of-range
	// parameter). Surfaced to the caller; never retried automatically.
	ErrRejected = &ErrorKind{"corona: rejected"}

	// ErrLostEvents: a subscriber fell behind the Event Bus. Informational.
	ErrLostEvents = &ErrorKind{"corona: lost events"}
)

// Is reports whether target is the same ErrorKind sentinel, enabling
// errors.Is(err, corona.ErrPortTimeout) style checks even through
// fmt.Errorf("%w", ...) wrapping.
func (e *ErrorKind) Is(target error) bool {
	return e == target
}

// wrapf wraps err (or a bare message) with a %w-wrapped ErrorKind so
// callers can both read a human message and errors.Is against the kind.
func wrapf(kind *ErrorKind, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), kind)
}

// KindOf extracts the [ErrorKind] from err, if any, by walking its Unwrap
// chain. Returns nil if err does not wrap one of the sentinels above.
func KindOf(err error) *ErrorKind {
	for _, k := range []*ErrorKind{
		ErrPortTimeout, ErrTransitionAborted, ErrAdmissionDenied,
		ErrDeadlineExceeded, ErrResourceExhausted, ErrRejected, ErrLostEvents,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
