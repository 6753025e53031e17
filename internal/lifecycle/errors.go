package lifecycle

import "errors"

var (
	// ErrValidation rejects bad input before any write (blank title, recurring
	// task without a due date).
	ErrValidation = errors.New("validation failed")
	// ErrNotFound reports an operation on a task id that no longer exists.
	ErrNotFound = errors.New("task not found")
	// ErrConflict reports a single-row update that affected zero rows, e.g.
	// the task was deleted concurrently.
	ErrConflict = errors.New("concurrent modification")
	// ErrInvariant reports a data-integrity fault such as a recurring task
	// with no base date. Propagated, never silently patched.
	ErrInvariant = errors.New("invariant violation")
)
