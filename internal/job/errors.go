package job

import "errors"

var (
	// ErrNotFound is returned when no job exists for the given id.
	ErrNotFound = errors.New("job not found")

	// ErrStaleTransition is returned when a guarded transition finds the job
	// no longer in the expected stage. It means another worker already
	// advanced the job, or the triggering message is a stale duplicate.
	// Callers discard their unit of work; nothing is wrong.
	ErrStaleTransition = errors.New("stale transition: job not in expected stage")

	// ErrInvalidTransition is returned for an edge the stage machine does
	// not define. Unlike ErrStaleTransition this indicates a caller bug.
	ErrInvalidTransition = errors.New("invalid stage transition")
)
