package job

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the persistence interface for jobs. The Transition
// compare-and-set is the pipeline's sole mutual-exclusion mechanism: stage
// workers coordinate exclusively through it, never through locks.
type Repository interface {
	// Create persists a new job in the uploaded stage.
	Create(ctx context.Context, j *Job) error

	// GetByID retrieves a job by its unique identifier.
	// Returns ErrNotFound if no such job exists.
	GetByID(ctx context.Context, id uuid.UUID) (*Job, error)

	// Transition atomically verifies the job is currently in expected,
	// applies the mutations, and moves it to next, returning the updated
	// job. Returns ErrStaleTransition if the job is no longer in expected;
	// a duplicate delivery racing a completed transition lands here and
	// becomes a no-op. Returns ErrNotFound if the job does not exist.
	Transition(ctx context.Context, id uuid.UUID, expected, next Stage, muts ...Mutation) (*Job, error)

	// IncrementAttempt bumps the attempt counter for the given worker stage
	// and returns the new count. Called before invoking a collaborator so
	// the retry-vs-dead-letter decision happens before the expensive work.
	IncrementAttempt(ctx context.Context, id uuid.UUID, stage Stage) (int, error)

	// Cancel moves a non-terminal job to the cancelled stage. In-flight
	// workers observe the cancellation as a failed compare-and-set and
	// discard their work. Cancelling a terminal job is a no-op returning
	// the job unchanged.
	Cancel(ctx context.Context, id uuid.UUID) (*Job, error)

	// ListByStage returns jobs in the given stage, newest first, with pagination.
	ListByStage(ctx context.Context, stage Stage, limit, offset int) ([]*Job, error)

	// CountByStage returns the number of jobs in each stage.
	CountByStage(ctx context.Context) (map[Stage]int64, error)
}
