package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swastik-shetty-85/docpipe/internal/job"
)

// MemoryJobRepository implements job.Repository in process memory with the
// same compare-and-set semantics as the Postgres repository. It backs tests
// and local development.
type MemoryJobRepository struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*job.Job
}

// NewMemoryJobRepository creates an empty in-memory job repository.
func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: make(map[uuid.UUID]*job.Job)}
}

// Create persists a new job.
func (r *MemoryJobRepository) Create(ctx context.Context, j *job.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[j.ID]; exists {
		return fmt.Errorf("job %s already exists", j.ID)
	}
	cp := *j
	r.jobs[j.ID] = &cp
	return nil
}

// GetByID retrieves a job by its UUID.
func (r *MemoryJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", job.ErrNotFound, id)
	}
	cp := *j
	return &cp, nil
}

// Transition applies the compare-and-set stage advance under the store lock.
func (r *MemoryJobRepository) Transition(ctx context.Context, id uuid.UUID, expected, next job.Stage, muts ...job.Mutation) (*job.Job, error) {
	if !job.CanTransition(expected, next) {
		return nil, fmt.Errorf("%w: %s -> %s", job.ErrInvalidTransition, expected, next)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", job.ErrNotFound, id)
	}
	if j.Stage != expected {
		return nil, fmt.Errorf("%w: job %s is %s, expected %s",
			job.ErrStaleTransition, id, j.Stage, expected)
	}

	post := *j
	if err := post.Apply(next, muts...); err != nil {
		return nil, err
	}
	r.jobs[id] = &post

	cp := post
	return &cp, nil
}

// IncrementAttempt bumps the attempt counter for the given worker stage.
func (r *MemoryJobRepository) IncrementAttempt(ctx context.Context, id uuid.UUID, stage job.Stage) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", job.ErrNotFound, id)
	}

	switch stage {
	case job.StageExtracting:
		j.ExtractAttempts++
		j.UpdatedAt = time.Now().UTC()
		return j.ExtractAttempts, nil
	case job.StageGenerating:
		j.RenderAttempts++
		j.UpdatedAt = time.Now().UTC()
		return j.RenderAttempts, nil
	}
	return 0, fmt.Errorf("stage %s has no attempt counter", stage)
}

// Cancel moves a non-terminal job to cancelled.
func (r *MemoryJobRepository) Cancel(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", job.ErrNotFound, id)
	}
	if !j.Stage.Terminal() {
		j.Stage = job.StageCancelled
		j.StructuredDataRef = ""
		j.UpdatedAt = time.Now().UTC()
	}
	cp := *j
	return &cp, nil
}

// ListByStage returns jobs in the given stage, newest first.
func (r *MemoryJobRepository) ListByStage(ctx context.Context, stage job.Stage, limit, offset int) ([]*job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var jobs []*job.Job
	for _, j := range r.jobs {
		if j.Stage == stage {
			cp := *j
			jobs = append(jobs, &cp)
		}
	}
	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
	})

	if offset >= len(jobs) {
		return nil, nil
	}
	jobs = jobs[offset:]
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// CountByStage returns the count of jobs grouped by stage.
func (r *MemoryJobRepository) CountByStage(ctx context.Context) (map[job.Stage]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[job.Stage]int64)
	for _, j := range r.jobs {
		counts[j.Stage]++
	}
	return counts, nil
}
