// Package storage provides the Postgres and in-memory implementations of
// the job repository.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/swastik-shetty-85/docpipe/internal/job"
)

const jobColumns = `id, owner, stage, input_ref, spec_ref, template_ref,
	structured_data_ref, output_ref, extract_attempts, render_attempts,
	last_error, created_at, updated_at`

// PostgresJobRepository implements job.Repository using PostgreSQL. The
// Transition compare-and-set is a guarded UPDATE: the write commits only if
// the row's stage still equals the expected stage, so racing workers and
// duplicate deliveries lose without side effects.
type PostgresJobRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresJobRepository creates a new Postgres-backed job repository.
func NewPostgresJobRepository(pool *pgxpool.Pool, logger *zap.Logger) *PostgresJobRepository {
	return &PostgresJobRepository{pool: pool, logger: logger}
}

// Create inserts a new job.
func (r *PostgresJobRepository) Create(ctx context.Context, j *job.Job) error {
	query := `
		INSERT INTO jobs (id, owner, stage, input_ref, spec_ref, template_ref,
			structured_data_ref, output_ref, extract_attempts, render_attempts,
			last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.pool.Exec(ctx, query,
		j.ID, j.Owner, j.Stage, j.InputRef, j.SpecRef, j.TemplateRef,
		j.StructuredDataRef, j.OutputRef, j.ExtractAttempts, j.RenderAttempts,
		j.LastError, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by its UUID.
func (r *PostgresJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	j, err := scanJob(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", job.ErrNotFound, id)
		}
		return nil, fmt.Errorf("query job: %w", err)
	}
	return j, nil
}

// Transition applies the compare-and-set stage advance. The UPDATE writes
// only the fields a transition owns (stage, refs, last_error); attempt
// counters move exclusively through IncrementAttempt so a concurrent bump
// is never clobbered by a stale copy.
func (r *PostgresJobRepository) Transition(ctx context.Context, id uuid.UUID, expected, next job.Stage, muts ...job.Mutation) (*job.Job, error) {
	if !job.CanTransition(expected, next) {
		return nil, fmt.Errorf("%w: %s -> %s", job.ErrInvalidTransition, expected, next)
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Stage != expected {
		return nil, fmt.Errorf("%w: job %s is %s, expected %s",
			job.ErrStaleTransition, id, current.Stage, expected)
	}

	post := *current
	if err := post.Apply(next, muts...); err != nil {
		return nil, err
	}

	query := `
		UPDATE jobs SET
			stage = $3, structured_data_ref = $4, output_ref = $5,
			last_error = $6, updated_at = $7
		WHERE id = $1 AND stage = $2
		RETURNING ` + jobColumns

	j, err := scanJob(r.pool.QueryRow(ctx, query,
		id, expected, post.Stage, post.StructuredDataRef, post.OutputRef,
		post.LastError, post.UpdatedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The stage moved between our read and the guarded write.
			return nil, fmt.Errorf("%w: job %s left %s", job.ErrStaleTransition, id, expected)
		}
		return nil, fmt.Errorf("transition job: %w", err)
	}
	return j, nil
}

// IncrementAttempt bumps the attempt counter for the given worker stage.
func (r *PostgresJobRepository) IncrementAttempt(ctx context.Context, id uuid.UUID, stage job.Stage) (int, error) {
	var column string
	switch stage {
	case job.StageExtracting:
		column = "extract_attempts"
	case job.StageGenerating:
		column = "render_attempts"
	default:
		return 0, fmt.Errorf("stage %s has no attempt counter", stage)
	}

	query := fmt.Sprintf(
		`UPDATE jobs SET %s = %s + 1, updated_at = $2 WHERE id = $1 RETURNING %s`,
		column, column, column,
	)

	var count int
	err := r.pool.QueryRow(ctx, query, id, time.Now().UTC()).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", job.ErrNotFound, id)
		}
		return 0, fmt.Errorf("increment attempt: %w", err)
	}
	return count, nil
}

// Cancel moves a non-terminal job to cancelled. Terminal jobs are returned
// unchanged. The structured data ref is dropped with the job: only the
// extracted, generating, and complete stages carry one.
func (r *PostgresJobRepository) Cancel(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	query := `
		UPDATE jobs SET stage = $2, structured_data_ref = '', updated_at = $3
		WHERE id = $1 AND stage NOT IN ($4, $5, $6, $7)
		RETURNING ` + jobColumns

	j, err := scanJob(r.pool.QueryRow(ctx, query,
		id, job.StageCancelled, time.Now().UTC(),
		job.StageComplete, job.StageFailed, job.StageDeadLettered, job.StageCancelled,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either missing or already terminal; GetByID settles which.
			return r.GetByID(ctx, id)
		}
		return nil, fmt.Errorf("cancel job: %w", err)
	}
	return j, nil
}

// ListByStage returns jobs in the given stage, newest first.
func (r *PostgresJobRepository) ListByStage(ctx context.Context, stage job.Stage, limit, offset int) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM jobs WHERE stage = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, stage, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// CountByStage returns the count of jobs grouped by stage.
func (r *PostgresJobRepository) CountByStage(ctx context.Context) (map[job.Stage]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT stage, COUNT(*) FROM jobs GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("query counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[job.Stage]int64)
	for rows.Next() {
		var stage job.Stage
		var count int64
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[stage] = count
	}
	return counts, rows.Err()
}

func scanJob(row pgx.Row) (*job.Job, error) {
	j := &job.Job{}
	err := row.Scan(
		&j.ID, &j.Owner, &j.Stage, &j.InputRef, &j.SpecRef, &j.TemplateRef,
		&j.StructuredDataRef, &j.OutputRef, &j.ExtractAttempts, &j.RenderAttempts,
		&j.LastError, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return j, nil
}
