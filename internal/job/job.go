// Package job defines the document job domain model and its stage machine.
package job

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage represents where a job currently sits in the extraction pipeline.
type Stage string

const (
	StageUploaded     Stage = "uploaded"
	StageQueued       Stage = "queued"
	StageExtracting   Stage = "extracting"
	StageExtracted    Stage = "extracted"
	StageGenerating   Stage = "generating"
	StageComplete     Stage = "complete"
	StageFailed       Stage = "failed"
	StageDeadLettered Stage = "dead_lettered"
	StageCancelled    Stage = "cancelled"
)

// forwardOrder ranks the happy-path stages. Terminal failure stages sit
// outside the order; they are reachable from any non-terminal stage.
var forwardOrder = map[Stage]int{
	StageUploaded:   0,
	StageQueued:     1,
	StageExtracting: 2,
	StageExtracted:  3,
	StageGenerating: 4,
	StageComplete:   5,
}

// validTransitions defines the allowed stage machine edges. The only
// backward edges are the retry edges extracting->queued and
// generating->extracted; everything else moves forward or terminates.
var validTransitions = map[Stage][]Stage{
	StageUploaded:     {StageQueued, StageFailed, StageDeadLettered, StageCancelled},
	StageQueued:       {StageExtracting, StageFailed, StageDeadLettered, StageCancelled},
	StageExtracting:   {StageExtracted, StageQueued, StageFailed, StageDeadLettered, StageCancelled},
	StageExtracted:    {StageGenerating, StageFailed, StageDeadLettered, StageCancelled},
	StageGenerating:   {StageComplete, StageExtracted, StageFailed, StageDeadLettered, StageCancelled},
	StageComplete:     {},
	StageFailed:       {},
	StageDeadLettered: {},
	StageCancelled:    {},
}

// Terminal reports whether the stage is final. A job in a terminal stage is
// never written again.
func (s Stage) Terminal() bool {
	switch s {
	case StageComplete, StageFailed, StageDeadLettered, StageCancelled:
		return true
	}
	return false
}

// Before reports whether s precedes other in the forward pipeline order.
// Terminal failure stages carry no order and always report false.
func (s Stage) Before(other Stage) bool {
	a, okA := forwardOrder[s]
	b, okB := forwardOrder[other]
	return okA && okB && a < b
}

// CanTransition reports whether the edge from -> to exists in the stage machine.
func CanTransition(from, to Stage) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job is a single document run through the pipeline. Artifact refs are
// opaque keys into the artifact gateway; each ref field is written by
// exactly one stage and cleared if the job terminates without completing.
type Job struct {
	ID                uuid.UUID `json:"id" db:"id"`
	Owner             string    `json:"owner" db:"owner"`
	Stage             Stage     `json:"stage" db:"stage"`
	InputRef          string    `json:"input_ref" db:"input_ref"`
	SpecRef           string    `json:"spec_ref" db:"spec_ref"`
	TemplateRef       string    `json:"template_ref" db:"template_ref"`
	StructuredDataRef string    `json:"structured_data_ref,omitempty" db:"structured_data_ref"`
	OutputRef         string    `json:"output_ref,omitempty" db:"output_ref"`
	ExtractAttempts   int       `json:"extract_attempts" db:"extract_attempts"`
	RenderAttempts    int       `json:"render_attempts" db:"render_attempts"`
	LastError         string    `json:"last_error,omitempty" db:"last_error"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// New creates a job in the uploaded stage with its immutable artifact refs.
func New(owner, inputRef, specRef, templateRef string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          uuid.New(),
		Owner:       owner,
		Stage:       StageUploaded,
		InputRef:    inputRef,
		SpecRef:     specRef,
		TemplateRef: templateRef,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Attempts returns the bookkeeping counter for the given worker stage.
func (j *Job) Attempts(stage Stage) int {
	switch stage {
	case StageExtracting:
		return j.ExtractAttempts
	case StageGenerating:
		return j.RenderAttempts
	}
	return 0
}

// Apply validates and applies a transition plus mutations in memory. The
// repositories use it to build the post-state their guarded write commits;
// the guard itself (expected-stage compare) lives in the repository.
func (j *Job) Apply(next Stage, muts ...Mutation) error {
	if !CanTransition(j.Stage, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Stage, next)
	}
	j.Stage = next
	for _, m := range muts {
		m(j)
	}
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Mutation adjusts job fields as part of a stage transition.
type Mutation func(*Job)

// WithStructuredDataRef records the extraction result artifact. Set exactly
// once, by the extraction stage.
func WithStructuredDataRef(ref string) Mutation {
	return func(j *Job) { j.StructuredDataRef = ref }
}

// WithOutputRef records the rendered output artifact. Set exactly once, by
// the generation stage.
func WithOutputRef(ref string) Mutation {
	return func(j *Job) { j.OutputRef = ref }
}

// WithError records the failure description from the latest attempt.
func WithError(msg string) Mutation {
	return func(j *Job) { j.LastError = msg }
}

// ClearError wipes the failure description after a successful attempt.
func ClearError() Mutation {
	return func(j *Job) { j.LastError = "" }
}

// ClearStructuredRef wipes the extraction artifact ref. Applied when a job
// terminates without completing: structured_data_ref is populated only in
// the extracted, generating, and complete stages.
func ClearStructuredRef() Mutation {
	return func(j *Job) { j.StructuredDataRef = "" }
}
