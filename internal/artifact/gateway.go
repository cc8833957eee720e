// Package artifact abstracts the object store holding documents, specs,
// templates, extraction results, and rendered outputs.
package artifact

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no artifact exists under the ref.
	ErrNotFound = errors.New("artifact not found")

	// ErrUnavailable is returned when the backing store cannot serve the
	// request. Stages treat it as transient and retry.
	ErrUnavailable = errors.New("artifact store unavailable")
)

// Gateway reads and writes artifacts by ref. Refs are opaque store keys;
// each job field is written exactly once, so writers never contend on a key.
type Gateway interface {
	// Put stores the artifact under ref. Fails with ErrUnavailable if the
	// store cannot accept the write.
	Put(ctx context.Context, ref string, data []byte) error

	// Get retrieves the artifact stored under ref.
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Ref builds the store key for a named artifact of a job.
func Ref(jobID uuid.UUID, name string) string {
	return fmt.Sprintf("jobs/%s/%s", jobID, name)
}
