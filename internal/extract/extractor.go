// Package extract invokes the AI model that pulls a structured record out
// of a document according to a per-document JSON schema spec.
package extract

import (
	"context"
	"errors"
)

// Extractor is the extraction collaborator boundary. Implementations may be
// slow and non-deterministic; callers bound them with a context deadline
// and treat a deadline expiry like any other failure.
type Extractor interface {
	// Extract returns the structured record (JSON, valid against spec) for
	// the document. Errors marked permanent will not improve with retries.
	Extract(ctx context.Context, document, spec []byte) ([]byte, error)
}

// permanentError marks a failure that retrying cannot fix, such as a spec
// that is not a valid JSON schema.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err as a permanent extraction failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err is marked permanent. Stages short-circuit
// permanent failures straight to dead-lettering instead of burning retries.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
