// Package render invokes the PDF rendering collaborator that merges a
// structured record into a template.
package render

import "context"

// Renderer is the rendering collaborator boundary. Callers bound it with a
// context deadline and treat expiry like any other failure.
type Renderer interface {
	// Render returns the output document bytes for the template filled
	// with the structured record.
	Render(ctx context.Context, template, record []byte) ([]byte, error)
}
