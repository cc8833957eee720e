package artifact

import (
	"context"
	"fmt"
	"sync"
)

// MemoryGateway keeps artifacts in process memory, for tests and local runs.
type MemoryGateway struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryGateway creates an empty in-memory artifact store.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{objects: make(map[string][]byte)}
}

// Put stores a copy of the artifact under ref.
func (g *MemoryGateway) Put(ctx context.Context, ref string, data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	g.objects[ref] = buf
	return nil
}

// Get retrieves the artifact stored under ref.
func (g *MemoryGateway) Get(ctx context.Context, ref string) ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	data, ok := g.objects[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

// Len returns the number of stored artifacts.
func (g *MemoryGateway) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.objects)
}
