package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory opens a backend from its options.
type Factory func(ctx context.Context, opts Options) (Cache, error)

// Registry maps cache type names ("disk", "sqlite3", ...) to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// DefaultRegistry returns a registry with every built-in backend.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("memory", OpenMemory)
	r.Register("disk", OpenDisk)
	r.Register("sqlite3", OpenSQLite)
	r.Register("s3", OpenS3)
	return r
}

// Register adds a factory under the given type name.
func (r *Registry) Register(typ string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = f
}

// Has reports whether typ is registered.
func (r *Registry) Has(typ string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[typ]
	return ok
}

// Open creates a backend of the given type, wrapping it with compression
// when the options ask for it.
func (r *Registry) Open(ctx context.Context, typ string, opts Options) (Cache, error) {
	r.mu.RLock()
	f, ok := r.factories[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("cache type %q is not registered", typ)
	}

	c, err := f(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("open %s cache %q: %w", typ, opts.Name, err)
	}

	switch opts.Compression {
	case "", CompressionNone:
		return c, nil
	default:
		wrapped, err := NewCompressed(c, opts.Compression)
		if err != nil {
			c.Close()
			return nil, err
		}
		return wrapped, nil
	}
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for typ := range r.factories {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}
