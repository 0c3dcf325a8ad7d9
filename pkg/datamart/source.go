package datamart

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Params carries variant-specific arguments to a source binding, e.g. raster
// bucket cut-points or the taxonomy flatten switch.
type Params map[string]any

// Merge returns a copy of p overlaid with extra.
func (p Params) Merge(extra Params) Params {
	out := make(Params, len(p)+len(extra))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Source supplies population data for a dimension or fact table. The returned
// frame's columns must be a superset of the target's declared columns.
type Source interface {
	Fetch(ctx context.Context, params Params) (*Frame, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, params Params) (*Frame, error)

func (f SourceFunc) Fetch(ctx context.Context, params Params) (*Frame, error) {
	return f(ctx, params)
}

// SourceRegistry is the process-wide catalog of source bindings, keyed the
// same way declarations reference them.
type SourceRegistry struct {
	log *slog.Logger

	mu      sync.RWMutex
	entries map[string]Source
}

func NewSourceRegistry(log *slog.Logger) *SourceRegistry {
	return &SourceRegistry{
		log:     log,
		entries: make(map[string]Source),
	}
}

// Register adds a source under key. A duplicate key is skipped silently.
func (r *SourceRegistry) Register(key string, src Source) {
	if key == "" || src == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[key]; ok {
		r.log.Debug("source already registered, skipping", "source", key)
		return
	}
	r.entries[key] = src
}

// Get returns the source registered under key.
func (r *SourceRegistry) Get(key string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.entries[key]
	return src, ok
}

// Keys returns the registered keys, sorted.
func (r *SourceRegistry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
