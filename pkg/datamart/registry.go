package datamart

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
)

// LoadContext carries everything a type loader needs to reconstruct a
// dimension, whether from a persisted registry row or from a declaration.
type LoadContext struct {
	Registration DimensionRegistration
	Logger       *slog.Logger
	Schemas      Schemas
	Sources      *SourceRegistry
	Store        Store
	Clock        clockwork.Clock
}

// LoaderFunc reconstructs a live dimension from a load context.
type LoaderFunc func(ctx context.Context, lc LoadContext) (Dimension, error)

// TypeEntry describes one registered dimension type.
type TypeEntry struct {
	Key         string
	Description string
	Load        LoaderFunc
}

// TypeRegistry is the process-wide catalog of dimension types. It is
// populated by explicit Register calls at startup; there is no implicit
// registration.
type TypeRegistry struct {
	log *slog.Logger

	mu      sync.RWMutex
	entries map[string]TypeEntry
}

func NewTypeRegistry(log *slog.Logger) *TypeRegistry {
	return &TypeRegistry{
		log:     log,
		entries: make(map[string]TypeEntry),
	}
}

// Register adds a type entry. Entries with an empty key or a key that is
// already registered are skipped silently.
func (r *TypeRegistry) Register(e TypeEntry) {
	if e.Key == "" || e.Load == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.Key]; ok {
		r.log.Debug("dimension type already registered, skipping", "type", e.Key)
		return
	}
	r.entries[e.Key] = e
}

// Get returns the entry for key.
func (r *TypeRegistry) Get(key string) (TypeEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	return e, ok
}

// Entries returns a snapshot of all registered types, sorted by key.
func (r *TypeRegistry) Entries() []TypeEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TypeEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// RegisterBuiltinTypes registers the generic, taxon, raster, and vector
// dimension types. Call once at process start.
func RegisterBuiltinTypes(r *TypeRegistry) {
	r.Register(TypeEntry{
		Key:         TypeKeyGeneric,
		Description: "Generic dimension, columns supplied by the caller.",
		Load:        loadGeneric,
	})
	r.Register(TypeEntry{
		Key:         TypeKeyTaxon,
		Description: "Taxon dimension, one row per taxon with flattened ranks.",
		Load:        loadTaxon,
	})
	r.Register(TypeEntry{
		Key:         TypeKeyRaster,
		Description: "Raster dimension, values are extracted from a registered raster.",
		Load:        loadRaster,
	})
	r.Register(TypeEntry{
		Key:         TypeKeyVector,
		Description: "Vector dimension, mirrors a registered vector table.",
		Load:        loadVector,
	})
}
