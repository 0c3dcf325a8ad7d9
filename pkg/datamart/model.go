package datamart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Model is a complete star schema: dimensions, the fact tables joining them,
// and per-fact-table aggregate specifications. Order of registration is
// preserved so schema creation and descriptor output are deterministic.
type Model struct {
	log        *slog.Logger
	store      Store
	dimensions []Dimension
	factTables []*FactTable
	aggregates map[string][]Aggregate
}

type ModelConfig struct {
	Logger     *slog.Logger
	Store      Store
	Dimensions []Dimension
	FactTables []*FactTable
	// Aggregates overrides the default aggregate list per fact table name.
	Aggregates map[string][]Aggregate
}

func (cfg *ModelConfig) Validate() error {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Aggregates == nil {
		cfg.Aggregates = map[string][]Aggregate{}
	}
	seen := map[string]bool{}
	for _, d := range cfg.Dimensions {
		if seen[d.Name()] {
			return fmt.Errorf("duplicate dimension %q", d.Name())
		}
		seen[d.Name()] = true
	}
	return nil
}

func NewModel(cfg ModelConfig) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Model{
		log:        cfg.Logger,
		store:      cfg.Store,
		dimensions: cfg.Dimensions,
		factTables: cfg.FactTables,
		aggregates: cfg.Aggregates,
	}, nil
}

func (m *Model) Dimensions() []Dimension {
	out := make([]Dimension, len(m.dimensions))
	copy(out, m.dimensions)
	return out
}

func (m *Model) FactTables() []*FactTable {
	out := make([]*FactTable, len(m.factTables))
	copy(out, m.factTables)
	return out
}

// Dimension returns the named dimension, or nil.
func (m *Model) Dimension(name string) Dimension {
	for _, d := range m.dimensions {
		if d.Name() == name {
			return d
		}
	}
	return nil
}

// FactTable returns the named fact table, or nil.
func (m *Model) FactTable(name string) *FactTable {
	for _, t := range m.factTables {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

// CreateSchema creates every dimension, then every fact table, in declaration
// order. Dimensions first so fact-table foreign keys always have a target.
// The first failure aborts the walk.
func (m *Model) CreateSchema(ctx context.Context) error {
	for _, d := range m.dimensions {
		if err := d.Create(ctx, m.store); err != nil {
			return err
		}
	}
	for _, t := range m.factTables {
		if err := t.Create(ctx, m.store); err != nil {
			return err
		}
	}
	m.log.Info("created schema", "dimensions", len(m.dimensions), "fact_tables", len(m.factTables))
	return nil
}

// DropSchema drops every fact table, then every dimension, so foreign keys
// never dangle mid-walk. The first failure aborts.
func (m *Model) DropSchema(ctx context.Context) error {
	for _, t := range m.factTables {
		if err := t.Drop(ctx, m.store); err != nil {
			return err
		}
	}
	for _, d := range m.dimensions {
		if err := d.Drop(ctx, m.store); err != nil {
			return err
		}
	}
	return nil
}

// PopulateDimensions populates every dimension from its source, up to
// parallel at a time (sequential when parallel < 2). One dimension failing
// does not stop the others; all failures are joined into the returned error.
func (m *Model) PopulateDimensions(ctx context.Context, parallel int) error {
	return m.populate(ctx, parallel, len(m.dimensions), func(i int) (string, error) {
		d := m.dimensions[i]
		return "dimension " + d.Name(), d.PopulateFromSource(ctx, m.store)
	})
}

// PopulateFactTables populates every fact table from its source, up to
// parallel at a time. Call after PopulateDimensions so the keys resolve.
func (m *Model) PopulateFactTables(ctx context.Context, parallel int) error {
	return m.populate(ctx, parallel, len(m.factTables), func(i int) (string, error) {
		t := m.factTables[i]
		return "fact table " + t.Name(), t.PopulateFromSource(ctx, m.store)
	})
}

func (m *Model) populate(ctx context.Context, parallel, n int, fn func(i int) (string, error)) error {
	if parallel < 1 {
		parallel = 1
	}
	var mu sync.Mutex
	var errs []error

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return nil
			}
			name, err := fn(i)
			if err != nil {
				m.log.Warn("population failed", "target", name, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// CubeModel renders the whole star schema as the descriptor the analytical
// browser imports.
func (m *Model) CubeModel() CubeModel {
	out := CubeModel{
		Dimensions: make([]CubeDimension, 0, len(m.dimensions)),
		Cubes:      make([]Cube, 0, len(m.factTables)),
	}
	for _, d := range m.dimensions {
		out.Dimensions = append(out.Dimensions, DescribeDimension(d))
	}
	for _, t := range m.factTables {
		out.Cubes = append(out.Cubes, t.Cube(m.aggregates[t.Name()]))
	}
	return out
}
