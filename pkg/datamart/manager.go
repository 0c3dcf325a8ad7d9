package datamart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
)

// Manager reconstructs live dimensions from their registry rows. The registry
// row names the type; the type registry supplies the loader; the loader
// rebuilds the instance from the persisted properties.
type Manager struct {
	log     *slog.Logger
	store   Store
	types   *TypeRegistry
	sources *SourceRegistry
	schemas Schemas
	clock   clockwork.Clock
}

type ManagerConfig struct {
	Logger  *slog.Logger
	Store   Store
	Types   *TypeRegistry
	Sources *SourceRegistry
	Schemas Schemas
	Clock   clockwork.Clock
}

func (cfg *ManagerConfig) Validate() error {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Types == nil {
		cfg.Types = NewTypeRegistry(cfg.Logger)
		RegisterBuiltinTypes(cfg.Types)
	}
	if cfg.Sources == nil {
		cfg.Sources = NewSourceRegistry(cfg.Logger)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return cfg.Schemas.Validate()
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		log:     cfg.Logger,
		store:   cfg.Store,
		types:   cfg.Types,
		sources: cfg.Sources,
		schemas: cfg.Schemas,
		clock:   cfg.Clock,
	}, nil
}

func (m *Manager) Types() *TypeRegistry     { return m.types }
func (m *Manager) Sources() *SourceRegistry { return m.sources }
func (m *Manager) Schemas() Schemas         { return m.schemas }
func (m *Manager) Store() Store             { return m.store }
func (m *Manager) Clock() clockwork.Clock   { return m.clock }

// Registered lists the dimension registry rows.
func (m *Manager) Registered(ctx context.Context) ([]DimensionRegistration, error) {
	return m.store.ListDimensions(ctx)
}

// AssertRegistered returns the registry row for name, or NotRegisteredError.
func (m *Manager) AssertRegistered(ctx context.Context, name string) (*DimensionRegistration, error) {
	reg, err := m.store.GetDimension(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up dimension %s: %w", name, err)
	}
	if reg == nil {
		return nil, &NotRegisteredError{Name: name}
	}
	return reg, nil
}

// Load reconstructs the named dimension from its registry row. Returns
// NotRegisteredError when no row exists and UnknownTypeError when the row's
// type key has no loader in this process.
func (m *Manager) Load(ctx context.Context, name string) (Dimension, error) {
	reg, err := m.AssertRegistered(ctx, name)
	if err != nil {
		return nil, err
	}
	entry, ok := m.types.Get(reg.TypeKey)
	if !ok {
		return nil, &UnknownTypeError{Name: name, TypeKey: reg.TypeKey}
	}
	return entry.Load(ctx, LoadContext{
		Registration: *reg,
		Logger:       m.log,
		Schemas:      m.schemas,
		Sources:      m.sources,
		Store:        m.store,
		Clock:        m.clock,
	})
}

// LoadAll reconstructs every registered dimension. Failures do not stop the
// walk; the loaded dimensions are returned alongside the joined errors.
func (m *Manager) LoadAll(ctx context.Context) ([]Dimension, error) {
	regs, err := m.store.ListDimensions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list dimensions: %w", err)
	}
	var dims []Dimension
	var errs []error
	for _, reg := range regs {
		d, err := m.Load(ctx, reg.Name)
		if err != nil {
			m.log.Warn("failed to load dimension", "dimension", reg.Name, "error", err)
			errs = append(errs, err)
			continue
		}
		dims = append(dims, d)
	}
	return dims, errors.Join(errs...)
}

// Delete drops the named dimension's table and registry row.
func (m *Manager) Delete(ctx context.Context, name string) error {
	d, err := m.Load(ctx, name)
	if err != nil {
		return err
	}
	return d.Drop(ctx, m.store)
}

// Truncate removes every row of the named dimension.
func (m *Manager) Truncate(ctx context.Context, name string, cascade bool) error {
	d, err := m.Load(ctx, name)
	if err != nil {
		return err
	}
	return d.Truncate(ctx, m.store, cascade)
}

// FactTables lists the fact-table registry rows.
func (m *Manager) FactTables(ctx context.Context) ([]FactTableRegistration, error) {
	return m.store.ListFactTables(ctx)
}
