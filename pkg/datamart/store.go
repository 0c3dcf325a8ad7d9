package datamart

import (
	"context"
	"io"
	"time"
)

// Schemas names the database schemas holding dimension and fact tables.
// Registry tables live in the fixed "datamart" schema.
type Schemas struct {
	Dimensions string
	Facts      string
}

func (s *Schemas) Validate() error {
	if s.Dimensions == "" {
		s.Dimensions = "dims"
	}
	if s.Facts == "" {
		s.Facts = "facts"
	}
	return nil
}

// DimensionRegistration is a dimension registry row. The registry is the
// source of truth for how to reconstruct a dimension instance; the physical
// table is the source of truth for its current rows.
type DimensionRegistration struct {
	ID          int64
	Name        string
	TypeKey     string
	LabelColumn string
	DateCreate  time.Time
	Properties  map[string]any
}

// FactTableRegistration is a fact-table registry row.
type FactTableRegistration struct {
	ID         int64
	Name       string
	DateCreate time.Time
	DateUpdate *time.Time
}

// Store is the single storage seam of the engine: DDL execution, catalog
// introspection, the CSV bulk-load path, and registry bookkeeping. The pgx
// implementation lives in pkg/postgres; tests substitute an in-memory fake.
//
// Existence checks always hit the live catalog so tables created or dropped
// out-of-process are observed.
type Store interface {
	// Exec runs a statement that returns no rows.
	Exec(ctx context.Context, sql string, args ...any) error

	// QueryFrame runs a query and returns the result as a Frame.
	QueryFrame(ctx context.Context, sql string, args ...any) (*Frame, error)

	// TableExists inspects the schema catalog for the named table.
	TableExists(ctx context.Context, schema, table string) (bool, error)

	// TableColumns returns the named table's columns in ordinal position.
	TableColumns(ctx context.Context, schema, table string) ([]Column, error)

	// CopyCSV streams a CSV payload (header row, explicit column order) into
	// the named table in a single pass and returns the number of rows loaded.
	CopyCSV(ctx context.Context, schema, table string, columns []string, r io.Reader) (int64, error)

	// InTx runs fn against a transactional view of the store. The transaction
	// commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx Store) error) error

	// GetDimension returns the registry row for name, or (nil, nil) when the
	// dimension is not registered.
	GetDimension(ctx context.Context, name string) (*DimensionRegistration, error)
	ListDimensions(ctx context.Context) ([]DimensionRegistration, error)
	InsertDimension(ctx context.Context, reg DimensionRegistration) error
	DeleteDimension(ctx context.Context, name string) error

	// GetFactTable returns the registry row for name, or (nil, nil) when the
	// fact table is not registered.
	GetFactTable(ctx context.Context, name string) (*FactTableRegistration, error)
	ListFactTables(ctx context.Context) ([]FactTableRegistration, error)
	InsertFactTable(ctx context.Context, reg FactTableRegistration) error
	// TouchFactTable records a population by setting date_update.
	TouchFactTable(ctx context.Context, name string, at time.Time) error
	DeleteFactTable(ctx context.Context, name string) error
}
