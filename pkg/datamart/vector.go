package datamart

import (
	"context"
	"fmt"
	"strings"
)

// TypeKeyVector identifies dimensions mirroring a registered vector table,
// one member per feature.
const TypeKeyVector = "VECTOR_DIMENSION"

// VectorDimension mirrors the columns of a registered vector table. The
// geometry column is kept physically so spatial joins remain possible, but it
// never appears in the cube descriptor.
type VectorDimension struct {
	*Base

	vectorSchema string
	vectorTable  string
}

type VectorConfig struct {
	BaseConfig
	// VectorSchema.VectorTable is the registered vector table mirrored by
	// this dimension. VectorTable defaults to the dimension name.
	VectorSchema string
	VectorTable  string
}

// NewVectorDimension inspects the vector table's live columns to derive the
// dimension schema; the store must be reachable at construction time.
func NewVectorDimension(ctx context.Context, store Store, cfg VectorConfig) (*VectorDimension, error) {
	if cfg.VectorTable == "" {
		cfg.VectorTable = cfg.Name
	}
	if cfg.VectorSchema == "" {
		cfg.VectorSchema = "vectors"
	}
	cols, err := store.TableColumns(ctx, cfg.VectorSchema, cfg.VectorTable)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect vector table %s.%s: %w",
			cfg.VectorSchema, cfg.VectorTable, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("vector table %s.%s not found", cfg.VectorSchema, cfg.VectorTable)
	}
	cfg.Columns = make([]Column, 0, len(cols))
	for _, c := range cols {
		if c.Name == PKColumn {
			continue
		}
		cfg.Columns = append(cfg.Columns, c)
	}
	cfg.TypeKey = TypeKeyVector
	if cfg.Properties == nil {
		cfg.Properties = map[string]any{}
	}
	cfg.Properties["vector_schema"] = cfg.VectorSchema
	cfg.Properties["vector_table"] = cfg.VectorTable

	base, err := NewBase(cfg.BaseConfig)
	if err != nil {
		return nil, err
	}
	return &VectorDimension{
		Base:         base,
		vectorSchema: cfg.VectorSchema,
		vectorTable:  cfg.VectorTable,
	}, nil
}

// PopulateFromSource copies the vector table's rows straight from the store;
// no external source binding is involved. Geometry is carried as text.
func (d *VectorDimension) PopulateFromSource(ctx context.Context, store Store) error {
	selects := []string{PKColumn}
	for _, c := range d.Columns() {
		if c.Type == ColGeometry {
			selects = append(selects, c.Name+"::text AS "+c.Name)
			continue
		}
		selects = append(selects, c.Name)
	}
	frame, err := store.QueryFrame(ctx, fmt.Sprintf(
		"SELECT %s FROM %s.%s ORDER BY %s",
		strings.Join(selects, ", "), d.vectorSchema, d.vectorTable, PKColumn,
	))
	if err != nil {
		return fmt.Errorf("failed to read vector table %s.%s: %w", d.vectorSchema, d.vectorTable, err)
	}
	return d.Populate(ctx, store, frame, true)
}

func loadVector(ctx context.Context, lc LoadContext) (Dimension, error) {
	reg := lc.Registration
	schema, _ := reg.Properties["vector_schema"].(string)
	table, _ := reg.Properties["vector_table"].(string)
	description, _ := reg.Properties["description"].(string)
	return NewVectorDimension(ctx, lc.Store, VectorConfig{
		BaseConfig: BaseConfig{
			Logger:      lc.Logger,
			Name:        reg.Name,
			LabelColumn: reg.LabelColumn,
			Description: description,
			Schemas:     lc.Schemas,
			Clock:       lc.Clock,
		},
		VectorSchema: schema,
		VectorTable:  table,
	})
}
