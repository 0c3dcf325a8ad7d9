package datamart

import (
	"context"
	"fmt"
)

// TypeKeyGeneric identifies dimensions whose column layout is supplied by the
// caller rather than fixed by a variant.
const TypeKeyGeneric = "GENERIC_DIMENSION"

// GenericDimension is a dimension with caller-defined columns. The column
// specs and the source binding key are persisted in the registry properties
// so the dimension can be reconstructed in a later process.
type GenericDimension struct {
	*Base
}

// GenericConfig configures a generic dimension. SourceKey names the source
// binding in the source registry; it is persisted alongside the columns.
type GenericConfig struct {
	BaseConfig
	SourceKey string
}

func NewGenericDimension(cfg GenericConfig) (*GenericDimension, error) {
	cfg.TypeKey = TypeKeyGeneric
	if cfg.Properties == nil {
		cfg.Properties = map[string]any{}
	}
	cfg.Properties["columns"] = encodeColumnSpecs(cfg.Columns)
	if cfg.SourceKey != "" {
		cfg.Properties["source"] = cfg.SourceKey
	}
	base, err := NewBase(cfg.BaseConfig)
	if err != nil {
		return nil, err
	}
	return &GenericDimension{Base: base}, nil
}

func encodeColumnSpecs(cols []Column) []any {
	out := make([]any, 0, len(cols))
	for _, c := range cols {
		spec := map[string]any{"name": c.Name, "type": string(c.Type)}
		if c.Label != "" {
			spec["label"] = c.Label
		}
		out = append(out, spec)
	}
	return out
}

// decodeColumnSpecs reads column specs back out of registry properties. The
// specs arrive as generic JSON values after the registry round-trip.
func decodeColumnSpecs(v any) ([]Column, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("column specs have unexpected shape %T", v)
	}
	cols := make([]Column, 0, len(raw))
	for i, item := range raw {
		spec, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("column spec %d has unexpected shape %T", i, item)
		}
		name, _ := spec["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("column spec %d has no name", i)
		}
		typ, _ := spec["type"].(string)
		if typ == "" {
			typ = string(ColText)
		}
		label, _ := spec["label"].(string)
		cols = append(cols, Column{Name: name, Type: ColumnType(typ), Label: label})
	}
	return cols, nil
}

func loadGeneric(_ context.Context, lc LoadContext) (Dimension, error) {
	reg := lc.Registration
	cols, err := decodeColumnSpecs(reg.Properties["columns"])
	if err != nil {
		return nil, fmt.Errorf("failed to load dimension %s: %w", reg.Name, err)
	}

	var src Source
	sourceKey, _ := reg.Properties["source"].(string)
	if sourceKey != "" && lc.Sources != nil {
		src, _ = lc.Sources.Get(sourceKey)
	}

	description, _ := reg.Properties["description"].(string)
	return NewGenericDimension(GenericConfig{
		BaseConfig: BaseConfig{
			Logger:      lc.Logger,
			Name:        reg.Name,
			Columns:     cols,
			LabelColumn: reg.LabelColumn,
			Description: description,
			Source:      src,
			Schemas:     lc.Schemas,
			Clock:       lc.Clock,
		},
		SourceKey: sourceKey,
	})
}
