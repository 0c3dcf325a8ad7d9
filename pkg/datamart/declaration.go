package datamart

import (
	"context"
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Declaration is the YAML form of a star schema: dimensions, fact tables,
// and aggregates, referencing dimension types and source bindings by key.
type Declaration struct {
	Schemas    SchemasDecl     `koanf:"schemas"`
	Sources    []SourceDecl    `koanf:"sources"`
	Dimensions []DimensionDecl `koanf:"dimensions"`
	FactTables []FactTableDecl `koanf:"fact_tables"`
}

// SourceDecl declares one source binding. Type selects the implementation;
// the other fields parameterize it.
type SourceDecl struct {
	Name   string `koanf:"name"`
	Type   string `koanf:"type"`
	Query  string `koanf:"query"`
	Table  string `koanf:"table"`
	Schema string `koanf:"schema"`
}

type SchemasDecl struct {
	Dimensions string `koanf:"dimensions"`
	Facts      string `koanf:"facts"`
}

type DimensionDecl struct {
	Name        string       `koanf:"name"`
	Type        string       `koanf:"type"`
	Description string       `koanf:"description"`
	LabelColumn string       `koanf:"label_column"`
	Source      string       `koanf:"source"`
	Columns     []ColumnDecl `koanf:"columns"`
	Raster      string       `koanf:"raster"`
	Cuts        []float64    `koanf:"cuts"`
	CutLabels   []string     `koanf:"cut_labels"`
	Vector      VectorDecl   `koanf:"vector"`
}

type ColumnDecl struct {
	Name  string `koanf:"name"`
	Type  string `koanf:"type"`
	Label string `koanf:"label"`
}

type VectorDecl struct {
	Schema string `koanf:"schema"`
	Table  string `koanf:"table"`
}

type FactTableDecl struct {
	Name       string          `koanf:"name"`
	Dimensions []string        `koanf:"dimensions"`
	Measures   []ColumnDecl    `koanf:"measures"`
	Source     string          `koanf:"source"`
	Aggregates []AggregateDecl `koanf:"aggregates"`
}

type AggregateDecl struct {
	Name     string `koanf:"name"`
	Function string `koanf:"function"`
	Measure  string `koanf:"measure"`
}

// LoadDeclarationFile reads a model declaration from a YAML file.
func LoadDeclarationFile(path string) (*Declaration, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to read model declaration %s: %w", path, err)
	}
	var decl Declaration
	if err := k.Unmarshal("", &decl); err != nil {
		return nil, fmt.Errorf("failed to parse model declaration %s: %w", path, err)
	}
	return &decl, nil
}

// BuildModel resolves a declaration into a live model. Every reference is
// checked up front so a bad declaration fails before any DDL: unknown type
// keys, unknown source keys, and fact tables naming undeclared dimensions
// all raise UnresolvedReferenceError.
func (m *Manager) BuildModel(ctx context.Context, decl *Declaration) (*Model, error) {
	schemas := m.schemas
	if decl.Schemas.Dimensions != "" {
		schemas.Dimensions = decl.Schemas.Dimensions
	}
	if decl.Schemas.Facts != "" {
		schemas.Facts = decl.Schemas.Facts
	}

	byName := make(map[string]Dimension, len(decl.Dimensions))
	dims := make([]Dimension, 0, len(decl.Dimensions))
	for _, dd := range decl.Dimensions {
		d, err := m.buildDimension(ctx, schemas, dd)
		if err != nil {
			return nil, err
		}
		byName[d.Name()] = d
		dims = append(dims, d)
	}

	facts := make([]*FactTable, 0, len(decl.FactTables))
	aggregates := make(map[string][]Aggregate, len(decl.FactTables))
	for _, fd := range decl.FactTables {
		ftDims := make([]Dimension, 0, len(fd.Dimensions))
		for _, name := range fd.Dimensions {
			d, ok := byName[name]
			if !ok {
				return nil, &UnresolvedReferenceError{
					Kind: "dimension", By: "fact table " + fd.Name, Ref: name,
				}
			}
			ftDims = append(ftDims, d)
		}
		src, err := m.resolveSource("fact table "+fd.Name, fd.Source)
		if err != nil {
			return nil, err
		}
		ft, err := NewFactTable(FactTableConfig{
			Logger:     m.log,
			Name:       fd.Name,
			Dimensions: ftDims,
			Measures:   declMeasures(fd.Measures),
			Source:     src,
			Schemas:    schemas,
			Clock:      m.clock,
		})
		if err != nil {
			return nil, err
		}
		facts = append(facts, ft)
		for _, ad := range fd.Aggregates {
			aggregates[fd.Name] = append(aggregates[fd.Name], Aggregate(ad))
		}
	}

	return NewModel(ModelConfig{
		Logger:     m.log,
		Store:      m.store,
		Dimensions: dims,
		FactTables: facts,
		Aggregates: aggregates,
	})
}

// buildDimension resolves one dimension declaration: an already-registered
// name is reconstructed from its registry row, anything else is instantiated
// from the declaration via the declared type's loader.
func (m *Manager) buildDimension(ctx context.Context, schemas Schemas, dd DimensionDecl) (Dimension, error) {
	if dd.Name == "" && dd.Type != TypeKeyTaxon {
		return nil, fmt.Errorf("dimension declaration has no name")
	}

	if dd.Name != "" {
		reg, err := m.store.GetDimension(ctx, dd.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to look up dimension %s: %w", dd.Name, err)
		}
		if reg != nil {
			return m.Load(ctx, dd.Name)
		}
	}

	entry, ok := m.types.Get(dd.Type)
	if !ok {
		return nil, &UnresolvedReferenceError{
			Kind: "dimension type", By: "dimension " + dd.Name, Ref: dd.Type,
		}
	}
	if _, err := m.resolveSource("dimension "+dd.Name, dd.Source); err != nil {
		return nil, err
	}
	return entry.Load(ctx, LoadContext{
		Registration: declRegistration(dd),
		Logger:       m.log,
		Schemas:      schemas,
		Sources:      m.sources,
		Store:        m.store,
		Clock:        m.clock,
	})
}

// declRegistration packs a declaration into the registration shape the type
// loaders consume, so the declaration path and the registry path share one
// reconstruction code path.
func declRegistration(dd DimensionDecl) DimensionRegistration {
	props := map[string]any{}
	if dd.Description != "" {
		props["description"] = dd.Description
	}
	if dd.Source != "" {
		props["source"] = dd.Source
	}
	if len(dd.Columns) > 0 {
		props["columns"] = encodeColumnSpecs(declColumns(dd.Columns))
	}
	if dd.Raster != "" {
		props["raster"] = dd.Raster
	}
	if len(dd.Cuts) > 0 {
		cuts := make([]any, 0, len(dd.Cuts))
		for _, c := range dd.Cuts {
			cuts = append(cuts, c)
		}
		labels := make([]any, 0, len(dd.CutLabels))
		for _, l := range dd.CutLabels {
			labels = append(labels, l)
		}
		props["cuts"] = map[string]any{"cuts": cuts, "labels": labels}
	}
	if dd.Vector.Table != "" || dd.Vector.Schema != "" {
		props["vector_schema"] = dd.Vector.Schema
		props["vector_table"] = dd.Vector.Table
	}
	return DimensionRegistration{
		Name:        dd.Name,
		TypeKey:     dd.Type,
		LabelColumn: dd.LabelColumn,
		Properties:  props,
	}
}

func (m *Manager) resolveSource(by, key string) (Source, error) {
	if key == "" {
		return nil, nil
	}
	src, ok := m.sources.Get(key)
	if !ok {
		return nil, &UnresolvedReferenceError{Kind: "source", By: by, Ref: key}
	}
	return src, nil
}

func declColumns(decls []ColumnDecl) []Column {
	cols := make([]Column, 0, len(decls))
	for _, cd := range decls {
		typ := cd.Type
		if typ == "" {
			typ = string(ColText)
		}
		cols = append(cols, Column{Name: cd.Name, Type: ColumnType(typ), Label: cd.Label})
	}
	return cols
}

// declMeasures is declColumns with the measure default, double precision.
func declMeasures(decls []ColumnDecl) []Column {
	cols := declColumns(decls)
	for i, cd := range decls {
		if cd.Type == "" {
			cols[i].Type = ColFloat
		}
	}
	return cols
}
