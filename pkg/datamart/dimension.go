package datamart

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/canopylabs/datamart/pkg/metrics"
)

// Dimension is one conformed dimension of the star schema: its physical
// schema, lifecycle, population logic, and cube-descriptor fragment.
// Variants share the lifecycle implemented by Base and differ in column
// layout and population source.
type Dimension interface {
	Name() string
	TypeKey() string
	Description() string
	Columns() []Column
	LabelColumn() string
	// Properties is the persistence-boundary form of the variant's
	// configuration; in-memory configuration stays typed on the variant.
	Properties() map[string]any
	Source() Source

	IsCreated(ctx context.Context, store Store) (bool, error)
	Create(ctx context.Context, store Store) error
	Drop(ctx context.Context, store Store) error
	Populate(ctx context.Context, store Store, frame *Frame, appendUnknownMember bool) error
	PopulateFromSource(ctx context.Context, store Store) error
	Truncate(ctx context.Context, store Store, cascade bool) error
	Values(ctx context.Context, store Store) (*Frame, error)

	CubeLevels() []CubeLevel
	CubeJoins() []CubeJoin
	CubeMappings() map[string]string
}

// BaseConfig configures the shared dimension implementation.
type BaseConfig struct {
	Logger       *slog.Logger
	Name         string
	Columns      []Column
	LabelColumn  string
	TypeKey      string
	Description  string
	Source       Source
	SourceParams Params
	Properties   map[string]any
	Schemas      Schemas
	Clock        clockwork.Clock
}

func (cfg *BaseConfig) Validate() error {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Name == "" {
		return errors.New("dimension name is required")
	}
	if len(cfg.Columns) == 0 {
		return fmt.Errorf("dimension %q has no columns", cfg.Name)
	}
	for _, c := range cfg.Columns {
		if c.Name == PKColumn {
			return fmt.Errorf("dimension %q declares reserved column %q", cfg.Name, PKColumn)
		}
	}
	if cfg.LabelColumn == "" {
		cfg.LabelColumn = DefaultLabelColumn
	}
	if cfg.TypeKey == "" {
		return fmt.Errorf("dimension %q has no type key", cfg.Name)
	}
	if cfg.Properties == nil {
		cfg.Properties = map[string]any{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return cfg.Schemas.Validate()
}

// Base implements the dimension lifecycle shared by every variant.
type Base struct {
	log          *slog.Logger
	name         string
	columns      []Column
	labelColumn  string
	typeKey      string
	description  string
	source       Source
	sourceParams Params
	properties   map[string]any
	schemas      Schemas
	clock        clockwork.Clock
}

func NewBase(cfg BaseConfig) (*Base, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Base{
		log:          cfg.Logger,
		name:         cfg.Name,
		columns:      cfg.Columns,
		labelColumn:  cfg.LabelColumn,
		typeKey:      cfg.TypeKey,
		description:  cfg.Description,
		source:       cfg.Source,
		sourceParams: cfg.SourceParams,
		properties:   cfg.Properties,
		schemas:      cfg.Schemas,
		clock:        cfg.Clock,
	}, nil
}

func (b *Base) Name() string               { return b.name }
func (b *Base) TypeKey() string            { return b.typeKey }
func (b *Base) Description() string        { return b.description }
func (b *Base) LabelColumn() string        { return b.labelColumn }
func (b *Base) Properties() map[string]any { return b.properties }
func (b *Base) Source() Source             { return b.source }

func (b *Base) Columns() []Column {
	out := make([]Column, len(b.columns))
	copy(out, b.columns)
	return out
}

func (b *Base) qualified() string {
	return b.schemas.Dimensions + "." + b.name
}

// IsCreated inspects the live schema catalog; the flag is never cached
// because the table may have been created or dropped out-of-process.
func (b *Base) IsCreated(ctx context.Context, store Store) (bool, error) {
	return store.TableExists(ctx, b.schemas.Dimensions, b.name)
}

// Create creates the physical table and its registry row in one transaction.
// Creating an already-created dimension is a logged no-op.
func (b *Base) Create(ctx context.Context, store Store) error {
	created, err := b.IsCreated(ctx, store)
	if err != nil {
		return fmt.Errorf("failed to check dimension %s: %w", b.name, err)
	}
	if created {
		b.log.Warn("dimension already exists, skipping creation", "dimension", b.name)
		return nil
	}

	reg := DimensionRegistration{
		Name:        b.name,
		TypeKey:     b.typeKey,
		LabelColumn: b.labelColumn,
		DateCreate:  b.clock.Now().UTC(),
		Properties:  b.properties,
	}
	err = store.InTx(ctx, func(tx Store) error {
		if err := tx.Exec(ctx, b.createTableSQL()); err != nil {
			return fmt.Errorf("failed to create table %s: %w", b.qualified(), err)
		}
		if err := tx.InsertDimension(ctx, reg); err != nil {
			return fmt.Errorf("failed to register dimension %s: %w", b.name, err)
		}
		return nil
	})
	if err != nil {
		metrics.SchemaOperationsTotal.WithLabelValues("dimension", "create", "error").Inc()
		return err
	}
	metrics.SchemaOperationsTotal.WithLabelValues("dimension", "create", "ok").Inc()
	b.log.Info("created dimension", "dimension", b.name, "type", b.typeKey, "columns", len(b.columns))
	return nil
}

func (b *Base) createTableSQL() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE TABLE %s (\n", b.qualified())
	fmt.Fprintf(&sb, "\t%s integer PRIMARY KEY", PKColumn)
	for _, c := range b.columns {
		fmt.Fprintf(&sb, ",\n\t%s %s", c.Name, c.Type.DDL())
	}
	sb.WriteString("\n)")
	return sb.String()
}

// Drop removes the physical table and the registry row in one transaction.
// Dropping an absent dimension is a logged no-op.
func (b *Base) Drop(ctx context.Context, store Store) error {
	created, err := b.IsCreated(ctx, store)
	if err != nil {
		return fmt.Errorf("failed to check dimension %s: %w", b.name, err)
	}
	if !created {
		b.log.Warn("dimension does not exist, skipping drop", "dimension", b.name)
		return nil
	}

	err = store.InTx(ctx, func(tx Store) error {
		if err := tx.Exec(ctx, fmt.Sprintf("DROP TABLE %s", b.qualified())); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", b.qualified(), err)
		}
		if err := tx.DeleteDimension(ctx, b.name); err != nil {
			return fmt.Errorf("failed to deregister dimension %s: %w", b.name, err)
		}
		return nil
	})
	if err != nil {
		metrics.SchemaOperationsTotal.WithLabelValues("dimension", "drop", "error").Inc()
		return err
	}
	metrics.SchemaOperationsTotal.WithLabelValues("dimension", "drop", "ok").Inc()
	b.log.Info("dropped dimension", "dimension", b.name)
	return nil
}

// Populate bulk-loads a frame into the dimension table. The frame's columns
// must be a superset of the declared columns; extras are ignored. Null values
// are replaced with per-column sentinels, and when appendUnknownMember is
// true a synthetic all-sentinel member is appended with key max(keys)+1 (or 0
// on an empty batch) so fact rows can reference an unknown member instead of
// a null key. The whole batch goes through one streaming COPY.
func (b *Base) Populate(ctx context.Context, store Store, frame *Frame, appendUnknownMember bool) error {
	opID := uuid.New()
	b.log.Debug("populating dimension", "dimension", b.name, "rows", frame.Len(), "op_id", opID)

	timer := b.clock.Now()
	payload, total, err := encodeDimensionCSV(b.columns, frame, appendUnknownMember)
	if err != nil {
		return fmt.Errorf("failed to encode batch for %s: %w", b.qualified(), err)
	}

	cols := append([]string{PKColumn}, columnNames(b.columns)...)
	n, err := store.CopyCSV(ctx, b.schemas.Dimensions, b.name, cols, payload)
	if err != nil {
		metrics.PopulationTotal.WithLabelValues("dimension", "error").Inc()
		return &PopulationError{Table: b.qualified(), Err: err}
	}
	if n != int64(total) {
		b.log.Warn("row count mismatch after bulk load", "dimension", b.name, "expected", total, "loaded", n, "op_id", opID)
	}

	metrics.PopulationTotal.WithLabelValues("dimension", "ok").Inc()
	metrics.RowsLoadedTotal.WithLabelValues("dimension", b.name).Add(float64(n))
	metrics.PopulationDuration.WithLabelValues("dimension").Observe(b.clock.Since(timer).Seconds())
	b.log.Info("populated dimension", "dimension", b.name, "rows", n, "op_id", opID)
	return nil
}

// PopulateFromSource fetches a frame from the bound source and populates the
// dimension. Variants shadow this to inject variant-specific parameters.
func (b *Base) PopulateFromSource(ctx context.Context, store Store) error {
	return b.populateFromSource(ctx, store, nil)
}

func (b *Base) populateFromSource(ctx context.Context, store Store, extra Params) error {
	if b.source == nil {
		return fmt.Errorf("dimension %s has no source binding", b.name)
	}
	frame, err := b.source.Fetch(ctx, Params(b.sourceParams).Merge(extra))
	if err != nil {
		return fmt.Errorf("failed to fetch source data for %s: %w", b.name, err)
	}
	return b.Populate(ctx, store, frame, true)
}

// Truncate removes every row. Truncating an absent dimension is a logged
// no-op. With cascade, dependent fact-table rows are removed too; without it
// the store rejects the truncation when a foreign key would be violated.
func (b *Base) Truncate(ctx context.Context, store Store, cascade bool) error {
	created, err := b.IsCreated(ctx, store)
	if err != nil {
		return fmt.Errorf("failed to check dimension %s: %w", b.name, err)
	}
	if !created {
		b.log.Warn("dimension does not exist, skipping truncate", "dimension", b.name)
		return nil
	}
	sql := fmt.Sprintf("TRUNCATE %s", b.qualified())
	if cascade {
		sql += " CASCADE"
	}
	if err := store.Exec(ctx, sql); err != nil {
		metrics.SchemaOperationsTotal.WithLabelValues("dimension", "truncate", "error").Inc()
		return fmt.Errorf("failed to truncate %s: %w", b.qualified(), err)
	}
	metrics.SchemaOperationsTotal.WithLabelValues("dimension", "truncate", "ok").Inc()
	b.log.Info("truncated dimension", "dimension", b.name, "cascade", cascade)
	return nil
}

// Values reads the dimension's rows back as a frame, ordered by key.
func (b *Base) Values(ctx context.Context, store Store) (*Frame, error) {
	return store.QueryFrame(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY %s", b.qualified(), PKColumn))
}

// Labels returns the values of the label column keyed by surrogate key.
func (b *Base) Labels(ctx context.Context, store Store) (*Frame, error) {
	return store.QueryFrame(ctx, fmt.Sprintf(
		"SELECT %s, %s FROM %s ORDER BY %s", PKColumn, b.labelColumn, b.qualified(), PKColumn,
	))
}

// CubeAttributes returns the key plus every non-geometry column.
func (b *Base) CubeAttributes() []CubeAttribute {
	attrs := []CubeAttribute{{Name: PKColumn, Label: PKColumn}}
	for _, c := range b.columns {
		if c.Type == ColGeometry {
			continue
		}
		attrs = append(attrs, CubeAttribute{Name: c.Name, Label: c.DisplayLabel()})
	}
	return attrs
}

func (b *Base) CubeLevels() []CubeLevel {
	return []CubeLevel{{Name: b.name, Attributes: b.CubeAttributes()}}
}

func (b *Base) CubeJoins() []CubeJoin { return nil }

func (b *Base) CubeMappings() map[string]string { return nil }

// encodeDimensionCSV renders the COPY payload: a header row, the frame
// projected to the declared columns with sentinel-filled nulls, and the
// optional unknown-member row. Returns the payload and the row count.
func encodeDimensionCSV(cols []Column, frame *Frame, appendUnknownMember bool) (*bytes.Buffer, int, error) {
	names := columnNames(cols)
	projected, err := frame.Project(names)
	if err != nil {
		return nil, 0, err
	}
	ids, err := frame.IDs()
	if err != nil {
		return nil, 0, err
	}

	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write(append([]string{PKColumn}, names...)); err != nil {
		return nil, 0, err
	}

	maxID := int64(-1)
	record := make([]string, len(cols)+1)
	for i := 0; i < projected.Len(); i++ {
		if ids[i] > maxID {
			maxID = ids[i]
		}
		record[0] = strconv.FormatInt(ids[i], 10)
		row := projected.Row(i)
		for j, c := range cols {
			record[j+1] = sentinelField(c, row[j])
		}
		if err := w.Write(record); err != nil {
			return nil, 0, err
		}
	}

	total := projected.Len()
	if appendUnknownMember {
		record[0] = strconv.FormatInt(maxID+1, 10)
		for j, c := range cols {
			record[j+1] = sentinelField(c, nil)
		}
		if err := w.Write(record); err != nil {
			return nil, 0, err
		}
		total++
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, 0, err
	}
	return buf, total, nil
}

// sentinelField renders one CSV field, substituting the column's sentinel for
// null values: NS for textual columns, the NaN marker (empty field, NULL in
// the store) for everything else.
func sentinelField(c Column, v any) string {
	if v == nil {
		if c.Type.Textual() {
			return NotSpecified
		}
		return ""
	}
	return csvField(v)
}
