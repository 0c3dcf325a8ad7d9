package datamart

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/canopylabs/datamart/pkg/metrics"
)

// FactTable is a measure table keyed by the surrogate keys of its dimensions.
// Every dimension must be registered before the fact table can be created;
// the foreign keys are enforced by the store.
type FactTable struct {
	log          *slog.Logger
	name         string
	dimensions   []Dimension
	measures     []Column
	source       Source
	sourceParams Params
	schemas      Schemas
	clock        clockwork.Clock
}

type FactTableConfig struct {
	Logger       *slog.Logger
	Name         string
	Dimensions   []Dimension
	Measures     []Column
	Source       Source
	SourceParams Params
	Schemas      Schemas
	Clock        clockwork.Clock
}

func (cfg *FactTableConfig) Validate() error {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Name == "" {
		return errors.New("fact table name is required")
	}
	if len(cfg.Dimensions) == 0 {
		return fmt.Errorf("fact table %q has no dimensions", cfg.Name)
	}
	if len(cfg.Measures) == 0 {
		cfg.Measures = []Column{Float("measure")}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return cfg.Schemas.Validate()
}

func NewFactTable(cfg FactTableConfig) (*FactTable, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &FactTable{
		log:          cfg.Logger,
		name:         cfg.Name,
		dimensions:   cfg.Dimensions,
		measures:     cfg.Measures,
		source:       cfg.Source,
		sourceParams: cfg.SourceParams,
		schemas:      cfg.Schemas,
		clock:        cfg.Clock,
	}, nil
}

func (t *FactTable) Name() string { return t.name }

func (t *FactTable) Dimensions() []Dimension {
	out := make([]Dimension, len(t.dimensions))
	copy(out, t.dimensions)
	return out
}

func (t *FactTable) Measures() []Column {
	out := make([]Column, len(t.measures))
	copy(out, t.measures)
	return out
}

func (t *FactTable) qualified() string {
	return t.schemas.Facts + "." + t.name
}

// keyColumn is the foreign-key column referencing d's surrogate key.
func keyColumn(d Dimension) string {
	return d.Name() + "_" + PKColumn
}

func (t *FactTable) columns() []string {
	cols := make([]string, 0, len(t.dimensions)+len(t.measures))
	for _, d := range t.dimensions {
		cols = append(cols, keyColumn(d))
	}
	for _, m := range t.measures {
		cols = append(cols, m.Name)
	}
	return cols
}

func (t *FactTable) IsCreated(ctx context.Context, store Store) (bool, error) {
	return store.TableExists(ctx, t.schemas.Facts, t.name)
}

// Create verifies every dimension is registered, then creates the physical
// table and its registry row in one transaction. An unregistered dimension
// aborts before any schema change. Creating an existing fact table is a
// logged no-op.
func (t *FactTable) Create(ctx context.Context, store Store) error {
	for _, d := range t.dimensions {
		reg, err := store.GetDimension(ctx, d.Name())
		if err != nil {
			return fmt.Errorf("failed to check dimension %s: %w", d.Name(), err)
		}
		if reg == nil {
			return &NotRegisteredError{Name: d.Name()}
		}
	}

	created, err := t.IsCreated(ctx, store)
	if err != nil {
		return fmt.Errorf("failed to check fact table %s: %w", t.name, err)
	}
	if created {
		t.log.Warn("fact table already exists, skipping creation", "fact_table", t.name)
		return nil
	}

	reg := FactTableRegistration{
		Name:       t.name,
		DateCreate: t.clock.Now().UTC(),
	}
	err = store.InTx(ctx, func(tx Store) error {
		if err := tx.Exec(ctx, t.createTableSQL()); err != nil {
			return fmt.Errorf("failed to create table %s: %w", t.qualified(), err)
		}
		for _, d := range t.dimensions {
			idx := fmt.Sprintf("CREATE INDEX idx_%s_%s ON %s (%s)",
				t.name, keyColumn(d), t.qualified(), keyColumn(d))
			if err := tx.Exec(ctx, idx); err != nil {
				return fmt.Errorf("failed to index %s on %s: %w", t.qualified(), keyColumn(d), err)
			}
		}
		if err := tx.InsertFactTable(ctx, reg); err != nil {
			return fmt.Errorf("failed to register fact table %s: %w", t.name, err)
		}
		return nil
	})
	if err != nil {
		metrics.SchemaOperationsTotal.WithLabelValues("fact_table", "create", "error").Inc()
		return err
	}
	metrics.SchemaOperationsTotal.WithLabelValues("fact_table", "create", "ok").Inc()
	t.log.Info("created fact table", "fact_table", t.name,
		"dimensions", len(t.dimensions), "measures", len(t.measures))
	return nil
}

func (t *FactTable) createTableSQL() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE TABLE %s (\n", t.qualified())
	for i, d := range t.dimensions {
		if i > 0 {
			sb.WriteString(",\n")
		}
		fmt.Fprintf(&sb, "\t%s integer NOT NULL REFERENCES %s.%s (%s)",
			keyColumn(d), t.schemas.Dimensions, d.Name(), PKColumn)
	}
	for _, m := range t.measures {
		fmt.Fprintf(&sb, ",\n\t%s %s", m.Name, m.Type.DDL())
	}
	sb.WriteString("\n)")
	return sb.String()
}

// Drop removes the physical table and the registry row in one transaction.
// Dropping an absent fact table is a logged no-op.
func (t *FactTable) Drop(ctx context.Context, store Store) error {
	created, err := t.IsCreated(ctx, store)
	if err != nil {
		return fmt.Errorf("failed to check fact table %s: %w", t.name, err)
	}
	if !created {
		t.log.Warn("fact table does not exist, skipping drop", "fact_table", t.name)
		return nil
	}

	err = store.InTx(ctx, func(tx Store) error {
		if err := tx.Exec(ctx, fmt.Sprintf("DROP TABLE %s", t.qualified())); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", t.qualified(), err)
		}
		if err := tx.DeleteFactTable(ctx, t.name); err != nil {
			return fmt.Errorf("failed to deregister fact table %s: %w", t.name, err)
		}
		return nil
	})
	if err != nil {
		metrics.SchemaOperationsTotal.WithLabelValues("fact_table", "drop", "error").Inc()
		return err
	}
	metrics.SchemaOperationsTotal.WithLabelValues("fact_table", "drop", "ok").Inc()
	t.log.Info("dropped fact table", "fact_table", t.name)
	return nil
}

// Populate bulk-loads a frame of key and measure columns. Unlike dimensions
// there is no sentinel substitution: unknown members must already have been
// mapped to each dimension's unknown-member key upstream, and a null key is
// rejected by the store's constraints. Records a population timestamp in the
// registry on success.
func (t *FactTable) Populate(ctx context.Context, store Store, frame *Frame) error {
	opID := uuid.New()
	t.log.Debug("populating fact table", "fact_table", t.name, "rows", frame.Len(), "op_id", opID)

	cols := t.columns()
	projected, err := frame.Project(cols)
	if err != nil {
		return fmt.Errorf("failed to encode batch for %s: %w", t.qualified(), err)
	}

	timer := t.clock.Now()
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write(cols); err != nil {
		return fmt.Errorf("failed to encode batch for %s: %w", t.qualified(), err)
	}
	record := make([]string, len(cols))
	for i := 0; i < projected.Len(); i++ {
		row := projected.Row(i)
		for j, v := range row {
			record[j] = csvField(v)
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to encode batch for %s: %w", t.qualified(), err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to encode batch for %s: %w", t.qualified(), err)
	}

	n, err := store.CopyCSV(ctx, t.schemas.Facts, t.name, cols, buf)
	if err != nil {
		metrics.PopulationTotal.WithLabelValues("fact_table", "error").Inc()
		return &PopulationError{Table: t.qualified(), Err: err}
	}
	if err := store.TouchFactTable(ctx, t.name, t.clock.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record population of %s: %w", t.name, err)
	}

	metrics.PopulationTotal.WithLabelValues("fact_table", "ok").Inc()
	metrics.RowsLoadedTotal.WithLabelValues("fact_table", t.name).Add(float64(n))
	metrics.PopulationDuration.WithLabelValues("fact_table").Observe(t.clock.Since(timer).Seconds())
	t.log.Info("populated fact table", "fact_table", t.name, "rows", n, "op_id", opID)
	return nil
}

// PopulateFromSource fetches a frame from the bound source and populates the
// fact table.
func (t *FactTable) PopulateFromSource(ctx context.Context, store Store) error {
	if t.source == nil {
		return fmt.Errorf("fact table %s has no source binding", t.name)
	}
	frame, err := t.source.Fetch(ctx, t.sourceParams)
	if err != nil {
		return fmt.Errorf("failed to fetch source data for %s: %w", t.name, err)
	}
	return t.Populate(ctx, store, frame)
}

// Truncate removes every row. Truncating an absent fact table is a logged
// no-op.
func (t *FactTable) Truncate(ctx context.Context, store Store) error {
	created, err := t.IsCreated(ctx, store)
	if err != nil {
		return fmt.Errorf("failed to check fact table %s: %w", t.name, err)
	}
	if !created {
		t.log.Warn("fact table does not exist, skipping truncate", "fact_table", t.name)
		return nil
	}
	if err := store.Exec(ctx, fmt.Sprintf("TRUNCATE %s", t.qualified())); err != nil {
		metrics.SchemaOperationsTotal.WithLabelValues("fact_table", "truncate", "error").Inc()
		return fmt.Errorf("failed to truncate %s: %w", t.qualified(), err)
	}
	metrics.SchemaOperationsTotal.WithLabelValues("fact_table", "truncate", "ok").Inc()
	t.log.Info("truncated fact table", "fact_table", t.name)
	return nil
}

// Values reads the fact table's rows back as a frame.
func (t *FactTable) Values(ctx context.Context, store Store) (*Frame, error) {
	order := keyColumn(t.dimensions[0])
	return store.QueryFrame(ctx, fmt.Sprintf(
		"SELECT * FROM %s ORDER BY %s", t.qualified(), order))
}

// Cube renders the fact table's cube descriptor fragment: the list of
// dimensions, measures, physical joins from each key column to its dimension
// table, and the attribute mappings.
func (t *FactTable) Cube(aggregates []Aggregate) Cube {
	dims := make([]string, 0, len(t.dimensions))
	joins := make([]CubeJoin, 0, len(t.dimensions))
	mappings := make(map[string]string, len(t.dimensions))
	for _, d := range t.dimensions {
		dims = append(dims, d.Name())
		joins = append(joins, CubeJoin{
			Master: CubeJoinRef{Schema: t.schemas.Facts, Table: t.name, Column: keyColumn(d)},
			Detail: CubeJoinRef{Schema: t.schemas.Dimensions, Table: d.Name(), Column: PKColumn},
		})
		joins = append(joins, d.CubeJoins()...)
		mappings[d.Name()] = d.Name() + "." + PKColumn
		for k, v := range d.CubeMappings() {
			mappings[k] = v
		}
	}

	measures := make([]CubeMeasure, 0, len(t.measures))
	for _, m := range t.measures {
		measures = append(measures, CubeMeasure{Name: m.Name})
	}

	if len(aggregates) == 0 {
		aggregates = defaultAggregates(t.measures)
	}
	return Cube{
		Name:       t.name,
		Label:      t.name,
		Dimensions: dims,
		Measures:   measures,
		Joins:      joins,
		Mappings:   mappings,
		Aggregates: aggregates,
	}
}

// defaultAggregates emits sum over every measure plus a record count.
func defaultAggregates(measures []Column) []Aggregate {
	out := make([]Aggregate, 0, len(measures)+1)
	for _, m := range measures {
		out = append(out, Aggregate{Name: m.Name + "_sum", Function: "sum", Measure: m.Name})
	}
	out = append(out, Aggregate{Name: "record_count", Function: "count"})
	return out
}
