package postgres_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/canopylabs/datamart/pkg/datamart"
	"github.com/canopylabs/datamart/pkg/testutil"
)

// Builds a small star schema end to end: a species dimension populated with
// an unknown member, a fact table referencing it, and reconstruction through
// the registry.
func TestPostgres_Datamart_Lifecycle(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := testStore(t)
	log := testutil.NewLogger()

	species, err := datamart.NewGenericDimension(datamart.GenericConfig{
		BaseConfig: datamart.BaseConfig{
			Logger:  log,
			Name:    "lifecycle_species",
			Columns: []datamart.Column{datamart.Text("label"), datamart.Text("rank")},
		},
	})
	require.NoError(t, err)

	require.NoError(t, species.Create(ctx, store))

	created, err := species.IsCreated(ctx, store)
	require.NoError(t, err)
	require.True(t, created)

	// Populate two members plus the unknown member.
	frame := datamart.NewFrame("id", "label", "rank")
	require.NoError(t, frame.AppendRow(int64(0), "Araucaria columnaris", "species"))
	require.NoError(t, frame.AppendRow(int64(3), "Agathis ovata", nil))
	require.NoError(t, species.Populate(ctx, store, frame, true))

	values, err := species.Values(ctx, store)
	require.NoError(t, err)
	require.Equal(t, 3, values.Len())

	ids, err := values.IDs()
	require.NoError(t, err)
	require.Equal(t, []int64{0, 3, 4}, ids)

	rank, _ := values.Value(1, "rank")
	require.Equal(t, "NS", rank)
	label, _ := values.Value(2, "label")
	require.Equal(t, "NS", label)

	// The fact table references the dimension's keys, unknown member included.
	occurrences, err := datamart.NewFactTable(datamart.FactTableConfig{
		Logger:     log,
		Name:       "lifecycle_occurrences",
		Dimensions: []datamart.Dimension{species},
		Measures:   []datamart.Column{datamart.Float("height")},
	})
	require.NoError(t, err)
	require.NoError(t, occurrences.Create(ctx, store))

	facts := datamart.NewFrame("lifecycle_species_id", "height")
	require.NoError(t, facts.AppendRow(int64(0), 25.0))
	require.NoError(t, facts.AppendRow(int64(4), nil))
	require.NoError(t, occurrences.Populate(ctx, store, facts))

	rows, err := occurrences.Values(ctx, store)
	require.NoError(t, err)
	require.Equal(t, 2, rows.Len())

	reg, err := store.GetFactTable(ctx, "lifecycle_occurrences")
	require.NoError(t, err)
	require.NotNil(t, reg.DateUpdate)

	// A dangling key is rejected by the store.
	bad := datamart.NewFrame("lifecycle_species_id", "height")
	require.NoError(t, bad.AppendRow(int64(99), 1.0))
	err = occurrences.Populate(ctx, store, bad)
	var popErr *datamart.PopulationError
	require.ErrorAs(t, err, &popErr)

	// The registry reconstructs the dimension in a fresh process.
	manager, err := datamart.NewManager(datamart.ManagerConfig{Logger: log, Store: store})
	require.NoError(t, err)

	loaded, err := manager.Load(ctx, "lifecycle_species")
	require.NoError(t, err)
	require.Equal(t, species.Columns(), loaded.Columns())

	// Truncation without cascade is blocked by the fact table's keys.
	require.Error(t, species.Truncate(ctx, store, false))
	require.NoError(t, species.Truncate(ctx, store, true))

	empty, err := occurrences.Values(ctx, store)
	require.NoError(t, err)
	require.Equal(t, 0, empty.Len())

	// Teardown removes tables and registry rows.
	require.NoError(t, occurrences.Drop(ctx, store))
	require.NoError(t, species.Drop(ctx, store))

	reg2, err := store.GetDimension(ctx, "lifecycle_species")
	require.NoError(t, err)
	require.Nil(t, reg2)
}

// The vector dimension derives its layout from the live vector table.
func TestPostgres_Datamart_VectorDimension(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := testStore(t)
	log := testutil.NewLogger()

	require.NoError(t, store.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS vectors"))
	require.NoError(t, store.Exec(ctx, `CREATE TABLE vectors.lifecycle_plots (
		id integer PRIMARY KEY,
		label text,
		area double precision
	)`))
	require.NoError(t, store.Exec(ctx,
		"INSERT INTO vectors.lifecycle_plots VALUES (1, 'Forêt Plate', 25.0), (2, 'Tiéa', 12.5)"))

	plots, err := datamart.NewVectorDimension(ctx, store, datamart.VectorConfig{
		BaseConfig: datamart.BaseConfig{Logger: log, Name: "lifecycle_plots"},
	})
	require.NoError(t, err)
	require.Equal(t, []datamart.Column{
		{Name: "label", Type: datamart.ColText},
		{Name: "area", Type: datamart.ColFloat},
	}, plots.Columns())

	require.NoError(t, plots.Create(ctx, store))
	require.NoError(t, plots.PopulateFromSource(ctx, store))

	values, err := plots.Values(ctx, store)
	require.NoError(t, err)
	// Two features plus the unknown member.
	require.Equal(t, 3, values.Len())

	ids, err := values.IDs()
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, ids)

	require.NoError(t, plots.Drop(ctx, store))
}

// Dimension creation is transactional: a failing registry insert leaves no
// physical table behind.
func TestPostgres_Datamart_CreateIsAtomic(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := testStore(t)
	log := testutil.NewLogger()

	d, err := datamart.NewGenericDimension(datamart.GenericConfig{
		BaseConfig: datamart.BaseConfig{
			Logger:  log,
			Name:    "atomic_probe",
			Columns: []datamart.Column{datamart.Text("label")},
		},
	})
	require.NoError(t, err)

	// Seed a registry row so the insert inside Create violates uniqueness
	// while the table DDL itself would succeed.
	require.NoError(t, store.InsertDimension(ctx, datamart.DimensionRegistration{
		Name:    "atomic_probe",
		TypeKey: datamart.TypeKeyGeneric,
	}))

	require.Error(t, d.Create(ctx, store))

	exists, err := store.TableExists(ctx, "dims", "atomic_probe")
	require.NoError(t, err)
	require.False(t, exists)
}
