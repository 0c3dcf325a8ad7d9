package datamart

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/canopylabs/datamart/pkg/testutil"
)

func testManager(t *testing.T, store Store) *Manager {
	t.Helper()
	m, err := NewManager(ManagerConfig{
		Logger: testutil.NewLogger(),
		Store:  store,
		Clock:  testClock(),
	})
	require.NoError(t, err)
	return m
}

func TestDatamart_TypeRegistry(t *testing.T) {
	t.Parallel()

	t.Run("registers builtin types", func(t *testing.T) {
		t.Parallel()

		r := NewTypeRegistry(testutil.NewLogger())
		RegisterBuiltinTypes(r)

		keys := make([]string, 0, 4)
		for _, e := range r.Entries() {
			keys = append(keys, e.Key)
		}
		require.Equal(t, []string{
			TypeKeyGeneric, TypeKeyRaster, TypeKeyTaxon, TypeKeyVector,
		}, keys)
	})

	t.Run("duplicate registration keeps the first entry", func(t *testing.T) {
		t.Parallel()

		r := NewTypeRegistry(testutil.NewLogger())
		first := func(ctx context.Context, lc LoadContext) (Dimension, error) { return nil, nil }
		r.Register(TypeEntry{Key: "CUSTOM", Description: "first", Load: first})
		r.Register(TypeEntry{Key: "CUSTOM", Description: "second", Load: first})

		e, ok := r.Get("CUSTOM")
		require.True(t, ok)
		require.Equal(t, "first", e.Description)
	})

	t.Run("skips entries without a key or loader", func(t *testing.T) {
		t.Parallel()

		r := NewTypeRegistry(testutil.NewLogger())
		r.Register(TypeEntry{Key: "", Load: func(ctx context.Context, lc LoadContext) (Dimension, error) { return nil, nil }})
		r.Register(TypeEntry{Key: "NO_LOADER"})
		require.Empty(t, r.Entries())
	})
}

func TestDatamart_Manager_Load(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("reconstructs a generic dimension from its registry row", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore()
		d := testGenericDimension(t)
		require.NoError(t, d.Create(ctx, store))

		m := testManager(t, store)
		loaded, err := m.Load(ctx, "species")
		require.NoError(t, err)
		require.Equal(t, "species", loaded.Name())
		require.Equal(t, TypeKeyGeneric, loaded.TypeKey())
		require.Equal(t, d.Columns(), loaded.Columns())
		require.Equal(t, "label", loaded.LabelColumn())
	})

	t.Run("unregistered name yields NotRegisteredError", func(t *testing.T) {
		t.Parallel()

		m := testManager(t, newFakeStore())
		_, err := m.Load(ctx, "missing")
		var notRegistered *NotRegisteredError
		require.ErrorAs(t, err, &notRegistered)
		require.Equal(t, "missing", notRegistered.Name)
	})

	t.Run("registered row with unknown type yields UnknownTypeError", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore()
		require.NoError(t, store.InsertDimension(ctx, DimensionRegistration{
			Name:    "legacy",
			TypeKey: "RETIRED_TYPE",
		}))

		m := testManager(t, store)
		_, err := m.Load(ctx, "legacy")
		var unknownType *UnknownTypeError
		require.ErrorAs(t, err, &unknownType)
		require.Equal(t, "RETIRED_TYPE", unknownType.TypeKey)
	})
}

func TestDatamart_Manager_LoadAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := newFakeStore()
	d := testGenericDimension(t)
	require.NoError(t, d.Create(ctx, store))
	require.NoError(t, store.InsertDimension(ctx, DimensionRegistration{
		Name:    "legacy",
		TypeKey: "RETIRED_TYPE",
	}))

	m := testManager(t, store)
	dims, err := m.LoadAll(ctx)
	require.Error(t, err)
	require.Len(t, dims, 1)
	require.Equal(t, "species", dims[0].Name())
}

func TestDatamart_Manager_Delete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := newFakeStore()
	d := testGenericDimension(t)
	require.NoError(t, d.Create(ctx, store))

	m := testManager(t, store)
	require.NoError(t, m.Delete(ctx, "species"))

	reg, err := store.GetDimension(ctx, "species")
	require.NoError(t, err)
	require.Nil(t, reg)

	exists, err := store.TableExists(ctx, "dims", "species")
	require.NoError(t, err)
	require.False(t, exists)
}
