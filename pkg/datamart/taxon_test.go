package datamart

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/canopylabs/datamart/pkg/testutil"
)

func TestDatamart_TaxonDimension(t *testing.T) {
	t.Parallel()

	t.Run("has the fixed taxonomic layout", func(t *testing.T) {
		t.Parallel()

		d, err := NewTaxonDimension(TaxonConfig{
			BaseConfig: BaseConfig{Logger: testutil.NewLogger(), Clock: testClock()},
		})
		require.NoError(t, err)
		require.Equal(t, DefaultTaxonName, d.Name())
		require.Equal(t, "full_name", d.LabelColumn())

		names := make([]string, 0)
		for _, c := range d.Columns() {
			names = append(names, c.Name)
			require.Equal(t, ColText, c.Type)
		}
		require.Equal(t, append([]string{"full_name", "rank_name", "rank"}, TaxonRanks...), names)
	})

	t.Run("requests flattened ancestry from its source", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		var gotParams Params
		src := SourceFunc(func(ctx context.Context, params Params) (*Frame, error) {
			gotParams = params
			return NewFrame(append([]string{"id", "full_name", "rank_name", "rank"}, TaxonRanks...)...), nil
		})

		d, err := NewTaxonDimension(TaxonConfig{
			BaseConfig: BaseConfig{
				Logger: testutil.NewLogger(),
				Source: src,
				Clock:  testClock(),
			},
		})
		require.NoError(t, err)

		store := newFakeStore()
		require.NoError(t, d.PopulateFromSource(ctx, store))
		require.Equal(t, true, gotParams["flatten"])
	})
}

func TestDatamart_VectorDimension(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("mirrors the vector table columns without the key", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore()
		store.tableColumns["vectors.plots"] = []Column{
			Integer("id"),
			Text("label"),
			{Name: "geom", Type: ColGeometry},
		}

		d, err := NewVectorDimension(ctx, store, VectorConfig{
			BaseConfig: BaseConfig{Logger: testutil.NewLogger(), Name: "plots", Clock: testClock()},
		})
		require.NoError(t, err)
		require.Equal(t, []Column{Text("label"), {Name: "geom", Type: ColGeometry}}, d.Columns())

		// Geometry is physical but never an attribute.
		levels := d.CubeLevels()
		require.Len(t, levels, 1)
		require.Equal(t, []CubeAttribute{
			{Name: "id", Label: "id"},
			{Name: "label", Label: "label"},
		}, levels[0].Attributes)
	})

	t.Run("fails when the vector table is missing", func(t *testing.T) {
		t.Parallel()

		_, err := NewVectorDimension(ctx, newFakeStore(), VectorConfig{
			BaseConfig: BaseConfig{Logger: testutil.NewLogger(), Name: "plots"},
		})
		require.Error(t, err)
	})
}
