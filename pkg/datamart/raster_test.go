package datamart

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/canopylabs/datamart/pkg/testutil"
)

func TestDatamart_CutSpec_Validate(t *testing.T) {
	t.Parallel()

	t.Run("accepts ascending cuts with one extra label", func(t *testing.T) {
		t.Parallel()
		s := CutSpec{Cuts: []float64{200, 600}, Labels: []string{"low", "mid", "high"}}
		require.NoError(t, s.Validate())
	})

	t.Run("rejects label count mismatch", func(t *testing.T) {
		t.Parallel()
		s := CutSpec{Cuts: []float64{200, 600}, Labels: []string{"low", "high"}}
		require.Error(t, s.Validate())
	})

	t.Run("rejects unsorted cuts", func(t *testing.T) {
		t.Parallel()
		s := CutSpec{Cuts: []float64{600, 200}, Labels: []string{"a", "b", "c"}}
		require.Error(t, s.Validate())
	})

	t.Run("rejects empty cuts", func(t *testing.T) {
		t.Parallel()
		s := CutSpec{Labels: []string{"only"}}
		require.Error(t, s.Validate())
	})
}

func TestDatamart_CutSpec_Bucket(t *testing.T) {
	t.Parallel()

	s := CutSpec{Cuts: []float64{200, 600}, Labels: []string{"low", "mid", "high"}}
	require.NoError(t, s.Validate())

	cases := []struct {
		value float64
		want  string
	}{
		{0, "low"},
		{199.9, "low"},
		{200, "mid"}, // boundary goes to the upper bucket
		{599.9, "mid"},
		{600, "high"},
		{1200, "high"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, s.Bucket(tc.value), "value %v", tc.value)
	}
}

func TestDatamart_RasterDimension(t *testing.T) {
	t.Parallel()

	newRaster := func(t *testing.T, cuts *CutSpec) *RasterDimension {
		t.Helper()
		d, err := NewRasterDimension(RasterConfig{
			BaseConfig: BaseConfig{
				Logger: testutil.NewLogger(),
				Name:   "elevation",
				Clock:  testClock(),
			},
			Cuts: cuts,
		})
		require.NoError(t, err)
		return d
	}

	t.Run("without cuts has one level and no category column", func(t *testing.T) {
		t.Parallel()

		d := newRaster(t, nil)
		require.Equal(t, []Column{Float("elevation"), Integer("pixel_count")}, d.Columns())
		require.Equal(t, "elevation", d.LabelColumn())

		levels := d.CubeLevels()
		require.Len(t, levels, 1)
		require.Equal(t, "elevation", levels[0].Name)
	})

	t.Run("with cuts adds the category column and a coarser level", func(t *testing.T) {
		t.Parallel()

		d := newRaster(t, &CutSpec{Cuts: []float64{500}, Labels: []string{"lowland", "highland"}})
		require.Equal(t, []Column{
			Float("elevation"), Integer("pixel_count"), Text("category"),
		}, d.Columns())

		levels := d.CubeLevels()
		require.Len(t, levels, 2)
		require.Equal(t, "elevation_category", levels[0].Name)
		require.Equal(t, []CubeAttribute{{Name: "category", Label: "category"}}, levels[0].Attributes)
		require.Equal(t, "elevation", levels[1].Name)
	})

	t.Run("rejects an invalid cut spec", func(t *testing.T) {
		t.Parallel()

		_, err := NewRasterDimension(RasterConfig{
			BaseConfig: BaseConfig{Logger: testutil.NewLogger(), Name: "elevation"},
			Cuts:       &CutSpec{Cuts: []float64{500}, Labels: []string{"only"}},
		})
		require.Error(t, err)
	})

	t.Run("cut spec round-trips through the registry", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		store := newFakeStore()
		d := newRaster(t, &CutSpec{Cuts: []float64{500}, Labels: []string{"lowland", "highland"}})
		require.NoError(t, d.Create(ctx, store))

		// JSON round-trip turns the persisted spec into generic values the
		// way the real registry does.
		reg, err := store.GetDimension(ctx, "elevation")
		require.NoError(t, err)
		reg.Properties["cuts"] = map[string]any{
			"cuts":   []any{float64(500)},
			"labels": []any{"lowland", "highland"},
		}

		loaded, err := loadRaster(ctx, LoadContext{
			Registration: *reg,
			Logger:       testutil.NewLogger(),
			Clock:        testClock(),
		})
		require.NoError(t, err)

		raster, ok := loaded.(*RasterDimension)
		require.True(t, ok)
		require.Equal(t, &CutSpec{Cuts: []float64{500}, Labels: []string{"lowland", "highland"}}, raster.Cuts())
		require.Equal(t, "elevation", raster.Raster())
		require.Len(t, raster.CubeLevels(), 2)
	})
}
