package datamart

import (
	"context"
	"fmt"
	"sort"
)

// TypeKeyRaster identifies dimensions whose members are distinct raster cell
// values with their pixel counts.
const TypeKeyRaster = "RASTER_DIMENSION"

// CutSpec buckets continuous raster values into labelled categories. Cuts are
// the ascending bucket boundaries; Labels names the len(Cuts)+1 buckets.
type CutSpec struct {
	Cuts   []float64
	Labels []string
}

func (s *CutSpec) Validate() error {
	if len(s.Cuts) == 0 {
		return fmt.Errorf("cut spec has no cut points")
	}
	if len(s.Labels) != len(s.Cuts)+1 {
		return fmt.Errorf("cut spec has %d labels for %d cuts, expected %d",
			len(s.Labels), len(s.Cuts), len(s.Cuts)+1)
	}
	if !sort.Float64sAreSorted(s.Cuts) {
		return fmt.Errorf("cut points must be ascending")
	}
	return nil
}

// Bucket returns the label for v. Values below the first cut take the first
// label; values at or above the last cut take the last.
func (s *CutSpec) Bucket(v float64) string {
	i := sort.SearchFloat64s(s.Cuts, v)
	if i < len(s.Cuts) && s.Cuts[i] == v {
		i++
	}
	return s.Labels[i]
}

// RasterDimension has one member per distinct cell value of a registered
// raster, carrying the value and its pixel count. With a cut spec, a derived
// category column groups values into labelled buckets and adds a coarser
// aggregation level.
type RasterDimension struct {
	*Base

	raster string
	cuts   *CutSpec
}

type RasterConfig struct {
	BaseConfig
	// Raster names the registered raster the values come from. Defaults to
	// the dimension name.
	Raster    string
	Cuts      *CutSpec
	SourceKey string
}

func NewRasterDimension(cfg RasterConfig) (*RasterDimension, error) {
	if cfg.Raster == "" {
		cfg.Raster = cfg.Name
	}
	if cfg.Cuts != nil {
		if err := cfg.Cuts.Validate(); err != nil {
			return nil, fmt.Errorf("dimension %q: %w", cfg.Name, err)
		}
	}
	cfg.TypeKey = TypeKeyRaster
	cfg.Columns = []Column{
		Float(cfg.Raster),
		Integer("pixel_count"),
	}
	if cfg.Cuts != nil {
		cfg.Columns = append(cfg.Columns, Text("category"))
	}
	cfg.LabelColumn = cfg.Raster
	if cfg.Properties == nil {
		cfg.Properties = map[string]any{}
	}
	cfg.Properties["raster"] = cfg.Raster
	if cfg.Cuts != nil {
		cfg.Properties["cuts"] = map[string]any{
			"cuts":   cfg.Cuts.Cuts,
			"labels": cfg.Cuts.Labels,
		}
	}
	if cfg.SourceKey != "" {
		cfg.Properties["source"] = cfg.SourceKey
	}
	base, err := NewBase(cfg.BaseConfig)
	if err != nil {
		return nil, err
	}
	return &RasterDimension{Base: base, raster: cfg.Raster, cuts: cfg.Cuts}, nil
}

// Raster returns the name of the backing raster.
func (d *RasterDimension) Raster() string { return d.raster }

// Cuts returns the cut spec, or nil when values are not bucketed.
func (d *RasterDimension) Cuts() *CutSpec { return d.cuts }

// PopulateFromSource asks the raster source for the value histogram, with the
// cut spec forwarded so the category column is derived at extraction time.
func (d *RasterDimension) PopulateFromSource(ctx context.Context, store Store) error {
	extra := Params{"raster": d.raster}
	if d.cuts != nil {
		extra["cuts"] = d.cuts
	}
	return d.populateFromSource(ctx, store, extra)
}

// CubeLevels adds the category bucket as a coarser level above the raw
// values when a cut spec is configured.
func (d *RasterDimension) CubeLevels() []CubeLevel {
	value := CubeLevel{Name: d.Name(), Attributes: d.CubeAttributes()}
	if d.cuts == nil {
		return []CubeLevel{value}
	}
	category := CubeLevel{
		Name:       d.Name() + "_category",
		Attributes: []CubeAttribute{{Name: "category", Label: "category"}},
	}
	return []CubeLevel{category, value}
}

func loadRaster(_ context.Context, lc LoadContext) (Dimension, error) {
	reg := lc.Registration
	raster, _ := reg.Properties["raster"].(string)

	var cuts *CutSpec
	if raw, ok := reg.Properties["cuts"].(map[string]any); ok {
		spec, err := decodeCutSpec(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to load dimension %s: %w", reg.Name, err)
		}
		cuts = spec
	}

	var src Source
	sourceKey, _ := reg.Properties["source"].(string)
	if sourceKey != "" && lc.Sources != nil {
		src, _ = lc.Sources.Get(sourceKey)
	}
	description, _ := reg.Properties["description"].(string)
	return NewRasterDimension(RasterConfig{
		BaseConfig: BaseConfig{
			Logger:      lc.Logger,
			Name:        reg.Name,
			Description: description,
			Source:      src,
			Schemas:     lc.Schemas,
			Clock:       lc.Clock,
		},
		Raster:    raster,
		Cuts:      cuts,
		SourceKey: sourceKey,
	})
}

// decodeCutSpec reads a cut spec back out of registry properties, where the
// numbers arrive as generic JSON values.
func decodeCutSpec(raw map[string]any) (*CutSpec, error) {
	rawCuts, ok := raw["cuts"].([]any)
	if !ok {
		return nil, fmt.Errorf("cut points have unexpected shape %T", raw["cuts"])
	}
	spec := &CutSpec{}
	for i, v := range rawCuts {
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("cut point %d has unexpected shape %T", i, v)
		}
		spec.Cuts = append(spec.Cuts, f)
	}
	rawLabels, ok := raw["labels"].([]any)
	if !ok {
		return nil, fmt.Errorf("cut labels have unexpected shape %T", raw["labels"])
	}
	for i, v := range rawLabels {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("cut label %d has unexpected shape %T", i, v)
		}
		spec.Labels = append(spec.Labels, s)
	}
	return spec, nil
}
