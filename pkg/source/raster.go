package source

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/canopylabs/datamart/pkg/datamart"
)

// RasterValueCount reads the value histogram of a registered raster: one row
// per distinct cell value with its pixel count, from the raster's value table
// under the configured schema. The "raster" parameter selects the raster and
// names the value column in the returned frame; when a "cuts" parameter
// carries a cut spec, a derived category column is appended.
type RasterValueCount struct {
	log    *slog.Logger
	store  datamart.Store
	schema string
}

// NewRasterValueCount reads value tables named <raster>_values under schema.
func NewRasterValueCount(log *slog.Logger, store datamart.Store, schema string) *RasterValueCount {
	if log == nil {
		log = slog.Default()
	}
	if schema == "" {
		schema = "rasters"
	}
	return &RasterValueCount{log: log, store: store, schema: schema}
}

func (s *RasterValueCount) Fetch(ctx context.Context, params datamart.Params) (*datamart.Frame, error) {
	raster, _ := params["raster"].(string)
	if raster == "" {
		return nil, fmt.Errorf("raster source requires a raster name")
	}

	rows, err := s.store.QueryFrame(ctx, fmt.Sprintf(
		"SELECT value, pixel_count FROM %s.%s_values ORDER BY value", s.schema, raster))
	if err != nil {
		return nil, fmt.Errorf("failed to read raster values for %s: %w", raster, err)
	}

	out := datamart.NewFrame(raster, "pixel_count")
	for i := 0; i < rows.Len(); i++ {
		row := rows.Row(i)
		if err := out.AppendRow(row[0], row[1]); err != nil {
			return nil, err
		}
	}

	cuts, _ := params["cuts"].(*datamart.CutSpec)
	if cuts != nil {
		categories := make([]any, 0, out.Len())
		for i := 0; i < out.Len(); i++ {
			v, err := toFloat(out.Row(i)[0])
			if err != nil {
				return nil, fmt.Errorf("raster %s value %d: %w", raster, i, err)
			}
			categories = append(categories, cuts.Bucket(v))
		}
		if err := out.AppendColumn("category", categories); err != nil {
			return nil, err
		}
	}

	s.log.Debug("fetched raster values", "raster", raster, "rows", out.Len())
	return out, nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
}
