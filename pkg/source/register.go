package source

import (
	"fmt"
	"log/slog"

	"github.com/canopylabs/datamart/pkg/datamart"
)

// Source type keys accepted in declarations.
const (
	TypeSQL              = "sql"
	TypeTaxonomy         = "taxonomy"
	TypeRasterValueCount = "raster_value_count"
)

// Register instantiates the declared sources against store and registers
// them under their declared names.
func Register(log *slog.Logger, store datamart.Store, registry *datamart.SourceRegistry, decls []datamart.SourceDecl) error {
	for _, sd := range decls {
		if sd.Name == "" {
			return fmt.Errorf("source declaration has no name")
		}
		switch sd.Type {
		case TypeSQL:
			if sd.Query == "" {
				return fmt.Errorf("source %q has no query", sd.Name)
			}
			registry.Register(sd.Name, NewSQL(log, store, sd.Query))
		case TypeTaxonomy:
			if sd.Table == "" {
				return fmt.Errorf("source %q has no table", sd.Name)
			}
			registry.Register(sd.Name, NewTaxonomy(log, store, sd.Table))
		case TypeRasterValueCount:
			registry.Register(sd.Name, NewRasterValueCount(log, store, sd.Schema))
		default:
			return fmt.Errorf("source %q has unknown type %q", sd.Name, sd.Type)
		}
	}
	return nil
}
