package datamart

import (
	"context"
)

// TypeKeyTaxon identifies the taxonomic dimension.
const TypeKeyTaxon = "TAXON_DIMENSION"

// DefaultTaxonName is the table name used when a taxon dimension is declared
// without one.
const DefaultTaxonName = "taxon_dimension"

// TaxonRanks are the taxonomic rank columns, broadest first. Each row carries
// its full ancestry flattened into these columns so any rank can serve as an
// aggregation level.
var TaxonRanks = []string{
	"regnum",
	"phylum",
	"classis",
	"ordo",
	"familia",
	"genus",
	"species",
	"infraspecies",
}

// TaxonDimension is one row per taxon with its name, rank, and flattened
// ancestry. The label is the taxon's full scientific name.
type TaxonDimension struct {
	*Base
}

type TaxonConfig struct {
	BaseConfig
	SourceKey string
}

func taxonColumns() []Column {
	cols := []Column{
		Text("full_name"),
		Text("rank_name"),
		Text("rank"),
	}
	for _, r := range TaxonRanks {
		cols = append(cols, Text(r))
	}
	return cols
}

func NewTaxonDimension(cfg TaxonConfig) (*TaxonDimension, error) {
	if cfg.Name == "" {
		cfg.Name = DefaultTaxonName
	}
	cfg.TypeKey = TypeKeyTaxon
	cfg.Columns = taxonColumns()
	cfg.LabelColumn = "full_name"
	if cfg.Properties == nil {
		cfg.Properties = map[string]any{}
	}
	if cfg.SourceKey != "" {
		cfg.Properties["source"] = cfg.SourceKey
	}
	base, err := NewBase(cfg.BaseConfig)
	if err != nil {
		return nil, err
	}
	return &TaxonDimension{Base: base}, nil
}

// PopulateFromSource asks the taxonomy source for rows with the ancestry
// already flattened into the rank columns.
func (d *TaxonDimension) PopulateFromSource(ctx context.Context, store Store) error {
	return d.populateFromSource(ctx, store, Params{"flatten": true})
}

func loadTaxon(_ context.Context, lc LoadContext) (Dimension, error) {
	reg := lc.Registration
	var src Source
	sourceKey, _ := reg.Properties["source"].(string)
	if sourceKey != "" && lc.Sources != nil {
		src, _ = lc.Sources.Get(sourceKey)
	}
	description, _ := reg.Properties["description"].(string)
	return NewTaxonDimension(TaxonConfig{
		BaseConfig: BaseConfig{
			Logger:      lc.Logger,
			Name:        reg.Name,
			Description: description,
			Source:      src,
			Schemas:     lc.Schemas,
			Clock:       lc.Clock,
		},
		SourceKey: sourceKey,
	})
}
