package source

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/canopylabs/datamart/pkg/datamart"
)

// Taxonomy reads a taxon hierarchy table with id, parent_id, full_name,
// rank_name, and rank columns. With the "flatten" parameter set, each row's
// ancestry is walked to the root and spread across the rank columns, so any
// rank can serve as an aggregation level. A taxon whose ancestry does not
// reach a given rank leaves that column null; the population path turns
// those into the NS member.
type Taxonomy struct {
	log   *slog.Logger
	store datamart.Store
	table string
}

// NewTaxonomy reads from the given table, e.g. "public.taxon_ref".
func NewTaxonomy(log *slog.Logger, store datamart.Store, table string) *Taxonomy {
	if log == nil {
		log = slog.Default()
	}
	return &Taxonomy{log: log, store: store, table: table}
}

func (s *Taxonomy) Fetch(ctx context.Context, params datamart.Params) (*datamart.Frame, error) {
	rows, err := s.store.QueryFrame(ctx, fmt.Sprintf(
		"SELECT id, parent_id, full_name, rank_name, rank FROM %s ORDER BY id", s.table))
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy from %s: %w", s.table, err)
	}

	flatten, _ := params["flatten"].(bool)
	if !flatten {
		return rows.Project([]string{"id", "full_name", "rank_name", "rank"})
	}
	return s.flatten(rows)
}

type taxonRow struct {
	id       int64
	parent   *int64
	fullName any
	rankName any
	rank     any
}

// flatten walks each taxon's ancestry to the root and spreads the full names
// across the rank columns.
func (s *Taxonomy) flatten(rows *datamart.Frame) (*datamart.Frame, error) {
	taxa := make(map[int64]taxonRow, rows.Len())
	order := make([]int64, 0, rows.Len())
	for i := 0; i < rows.Len(); i++ {
		row := rows.Row(i)
		id, err := toKey(row[0])
		if err != nil {
			return nil, fmt.Errorf("taxonomy row %d has invalid id: %w", i, err)
		}
		t := taxonRow{id: id, fullName: row[2], rankName: row[3], rank: row[4]}
		if row[1] != nil {
			parent, err := toKey(row[1])
			if err != nil {
				return nil, fmt.Errorf("taxonomy row %d has invalid parent_id: %w", i, err)
			}
			t.parent = &parent
		}
		taxa[id] = t
		order = append(order, id)
	}

	columns := append([]string{"id", "full_name", "rank_name", "rank"}, datamart.TaxonRanks...)
	out := datamart.NewFrame(columns...)
	for _, id := range order {
		t := taxa[id]
		record := make([]any, len(columns))
		record[0] = t.id
		record[1] = t.fullName
		record[2] = t.rankName
		record[3] = t.rank

		// Walk up the hierarchy, filling each ancestor's rank slot. A cycle
		// is capped at the taxa count rather than looping forever.
		cur, ok := t, true
		for steps := 0; ok && steps <= len(taxa); steps++ {
			if i := rankIndex(cur.rank); i >= 0 {
				record[4+i] = cur.fullName
			}
			if cur.parent == nil {
				break
			}
			cur, ok = taxa[*cur.parent]
		}

		if err := out.AppendRow(record...); err != nil {
			return nil, err
		}
	}
	s.log.Debug("flattened taxonomy", "taxa", out.Len())
	return out, nil
}

func rankIndex(rank any) int {
	name, _ := rank.(string)
	for i, r := range datamart.TaxonRanks {
		if r == name {
			return i
		}
	}
	return -1
}

func toKey(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int:
		return int64(x), nil
	case float64:
		return int64(x), nil
	default:
		return 0, fmt.Errorf("unsupported key type %T", v)
	}
}
