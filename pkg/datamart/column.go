package datamart

// PKColumn is the surrogate key column every dimension table carries. It is
// created automatically and must not appear in a dimension's declared columns.
const PKColumn = "id"

// DefaultLabelColumn is the label column used when none is configured.
const DefaultLabelColumn = "label"

// NotSpecified is the sentinel written into textual columns in place of
// null/missing values. Numeric columns use the NaN marker instead, which
// serializes to an empty CSV field and lands as NULL in the store.
const NotSpecified = "NS"

// ColumnType is the semantic type of a dimension or measure column.
type ColumnType string

const (
	ColText      ColumnType = "text"
	ColInteger   ColumnType = "integer"
	ColFloat     ColumnType = "float"
	ColNumeric   ColumnType = "numeric"
	ColBoolean   ColumnType = "boolean"
	ColTimestamp ColumnType = "timestamp"
	ColGeometry  ColumnType = "geometry"
)

// DDL returns the PostgreSQL type for the column type.
func (t ColumnType) DDL() string {
	switch t {
	case ColText:
		return "text"
	case ColInteger:
		return "bigint"
	case ColFloat:
		return "double precision"
	case ColNumeric:
		return "numeric"
	case ColBoolean:
		return "boolean"
	case ColTimestamp:
		return "timestamptz"
	case ColGeometry:
		return "geometry"
	default:
		return "text"
	}
}

// Textual reports whether the column type carries the literal NS sentinel.
// All other types default to the NaN marker.
func (t ColumnType) Textual() bool {
	return t == ColText
}

// Column is one column of a dimension or fact table, excluding the surrogate
// primary key.
type Column struct {
	Name  string
	Type  ColumnType
	Label string
}

// Text returns a textual column.
func Text(name string) Column { return Column{Name: name, Type: ColText} }

// Integer returns an integer column.
func Integer(name string) Column { return Column{Name: name, Type: ColInteger} }

// Float returns a double-precision column.
func Float(name string) Column { return Column{Name: name, Type: ColFloat} }

// DisplayLabel returns the human-readable label, falling back to the name.
func (c Column) DisplayLabel() string {
	if c.Label != "" {
		return c.Label
	}
	return c.Name
}

func columnNames(cols []Column) []string {
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		names = append(names, c.Name)
	}
	return names
}
