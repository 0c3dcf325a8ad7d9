package datamart

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Frame is the tabular batch exchanged with source bindings and the bulk-load
// path: ordered column names plus row-major values. A frame may carry an "id"
// column; when it does, those values become the dimension surrogate keys,
// otherwise keys are assigned sequentially from 0.
type Frame struct {
	columns []string
	index   map[string]int
	rows    [][]any
}

// NewFrame creates an empty frame with the given column names.
func NewFrame(columns ...string) *Frame {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c] = i
	}
	return &Frame{columns: columns, index: index}
}

// Columns returns the frame's column names in order.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.columns))
	copy(out, f.columns)
	return out
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.rows)
}

// HasColumn reports whether the frame carries the named column.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.index[name]
	return ok
}

// AppendRow appends one row. The number of values must match the number of
// columns.
func (f *Frame) AppendRow(values ...any) error {
	if len(values) != len(f.columns) {
		return fmt.Errorf("row has %d values, expected %d", len(values), len(f.columns))
	}
	f.rows = append(f.rows, values)
	return nil
}

// Row returns the i-th row. The returned slice is owned by the frame.
func (f *Frame) Row(i int) []any {
	return f.rows[i]
}

// Value returns the value at row i for the named column.
func (f *Frame) Value(i int, column string) (any, bool) {
	j, ok := f.index[column]
	if !ok {
		return nil, false
	}
	return f.rows[i][j], true
}

// AppendColumn adds a derived column with one value per existing row.
func (f *Frame) AppendColumn(name string, values []any) error {
	if _, ok := f.index[name]; ok {
		return fmt.Errorf("column %q already exists", name)
	}
	if len(values) != len(f.rows) {
		return fmt.Errorf("column %q has %d values, expected %d", name, len(values), len(f.rows))
	}
	f.index[name] = len(f.columns)
	f.columns = append(f.columns, name)
	for i := range f.rows {
		f.rows[i] = append(f.rows[i], values[i])
	}
	return nil
}

// Project returns a frame restricted to the given columns, in that order.
// The frame must carry every requested column; extra columns are dropped.
func (f *Frame) Project(columns []string) (*Frame, error) {
	indices := make([]int, 0, len(columns))
	for _, c := range columns {
		j, ok := f.index[c]
		if !ok {
			return nil, fmt.Errorf("column %q missing from frame (have %v)", c, f.columns)
		}
		indices = append(indices, j)
	}
	out := NewFrame(columns...)
	for _, row := range f.rows {
		projected := make([]any, len(indices))
		for i, j := range indices {
			projected[i] = row[j]
		}
		out.rows = append(out.rows, projected)
	}
	return out, nil
}

// IDs returns the surrogate keys for the frame's rows: the "id" column when
// present, sequential keys from 0 otherwise.
func (f *Frame) IDs() ([]int64, error) {
	ids := make([]int64, len(f.rows))
	j, ok := f.index[PKColumn]
	if !ok {
		for i := range ids {
			ids[i] = int64(i)
		}
		return ids, nil
	}
	for i, row := range f.rows {
		id, err := toInt64(row[j])
		if err != nil {
			return nil, fmt.Errorf("row %d has invalid id: %w", i, err)
		}
		ids[i] = id
	}
	return ids, nil
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		return int64(x), nil
	case string:
		return strconv.ParseInt(x, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported key type %T", v)
	}
}

// csvField renders a single value for the COPY payload. Nil values are the
// caller's responsibility (sentinel-filled before encoding); the NaN marker
// renders empty, which the store reads back as NULL.
func csvField(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if math.IsNaN(x) {
			return ""
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		if math.IsNaN(float64(x)) {
			return ""
		}
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}
