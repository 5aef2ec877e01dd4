package nwb

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/spf13/cast"
)

// Column describes one column of a Table.
type Column struct {
	Name        string
	Description string
	DType       DType
	// Ragged columns hold a variable-length list per row.
	Ragged bool
	// Target makes the column a region into another table: values are row indices.
	Target *Table
	// Type overrides the column's neurodata type (VectorData by default).
	Type string

	cells []any
}

// Len is the number of filled rows.
func (c *Column) Len() int { return len(c.cells) }

// Values returns the stored cells.
func (c *Column) Values() []any {
	out := make([]any, len(c.cells))
	copy(out, c.cells)
	return out
}

// Float64s returns a scalar numeric column.
func (c *Column) Float64s() []float64 {
	out := make([]float64, 0, len(c.cells))
	for _, v := range c.cells {
		f, _ := cast.ToFloat64E(v)
		out = append(out, f)
	}
	return out
}

// Strings returns a scalar string column.
func (c *Column) Strings() []string {
	out := make([]string, 0, len(c.cells))
	for _, v := range c.cells {
		out = append(out, cast.ToString(v))
	}
	return out
}

// Table is an hdmf DynamicTable: named, typed columns of equal length.
type Table struct {
	Name        string
	Description string
	// Type and Namespace identify the table's neurodata type.
	Type      string
	Namespace string

	columns []*Column
	rows    int
}

// NewTable builds an empty DynamicTable.
func NewTable(name, description string) *Table {
	return &Table{Name: name, Description: description, Type: "DynamicTable", Namespace: "hdmf-common"}
}

// NewTimeIntervals builds an interval table with start_time and stop_time.
func NewTimeIntervals(name, description string) *Table {
	t := &Table{Name: name, Description: description, Type: "TimeIntervals", Namespace: "core"}
	t.mustAdd(Column{Name: "start_time", Description: "Start time of epoch, in seconds.", DType: Float64})
	t.mustAdd(Column{Name: "stop_time", Description: "Stop time of epoch, in seconds.", DType: Float64})
	return t
}

func (t *Table) ObjectName() string { return t.Name }

// Rows is the number of rows.
func (t *Table) Rows() int { return t.rows }

// Columns returns the columns in order.
func (t *Table) Columns() []*Column {
	out := make([]*Column, len(t.columns))
	copy(out, t.columns)
	return out
}

// Column looks up a column by name.
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// AddColumn declares a new, empty column. Columns can only be declared
// before the first row; use AddColumnData to attach a full column later.
func (t *Table) AddColumn(c Column) error {
	if t.rows > 0 {
		return fmt.Errorf("table %q: cannot add empty column %q after %d rows", t.Name, c.Name, t.rows)
	}
	return t.declare(c)
}

func (t *Table) mustAdd(c Column) {
	if err := t.declare(c); err != nil {
		panic(err)
	}
}

func (t *Table) declare(c Column) error {
	if c.Name == "" {
		return fmt.Errorf("table %q: column without a name", t.Name)
	}
	if _, ok := t.Column(c.Name); ok {
		return fmt.Errorf("table %q: column %q: %w", t.Name, c.Name, ErrDuplicateName)
	}
	if c.Target != nil {
		c.DType = Int64
	}
	if c.DType == "" {
		c.DType = Float64
	}
	col := c
	col.cells = nil
	t.columns = append(t.columns, &col)
	return nil
}

// AddColumnData attaches a complete column to a table that already has rows.
// values must be a slice with one element per row.
func (t *Table) AddColumnData(c Column, values any) error {
	cells, err := cellsOf(values)
	if err != nil {
		return fmt.Errorf("table %q: column %q: %w", t.Name, c.Name, err)
	}
	if len(cells) != t.rows {
		return fmt.Errorf("table %q: column %q has %d values for %d rows", t.Name, c.Name, len(cells), t.rows)
	}
	if err := t.declare(c); err != nil {
		return err
	}
	col := t.columns[len(t.columns)-1]
	for i, v := range cells {
		cv, err := col.coerce(v)
		if err != nil {
			t.columns = t.columns[:len(t.columns)-1]
			return fmt.Errorf("table %q: column %q row %d: %w", t.Name, c.Name, i, err)
		}
		col.cells = append(col.cells, cv)
	}
	return nil
}

// AddRow appends one row. Every column must be given a value and no
// unknown keys are accepted.
func (t *Table) AddRow(row map[string]any) error {
	for k := range row {
		if _, ok := t.Column(k); !ok {
			return fmt.Errorf("table %q: unknown column %q (have %s)", t.Name, k, strings.Join(t.columnNames(), ", "))
		}
	}
	converted := make([]any, len(t.columns))
	for i, c := range t.columns {
		v, ok := row[c.Name]
		if !ok {
			return fmt.Errorf("table %q: missing value for column %q", t.Name, c.Name)
		}
		cv, err := c.coerce(v)
		if err != nil {
			return fmt.Errorf("table %q: column %q: %w", t.Name, c.Name, err)
		}
		if c.Target != nil {
			idx := cv.(int64)
			if idx < 0 || int(idx) >= c.Target.rows {
				return fmt.Errorf("table %q: column %q: row %d not in %q (%d rows)", t.Name, c.Name, idx, c.Target.Name, c.Target.rows)
			}
		}
		converted[i] = cv
	}
	for i, c := range t.columns {
		c.cells = append(c.cells, converted[i])
	}
	t.rows++
	return nil
}

// SortBy reorders rows by a float64 column, keeping ties in insertion order.
func (t *Table) SortBy(name string) error {
	key, ok := t.Column(name)
	if !ok {
		return fmt.Errorf("table %q: no column %q", t.Name, name)
	}
	keys := key.Float64s()
	order := make([]int, t.rows)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return keys[order[a]] < keys[order[b]] })
	for _, c := range t.columns {
		sorted := make([]any, len(c.cells))
		for i, j := range order {
			sorted[i] = c.cells[j]
		}
		c.cells = sorted
	}
	return nil
}

func (t *Table) columnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

func (c *Column) coerce(v any) (any, error) {
	if c.Ragged {
		return c.coerceList(v)
	}
	return coerceScalar(c.DType, v)
}

func (c *Column) coerceList(v any) (any, error) {
	switch c.DType {
	case String:
		list, err := cast.ToStringSliceE(v)
		if err != nil {
			return nil, err
		}
		return list, nil
	default:
		cells, err := cellsOf(v)
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(cells))
		for i, e := range cells {
			f, err := cast.ToFloat64E(e)
			if err != nil {
				return nil, err
			}
			out[i] = f
		}
		return out, nil
	}
}

func coerceScalar(dt DType, v any) (any, error) {
	switch dt {
	case Float64, Float32:
		return cast.ToFloat64E(v)
	case Int64, Int32, Int16, Uint8, Uint16:
		if f, ok := v.(float64); ok && (math.IsNaN(f) || f != math.Trunc(f)) {
			return nil, fmt.Errorf("%v is not an integer", f)
		}
		return cast.ToInt64E(v)
	case Bool:
		if f, ok := v.(float64); ok {
			return f != 0 && !math.IsNaN(f), nil
		}
		return cast.ToBoolE(v)
	case String, Ref:
		return cast.ToStringE(v)
	}
	return nil, fmt.Errorf("unsupported column dtype %s", dt)
}

func cellsOf(values any) ([]any, error) {
	switch v := values.(type) {
	case []any:
		return v, nil
	case []float64:
		return anySlice(v), nil
	case []float32:
		return anySlice(v), nil
	case []int:
		return anySlice(v), nil
	case []int64:
		return anySlice(v), nil
	case []bool:
		return anySlice(v), nil
	case []string:
		return anySlice(v), nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("expected a slice, got %T", values)
}

func anySlice[T any](v []T) []any {
	out := make([]any, len(v))
	for i, x := range v {
		out[i] = x
	}
	return out
}
