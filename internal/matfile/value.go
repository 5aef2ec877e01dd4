package matfile

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cast"
)

// ErrMissingField is returned when a required key is absent from a struct.
var ErrMissingField = errors.New("missing field")

// Value is one decoded MATLAB value: *Struct, Structs, *Numeric, Char or *Cell.
type Value interface {
	kind() string
}

// Struct is a scalar MATLAB struct. Field order follows the file.
type Struct struct {
	names  []string
	fields map[string]Value
}

// Structs is a struct array with more than one element.
type Structs []*Struct

// Numeric holds any numeric or logical array converted to float64.
// Data is stored column-major, as MATLAB does.
type Numeric struct {
	Class string
	Dims  []int
	Data  []float64
}

// Char is a character array decoded to a string. Multi-row char matrices
// are joined with newlines.
type Char string

// Cell is a cell array, elements stored column-major.
type Cell struct {
	Dims  []int
	Elems []Value
}

func (*Struct) kind() string  { return "struct" }
func (Structs) kind() string  { return "struct array" }
func (*Numeric) kind() string { return "numeric" }
func (Char) kind() string     { return "char" }
func (*Cell) kind() string    { return "cell" }

// NewStruct returns an empty struct.
func NewStruct() *Struct {
	return &Struct{fields: make(map[string]Value)}
}

// Set adds or replaces a field, keeping first-insertion order.
func (s *Struct) Set(name string, v Value) *Struct {
	if _, ok := s.fields[name]; !ok {
		s.names = append(s.names, name)
	}
	s.fields[name] = v
	return s
}

// Names returns the field names in file order.
func (s *Struct) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Has reports whether the struct carries the named field.
func (s *Struct) Has(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.fields[name]
	return ok
}

// Field returns the named field.
func (s *Struct) Field(name string) (Value, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.fields[name]
	return v, ok
}

// Require returns the named field or an ErrMissingField error listing the
// keys that are present.
func (s *Struct) Require(name string) (Value, error) {
	v, ok := s.Field(name)
	if !ok {
		return nil, fmt.Errorf("expected %q key, found [%s]: %w", name, strings.Join(s.names, ", "), ErrMissingField)
	}
	return v, nil
}

// Struct returns the named field as a scalar struct.
func (s *Struct) Struct(name string) (*Struct, error) {
	v, err := s.Require(name)
	if err != nil {
		return nil, err
	}
	st, ok := v.(*Struct)
	if !ok {
		return nil, fmt.Errorf("field %q: expected struct, got %s", name, v.kind())
	}
	return st, nil
}

// Path walks nested scalar structs and returns the value at the end.
func (s *Struct) Path(keys ...string) (Value, error) {
	cur := s
	for i, k := range keys {
		v, err := cur.Require(k)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", strings.Join(keys[:i+1], "."), err)
		}
		if i == len(keys)-1 {
			return v, nil
		}
		next, ok := v.(*Struct)
		if !ok {
			return nil, fmt.Errorf("%s: expected struct, got %s", strings.Join(keys[:i+1], "."), v.kind())
		}
		cur = next
	}
	return cur, nil
}

// Float64sAt is Path followed by Float64s.
func (s *Struct) Float64sAt(keys ...string) ([]float64, error) {
	v, err := s.Path(keys...)
	if err != nil {
		return nil, err
	}
	out, err := Float64s(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", strings.Join(keys, "."), err)
	}
	return out, nil
}

// Float64At returns the scalar at the end of keys. Numbers logged as text
// (a sample rate typed into a GUI field, say) are parsed.
func (s *Struct) Float64At(keys ...string) (float64, error) {
	v, err := s.Path(keys...)
	if err != nil {
		return 0, err
	}
	return ScalarOf(v)
}

// ScalarOf converts a one-element numeric or a numeric char to float64.
func ScalarOf(v Value) (float64, error) {
	switch t := v.(type) {
	case *Numeric:
		if len(t.Data) != 1 {
			return 0, fmt.Errorf("expected scalar, got %d elements", len(t.Data))
		}
		return t.Data[0], nil
	case Char:
		f, err := cast.ToFloat64E(strings.TrimSpace(string(t)))
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", string(t))
		}
		return f, nil
	case *Cell:
		if len(t.Elems) == 1 {
			return ScalarOf(t.Elems[0])
		}
	case nil:
		return 0, errors.New("expected scalar, got nothing")
	}
	return 0, fmt.Errorf("expected scalar, got %s", v.kind())
}

// StringAt is Path followed by a Char conversion.
func (s *Struct) StringAt(keys ...string) (string, error) {
	v, err := s.Path(keys...)
	if err != nil {
		return "", err
	}
	c, ok := v.(Char)
	if !ok {
		if n, isNum := v.(*Numeric); isNum && len(n.Data) == 1 {
			return formatScalar(n.Data[0]), nil
		}
		return "", fmt.Errorf("%s: expected char, got %s", strings.Join(keys, "."), v.kind())
	}
	return string(c), nil
}

// NewNumeric builds a double array from column-major data.
func NewNumeric(dims []int, data []float64) *Numeric {
	return &Numeric{Class: "double", Dims: dims, Data: data}
}

// Vector builds a 1xN double row vector.
func Vector(data ...float64) *Numeric {
	return NewNumeric([]int{1, len(data)}, data)
}

// Scalar builds a 1x1 double.
func Scalar(v float64) *Numeric {
	return NewNumeric([]int{1, 1}, []float64{v})
}

// Len is the total number of elements.
func (n *Numeric) Len() int { return len(n.Data) }

// At returns element (i, j) of a 2-D array.
func (n *Numeric) At(i, j int) float64 {
	rows := 1
	if len(n.Dims) > 0 {
		rows = n.Dims[0]
	}
	return n.Data[i+j*rows]
}

// Rows returns the array as row-major rows of the given width. An Nxwidth
// matrix yields N rows; a vector of exactly width elements (MATLAB drops
// the singleton dimension when only one row was logged) yields one row.
// Any other shape is rejected.
func (n *Numeric) Rows(width int) ([][]float64, error) {
	if len(n.Data) == 0 {
		return nil, nil
	}
	dims := squeeze(n.Dims)
	switch {
	case len(dims) == 1 && dims[0] == width:
		row := make([]float64, width)
		copy(row, n.Data)
		return [][]float64{row}, nil
	case len(n.Dims) == 2 && n.Dims[1] == width:
		out := make([][]float64, n.Dims[0])
		for i := range out {
			out[i] = make([]float64, width)
			for j := 0; j < width; j++ {
				out[i][j] = n.At(i, j)
			}
		}
		return out, nil
	case len(n.Dims) == 2 && n.Dims[0] == width:
		// stored transposed: one column per row
		out := make([][]float64, n.Dims[1])
		for j := range out {
			out[j] = make([]float64, width)
			for i := 0; i < width; i++ {
				out[j][i] = n.At(i, j)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot interpret array of shape %v as rows of %d", n.Dims, width)
}

// Float64s flattens a value into a float64 slice. Scalars become a
// single-element slice and cells of scalars are concatenated.
func Float64s(v Value) ([]float64, error) {
	switch t := v.(type) {
	case *Numeric:
		out := make([]float64, len(t.Data))
		copy(out, t.Data)
		return out, nil
	case *Cell:
		var out []float64
		for i, e := range t.Elems {
			f, err := Float64s(e)
			if err != nil {
				return nil, fmt.Errorf("cell %d: %w", i, err)
			}
			out = append(out, f...)
		}
		return out, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("expected numeric, got %s", v.kind())
}

// Strings returns a char as a single string, or the chars of a cell array.
func Strings(v Value) ([]string, error) {
	switch t := v.(type) {
	case Char:
		return []string{string(t)}, nil
	case *Cell:
		out := make([]string, 0, len(t.Elems))
		for i, e := range t.Elems {
			c, ok := e.(Char)
			if !ok {
				return nil, fmt.Errorf("cell %d: expected char, got %s", i, e.kind())
			}
			out = append(out, string(c))
		}
		return out, nil
	case *Numeric:
		if len(t.Data) == 0 {
			return nil, nil
		}
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("expected char or cell of char, got %s", v.kind())
}

// Cells returns the elements of a cell array. Any other value is treated
// as a one-element cell: legacy structs store a lone entry without the
// surrounding cell.
func Cells(v Value) []Value {
	switch t := v.(type) {
	case *Cell:
		return t.Elems
	case nil:
		return nil
	case *Numeric:
		if len(t.Data) == 0 {
			return nil
		}
	}
	return []Value{v}
}

// AsStructs returns a struct array, wrapping a scalar struct.
func AsStructs(v Value) (Structs, error) {
	switch t := v.(type) {
	case *Struct:
		return Structs{t}, nil
	case Structs:
		return t, nil
	case *Numeric:
		if len(t.Data) == 0 {
			return nil, nil
		}
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("expected struct, got %s", v.kind())
}

// AllNaN reports whether every element is NaN. Empty slices count as all NaN.
func AllNaN(v []float64) bool {
	for _, x := range v {
		if !math.IsNaN(x) {
			return false
		}
	}
	return true
}

func squeeze(dims []int) []int {
	var out []int
	for _, d := range dims {
		if d != 1 {
			out = append(out, d)
		}
	}
	if len(out) == 0 && len(dims) > 0 {
		return []int{1}
	}
	return out
}

func formatScalar(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
