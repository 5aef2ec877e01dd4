package nwb

import (
	"fmt"
)

// DType names the element type of a dataset.
type DType string

const (
	Float64 DType = "float64"
	Float32 DType = "float32"
	Int16   DType = "int16"
	Int32   DType = "int32"
	Int64   DType = "int64"
	Uint8   DType = "uint8"
	Uint16  DType = "uint16"
	Bool    DType = "bool"
	String  DType = "string"
	// Ref datasets hold absolute object paths.
	Ref DType = "ref"
)

// ItemSize is the width in bytes of one element, or 0 for variable-length types.
func (d DType) ItemSize() int {
	switch d {
	case Float64, Int64:
		return 8
	case Float32, Int32:
		return 4
	case Int16, Uint16:
		return 2
	case Uint8, Bool:
		return 1
	}
	return 0
}

// ParseDType accepts the dtype spellings used in metadata files.
func ParseDType(s string) (DType, error) {
	switch s {
	case "float", "float64", "double":
		return Float64, nil
	case "float32", "single":
		return Float32, nil
	case "int", "int64":
		return Int64, nil
	case "int32":
		return Int32, nil
	case "int16":
		return Int16, nil
	case "uint8":
		return Uint8, nil
	case "uint16":
		return Uint16, nil
	case "bool":
		return Bool, nil
	case "str", "string", "text":
		return String, nil
	}
	return "", fmt.Errorf("unknown dtype %q", s)
}

// Data is an n-dimensional array read row by row. Lazy implementations
// (memory-mapped recordings, interpolated clocks) produce rows on demand so
// writers never hold a whole recording in memory.
type Data interface {
	DType() DType
	// Shape is empty for scalars; Shape()[0] is the row count otherwise.
	Shape() []int
	// Slice returns rows [start, end) flattened row-major as a typed slice
	// ([]float64, []float32, []int16, []string, ...).
	Slice(start, end int) (any, error)
}

// Elem is the set of element types an Array can carry.
type Elem interface {
	float64 | float32 | int16 | int32 | int64 | uint8 | uint16 | bool | string
}

// Array is an in-memory Data.
type Array[T Elem] struct {
	Values []T
	Dims   []int
}

// Vector wraps a 1-D slice.
func Vector[T Elem](v []T) *Array[T] {
	return &Array[T]{Values: v, Dims: []int{len(v)}}
}

// Matrix wraps row-major data of the given shape.
func Matrix[T Elem](v []T, dims ...int) (*Array[T], error) {
	n := 1
	for _, d := range dims {
		n *= d
	}
	if n != len(v) {
		return nil, fmt.Errorf("shape %v needs %d values, got %d", dims, n, len(v))
	}
	return &Array[T]{Values: v, Dims: dims}, nil
}

func (a *Array[T]) DType() DType {
	var zero T
	return dtypeOf(any(zero))
}

func (a *Array[T]) Shape() []int {
	out := make([]int, len(a.Dims))
	copy(out, a.Dims)
	return out
}

func (a *Array[T]) Slice(start, end int) (any, error) {
	if len(a.Dims) == 0 {
		return a.Values, nil
	}
	if start < 0 || end > a.Dims[0] || start > end {
		return nil, fmt.Errorf("rows [%d, %d) out of range for %d rows", start, end, a.Dims[0])
	}
	stride := rowStride(a.Dims)
	return a.Values[start*stride : end*stride], nil
}

// Scalar is a zero-dimensional dataset.
func Scalar[T Elem](v T) *Array[T] {
	return &Array[T]{Values: []T{v}}
}

// Text wraps strings as a 1-D string dataset.
func Text(v ...string) *Array[string] {
	return Vector(v)
}

func dtypeOf(v any) DType {
	switch v.(type) {
	case float64:
		return Float64
	case float32:
		return Float32
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case bool:
		return Bool
	}
	return String
}

func rowStride(dims []int) int {
	stride := 1
	for _, d := range dims[1:] {
		stride *= d
	}
	return stride
}

// Rows is the first dimension of d, 1 for scalars and 0 for nil.
func Rows(d Data) int {
	if d == nil {
		return 0
	}
	s := d.Shape()
	if len(s) == 0 {
		return 1
	}
	return s[0]
}

// Float64Values reads all of a numeric Data into memory as float64.
func Float64Values(d Data) ([]float64, error) {
	if d == nil {
		return nil, nil
	}
	raw, err := d.Slice(0, Rows(d))
	if err != nil {
		return nil, err
	}
	switch v := raw.(type) {
	case []float64:
		out := make([]float64, len(v))
		copy(out, v)
		return out, nil
	case []float32:
		return convert(v), nil
	case []int16:
		return convert(v), nil
	case []int32:
		return convert(v), nil
	case []int64:
		return convert(v), nil
	case []uint8:
		return convert(v), nil
	case []uint16:
		return convert(v), nil
	}
	return nil, fmt.Errorf("cannot read %s data as float64", d.DType())
}

func convert[T float32 | int16 | int32 | int64 | uint8 | uint16](v []T) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
