package ecephys

import (
	"fmt"
	"os"

	"github.com/sbinet/npyio/npy"
)

// readNumbers loads a 1-D (or flattened) .npy array of any integer or float
// dtype as float64.
func readNumbers(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := npy.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	switch dtype := r.Header.Descr.Type; dtype {
	case "<f8":
		var v []float64
		err = r.Read(&v)
		return v, wrap(path, err)
	case "<f4":
		var v []float32
		err = r.Read(&v)
		return widen(v), wrap(path, err)
	case "<i8":
		var v []int64
		err = r.Read(&v)
		return widen(v), wrap(path, err)
	case "<u8":
		var v []uint64
		err = r.Read(&v)
		return widen(v), wrap(path, err)
	case "<i4":
		var v []int32
		err = r.Read(&v)
		return widen(v), wrap(path, err)
	case "<u4":
		var v []uint32
		err = r.Read(&v)
		return widen(v), wrap(path, err)
	case "<i2":
		var v []int16
		err = r.Read(&v)
		return widen(v), wrap(path, err)
	default:
		return nil, fmt.Errorf("%s: unsupported npy dtype %q", path, dtype)
	}
}

// readMatrix loads a 2-D float .npy array as rows.
func readMatrix(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r, err := npy.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	shape := r.Header.Descr.Shape
	if len(shape) != 2 {
		return nil, fmt.Errorf("%s: expected a 2-D array, got shape %v", path, shape)
	}
	flat, err := readNumbers(path)
	if err != nil {
		return nil, err
	}
	rows := make([][]float64, shape[0])
	for i := range rows {
		rows[i] = make([]float64, shape[1])
		for j := range rows[i] {
			if r.Header.Descr.Fortran {
				rows[i][j] = flat[j*shape[0]+i]
			} else {
				rows[i][j] = flat[i*shape[1]+j]
			}
		}
	}
	return rows, nil
}

func widen[T int16 | int32 | int64 | uint32 | uint64 | float32](v []T) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func wrap(path string, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
