//go:build hdf5

// Package hdf5io reads MATLAB v7.3 and SLEAP analysis files and writes NWB
// files through the HDF5 C library. Importing it registers the "hdf5"
// matfile decoder and nwbio backend.
package hdf5io

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"gonum.org/v1/hdf5"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/matfile"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwbio"
)

func init() {
	matfile.RegisterDecoder("hdf5", Decode)
	nwbio.Register("hdf5", func(o nwbio.Options) nwbio.Writer { return &Writer{ChunkBytes: o.ChunkBytes()} })
}

// Decode reads every group of the file at path as a struct and every
// numeric or string dataset as a value. HDF5 stores MATLAB arrays
// transposed, so dimensions are reversed to recover MATLAB's column-major
// shape. Datasets of object references, which hold MATLAB cell arrays, are
// skipped with a warning.
func Decode(path string) (*matfile.Struct, error) {
	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readGroup(&f.CommonFG, path)
}

func readGroup(g *hdf5.CommonFG, where string) (*matfile.Struct, error) {
	out := matfile.NewStruct()
	n, err := g.NumObjects()
	if err != nil {
		return nil, err
	}
	for i := uint(0); i < n; i++ {
		name, err := g.ObjectNameByIndex(i)
		if err != nil {
			return nil, err
		}
		// #refs# and #subsystem# hold MATLAB internals.
		if strings.HasPrefix(name, "#") {
			continue
		}
		kind, err := g.ObjectTypeByIndex(i)
		if err != nil {
			return nil, err
		}
		switch kind {
		case hdf5.H5G_GROUP:
			sub, err := g.OpenGroup(name)
			if err != nil {
				return nil, err
			}
			v, err := readGroup(&sub.CommonFG, where+"/"+name)
			sub.Close()
			if err != nil {
				return nil, err
			}
			out.Set(name, v)
		case hdf5.H5G_DATASET:
			ds, err := g.OpenDataset(name)
			if err != nil {
				return nil, err
			}
			v, err := readDataset(ds)
			ds.Close()
			if err != nil {
				return nil, fmt.Errorf("%s/%s: %w", where, name, err)
			}
			if v == nil {
				slog.Warn("Skipping unsupported dataset", "path", where+"/"+name)
				continue
			}
			out.Set(name, v)
		}
	}
	return out, nil
}

// matlabClass returns the MATLAB_class attribute, or "" for plain HDF5.
func matlabClass(ds *hdf5.Dataset) string {
	attr, err := ds.OpenAttribute("MATLAB_class")
	if err != nil {
		return ""
	}
	defer attr.Close()
	dtype, err := hdf5.T_C_S1.Copy()
	if err != nil {
		return ""
	}
	defer dtype.Close()
	var buf [32]byte
	if err := dtype.SetSize(uint(len(buf))); err != nil {
		return ""
	}
	if err := attr.Read(&buf, dtype); err != nil {
		return ""
	}
	return string(bytes.TrimRight(buf[:], "\x00 "))
}

func hasAttr(ds *hdf5.Dataset, name string) bool {
	attr, err := ds.OpenAttribute(name)
	if err != nil {
		return false
	}
	attr.Close()
	return true
}

func readDataset(ds *hdf5.Dataset) (matfile.Value, error) {
	space := ds.Space()
	defer space.Close()
	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		return nil, err
	}
	mdims := make([]int, len(dims))
	n := 1
	for i, d := range dims {
		mdims[len(dims)-1-i] = int(d)
		n *= int(d)
	}
	class := matlabClass(ds)
	if hasAttr(ds, "MATLAB_empty") {
		if class == "char" {
			return matfile.Char(""), nil
		}
		return matfile.NewNumeric([]int{0, 0}, nil), nil
	}

	dtype, err := ds.Datatype()
	if err != nil {
		return nil, err
	}
	defer dtype.Close()
	size := dtype.Size()

	switch dtype.Class() {
	case hdf5.T_FLOAT:
		if size == 4 {
			return readNumeric[float32](ds, n, mdims)
		}
		return readNumeric[float64](ds, n, mdims)
	case hdf5.T_INTEGER:
		switch {
		case class == "char":
			buf := make([]uint16, n)
			if err := ds.Read(&buf); err != nil {
				return nil, err
			}
			return matfile.Char(decodeUTF16(buf)), nil
		case size == 1:
			return readNumeric[uint8](ds, n, mdims)
		case size == 2 && class == "uint16":
			return readNumeric[uint16](ds, n, mdims)
		case size == 2:
			return readNumeric[int16](ds, n, mdims)
		case size == 4 && class == "uint32":
			return readNumeric[uint32](ds, n, mdims)
		case size == 4:
			return readNumeric[int32](ds, n, mdims)
		case class == "uint64":
			return readNumeric[uint64](ds, n, mdims)
		default:
			return readNumeric[int64](ds, n, mdims)
		}
	case hdf5.T_STRING:
		if dtype.IsVariableStr() {
			return nil, nil
		}
		buf := make([]byte, n*int(size))
		if err := ds.Read(&buf); err != nil {
			return nil, err
		}
		elems := make([]matfile.Value, n)
		for i := range elems {
			elems[i] = matfile.Char(bytes.TrimRight(buf[i*int(size):(i+1)*int(size)], "\x00 "))
		}
		return &matfile.Cell{Dims: mdims, Elems: elems}, nil
	}
	return nil, nil
}

func readNumeric[T float64 | float32 | int64 | int32 | int16 | uint64 | uint32 | uint16 | uint8](ds *hdf5.Dataset, n int, dims []int) (matfile.Value, error) {
	buf := make([]T, n)
	if n > 0 {
		if err := ds.Read(&buf); err != nil {
			return nil, err
		}
	}
	data := make([]float64, n)
	for i, v := range buf {
		data[i] = float64(v)
	}
	return matfile.NewNumeric(dims, data), nil
}

func decodeUTF16(buf []uint16) string {
	var b strings.Builder
	for _, c := range buf {
		b.WriteRune(rune(c))
	}
	return b.String()
}
