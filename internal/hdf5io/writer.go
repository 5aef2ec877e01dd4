//go:build hdf5

package hdf5io

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/hdf5"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

// Writer writes the NWB hierarchy as a single HDF5 file with deflate
// compressed chunks along the first axis.
type Writer struct {
	ChunkBytes int64
	Logger     *slog.Logger
}

func (w *Writer) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

type attributer interface {
	CreateAttribute(name string, dtype *hdf5.Datatype, dspace *hdf5.Dataspace) (*hdf5.Attribute, error)
}

// Write lowers f and writes it to path, replacing any existing file.
func (w *Writer) Write(ctx context.Context, f *nwb.File, path string) error {
	root, err := f.Layout()
	if err != nil {
		return fmt.Errorf("layout: %w", err)
	}
	h, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	g, err := h.OpenGroup("/")
	if err != nil {
		h.Close()
		return err
	}
	err = w.writeGroup(ctx, g, root)
	g.Close()
	if cerr := h.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return err
	}
	size := "unknown"
	if st, err := os.Stat(path); err == nil {
		size = humanize.Bytes(uint64(st.Size()))
	}
	w.logger().Info("Wrote NWB file", "path", path, "backend", "hdf5", "size", size)
	return nil
}

func (w *Writer) writeGroup(ctx context.Context, g *hdf5.Group, node *nwb.Group) error {
	for k, v := range node.Attrs {
		if err := writeAttr(g, k, v); err != nil {
			return fmt.Errorf("attribute %s: %w", k, err)
		}
	}
	for _, child := range node.Children {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch c := child.(type) {
		case *nwb.Group:
			sub, err := g.CreateGroup(c.Name)
			if err != nil {
				return fmt.Errorf("group %s: %w", c.Name, err)
			}
			err = w.writeGroup(ctx, sub, c)
			sub.Close()
			if err != nil {
				return fmt.Errorf("%s: %w", c.Name, err)
			}
		case *nwb.DatasetNode:
			if err := w.writeDataset(ctx, g, c); err != nil {
				return fmt.Errorf("%s: %w", c.Name, err)
			}
		case *nwb.Link:
			if err := g.CreateSoftLink(c.Target, c.Name); err != nil {
				return fmt.Errorf("link %s: %w", c.Name, err)
			}
		}
	}
	return nil
}

func nativeType(dt nwb.DType) (*hdf5.Datatype, error) {
	switch dt {
	case nwb.Float64:
		return hdf5.T_NATIVE_DOUBLE, nil
	case nwb.Float32:
		return hdf5.T_NATIVE_FLOAT, nil
	case nwb.Int64:
		return hdf5.T_NATIVE_INT64, nil
	case nwb.Int32:
		return hdf5.T_NATIVE_INT32, nil
	case nwb.Int16:
		return hdf5.T_NATIVE_INT16, nil
	case nwb.Uint16:
		return hdf5.T_NATIVE_UINT16, nil
	case nwb.Uint8, nwb.Bool:
		return hdf5.T_NATIVE_UINT8, nil
	}
	return nil, fmt.Errorf("no native HDF5 type for %s", dt)
}

// fixedString returns a fixed-length string type and the values packed
// into it.
func fixedString(values []string) (*hdf5.Datatype, []byte, error) {
	size := 1
	for _, s := range values {
		size = max(size, len(s))
	}
	dtype, err := hdf5.T_C_S1.Copy()
	if err != nil {
		return nil, nil, err
	}
	if err := dtype.SetSize(uint(size)); err != nil {
		dtype.Close()
		return nil, nil, err
	}
	buf := make([]byte, max(1, len(values))*size)
	for i, s := range values {
		copy(buf[i*size:], s)
	}
	return dtype, buf, nil
}

func dataspace(shape []int) (*hdf5.Dataspace, error) {
	if len(shape) == 0 {
		return hdf5.CreateDataspace(hdf5.S_SCALAR)
	}
	dims := make([]uint, len(shape))
	for i, d := range shape {
		dims[i] = uint(d)
	}
	return hdf5.CreateSimpleDataspace(dims, nil)
}

func (w *Writer) writeDataset(ctx context.Context, g *hdf5.Group, node *nwb.DatasetNode) error {
	data := node.Data
	shape := data.Shape()
	space, err := dataspace(shape)
	if err != nil {
		return err
	}
	defer space.Close()

	var ds *hdf5.Dataset
	if data.DType() == nwb.String || data.DType() == nwb.Ref {
		// Text is small; write it in one piece.
		values, err := data.Slice(0, rowsOf(shape))
		if err != nil {
			return err
		}
		dtype, buf, err := fixedString(values.([]string))
		if err != nil {
			return err
		}
		defer dtype.Close()
		if ds, err = g.CreateDataset(node.Name, dtype, space); err != nil {
			return err
		}
		defer ds.Close()
		if err := ds.Write(&buf[0]); err != nil {
			return err
		}
		return writeAttrs(ds, node.Attrs)
	}

	dtype, err := nativeType(data.DType())
	if err != nil {
		return err
	}
	chunk := w.rowsPerChunk(dtype, shape)
	if chunk > 0 {
		dcpl, err := hdf5.NewPropList(hdf5.P_DATASET_CREATE)
		if err != nil {
			return err
		}
		dims := make([]uint, len(shape))
		dims[0] = uint(chunk)
		for i, d := range shape[1:] {
			dims[i+1] = uint(d)
		}
		if err := dcpl.SetChunk(dims); err != nil {
			dcpl.Close()
			return err
		}
		if err := dcpl.SetDeflate(4); err != nil {
			dcpl.Close()
			return err
		}
		ds, err = g.CreateDatasetWith(node.Name, dtype, space, dcpl)
		dcpl.Close()
		if err != nil {
			return err
		}
	} else if ds, err = g.CreateDataset(node.Name, dtype, space); err != nil {
		return err
	}
	defer ds.Close()

	if len(shape) == 0 {
		values, err := data.Slice(0, 0)
		if err != nil {
			return err
		}
		if err := writeAll(ds, values, nil, nil); err != nil {
			return err
		}
		return writeAttrs(ds, node.Attrs)
	}
	if chunk == 0 {
		// empty
		return writeAttrs(ds, node.Attrs)
	}
	for start := 0; start < shape[0]; start += chunk {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+chunk, shape[0])
		values, err := data.Slice(start, end)
		if err != nil {
			return fmt.Errorf("read rows [%d, %d): %w", start, end, err)
		}
		offset := make([]uint, len(shape))
		count := make([]uint, len(shape))
		offset[0], count[0] = uint(start), uint(end-start)
		for i, d := range shape[1:] {
			count[i+1] = uint(d)
		}
		filespace := ds.Space()
		if err := filespace.SelectHyperslab(offset, nil, count, nil); err != nil {
			filespace.Close()
			return err
		}
		memspace, err := hdf5.CreateSimpleDataspace(count, nil)
		if err != nil {
			filespace.Close()
			return err
		}
		err = writeAll(ds, values, memspace, filespace)
		memspace.Close()
		filespace.Close()
		if err != nil {
			return fmt.Errorf("write rows [%d, %d): %w", start, end, err)
		}
	}
	return writeAttrs(ds, node.Attrs)
}

// rowsPerChunk keeps one chunk near the byte budget. It returns 0 when the
// dataset cannot be chunked.
func (w *Writer) rowsPerChunk(dtype *hdf5.Datatype, shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	row := int64(dtype.Size())
	for _, d := range shape {
		if d == 0 {
			return 0
		}
	}
	for _, d := range shape[1:] {
		row *= int64(d)
	}
	n := max(1, w.ChunkBytes/max(1, row))
	return int(min(n, int64(shape[0])))
}

func rowsOf(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	return shape[0]
}

// writeAll writes a typed slice through its first element's address.
func writeAll(ds *hdf5.Dataset, values any, memspace, filespace *hdf5.Dataspace) error {
	var first any
	switch v := values.(type) {
	case []float64:
		first = &v[0]
	case []float32:
		first = &v[0]
	case []int64:
		first = &v[0]
	case []int32:
		first = &v[0]
	case []int16:
		first = &v[0]
	case []uint16:
		first = &v[0]
	case []uint8:
		first = &v[0]
	case []bool:
		b := make([]uint8, len(v))
		for i, x := range v {
			if x {
				b[i] = 1
			}
		}
		first = &b[0]
	default:
		return fmt.Errorf("unsupported values %T", values)
	}
	if memspace == nil {
		return ds.Write(first)
	}
	return ds.WriteSubset(first, memspace, filespace)
}

func writeAttrs(loc attributer, attrs nwb.Attrs) error {
	for k, v := range attrs {
		if err := writeAttr(loc, k, v); err != nil {
			return fmt.Errorf("attribute %s: %w", k, err)
		}
	}
	return nil
}

func writeAttr(loc attributer, name string, value any) error {
	switch v := value.(type) {
	case string:
		return writeStrings(loc, name, []string{v}, true)
	case []string:
		return writeStrings(loc, name, v, false)
	case float64:
		return writeScalar(loc, name, hdf5.T_NATIVE_DOUBLE, &v)
	case int64:
		return writeScalar(loc, name, hdf5.T_NATIVE_INT64, &v)
	case int:
		n := int64(v)
		return writeScalar(loc, name, hdf5.T_NATIVE_INT64, &n)
	case []int:
		n := make([]int64, len(v))
		for i, x := range v {
			n[i] = int64(x)
		}
		return writeArray(loc, name, hdf5.T_NATIVE_INT64, len(n), func() any { return &n[0] })
	case []int64:
		return writeArray(loc, name, hdf5.T_NATIVE_INT64, len(v), func() any { return &v[0] })
	case []float64:
		return writeArray(loc, name, hdf5.T_NATIVE_DOUBLE, len(v), func() any { return &v[0] })
	}
	return writeStrings(loc, name, []string{fmt.Sprint(value)}, true)
}

func writeScalar(loc attributer, name string, dtype *hdf5.Datatype, ptr any) error {
	space, err := hdf5.CreateDataspace(hdf5.S_SCALAR)
	if err != nil {
		return err
	}
	defer space.Close()
	attr, err := loc.CreateAttribute(name, dtype, space)
	if err != nil {
		return err
	}
	defer attr.Close()
	return attr.Write(ptr, dtype)
}

func writeArray(loc attributer, name string, dtype *hdf5.Datatype, n int, first func() any) error {
	if n == 0 {
		return nil
	}
	space, err := hdf5.CreateSimpleDataspace([]uint{uint(n)}, nil)
	if err != nil {
		return err
	}
	defer space.Close()
	attr, err := loc.CreateAttribute(name, dtype, space)
	if err != nil {
		return err
	}
	defer attr.Close()
	return attr.Write(first(), dtype)
}

func writeStrings(loc attributer, name string, values []string, scalar bool) error {
	dtype, buf, err := fixedString(values)
	if err != nil {
		return err
	}
	defer dtype.Close()
	var space *hdf5.Dataspace
	if scalar {
		space, err = hdf5.CreateDataspace(hdf5.S_SCALAR)
	} else {
		space, err = dataspace([]int{len(values)})
	}
	if err != nil {
		return err
	}
	defer space.Close()
	attr, err := loc.CreateAttribute(name, dtype, space)
	if err != nil {
		return err
	}
	defer attr.Close()
	return attr.Write(&buf[0], dtype)
}
