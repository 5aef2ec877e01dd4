package nwbio

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

// ZarrWriter writes the NWB hierarchy as a Zarr v2 directory store: one
// directory per group or array, zlib-compressed chunks along the first axis.
type ZarrWriter struct {
	ChunkBytes int64
	Logger     *slog.Logger
}

// ArrayMeta is the content of a .zarray file.
type ArrayMeta struct {
	ZarrFormat         int              `json:"zarr_format"`
	Shape              []int            `json:"shape"`
	Chunks             []int            `json:"chunks"`
	DType              string           `json:"dtype"`
	Compressor         map[string]any   `json:"compressor"`
	FillValue          any              `json:"fill_value"`
	Order              string           `json:"order"`
	Filters            []map[string]any `json:"filters"`
	DimensionSeparator string           `json:"dimension_separator"`
}

type zarrLink struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Path   string `json:"path"`
}

func (w *ZarrWriter) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// Write lowers f and writes it under path, replacing anything already there.
func (w *ZarrWriter) Write(ctx context.Context, f *nwb.File, path string) error {
	root, err := f.Layout()
	if err != nil {
		return fmt.Errorf("layout: %w", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove previous output: %w", err)
	}
	var written int64
	if err := w.writeGroup(ctx, path, root, &written); err != nil {
		return err
	}
	w.logger().Info("Wrote NWB file", "path", path, "backend", "zarr", "size", humanize.Bytes(uint64(written)))
	return nil
}

func writeJSON(path string, v any, written *int64) error {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	*written += int64(len(b))
	return os.WriteFile(path, b, 0644)
}

func (w *ZarrWriter) writeGroup(ctx context.Context, dir string, g *nwb.Group, written *int64) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, ".zgroup"), map[string]int{"zarr_format": 2}, written); err != nil {
		return err
	}

	attrs := map[string]any{}
	for k, v := range g.Attrs {
		attrs[k] = v
	}
	var links []zarrLink
	for _, child := range g.Children {
		switch c := child.(type) {
		case *nwb.Group:
			if err := w.writeGroup(ctx, filepath.Join(dir, c.Name), c, written); err != nil {
				return err
			}
		case *nwb.DatasetNode:
			if err := w.writeArray(ctx, filepath.Join(dir, c.Name), c, written); err != nil {
				return fmt.Errorf("%s: %w", c.Name, err)
			}
		case *nwb.Link:
			links = append(links, zarrLink{Name: c.Name, Source: ".", Path: c.Target})
		}
	}
	if len(links) > 0 {
		attrs["zarr_link"] = links
	}
	return writeJSON(filepath.Join(dir, ".zattrs"), attrs, written)
}

func zarrDType(dt nwb.DType) (string, any, []map[string]any) {
	switch dt {
	case nwb.Float64:
		return "<f8", "NaN", nil
	case nwb.Float32:
		return "<f4", "NaN", nil
	case nwb.Int64:
		return "<i8", 0, nil
	case nwb.Int32:
		return "<i4", 0, nil
	case nwb.Int16:
		return "<i2", 0, nil
	case nwb.Uint16:
		return "<u2", 0, nil
	case nwb.Uint8:
		return "|u1", 0, nil
	case nwb.Bool:
		return "|b1", false, nil
	}
	return "|O", nil, []map[string]any{{"id": "vlen-utf8"}}
}

// rowsPerChunk picks a first-axis chunk length so one chunk stays near the
// configured byte budget.
func rowsPerChunk(dt nwb.DType, shape []int, budget int64) int {
	item := int64(dt.ItemSize())
	if item == 0 {
		item = 32
	}
	row := item
	for _, d := range shape[1:] {
		row *= int64(d)
	}
	if row <= 0 {
		return 1
	}
	n := budget / row
	if n < 1 {
		n = 1
	}
	if len(shape) > 0 && int64(shape[0]) < n && shape[0] > 0 {
		n = int64(shape[0])
	}
	return int(n)
}

func (w *ZarrWriter) writeArray(ctx context.Context, dir string, ds *nwb.DatasetNode, written *int64) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data := ds.Data
	shape := data.Shape()
	scalar := len(shape) == 0
	if scalar {
		shape = []int{1}
	}
	dtype, fill, filters := zarrDType(data.DType())

	chunkRows := rowsPerChunk(data.DType(), shape, w.ChunkBytes)
	chunks := append([]int{chunkRows}, shape[1:]...)
	meta := ArrayMeta{
		ZarrFormat:         2,
		Shape:              shape,
		Chunks:             chunks,
		DType:              dtype,
		Compressor:         map[string]any{"id": "zlib", "level": 1},
		FillValue:          fill,
		Order:              "C",
		Filters:            filters,
		DimensionSeparator: ".",
	}
	if err := writeJSON(filepath.Join(dir, ".zarray"), meta, written); err != nil {
		return err
	}

	attrs := map[string]any{"zarr_dtype": zarrAttrDType(data.DType())}
	for k, v := range ds.Attrs {
		attrs[k] = v
	}
	if err := writeJSON(filepath.Join(dir, ".zattrs"), attrs, written); err != nil {
		return err
	}

	stride := 1
	for _, d := range shape[1:] {
		stride *= d
	}
	suffix := strings.Repeat(".0", len(shape)-1)
	for i, start := 0, 0; start < shape[0]; i, start = i+1, start+chunkRows {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+chunkRows, shape[0])
		var values any
		var err error
		if scalar {
			values, err = data.Slice(0, 0)
		} else {
			values, err = data.Slice(start, end)
		}
		if err != nil {
			return fmt.Errorf("read rows [%d, %d): %w", start, end, err)
		}
		raw, err := encodeChunk(values, chunkRows*stride)
		if err != nil {
			return err
		}
		n, err := writeCompressed(filepath.Join(dir, strconv.Itoa(i)+suffix), raw)
		if err != nil {
			return err
		}
		*written += n
	}
	return nil
}

func zarrAttrDType(dt nwb.DType) string {
	switch dt {
	case nwb.String:
		return "str"
	case nwb.Ref:
		return "object"
	}
	return string(dt)
}

// encodeChunk serializes values and pads them to a full chunk of n elements.
func encodeChunk(values any, n int) ([]byte, error) {
	var buf bytes.Buffer
	switch v := values.(type) {
	case []string:
		// numcodecs vlen-utf8: item count, then length-prefixed items
		binary.Write(&buf, binary.LittleEndian, uint32(n))
		for i := 0; i < n; i++ {
			s := ""
			if i < len(v) {
				s = v[i]
			}
			binary.Write(&buf, binary.LittleEndian, uint32(len(s)))
			buf.WriteString(s)
		}
		return buf.Bytes(), nil
	case []float64, []float32, []int64, []int32, []int16, []uint16, []uint8, []bool:
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
		size := buf.Len() / max(1, lenOf(v))
		if pad := (n - lenOf(v)) * size; pad > 0 {
			buf.Write(make([]byte, pad))
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unsupported chunk type %T", values)
}

func lenOf(v any) int {
	switch t := v.(type) {
	case []float64:
		return len(t)
	case []float32:
		return len(t)
	case []int64:
		return len(t)
	case []int32:
		return len(t)
	case []int16:
		return len(t)
	case []uint16:
		return len(t)
	case []uint8:
		return len(t)
	case []bool:
		return len(t)
	}
	return 0
}

func writeCompressed(path string, raw []byte) (int64, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, 1)
	if err != nil {
		return 0, err
	}
	if _, err := zw.Write(raw); err != nil {
		return 0, err
	}
	if err := zw.Close(); err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, buf.Bytes(), fs.FileMode(0644)); err != nil {
		return 0, err
	}
	return int64(buf.Len()), nil
}
