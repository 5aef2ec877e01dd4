package nwbio

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ReadAttrs returns the .zattrs of a group or array.
func ReadAttrs(dir string) (map[string]any, error) {
	b, err := os.ReadFile(filepath.Join(dir, ".zattrs"))
	if err != nil {
		return nil, err
	}
	attrs := map[string]any{}
	if err := json.Unmarshal(b, &attrs); err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	return attrs, nil
}

// ReadArray decodes a whole array written by ZarrWriter. Numeric arrays are
// returned as []float64 (or []bool), text as []string.
func ReadArray(dir string) (*ArrayMeta, any, error) {
	b, err := os.ReadFile(filepath.Join(dir, ".zarray"))
	if err != nil {
		return nil, nil, err
	}
	var meta ArrayMeta
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", dir, err)
	}
	total, stride := 1, 1
	for i, d := range meta.Shape {
		total *= d
		if i > 0 {
			stride *= d
		}
	}

	var floats []float64
	var bools []bool
	var strs []string
	suffix := strings.Repeat(".0", len(meta.Shape)-1)
	chunkRows := meta.Chunks[0]
	for i, start := 0, 0; start < meta.Shape[0]; i, start = i+1, start+chunkRows {
		raw, err := readCompressed(filepath.Join(dir, strconv.Itoa(i)+suffix))
		if err != nil {
			return nil, nil, err
		}
		keep := (min(start+chunkRows, meta.Shape[0]) - start) * stride
		switch meta.DType {
		case "|O":
			items, err := decodeVLen(raw)
			if err != nil {
				return nil, nil, err
			}
			strs = append(strs, items[:keep]...)
		case "|b1":
			for _, x := range raw[:keep] {
				bools = append(bools, x != 0)
			}
		default:
			vals, err := decodeNumbers(meta.DType, raw)
			if err != nil {
				return nil, nil, err
			}
			floats = append(floats, vals[:keep]...)
		}
	}

	switch meta.DType {
	case "|O":
		return &meta, strs, nil
	case "|b1":
		return &meta, bools, nil
	}
	if floats == nil {
		floats = make([]float64, 0, total)
	}
	return &meta, floats, nil
}

func readCompressed(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	zr, err := zlib.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func decodeVLen(raw []byte) ([]string, error) {
	r := bytes.NewReader(raw)
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		var l uint32
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return nil, err
		}
		b := make([]byte, l)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, err
		}
		out[i] = string(b)
	}
	return out, nil
}

func decodeNumbers(dtype string, raw []byte) ([]float64, error) {
	r := bytes.NewReader(raw)
	read := func(v any) error { return binary.Read(r, binary.LittleEndian, v) }
	switch dtype {
	case "<f8":
		v := make([]float64, len(raw)/8)
		return v, read(v)
	case "<f4":
		v := make([]float32, len(raw)/4)
		return widen(v), read(v)
	case "<i8":
		v := make([]int64, len(raw)/8)
		err := read(v)
		return widen(v), err
	case "<i4":
		v := make([]int32, len(raw)/4)
		err := read(v)
		return widen(v), err
	case "<i2":
		v := make([]int16, len(raw)/2)
		err := read(v)
		return widen(v), err
	case "<u2":
		v := make([]uint16, len(raw)/2)
		err := read(v)
		return widen(v), err
	case "|u1":
		return widen(raw), nil
	}
	return nil, fmt.Errorf("unsupported dtype %s", dtype)
}

func widen[T float32 | int64 | int32 | int16 | uint16 | uint8](v []T) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// Tree lists every group and array path in a store, sorted.
func Tree(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(paths)
	return paths, err
}
