package matfile

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"unicode/utf16"
)

// MAT v5 data element types.
const (
	miINT8       = 1
	miUINT8      = 2
	miINT16      = 3
	miUINT16     = 4
	miINT32      = 5
	miUINT32     = 6
	miSINGLE     = 7
	miDOUBLE     = 9
	miINT64      = 12
	miUINT64     = 13
	miMATRIX     = 14
	miCOMPRESSED = 15
	miUTF8       = 16
	miUTF16      = 17
	miUTF32      = 18
)

// MAT v5 array classes.
const (
	mxCELL   = 1
	mxSTRUCT = 2
	mxOBJECT = 3
	mxCHAR   = 4
	mxSPARSE = 5
	mxDOUBLE = 6
	mxSINGLE = 7
	mxINT8   = 8
	mxUINT8  = 9
	mxINT16  = 10
	mxUINT16 = 11
	mxINT32  = 12
	mxUINT32 = 13
	mxINT64  = 14
	mxUINT64 = 15
)

const (
	flagComplex = 0x0800
	flagLogical = 0x0200
)

var classNames = map[uint32]string{
	mxDOUBLE: "double", mxSINGLE: "single",
	mxINT8: "int8", mxUINT8: "uint8",
	mxINT16: "int16", mxUINT16: "uint16",
	mxINT32: "int32", mxUINT32: "uint32",
	mxINT64: "int64", mxUINT64: "uint64",
}

type v5decoder struct {
	order binary.ByteOrder
}

// Decode reads a MAT v5 stream. The returned struct has one field per
// variable in the file.
func Decode(r io.Reader) (*Struct, error) {
	hdr := make([]byte, 128)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !bytes.HasPrefix(hdr, []byte("MATLAB 5.0 MAT-file")) {
		return nil, errors.New("not a MAT v5 file")
	}

	d := &v5decoder{}
	switch string(hdr[126:128]) {
	case "IM":
		d.order = binary.LittleEndian
	case "MI":
		d.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("bad endian indicator %q", hdr[126:128])
	}

	root := NewStruct()
	for {
		typ, data, err := d.element(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if typ == miCOMPRESSED {
			zr, err := zlib.NewReader(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("compressed element: %w", err)
			}
			typ, data, err = d.element(zr)
			zr.Close()
			if err != nil {
				return nil, fmt.Errorf("compressed element: %w", err)
			}
		}
		if typ != miMATRIX {
			continue
		}
		name, v, err := d.matrix(data)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", name, err)
		}
		root.Set(name, v)
	}
	return root, nil
}

// element reads one tagged data element, consuming its padding.
func (d *v5decoder) element(r io.Reader) (uint32, []byte, error) {
	tag := make([]byte, 8)
	if _, err := io.ReadFull(r, tag); err != nil {
		if err == io.ErrUnexpectedEOF {
			return 0, nil, fmt.Errorf("truncated element tag")
		}
		return 0, nil, err
	}
	first := d.order.Uint32(tag[0:4])
	if first>>16 != 0 {
		n := first >> 16
		if n > 4 {
			return 0, nil, fmt.Errorf("small element with %d bytes", n)
		}
		return first & 0xffff, tag[4 : 4+n], nil
	}

	n := d.order.Uint32(tag[4:8])
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return 0, nil, fmt.Errorf("element type %d: %w", first, err)
	}
	if first != miCOMPRESSED {
		if pad := (8 - n%8) % 8; pad > 0 {
			if _, err := io.CopyN(io.Discard, r, int64(pad)); err != nil && err != io.EOF {
				return 0, nil, err
			}
		}
	}
	return first, data, nil
}

func (d *v5decoder) matrix(data []byte) (string, Value, error) {
	if len(data) == 0 {
		return "", NewNumeric([]int{0, 0}, nil), nil
	}
	r := bytes.NewReader(data)

	_, flags, err := d.element(r)
	if err != nil {
		return "", nil, fmt.Errorf("array flags: %w", err)
	}
	if len(flags) < 4 {
		return "", nil, errors.New("short array flags")
	}
	word := d.order.Uint32(flags[0:4])
	class := word & 0xff

	dimType, dimData, err := d.element(r)
	if err != nil {
		return "", nil, fmt.Errorf("dimensions: %w", err)
	}
	dimVals, err := d.numbers(dimType, dimData)
	if err != nil {
		return "", nil, fmt.Errorf("dimensions: %w", err)
	}
	dims := make([]int, len(dimVals))
	total := 1
	for i, v := range dimVals {
		dims[i] = int(v)
		total *= dims[i]
	}

	_, nameData, err := d.element(r)
	if err != nil {
		return "", nil, fmt.Errorf("array name: %w", err)
	}
	name := strings.TrimRight(string(nameData), "\x00")

	switch class {
	case mxCELL:
		cell := &Cell{Dims: dims, Elems: make([]Value, 0, total)}
		for i := 0; i < total; i++ {
			_, sub, err := d.element(r)
			if err != nil {
				return name, nil, fmt.Errorf("cell %d: %w", i, err)
			}
			_, v, err := d.matrix(sub)
			if err != nil {
				return name, nil, fmt.Errorf("cell %d: %w", i, err)
			}
			cell.Elems = append(cell.Elems, v)
		}
		return name, cell, nil

	case mxSTRUCT, mxOBJECT:
		if class == mxOBJECT {
			if _, _, err := d.element(r); err != nil {
				return name, nil, fmt.Errorf("class name: %w", err)
			}
		}
		v, err := d.structArray(r, total)
		return name, v, err

	case mxCHAR:
		typ, raw, err := d.element(r)
		if err != nil {
			return name, nil, fmt.Errorf("char data: %w", err)
		}
		s, err := d.chars(typ, raw, dims)
		return name, s, err

	case mxSPARSE:
		return name, nil, errors.New("sparse arrays are not supported")
	}

	className, ok := classNames[class]
	if !ok {
		return name, nil, fmt.Errorf("unsupported array class %d", class)
	}
	if word&flagLogical != 0 {
		className = "logical"
	}
	typ, raw, err := d.element(r)
	if err != nil {
		return name, nil, fmt.Errorf("real part: %w", err)
	}
	vals, err := d.numbers(typ, raw)
	if err != nil {
		return name, nil, fmt.Errorf("real part: %w", err)
	}
	// The imaginary part, if any, is dropped; no recording stores complex data.
	return name, &Numeric{Class: className, Dims: dims, Data: vals}, nil
}

func (d *v5decoder) structArray(r io.Reader, total int) (Value, error) {
	lenType, lenData, err := d.element(r)
	if err != nil {
		return nil, fmt.Errorf("field name length: %w", err)
	}
	lens, err := d.numbers(lenType, lenData)
	if err != nil || len(lens) != 1 || lens[0] <= 0 {
		return nil, fmt.Errorf("bad field name length")
	}
	width := int(lens[0])

	_, namesData, err := d.element(r)
	if err != nil {
		return nil, fmt.Errorf("field names: %w", err)
	}
	var fields []string
	for off := 0; off+width <= len(namesData); off += width {
		fields = append(fields, strings.TrimRight(string(namesData[off:off+width]), "\x00"))
	}

	elems := make(Structs, 0, total)
	for i := 0; i < total; i++ {
		s := NewStruct()
		for _, f := range fields {
			_, sub, err := d.element(r)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f, err)
			}
			_, v, err := d.matrix(sub)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f, err)
			}
			s.Set(f, v)
		}
		elems = append(elems, s)
	}
	if total == 1 {
		return elems[0], nil
	}
	return elems, nil
}

func (d *v5decoder) chars(typ uint32, raw []byte, dims []int) (Char, error) {
	var runes []rune
	switch typ {
	case miUTF8, miUINT8, miINT8:
		runes = []rune(string(raw))
	case miUINT16, miUTF16:
		u := make([]uint16, len(raw)/2)
		for i := range u {
			u[i] = d.order.Uint16(raw[2*i:])
		}
		runes = utf16.Decode(u)
	case miUTF32:
		for i := 0; i+4 <= len(raw); i += 4 {
			runes = append(runes, rune(d.order.Uint32(raw[i:])))
		}
	default:
		return "", fmt.Errorf("unsupported char encoding %d", typ)
	}

	rows := 1
	if len(dims) > 0 {
		rows = dims[0]
	}
	if rows <= 1 || len(runes) == 0 {
		return Char(string(runes)), nil
	}
	cols := len(runes) / rows
	lines := make([]string, rows)
	for i := 0; i < rows; i++ {
		line := make([]rune, cols)
		for j := 0; j < cols; j++ {
			line[j] = runes[i+j*rows]
		}
		lines[i] = strings.TrimRight(string(line), " ")
	}
	return Char(strings.Join(lines, "\n")), nil
}

func (d *v5decoder) numbers(typ uint32, raw []byte) ([]float64, error) {
	var size int
	switch typ {
	case miINT8, miUINT8:
		size = 1
	case miINT16, miUINT16:
		size = 2
	case miINT32, miUINT32, miSINGLE:
		size = 4
	case miDOUBLE, miINT64, miUINT64:
		size = 8
	default:
		return nil, fmt.Errorf("unsupported numeric type %d", typ)
	}
	n := len(raw) / size
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		b := raw[i*size:]
		switch typ {
		case miINT8:
			out[i] = float64(int8(b[0]))
		case miUINT8:
			out[i] = float64(b[0])
		case miINT16:
			out[i] = float64(int16(d.order.Uint16(b)))
		case miUINT16:
			out[i] = float64(d.order.Uint16(b))
		case miINT32:
			out[i] = float64(int32(d.order.Uint32(b)))
		case miUINT32:
			out[i] = float64(d.order.Uint32(b))
		case miSINGLE:
			out[i] = float64(math.Float32frombits(d.order.Uint32(b)))
		case miDOUBLE:
			out[i] = math.Float64frombits(d.order.Uint64(b))
		case miINT64:
			out[i] = float64(int64(d.order.Uint64(b)))
		case miUINT64:
			out[i] = float64(d.order.Uint64(b))
		}
	}
	return out, nil
}
