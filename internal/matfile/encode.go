package matfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf16"
)

const fieldNameWidth = 64

// Encode writes vars as an uncompressed little-endian MAT v5 file, one
// variable per field. Numbers are stored as double (logical as uint8).
func Encode(w io.Writer, vars *Struct) error {
	hdr := bytes.Repeat([]byte{' '}, 128)
	copy(hdr, "MATLAB 5.0 MAT-file, Platform: GLNXA64, Created by: nwbconv")
	for i := 116; i < 124; i++ {
		hdr[i] = 0
	}
	binary.LittleEndian.PutUint16(hdr[124:126], 0x0100)
	copy(hdr[126:128], "IM")
	if _, err := w.Write(hdr); err != nil {
		return err
	}

	for _, name := range vars.names {
		body, err := encodeMatrix(name, vars.fields[name])
		if err != nil {
			return fmt.Errorf("variable %q: %w", name, err)
		}
		var buf bytes.Buffer
		writeElement(&buf, miMATRIX, body)
		if _, err := w.Write(buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func writeElement(buf *bytes.Buffer, typ uint32, data []byte) {
	var tag [8]byte
	binary.LittleEndian.PutUint32(tag[0:4], typ)
	binary.LittleEndian.PutUint32(tag[4:8], uint32(len(data)))
	buf.Write(tag[:])
	buf.Write(data)
	if pad := (8 - len(data)%8) % 8; pad > 0 {
		buf.Write(make([]byte, pad))
	}
}

func int32s(vals ...int) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[4*i:], uint32(int32(v)))
	}
	return out
}

func arrayHeader(buf *bytes.Buffer, class uint32, flags uint32, dims []int, name string) {
	fl := make([]byte, 8)
	binary.LittleEndian.PutUint32(fl[0:4], class|flags)
	writeElement(buf, miUINT32, fl)
	writeElement(buf, miINT32, int32s(dims...))
	writeElement(buf, miINT8, []byte(name))
}

func encodeMatrix(name string, v Value) ([]byte, error) {
	var buf bytes.Buffer
	switch t := v.(type) {
	case *Numeric:
		dims := t.Dims
		if len(dims) == 0 {
			dims = []int{1, len(t.Data)}
		}
		if t.Class == "logical" {
			arrayHeader(&buf, mxUINT8, flagLogical, dims, name)
			raw := make([]byte, len(t.Data))
			for i, x := range t.Data {
				if x != 0 {
					raw[i] = 1
				}
			}
			writeElement(&buf, miUINT8, raw)
			break
		}
		arrayHeader(&buf, mxDOUBLE, 0, dims, name)
		raw := make([]byte, 8*len(t.Data))
		for i, x := range t.Data {
			binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(x))
		}
		writeElement(&buf, miDOUBLE, raw)

	case Char:
		u := utf16.Encode([]rune(string(t)))
		arrayHeader(&buf, mxCHAR, 0, []int{1, len(u)}, name)
		raw := make([]byte, 2*len(u))
		for i, c := range u {
			binary.LittleEndian.PutUint16(raw[2*i:], c)
		}
		writeElement(&buf, miUTF16, raw)

	case *Struct:
		if err := encodeStructs(&buf, name, []int{1, 1}, Structs{t}); err != nil {
			return nil, err
		}

	case Structs:
		if err := encodeStructs(&buf, name, []int{1, len(t)}, t); err != nil {
			return nil, err
		}

	case *Cell:
		dims := t.Dims
		if len(dims) == 0 {
			dims = []int{1, len(t.Elems)}
		}
		arrayHeader(&buf, mxCELL, 0, dims, name)
		for i, e := range t.Elems {
			sub, err := encodeMatrix("", e)
			if err != nil {
				return nil, fmt.Errorf("cell %d: %w", i, err)
			}
			writeElement(&buf, miMATRIX, sub)
		}

	default:
		return nil, fmt.Errorf("cannot encode %T", v)
	}
	return buf.Bytes(), nil
}

func encodeStructs(buf *bytes.Buffer, name string, dims []int, elems Structs) error {
	arrayHeader(buf, mxSTRUCT, 0, dims, name)
	var fields []string
	if len(elems) > 0 {
		fields = elems[0].names
	}
	writeElement(buf, miINT32, int32s(fieldNameWidth))
	names := make([]byte, fieldNameWidth*len(fields))
	for i, f := range fields {
		if len(f) >= fieldNameWidth {
			return fmt.Errorf("field name %q too long", f)
		}
		copy(names[i*fieldNameWidth:], f)
	}
	writeElement(buf, miINT8, names)

	for i, s := range elems {
		for _, f := range fields {
			fv, ok := s.fields[f]
			if !ok {
				return fmt.Errorf("element %d lacks field %q", i, f)
			}
			sub, err := encodeMatrix("", fv)
			if err != nil {
				return fmt.Errorf("field %q: %w", f, err)
			}
			writeElement(buf, miMATRIX, sub)
		}
	}
	return nil
}
