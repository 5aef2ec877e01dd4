package matfile

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
)

// Decoder turns a file into a root struct whose fields are the top-level
// variables (or groups, for HDF5 containers).
type Decoder func(path string) (*Struct, error)

var (
	decodersMu sync.RWMutex
	decoders   = make(map[string]Decoder)
)

var hdf5Signature = []byte{0x89, 'H', 'D', 'F', '\r', '\n', 0x1a, '\n'}

// RegisterDecoder makes a decoder available for a container format.
// Packages register themselves from init, the way database/sql drivers do.
func RegisterDecoder(format string, d Decoder) {
	decodersMu.Lock()
	defer decodersMu.Unlock()
	if d == nil {
		panic("matfile: RegisterDecoder decoder is nil")
	}
	decoders[format] = d
}

func decoder(format string) (Decoder, bool) {
	decodersMu.RLock()
	defer decodersMu.RUnlock()
	d, ok := decoders[format]
	return d, ok
}

// Load reads a MAT file (v5, or v7.3 through a registered "hdf5" decoder)
// or a plain HDF5 file.
func Load(path string) (*Struct, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head := make([]byte, 520)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	head = head[:n]

	if isHDF5(head) {
		d, ok := decoder("hdf5")
		if !ok {
			return nil, fmt.Errorf("%s is an HDF5 container but no hdf5 decoder is registered", path)
		}
		root, err := d(path)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return root, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	root, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return root, nil
}

func isHDF5(head []byte) bool {
	if bytes.HasPrefix(head, hdf5Signature) {
		return true
	}
	// MAT v7.3 files carry a 512 byte user block before the superblock.
	return len(head) >= 512+len(hdf5Signature) && bytes.Equal(head[512:512+len(hdf5Signature)], hdf5Signature)
}
