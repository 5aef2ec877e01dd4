package nwbio

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/c2h5oh/datasize"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

// DefaultChunkSize bounds the bytes of one stored chunk, and with it the
// peak memory used while streaming a lazy dataset.
const DefaultChunkSize = 16 * datasize.MB

// Writer serializes a finished container to disk.
type Writer interface {
	Write(ctx context.Context, f *nwb.File, path string) error
}

// Options configure a backend.
type Options struct {
	ChunkSize datasize.ByteSize
}

// ChunkBytes is the chunk budget in bytes, DefaultChunkSize when unset.
func (o Options) ChunkBytes() int64 {
	if o.ChunkSize == 0 {
		return int64(DefaultChunkSize.Bytes())
	}
	return int64(o.ChunkSize.Bytes())
}

// Factory builds a writer for one backend.
type Factory func(Options) Writer

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Factory)
)

// Register makes a backend available by name. Backends that need cgo
// register themselves from their own package.
func Register(name string, fn Factory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if fn == nil {
		panic("nwbio: Register factory is nil")
	}
	if _, dup := backends[name]; dup {
		panic("nwbio: Register called twice for backend " + name)
	}
	backends[name] = fn
}

// New returns a writer for the named backend.
func New(name string, opts Options) (Writer, error) {
	backendsMu.RLock()
	fn, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (available: %v)", name, Backends())
	}
	return fn(opts), nil
}

// Backends lists the registered backend names.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("zarr", func(o Options) Writer { return &ZarrWriter{ChunkBytes: o.ChunkBytes()} })
}
