package ecephys

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/exp/mmap"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

const bytesPerSample = 2

// Raw is a memory-mapped file of little-endian int16 samples interleaved
// across channels.
type Raw struct {
	r        *mmap.ReaderAt
	channels int
	samples  int
	header   int
}

// OpenRaw maps path, skipping header bytes at the start. A trailing
// partial frame is ignored.
func OpenRaw(path string, channels, header int) (*Raw, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("channels must be > 0, got: %d", channels)
	}
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to map %s: %w", path, err)
	}
	if r.Len() < header {
		r.Close()
		return nil, fmt.Errorf("%s is shorter than its %d byte header", path, header)
	}
	return &Raw{r: r, channels: channels, samples: (r.Len() - header) / (bytesPerSample * channels), header: header}, nil
}

func (w *Raw) Samples() int  { return w.samples }
func (w *Raw) Channels() int { return w.channels }
func (w *Raw) Close() error  { return w.r.Close() }

// Data returns the first n frames as an n x channels int16 dataset.
func (w *Raw) Data(n int) nwb.Data {
	return &rawData{raw: w, rows: min(n, w.samples)}
}

type rawData struct {
	raw  *Raw
	rows int
}

func (d *rawData) DType() nwb.DType { return nwb.Int16 }

func (d *rawData) Shape() []int { return []int{d.rows, d.raw.channels} }

func (d *rawData) Slice(start, end int) (any, error) {
	if start < 0 || end > d.rows || start > end {
		return nil, fmt.Errorf("rows [%d, %d) out of range for %d rows", start, end, d.rows)
	}
	frame := bytesPerSample * d.raw.channels
	buf := make([]byte, (end-start)*frame)
	if _, err := d.raw.r.ReadAt(buf, int64(d.raw.header+start*frame)); err != nil {
		return nil, err
	}
	out := make([]int16, len(buf)/bytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[i*bytesPerSample:]))
	}
	return out, nil
}
