package audio

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/exp/mmap"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

const bytesPerSample = 4

// Mic is a memory-mapped .mic recording: little-endian float32 samples
// interleaved across channels, with no header. Rows are read on demand.
type Mic struct {
	r        *mmap.ReaderAt
	channels int
	samples  int
}

// OpenMic maps path. A trailing partial frame is ignored.
func OpenMic(path string, channels int) (*Mic, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("channels must be > 0, got: %d", channels)
	}
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to map %s: %w", path, err)
	}
	return &Mic{r: r, channels: channels, samples: r.Len() / (bytesPerSample * channels)}, nil
}

// Samples is the number of frames in the file.
func (m *Mic) Samples() int { return m.samples }

func (m *Mic) Close() error { return m.r.Close() }

// Data returns the first n frames as an n x channels float32 dataset.
func (m *Mic) Data(n int) nwb.Data {
	return &micData{mic: m, rows: min(n, m.samples)}
}

type micData struct {
	mic  *Mic
	rows int
}

func (d *micData) DType() nwb.DType { return nwb.Float32 }

func (d *micData) Shape() []int { return []int{d.rows, d.mic.channels} }

func (d *micData) Slice(start, end int) (any, error) {
	if start < 0 || end > d.rows || start > end {
		return nil, fmt.Errorf("rows [%d, %d) out of range for %d rows", start, end, d.rows)
	}
	frame := bytesPerSample * d.mic.channels
	buf := make([]byte, (end-start)*frame)
	if _, err := d.mic.r.ReadAt(buf, int64(start*frame)); err != nil {
		return nil, err
	}
	out := make([]float32, len(buf)/bytesPerSample)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*bytesPerSample:]))
	}
	return out, nil
}
